package blobstore

import (
	"context"
	"os"
	"time"

	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// Metered records operation counts, latency and uploaded bytes for a Store.
type Metered struct {
	Store
	metrics *metrics.BlobMetrics
	log     logger.Logger
}

// NewMetered wraps store. A nil m disables recording.
func NewMetered(store Store, m *metrics.BlobMetrics, log logger.Logger) *Metered {
	return &Metered{Store: store, metrics: m, log: log}
}

// Put implements Store.
func (m *Metered) Put(ctx context.Context, category, localPath string) (string, error) {
	start := time.Now()
	url, err := m.Store.Put(ctx, category, localPath)
	m.metrics.RecordOperation(m.Name(), metrics.OpPut, err, time.Since(start).Seconds())
	if err != nil {
		m.log.Warn("blob upload failed",
			logger.String("backend", m.Name()),
			logger.String("category", category),
			logger.Error(err))
		return "", err
	}
	if info, statErr := os.Stat(localPath); statErr == nil {
		m.metrics.AddBytes(info.Size())
	}
	return url, nil
}

// Delete implements Store.
func (m *Metered) Delete(ctx context.Context, url string) error {
	start := time.Now()
	err := m.Store.Delete(ctx, url)
	m.metrics.RecordOperation(m.Name(), metrics.OpDelete, err, time.Since(start).Seconds())
	if err != nil {
		m.log.Warn("blob delete failed",
			logger.String("backend", m.Name()),
			logger.String("url", url),
			logger.Error(err))
	}
	return err
}
