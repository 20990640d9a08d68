package blobstore

import (
	"context"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// New creates the configured backend wrapped in a Metered store.
func New(ctx context.Context, settings *conf.BlobStoreSettings, m *metrics.BlobMetrics, log logger.Logger) (*Metered, error) {
	log = log.Module("blobstore")

	var (
		store Store
		err   error
	)
	switch settings.Backend {
	case conf.BlobBackendLocal, "":
		store, err = NewLocalStore(settings.Local.Path, settings.BaseURL, log)
	case conf.BlobBackendSFTP:
		store, err = NewSFTPStore(settings.SFTP, settings.BaseURL, log)
	case conf.BlobBackendFTP:
		store, err = NewFTPStore(settings.FTP, settings.BaseURL, log)
	case conf.BlobBackendDrive:
		store, err = NewDriveStore(ctx, settings.Drive, settings.BaseURL, log)
	default:
		err = errors.Newf("unknown blob store backend %q", settings.Backend).
			Component("blobstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	log.Info("blob store ready", logger.String("backend", store.Name()))
	return NewMetered(store, m, log), nil
}
