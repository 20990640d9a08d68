package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// BlobMetrics tracks media transfers to and from the blob store.
type BlobMetrics struct {
	Operations *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	BytesSent  prometheus.Counter
}

// NewBlobMetrics creates BlobMetrics and registers them with registry.
func NewBlobMetrics(registry prometheus.Registerer) (*BlobMetrics, error) {
	m := &BlobMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blob_operations_total",
			Help: "Blob store operations by backend, operation and status.",
		}, []string{"backend", "operation", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blob_operation_duration_seconds",
			Help:    "Duration of blob store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}, []string{"backend", "operation"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blob_bytes_uploaded_total",
			Help: "Total bytes uploaded to the blob store.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register blob metrics: %w", err)
	}
	return m, nil
}

// RecordOperation counts one operation and records its duration.
func (m *BlobMetrics) RecordOperation(backend, operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.Operations.WithLabelValues(backend, operation, status).Inc()
	m.Latency.WithLabelValues(backend, operation).Observe(seconds)
}

// AddBytes adds to the uploaded byte counter.
func (m *BlobMetrics) AddBytes(n int64) {
	if m != nil && n > 0 {
		m.BytesSent.Add(float64(n))
	}
}

// Collect implements the prometheus.Collector interface.
func (m *BlobMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Operations.Collect(ch)
	m.Latency.Collect(ch)
	ch <- m.BytesSent
}

// Describe implements the prometheus.Collector interface.
func (m *BlobMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Operations.Describe(ch)
	m.Latency.Describe(ch)
	ch <- m.BytesSent.Desc()
}
