// Package observability provides Prometheus metrics for the FieldPin services.
// Sentry error telemetry lives in the errors package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry    *prometheus.Registry
	MQTT        *metrics.MQTTMetrics
	Sync        *metrics.SyncMetrics
	Blob        *metrics.BlobMetrics
	ImageLoader *metrics.ImageLoaderMetrics
}

// NewMetrics creates a new registry with every collector registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	syncMetrics, err := metrics.NewSyncMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	blobMetrics, err := metrics.NewBlobMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob metrics: %w", err)
	}

	imageLoaderMetrics, err := metrics.NewImageLoaderMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create image loader metrics: %w", err)
	}

	return &Metrics{
		registry:    registry,
		MQTT:        mqttMetrics,
		Sync:        syncMetrics,
		Blob:        blobMetrics,
		ImageLoader: imageLoaderMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler(log logger.Logger) http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{log: log},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// promErrorLogger adapts logger.Logger to promhttp.Logger.
type promErrorLogger struct {
	log logger.Logger
}

func (l promErrorLogger) Println(v ...any) {
	l.log.Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
