package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ImageLoaderMetrics contains all Prometheus metrics related to reference image loading.
type ImageLoaderMetrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	ImageDownloads   prometheus.Counter
	DownloadErrors   prometheus.Counter
	DownloadDuration prometheus.Histogram
}

// NewImageLoaderMetrics creates ImageLoaderMetrics and registers them with registry.
func NewImageLoaderMetrics(registry prometheus.Registerer) (*ImageLoaderMetrics, error) {
	m := &ImageLoaderMetrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_loader_cache_hits_total",
			Help: "Total number of reference image cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_loader_cache_misses_total",
			Help: "Total number of reference image cache misses.",
		}),
		ImageDownloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_loader_downloads_total",
			Help: "Total number of reference image downloads.",
		}),
		DownloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_loader_download_errors_total",
			Help: "Total number of reference image download or decode errors.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "image_loader_download_duration_seconds",
			Help:    "Duration of reference image downloads in seconds.",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register image loader metrics: %w", err)
	}
	return m, nil
}

// IncrementCacheHits increases the cache hit counter by one.
func (m *ImageLoaderMetrics) IncrementCacheHits() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

// IncrementCacheMisses increases the cache miss counter by one.
func (m *ImageLoaderMetrics) IncrementCacheMisses() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

// IncrementImageDownloads increases the image download counter by one.
func (m *ImageLoaderMetrics) IncrementImageDownloads() {
	if m != nil {
		m.ImageDownloads.Inc()
	}
}

// IncrementDownloadErrors increases the download error counter by one.
func (m *ImageLoaderMetrics) IncrementDownloadErrors() {
	if m != nil {
		m.DownloadErrors.Inc()
	}
}

// ObserveDownloadDuration records the duration of a download in seconds.
func (m *ImageLoaderMetrics) ObserveDownloadDuration(durationSeconds float64) {
	if m != nil {
		m.DownloadDuration.Observe(durationSeconds)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *ImageLoaderMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.CacheHits
	ch <- m.CacheMisses
	ch <- m.ImageDownloads
	ch <- m.DownloadErrors
	ch <- m.DownloadDuration
}

// Describe implements the prometheus.Collector interface.
func (m *ImageLoaderMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.CacheHits.Desc()
	ch <- m.CacheMisses.Desc()
	ch <- m.ImageDownloads.Desc()
	ch <- m.DownloadErrors.Desc()
	ch <- m.DownloadDuration.Desc()
}
