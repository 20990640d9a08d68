package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics tracks change events flowing from the document store into the
// entity caches and writes flowing out.
type SyncMetrics struct {
	EventsApplied    *prometheus.CounterVec
	MalformedSkipped *prometheus.CounterVec
	WriteFailures    *prometheus.CounterVec
	ActiveListeners  prometheus.Gauge
}

// NewSyncMetrics creates SyncMetrics and registers them with registry.
func NewSyncMetrics(registry prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_events_applied_total",
			Help: "Change events applied to entity caches, by collection and event type.",
		}, []string{"collection", "type"}),
		MalformedSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_malformed_skipped_total",
			Help: "Documents skipped because they failed to decode.",
		}, []string{"collection"}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_write_failures_total",
			Help: "Writes rejected by the document store.",
		}, []string{"collection", "operation"}),
		ActiveListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_active_listeners",
			Help: "Number of open document store listeners.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}
	return m, nil
}

// RecordEvent counts one applied change event.
func (m *SyncMetrics) RecordEvent(collection, eventType string) {
	if m != nil {
		m.EventsApplied.WithLabelValues(collection, eventType).Inc()
	}
}

// RecordMalformed counts one skipped document.
func (m *SyncMetrics) RecordMalformed(collection string) {
	if m != nil {
		m.MalformedSkipped.WithLabelValues(collection).Inc()
	}
}

// RecordWriteFailure counts one rejected write.
func (m *SyncMetrics) RecordWriteFailure(collection, operation string) {
	if m != nil {
		m.WriteFailures.WithLabelValues(collection, operation).Inc()
	}
}

// ListenerOpened increments the active listener gauge.
func (m *SyncMetrics) ListenerOpened() {
	if m != nil {
		m.ActiveListeners.Inc()
	}
}

// ListenerClosed decrements the active listener gauge.
func (m *SyncMetrics) ListenerClosed() {
	if m != nil {
		m.ActiveListeners.Dec()
	}
}

// Collect implements the prometheus.Collector interface.
func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	m.EventsApplied.Collect(ch)
	m.MalformedSkipped.Collect(ch)
	m.WriteFailures.Collect(ch)
	ch <- m.ActiveListeners
}

// Describe implements the prometheus.Collector interface.
func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.EventsApplied.Describe(ch)
	m.MalformedSkipped.Describe(ch)
	m.WriteFailures.Describe(ch)
	ch <- m.ActiveListeners.Desc()
}
