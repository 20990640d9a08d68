// Package metrics provides custom Prometheus metrics for the FieldPin components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT operations used as the error label.
const (
	MQTTOpConnect    = "connect"
	MQTTOpPublish    = "publish"
	MQTTOpConnection = "connection"
)

// MQTTMetrics tracks the change feed connection to the broker.
// A nil *MQTTMetrics is valid and records nothing.
type MQTTMetrics struct {
	Connected      prometheus.Gauge
	LastConnect    prometheus.Gauge
	Published      prometheus.Counter
	Received       prometheus.Counter
	Errors         *prometheus.CounterVec
	Reconnects     prometheus.Counter
	PayloadBytes   prometheus.Histogram
	PublishLatency prometheus.Histogram
}

// NewMQTTMetrics creates MQTTMetrics and registers them with registry.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connection_status",
			Help: "1 while connected to the sync broker, 0 otherwise.",
		}),
		LastConnect: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_last_connect_time_seconds",
			Help: "Unix time of the last successful broker connection.",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_messages_published_total",
			Help: "Change notices published to the broker.",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_messages_received_total",
			Help: "Messages received on subscribed topics.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_errors_total",
			Help: "Broker errors by operation.",
		}, []string{"operation"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_reconnect_attempts_total",
			Help: "Automatic reconnection attempts.",
		}),
		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_payload_size_bytes",
			Help:    "Size of published change notices.",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_latency_seconds",
			Help:    "Time until the broker acknowledged a publish.",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// SetConnected records the connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if !connected {
		m.Connected.Set(0)
		return
	}
	m.Connected.Set(1)
	m.LastConnect.SetToCurrentTime()
}

// RecordPublish counts one acknowledged publish.
func (m *MQTTMetrics) RecordPublish(payloadBytes int, seconds float64) {
	if m == nil {
		return
	}
	m.Published.Inc()
	m.PayloadBytes.Observe(float64(payloadBytes))
	m.PublishLatency.Observe(seconds)
}

// RecordReceived counts one received message.
func (m *MQTTMetrics) RecordReceived() {
	if m != nil {
		m.Received.Inc()
	}
}

// RecordError counts one failure of operation.
func (m *MQTTMetrics) RecordError(operation string) {
	if m != nil {
		m.Errors.WithLabelValues(operation).Inc()
	}
}

// RecordReconnect counts one reconnection attempt.
func (m *MQTTMetrics) RecordReconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

// Describe implements prometheus.Collector.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Connected.Describe(ch)
	m.LastConnect.Describe(ch)
	m.Published.Describe(ch)
	m.Received.Describe(ch)
	m.Errors.Describe(ch)
	m.Reconnects.Describe(ch)
	m.PayloadBytes.Describe(ch)
	m.PublishLatency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Connected.Collect(ch)
	m.LastConnect.Collect(ch)
	m.Published.Collect(ch)
	m.Received.Collect(ch)
	m.Errors.Collect(ch)
	m.Reconnects.Collect(ch)
	m.PayloadBytes.Collect(ch)
	m.PublishLatency.Collect(ch)
}
