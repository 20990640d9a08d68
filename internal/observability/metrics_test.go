package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

func TestNewMetricsIndependentRegistries(t *testing.T) {
	t.Parallel()

	first, err := NewMetrics()
	require.NoError(t, err)
	second, err := NewMetrics()
	require.NoError(t, err)

	first.Sync.RecordEvent("annotations", "added")
	assert.InDelta(t, 1, testutil.ToFloat64(first.Sync.EventsApplied.WithLabelValues("annotations", "added")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(second.Sync.EventsApplied.WithLabelValues("annotations", "added")), 0)
}

func TestSyncMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Sync.RecordMalformed("procedures")
	m.Sync.RecordMalformed("procedures")
	m.Sync.RecordWriteFailure("annotations", metrics.OpSet)
	m.Sync.ListenerOpened()
	m.Sync.ListenerOpened()
	m.Sync.ListenerClosed()

	assert.InDelta(t, 2, testutil.ToFloat64(m.Sync.MalformedSkipped.WithLabelValues("procedures")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.WriteFailures.WithLabelValues("annotations", "set")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.ActiveListeners), 0)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.MQTT.SetConnected(true)
	m.MQTT.RecordPublish(512, 0.004)
	m.MQTT.RecordPublish(128, 0.002)
	m.MQTT.RecordError(metrics.MQTTOpPublish)
	m.MQTT.SetConnected(false)
	m.MQTT.RecordError(metrics.MQTTOpConnection)
	m.MQTT.RecordReconnect()

	assert.InDelta(t, 0, testutil.ToFloat64(m.MQTT.Connected), 0)
	assert.Positive(t, testutil.ToFloat64(m.MQTT.LastConnect))
	assert.InDelta(t, 2, testutil.ToFloat64(m.MQTT.Published), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.Errors.WithLabelValues(metrics.MQTTOpPublish)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.Errors.WithLabelValues(metrics.MQTTOpConnection)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.Reconnects), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.MQTT.PublishLatency))
}

func TestBlobMetricsStatusLabels(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Blob.RecordOperation("local", metrics.OpPut, nil, 0.01)
	m.Blob.RecordOperation("local", metrics.OpPut, errors.New("disk full"), 0.02)
	m.Blob.AddBytes(2048)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Blob.Operations.WithLabelValues("local", "put", metrics.StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Blob.Operations.WithLabelValues("local", "put", metrics.StatusError)), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(m.Blob.BytesSent), 0)
}

func TestNilCollectorsAreNoops(t *testing.T) {
	t.Parallel()

	var (
		s *metrics.SyncMetrics
		b *metrics.BlobMetrics
		q *metrics.MQTTMetrics
		i *metrics.ImageLoaderMetrics
	)
	assert.NotPanics(t, func() {
		s.RecordEvent("annotations", "added")
		s.ListenerOpened()
		b.RecordOperation("ftp", metrics.OpDelete, nil, 1)
		q.SetConnected(true)
		q.RecordPublish(10, 0.01)
		q.RecordError(metrics.MQTTOpPublish)
		i.IncrementCacheHits()
	})
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.MQTT.SetConnected(true)
	m.ImageLoader.IncrementCacheMisses()

	rec := httptest.NewRecorder()
	m.Handler(logger.NewDiscardLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "mqtt_connection_status 1"), "connection gauge missing")
	assert.Contains(t, body, "image_loader_cache_misses_total 1")
	assert.Contains(t, body, "go_goroutines")
}
