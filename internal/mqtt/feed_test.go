package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/logger"
)

// noticeRecorder collects notices delivered to a handler.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []ChangeNotice
}

func (r *noticeRecorder) handle(n ChangeNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) snapshot() []ChangeNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeNotice(nil), r.notices...)
}

func newConnectedFeed(t *testing.T, broker *MemoryBroker, origin string) *Feed {
	t.Helper()
	c := broker.NewClient()
	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(c.Disconnect)
	return NewFeed(c, "fieldpin/", origin, logger.NewDiscardLogger())
}

func TestFeedTopic(t *testing.T) {
	t.Parallel()

	f := NewFeed(nil, "fieldpin/", "dev", logger.NewDiscardLogger())
	assert.Equal(t, "fieldpin/annotations/pump-a", f.Topic("annotations", "pump-a"))
	assert.Equal(t, "fieldpin/annotations/+", f.Topic("annotations", ""))
	assert.Equal(t, "fieldpin/procedures/line%2F3%2B%23", f.Topic("procedures", "line/3+#"))
}

func TestFeedDeliversRemoteNoticesOnly(t *testing.T) {
	t.Parallel()

	broker := NewMemoryBroker()
	deviceA := newConnectedFeed(t, broker, "device-a")
	deviceB := newConnectedFeed(t, broker, "device-b")

	var atA, atB noticeRecorder
	cancelA, err := deviceA.Subscribe(t.Context(), "annotations", "pump-a", atA.handle)
	require.NoError(t, err)
	defer cancelA()
	cancelB, err := deviceB.Subscribe(t.Context(), "annotations", "pump-a", atB.handle)
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, deviceA.Publish(t.Context(), ChangeNotice{
		Collection: "annotations",
		DocID:      "a1",
		Partition:  "pump-a",
		Op:         OpPut,
		Data:       json.RawMessage(`{"text":"hi"}`),
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}))

	assert.Empty(t, atA.snapshot(), "own notices must not loop back")
	got := atB.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "device-a", got[0].Origin)
	assert.Equal(t, OpPut, got[0].Op)
	assert.JSONEq(t, `{"text":"hi"}`, string(got[0].Data))
}

func TestFeedPartitionFiltering(t *testing.T) {
	t.Parallel()

	broker := NewMemoryBroker()
	publisher := newConnectedFeed(t, broker, "pub")
	receiver := newConnectedFeed(t, broker, "recv")

	var pumpA, all noticeRecorder
	cancel1, err := receiver.Subscribe(t.Context(), "annotations", "pump-a", pumpA.handle)
	require.NoError(t, err)
	defer cancel1()
	cancel2, err := receiver.Subscribe(t.Context(), "annotations", "", all.handle)
	require.NoError(t, err)
	defer cancel2()

	for _, p := range []string{"pump-a", "pump-b"} {
		require.NoError(t, publisher.Publish(t.Context(), ChangeNotice{Collection: "annotations", DocID: "x", Partition: p, Op: OpDelete}))
	}
	require.NoError(t, publisher.Publish(t.Context(), ChangeNotice{Collection: "procedures", DocID: "y", Partition: "pump-a", Op: OpDelete}))

	assert.Len(t, pumpA.snapshot(), 1)
	assert.Len(t, all.snapshot(), 2)
}

func TestFeedSharedSubscriptionCancel(t *testing.T) {
	t.Parallel()

	broker := NewMemoryBroker()
	publisher := newConnectedFeed(t, broker, "pub")
	receiver := newConnectedFeed(t, broker, "recv")

	var first, second noticeRecorder
	cancelFirst, err := receiver.Subscribe(t.Context(), "annotations", "c", first.handle)
	require.NoError(t, err)
	cancelSecond, err := receiver.Subscribe(t.Context(), "annotations", "c", second.handle)
	require.NoError(t, err)

	notice := ChangeNotice{Collection: "annotations", DocID: "a", Partition: "c", Op: OpPut}
	require.NoError(t, publisher.Publish(t.Context(), notice))

	cancelFirst()
	cancelFirst() // idempotent
	require.NoError(t, publisher.Publish(t.Context(), notice))

	cancelSecond()
	require.NoError(t, publisher.Publish(t.Context(), notice))

	assert.Len(t, first.snapshot(), 1)
	assert.Len(t, second.snapshot(), 2)
}

func TestFeedDropsUndecodablePayload(t *testing.T) {
	t.Parallel()

	broker := NewMemoryBroker()
	receiver := newConnectedFeed(t, broker, "recv")
	raw := broker.NewClient()
	require.NoError(t, raw.Connect(t.Context()))

	var rec noticeRecorder
	cancel, err := receiver.Subscribe(t.Context(), "annotations", "c", rec.handle)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, raw.Publish(t.Context(), "fieldpin/annotations/c", []byte("not json")))
	assert.Empty(t, rec.snapshot())
}

func TestTopicMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/+/c", "a/x/c", true},
		{"a/+", "a/x/c", false},
		{"a/#", "a/x/c", true},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TopicMatches(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}

func TestMemoryClientPublishRequiresConnect(t *testing.T) {
	t.Parallel()

	c := NewMemoryBroker().NewClient()
	require.Error(t, c.Publish(t.Context(), "fieldpin/test", []byte("x")))
}
