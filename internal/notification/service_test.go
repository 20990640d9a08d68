package notification

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPusher struct {
	mu       sync.Mutex
	minLevel Level
	sent     chan *Message
	err      error
}

func newRecordingPusher(minLevel Level) *recordingPusher {
	return &recordingPusher{minLevel: minLevel, sent: make(chan *Message, 8)}
}

func (p *recordingPusher) Name() string              { return "recording" }
func (p *recordingPusher) Accepts(msg *Message) bool { return msg.Level.rank() >= p.minLevel.rank() }
func (p *recordingPusher) Send(_ context.Context, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent <- msg
	return p.err
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	s := NewService(4, logger.NewDiscardLogger())
	defer s.Stop()

	ch1, _ := s.Subscribe()
	ch2, _ := s.Subscribe()

	s.Info(KindStillLooking, "Still looking", "Point the camera at the plate")

	m1 := testutil.Receive(t, ch1, testutil.ShortTestTimeout)
	m2 := testutil.Receive(t, ch2, testutil.ShortTestTimeout)
	assert.Equal(t, KindStillLooking, m1.Kind)
	assert.Equal(t, m1.ID, m2.ID)
	assert.NotSame(t, m1, m2, "each subscriber gets its own copy")
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	s := NewService(1, logger.NewDiscardLogger())
	defer s.Stop()

	ch, _ := s.Subscribe()
	s.Info(KindGeneral, "first", "")
	s.Info(KindGeneral, "second", "")

	msg := testutil.Receive(t, ch, testutil.ShortTestTimeout)
	assert.Equal(t, "first", msg.Title)
	testutil.ExpectNone(t, ch)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewService(4, logger.NewDiscardLogger())
	defer s.Stop()

	ch, ctx := s.Subscribe()
	s.Unsubscribe(ch)
	require.Error(t, ctx.Err())

	s.Info(KindGeneral, "ignored", "")
	testutil.ExpectNone(t, ch)
}

func TestStopCancelsSubscriptions(t *testing.T) {
	s := NewService(4, logger.NewDiscardLogger())
	_, ctx := s.Subscribe()
	s.Stop()
	s.Stop()
	require.Error(t, ctx.Err())

	// Publishing after Stop is a no-op
	s.Info(KindGeneral, "late", "")
}

func TestPushForwardingHonorsLevel(t *testing.T) {
	pusher := newRecordingPusher(LevelError)
	s := NewService(4, logger.NewDiscardLogger(), pusher)
	defer s.Stop()

	s.Info(KindGeneral, "info only", "")
	s.PublishError(errors.Newf("disk full").
		Component("blobstore").
		Category(errors.CategoryMediaTransfer).
		Build())

	msg := testutil.Receive(t, pusher.sent, testutil.DefaultTestTimeout)
	assert.Equal(t, KindMediaTransfer, msg.Kind)
	assert.Equal(t, LevelError, msg.Level)
	assert.Equal(t, "blobstore", msg.Component)
	testutil.ExpectNone(t, pusher.sent)
}

func TestPushFailureDoesNotAffectSubscribers(t *testing.T) {
	pusher := newRecordingPusher(LevelInfo)
	pusher.err = errors.NewStd("unreachable")
	s := NewService(4, logger.NewDiscardLogger(), pusher)
	defer s.Stop()

	ch, _ := s.Subscribe()
	s.Info(KindGeneral, "hello", "")

	testutil.Receive(t, pusher.sent, testutil.DefaultTestTimeout)
	msg := testutil.Receive(t, ch, testutil.ShortTestTimeout)
	assert.Equal(t, "hello", msg.Title)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  Kind
		level Level
	}{
		{"detection pending", errors.DetectionPending("create annotation"), KindDetectionPending, LevelInfo},
		{"sync write", errors.Newf("x").Category(errors.CategorySyncWrite).Build(), KindSyncWrite, LevelError},
		{"media", errors.Newf("x").Category(errors.CategoryMediaTransfer).Build(), KindMediaTransfer, LevelError},
		{"image fetch", errors.Newf("x").Category(errors.CategoryImageFetch).Build(), KindImageLoad, LevelError},
		{"image decode", errors.Newf("x").Category(errors.CategoryImageDecode).Build(), KindImageLoad, LevelError},
		{"plain", errors.NewStd("x"), KindGeneral, LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FromError(tt.err)
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, tt.level, msg.Level)
			assert.NotEmpty(t, msg.ID)
			assert.NotEmpty(t, msg.Title)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelWarning, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelError, ParseLevel(""))
}

func TestNewPushersFromSettings(t *testing.T) {
	var settings conf.NotificationSettings

	pushers, err := NewPushersFromSettings(&settings)
	require.NoError(t, err)
	assert.Empty(t, pushers)

	settings.Push.Enabled = true
	_, err = NewPushersFromSettings(&settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	settings.Push.URLs = []string{"definitely-not-a-service://token@host"}
	_, err = NewPushersFromSettings(&settings)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token")
}
