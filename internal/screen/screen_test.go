package screen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/imageloader"
	"github.com/tphakala/fieldpin/internal/interaction"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/nodes"
	"github.com/tphakala/fieldpin/internal/notification"
	"github.com/tphakala/fieldpin/internal/testutil"
	"github.com/tphakala/fieldpin/internal/tracking"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const container = "engine_plate"

type fakeLoader struct {
	err   error
	calls int
}

func (l *fakeLoader) Load(_ context.Context, name string) (imageloader.ReferenceImage, error) {
	l.calls++
	if l.err != nil {
		return imageloader.ReferenceImage{}, l.err
	}
	return imageloader.ReferenceImage{Name: name, URL: "http://localhost/blobs/reference-images/" + name + ".png", Format: "png", Width: 640, Height: 480}, nil
}

type fixture struct {
	docs     *docstore.MemoryStore
	tracker  *tracking.ScriptedTracker
	scene    *nodes.Scene
	notify   *notification.Service
	messages <-chan *notification.Message
	loader   *fakeLoader
	intents  chan interaction.Intent
	settings conf.TrackingSettings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewDiscardLogger()
	f := &fixture{
		docs:     docstore.NewMemoryStore(log, nil),
		tracker:  &tracking.ScriptedTracker{Pose: geom.Identity},
		scene:    nodes.NewScene(),
		notify:   notification.NewService(16, log),
		loader:   &fakeLoader{},
		intents:  make(chan interaction.Intent, 8),
		settings: conf.TrackingSettings{PhysicalWidth: 0.3},
	}
	f.messages, _ = f.notify.Subscribe()
	t.Cleanup(func() {
		f.notify.Stop()
		f.docs.Close()
	})
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		Settings: &f.settings,
		Images:   f.loader,
		Tracker:  f.tracker,
		Docs:     f.docs,
		Renderer: f.scene,
		Notify:   f.notify,
		Log:      logger.NewDiscardLogger(),
		OnIntent: func(i interaction.Intent) { f.intents <- i },
	}
}

func (f *fixture) open(t *testing.T) *Screen {
	t.Helper()
	s, err := Open(t.Context(), container, f.deps())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func (f *fixture) seedAnnotation(t *testing.T, a model.Annotation) {
	t.Helper()
	data, err := model.Encode(a)
	require.NoError(t, err)
	require.NoError(t, f.docs.Set(t.Context(), model.CollectionAnnotations, docstore.Document{ID: a.ID, Partition: a.ContainerName, Data: data}))
}

func (f *fixture) seedProcedure(t *testing.T, p model.Procedure) {
	t.Helper()
	data, err := model.Encode(p)
	require.NoError(t, err)
	require.NoError(t, f.docs.Set(t.Context(), p.Kind.Collection(), docstore.Document{ID: p.ID, Partition: p.ContainerName, Data: data}))
}

func view(t *testing.T, s *Screen) View {
	t.Helper()
	v, err := s.View(t.Context())
	require.NoError(t, err)
	return v
}

// peek is view for polling conditions, which run off the test goroutine.
func peek(s *Screen) View {
	v, _ := s.View(context.Background())
	return v
}

func cached(s *Screen) int {
	var n int
	_ = s.call(context.Background(), func() { n = len(s.Annotations().All()) })
	return n
}

func keys(ns []nodes.Node) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Key)
	}
	return out
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, testutil.DefaultTestTimeout, 5*time.Millisecond, msg)
}

func TestOpenReturnsLoaderError(t *testing.T) {
	f := newFixture(t)
	f.loader.err = errors.Newf("download failed").
		Component("imageloader").
		Category(errors.CategoryImageFetch).
		Build()

	s, err := Open(t.Context(), container, f.deps())
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageFetch))
	assert.Equal(t, 1, f.loader.calls, "no retry")
	assert.Zero(t, f.tracker.Runs(), "tracking never starts")
}

func TestOpenFailsWhenTrackingFails(t *testing.T) {
	f := newFixture(t)
	f.tracker.FailRun = errors.NewStd("camera unavailable")

	_, err := Open(t.Context(), container, f.deps())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTracking))
}

func TestNodesAppearOnlyAfterDetection(t *testing.T) {
	f := newFixture(t)
	f.seedAnnotation(t, model.Annotation{ID: "a1", ContainerName: container, Text: "oil", Position: geom.Vec3{X: 0.1}})
	f.seedAnnotation(t, model.Annotation{ID: "b1", ContainerName: "other", Text: "fuel"})
	pos := geom.Vec3{X: 0.2, Z: 0.1}
	f.seedProcedure(t, model.Procedure{
		Kind: model.KindManual, ID: "p1", Name: "Replace filter", ContainerName: container,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Steps: []model.ProcedureStep{
			{Description: "open", Media: []model.Media{}},
			{Description: "swap", Position: &pos, Media: []model.Media{}},
		},
	})

	s := f.open(t)
	eventually(t, func() bool { return cached(s) == 1 }, "snapshot cached")
	v := view(t, s)
	assert.False(t, v.Detected)
	assert.Empty(t, v.Annotations)
	assert.Zero(t, f.scene.Len())

	f.tracker.Detect()
	eventually(t, func() bool {
		v := peek(s)
		return v.Detected && len(v.Annotations) == 1 && len(v.StepPins) == 1
	}, "cached entities are flushed on detection")

	v = view(t, s)
	assert.Equal(t, []string{"a1"}, keys(v.Annotations))
	assert.Equal(t, []string{model.StepPinID("p1", 1)}, keys(v.StepPins))

	// re-detection is not re-signaled
	anchorID := v.AnchorID
	f.tracker.Detect()
	assert.Equal(t, anchorID, view(t, s).AnchorID)
	attaches, _ := f.scene.Counts()
	assert.Equal(t, 2, attaches)
}

func TestTapCreatesThroughChangeFeed(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	outcome, _, err := s.Tap(t.Context(), tracking.ScreenPoint{X: 0.3, Y: 0.4})
	require.NoError(t, err)
	assert.Equal(t, interaction.OutcomePending, outcome)
	msg := testutil.Receive(t, f.messages, testutil.DefaultTestTimeout)
	assert.Equal(t, notification.KindDetectionPending, msg.Kind)

	f.tracker.Detect()
	eventually(t, func() bool { return peek(s).Detected }, "frame established")

	outcome, placement, err := s.Tap(t.Context(), tracking.ScreenPoint{X: 0.3, Y: 0.4})
	require.NoError(t, err)
	require.Equal(t, interaction.OutcomePlace, outcome)
	assert.True(t, geom.ApproxEqual(geom.Vec3{X: 0.3, Y: 0, Z: 0.4}, placement.Local, 1e-9))

	id, err := s.Create(t.Context(), placement, "check belt", "")
	require.NoError(t, err)

	eventually(t, func() bool {
		_, ok := f.scene.Attached(id)
		return ok
	}, "node attached from the feed")

	// tap the delete control and act on the intent
	ctrl, ok := f.scene.DeleteControl(id)
	require.True(t, ok)
	outcome, _, err = s.Tap(t.Context(), ctrl)
	require.NoError(t, err)
	assert.Equal(t, interaction.OutcomeIntent, outcome)
	intent := testutil.Receive(t, f.intents, testutil.DefaultTestTimeout)
	assert.Equal(t, interaction.ActionDelete, intent.Action)
	assert.Equal(t, id, intent.EntityID)

	require.NoError(t, s.Delete(t.Context(), intent.EntityID))
	eventually(t, func() bool { return f.scene.Len() == 0 }, "node removed from the feed")

	_, err = f.docs.Get(t.Context(), model.CollectionAnnotations, id)
	assert.True(t, errors.IsNotFound(err))
}

func TestPauseDropsFrameAndResumeRerenders(t *testing.T) {
	f := newFixture(t)
	f.seedAnnotation(t, model.Annotation{ID: "a1", ContainerName: container, Text: "oil"})
	s := f.open(t)

	f.tracker.Detect()
	eventually(t, func() bool { return len(peek(s).Annotations) == 1 }, "rendered")

	require.NoError(t, s.Pause(t.Context()))
	v := view(t, s)
	assert.False(t, v.Detected)
	assert.Empty(t, v.Annotations)
	assert.Zero(t, f.scene.Len())

	require.NoError(t, s.Resume(t.Context()))
	assert.Equal(t, 2, f.tracker.Runs())
	f.tracker.Detect()
	eventually(t, func() bool { return len(peek(s).Annotations) == 1 }, "rendered again")
}

func TestCreateAfterResumeNeedsFreshTap(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	f.tracker.Detect()
	eventually(t, func() bool { return peek(s).Detected }, "frame established")
	outcome, placement, err := s.Tap(t.Context(), tracking.ScreenPoint{X: 1, Y: 2})
	require.NoError(t, err)
	require.Equal(t, interaction.OutcomePlace, outcome)

	require.NoError(t, s.Pause(t.Context()))
	f.tracker.Pose = geom.Pose(geom.IdentityQuat, geom.Vec3{X: 5, Z: 5})
	require.NoError(t, s.Resume(t.Context()))
	f.tracker.Detect()
	eventually(t, func() bool { return peek(s).Detected }, "frame re-established")
	require.NotEqual(t, placement.AnchorID, view(t, s).AnchorID)

	_, err = s.Create(t.Context(), placement, "check belt", "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	docs, err := f.docs.Query(t.Context(), docstore.Query{Collection: model.CollectionAnnotations, Partition: container})
	require.NoError(t, err)
	assert.Empty(t, docs, "a placement from the old frame is never stored")

	_, placement, err = s.Tap(t.Context(), tracking.ScreenPoint{X: 6, Y: 7})
	require.NoError(t, err)
	assert.True(t, geom.ApproxEqual(geom.Vec3{X: 1, Y: 0, Z: 2}, placement.Local, 1e-9), "got %s", placement.Local)
	_, err = s.Create(t.Context(), placement, "check belt", "")
	require.NoError(t, err)
}

func TestStillLookingNotification(t *testing.T) {
	f := newFixture(t)
	f.settings.StillLookingAt = 20 * time.Millisecond
	f.open(t)

	msg := testutil.Receive(t, f.messages, testutil.DefaultTestTimeout)
	assert.Equal(t, notification.KindStillLooking, msg.Kind)
	assert.Equal(t, notification.LevelInfo, msg.Level)
	testutil.ExpectNone(t, f.messages)
}

func TestNoStillLookingAfterDetection(t *testing.T) {
	f := newFixture(t)
	f.settings.StillLookingAt = 200 * time.Millisecond
	f.tracker.DetectAfter = time.Millisecond
	s := f.open(t)

	eventually(t, func() bool { return peek(s).Detected }, "detected")
	select {
	case msg := <-f.messages:
		t.Fatalf("unexpected message %q", msg.Kind)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.seedAnnotation(t, model.Annotation{ID: "a1", ContainerName: container, Text: "oil"})
	s, err := Open(t.Context(), container, f.deps())
	require.NoError(t, err)

	f.tracker.Detect()
	eventually(t, func() bool { return f.scene.Len() == 1 }, "rendered")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, f.scene.Len())
	assert.Empty(t, s.Annotations().Container(), "subscription released")

	// writes after close reach the store without touching the closed screen
	f.seedAnnotation(t, model.Annotation{ID: "a2", ContainerName: container, Text: "belt"})
	_, err = s.View(t.Context())
	assert.Error(t, err)
}
