package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/notification"
	"github.com/tphakala/fieldpin/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(logger.NewDiscardLogger())
	t.Cleanup(func() { require.NoError(t, l.Stop(time.Second)) })
	return l
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := newTestLoop(t)

	var got []int
	for i := range 100 {
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(t.Context(), func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	require.Eventually(t, func() bool { return l.Stats().TasksRun == 101 }, time.Second, time.Millisecond)
}

func TestLoopSerializesConcurrentPosters(t *testing.T) {
	l := newTestLoop(t)

	var inTask atomic.Int32
	var overlaps atomic.Int32
	done := make(chan struct{}, 50)
	for range 50 {
		go l.Post(func() {
			if inTask.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			inTask.Add(-1)
			done <- struct{}{}
		})
	}
	for range 50 {
		testutil.Receive(t, done, testutil.DefaultTestTimeout)
	}
	assert.Zero(t, overlaps.Load())
}

func TestLoopPostAfterStop(t *testing.T) {
	l := NewLoop(logger.NewDiscardLogger())
	require.NoError(t, l.Stop(time.Second))
	require.NoError(t, l.Stop(time.Second))

	assert.False(t, l.Post(func() { t.Error("task ran after stop") }))
	assert.False(t, l.Running())
	assert.Equal(t, uint64(1), l.Stats().TasksRejected)

	err := l.Call(t.Context(), func() {})
	require.ErrorIs(t, err, ErrLoopStopped)
}

func TestLoopStopTimesOutOnBlockedTask(t *testing.T) {
	l := NewLoop(logger.NewDiscardLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	l.Post(func() {
		close(started)
		<-release
	})
	testutil.Receive(t, started, testutil.DefaultTestTimeout)

	err := l.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))

	close(release)
	testutil.Receive(t, l.done, testutil.DefaultTestTimeout)
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	l := newTestLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Call(t.Context(), func() { ran = true }))
	assert.True(t, ran)
	assert.Equal(t, uint64(1), l.Stats().TaskPanics)
}

func TestCallHonorsContext(t *testing.T) {
	l := newTestLoop(t)

	release := make(chan struct{})
	l.Post(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func newTestContext(t *testing.T, notify *notification.Service) *Context {
	t.Helper()
	c := New(t.Context(), "engine_plate", logger.NewDiscardLogger(), notify)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestGoPostsCompletionOntoLoop(t *testing.T) {
	c := newTestContext(t, nil)
	assert.Equal(t, "engine_plate", c.Container())

	results := make(chan error, 1)
	c.Go("fetch", func(ctx context.Context) error {
		return errors.NewStd("fetch failed")
	}, func(err error) { results <- err })

	err := testutil.Receive(t, results, testutil.DefaultTestTimeout)
	require.EqualError(t, err, "fetch failed")
}

func TestGoWorkerPanicBecomesError(t *testing.T) {
	c := newTestContext(t, nil)

	results := make(chan error, 1)
	c.Go("explode", func(context.Context) error { panic("boom") }, func(err error) { results <- err })

	err := testutil.Receive(t, results, testutil.DefaultTestTimeout)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestCloseCancelsWorkersAndDropsCompletion(t *testing.T) {
	c := New(t.Context(), "engine_plate", logger.NewDiscardLogger(), nil)

	started := make(chan struct{})
	var completed atomic.Bool
	c.Go("wait", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, func(error) { completed.Store(true) })

	testutil.WaitForChannel(t, started, testutil.DefaultTestTimeout, "worker did not start")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.False(t, completed.Load())
	assert.False(t, c.Post(func() {}))

	// Workers started after Close never run
	c.Go("late", func(context.Context) error {
		t.Error("worker ran after close")
		return nil
	}, nil)
}

func TestGoDetachedSurvivesClose(t *testing.T) {
	c := New(t.Context(), "engine_plate", logger.NewDiscardLogger(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	c.GoDetached("write", func(ctx context.Context) error {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return nil
	}, nil)

	testutil.WaitForChannel(t, started, testutil.DefaultTestTimeout, "writer did not start")
	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	close(release)
	testutil.WaitForChannel(t, closed, testutil.DefaultTestTimeout, "close did not return")
	assert.False(t, sawCancel.Load())
}

func TestReportPublishesNotification(t *testing.T) {
	notify := notification.NewService(4, logger.NewDiscardLogger())
	defer notify.Stop()
	ch, _ := notify.Subscribe()

	c := newTestContext(t, notify)
	c.Report(nil)
	c.Report(errors.DetectionPending("create annotation"))

	msg := testutil.Receive(t, ch, testutil.ShortTestTimeout)
	assert.Equal(t, notification.KindDetectionPending, msg.Kind)
	testutil.ExpectNone(t, ch)
}
