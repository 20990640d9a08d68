// Package session provides the per-screen sequencing context. Every callback
// that touches screen state (tracking events, change feed batches, gestures,
// I/O completions) runs as a task on one Loop, so that state needs no locks.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

// LoopStats holds counters for a loop.
type LoopStats struct {
	TasksPosted   uint64
	TasksRun      uint64
	TasksRejected uint64
	TaskPanics    uint64
}

// Loop runs posted tasks one at a time, in posting order, on a single goroutine.
// The queue is unbounded so posting never blocks and never drops while the
// loop is running.
type Loop struct {
	log logger.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	signal  chan struct{}
	done    chan struct{}

	running atomic.Bool
	stats   LoopStats
}

// NewLoop starts a loop.
func NewLoop(log logger.Logger) *Loop {
	l := &Loop{
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	l.running.Store(true)
	go l.run()
	return l
}

// Post queues fn. It returns false, without running fn, once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		atomic.AddUint64(&l.stats.TasksRejected, 1)
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	atomic.AddUint64(&l.stats.TasksPosted, 1)

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from a task on the same loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return errLoopStopped()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run the task just before stopping
		select {
		case <-finished:
			return nil
		default:
			return errLoopStopped()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.signal {
		for {
			l.mu.Lock()
			if l.stopped {
				l.mu.Unlock()
				return
			}
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.execute(fn)
		}
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&l.stats.TaskPanics, 1)
			l.log.Error("session task panicked", logger.Any("panic", r))
		}
	}()
	fn()
	atomic.AddUint64(&l.stats.TasksRun, 1)
}

// Stop discards pending tasks and waits up to timeout for the running task to
// return. It must not be called from a task on the loop.
func (l *Loop) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	pending := len(l.queue)
	l.queue = nil
	l.mu.Unlock()
	l.running.Store(false)

	select {
	case l.signal <- struct{}{}:
	default:
	}

	if pending > 0 {
		l.log.Debug("session loop stopped with pending tasks", logger.Int("pending", pending))
	}

	select {
	case <-l.done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("session loop stop timeout exceeded").
			Component("session").
			Category(errors.CategoryTimeout).
			Context("timeout", timeout.String()).
			Build()
	}
}

// Running reports whether the loop still accepts tasks.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		TasksPosted:   atomic.LoadUint64(&l.stats.TasksPosted),
		TasksRun:      atomic.LoadUint64(&l.stats.TasksRun),
		TasksRejected: atomic.LoadUint64(&l.stats.TasksRejected),
		TaskPanics:    atomic.LoadUint64(&l.stats.TaskPanics),
	}
}

// ErrLoopStopped is returned by Call when the loop no longer runs tasks.
var ErrLoopStopped = errors.NewStd("session loop stopped")

func errLoopStopped() error {
	return errors.New(ErrLoopStopped).
		Component("session").
		Category(errors.CategoryState).
		Build()
}

func errWorkerPanicked(task string) error {
	return errors.Newf("session worker %s panicked", task).
		Component("session").
		Category(errors.CategoryState).
		Context("task", task).
		Build()
}
