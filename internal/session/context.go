package session

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/notification"
)

const defaultStopTimeout = 5 * time.Second

// Context is the explicit per-screen state carrier. It is created when a
// screen opens and closed when it closes; nothing it owns outlives Close.
type Context struct {
	container string
	log       logger.Logger
	notify    *notification.Service
	loop      *Loop

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates a session context for one container. notify may be nil.
func New(parent context.Context, container string, log logger.Logger, notify *notification.Service) *Context {
	log = log.Module("session").With(logger.String("container", container))
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		container: container,
		log:       log,
		notify:    notify,
		loop:      NewLoop(log),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Container returns the container name the session is scoped to.
func (c *Context) Container() string { return c.container }

// Logger returns the session scoped logger.
func (c *Context) Logger() logger.Logger { return c.log }

// Loop returns the session loop.
func (c *Context) Loop() *Loop { return c.loop }

// Context returns a context cancelled when the session closes.
func (c *Context) Context() context.Context { return c.ctx }

// Post queues fn on the session loop.
func (c *Context) Post(fn func()) bool {
	return c.loop.Post(fn)
}

// Go runs work on a new goroutine with the session context and posts
// done(err) back onto the loop when it returns. done may be nil. If the
// session closes first, done is not called.
func (c *Context) Go(name string, work func(ctx context.Context) error, done func(error)) {
	c.spawn(c.ctx, name, work, done)
}

// GoDetached is Go for writes: work gets a context that closing the session
// does not cancel, so an in-flight write still lands. Close waits for it.
func (c *Context) GoDetached(name string, work func(ctx context.Context) error, done func(error)) {
	c.spawn(context.WithoutCancel(c.ctx), name, work, done)
}

func (c *Context) spawn(ctx context.Context, name string, work func(ctx context.Context) error, done func(error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		err := c.runWork(ctx, name, work)
		if done == nil {
			return
		}
		if !c.loop.Post(func() { done(err) }) {
			c.log.Debug("completion dropped, session closed", logger.String("task", name))
		}
	}()
}

func (c *Context) runWork(ctx context.Context, name string, work func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("session worker panicked",
				logger.String("task", name),
				logger.Any("panic", r))
			err = errWorkerPanicked(name)
		}
	}()
	return work(ctx)
}

// Report surfaces err to the user. Nil errors are ignored.
func (c *Context) Report(err error) {
	if err == nil {
		return
	}
	c.log.Warn("operation failed", logger.Error(err))
	if c.notify != nil {
		c.notify.PublishError(err)
	}
}

// Info shows an informational message to the user.
func (c *Context) Info(kind notification.Kind, title, body string) {
	if c.notify != nil {
		c.notify.Info(kind, title, body)
	}
}

// Close stops the loop, cancels workers started with Go and waits for every
// worker to return. Completions of workers still running are dropped. It must
// not be called from a task on the loop.
func (c *Context) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		err = c.loop.Stop(defaultStopTimeout)
		c.wg.Wait()
		c.log.Debug("session closed")
	})
	return err
}
