package docstore

import (
	"context"
	"sync"

	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// rawChange is a document mutation before it is classified for a listener.
type rawChange struct {
	id        string
	partition string
	data      []byte
	deleted   bool
}

// queued is one unit of work in a listener queue: either the initial snapshot
// or a batch of raw changes.
type queued struct {
	snapshot []Document
	changes  []rawChange
	initial  bool
}

// listener owns a delivery goroutine. Classification happens on that goroutine
// so the seen set needs no locking.
type listener struct {
	hub     *hub
	query   Query
	handler Handler

	mu      sync.Mutex
	queue   []queued
	ready   bool // snapshot queued
	stopped bool
	signal  chan struct{}

	seen map[string]struct{}
	stop func() bool // detaches the context hook
}

// hub fans document mutations out to listeners.
type hub struct {
	log     logger.Logger
	metrics *metrics.SyncMetrics

	mu        sync.Mutex
	listeners map[*listener]struct{}
	wg        sync.WaitGroup
	closed    bool
}

func newHub(log logger.Logger, m *metrics.SyncMetrics) *hub {
	return &hub{log: log, metrics: m, listeners: make(map[*listener]struct{})}
}

// listen registers a listener and queues snapshot() as its first batch.
// Mutations published between registration and the snapshot are queued after
// it and classified against it.
func (h *hub) listen(ctx context.Context, q Query, handler Handler, snapshot func() ([]Document, error)) (Registration, error) {
	l := &listener{
		hub:     h,
		query:   q,
		handler: handler,
		signal:  make(chan struct{}, 1),
		seen:    make(map[string]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errStoreClosed()
	}
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
	h.metrics.ListenerOpened()

	docs, err := snapshot()
	if err != nil {
		if h.detach(l) {
			h.metrics.ListenerClosed()
		}
		return nil, err
	}

	l.mu.Lock()
	l.queue = append([]queued{{snapshot: docs, initial: true}}, l.queue...)
	l.ready = true
	l.stop = context.AfterFunc(ctx, l.Remove)
	l.mu.Unlock()

	h.wg.Add(1)
	go l.run()
	l.wake()
	return l, nil
}

// publish queues changes of one collection to every matching listener.
func (h *hub) publish(collection string, changes ...rawChange) {
	h.mu.Lock()
	targets := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		if l.query.Collection == collection {
			targets = append(targets, l)
		}
	}
	h.mu.Unlock()

	for _, l := range targets {
		l.enqueue(queued{changes: changes})
	}
}

func (h *hub) detach(l *listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[l]; !ok {
		return false
	}
	delete(h.listeners, l)
	return true
}

// close removes every listener and waits for delivery goroutines to exit.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	ls := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		ls = append(ls, l)
	}
	h.mu.Unlock()

	for _, l := range ls {
		l.Remove()
	}
	h.wg.Wait()
}

func (l *listener) enqueue(item queued) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, item)
	ready := l.ready
	l.mu.Unlock()
	if ready {
		l.wake()
	}
}

func (l *listener) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Remove implements Registration.
func (l *listener) Remove() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	stop := l.stop
	l.mu.Unlock()

	if stop != nil {
		stop()
	}
	if l.hub.detach(l) {
		l.hub.metrics.ListenerClosed()
	}
	l.wake()
}

func (l *listener) run() {
	defer l.hub.wg.Done()
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
			item := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			batch := l.classify(item)
			if len(batch) == 0 && !item.initial {
				continue
			}
			l.deliver(batch)
		}
	}
}

// deliver calls the handler unless the listener was removed meanwhile.
func (l *listener) deliver(batch []Change) {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.hub.log.Error("listener handler panicked",
				logger.String("collection", l.query.Collection),
				logger.Any("panic", r))
		}
	}()
	l.handler(batch)
}

// classify turns a queued item into the changes this listener should see.
func (l *listener) classify(item queued) []Change {
	if item.initial {
		batch := make([]Change, 0, len(item.snapshot))
		for _, d := range item.snapshot {
			l.seen[d.ID] = struct{}{}
			batch = append(batch, Change{Type: Added, ID: d.ID, Data: d.Data})
		}
		return batch
	}

	var batch []Change
	for _, c := range item.changes {
		_, seen := l.seen[c.id]
		switch {
		case !c.deleted && l.query.matches(l.query.Collection, c.partition):
			typ := Added
			if seen {
				typ = Modified
			}
			l.seen[c.id] = struct{}{}
			batch = append(batch, Change{Type: typ, ID: c.id, Data: c.data})
		case seen:
			// Deleted, or moved out of this listener's partition
			delete(l.seen, c.id)
			batch = append(batch, Change{Type: Removed, ID: c.id})
		}
	}
	return batch
}
