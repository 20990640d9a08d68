// Package livesync keeps a typed, container-scoped cache of one backing store
// collection in step with its change feed. Decoded events are applied on the
// session loop, where the cache lives.
package livesync

import (
	"context"
	"sync"

	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// EventType classifies an entity event.
type EventType string

const (
	Added    EventType = "added"
	Modified EventType = "modified"
	Removed  EventType = "removed"
)

// Event is one entity change. Entity is nil for Removed.
type Event[T any] struct {
	Type   EventType
	ID     string
	Entity *T
}

// Decoder turns a document into an entity. It must fail closed.
type Decoder[T any] func(id string, data []byte) (T, error)

// Poster queues a task on the session loop and reports whether it was accepted.
type Poster func(func()) bool

// ErrAlreadySubscribed is returned when Subscribe names another partition
// while a subscription is open.
var ErrAlreadySubscribed = errors.NewStd("already subscribed to another container")

// Collection is the cache of one collection for one partition. Subscribe and
// Unsubscribe are safe from any goroutine; the cache accessors and the event
// handler belong to the loop behind post.
type Collection[T any] struct {
	store      docstore.Store
	collection string
	decode     Decoder[T]
	post       Poster
	log        logger.Logger
	metrics    *metrics.SyncMetrics

	mu        sync.Mutex
	reg       docstore.Registration
	partition string
	gen       uint64

	// loop owned
	cache    map[string]T
	order    []string
	cacheGen uint64
}

// NewCollection creates an unsubscribed collection cache.
func NewCollection[T any](store docstore.Store, collection string, decode Decoder[T], post Poster, log logger.Logger, m *metrics.SyncMetrics) *Collection[T] {
	return &Collection[T]{
		store:      store,
		collection: collection,
		decode:     decode,
		post:       post,
		log:        log.With(logger.String("collection", collection)),
		metrics:    m,
		cache:      make(map[string]T),
	}
}

// Subscribe opens the live subscription for partition and delivers every
// batch to handler on the loop, starting with the current snapshot. Calling it
// again with the same partition is a no-op.
func (c *Collection[T]) Subscribe(ctx context.Context, partition string, handler func([]Event[T])) error {
	if partition == "" {
		return errors.Newf("empty container name").
			Component("livesync").
			Category(errors.CategoryValidation).
			Context("collection", c.collection).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reg != nil {
		if c.partition == partition {
			return nil
		}
		return errors.New(ErrAlreadySubscribed).
			Component("livesync").
			Category(errors.CategoryConflict).
			Context("collection", c.collection).
			Context("subscribed", c.partition).
			Context("requested", partition).
			Build()
	}

	c.gen++
	gen := c.gen
	q := docstore.Query{Collection: c.collection, Partition: partition}
	reg, err := c.store.Listen(ctx, q, func(changes []docstore.Change) {
		decoded := c.decodeBatch(changes)
		c.post(func() { c.apply(gen, decoded, handler) })
	})
	if err != nil {
		return err
	}
	c.reg = reg
	c.partition = partition

	c.log.Debug("subscribed", logger.String("container", partition))
	return nil
}

// Unsubscribe removes the subscription. Batches already queued on the loop
// are suppressed. It is idempotent and does not wait for in-flight writes.
func (c *Collection[T]) Unsubscribe() {
	c.mu.Lock()
	reg := c.reg
	c.reg = nil
	c.partition = ""
	c.gen++
	c.mu.Unlock()

	if reg != nil {
		reg.Remove()
		c.log.Debug("unsubscribed")
	}
}

// Partition returns the subscribed partition, or "".
func (c *Collection[T]) Partition() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partition
}

func (c *Collection[T]) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.reg != nil
}

// decodedChange is a document change after decoding, before it meets the cache.
type decodedChange[T any] struct {
	typ    docstore.ChangeType
	id     string
	entity T
	err    error
}

func (c *Collection[T]) decodeBatch(changes []docstore.Change) []decodedChange[T] {
	out := make([]decodedChange[T], 0, len(changes))
	for _, ch := range changes {
		d := decodedChange[T]{typ: ch.Type, id: ch.ID}
		if ch.Type != docstore.Removed {
			d.entity, d.err = c.decode(ch.ID, ch.Data)
		}
		out = append(out, d)
	}
	return out
}

// apply runs on the loop.
func (c *Collection[T]) apply(gen uint64, batch []decodedChange[T], handler func([]Event[T])) {
	if !c.current(gen) {
		return
	}
	if c.cacheGen != gen {
		clear(c.cache)
		c.order = c.order[:0]
		c.cacheGen = gen
	}

	events := make([]Event[T], 0, len(batch))
	for _, d := range batch {
		if d.err != nil {
			// Skip this id only; the rest of the batch still applies
			c.metrics.RecordMalformed(c.collection)
			c.log.Warn("skipping malformed document",
				logger.String("id", d.id),
				logger.Error(d.err))
			continue
		}

		var ev Event[T]
		switch d.typ {
		case docstore.Removed:
			if _, ok := c.cache[d.id]; ok {
				delete(c.cache, d.id)
				c.dropOrder(d.id)
			}
			ev = Event[T]{Type: Removed, ID: d.id}
		default:
			typ := Added
			if _, ok := c.cache[d.id]; ok {
				typ = Modified
			} else {
				// A Modified whose Added was skipped as malformed lands here
				c.order = append(c.order, d.id)
			}
			c.cache[d.id] = d.entity
			entity := d.entity
			ev = Event[T]{Type: typ, ID: d.id, Entity: &entity}
		}
		c.metrics.RecordEvent(c.collection, string(ev.Type))
		events = append(events, ev)
	}

	if len(events) > 0 || len(batch) == 0 {
		handler(events)
	}
}

func (c *Collection[T]) dropOrder(id string) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Get returns the cached entity. Loop only.
func (c *Collection[T]) Get(id string) (T, bool) {
	v, ok := c.cache[id]
	return v, ok
}

// All returns the cached entities in the order they were first seen. Loop only.
func (c *Collection[T]) All() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.cache[id])
	}
	return out
}

// Len returns the cache size. Loop only.
func (c *Collection[T]) Len() int {
	return len(c.cache)
}
