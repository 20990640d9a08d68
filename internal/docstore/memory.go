package docstore

import (
	"context"
	"slices"
	"sync"

	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// MemoryStore is an in-process Store. Writes are applied and published to
// listeners synchronously.
type MemoryStore struct {
	hub *hub

	mu          sync.Mutex
	collections map[string]*memoryCollection
	writeErr    error
}

type memoryCollection struct {
	order []string
	docs  map[string]Document
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(log logger.Logger, m *metrics.SyncMetrics) *MemoryStore {
	return &MemoryStore{
		hub:         newHub(log, m),
		collections: make(map[string]*memoryCollection),
	}
}

// FailWrites makes every following Set and Delete fail with err until it is
// called again with nil. It simulates a backend rejecting writes.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *MemoryStore) collection(name string) *memoryCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]Document)}
		s.collections[name] = c
	}
	return c
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collection(collection).docs[id]
	if !ok {
		return Document{}, notFound(collection, id)
	}
	return copyDoc(doc), nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return writeFailed("set", collection, doc.ID, err)
	}
	doc = copyDoc(doc)

	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return writeFailed("set", collection, doc.ID, err)
	}
	c := s.collection(collection)
	if _, exists := c.docs[doc.ID]; !exists {
		c.order = append(c.order, doc.ID)
	}
	c.docs[doc.ID] = doc
	// Publishing under the lock keeps listener order identical to write order
	s.hub.publish(collection, rawChange{id: doc.ID, partition: doc.Partition, data: doc.Data})
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return writeFailed("delete", collection, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return writeFailed("delete", collection, id, s.writeErr)
	}
	c := s.collection(collection)
	doc, ok := c.docs[id]
	if !ok {
		return nil
	}
	delete(c.docs, id)
	c.order = slices.DeleteFunc(c.order, func(v string) bool { return v == id })
	s.hub.publish(collection, rawChange{id: id, partition: doc.Partition, deleted: true})
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query(q), nil
}

func (s *MemoryStore) query(q Query) []Document {
	c := s.collection(q.Collection)
	out := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		doc := c.docs[id]
		if q.matches(q.Collection, doc.Partition) {
			out = append(out, copyDoc(doc))
		}
	}
	return out
}

// Listen implements Store.
func (s *MemoryStore) Listen(ctx context.Context, q Query, handler Handler) (Registration, error) {
	return s.hub.listen(ctx, q, handler, func() ([]Document, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.query(q), nil
	})
}

// Close removes all listeners and waits for their delivery goroutines.
func (s *MemoryStore) Close() {
	s.hub.close()
}

func copyDoc(d Document) Document {
	d.Data = slices.Clone(d.Data)
	return d
}
