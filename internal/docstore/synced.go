package docstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tphakala/fieldpin/internal/datastore/entities"
	"github.com/tphakala/fieldpin/internal/datastore/repository"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/mqtt"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// SyncedStore persists documents through a DocumentRepository and exchanges
// change notices with other devices over an MQTT feed. Without a feed it is a
// single-device persistent store.
type SyncedStore struct {
	repo    repository.DocumentRepository
	feed    *mqtt.Feed
	hub     *hub
	log     logger.Logger
	metrics *metrics.SyncMetrics

	// serializes write+publish so listeners observe local writes in order
	writeMu sync.Mutex

	mu      sync.Mutex
	cancels []func()
}

// NewSyncedStore creates a store on repo. feed may be nil.
func NewSyncedStore(repo repository.DocumentRepository, feed *mqtt.Feed, log logger.Logger, m *metrics.SyncMetrics) *SyncedStore {
	return &SyncedStore{
		repo:    repo,
		feed:    feed,
		hub:     newHub(log, m),
		log:     log,
		metrics: m,
	}
}

// Start subscribes to remote notices for the given collections.
func (s *SyncedStore) Start(ctx context.Context, collections ...string) error {
	if s.feed == nil {
		return nil
	}
	for _, collection := range collections {
		cancel, err := s.feed.Subscribe(ctx, collection, "", s.applyRemote)
		if err != nil {
			s.stopFeed()
			return errors.New(err).
				Component("docstore").
				Category(errors.CategoryMQTTConnect).
				Context("collection", collection).
				Build()
		}
		s.mu.Lock()
		s.cancels = append(s.cancels, cancel)
		s.mu.Unlock()
	}
	s.log.Info("listening for remote changes", logger.Strings("collections", collections), logger.String("origin", s.feed.Origin()))
	return nil
}

// Close stops remote delivery, removes all listeners and waits for their goroutines.
func (s *SyncedStore) Close() {
	s.stopFeed()
	s.hub.close()
}

func (s *SyncedStore) stopFeed() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Get implements Store.
func (s *SyncedStore) Get(ctx context.Context, collection, id string) (Document, error) {
	doc, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return Document{}, notFound(collection, id)
		}
		return Document{}, err
	}
	return fromEntity(doc), nil
}

// Set implements Store.
func (s *SyncedStore) Set(ctx context.Context, collection string, doc Document) error {
	entity := &entities.Document{
		Collection:   collection,
		DocID:        doc.ID,
		PartitionKey: doc.Partition,
		Data:         string(doc.Data),
	}
	if s.feed != nil {
		entity.Origin = s.feed.Origin()
	}

	s.writeMu.Lock()
	if err := s.repo.Put(ctx, entity); err != nil {
		s.writeMu.Unlock()
		s.metrics.RecordWriteFailure(collection, metrics.OpSet)
		return writeFailed("set", collection, doc.ID, err)
	}
	s.hub.publish(collection, rawChange{id: doc.ID, partition: doc.Partition, data: []byte(entity.Data)})
	s.writeMu.Unlock()

	s.announce(ctx, mqtt.ChangeNotice{
		Collection: collection,
		DocID:      doc.ID,
		Partition:  doc.Partition,
		Op:         mqtt.OpPut,
		Data:       json.RawMessage(entity.Data),
		Version:    entity.Version,
		UpdatedAt:  entity.UpdatedAt,
	})
	return nil
}

// Delete implements Store.
func (s *SyncedStore) Delete(ctx context.Context, collection, id string) error {
	partition, found, err := s.deleteLocal(ctx, collection, id)
	if err != nil {
		s.metrics.RecordWriteFailure(collection, metrics.OpDelete)
		return writeFailed("delete", collection, id, err)
	}
	if !found {
		return nil
	}

	s.announce(ctx, mqtt.ChangeNotice{
		Collection: collection,
		DocID:      id,
		Partition:  partition,
		Op:         mqtt.OpDelete,
		UpdatedAt:  time.Now().UTC(),
	})
	return nil
}

// deleteLocal removes a document and notifies listeners. It returns the
// partition of the removed document and whether there was one.
func (s *SyncedStore) deleteLocal(ctx context.Context, collection, id string) (partition string, found bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.repo.Get(ctx, collection, id)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if err := s.repo.Delete(ctx, collection, id); err != nil && !errors.Is(err, repository.ErrDocumentNotFound) {
		return "", false, err
	}
	s.hub.publish(collection, rawChange{id: id, partition: existing.PartitionKey, deleted: true})
	return existing.PartitionKey, true, nil
}

// announce publishes a notice for a committed local write. A failed publish
// does not undo the write; peers catch up on their next snapshot.
func (s *SyncedStore) announce(ctx context.Context, n mqtt.ChangeNotice) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, n); err != nil {
		s.metrics.RecordWriteFailure(n.Collection, metrics.OpPublish)
		s.log.Warn("failed to publish change notice",
			logger.String("collection", n.Collection),
			logger.String("id", n.DocID),
			logger.Error(err))
	}
}

// applyRemote stores a notice from another device and forwards it to listeners.
func (s *SyncedStore) applyRemote(n mqtt.ChangeNotice) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	log := s.log.With(logger.String("collection", n.Collection), logger.String("id", n.DocID), logger.String("origin", n.Origin))

	switch n.Op {
	case mqtt.OpPut:
		err := s.repo.Apply(ctx, &entities.Document{
			Collection:   n.Collection,
			DocID:        n.DocID,
			PartitionKey: n.Partition,
			Data:         string(n.Data),
			Version:      n.Version,
			Origin:       n.Origin,
			UpdatedAt:    n.UpdatedAt,
		})
		if errors.Is(err, repository.ErrStaleRevision) {
			log.Debug("ignoring stale remote revision")
			return
		}
		if err != nil {
			log.Error("failed to apply remote change", logger.Error(err))
			return
		}
		s.hub.publish(n.Collection, rawChange{id: n.DocID, partition: n.Partition, data: []byte(n.Data)})

	case mqtt.OpDelete:
		existing, err := s.repo.Get(ctx, n.Collection, n.DocID)
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return
		}
		if err != nil {
			log.Error("failed to apply remote delete", logger.Error(err))
			return
		}
		if existing.UpdatedAt.After(n.UpdatedAt) {
			log.Debug("ignoring remote delete older than local revision")
			return
		}
		if err := s.repo.Delete(ctx, n.Collection, n.DocID); err != nil && !errors.Is(err, repository.ErrDocumentNotFound) {
			log.Error("failed to apply remote delete", logger.Error(err))
			return
		}
		s.hub.publish(n.Collection, rawChange{id: n.DocID, partition: existing.PartitionKey, deleted: true})

	default:
		log.Warn("ignoring change notice with unknown op", logger.String("op", string(n.Op)))
	}
}

// Query implements Store.
func (s *SyncedStore) Query(ctx context.Context, q Query) ([]Document, error) {
	docs, err := s.repo.List(ctx, q.Collection, q.Partition)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(docs))
	for i := range docs {
		out = append(out, fromEntity(&docs[i]))
	}
	return out, nil
}

// Listen implements Store.
func (s *SyncedStore) Listen(ctx context.Context, q Query, handler Handler) (Registration, error) {
	return s.hub.listen(ctx, q, handler, func() ([]Document, error) {
		return s.Query(ctx, q)
	})
}

func fromEntity(d *entities.Document) Document {
	return Document{ID: d.DocID, Partition: d.PartitionKey, Data: []byte(d.Data)}
}
