// Package annotations is the synchronized store of annotations for the
// subscribed container. Writes go straight to the backing store; the cache
// only changes when the change feed echoes them back.
package annotations

import (
	"context"
	"strings"

	"github.com/tphakala/fieldpin/internal/blobstore"
	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/livesync"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// Event is an annotation change delivered on the session loop.
type Event = livesync.Event[model.Annotation]

// ErrAlreadySubscribed is returned by Subscribe for a second container.
var ErrAlreadySubscribed = livesync.ErrAlreadySubscribed

// Store manages annotations and their detailed info.
type Store struct {
	docs    docstore.Store
	blobs   blobstore.Store
	cache   *livesync.Collection[model.Annotation]
	log     logger.Logger
	metrics *metrics.SyncMetrics
}

// New creates a store. post queues work on the session loop that owns the
// cache; it may be nil for a store used only for writes and reads.
func New(docs docstore.Store, blobs blobstore.Store, post livesync.Poster, log logger.Logger, m *metrics.SyncMetrics) *Store {
	log = log.Module("annotations")
	if post == nil {
		post = func(fn func()) bool { fn(); return true }
	}
	return &Store{
		docs:    docs,
		blobs:   blobs,
		cache:   livesync.NewCollection(docs, model.CollectionAnnotations, model.DecodeAnnotation, post, log, m),
		log:     log,
		metrics: m,
	}
}

// Subscribe opens the live subscription for container. handler runs on the
// session loop for every batch, the first being the current snapshot.
// Subscribing to the same container again is a no-op; another container
// fails with ErrAlreadySubscribed until Unsubscribe.
func (s *Store) Subscribe(ctx context.Context, container string, handler func([]Event)) error {
	return s.cache.Subscribe(ctx, container, handler)
}

// Unsubscribe releases the subscription. Safe to call repeatedly and while
// writes are in flight.
func (s *Store) Unsubscribe() {
	s.cache.Unsubscribe()
}

// Container returns the subscribed container, or "".
func (s *Store) Container() string {
	return s.cache.Partition()
}

// Cached returns the cached annotation. Loop only.
func (s *Store) Cached(id string) (model.Annotation, bool) {
	return s.cache.Get(id)
}

// All returns the cached annotations. Loop only.
func (s *Store) All() []model.Annotation {
	return s.cache.All()
}

// Create writes a new annotation. It does not touch the cache.
func (s *Store) Create(ctx context.Context, a model.Annotation) error {
	if err := validate(a); err != nil {
		return err
	}
	return s.write(ctx, a.Normalized())
}

// Update overwrites an annotation by id.
func (s *Store) Update(ctx context.Context, a model.Annotation) error {
	return s.Create(ctx, a)
}

func (s *Store) write(ctx context.Context, a model.Annotation) error {
	data, err := model.Encode(a)
	if err != nil {
		return err
	}
	if err := s.docs.Set(ctx, model.CollectionAnnotations, docstore.Document{ID: a.ID, Partition: a.ContainerName, Data: data}); err != nil {
		s.log.Warn("annotation write failed", logger.String("id", a.ID), logger.Error(err))
		return err
	}
	s.log.Debug("annotation written",
		logger.String("id", a.ID),
		logger.String("container", a.ContainerName))
	return nil
}

// Get reads an annotation from the backing store.
func (s *Store) Get(ctx context.Context, id string) (model.Annotation, error) {
	doc, err := s.docs.Get(ctx, model.CollectionAnnotations, id)
	if err != nil {
		return model.Annotation{}, err
	}
	return model.DecodeAnnotation(id, doc.Data)
}

// List reads every annotation of container from the backing store, skipping
// malformed documents.
func (s *Store) List(ctx context.Context, container string) ([]model.Annotation, error) {
	docs, err := s.docs.Query(ctx, docstore.Query{Collection: model.CollectionAnnotations, Partition: container})
	if err != nil {
		return nil, err
	}
	out := make([]model.Annotation, 0, len(docs))
	for _, d := range docs {
		a, err := model.DecodeAnnotation(d.ID, d.Data)
		if err != nil {
			s.metrics.RecordMalformed(model.CollectionAnnotations)
			s.log.Warn("skipping malformed annotation", logger.String("id", d.ID), logger.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Delete removes an annotation together with its detailed info and the
// info's media. Media failures do not stop the metadata deletes; they are
// returned as a MediaTransfer error after the metadata is gone.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.ValidationError("annotation id is required")
	}

	var mediaErr error
	info, err := s.DetailedInfo(ctx, id)
	switch {
	case err == nil:
		mediaErr = s.deleteMedia(ctx, id, info.MediaURLs())
		if err := s.docs.Delete(ctx, model.CollectionDetailedInfos, id); err != nil {
			return err
		}
	case errors.IsNotFound(err):
	case errors.IsCategory(err, errors.CategoryMalformedEntity):
		// Unreadable info still goes; its media cannot be located
		s.log.Warn("deleting malformed detailed info", logger.String("id", id), logger.Error(err))
		if err := s.docs.Delete(ctx, model.CollectionDetailedInfos, id); err != nil {
			return err
		}
	default:
		return err
	}

	if err := s.docs.Delete(ctx, model.CollectionAnnotations, id); err != nil {
		return err
	}
	s.log.Debug("annotation deleted", logger.String("id", id))
	return mediaErr
}

// deleteMedia removes urls from the blob store and joins the failures.
func (s *Store) deleteMedia(ctx context.Context, id string, urls []string) error {
	if s.blobs == nil || len(urls) == 0 {
		return nil
	}
	var errs []error
	for _, url := range urls {
		if err := s.blobs.Delete(ctx, url); err != nil {
			s.log.Warn("media delete failed",
				logger.String("id", id),
				logger.String("url", url),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Component("annotations").
		Category(errors.CategoryMediaTransfer).
		Context("id", id).
		Context("failed", len(errs)).
		Build()
}

func validate(a model.Annotation) error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return errors.ValidationError("annotation id is required")
	case strings.TrimSpace(a.ContainerName) == "":
		return errors.ValidationError("annotation container name is required")
	case !a.Position.IsFinite():
		return errors.ValidationError("annotation position must be finite")
	}
	return nil
}
