// Package procedures stores ordered procedures, hand-written or drafted by
// the text service, for a container. Procedures are saved wholesale.
package procedures

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/fieldpin/internal/blobstore"
	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/livesync"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// mediaDeleteConcurrency bounds parallel blob deletes per procedure.
const mediaDeleteConcurrency = 4

// Event is a procedure change delivered on the session loop.
type Event = livesync.Event[model.Procedure]

// Store manages both procedure collections.
type Store struct {
	docs    docstore.Store
	blobs   blobstore.Store
	caches  map[model.ProcedureKind]*livesync.Collection[model.Procedure]
	log     logger.Logger
	metrics *metrics.SyncMetrics
	now     func() time.Time
}

// New creates a store. post queues work on the session loop; nil runs inline.
func New(docs docstore.Store, blobs blobstore.Store, post livesync.Poster, log logger.Logger, m *metrics.SyncMetrics) *Store {
	log = log.Module("procedures")
	if post == nil {
		post = func(fn func()) bool { fn(); return true }
	}
	s := &Store{
		docs:    docs,
		blobs:   blobs,
		caches:  make(map[model.ProcedureKind]*livesync.Collection[model.Procedure]),
		log:     log,
		metrics: m,
		now:     time.Now,
	}
	for _, kind := range []model.ProcedureKind{model.KindManual, model.KindAI} {
		decode := func(id string, data []byte) (model.Procedure, error) {
			return model.DecodeProcedure(kind, id, data)
		}
		s.caches[kind] = livesync.NewCollection(docs, kind.Collection(), decode, post, log, m)
	}
	return s
}

func checkKind(kind model.ProcedureKind) error {
	if !kind.Valid() {
		return errors.Newf("unknown procedure kind %q", kind).
			Component("procedures").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Subscribe opens the live subscription for one kind and container.
func (s *Store) Subscribe(ctx context.Context, kind model.ProcedureKind, container string, handler func([]Event)) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	return s.caches[kind].Subscribe(ctx, container, handler)
}

// Unsubscribe releases the subscriptions of every kind.
func (s *Store) Unsubscribe() {
	for _, c := range s.caches {
		c.Unsubscribe()
	}
}

// Cached returns a cached procedure. Loop only.
func (s *Store) Cached(kind model.ProcedureKind, id string) (model.Procedure, bool) {
	c, ok := s.caches[kind]
	if !ok {
		return model.Procedure{}, false
	}
	return c.Get(id)
}

// All returns the cached procedures of kind in first-seen order. Loop only.
func (s *Store) All(kind model.ProcedureKind) []model.Procedure {
	c, ok := s.caches[kind]
	if !ok {
		return nil
	}
	return c.All()
}

// Save writes p as a whole, assigning an id and creation time when missing.
// It returns the saved procedure.
func (s *Store) Save(ctx context.Context, p model.Procedure) (model.Procedure, error) {
	if err := checkKind(p.Kind); err != nil {
		return model.Procedure{}, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return model.Procedure{}, errors.ValidationError("procedure name is required")
	}
	if strings.TrimSpace(p.ContainerName) == "" {
		return model.Procedure{}, errors.ValidationError("procedure container name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if p.Steps == nil {
		p.Steps = []model.ProcedureStep{}
	}
	for i := range p.Steps {
		if p.Steps[i].Media == nil {
			p.Steps[i].Media = []model.Media{}
		}
		if pos := p.Steps[i].Position; pos != nil && !pos.IsFinite() {
			return model.Procedure{}, errors.ValidationError("procedure step position must be finite")
		}
	}

	data, err := model.Encode(p)
	if err != nil {
		return model.Procedure{}, err
	}
	if err := s.docs.Set(ctx, p.Kind.Collection(), docstore.Document{ID: p.ID, Partition: p.ContainerName, Data: data}); err != nil {
		return model.Procedure{}, err
	}
	s.log.Debug("procedure saved",
		logger.String("id", p.ID),
		logger.String("kind", string(p.Kind)),
		logger.Int("steps", len(p.Steps)))
	return p, nil
}

// Get reads a procedure.
func (s *Store) Get(ctx context.Context, kind model.ProcedureKind, id string) (model.Procedure, error) {
	if err := checkKind(kind); err != nil {
		return model.Procedure{}, err
	}
	doc, err := s.docs.Get(ctx, kind.Collection(), id)
	if err != nil {
		return model.Procedure{}, err
	}
	return model.DecodeProcedure(kind, id, doc.Data)
}

// List reads the procedures of a container, skipping malformed documents.
func (s *Store) List(ctx context.Context, kind model.ProcedureKind, container string) ([]model.Procedure, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	docs, err := s.docs.Query(ctx, docstore.Query{Collection: kind.Collection(), Partition: container})
	if err != nil {
		return nil, err
	}
	out := make([]model.Procedure, 0, len(docs))
	for _, d := range docs {
		p, err := model.DecodeProcedure(kind, d.ID, d.Data)
		if err != nil {
			s.metrics.RecordMalformed(kind.Collection())
			s.log.Warn("skipping malformed procedure", logger.String("id", d.ID), logger.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Delete removes the step media of a procedure and then the procedure. Media
// failures do not block the metadata delete; they are returned afterwards as
// a MediaTransfer error.
func (s *Store) Delete(ctx context.Context, kind model.ProcedureKind, id string) error {
	p, err := s.Get(ctx, kind, id)
	if err != nil && !errors.IsCategory(err, errors.CategoryMalformedEntity) {
		return err
	}

	mediaErr := s.deleteMedia(ctx, id, p.MediaURLs())
	if err := s.docs.Delete(ctx, kind.Collection(), id); err != nil {
		return err
	}
	s.log.Debug("procedure deleted", logger.String("id", id), logger.String("kind", string(kind)))
	return mediaErr
}

func (s *Store) deleteMedia(ctx context.Context, id string, urls []string) error {
	if s.blobs == nil || len(urls) == 0 {
		return nil
	}

	errs := make([]error, len(urls))
	var g errgroup.Group
	g.SetLimit(mediaDeleteConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			// Collected per slot so one failure does not cancel the others
			errs[i] = s.blobs.Delete(ctx, url)
			return nil
		})
	}
	_ = g.Wait()

	failed := errors.Join(errs...)
	if failed == nil {
		return nil
	}
	s.log.Warn("procedure media delete failed", logger.String("id", id), logger.Error(failed))
	return errors.New(failed).
		Component("procedures").
		Category(errors.CategoryMediaTransfer).
		Context("id", id).
		Build()
}

// PinStep stores the anchor-local position of one step.
func (s *Store) PinStep(ctx context.Context, kind model.ProcedureKind, id string, step int, local geom.Vec3) error {
	if !local.IsFinite() {
		return errors.ValidationError("step position must be finite")
	}
	p, err := s.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if step < 0 || step >= len(p.Steps) {
		return errors.Newf("step index %d out of range [0, %d)", step, len(p.Steps)).
			Component("procedures").
			Category(errors.CategoryValidation).
			Build()
	}
	pos := local
	p.Steps[step].Position = &pos
	_, err = s.Save(ctx, p)
	return err
}

// AttachStepMedia uploads the file at localPath and appends it to a step.
// Nothing is written when the upload fails.
func (s *Store) AttachStepMedia(ctx context.Context, kind model.ProcedureKind, id string, step int, localPath string, media model.Media) (model.Media, error) {
	p, err := s.Get(ctx, kind, id)
	if err != nil {
		return model.Media{}, err
	}
	if step < 0 || step >= len(p.Steps) {
		return model.Media{}, errors.Newf("step index %d out of range [0, %d)", step, len(p.Steps)).
			Component("procedures").
			Category(errors.CategoryValidation).
			Build()
	}
	if s.blobs == nil {
		return model.Media{}, errors.Newf("no blob store configured").
			Component("procedures").
			Category(errors.CategoryConfiguration).
			Build()
	}

	url, err := s.blobs.Put(ctx, blobstore.CategoryProcedureMedia, localPath)
	if err != nil {
		return model.Media{}, err
	}
	media.URL = url
	p.Steps[step].Media = append(p.Steps[step].Media, media)
	if _, err := s.Save(ctx, p); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), url); derr != nil {
			s.log.Warn("orphaned media cleanup failed",
				logger.String("id", id),
				logger.String("url", url),
				logger.Error(derr))
		}
		return model.Media{}, err
	}
	return media, nil
}
