package annotations

import (
	"context"
	"slices"

	"github.com/tphakala/fieldpin/internal/blobstore"
	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
)

// Detailed info is edited by full overwrite. Steps and media are addressed by
// their current index, so every edit re-reads the document first.

// DetailedInfo reads the detailed info of annotation id. A missing document
// is a NotFound error.
func (s *Store) DetailedInfo(ctx context.Context, id string) (model.DetailedInfo, error) {
	doc, err := s.docs.Get(ctx, model.CollectionDetailedInfos, id)
	if err != nil {
		return model.DetailedInfo{}, err
	}
	return model.DecodeDetailedInfo(id, doc.Data)
}

// SaveDetailedInfo overwrites the detailed info of an existing annotation.
func (s *Store) SaveDetailedInfo(ctx context.Context, info model.DetailedInfo) error {
	if info.ID == "" {
		return errors.ValidationError("detailed info id is required")
	}
	owner, err := s.Get(ctx, info.ID)
	if err != nil {
		return err
	}
	if info.Steps == nil {
		info.Steps = []model.Step{}
	}
	for i := range info.Steps {
		if info.Steps[i].MediaURLs == nil {
			info.Steps[i].MediaURLs = []string{}
		}
	}

	data, err := model.Encode(info)
	if err != nil {
		return err
	}
	return s.docs.Set(ctx, model.CollectionDetailedInfos, docstore.Document{
		ID:        info.ID,
		Partition: owner.ContainerName,
		Data:      data,
	})
}

// AddStepMedia uploads the file at localPath and appends its URL to step.
// The upload happens first; if it fails nothing is written.
func (s *Store) AddStepMedia(ctx context.Context, id string, step int, localPath string) (string, error) {
	info, err := s.DetailedInfo(ctx, id)
	if err != nil {
		return "", err
	}
	if err := checkIndex("step", step, len(info.Steps)); err != nil {
		return "", err
	}
	if s.blobs == nil {
		return "", errors.Newf("no blob store configured").
			Component("annotations").
			Category(errors.CategoryConfiguration).
			Build()
	}

	url, err := s.blobs.Put(ctx, blobstore.CategoryAnnotationMedia, localPath)
	if err != nil {
		return "", err
	}

	info.Steps[step].MediaURLs = append(info.Steps[step].MediaURLs, url)
	if err := s.SaveDetailedInfo(ctx, info); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), url); derr != nil {
			s.log.Warn("orphaned media cleanup failed",
				logger.String("id", id),
				logger.String("url", url),
				logger.Error(derr))
		}
		return "", err
	}
	s.log.Debug("step media added",
		logger.String("id", id),
		logger.Int("step", step),
		logger.String("url", url))
	return url, nil
}

// RemoveStepMedia removes media index media of step. Later media shift down
// by one. A failed blob delete is returned after the metadata is rewritten.
func (s *Store) RemoveStepMedia(ctx context.Context, id string, step, media int) error {
	info, err := s.DetailedInfo(ctx, id)
	if err != nil {
		return err
	}
	if err := checkIndex("step", step, len(info.Steps)); err != nil {
		return err
	}
	urls := info.Steps[step].MediaURLs
	if err := checkIndex("media", media, len(urls)); err != nil {
		return err
	}

	url := urls[media]
	info.Steps[step].MediaURLs = slices.Delete(slices.Clone(urls), media, media+1)

	mediaErr := s.deleteMedia(ctx, id, []string{url})
	if err := s.SaveDetailedInfo(ctx, info); err != nil {
		return err
	}
	return mediaErr
}

// RemoveStep removes step and its media. Later steps shift down by one.
func (s *Store) RemoveStep(ctx context.Context, id string, step int) error {
	info, err := s.DetailedInfo(ctx, id)
	if err != nil {
		return err
	}
	if err := checkIndex("step", step, len(info.Steps)); err != nil {
		return err
	}

	urls := info.Steps[step].MediaURLs
	info.Steps = slices.Delete(slices.Clone(info.Steps), step, step+1)

	mediaErr := s.deleteMedia(ctx, id, urls)
	if err := s.SaveDetailedInfo(ctx, info); err != nil {
		return err
	}
	return mediaErr
}

func checkIndex(what string, i, n int) error {
	if i < 0 || i >= n {
		return errors.Newf("%s index %d out of range [0, %d)", what, i, n).
			Component("annotations").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
