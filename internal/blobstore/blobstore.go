// Package blobstore stores annotation and procedure media. Every media upload
// gets its own key, <category>/<uuid>-<digest>.<ext>, so deleting the media of
// one entity never touches an object another entity refers to. Reference
// images are looked up by container name and keep their file name instead;
// putting one again replaces it.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tphakala/fieldpin/internal/errors"
)

// Logical key prefixes.
const (
	CategoryAnnotationMedia = "annotation-media"
	CategoryProcedureMedia  = "procedure-media"
	CategoryReferenceImages = "reference-images"
)

// Store is implemented by every blob backend.
type Store interface {
	// Put uploads the file at localPath under category and returns its URL.
	Put(ctx context.Context, category, localPath string) (string, error)
	// Delete removes the object behind url. Deleting a missing object succeeds.
	Delete(ctx context.Context, url string) error
	// URL returns the public URL of key.
	URL(key string) string
	// Name identifies the backend in logs and metrics.
	Name() string
}

// ErrUnknownURL is returned by Delete for a URL the store did not produce.
var ErrUnknownURL = errors.NewStd("url does not belong to this blob store")

// ValidCategory reports whether category is one of the logical prefixes.
func ValidCategory(category string) bool {
	switch category {
	case CategoryAnnotationMedia, CategoryProcedureMedia, CategoryReferenceImages:
		return true
	}
	return false
}

// digestLen is the number of hex digits of the sha256 kept in media keys.
const digestLen = 16

// Key computes a new key for the file at localPath. Media keys differ on every
// call; reference image keys depend on the file name only.
func Key(category, localPath string) (key string, size int64, err error) {
	if !ValidCategory(category) {
		return "", 0, errors.Newf("unknown blob category %q", category).
			Component("blobstore").
			Category(errors.CategoryValidation).
			Build()
	}

	f, err := os.Open(localPath) //nolint:gosec // G304 - caller selected media file
	if err != nil {
		return "", 0, transferError("hash", localPath, err)
	}
	defer f.Close() //nolint:errcheck // read only

	h := sha256.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return "", 0, transferError("hash", localPath, err)
	}

	ext := strings.ToLower(filepath.Ext(localPath))
	if category == CategoryReferenceImages {
		name := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
		return path.Join(category, name+ext), size, nil
	}
	digest := hex.EncodeToString(h.Sum(nil))[:digestLen]
	return path.Join(category, uuid.NewString()+"-"+digest+ext), size, nil
}

// joinURL appends key to base with exactly one slash between them.
func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// keyFromURL strips base from url. It fails for urls outside base and for keys
// that try to escape it.
func keyFromURL(base, url string) (string, error) {
	prefix := strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", unknownURL(url)
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" || path.IsAbs(key) || path.Clean(key) != key || key == ".." || strings.HasPrefix(key, "../") {
		return "", unknownURL(url)
	}
	return key, nil
}

func unknownURL(url string) error {
	return errors.New(ErrUnknownURL).
		Component("blobstore").
		Category(errors.CategoryValidation).
		Context("url", url).
		Build()
}

// transferError wraps a backend failure as a media transfer error.
func transferError(op, target string, err error) error {
	return errors.New(err).
		Component("blobstore").
		Category(errors.CategoryMediaTransfer).
		Context("operation", op).
		Context("target", target).
		Build()
}
