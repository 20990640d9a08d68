package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// LocalStore keeps blobs in a directory. The API serves that directory under
// the configured base URL.
type LocalStore struct {
	root    string
	baseURL string
	log     logger.Logger
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root, baseURL string, log logger.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, errors.Newf("local blob store path is required").
			Component("blobstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, errors.New(err).
			Component("blobstore").
			Category(errors.CategoryFileIO).
			Context("path", root).
			Build()
	}
	return &LocalStore{root: root, baseURL: baseURL, log: log.Module("local")}, nil
}

// Name implements Store.
func (s *LocalStore) Name() string { return "local" }

// Root returns the directory holding the blobs.
func (s *LocalStore) Root() string { return s.root }

// URL implements Store.
func (s *LocalStore) URL(key string) string { return joinURL(s.baseURL, key) }

// Put implements Store.
func (s *LocalStore) Put(ctx context.Context, category, localPath string) (string, error) {
	key, _, err := Key(category, localPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", transferError("put", key, err)
	}

	target := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return "", transferError("put", key, err)
	}
	if err := atomicCopy(localPath, target); err != nil {
		return "", transferError("put", key, err)
	}
	return s.URL(key), nil
}

// Delete implements Store.
func (s *LocalStore) Delete(ctx context.Context, url string) error {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return transferError("delete", key, err)
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
		return transferError("delete", key, err)
	}
	return nil
}

// atomicCopy copies src into a temporary file next to dst and renames it into place.
func atomicCopy(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304 - caller selected media file
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // read only

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}
