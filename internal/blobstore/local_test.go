package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

const testBaseURL = "http://localhost:8080/blobs"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func sha(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestMediaKeyIsUniquePerUpload(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "Photo.JPG", "pixels")
	key, size, err := Key(CategoryAnnotationMedia, p)
	require.NoError(t, err)
	assert.Regexp(t, `^annotation-media/[0-9a-f-]{36}-`+sha("pixels")[:digestLen]+`\.jpg$`, key)
	assert.Equal(t, int64(6), size)

	other := writeFile(t, "copy.jpg", "pixels")
	key2, _, err := Key(CategoryAnnotationMedia, other)
	require.NoError(t, err)
	assert.NotEqual(t, key, key2)
}

func TestReferenceImageKeyKeepsName(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "pump-a.PNG", "pixels")
	key, size, err := Key(CategoryReferenceImages, p)
	require.NoError(t, err)
	assert.Equal(t, "reference-images/pump-a.png", key)
	assert.Equal(t, int64(6), size)
}

func TestKeyRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	_, _, err := Key("thumbnails", writeFile(t, "a.png", "x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestKeyMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := Key(CategoryProcedureMedia, filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMediaTransfer))
}

func TestKeyFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "valid", url: testBaseURL + "/procedure-media/abc.png", want: "procedure-media/abc.png"},
		{name: "trailing slash base", url: testBaseURL + "//procedure-media/abc.png", wantErr: true},
		{name: "other host", url: "https://example.com/procedure-media/abc.png", wantErr: true},
		{name: "traversal", url: testBaseURL + "/../secret", wantErr: true},
		{name: "empty key", url: testBaseURL + "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := keyFromURL(testBaseURL+"/", tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalStorePutAndDelete(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocalStore(root, testBaseURL, logger.NewDiscardLogger())
	require.NoError(t, err)
	ctx := t.Context()

	src := writeFile(t, "step.png", "media bytes")
	url, err := store.Put(ctx, CategoryProcedureMedia, src)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, testBaseURL+"/procedure-media/"))
	assert.True(t, strings.HasSuffix(url, "-"+sha("media bytes")[:digestLen]+".png"))

	key, err := keyFromURL(testBaseURL, url)
	require.NoError(t, err)
	stored := filepath.Join(root, filepath.FromSlash(key))
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, "media bytes", string(data))

	require.NoError(t, store.Delete(ctx, url))
	assert.NoFileExists(t, stored)
	require.NoError(t, store.Delete(ctx, url), "deleting a missing blob succeeds")
}

func TestLocalStoreIdenticalUploadsAreIndependent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocalStore(root, testBaseURL, logger.NewDiscardLogger())
	require.NoError(t, err)
	ctx := t.Context()

	src := writeFile(t, "step.png", "same bytes")
	first, err := store.Put(ctx, CategoryAnnotationMedia, src)
	require.NoError(t, err)
	second, err := store.Put(ctx, CategoryAnnotationMedia, src)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NoError(t, store.Delete(ctx, first))

	key, err := keyFromURL(testBaseURL, second)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err, "the second upload survives deleting the first")
	assert.Equal(t, "same bytes", string(data))
}

func TestLocalStoreReplacesReferenceImage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocalStore(root, testBaseURL, logger.NewDiscardLogger())
	require.NoError(t, err)

	first := writeFile(t, "pump-a.png", "old pixels")
	url, err := store.Put(t.Context(), CategoryReferenceImages, first)
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/reference-images/pump-a.png", url)

	second := writeFile(t, "pump-a.png", "new pixels")
	_, err = store.Put(t.Context(), CategoryReferenceImages, second)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "reference-images", "pump-a.png"))
	require.NoError(t, err)
	assert.Equal(t, "new pixels", string(data))
}

func TestLocalStoreDeleteForeignURL(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir(), testBaseURL, logger.NewDiscardLogger())
	require.NoError(t, err)

	err = store.Delete(t.Context(), "https://cdn.example.com/annotation-media/x.png")
	require.ErrorIs(t, err, ErrUnknownURL)
}

func TestLocalStorePutHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir(), testBaseURL, logger.NewDiscardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = store.Put(ctx, CategoryAnnotationMedia, writeFile(t, "a.png", "x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMediaTransfer))
}

func TestNewBackendSelection(t *testing.T) {
	t.Parallel()

	settings := &conf.BlobStoreSettings{Backend: conf.BlobBackendLocal, BaseURL: testBaseURL}
	settings.Local.Path = t.TempDir()

	store, err := New(t.Context(), settings, nil, logger.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())

	_, err = New(t.Context(), &conf.BlobStoreSettings{Backend: "s3"}, nil, logger.NewDiscardLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = New(t.Context(), &conf.BlobStoreSettings{Backend: conf.BlobBackendSFTP}, nil, logger.NewDiscardLogger())
	require.Error(t, err, "sftp without host")

	ftpStore, err := NewFTPStore(conf.FTPSettings{Host: "ftp.example.com"}, testBaseURL, logger.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, "ftp", ftpStore.Name())
	assert.Equal(t, testBaseURL+"/annotation-media/a.png", ftpStore.URL("annotation-media/a.png"))
}
