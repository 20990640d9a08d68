package blobstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/logger"
)

// driveKeyProperty is the app property holding the blob key of a Drive file.
const driveKeyProperty = "fieldpinKey"

// DriveStore keeps blobs as files in one Google Drive folder. Files are found
// by their key app property, so the folder layout is flat.
type DriveStore struct {
	srv      *drive.Service
	folderID string
	baseURL  string
	log      logger.Logger
}

// NewDriveStore creates a Drive client. Without extra options the service
// account credentials file from cfg is used.
func NewDriveStore(ctx context.Context, cfg conf.DriveSettings, baseURL string, log logger.Logger, opts ...option.ClientOption) (*DriveStore, error) {
	if cfg.FolderID == "" {
		return nil, configError("gdrive", "folder id is required")
	}
	if len(opts) == 0 {
		if cfg.CredentialsFile == "" {
			return nil, configError("gdrive", "credentials file is required")
		}
		opts = []option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(drive.DriveFileScope),
		}
	}

	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: failed to create client: %w", err)
	}
	if baseURL == "" {
		baseURL = "gdrive://" + cfg.FolderID
	}
	return &DriveStore{srv: srv, folderID: cfg.FolderID, baseURL: baseURL, log: log.Module("gdrive")}, nil
}

// Name implements Store.
func (s *DriveStore) Name() string { return "gdrive" }

// URL implements Store.
func (s *DriveStore) URL(key string) string { return joinURL(s.baseURL, key) }

// findFile returns the id of the file stored under key, or "" when there is none.
func (s *DriveStore) findFile(ctx context.Context, key string) (string, error) {
	q := fmt.Sprintf("appProperties has { key='%s' and value='%s' } and '%s' in parents and trashed = false",
		driveKeyProperty, escapeDriveQuery(key), escapeDriveQuery(s.folderID))
	list, err := s.srv.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gdrive: failed to search files: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

// Put implements Store.
func (s *DriveStore) Put(ctx context.Context, category, localPath string) (string, error) {
	key, _, err := Key(category, localPath)
	if err != nil {
		return "", err
	}

	existing, err := s.findFile(ctx, key)
	if err != nil {
		return "", transferError("put", key, err)
	}
	f, err := os.Open(localPath) //nolint:gosec // G304 - caller selected media file
	if err != nil {
		return "", transferError("put", key, err)
	}
	defer f.Close() //nolint:errcheck // read only

	if existing != "" {
		if _, err := s.srv.Files.Update(existing, &drive.File{}).Media(f).Context(ctx).Do(); err != nil {
			return "", transferError("put", key, fmt.Errorf("gdrive: failed to replace: %w", err))
		}
		s.log.Debug("replaced blob", logger.String("key", key), logger.String("file_id", existing))
		return s.URL(key), nil
	}

	file := &drive.File{
		Name:          strings.ReplaceAll(key, "/", "_"),
		Parents:       []string{s.folderID},
		AppProperties: map[string]string{driveKeyProperty: key, "category": category},
	}
	created, err := s.srv.Files.Create(file).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", transferError("put", key, fmt.Errorf("gdrive: failed to upload: %w", err))
	}

	s.log.Debug("stored blob", logger.String("key", key), logger.String("file_id", created.Id))
	return s.URL(key), nil
}

// Delete implements Store.
func (s *DriveStore) Delete(ctx context.Context, url string) error {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}
	id, err := s.findFile(ctx, key)
	if err != nil {
		return transferError("delete", key, err)
	}
	if id == "" {
		return nil
	}
	if err := s.srv.Files.Delete(id).Context(ctx).Do(); err != nil {
		return transferError("delete", key, fmt.Errorf("gdrive: failed to delete file: %w", err))
	}
	return nil
}

func escapeDriveQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}
