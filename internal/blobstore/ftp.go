package blobstore

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

const (
	defaultFTPPort     = 21
	defaultFTPMaxConns = 5
	ftpMaxAttempts     = 3
	ftpRetryBackoff    = time.Second
	ftpTempPrefix      = ".upload-"
)

// FTPStore uploads blobs to an FTP server through a small connection pool.
type FTPStore struct {
	cfg      conf.FTPSettings
	baseURL  string
	log      logger.Logger
	connPool chan *ftp.ServerConn
}

// NewFTPStore validates cfg and applies defaults. No connection is made until
// the first operation.
func NewFTPStore(cfg conf.FTPSettings, baseURL string, log logger.Logger) (*FTPStore, error) {
	if cfg.Host == "" {
		return nil, configError("ftp", "host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultFTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultFTPMaxConns
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if cfg.BasePath == "" {
		cfg.BasePath = "fieldpin"
	}
	return &FTPStore{
		cfg:      cfg,
		baseURL:  baseURL,
		log:      log.Module("ftp"),
		connPool: make(chan *ftp.ServerConn, cfg.MaxConns),
	}, nil
}

// Name implements Store.
func (s *FTPStore) Name() string { return "ftp" }

// URL implements Store.
func (s *FTPStore) URL(key string) string { return joinURL(s.baseURL, key) }

// getConnection gets a live connection from the pool or dials a new one.
func (s *FTPStore) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-s.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return s.connect(ctx)
}

// returnConnection puts conn back in the pool or closes it when the pool is full.
func (s *FTPStore) returnConnection(conn *ftp.ServerConn) {
	select {
	case s.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			s.log.Debug("failed to close FTP connection", logger.Error(err))
		}
	}
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}
	if s.cfg.Username != "" {
		if err := conn.Login(s.cfg.Username, s.cfg.Password); err != nil {
			_ = conn.Quit()
			return nil, errors.New(err).
				Component("blobstore").
				Category(errors.CategoryConfiguration).
				Context("operation", "ftp-login").
				Build()
		}
	}
	return conn, nil
}

// withRetry runs op on a pooled connection, retrying transient failures with a
// linear backoff.
func (s *FTPStore) withRetry(ctx context.Context, op func(*ftp.ServerConn) error) error {
	var lastErr error
	for attempt := range ftpMaxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.getConnection(ctx)
		if err == nil {
			if err = op(conn); err == nil {
				s.returnConnection(conn)
				return nil
			}
			_ = conn.Quit()
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}

		s.log.Debug("retrying FTP operation",
			logger.Int("attempt", attempt+1),
			logger.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ftpRetryBackoff * time.Duration(attempt+1)):
		}
	}
	return lastErr
}

// isTransient reports whether err is worth another attempt: network errors and
// FTP 4xx replies.
func isTransient(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isFileUnavailable(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

// Put implements Store.
func (s *FTPStore) Put(ctx context.Context, category, localPath string) (string, error) {
	key, _, err := Key(category, localPath)
	if err != nil {
		return "", err
	}

	remotePath := path.Join(s.cfg.BasePath, key)
	err = s.withRetry(ctx, func(conn *ftp.ServerConn) error {
		if err := s.makeDirs(conn, path.Dir(remotePath)); err != nil {
			return err
		}
		return s.atomicUpload(conn, localPath, remotePath)
	})
	if err != nil {
		return "", transferError("put", key, err)
	}
	s.log.Debug("stored blob", logger.String("key", key), logger.String("host", s.cfg.Host))
	return s.URL(key), nil
}

// atomicUpload stores to a temporary name in the target directory and renames it.
func (s *FTPStore) atomicUpload(conn *ftp.ServerConn, localPath, remotePath string) error {
	f, err := os.Open(localPath) //nolint:gosec // G304 - caller selected media file
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read only

	tempName := path.Join(path.Dir(remotePath), fmt.Sprintf("%s%d-%d", ftpTempPrefix, time.Now().UnixNano(), os.Getpid()))
	if err := conn.Stor(tempName, f); err != nil {
		_ = conn.Delete(tempName)
		return fmt.Errorf("ftp: failed to store file: %w", err)
	}
	if err := conn.Rename(tempName, remotePath); err != nil {
		_ = conn.Delete(tempName)
		return fmt.Errorf("ftp: failed to rename temporary file: %w", err)
	}
	return nil
}

// makeDirs creates every missing directory of dir. Existing directories are
// reported by most servers as 550 and are ignored.
func (s *FTPStore) makeDirs(conn *ftp.ServerConn, dir string) error {
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !isFileUnavailable(err) {
			msg := strings.ToLower(err.Error())
			if !strings.Contains(msg, "exists") {
				return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
			}
		}
	}
	return nil
}

// Delete implements Store.
func (s *FTPStore) Delete(ctx context.Context, url string) error {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}
	err = s.withRetry(ctx, func(conn *ftp.ServerConn) error {
		if err := conn.Delete(path.Join(s.cfg.BasePath, key)); err != nil && !isFileUnavailable(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return transferError("delete", key, err)
	}
	return nil
}

// Close quits every pooled connection.
func (s *FTPStore) Close() error {
	var lastErr error
	for {
		select {
		case conn := <-s.connPool:
			if err := conn.Quit(); err != nil {
				lastErr = err
			}
		default:
			return lastErr
		}
	}
}
