package blobstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

const (
	defaultSFTPPort = 22
	defaultTimeout  = 30 * time.Second
)

// SFTPStore uploads blobs to a directory on an SSH server. A connection is
// opened per operation.
type SFTPStore struct {
	cfg     conf.SFTPSettings
	baseURL string
	log     logger.Logger
}

// NewSFTPStore validates cfg and applies defaults.
func NewSFTPStore(cfg conf.SFTPSettings, baseURL string, log logger.Logger) (*SFTPStore, error) {
	if cfg.Host == "" {
		return nil, configError("sftp", "host is required")
	}
	if cfg.KeyFile == "" && cfg.Password == "" {
		return nil, configError("sftp", "no authentication method provided")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSFTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "fieldpin"
	}
	return &SFTPStore{cfg: cfg, baseURL: baseURL, log: log.Module("sftp")}, nil
}

// Name implements Store.
func (s *SFTPStore) Name() string { return "sftp" }

// URL implements Store.
func (s *SFTPStore) URL(key string) string { return joinURL(s.baseURL, key) }

func (s *SFTPStore) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    s.cfg.Username,
		Timeout: s.cfg.Timeout,
	}

	if s.cfg.KnownHosts != "" {
		callback, err := knownhosts.New(s.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		s.log.Warn("host key verification disabled, set blobstore.sftp.knownhosts", logger.String("host", s.cfg.Host))
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // G106 - explicit opt-out when no known_hosts file is configured
	}

	switch {
	case s.cfg.KeyFile != "":
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(s.cfg.Password)}
	}
	return config, nil
}

// connect establishes an SFTP session that honours ctx during the handshake.
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		// Close a client that connects after we gave up
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultChan:
		return r.client, r.err
	}
}

// Put implements Store.
func (s *SFTPStore) Put(ctx context.Context, category, localPath string) (string, error) {
	key, _, err := Key(category, localPath)
	if err != nil {
		return "", err
	}

	client, err := s.connect(ctx)
	if err != nil {
		return "", transferError("put", key, err)
	}
	defer client.Close() //nolint:errcheck // session teardown

	remotePath := path.Join(s.cfg.BasePath, key)
	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return "", transferError("put", key, fmt.Errorf("sftp: failed to create directory: %w", err))
	}
	if err := s.upload(client, localPath, remotePath); err != nil {
		return "", transferError("put", key, err)
	}

	s.log.Debug("stored blob", logger.String("key", key), logger.String("host", s.cfg.Host))
	return s.URL(key), nil
}

// upload writes to a temporary name and renames it into place so readers never
// see a partial object.
func (s *SFTPStore) upload(client *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath) //nolint:gosec // G304 - caller selected media file
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck // read only

	tmpPath := fmt.Sprintf("%s.tmp-%d", remotePath, time.Now().UnixNano())
	dst, err := client.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("sftp: failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = client.Remove(tmpPath)
		return fmt.Errorf("sftp: failed to write file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tmpPath)
		return fmt.Errorf("sftp: failed to close file: %w", err)
	}
	if err := client.PosixRename(tmpPath, remotePath); err != nil {
		_ = client.Remove(tmpPath)
		return fmt.Errorf("sftp: failed to rename file: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SFTPStore) Delete(ctx context.Context, url string) error {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}

	client, err := s.connect(ctx)
	if err != nil {
		return transferError("delete", key, err)
	}
	defer client.Close() //nolint:errcheck // session teardown

	if err := client.Remove(path.Join(s.cfg.BasePath, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return transferError("delete", key, err)
	}
	return nil
}

func configError(backend, msg string) error {
	return errors.Newf("%s: %s", backend, msg).
		Component("blobstore").
		Category(errors.CategoryConfiguration).
		Build()
}
