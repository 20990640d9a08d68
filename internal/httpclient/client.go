// Package httpclient is the shared HTTP client used for reference image
// downloads and text service calls. It applies a default timeout when the
// caller's context has none, injects the User-Agent and optional bearer token,
// and turns non-2xx replies into StatusError values.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/fieldpin/internal/errors"
)

const (
	// DefaultTimeout applies when a request context has no deadline.
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns          = 50
	defaultMaxIdleConnsPerHost   = 10
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 15 * time.Second
	defaultDialTimeout           = 30 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "FieldPin"

	// errorBodyLimit bounds how much of an error reply is kept in StatusError.
	errorBodyLimit = 4 << 10
)

// Client wraps http.Client with per-request timeouts and hooks. It is safe for
// concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	bearerToken    string

	hookMu        sync.RWMutex
	afterResponse func(*http.Request, *http.Response, error)
}

// Config holds client options. Zero values fall back to defaults.
type Config struct {
	DefaultTimeout time.Duration
	UserAgent      string
	// BearerToken is sent as Authorization header when set
	BearerToken string

	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration

	// Transport replaces the tuned default transport, for tests
	Transport http.RoundTripper
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        DefaultTimeout,
		UserAgent:             defaultUserAgent,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

// New creates a client. A nil cfg uses DefaultConfig; cfg is not modified.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		c.BearerToken = cfg.BearerToken
		c.Transport = cfg.Transport
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
		if cfg.MaxIdleConns > 0 {
			c.MaxIdleConns = cfg.MaxIdleConns
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if cfg.IdleConnTimeout > 0 {
			c.IdleConnTimeout = cfg.IdleConnTimeout
		}
		if cfg.ResponseHeaderTimeout > 0 {
			c.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		}
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          c.MaxIdleConns,
			MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
			IdleConnTimeout:       c.IdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			ResponseHeaderTimeout: c.ResponseHeaderTimeout,
		}
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
		bearerToken:    c.BearerToken,
	}
}

// HTTPClient exposes the underlying client, e.g. for httpmock.ActivateNonDefault.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// StatusError is returned by the helpers for replies outside 2xx.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// Do executes req. When ctx has no deadline the default timeout applies and
// the response body is only readable until Do's caller closes it.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.NewStd("nil request")
	}

	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Authorization") == "" && c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	after := c.afterResponse
	c.hookMu.RUnlock()
	if after != nil {
		after(req, resp, err)
	}

	if cancel != nil {
		if err != nil {
			cancel()
		} else {
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		}
	}
	return resp, err
}

// cancelOnClose releases the timeout context together with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// GetBytes downloads url and returns at most maxBytes of the body. A larger
// body is an error; maxBytes <= 0 means unlimited.
func (c *Client) GetBytes(ctx context.Context, url string, maxBytes int64) (data []byte, contentType string, err error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed

	if err := checkStatus(url, resp); err != nil {
		return nil, "", err
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err = io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("response from %s exceeds %d bytes", url, maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// PostJSON sends in as a JSON body and decodes a 2xx reply into out. out may be nil.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed

	if err := checkStatus(url, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatus(url string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
}

// SetAfterResponseHook registers fn to run after every request, e.g. for
// logging or metrics. resp is nil when err is set.
func (c *Client) SetAfterResponseHook(fn func(req *http.Request, resp *http.Response, err error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
