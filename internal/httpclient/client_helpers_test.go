package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return newTestClientWithConfig(t, nil)
}

// newTestClientWithConfig closes the client when the test ends. A nil cfg
// uses DefaultConfig.
func newTestClientWithConfig(t *testing.T, cfg *Config) *Client {
	t.Helper()
	c := New(cfg)
	t.Cleanup(c.Close)
	return c
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// closeResponseBody drains and closes resp so the connection is reused.
func closeResponseBody(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		t.Logf("closing response body: %v", err)
	}
}
