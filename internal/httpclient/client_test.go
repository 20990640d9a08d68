package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/errors"
)

func TestNew(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		client := New(nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
	})

	t.Run("custom config", func(t *testing.T) {
		client := New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "TestAgent/1.0", BearerToken: "k"})
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
		assert.Equal(t, "k", client.bearerToken)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		client := New(&Config{})
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.NotEmpty(t, client.userAgent)
	})
}

func TestDo_HeadersInjected(t *testing.T) {
	var gotUA, gotAuth string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClientWithConfig(t, &Config{UserAgent: "FieldPin/test", BearerToken: "secret"})
	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, "FieldPin/test", gotUA)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestDo_ContextCancellation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	resp, err := client.Get(ctx, server.URL)
	defer closeResponseBody(t, resp)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo_DefaultTimeout(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	resp, err := client.Get(t.Context(), server.URL)
	defer closeResponseBody(t, resp)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_BodyReadableAfterDefaultTimeoutApplied(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})
	client := newTestClientWithConfig(t, &Config{DefaultTimeout: time.Second})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestDo_ConcurrentRequests(t *testing.T) {
	var requestCount atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t)

	const concurrency = 20
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)
	for range concurrency {
		wg.Go(func() {
			_, _, err := client.GetBytes(t.Context(), server.URL, 0)
			errs <- err
		})
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(concurrency), requestCount.Load())
}

func TestAfterResponseHook(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	client := newTestClient(t)

	var status int
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		if err == nil {
			status = resp.StatusCode
		}
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestGetBytes(t *testing.T) {
	client := newTestClient(t)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder("GET", "https://blobs.example.com/reference-images/pump.png",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewBytesResponse(http.StatusOK, []byte("0123456789"))
			resp.Header.Set("Content-Type", "image/png")
			return resp, nil
		})
	httpmock.RegisterResponder("GET", "https://blobs.example.com/missing.png",
		httpmock.NewStringResponder(http.StatusNotFound, "no such object"))

	data, contentType, err := client.GetBytes(t.Context(), "https://blobs.example.com/reference-images/pump.png", 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, "image/png", contentType)

	_, _, err = client.GetBytes(t.Context(), "https://blobs.example.com/reference-images/pump.png", 5)
	require.Error(t, err, "body larger than limit")

	_, _, err = client.GetBytes(t.Context(), "https://blobs.example.com/missing.png", 0)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "no such object", statusErr.Body)
}

func TestPostJSON(t *testing.T) {
	client := newTestClientWithConfig(t, &Config{BearerToken: "key"})
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder("POST", "https://llm.example.com/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer key", req.Header.Get("Authorization"))
			var in map[string]string
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"echo": in["msg"]})
		})

	var out struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, client.PostJSON(t.Context(), "https://llm.example.com/v1/chat/completions", map[string]string{"msg": "hi"}, &out))
	assert.Equal(t, "hi", out.Echo)
}

func TestClose(t *testing.T) {
	client := New(nil)
	client.Close()
	client.Close()
}
