package imageloader

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/httpclient"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

const baseURL = "https://blobs.example.com"

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func newTestLoader(t *testing.T, settings conf.ImageLoaderSettings) (*Loader, *metrics.ImageLoaderMetrics) {
	t.Helper()

	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	m, err := metrics.NewImageLoaderMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return New(client, baseURL+"/", &settings, logger.NewDiscardLogger(), m), m
}

func TestLoadDecodesAndCaches(t *testing.T) {
	loader, m := newTestLoader(t, conf.ImageLoaderSettings{})
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/pump-a.png",
		httpmock.NewBytesResponder(http.StatusOK, pngBytes(t, 64, 32)))

	img, err := loader.Load(t.Context(), "pump-a")
	require.NoError(t, err)
	assert.Equal(t, "pump-a", img.Name)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, 32, img.Height)
	assert.InDelta(t, 0.5, img.AspectRatio(), 1e-9)

	_, err = loader.Load(t.Context(), "pump-a")
	require.NoError(t, err)

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheHits), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheMisses), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ImageDownloads), 0)
}

func TestLoadFallsBackToNextExtension(t *testing.T) {
	loader, _ := newTestLoader(t, conf.ImageLoaderSettings{})
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/valve.png",
		httpmock.NewStringResponder(http.StatusNotFound, ""))
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/valve.jpg",
		httpmock.NewBytesResponder(http.StatusOK, pngBytes(t, 10, 10)))

	img, err := loader.Load(t.Context(), "valve")
	require.NoError(t, err)
	assert.Equal(t, baseURL+"/reference-images/valve.jpg", img.URL)
}

func TestLoadMissingImage(t *testing.T) {
	loader, m := newTestLoader(t, conf.ImageLoaderSettings{Extensions: []string{".png"}})
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/ghost.png",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	_, err := loader.Load(t.Context(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageFetch))
	assert.InDelta(t, 1, testutil.ToFloat64(m.DownloadErrors), 0)
}

func TestLoadServerErrorIsNotRetried(t *testing.T) {
	loader, _ := newTestLoader(t, conf.ImageLoaderSettings{})
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/pump-b.png",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := loader.Load(t.Context(), "pump-b")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageFetch))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestLoadUndecodableImage(t *testing.T) {
	loader, _ := newTestLoader(t, conf.ImageLoaderSettings{})
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/broken.png",
		httpmock.NewStringResponder(http.StatusOK, "not an image"))

	_, err := loader.Load(t.Context(), "broken")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode))

	// Failures are not cached
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/broken.png",
		httpmock.NewBytesResponder(http.StatusOK, pngBytes(t, 4, 4)))
	_, err = loader.Load(t.Context(), "broken")
	require.NoError(t, err)
}

func TestLoadRejectsInvalidNames(t *testing.T) {
	loader, _ := newTestLoader(t, conf.ImageLoaderSettings{})
	for _, name := range []string{"", "../etc/passwd", "a/b", ".hidden"} {
		_, err := loader.Load(t.Context(), name)
		require.Error(t, err, name)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), name)
	}
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestLoadConcurrentCallersShareDownload(t *testing.T) {
	loader, _ := newTestLoader(t, conf.ImageLoaderSettings{})

	release := make(chan struct{})
	data := pngBytes(t, 8, 8)
	var started atomic.Int32
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/shared.png",
		func(*http.Request) (*http.Response, error) {
			started.Add(1)
			<-release
			return httpmock.NewBytesResponse(http.StatusOK, data), nil
		})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Go(func() {
			_, err := loader.Load(t.Context(), "shared")
			errs <- err
		})
	}
	// Let every caller reach the singleflight group before the download returns
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestInvalidate(t *testing.T) {
	loader, _ := newTestLoader(t, conf.ImageLoaderSettings{})
	httpmock.RegisterResponder("GET", baseURL+"/reference-images/pump-c.png",
		httpmock.NewBytesResponder(http.StatusOK, pngBytes(t, 2, 2)))

	_, err := loader.Load(t.Context(), "pump-c")
	require.NoError(t, err)
	loader.Invalidate("pump-c")
	_, err = loader.Load(t.Context(), "pump-c")
	require.NoError(t, err)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}
