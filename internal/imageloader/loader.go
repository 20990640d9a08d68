// Package imageloader fetches the reference images that tracking sessions
// search for. Images live in the blob store under reference-images/<name>.<ext>;
// decoded results are cached in memory and concurrent loads of the same name
// share one download.
package imageloader

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/httpclient"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

const (
	defaultCacheTTL = time.Hour
	defaultMaxBytes = 20 << 20
	keyPrefix       = "reference-images/"
)

var defaultExtensions = []string{".png", ".jpg", ".jpeg"}

// ReferenceImage is a decoded reference image ready for a tracking session.
type ReferenceImage struct {
	Name     string
	URL      string
	Format   string // "png" or "jpeg"
	Width    int    // pixels
	Height   int    // pixels
	Data     []byte
	LoadedAt time.Time
}

// AspectRatio returns height divided by width.
func (r ReferenceImage) AspectRatio() float64 {
	if r.Width == 0 {
		return 0
	}
	return float64(r.Height) / float64(r.Width)
}

// Loader resolves reference image names to decoded images.
type Loader struct {
	client     *httpclient.Client
	baseURL    string
	extensions []string
	maxBytes   int64
	timeout    time.Duration

	cache   *cache.Cache
	group   singleflight.Group
	log     logger.Logger
	metrics *metrics.ImageLoaderMetrics
}

// New creates a loader fetching from baseURL, the public prefix of the blob store.
func New(client *httpclient.Client, baseURL string, settings *conf.ImageLoaderSettings, log logger.Logger, m *metrics.ImageLoaderMetrics) *Loader {
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	maxBytes := settings.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	exts := settings.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	return &Loader{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		extensions: exts,
		maxBytes:   maxBytes,
		timeout:    settings.Timeout,
		cache:      cache.New(ttl, 2*ttl),
		log:        log.Module("imageloader"),
		metrics:    m,
	}
}

// Load returns the reference image called name. Failures are not retried.
func (l *Loader) Load(ctx context.Context, name string) (ReferenceImage, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return ReferenceImage{}, errors.Newf("invalid reference image name %q", name).
			Component("imageloader").
			Category(errors.CategoryValidation).
			Build()
	}

	if cached, ok := l.cache.Get(name); ok {
		l.metrics.IncrementCacheHits()
		return cached.(ReferenceImage), nil
	}
	l.metrics.IncrementCacheMisses()

	ch := l.group.DoChan(name, func() (any, error) {
		// Detached so one caller cancelling does not fail the others
		fetchCtx := context.WithoutCancel(ctx)
		if l.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, l.timeout)
			defer cancel()
		}
		img, err := l.fetch(fetchCtx, name)
		if err != nil {
			return nil, err
		}
		l.cache.SetDefault(name, img)
		return img, nil
	})

	select {
	case <-ctx.Done():
		return ReferenceImage{}, errors.New(ctx.Err()).
			Component("imageloader").
			Category(errors.CategoryCancellation).
			Context("name", name).
			Build()
	case res := <-ch:
		if res.Err != nil {
			return ReferenceImage{}, res.Err
		}
		return res.Val.(ReferenceImage), nil
	}
}

// fetch tries each configured extension in order. Only a 404 moves on to the
// next one.
func (l *Loader) fetch(ctx context.Context, name string) (ReferenceImage, error) {
	start := time.Now()
	var lastErr error
	for _, ext := range l.extensions {
		url := l.baseURL + "/" + keyPrefix + name + ext
		data, _, err := l.client.GetBytes(ctx, url, l.maxBytes)
		if err != nil {
			var statusErr *httpclient.StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				lastErr = err
				continue
			}
			l.metrics.IncrementDownloadErrors()
			return ReferenceImage{}, fetchError(name, url, err)
		}

		l.metrics.IncrementImageDownloads()
		l.metrics.ObserveDownloadDuration(time.Since(start).Seconds())

		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return ReferenceImage{}, errors.New(err).
				Component("imageloader").
				Category(errors.CategoryImageDecode).
				Context("name", name).
				Context("url", url).
				Build()
		}

		l.log.Info("reference image loaded",
			logger.String("name", name),
			logger.String("format", format),
			logger.Int("width", cfg.Width),
			logger.Int("height", cfg.Height),
			logger.Duration("elapsed", time.Since(start)))
		return ReferenceImage{
			Name:     name,
			URL:      url,
			Format:   format,
			Width:    cfg.Width,
			Height:   cfg.Height,
			Data:     data,
			LoadedAt: time.Now(),
		}, nil
	}

	l.metrics.IncrementDownloadErrors()
	return ReferenceImage{}, fetchError(name, l.baseURL+"/"+keyPrefix+name, lastErr)
}

// Invalidate drops name from the cache so the next Load downloads it again.
func (l *Loader) Invalidate(name string) {
	l.cache.Delete(name)
}

func fetchError(name, url string, err error) error {
	return errors.New(err).
		Component("imageloader").
		Category(errors.CategoryImageFetch).
		Context("name", name).
		Context("url", url).
		Build()
}
