// Package app opens the shared services behind the CLI commands: the synced
// document store, the blob store, notifications, the text service and the
// reference image loader.
package app

import (
	"context"
	"io"

	"github.com/tphakala/fieldpin/internal/blobstore"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/datastore"
	"github.com/tphakala/fieldpin/internal/datastore/repository"
	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/httpclient"
	"github.com/tphakala/fieldpin/internal/imageloader"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/mqtt"
	"github.com/tphakala/fieldpin/internal/notification"
	"github.com/tphakala/fieldpin/internal/observability"
	"github.com/tphakala/fieldpin/internal/textservice"
)

// Services are the long lived collaborators of a running installation.
type Services struct {
	Settings *conf.Settings
	Log      logger.Logger
	Metrics  *observability.Metrics
	Docs     *docstore.SyncedStore
	Blobs    *blobstore.Metered
	Notify   *notification.Service
	Images   *imageloader.Loader
	// Text is nil when the text service is disabled
	Text *textservice.Client

	closers []func()
}

// Open opens every service in dependency order. On failure the services
// opened so far are closed again.
func Open(ctx context.Context, settings *conf.Settings, log logger.Logger) (svc *Services, err error) {
	s := &Services{Settings: settings, Log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init-metrics").
			Build()
	}

	mgr, err := datastore.Open(&settings.Datastore, log.Module("datastore"))
	if err != nil {
		return nil, err
	}
	s.onClose(func() {
		if cerr := mgr.Close(); cerr != nil {
			log.Warn("failed to close datastore", logger.Error(cerr))
		}
	})

	feed, err := s.openFeed(ctx)
	if err != nil {
		return nil, err
	}

	s.Docs = docstore.NewSyncedStore(repository.NewDocumentRepository(mgr.DB()), feed, log.Module("docstore"), s.Metrics.Sync)
	s.onClose(s.Docs.Close)
	if err := s.Docs.Start(ctx, model.CollectionAnnotations, model.CollectionDetailedInfos,
		model.CollectionProcedures, model.CollectionAIProcedures); err != nil {
		return nil, err
	}

	if s.Blobs, err = blobstore.New(ctx, &settings.BlobStore, s.Metrics.Blob, log); err != nil {
		return nil, err
	}
	if closer, ok := s.Blobs.Store.(io.Closer); ok {
		s.onClose(func() { _ = closer.Close() })
	}

	pushers, err := notification.NewPushersFromSettings(&settings.Notification)
	if err != nil {
		return nil, err
	}
	s.Notify = notification.NewService(settings.Notification.BufferSize, log.Module("notification"), pushers...)
	s.onClose(s.Notify.Stop)

	client := httpclient.New(nil)
	s.onClose(client.Close)

	s.Images = imageloader.New(client, settings.BlobStore.BaseURL, &settings.ImageLoader, log, s.Metrics.ImageLoader)

	s.Text, err = textservice.New(&settings.TextService, client, log)
	switch {
	case errors.Is(err, textservice.ErrDisabled):
		s.Text = nil
	case err != nil:
		return nil, err
	}

	log.Info("services ready",
		logger.String("device_id", settings.Main.DeviceID),
		logger.Bool("sync", feed != nil),
		logger.String("blob_backend", s.Blobs.Name()),
		logger.Bool("text_service", s.Text != nil))
	return s, nil
}

// openFeed connects to the sync broker. It returns nil when sync is disabled.
func (s *Services) openFeed(ctx context.Context) (*mqtt.Feed, error) {
	if !s.Settings.Sync.Enabled {
		return nil, nil
	}
	cfg := mqtt.ConfigFromSettings(s.Settings)
	log := s.Log.Module("mqtt")
	client := mqtt.NewClient(cfg, log, s.Metrics.MQTT)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	s.onClose(client.Disconnect)
	return mqtt.NewFeed(client, cfg.TopicPrefix, s.Settings.Main.DeviceID, log), nil
}

func (s *Services) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// LocalBlobRoot returns the directory of the local blob backend, or "" for
// remote backends.
func (s *Services) LocalBlobRoot() string {
	if local, ok := s.Blobs.Store.(*blobstore.LocalStore); ok {
		return local.Root()
	}
	return ""
}

// Close closes the services in reverse opening order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
