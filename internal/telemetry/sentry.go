// Package telemetry initializes Sentry error reporting. Reports are opt-in
// and every event is scrubbed before it leaves the device.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/fieldpin/internal/buildinfo"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/privacy"
)

// flushTimeout bounds the wait for queued events on shutdown.
const flushTimeout = 2 * time.Second

// Option adjusts the Sentry client options, mainly for tests.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// Init configures Sentry and installs the error reporter. When telemetry is
// disabled it installs nothing and returns a no-op shutdown.
func Init(settings *conf.TelemetrySettings, info *buildinfo.Info, log logger.Logger, opts ...Option) (shutdown func(), err error) {
	noop := func() {}
	if settings == nil || !settings.Sentry.Enabled {
		errors.SetTelemetryReporter(nil)
		return noop, nil
	}
	if settings.Sentry.DSN == "" {
		return noop, errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	options := sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Sentry.Environment,
		ServerName:       "",
		Release:          fmt.Sprintf("fieldpin@%s", info.GetVersion()),
		BeforeSend:       beforeSend,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if err := sentry.Init(options); err != nil {
		return noop, fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Module("telemetry").Info("error reporting enabled",
		logger.String("environment", settings.Sentry.Environment),
		logger.String("release", options.Release))

	return func() {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// beforeSend removes identifying data and scrubs free text.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
