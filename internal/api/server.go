// Package api provides the HTTP server: a JSON API over annotations and
// procedures, a websocket stream of annotation changes, local blob serving,
// metrics and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/fieldpin/internal/annotations"
	"github.com/tphakala/fieldpin/internal/api/middleware"
	"github.com/tphakala/fieldpin/internal/blobstore"
	"github.com/tphakala/fieldpin/internal/buildinfo"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
	"github.com/tphakala/fieldpin/internal/procedures"
	"github.com/tphakala/fieldpin/internal/textservice"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Server is the FieldPin HTTP server.
type Server struct {
	echo     *echo.Echo
	settings *conf.WebServerSettings
	log      logger.Logger
	build    *buildinfo.Info

	docs        docstore.Store
	blobs       blobstore.Store
	blobRoot    string
	metrics     *observability.Metrics
	syncMetrics *metrics.SyncMetrics
	text        *textservice.Client

	annotations *annotations.Store
	procedures  *procedures.Store

	upgrader websocket.Upgrader
	streams  sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithDocuments sets the document store the API reads and writes.
func WithDocuments(docs docstore.Store) ServerOption {
	return func(s *Server) { s.docs = docs }
}

// WithBlobs sets the blob store used for media uploads and deletes.
func WithBlobs(blobs blobstore.Store) ServerOption {
	return func(s *Server) { s.blobs = blobs }
}

// WithBlobRoot serves the local blob backend rooted at dir under /blobs.
func WithBlobRoot(dir string) ServerOption {
	return func(s *Server) { s.blobRoot = dir }
}

// WithMetrics exposes the registry on /metrics and records sync metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
		if m != nil {
			s.syncMetrics = m.Sync
		}
	}
}

// WithTextService enables the ticket and procedure draft endpoints.
func WithTextService(c *textservice.Client) ServerOption {
	return func(s *Server) { s.text = c }
}

// WithBuildInfo sets the build metadata reported by /health.
func WithBuildInfo(info *buildinfo.Info) ServerOption {
	return func(s *Server) { s.build = info }
}

// New creates a server. A document store is required.
func New(settings *conf.WebServerSettings, opts ...ServerOption) (*Server, error) {
	if settings == nil {
		settings = &conf.WebServerSettings{Listen: ":8080"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		settings:  settings,
		log:       logger.NewDiscardLogger(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origins are enforced by the CORS middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.docs == nil {
		cancel()
		return nil, fmt.Errorf("api server requires a document store")
	}
	s.log = s.log.Module("api")

	s.annotations = annotations.New(s.docs, s.blobs, nil, s.log, s.syncMetrics)
	s.procedures = procedures.New(s.docs, s.blobs, nil, s.log, s.syncMetrics)

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = DefaultReadTimeout
	s.echo.Server.WriteTimeout = DefaultWriteTimeout
	s.echo.Server.IdleTimeout = DefaultIdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", settings.Listen),
		logger.Bool("metrics", s.metrics != nil),
		logger.Bool("text_service", s.text != nil))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(middleware.RequestLog(s.log.Module("http"), "/health", "/metrics"))
	s.echo.Use(middleware.Protection(s.settings)...)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler(s.log)))
	}
	if s.blobRoot != "" {
		s.echo.Static("/blobs", s.blobRoot)
	}

	v1 := s.echo.Group("/api/v1")

	v1.GET("/containers/:container/annotations", s.listAnnotations)
	v1.POST("/containers/:container/annotations", s.createAnnotation)
	v1.GET("/containers/:container/stream", s.streamAnnotations)
	v1.GET("/annotations/:id", s.getAnnotation)
	v1.PUT("/annotations/:id", s.updateAnnotation)
	v1.DELETE("/annotations/:id", s.deleteAnnotation)
	v1.GET("/annotations/:id/details", s.getDetails)
	v1.PUT("/annotations/:id/details", s.saveDetails)
	v1.DELETE("/annotations/:id/details/steps/:step", s.removeDetailStep)
	v1.POST("/annotations/:id/details/steps/:step/media", s.addDetailMedia)
	v1.DELETE("/annotations/:id/details/steps/:step/media/:media", s.removeDetailMedia)

	v1.GET("/containers/:container/procedures", s.listProcedures)
	v1.POST("/containers/:container/procedures", s.createProcedure)
	v1.GET("/procedures/:id", s.getProcedure)
	v1.PUT("/procedures/:id", s.saveProcedure)
	v1.DELETE("/procedures/:id", s.deleteProcedure)
	v1.PUT("/procedures/:id/steps/:step/position", s.pinProcedureStep)
	v1.POST("/procedures/:id/steps/:step/media", s.attachProcedureMedia)

	v1.POST("/containers/:container/procedures/drafts", s.draftProcedure)
	v1.POST("/tickets/drafts", s.draftTicket)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.build.GetVersion(),
		"build_date":     s.build.GetBuildDate(),
		"device_id":      s.build.GetDeviceID(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests in a background goroutine. Use Shutdown
// to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("server error", logger.Error(err))
		}
	}()
}

// startBlocking serves requests until the server is shut down.
func (s *Server) startBlocking() error {
	s.log.Info("starting HTTP server", logger.String("address", s.settings.Listen))
	if err := s.echo.Start(s.settings.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and closes open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	// streams are hijacked connections the http server does not track
	s.cancel()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultShutdownTimeout)
		defer cancel()
	}

	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("streams did not close before shutdown deadline")
	}

	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
