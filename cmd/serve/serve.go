package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/fieldpin/internal/api"
	"github.com/tphakala/fieldpin/internal/app"
	"github.com/tphakala/fieldpin/internal/buildinfo"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// Command creates the command that runs the HTTP API until interrupted.
func Command(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation API server",
		Long:  "Open the document and blob stores, join the sync feed when enabled and serve the HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings, info)
		},
	}

	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", viper.GetString("webserver.listen"), "Listen address of the HTTP API")
	cmd.Flags().BoolVar(&settings.Telemetry.Metrics.Enabled, "metrics", viper.GetBool("telemetry.metrics.enabled"), "Expose Prometheus metrics on /metrics")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, info *buildinfo.Info) error {
	log := logger.Global().Module("serve")

	svc, err := app.Open(ctx, settings, logger.Global().Module("app"))
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := []api.ServerOption{
		api.WithLogger(logger.Global().Module("http")),
		api.WithDocuments(svc.Docs),
		api.WithBlobs(svc.Blobs),
		api.WithBuildInfo(info),
		api.WithTextService(svc.Text),
	}
	if root := svc.LocalBlobRoot(); root != "" {
		opts = append(opts, api.WithBlobRoot(root))
	}
	if settings.Telemetry.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(svc.Metrics))
	}

	server, err := api.New(&settings.WebServer, opts...)
	if err != nil {
		return err
	}
	server.Start()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
