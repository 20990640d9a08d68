package sync

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/mqtt"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// Command returns the sync command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect the change feed between devices",
	}
	cmd.AddCommand(checkCommand(settings))
	return cmd
}

func checkCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the sync broker is reachable and accepts messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if settings.Sync.Broker == "" {
				return fmt.Errorf("sync.broker is not configured")
			}
			log := logger.Global().Module("sync")
			// metrics are not exported by this command
			var m *metrics.MQTTMetrics
			client := mqtt.NewClient(mqtt.ConfigFromSettings(settings), log, m)
			defer client.Disconnect()

			checks := client.Diagnose(cmd.Context())
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			var failed error
			for _, c := range checks {
				status := "ok"
				if c.Err != nil {
					status = c.Err.Error()
					failed = c.Err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Step, c.Took.Round(time.Millisecond), status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed != nil {
				return fmt.Errorf("sync check failed: %w", failed)
			}
			return nil
		},
	}
}
