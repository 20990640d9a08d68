package notify

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/notification"
)

// Command returns a cobra command that sends a test message through the
// configured push services.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		level     string
		kind      string
		title     string
		message   string
		component string
		wait      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification to the configured push services",
		Long: `Send a test notification through the notification service.

Examples:
  # Basic notification
  fieldpin notify --level=error --title="Test" --message="Hello"

  # Messages below notification.push.minlevel are not pushed
  fieldpin notify --level=info --kind=still-looking`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch notification.Level(level) {
			case notification.LevelInfo, notification.LevelWarning, notification.LevelError:
			default:
				return fmt.Errorf("invalid level: %s", level)
			}
			if !settings.Notification.Push.Enabled {
				return fmt.Errorf("push notifications are disabled, set notification.push.enabled in the config")
			}

			pushers, err := notification.NewPushersFromSettings(&settings.Notification)
			if err != nil {
				return fmt.Errorf("failed to create push services: %w", err)
			}
			service := notification.NewService(settings.Notification.BufferSize, logger.Global().Module("notification"), pushers...)

			msg := notification.NewMessage(notification.Level(level), notification.Kind(kind), title, message).
				WithComponent(component)
			service.Publish(msg)

			fmt.Fprintf(cmd.OutOrStdout(), "Notification sent: id=%s level=%s kind=%s\n", msg.ID, msg.Level, msg.Kind)
			// pushes are sent in the background and dropped on Stop
			if wait > 0 {
				time.Sleep(wait)
			}
			service.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", string(notification.LevelError), "Notification level: error|warning|info")
	cmd.Flags().StringVar(&kind, "kind", string(notification.KindGeneral), "Notification kind")
	cmd.Flags().StringVar(&title, "title", "Test Notification", "Notification title")
	cmd.Flags().StringVar(&message, "message", "This is a test push notification", "Notification message")
	cmd.Flags().StringVar(&component, "component", "cli", "Notification component tag")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "Time to wait for push delivery (0 to disable)")

	return cmd
}
