package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpin/internal/app"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/interaction"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/nodes"
	"github.com/tphakala/fieldpin/internal/notification"
	"github.com/tphakala/fieldpin/internal/screen"
	"github.com/tphakala/fieldpin/internal/tracking"
)

const pollInterval = 100 * time.Millisecond

type options struct {
	detectAfter time.Duration
	timeout     time.Duration
	tap         []float64
	text        string
	category    string
}

// Command returns a command that opens an annotation screen with a scripted
// tracker and prints the nodes it renders. It exercises the same stores and
// change feed as a device, which makes it useful for checking an installation.
func Command(settings *conf.Settings) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "session <container>",
		Short: "Run a headless annotation session for a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.tap) != 0 && len(opts.tap) != 2 {
				return fmt.Errorf("--tap needs two values, got %d", len(opts.tap))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return run(ctx, cmd.OutOrStdout(), settings, args[0], opts)
		},
	}
	cmd.Flags().DurationVar(&opts.detectAfter, "detect-after", 500*time.Millisecond, "Delay before the scripted tracker detects the reference image")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "Overall session timeout")
	cmd.Flags().Float64SliceVar(&opts.tap, "tap", nil, "Tap the screen at x,y after detection")
	cmd.Flags().StringVar(&opts.text, "text", "", "Create an annotation with this text at the tapped surface")
	cmd.Flags().StringVar(&opts.category, "category", "", "Category of the created annotation")
	return cmd
}

func run(ctx context.Context, out io.Writer, settings *conf.Settings, container string, opts options) error {
	log := logger.Global().Module("session")
	svc, err := app.Open(ctx, settings, logger.Global().Module("app"))
	if err != nil {
		return err
	}
	defer svc.Close()

	var wg sync.WaitGroup
	msgs, msgCtx := svc.Notify.Subscribe()
	defer func() {
		svc.Notify.Unsubscribe(msgs)
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		printMessages(ctx, msgCtx, out, msgs)
	}()

	scr, err := screen.Open(ctx, container, screen.Deps{
		Settings: &settings.Tracking,
		Images:   svc.Images,
		Tracker:  &tracking.ScriptedTracker{Pose: geom.Identity, DetectAfter: opts.detectAfter},
		Docs:     svc.Docs,
		Blobs:    svc.Blobs,
		Renderer: nodes.NewScene(),
		Notify:   svc.Notify,
		Log:      log,
		Metrics:  svc.Metrics.Sync,
		OnIntent: func(in interaction.Intent) {
			fmt.Fprintf(out, "intent: %s %s\n", in.Action, in.EntityID)
		},
	})
	if err != nil {
		return err
	}
	defer scr.Close() //nolint:errcheck // session teardown, errors logged by the screen

	if err := waitFor(ctx, func() (bool, error) { return scr.Detected(ctx) }); err != nil {
		return fmt.Errorf("reference image not detected: %w", err)
	}

	if len(opts.tap) == 2 {
		if err := tap(ctx, out, scr, tracking.ScreenPoint{X: opts.tap[0], Y: opts.tap[1]}, opts); err != nil {
			return err
		}
	}

	view, err := scr.View(ctx)
	if err != nil {
		return err
	}
	printView(out, container, view)
	return nil
}

func tap(ctx context.Context, out io.Writer, scr *screen.Screen, point tracking.ScreenPoint, opts options) error {
	outcome, placement, err := scr.Tap(ctx, point)
	if err != nil {
		return err
	}
	if outcome != interaction.OutcomePlace {
		fmt.Fprintf(out, "tap at (%.2f, %.2f) hit no surface\n", point.X, point.Y)
		return nil
	}
	fmt.Fprintf(out, "tap resolved to local %s\n", placement.Local)
	if opts.text == "" {
		return nil
	}

	id, err := scr.Create(ctx, placement, opts.text, opts.category)
	if err != nil {
		return err
	}
	// the node appears once the change feed delivers the write
	return waitFor(ctx, func() (bool, error) {
		view, err := scr.View(ctx)
		if err != nil {
			return false, err
		}
		for _, n := range view.Annotations {
			if n.EntityID == id {
				return true, nil
			}
		}
		return false, nil
	})
}

func waitFor(ctx context.Context, cond func() (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := cond()
		if err != nil || ok {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printMessages(ctx, msgCtx context.Context, out io.Writer, msgs <-chan *notification.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-msgCtx.Done():
			return
		case msg := <-msgs:
			fmt.Fprintf(out, "[%s] %s: %s\n", msg.Level, msg.Title, msg.Body)
		}
	}
}

func printView(out io.Writer, container string, view screen.View) {
	fmt.Fprintf(out, "container %s, anchor %s\n", container, view.AnchorID)
	fmt.Fprintf(out, "annotations: %d\n", len(view.Annotations))
	for _, n := range view.Annotations {
		fmt.Fprintf(out, "  %-36s %-24s local %s world %s\n", n.EntityID, n.Label, n.Local, n.World)
	}
	fmt.Fprintf(out, "step pins: %d\n", len(view.StepPins))
	for _, n := range view.StepPins {
		fmt.Fprintf(out, "  %-36s %-24s local %s\n", n.EntityID, n.Label, n.Local)
	}
}
