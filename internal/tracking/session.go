package tracking

import (
	"context"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/imageloader"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/session"
)

// Session drives one Tracker for a screen. All state is touched on the
// session loop: Start and Pause must be called from loop tasks, and tracker
// callbacks are re-dispatched onto the loop before they are looked at.
type Session struct {
	sc      *session.Context
	tracker Tracker
	handler func(Event)
	log     logger.Logger

	run      uint64 // incremented per Start and Pause; stale callbacks are dropped
	running  bool
	anchorID string // anchor signaled in the current run
}

// NewSession creates a session delivering events to handler on the loop of sc.
func NewSession(sc *session.Context, tracker Tracker, handler func(Event)) *Session {
	return &Session{
		sc:      sc,
		tracker: tracker,
		handler: handler,
		log:     sc.Logger().Module("tracking"),
	}
}

// Start begins a run looking for ref, restarting (and invalidating any anchor
// of) a previous run. The anchor is signaled once per run, however often the
// tracker re-detects the image.
func (s *Session) Start(ctx context.Context, ref imageloader.ReferenceImage, physicalWidth float64) error {
	if physicalWidth <= 0 {
		return errors.Newf("physical width must be positive, got %g", physicalWidth).
			Component("tracking").
			Category(errors.CategoryValidation).
			Build()
	}
	if ref.Name == "" || ref.Width == 0 || ref.Height == 0 {
		return errors.Newf("reference image %q is not loaded", ref.Name).
			Component("tracking").
			Category(errors.CategoryValidation).
			Build()
	}

	if s.running {
		s.stop("restart")
	}

	s.run++
	run := s.run
	emit := func(ev Event) {
		s.sc.Post(func() { s.dispatch(run, ev) })
	}
	if err := s.tracker.Run(ctx, RunConfig{Image: ref, PhysicalWidth: physicalWidth}, emit); err != nil {
		s.run++
		return errors.New(err).
			Component("tracking").
			Category(errors.CategoryTracking).
			Context("reference_image", ref.Name).
			Build()
	}
	s.running = true

	s.log.Info("tracking started",
		logger.String("reference_image", ref.Name),
		logger.Float64("physical_width", physicalWidth))
	return nil
}

// Pause stops the run and invalidates its anchor, if one was signaled.
func (s *Session) Pause() {
	if !s.running {
		return
	}
	s.stop("pause")
}

// Running reports whether a run is active.
func (s *Session) Running() bool { return s.running }

// HitTest resolves a screen point against the surfaces the tracker knows.
func (s *Session) HitTest(point ScreenPoint) (geom.Vec3, bool) {
	if !s.running {
		return geom.Vec3{}, false
	}
	return s.tracker.HitTest(point)
}

func (s *Session) stop(reason string) {
	s.tracker.Pause()
	s.run++
	s.running = false

	if s.anchorID != "" {
		id := s.anchorID
		s.anchorID = ""
		s.log.Debug("anchor invalidated",
			logger.String("anchor_id", id),
			logger.String("reason", reason))
		s.handler(Event{Type: AnchorInvalidated, AnchorID: id})
	}
}

// dispatch runs on the loop.
func (s *Session) dispatch(run uint64, ev Event) {
	if run != s.run {
		return
	}
	if ev.Type != AnchorAdded {
		// Anchor loss within a run is not signaled; the anchor persists
		return
	}
	if s.anchorID != "" {
		s.log.Trace("re-detection ignored", logger.String("anchor_id", ev.AnchorID))
		return
	}
	if ev.Anchor == nil || !ev.IsImageAnchor {
		s.log.Debug("ignoring non-image anchor", logger.String("anchor_id", ev.AnchorID))
		return
	}

	s.anchorID = ev.AnchorID
	s.log.Info("reference image detected", logger.String("anchor_id", ev.AnchorID))
	s.handler(ev)
}
