// Package screen composes one annotation screen: reference image loading,
// tracking, the anchor frame, the synchronized stores, node reconciliation and
// tap handling, all bound to a single session context.
package screen

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/fieldpin/internal/anchor"
	"github.com/tphakala/fieldpin/internal/annotations"
	"github.com/tphakala/fieldpin/internal/blobstore"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/docstore"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/imageloader"
	"github.com/tphakala/fieldpin/internal/interaction"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/nodes"
	"github.com/tphakala/fieldpin/internal/notification"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
	"github.com/tphakala/fieldpin/internal/procedures"
	"github.com/tphakala/fieldpin/internal/session"
	"github.com/tphakala/fieldpin/internal/tracking"
)

// defaultPhysicalWidth is used when settings leave the width unset, in meters.
const defaultPhysicalWidth = 0.2

// ImageLoader loads reference images by name.
type ImageLoader interface {
	Load(ctx context.Context, name string) (imageloader.ReferenceImage, error)
}

// Deps are the collaborators shared by screens.
type Deps struct {
	Settings *conf.TrackingSettings
	Images   ImageLoader
	Tracker  tracking.Tracker
	Docs     docstore.Store
	Blobs    blobstore.Store
	Renderer nodes.Renderer
	Notify   *notification.Service
	Log      logger.Logger
	Metrics  *metrics.SyncMetrics
	// OnIntent receives open and delete requests for tapped nodes, on the loop.
	OnIntent func(interaction.Intent)
}

// Screen is an open annotation screen.
type Screen struct {
	container string
	ref       imageloader.ReferenceImage
	width     float64
	sc        *session.Context
	log       logger.Logger

	annotations *annotations.Store
	procedures  *procedures.Store
	tracking    *tracking.Session
	notes       *nodes.Manager
	pins        *nodes.Manager
	ctrl        *interaction.Controller

	// loop owned
	frame   *anchor.Frame
	looking *time.Timer

	closeOnce sync.Once
	closeErr  error
}

// Open loads the reference image of container, subscribes to its annotations
// and procedures and starts tracking. A failed image load is returned as is;
// there is no retry.
func Open(ctx context.Context, container string, deps Deps) (*Screen, error) {
	if container == "" {
		return nil, errors.ValidationError("container name is required")
	}
	log := deps.Log.Module("screen").With(logger.String("container", container))

	ref, err := deps.Images.Load(ctx, container)
	if err != nil {
		log.Warn("reference image load failed", logger.Error(err))
		return nil, err
	}

	width := defaultPhysicalWidth
	var stillLooking time.Duration
	if deps.Settings != nil {
		if deps.Settings.PhysicalWidth > 0 {
			width = deps.Settings.PhysicalWidth
		}
		stillLooking = deps.Settings.StillLookingAt
	}

	sc := session.New(context.WithoutCancel(ctx), container, deps.Log, deps.Notify)
	s := &Screen{
		container:   container,
		ref:         ref,
		width:       width,
		sc:          sc,
		log:         log,
		annotations: annotations.New(deps.Docs, deps.Blobs, sc.Post, deps.Log, deps.Metrics),
		procedures:  procedures.New(deps.Docs, deps.Blobs, sc.Post, deps.Log, deps.Metrics),
	}
	s.notes = nodes.NewManager(deps.Renderer, annotationSnapshot(s.annotations), deps.Log)
	s.pins = nodes.NewManager(deps.Renderer, procedureSnapshot(s.procedures), deps.Log)
	s.tracking = tracking.NewSession(sc, deps.Tracker, s.onTracking)
	s.ctrl = interaction.NewController(interaction.Config{
		Session: sc,
		Surface: s.tracking,
		Frame:   func() *anchor.Frame { return s.frame },
		Layers: []interaction.Layer{
			{Name: interaction.LayerAnnotations, Nodes: s.notes},
			{Name: interaction.LayerProcedureSteps, Nodes: s.pins},
		},
		Annotations: s.annotations,
		Steps:       s.procedures,
		OnIntent:    deps.OnIntent,
	})

	if err := s.open(ctx, stillLooking); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Screen) open(ctx context.Context, stillLooking time.Duration) error {
	if err := s.annotations.Subscribe(s.sc.Context(), s.container, func(events []annotations.Event) {
		s.notes.Apply(changes(events, annotationEntity))
	}); err != nil {
		return err
	}
	for _, kind := range []model.ProcedureKind{model.KindManual, model.KindAI} {
		if err := s.procedures.Subscribe(s.sc.Context(), kind, s.container, func(events []procedures.Event) {
			s.pins.Apply(changes(events, procedureEntity))
		}); err != nil {
			return err
		}
	}

	var startErr error
	if err := s.sc.Loop().Call(ctx, func() {
		startErr = s.tracking.Start(s.sc.Context(), s.ref, s.width)
		if startErr == nil && stillLooking > 0 {
			s.looking = time.AfterFunc(stillLooking, func() { s.sc.Post(s.stillLooking) })
		}
	}); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}
	s.log.Info("screen opened",
		logger.String("reference_image", s.ref.URL),
		logger.Float64("physical_width", s.width))
	return nil
}

// onTracking runs on the loop.
func (s *Screen) onTracking(ev tracking.Event) {
	switch ev.Type {
	case tracking.AnchorAdded:
		if s.frame != nil {
			s.log.Warn("ignoring anchor while a frame is active",
				logger.String("active", s.frame.AnchorID()),
				logger.String("anchor_id", ev.AnchorID))
			return
		}
		frame, err := anchor.New(ev)
		if err != nil {
			s.sc.Report(err)
			return
		}
		s.frame = frame
		s.stopLooking()
		s.notes.AttachFrame(frame)
		s.pins.AttachFrame(frame)
		s.log.Info("anchor frame established",
			logger.String("anchor_id", frame.AnchorID()),
			logger.Int("annotations", s.notes.Len()),
			logger.Int("step_pins", s.pins.Len()))

	case tracking.AnchorInvalidated:
		if s.frame == nil {
			return
		}
		s.notes.DetachFrame()
		s.pins.DetachFrame()
		s.log.Info("anchor frame dropped", logger.String("anchor_id", s.frame.AnchorID()))
		s.frame = nil
	}
}

func (s *Screen) stillLooking() {
	if s.frame != nil || s.looking == nil {
		return
	}
	s.looking = nil
	s.sc.Info(notification.KindStillLooking,
		"Still looking for the reference image",
		"Point the camera at "+s.container+" and hold steady.")
}

func (s *Screen) stopLooking() {
	if s.looking != nil {
		s.looking.Stop()
		s.looking = nil
	}
}

// Container returns the screen's container name.
func (s *Screen) Container() string { return s.container }

// Session returns the session context of the screen.
func (s *Screen) Session() *session.Context { return s.sc }

// Annotations returns the annotation store of the screen.
func (s *Screen) Annotations() *annotations.Store { return s.annotations }

// Procedures returns the procedure store of the screen.
func (s *Screen) Procedures() *procedures.Store { return s.procedures }

// call runs fn on the loop and waits for it.
func (s *Screen) call(ctx context.Context, fn func()) error {
	return s.sc.Loop().Call(ctx, fn)
}

// Detected reports whether an anchor frame is active.
func (s *Screen) Detected(ctx context.Context) (bool, error) {
	var ok bool
	err := s.call(ctx, func() { ok = s.frame != nil })
	return ok, err
}

// Tap handles a tap. Surface hits return a placement to confirm with Create.
func (s *Screen) Tap(ctx context.Context, point tracking.ScreenPoint) (interaction.Outcome, interaction.Placement, error) {
	var outcome interaction.Outcome
	var placement interaction.Placement
	err := s.call(ctx, func() { outcome, placement = s.ctrl.HandleTap(point) })
	return outcome, placement, err
}

// Create confirms a placement as a new annotation and returns its id.
func (s *Screen) Create(ctx context.Context, p interaction.Placement, text, category string) (string, error) {
	var id string
	var createErr error
	if err := s.call(ctx, func() { id, createErr = s.ctrl.CreateAnnotation(p, text, category) }); err != nil {
		return "", err
	}
	return id, createErr
}

// Delete deletes an annotation in the background.
func (s *Screen) Delete(ctx context.Context, id string) error {
	return s.call(ctx, func() { s.ctrl.DeleteAnnotation(id) })
}

// PlaceStep pins a procedure step at the surface under point.
func (s *Screen) PlaceStep(ctx context.Context, point tracking.ScreenPoint, kind model.ProcedureKind, id string, step int) (bool, error) {
	var ok bool
	err := s.call(ctx, func() { ok = s.ctrl.PlaceProcedureStep(point, kind, id, step) })
	return ok, err
}

// Pause stops tracking and drops the frame.
func (s *Screen) Pause(ctx context.Context) error {
	return s.call(ctx, func() {
		s.stopLooking()
		s.tracking.Pause()
	})
}

// Resume restarts tracking after Pause.
func (s *Screen) Resume(ctx context.Context) error {
	var startErr error
	if err := s.call(ctx, func() { startErr = s.tracking.Start(s.sc.Context(), s.ref, s.width) }); err != nil {
		return err
	}
	return startErr
}

// View is the rendered state of a screen.
type View struct {
	Detected    bool
	AnchorID    string
	Annotations []nodes.Node
	StepPins    []nodes.Node
}

// View returns the rendered state.
func (s *Screen) View(ctx context.Context) (View, error) {
	var v View
	err := s.call(ctx, func() {
		v.Detected = s.frame != nil
		if s.frame != nil {
			v.AnchorID = s.frame.AnchorID()
		}
		v.Annotations = s.notes.Nodes()
		v.StepPins = s.pins.Nodes()
	})
	return v, err
}

// Close releases the subscriptions, stops tracking and closes the session.
// Writes in flight complete; their results are dropped.
func (s *Screen) Close() error {
	s.closeOnce.Do(func() {
		s.annotations.Unsubscribe()
		s.procedures.Unsubscribe()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.call(ctx, func() {
			s.stopLooking()
			s.tracking.Pause()
		}); err != nil {
			s.log.Warn("tracking stop failed", logger.Error(err))
		}

		s.closeErr = s.sc.Close()
		s.log.Info("screen closed")
	})
	return s.closeErr
}
