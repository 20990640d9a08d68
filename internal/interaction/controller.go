// Package interaction turns taps into annotation intents. A tap first hits
// existing nodes, then detected surfaces. Creation needs an anchor frame; the
// created annotation is rendered only when the change feed echoes it back.
package interaction

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tphakala/fieldpin/internal/anchor"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/nodes"
	"github.com/tphakala/fieldpin/internal/session"
	"github.com/tphakala/fieldpin/internal/tracking"
)

// AnnotationWriter writes annotations to the backing store.
type AnnotationWriter interface {
	Create(ctx context.Context, a model.Annotation) error
	Delete(ctx context.Context, id string) error
}

// StepPinner stores the position of a procedure step.
type StepPinner interface {
	PinStep(ctx context.Context, kind model.ProcedureKind, id string, step int, local geom.Vec3) error
}

// SurfaceHitTester resolves screen points against detected surfaces.
type SurfaceHitTester interface {
	HitTest(point tracking.ScreenPoint) (geom.Vec3, bool)
}

// NodeHitTester resolves screen points against attached nodes.
type NodeHitTester interface {
	HitTest(point tracking.ScreenPoint) (nodes.Hit, bool)
}

// Layer is a named node set checked on tap, in order.
type Layer struct {
	Name  string
	Nodes NodeHitTester
}

// Layer names used by the screen.
const (
	LayerAnnotations    = "annotations"
	LayerProcedureSteps = "procedure-steps"
)

// Action is what a tap on a node asks for.
type Action string

const (
	ActionOpen   Action = "open"
	ActionDelete Action = "delete"
)

// Intent is a request to open or delete an existing entity.
type Intent struct {
	Action   Action
	Layer    string
	EntityID string
	Key      string
}

// Outcome classifies a handled tap.
type Outcome int

const (
	OutcomeNone    Outcome = iota // missed everything
	OutcomeIntent                 // hit a node; intent delivered
	OutcomePlace                  // hit a surface; placement ready to confirm
	OutcomePending                // no frame yet; DetectionPending reported
)

// Placement is a surface hit resolved against a frame snapshot.
type Placement struct {
	AnchorID string
	World    geom.Vec3
	Local    geom.Vec3
}

// Config wires a controller.
type Config struct {
	Session     *session.Context
	Surface     SurfaceHitTester
	Frame       func() *anchor.Frame
	Layers      []Layer
	Annotations AnnotationWriter
	Steps       StepPinner
	OnIntent    func(Intent)
	// OnWritten runs on the loop after each write completes.
	OnWritten func(op, id string, err error)
}

// Controller handles taps on the session loop.
type Controller struct {
	cfg Config
	log logger.Logger
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg, log: cfg.Session.Logger().Module("interaction")}
}

// HandleTap resolves a tap. Node hits deliver an Intent; surface hits return
// a Placement for the caller to confirm with CreateAnnotation.
func (c *Controller) HandleTap(point tracking.ScreenPoint) (Outcome, Placement) {
	for _, layer := range c.cfg.Layers {
		hit, ok := layer.Nodes.HitTest(point)
		if !ok {
			continue
		}
		intent := Intent{Action: ActionOpen, Layer: layer.Name, EntityID: hit.EntityID, Key: hit.Key}
		if hit.Part == nodes.PartDelete {
			intent.Action = ActionDelete
		}
		c.log.Debug("node tapped",
			logger.String("layer", layer.Name),
			logger.String("entity", hit.EntityID),
			logger.String("action", string(intent.Action)))
		if c.cfg.OnIntent != nil {
			c.cfg.OnIntent(intent)
		}
		return OutcomeIntent, Placement{}
	}

	placement, err := c.resolve(point, "create annotation")
	if err != nil {
		c.cfg.Session.Report(err)
		if errors.IsCategory(err, errors.CategoryDetectionPending) {
			return OutcomePending, Placement{}
		}
		return OutcomeNone, Placement{}
	}
	if placement == nil {
		return OutcomeNone, Placement{}
	}
	return OutcomePlace, *placement
}

// resolve hit-tests surfaces and converts the hit to frame-local space. A miss
// returns nil without error.
func (c *Controller) resolve(point tracking.ScreenPoint, op string) (*Placement, error) {
	frame := c.frame()
	if frame == nil {
		return nil, errors.DetectionPending(op)
	}
	world, ok := c.cfg.Surface.HitTest(point)
	if !ok {
		return nil, nil
	}
	snap, err := frame.Snapshot()
	if err != nil {
		return nil, err
	}
	return &Placement{AnchorID: frame.AnchorID(), World: world, Local: snap.LocalPosition(world)}, nil
}

func (c *Controller) frame() *anchor.Frame {
	if c.cfg.Frame == nil {
		return nil
	}
	return c.cfg.Frame()
}

// CreateAnnotation confirms a placement. It returns the new id at once; the
// write runs in the background and failures are reported.
func (c *Controller) CreateAnnotation(p Placement, text, category string) (string, error) {
	frame := c.frame()
	if frame == nil {
		err := errors.DetectionPending("create annotation")
		c.cfg.Session.Report(err)
		return "", err
	}
	// Local is only meaningful in the frame the tap was resolved against.
	if p.AnchorID == "" || p.AnchorID != frame.AnchorID() {
		return "", errors.Newf("placement belongs to anchor %q, not the active frame; tap again", p.AnchorID).
			Component("interaction").
			Category(errors.CategoryValidation).
			Context("active_anchor", frame.AnchorID()).
			Build()
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.ValidationError("annotation text is required")
	}

	a := model.Annotation{
		ID:            uuid.NewString(),
		ContainerName: c.cfg.Session.Container(),
		CategoryName:  category,
		Text:          text,
		Position:      p.Local,
	}
	c.log.Info("creating annotation",
		logger.String("id", a.ID),
		logger.String("local", a.Position.String()))

	c.cfg.Session.GoDetached("create-annotation", func(ctx context.Context) error {
		return c.cfg.Annotations.Create(ctx, a)
	}, func(err error) { c.written("create", a.ID, err) })
	return a.ID, nil
}

// DeleteAnnotation deletes an annotation in the background.
func (c *Controller) DeleteAnnotation(id string) {
	c.cfg.Session.GoDetached("delete-annotation", func(ctx context.Context) error {
		return c.cfg.Annotations.Delete(ctx, id)
	}, func(err error) { c.written("delete", id, err) })
}

// PlaceProcedureStep pins step of a procedure at the surface under point.
// It reports whether a write was started.
func (c *Controller) PlaceProcedureStep(point tracking.ScreenPoint, kind model.ProcedureKind, id string, step int) bool {
	if c.cfg.Steps == nil {
		return false
	}
	placement, err := c.resolve(point, "place procedure step")
	if err != nil {
		c.cfg.Session.Report(err)
		return false
	}
	if placement == nil {
		return false
	}
	local := placement.Local
	c.cfg.Session.GoDetached("pin-step", func(ctx context.Context) error {
		return c.cfg.Steps.PinStep(ctx, kind, id, step, local)
	}, func(err error) { c.written("pin-step", model.StepPinID(id, step), err) })
	return true
}

func (c *Controller) written(op, id string, err error) {
	if err != nil {
		c.log.Warn("write failed", logger.String("op", op), logger.String("id", id), logger.Error(err))
		c.cfg.Session.Report(err)
	}
	if c.cfg.OnWritten != nil {
		c.cfg.OnWritten(op, id, err)
	}
}
