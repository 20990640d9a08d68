// Package anchor provides the coordinate frame established when the reference
// image is recognized. Annotation positions are stored in its local space.
package anchor

import (
	"time"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/tracking"
)

// Frame converts between world and anchor-local coordinates using the
// anchor's transform at call time. Callers that need a stable transform for
// the length of a gesture take a Snapshot.
type Frame struct {
	anchor    tracking.Anchor
	createdAt time.Time
}

// New builds a frame from an AnchorAdded event of an image anchor.
func New(ev tracking.Event) (*Frame, error) {
	if ev.Type != tracking.AnchorAdded || ev.Anchor == nil {
		return nil, errors.Newf("anchor frame needs an anchor-added event, got %q", ev.Type).
			Component("anchor").
			Category(errors.CategoryValidation).
			Build()
	}
	if !ev.IsImageAnchor {
		return nil, errors.Newf("anchor %s is not an image anchor", ev.AnchorID).
			Component("anchor").
			Category(errors.CategoryValidation).
			Build()
	}
	return &Frame{anchor: ev.Anchor, createdAt: time.Now()}, nil
}

// AnchorID returns the id of the underlying anchor.
func (f *Frame) AnchorID() string { return f.anchor.ID() }

// CreatedAt returns when the frame was established.
func (f *Frame) CreatedAt() time.Time { return f.createdAt }

// WorldPosition maps an anchor-local point to world space.
func (f *Frame) WorldPosition(local geom.Vec3) geom.Vec3 {
	return f.anchor.Transform().Apply(local)
}

// LocalPosition maps a world point into anchor-local space.
func (f *Frame) LocalPosition(world geom.Vec3) (geom.Vec3, error) {
	snap, err := f.Snapshot()
	if err != nil {
		return geom.Vec3{}, err
	}
	return snap.LocalPosition(world), nil
}

// Snapshot captures the current anchor transform.
func (f *Frame) Snapshot() (Snapshot, error) {
	toWorld := f.anchor.Transform()
	toLocal, err := toWorld.Inverse()
	if err != nil {
		return Snapshot{}, errors.New(err).
			Component("anchor").
			Category(errors.CategoryTracking).
			Context("anchor_id", f.anchor.ID()).
			Build()
	}
	return Snapshot{toWorld: toWorld, toLocal: toLocal}, nil
}

// Snapshot is a frame transform fixed at capture time.
type Snapshot struct {
	toWorld geom.Transform
	toLocal geom.Transform
}

// LocalPosition maps a world point into anchor-local space.
func (s Snapshot) LocalPosition(world geom.Vec3) geom.Vec3 {
	return s.toLocal.Apply(world)
}

// WorldPosition maps an anchor-local point to world space.
func (s Snapshot) WorldPosition(local geom.Vec3) geom.Vec3 {
	return s.toWorld.Apply(local)
}
