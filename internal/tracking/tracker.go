// Package tracking wraps the host platform's image-based world tracking. A
// Session runs a Tracker for exactly one reference image and reports the
// first recognition of it as a single AnchorAdded event on the session loop.
package tracking

import (
	"context"

	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/imageloader"
)

// EventType is the kind of tracking event.
type EventType string

const (
	AnchorAdded       EventType = "anchor-added"
	AnchorInvalidated EventType = "anchor-invalidated"
)

// Anchor is a tracked anchor. Its transform maps anchor-local coordinates to
// world coordinates and may be refined by the platform at any time.
type Anchor interface {
	ID() string
	Transform() geom.Transform
}

// Event is delivered to the session handler on the session loop.
type Event struct {
	Type          EventType
	AnchorID      string
	IsImageAnchor bool
	Anchor        Anchor // nil for AnchorInvalidated
}

// ScreenPoint is a point in view coordinates.
type ScreenPoint struct {
	X, Y float64
}

// RunConfig configures one tracking run.
type RunConfig struct {
	Image         imageloader.ReferenceImage
	PhysicalWidth float64 // meters
}

// Tracker is the platform capability. Run starts detection and returns once the
// run is configured; emit may be called from any goroutine until Pause returns.
// A tracker may emit AnchorAdded more than once per run.
type Tracker interface {
	Run(ctx context.Context, cfg RunConfig, emit func(Event)) error
	Pause()
	// HitTest resolves a screen point against detected surfaces and returns
	// the world position of the hit.
	HitTest(point ScreenPoint) (geom.Vec3, bool)
}
