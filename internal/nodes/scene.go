package nodes

import (
	"math"
	"sync"

	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/tracking"
)

// DefaultHitRadius is the Scene hit radius in screen units.
const DefaultHitRadius = 0.05

// Scene is an in-memory Renderer. Nodes project onto the screen through
// Project; the delete control sits up and to the right of the node body.
// It is used by the headless session command and in tests.
type Scene struct {
	// Project maps a world position to screen coordinates. Defaults to the
	// top-down view (x, z).
	Project func(world geom.Vec3) tracking.ScreenPoint
	Radius  float64

	mu       sync.Mutex
	attached map[string]Node
	attaches int
	detaches int
}

// NewScene creates an empty scene with the default projection.
func NewScene() *Scene {
	return &Scene{Radius: DefaultHitRadius, attached: make(map[string]Node)}
}

func (s *Scene) project(world geom.Vec3) tracking.ScreenPoint {
	if s.Project != nil {
		return s.Project(world)
	}
	return tracking.ScreenPoint{X: world.X, Y: world.Z}
}

// Attach implements Renderer.
func (s *Scene) Attach(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[n.Key] = *n
	s.attaches++
	return nil
}

// Detach implements Renderer.
func (s *Scene) Detach(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attached[n.Key]; ok {
		delete(s.attached, n.Key)
		s.detaches++
	}
}

// HitTest implements Renderer. Delete controls take precedence over bodies;
// among bodies the closest wins.
func (s *Scene) HitTest(point tracking.ScreenPoint) (string, Part, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.Radius
	if r <= 0 {
		r = DefaultHitRadius
	}

	best, bestDist := "", math.Inf(1)
	for key, n := range s.attached {
		p := s.project(n.World)
		control := tracking.ScreenPoint{X: p.X + r, Y: p.Y - r}
		if dist(point, control) <= r/2 {
			return key, PartDelete, true
		}
		if d := dist(point, p); d <= r && d < bestDist {
			best, bestDist = key, d
		}
	}
	if best == "" {
		return "", PartBody, false
	}
	return best, PartBody, true
}

// DeleteControl returns the screen point of the delete control of key.
func (s *Scene) DeleteControl(key string) (tracking.ScreenPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.attached[key]
	if !ok {
		return tracking.ScreenPoint{}, false
	}
	r := s.Radius
	if r <= 0 {
		r = DefaultHitRadius
	}
	p := s.project(n.World)
	return tracking.ScreenPoint{X: p.X + r, Y: p.Y - r}, true
}

// Attached returns the attached node for key.
func (s *Scene) Attached(key string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.attached[key]
	return n, ok
}

// Len returns the number of attached nodes.
func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

// Counts returns the number of attach and detach calls so far.
func (s *Scene) Counts() (attaches, detaches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches, s.detaches
}

func dist(a, b tracking.ScreenPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
