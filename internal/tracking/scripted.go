package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
)

// MovableAnchor is an anchor whose transform can be refined concurrently.
type MovableAnchor struct {
	id string

	mu        sync.RWMutex
	transform geom.Transform
}

// NewMovableAnchor creates an anchor at transform.
func NewMovableAnchor(id string, transform geom.Transform) *MovableAnchor {
	return &MovableAnchor{id: id, transform: transform}
}

func (a *MovableAnchor) ID() string { return a.id }

func (a *MovableAnchor) Transform() geom.Transform {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transform
}

// Refine replaces the anchor transform.
func (a *MovableAnchor) Refine(t geom.Transform) {
	a.mu.Lock()
	a.transform = t
	a.mu.Unlock()
}

// ScriptedTracker is a Tracker for headless runs and tests. It "detects" the
// reference image when Detect is called, or after DetectAfter when set, and
// emits from its own goroutine like a platform tracker would.
type ScriptedTracker struct {
	// Pose is the world transform of the detected image
	Pose geom.Transform
	// DetectAfter triggers detection automatically; zero waits for Detect
	DetectAfter time.Duration
	// Surface resolves screen points; nil uses the y=0 floor plane with
	// screen (x, y) mapped to world (x, 0, y)
	Surface func(ScreenPoint) (geom.Vec3, bool)
	// FailRun makes Run return an error
	FailRun error

	mu      sync.Mutex
	emit    func(Event)
	anchor  *MovableAnchor
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastCfg RunConfig
	runs    int
}

// Run implements Tracker.
func (t *ScriptedTracker) Run(ctx context.Context, cfg RunConfig, emit func(Event)) error {
	if t.FailRun != nil {
		return t.FailRun
	}
	if cfg.PhysicalWidth <= 0 {
		return errors.NewStd("scripted tracker: physical width must be positive")
	}

	t.Pause()

	t.mu.Lock()
	defer t.mu.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	t.emit = emit
	t.cancel = cancel
	t.lastCfg = cfg
	t.runs++
	t.anchor = NewMovableAnchor(uuid.NewString(), t.Pose)

	if t.DetectAfter > 0 {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			timer := time.NewTimer(t.DetectAfter)
			defer timer.Stop()
			select {
			case <-runCtx.Done():
			case <-timer.C:
				t.Detect()
			}
		}()
	}
	return nil
}

// Pause implements Tracker.
func (t *ScriptedTracker) Pause() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.emit = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// Detect emits AnchorAdded for the current run. Calling it again simulates a
// re-detection of the same image.
func (t *ScriptedTracker) Detect() {
	t.mu.Lock()
	emit, anchor := t.emit, t.anchor
	t.mu.Unlock()
	if emit == nil {
		return
	}
	emit(Event{Type: AnchorAdded, AnchorID: anchor.ID(), IsImageAnchor: true, Anchor: anchor})
}

// Anchor returns the anchor of the current run, nil before the first Run.
func (t *ScriptedTracker) Anchor() *MovableAnchor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.anchor
}

// Runs returns how many times Run succeeded.
func (t *ScriptedTracker) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// LastConfig returns the configuration of the latest run.
func (t *ScriptedTracker) LastConfig() RunConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCfg
}

// HitTest implements Tracker.
func (t *ScriptedTracker) HitTest(point ScreenPoint) (geom.Vec3, bool) {
	if t.Surface != nil {
		return t.Surface(point)
	}
	return geom.Vec3{X: point.X, Y: 0, Z: point.Y}, true
}
