// Package nodes keeps the rendered nodes of the active anchor frame in step
// with an entity cache. Every change is applied as remove-then-add; a node is
// never mutated in place.
package nodes

import (
	"slices"
	"strings"

	"github.com/tphakala/fieldpin/internal/anchor"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/livesync"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/tracking"
)

// Item is one node to draw for an entity.
type Item struct {
	Key      string // unique per manager; equals the entity id for annotations
	Label    string
	Position geom.Vec3 // anchor-local
}

// Entity is the render view of one cached entity.
type Entity struct {
	ID    string
	Items []Item
}

// Change is an entity change as seen by the manager. Entity is nil for
// livesync.Removed.
type Change struct {
	Type   livesync.EventType
	ID     string
	Entity *Entity
}

// Node is an attached node.
type Node struct {
	Key      string
	EntityID string
	AnchorID string
	Label    string
	Local    geom.Vec3
	World    geom.Vec3 // at attach time
}

// Part identifies the hit region of a node.
type Part int

const (
	PartBody Part = iota
	PartDelete
)

// Renderer is the host presentation layer.
type Renderer interface {
	Attach(n *Node) error
	Detach(n *Node)
	// HitTest returns the key of the node under point.
	HitTest(point tracking.ScreenPoint) (key string, part Part, ok bool)
}

// Hit is a node hit resolved to its entity.
type Hit struct {
	EntityID string
	Key      string
	Part     Part
}

// Snapshot lists the cached entities in cache order.
type Snapshot func() []Entity

// Manager maps entity ids to attached nodes. All methods run on the session
// loop.
type Manager struct {
	renderer Renderer
	snapshot Snapshot
	log      logger.Logger

	frame *anchor.Frame
	nodes map[string][]*Node // entity id -> nodes
	keys  map[string]string  // node key -> entity id
}

// NewManager creates a manager. snapshot is read once per frame attach.
func NewManager(renderer Renderer, snapshot Snapshot, log logger.Logger) *Manager {
	return &Manager{
		renderer: renderer,
		snapshot: snapshot,
		log:      log.Module("nodes"),
		nodes:    make(map[string][]*Node),
		keys:     make(map[string]string),
	}
}

// Frame returns the attached frame or nil.
func (m *Manager) Frame() *anchor.Frame { return m.frame }

// AttachFrame sets the active frame and adds every cached entity in one pass.
// A second frame is ignored while one is attached.
func (m *Manager) AttachFrame(f *anchor.Frame) bool {
	if f == nil {
		return false
	}
	if m.frame != nil {
		m.log.Warn("ignoring second anchor frame",
			logger.String("active", m.frame.AnchorID()),
			logger.String("ignored", f.AnchorID()))
		return false
	}
	m.frame = f

	entities := m.snapshot()
	for i := range entities {
		m.add(&entities[i])
	}
	m.log.Debug("frame attached",
		logger.String("anchor_id", f.AnchorID()),
		logger.Int("entities", len(entities)))
	return true
}

// DetachFrame removes every node and drops the frame. The cache is untouched,
// so the next AttachFrame renders it again.
func (m *Manager) DetachFrame() {
	if m.frame == nil {
		return
	}
	for id := range m.nodes {
		m.remove(id)
	}
	m.log.Debug("frame detached", logger.String("anchor_id", m.frame.AnchorID()))
	m.frame = nil
}

// Apply reconciles a batch of changes in order. Without a frame it does
// nothing; the cache holds the entities until AttachFrame.
func (m *Manager) Apply(changes []Change) {
	if m.frame == nil {
		return
	}
	for i := range changes {
		c := &changes[i]
		switch c.Type {
		case livesync.Added, livesync.Modified:
			if c.Entity == nil {
				continue
			}
			m.remove(c.ID)
			m.add(c.Entity)
		case livesync.Removed:
			m.remove(c.ID)
		}
	}
}

func (m *Manager) add(e *Entity) {
	m.remove(e.ID)
	var attached []*Node
	for _, item := range e.Items {
		if owner, taken := m.keys[item.Key]; taken {
			m.log.Warn("node key already attached",
				logger.String("key", item.Key),
				logger.String("owner", owner),
				logger.String("entity", e.ID))
			continue
		}
		n := &Node{
			Key:      item.Key,
			EntityID: e.ID,
			AnchorID: m.frame.AnchorID(),
			Label:    item.Label,
			Local:    item.Position,
			World:    m.frame.WorldPosition(item.Position),
		}
		if err := m.renderer.Attach(n); err != nil {
			m.log.Warn("node attach failed", logger.String("key", item.Key), logger.Error(err))
			continue
		}
		m.keys[n.Key] = e.ID
		attached = append(attached, n)
	}
	if len(attached) > 0 {
		m.nodes[e.ID] = attached
	}
}

func (m *Manager) remove(id string) {
	nodes, ok := m.nodes[id]
	if !ok {
		return
	}
	for _, n := range nodes {
		m.renderer.Detach(n)
		delete(m.keys, n.Key)
	}
	delete(m.nodes, id)
}

// HitTest resolves a screen point to an attached node.
func (m *Manager) HitTest(point tracking.ScreenPoint) (Hit, bool) {
	if m.frame == nil {
		return Hit{}, false
	}
	key, part, ok := m.renderer.HitTest(point)
	if !ok {
		return Hit{}, false
	}
	id, ok := m.keys[key]
	if !ok {
		// renderer reported a node this manager no longer owns
		return Hit{}, false
	}
	return Hit{EntityID: id, Key: key, Part: part}, true
}

// Has reports whether entity id has attached nodes.
func (m *Manager) Has(id string) bool {
	_, ok := m.nodes[id]
	return ok
}

// Len returns the number of attached nodes.
func (m *Manager) Len() int { return len(m.keys) }

// Nodes returns the attached nodes sorted by key.
func (m *Manager) Nodes() []Node {
	out := make([]Node, 0, len(m.keys))
	for _, nodes := range m.nodes {
		for _, n := range nodes {
			out = append(out, *n)
		}
	}
	slices.SortFunc(out, func(a, b Node) int { return strings.Compare(a.Key, b.Key) })
	return out
}
