package screen

import (
	"github.com/tphakala/fieldpin/internal/annotations"
	"github.com/tphakala/fieldpin/internal/livesync"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/nodes"
	"github.com/tphakala/fieldpin/internal/procedures"
)

func annotationEntity(a model.Annotation) nodes.Entity {
	return nodes.Entity{ID: a.ID, Items: []nodes.Item{{Key: a.ID, Label: a.Text, Position: a.Position}}}
}

func procedureEntity(p model.Procedure) nodes.Entity {
	pins := procedures.Pins(p)
	items := make([]nodes.Item, 0, len(pins))
	for _, pin := range pins {
		items = append(items, nodes.Item{Key: pin.ID, Label: pin.Label, Position: pin.Position})
	}
	return nodes.Entity{ID: p.ID, Items: items}
}

func changes[T any](events []livesync.Event[T], convert func(T) nodes.Entity) []nodes.Change {
	out := make([]nodes.Change, 0, len(events))
	for _, ev := range events {
		c := nodes.Change{Type: ev.Type, ID: ev.ID}
		if ev.Entity != nil {
			e := convert(*ev.Entity)
			c.Entity = &e
		}
		out = append(out, c)
	}
	return out
}

func annotationSnapshot(store *annotations.Store) nodes.Snapshot {
	return func() []nodes.Entity {
		all := store.All()
		out := make([]nodes.Entity, 0, len(all))
		for _, a := range all {
			out = append(out, annotationEntity(a))
		}
		return out
	}
}

func procedureSnapshot(store *procedures.Store) nodes.Snapshot {
	return func() []nodes.Entity {
		var out []nodes.Entity
		for _, kind := range []model.ProcedureKind{model.KindManual, model.KindAI} {
			for _, p := range store.All(kind) {
				out = append(out, procedureEntity(p))
			}
		}
		return out
	}
}
