package procedures

import (
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/model"
)

// StepPin is a pinned procedure step as rendered in the anchor frame.
type StepPin struct {
	ID          string // model.StepPinID
	ProcedureID string
	Index       int
	Label       string
	Position    geom.Vec3
}

// Pins returns the pins of every positioned step of p.
func Pins(p model.Procedure) []StepPin {
	var pins []StepPin
	for i, step := range p.Steps {
		if step.Position == nil {
			continue
		}
		pins = append(pins, StepPin{
			ID:          model.StepPinID(p.ID, i),
			ProcedureID: p.ID,
			Index:       i,
			Label:       step.Description,
			Position:    *step.Position,
		})
	}
	return pins
}
