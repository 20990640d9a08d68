package textservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/model"
)

const ticketPrompt = `You extract maintenance tickets from technician notes.
Reply with one JSON object and nothing else:
{"title": string, "description": string, "priority": "low"|"medium"|"high", "asset": string}`

const procedurePrompt = `You turn a recorded walkthrough into a maintenance procedure.
Reply with one JSON object and nothing else:
{"name": string, "description": string, "steps": [{"description": string}]}
Keep steps short, imperative and in the order they were performed.`

// Ticket is a maintenance ticket drafted from free text.
type Ticket struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Asset       string `json:"asset,omitempty"`
}

// ExtractTicket drafts a ticket from technician notes.
func (c *Client) ExtractTicket(ctx context.Context, notes string) (Ticket, error) {
	if strings.TrimSpace(notes) == "" {
		return Ticket{}, errors.ValidationError("ticket notes are required")
	}
	reply, err := c.Complete(ctx, ticketPrompt, notes)
	if err != nil {
		return Ticket{}, err
	}
	obj, err := parseObject(reply)
	if err != nil {
		return Ticket{}, err
	}

	var t Ticket
	if t.Title, err = obj.GetString("title"); err != nil || strings.TrimSpace(t.Title) == "" {
		return Ticket{}, malformedReply("ticket has no title", err)
	}
	t.Description, _ = obj.GetString("description")
	t.Asset, _ = obj.GetString("asset")
	priority, _ := obj.GetString("priority")
	switch p := strings.ToLower(strings.TrimSpace(priority)); p {
	case "low", "medium", "high":
		t.Priority = p
	default:
		t.Priority = "medium"
	}
	return t, nil
}

// DraftProcedure turns a walkthrough transcript into an unsaved AI procedure
// for container. Steps carry no positions; they are pinned later.
func (c *Client) DraftProcedure(ctx context.Context, container, transcript string) (model.Procedure, error) {
	if strings.TrimSpace(container) == "" {
		return model.Procedure{}, errors.ValidationError("container name is required")
	}
	if strings.TrimSpace(transcript) == "" {
		return model.Procedure{}, errors.ValidationError("transcript is required")
	}
	reply, err := c.Complete(ctx, procedurePrompt, fmt.Sprintf("Equipment: %s\n\n%s", container, transcript))
	if err != nil {
		return model.Procedure{}, err
	}
	obj, err := parseObject(reply)
	if err != nil {
		return model.Procedure{}, err
	}

	p := model.Procedure{Kind: model.KindAI, ContainerName: container}
	if p.Name, err = obj.GetString("name"); err != nil || strings.TrimSpace(p.Name) == "" {
		return model.Procedure{}, malformedReply("procedure has no name", err)
	}
	p.Description, _ = obj.GetString("description")

	steps, err := obj.GetObjectArray("steps")
	if err != nil {
		return model.Procedure{}, malformedReply("procedure has no steps", err)
	}
	for _, s := range steps {
		desc, err := s.GetString("description")
		if err != nil || strings.TrimSpace(desc) == "" {
			continue
		}
		p.Steps = append(p.Steps, model.ProcedureStep{Description: strings.TrimSpace(desc), Media: []model.Media{}})
	}
	if len(p.Steps) == 0 {
		return model.Procedure{}, malformedReply("procedure has no usable steps", nil)
	}
	return p, nil
}

// parseObject reads the JSON object of a reply, tolerating markdown fences
// and text around it.
func parseObject(reply string) (*jason.Object, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, malformedReply("reply contains no JSON object", nil)
	}
	obj, err := jason.NewObjectFromBytes([]byte(reply[start : end+1]))
	if err != nil {
		return nil, malformedReply("reply is not valid JSON", err)
	}
	return obj, nil
}

func malformedReply(msg string, cause error) error {
	err := errors.NewStd(msg)
	if cause != nil {
		err = fmt.Errorf("%s: %w", msg, cause)
	}
	return errors.New(err).
		Component("textservice").
		Category(errors.CategoryTextService).
		Build()
}
