// Package notification carries user-visible messages from the core to the UI
// layer and, optionally, to external push services.
package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/fieldpin/internal/errors"
)

// Level represents the severity of a message
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// rank orders levels for push filtering.
func (l Level) rank() int {
	switch l {
	case LevelError:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// ParseLevel maps a config string to a Level. Unknown strings map to LevelError.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelInfo, LevelWarning, LevelError:
		return Level(s)
	default:
		return LevelError
	}
}

// Kind identifies what a message is about, so the UI can pick a presentation.
type Kind string

const (
	KindDetectionPending Kind = "detection-pending"
	KindStillLooking     Kind = "still-looking"
	KindSyncWrite        Kind = "sync-write"
	KindMediaTransfer    Kind = "media-transfer"
	KindImageLoad        Kind = "image-load"
	KindTracking         Kind = "tracking"
	KindGeneral          Kind = "general"
)

// Message is one user-visible notification.
type Message struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Component string    `json:"component,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(level Level, kind Kind, title, body string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Level:     level,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

// WithComponent sets the originating component.
func (m *Message) WithComponent(component string) *Message {
	m.Component = component
	return m
}

// Clone returns a copy so subscribers never share a message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// FromError builds the message shown for a failed operation. Detection pending
// is informational; every other failure is an error.
func FromError(err error) *Message {
	var title string
	kind := KindGeneral
	level := LevelError

	switch {
	case errors.IsCategory(err, errors.CategoryDetectionPending):
		kind, level, title = KindDetectionPending, LevelInfo, "Reference image not detected yet"
	case errors.IsCategory(err, errors.CategorySyncWrite):
		kind, title = KindSyncWrite, "Change was not saved"
	case errors.IsCategory(err, errors.CategoryMediaTransfer):
		kind, title = KindMediaTransfer, "Media transfer failed"
	case errors.IsCategory(err, errors.CategoryImageFetch), errors.IsCategory(err, errors.CategoryImageDecode):
		kind, title = KindImageLoad, "Reference image could not be loaded"
	case errors.IsCategory(err, errors.CategoryTracking):
		kind, title = KindTracking, "Tracking failed"
	default:
		title = "Operation failed"
	}

	msg := NewMessage(level, kind, title, err.Error())
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		msg.Component = ee.Component
	}
	return msg
}
