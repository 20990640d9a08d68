package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// MockTransport records events instead of sending them.
type MockTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

// NewMockTransport creates an empty mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Configure implements sentry.Transport.
//
//nolint:gocritic // hugeParam: interface requirement
func (t *MockTransport) Configure(_ sentry.ClientOptions) {}

// SendEvent implements sentry.Transport.
func (t *MockTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

// Flush implements sentry.Transport.
func (t *MockTransport) Flush(time.Duration) bool { return true }

// FlushWithContext implements sentry.Transport.
func (t *MockTransport) FlushWithContext(context.Context) bool { return true }

// Close implements sentry.Transport.
func (t *MockTransport) Close() {}

// Events returns the recorded events.
func (t *MockTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*sentry.Event, len(t.events))
	copy(out, t.events)
	return out
}
