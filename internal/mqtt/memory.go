package mqtt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/fieldpin/internal/errors"
)

// MemoryBroker routes messages between in-process clients. It backs the
// headless session command and tests that simulate several devices.
type MemoryBroker struct {
	mu      sync.Mutex
	clients map[*memoryClient]struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{clients: make(map[*memoryClient]struct{})}
}

// NewClient returns a client attached to the broker. It must be connected before use.
func (b *MemoryBroker) NewClient() Client {
	return &memoryClient{broker: b, subs: make(map[string]MessageHandler)}
}

func (b *MemoryBroker) route(topic string, payload []byte) {
	b.mu.Lock()
	var targets []MessageHandler
	for c := range b.clients {
		targets = append(targets, c.matching(topic)...)
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(topic, payload)
	}
}

type memoryClient struct {
	broker *MemoryBroker

	mu        sync.Mutex
	connected bool
	subs      map[string]MessageHandler
}

func (c *memoryClient) Connect(_ context.Context) error {
	c.broker.mu.Lock()
	c.broker.clients[c] = struct{}{}
	c.broker.mu.Unlock()

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *memoryClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	// Copy so receivers cannot observe later mutation by the publisher
	c.broker.route(topic, append([]byte(nil), payload...))
	return nil
}

func (c *memoryClient) Subscribe(_ context.Context, filter string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[filter] = handler
	return nil
}

func (c *memoryClient) Unsubscribe(_ context.Context, filter string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, filter)
	return nil
}

func (c *memoryClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *memoryClient) Disconnect() {
	c.broker.mu.Lock()
	delete(c.broker.clients, c)
	c.broker.mu.Unlock()

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Diagnose skips the network steps; there is no socket to test.
func (c *memoryClient) Diagnose(ctx context.Context) []Check {
	return runSteps(ctx, []step{
		{StepConnect, time.Second, c.Connect},
		{StepPublish, time.Second, func(ctx context.Context) error {
			return c.Publish(ctx, ProbeTopic(""), probePayload("memory"))
		}},
	})
}

func (c *memoryClient) matching(topic string) []MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hs []MessageHandler
	for filter, h := range c.subs {
		if TopicMatches(filter, topic) {
			hs = append(hs, h)
		}
	}
	return hs
}

// TopicMatches reports whether topic matches an MQTT topic filter with
// single-level (+) and multi-level (#) wildcards.
func TopicMatches(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
