// Package mqtt carries document change notices between devices over an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/fieldpin/internal/conf"
)

// MessageHandler receives the payload of a message delivered on topic. Handlers
// for one subscription are called sequentially in arrival order.
type MessageHandler func(topic string, payload []byte)

// Client is a broker connection. The paho client and the in-process
// MemoryBroker client implement it.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for a topic filter. A second Subscribe for the
	// same filter replaces the handler.
	Subscribe(ctx context.Context, filter string, handler MessageHandler) error

	// Unsubscribe removes the subscription for a topic filter.
	Unsubscribe(ctx context.Context, filter string) error

	IsConnected() bool
	Disconnect()

	// Diagnose checks broker reachability step by step and reports each step.
	Diagnose(ctx context.Context) []Check
}

// Config configures a paho client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	TopicPrefix       string
	QoS               byte
	ReconnectCooldown time.Duration // minimum gap between Connect calls
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns the timeouts and QoS used when settings leave them unset.
func DefaultConfig() Config {
	return Config{
		TopicPrefix:       "fieldpin",
		QoS:               1,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings builds a client configuration from the sync settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	cfg.Broker = settings.Sync.Broker
	cfg.ClientID = "fieldpin-" + settings.Main.DeviceID
	cfg.Username = settings.Sync.Username
	cfg.Password = settings.Sync.Password
	if settings.Sync.TopicPrefix != "" {
		cfg.TopicPrefix = settings.Sync.TopicPrefix
	}
	cfg.QoS = settings.Sync.QoS
	if settings.Sync.ConnectTimeout > 0 {
		cfg.ConnectTimeout = settings.Sync.ConnectTimeout
	}
	if settings.Sync.PublishTimeout > 0 {
		cfg.PublishTimeout = settings.Sync.PublishTimeout
	}
	return cfg
}
