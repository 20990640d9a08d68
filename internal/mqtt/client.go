// client.go: paho based implementation of Client.
package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability/metrics"
)

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	subsMu          sync.Mutex
	subscriptions   map[string]MessageHandler
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
}

// NewClient creates a new MQTT client with the provided configuration.
func NewClient(cfg Config, log logger.Logger, m *metrics.MQTTMetrics) Client {
	return &client{
		config:        cfg,
		subscriptions: make(map[string]MessageHandler),
		metrics:       m,
		log:           log.With(logger.String("broker", cfg.Broker)),
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastConnAttempt) < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", time.Since(c.lastConnAttempt)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(fmt.Errorf("invalid broker URL: %w", err)).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			// DNS errors are returned unwrapped so callers can inspect them
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) {
				return dnsErr
			}
			return fmt.Errorf("failed to resolve hostname %s: %w", host, err)
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordError(metrics.MQTTOpConnect)
		return errors.New(fmt.Errorf("connection error: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Build()
	}

	c.metrics.SetConnected(true)
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, c.config.QoS, false, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		c.log.Warn("publish timeout", logger.String("topic", topic))
		c.metrics.RecordError(metrics.MQTTOpPublish)
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordError(metrics.MQTTOpPublish)
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.log.Trace("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	c.metrics.RecordPublish(len(payload), time.Since(start).Seconds())
	return nil
}

// Subscribe registers handler for filter. The subscription is restored after reconnects.
func (c *client) Subscribe(ctx context.Context, filter string, handler MessageHandler) error {
	c.subsMu.Lock()
	c.subscriptions[filter] = handler
	c.subsMu.Unlock()

	if !c.IsConnected() {
		// onConnect subscribes everything registered so far
		return nil
	}
	return c.subscribe(ctx, filter, handler)
}

func (c *client) subscribe(ctx context.Context, filter string, handler MessageHandler) error {
	token := c.internalClient.Subscribe(filter, c.config.QoS, func(_ paho.Client, msg paho.Message) {
		c.metrics.RecordReceived()
		handler(msg.Topic(), msg.Payload())
	})
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		return errors.Newf("subscribe timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("filter", filter).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Context("filter", filter).
			Build()
	}
	c.log.Debug("subscribed", logger.String("filter", filter))
	return nil
}

// Unsubscribe removes the subscription for filter.
func (c *client) Unsubscribe(ctx context.Context, filter string) error {
	c.subsMu.Lock()
	delete(c.subscriptions, filter)
	c.subsMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	token := c.internalClient.Unsubscribe(filter)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		return errors.Newf("unsubscribe timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("filter", filter).
			Build()
	}
	return token.Error()
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.SetConnected(false)
		c.log.Info("disconnected from MQTT broker")
	}
}

func (c *client) onConnect(_ paho.Client) {
	c.log.Info("connected to MQTT broker")
	c.metrics.SetConnected(true)

	// Clean sessions drop subscriptions on the broker side; restore them
	c.subsMu.Lock()
	subs := make(map[string]MessageHandler, len(c.subscriptions))
	for filter, h := range c.subscriptions {
		subs[filter] = h
	}
	c.subsMu.Unlock()

	go func() {
		for filter, h := range subs {
			ctx, cancel := context.WithTimeout(context.Background(), c.config.PublishTimeout)
			if err := c.subscribe(ctx, filter, h); err != nil {
				c.log.Error("failed to restore subscription", logger.String("filter", filter), logger.Error(err))
			}
			cancel()
		}
	}()
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.metrics.SetConnected(false)
	c.metrics.RecordError(metrics.MQTTOpConnection)
}

func (c *client) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	c.metrics.RecordReconnect()
	c.log.Debug("reconnecting to MQTT broker")
}

// waitToken waits for token completion, the context or the timeout, whichever
// comes first. It reports whether the token completed.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
