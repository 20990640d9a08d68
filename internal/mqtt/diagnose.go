package mqtt

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strings"
	"time"
)

// Diagnostic steps, in the order they run.
const (
	StepResolve = "resolve"
	StepDial    = "dial"
	StepConnect = "connect"
	StepPublish = "publish"
)

// Check is the outcome of one diagnostic step.
type Check struct {
	Step string
	Took time.Duration
	Err  error
}

type step struct {
	name    string
	timeout time.Duration
	run     func(context.Context) error
}

// runSteps stops at the first failing step.
func runSteps(ctx context.Context, steps []step) []Check {
	checks := make([]Check, 0, len(steps))
	for _, s := range steps {
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		err := s.run(sctx)
		cancel()
		checks = append(checks, Check{Step: s.name, Took: time.Since(start), Err: err})
		if err != nil {
			break
		}
	}
	return checks
}

// Diagnose resolves and dials the broker, connects if needed and publishes a
// probe message.
func (c *client) Diagnose(ctx context.Context) []Check {
	return runSteps(ctx, []step{
		{StepResolve, 5 * time.Second, func(ctx context.Context) error {
			host := brokerHost(c.config.Broker)
			if net.ParseIP(host) != nil {
				return nil
			}
			_, err := net.DefaultResolver.LookupHost(ctx, host)
			return err
		}},
		{StepDial, 5 * time.Second, func(ctx context.Context) error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", brokerAddress(c.config.Broker))
			if err != nil {
				return err
			}
			return conn.Close()
		}},
		{StepConnect, c.config.ConnectTimeout, func(ctx context.Context) error {
			if c.IsConnected() {
				return nil
			}
			return c.Connect(ctx)
		}},
		{StepPublish, c.config.PublishTimeout, func(ctx context.Context) error {
			return c.Publish(ctx, ProbeTopic(c.config.TopicPrefix), probePayload(c.config.ClientID))
		}},
	})
}

// ProbeTopic is where diagnostic messages go. It has one level fewer than
// feed topics so feed subscriptions never see it.
func ProbeTopic(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultConfig().TopicPrefix
	}
	return prefix + "/probe"
}

func probePayload(clientID string) []byte {
	payload, _ := json.Marshal(map[string]string{
		"client": clientID,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

func brokerHost(broker string) string {
	if u, err := url.Parse(broker); err == nil && u.Host != "" {
		return u.Hostname()
	}
	if host, _, err := net.SplitHostPort(broker); err == nil {
		return host
	}
	return strings.Trim(broker, "[]")
}

// brokerAddress returns host:port, defaulting to 1883.
func brokerAddress(broker string) string {
	addr := broker
	if u, err := url.Parse(broker); err == nil && u.Host != "" {
		addr = u.Host
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), "1883")
}
