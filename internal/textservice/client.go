// Package textservice is the client of an OpenAI compatible chat completions
// endpoint. Only auxiliary features use it; annotation placement and sync never
// depend on it.
package textservice

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/httpclient"
	"github.com/tphakala/fieldpin/internal/logger"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
	completionPath = "/chat/completions"
)

// ErrDisabled is returned when the text service is not configured.
var ErrDisabled = errors.NewStd("text service is disabled")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Client calls the text service. It is safe for concurrent use.
type Client struct {
	http     *httpclient.Client
	endpoint string
	model    string
	timeout  time.Duration
	limiter  *rate.Limiter
	log      logger.Logger
}

// New creates a client. When client is nil a dedicated one is built with the
// API key as bearer token.
func New(settings *conf.TextServiceSettings, client *httpclient.Client, log logger.Logger) (*Client, error) {
	if settings == nil || !settings.Enabled {
		return nil, ErrDisabled
	}
	endpoint := strings.TrimRight(settings.Endpoint, "/")
	if endpoint == "" {
		return nil, errors.Newf("text service endpoint is required").
			Component("textservice").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if client == nil {
		client = httpclient.New(&httpclient.Config{BearerToken: settings.APIKey})
	}

	model := settings.Model
	if model == "" {
		model = defaultModel
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if settings.RateLimit > 0 {
		limit = rate.Limit(settings.RateLimit)
	}

	return &Client{
		http:     client,
		endpoint: endpoint,
		model:    model,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log.Module("textservice"),
	}, nil
}

// Complete sends one system and one user prompt and returns the reply text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.New(err).
			Component("textservice").
			Category(errors.CategoryCancellation).
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.2,
	}

	start := time.Now()
	var resp chatResponse
	if err := c.http.PostJSON(ctx, c.endpoint+completionPath, req, &resp); err != nil {
		return "", c.requestError(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.Newf("text service returned no completion").
			Component("textservice").
			Category(errors.CategoryTextService).
			Context("model", c.model).
			Build()
	}

	c.log.Debug("completion received",
		logger.String("model", c.model),
		logger.String("finish_reason", resp.Choices[0].FinishReason),
		logger.Duration("elapsed", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) requestError(err error) error {
	b := errors.New(err).
		Component("textservice").
		Category(errors.CategoryTextService).
		Context("model", c.model)

	var status *httpclient.StatusError
	if errors.As(err, &status) {
		b = b.Context("status", status.StatusCode)
		if status.StatusCode == http.StatusTooManyRequests {
			b = b.Priority(errors.PriorityLow)
		}
	}
	c.log.Warn("text service request failed", logger.Error(err))
	return b.Build()
}
