package textservice

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/httpclient"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
)

const endpoint = "https://llm.example.com/v1"

func newTestClient(t *testing.T, settings conf.TextServiceSettings) *Client {
	t.Helper()
	settings.Enabled = true
	if settings.Endpoint == "" {
		settings.Endpoint = endpoint + "/"
	}
	hc := httpclient.New(&httpclient.Config{BearerToken: "sk-test"})
	httpmock.ActivateNonDefault(hc.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	c, err := New(&settings, hc, logger.NewDiscardLogger())
	require.NoError(t, err)
	return c
}

func reply(content string) httpmock.Responder {
	return httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func TestNewRequiresEnabledAndEndpoint(t *testing.T) {
	_, err := New(&conf.TextServiceSettings{}, nil, logger.NewDiscardLogger())
	require.ErrorIs(t, err, ErrDisabled)

	_, err = New(&conf.TextServiceSettings{Enabled: true}, nil, logger.NewDiscardLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestCompleteSendsChatRequest(t *testing.T) {
	c := newTestClient(t, conf.TextServiceSettings{Model: "test-model"})

	var got chatRequest
	var auth string
	httpmock.RegisterResponder("POST", endpoint+"/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			auth = req.Header.Get("Authorization")
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return reply("hello")(req)
		})

	text, err := c.Complete(t.Context(), "be brief", "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "say hello"}, got.Messages[1])
}

func TestCompleteErrors(t *testing.T) {
	c := newTestClient(t, conf.TextServiceSettings{})

	httpmock.RegisterResponder("POST", endpoint+"/chat/completions",
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{"error":"slow down"}`))
	_, err := c.Complete(t.Context(), "s", "u")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTextService))
	var status *httpclient.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusTooManyRequests, status.StatusCode)

	httpmock.RegisterResponder("POST", endpoint+"/chat/completions",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{"choices": []any{}}))
	_, err = c.Complete(t.Context(), "s", "u")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTextService))
}

func TestCompleteHonorsRateLimit(t *testing.T) {
	c := newTestClient(t, conf.TextServiceSettings{RateLimit: 0.001})
	httpmock.RegisterResponder("POST", endpoint+"/chat/completions", reply("ok"))

	_, err := c.Complete(t.Context(), "s", "u")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, "s", "u")
	require.Error(t, err, "second call waits for the limiter")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestExtractTicket(t *testing.T) {
	c := newTestClient(t, conf.TextServiceSettings{})
	httpmock.RegisterResponder("POST", endpoint+"/chat/completions",
		reply("```json\n{\"title\": \"Oil leak at pump A\", \"description\": \"Drip under the seal\", \"priority\": \"HIGH\", \"asset\": \"pump-a\"}\n```"))

	ticket, err := c.ExtractTicket(t.Context(), "pump a leaking oil under the seal, urgent")
	require.NoError(t, err)
	assert.Equal(t, Ticket{Title: "Oil leak at pump A", Description: "Drip under the seal", Priority: "high", Asset: "pump-a"}, ticket)
}

func TestExtractTicketRejectsMalformedReply(t *testing.T) {
	c := newTestClient(t, conf.TextServiceSettings{})
	httpmock.RegisterResponder("POST", endpoint+"/chat/completions", reply("I could not find a ticket."))

	_, err := c.ExtractTicket(t.Context(), "nothing here")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTextService))

	_, err = c.ExtractTicket(t.Context(), "  ")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestDraftProcedure(t *testing.T) {
	c := newTestClient(t, conf.TextServiceSettings{})
	httpmock.RegisterResponder("POST", endpoint+"/chat/completions",
		reply(`{"name": "Replace filter", "description": "Quarterly", "steps": [{"description": "Open the cover"}, {"description": ""}, {"description": "Swap the filter"}]}`))

	p, err := c.DraftProcedure(t.Context(), "engine_plate", "first I open the cover then swap the filter")
	require.NoError(t, err)
	assert.Equal(t, model.KindAI, p.Kind)
	assert.Equal(t, "engine_plate", p.ContainerName)
	assert.Equal(t, "Replace filter", p.Name)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "Swap the filter", p.Steps[1].Description)
	assert.Nil(t, p.Steps[0].Position)
	assert.Empty(t, p.ID, "drafts are not saved")
}

func TestDraftProcedureWithoutSteps(t *testing.T) {
	c := newTestClient(t, conf.TextServiceSettings{})
	httpmock.RegisterResponder("POST", endpoint+"/chat/completions", reply(`{"name": "Empty", "steps": []}`))

	_, err := c.DraftProcedure(t.Context(), "engine_plate", "nothing happened")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTextService))
}
