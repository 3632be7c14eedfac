package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		if seen != nil {
			require.NoError(t, json.Unmarshal(raw, seen))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestOpenAIChatModelGenerate(t *testing.T) {
	var req map[string]any
	srv := newOpenAIServer(t, http.StatusOK, `{
		"id":"x","model":"gpt-3.5-turbo-16k",
		"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":11,"completion_tokens":4,"total_tokens":15}}`, &req)
	defer srv.Close()

	m, err := NewOpenAIChatModel("sk-test", "", srv.URL)
	require.NoError(t, err)

	out, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out.Content)
	require.NotNil(t, out.ResponseMeta)
	assert.Equal(t, 15, out.ResponseMeta.Usage.TotalTokens)
	assert.Equal(t, "stop", out.ResponseMeta.FinishReason)

	assert.Equal(t, "gpt-3.5-turbo-16k", req["model"])
	assert.InDelta(t, 0.1, req["temperature"], 1e-6)
	assert.Len(t, req["messages"], 2)
}

func TestOpenAIChatModelReasoningModelOmitsTemperature(t *testing.T) {
	var req map[string]any
	srv := newOpenAIServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`, &req)
	defer srv.Close()

	m, err := NewOpenAIChatModel("sk-test", "o4-mini-2025-04-16", srv.URL, WithMaxTokens(256))
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	_, hasTemp := req["temperature"]
	assert.False(t, hasTemp)
	assert.EqualValues(t, 256, req["max_completion_tokens"])
	_, hasMax := req["max_tokens"]
	assert.False(t, hasMax)
}

func TestOpenAIChatModelCallOptions(t *testing.T) {
	var req map[string]any
	srv := newOpenAIServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`, &req)
	defer srv.Close()

	m, err := NewOpenAIChatModel("sk-test", "gpt-4o-mini", srv.URL)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")},
		model.WithModel("gpt-4o"), model.WithTemperature(0.5))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", req["model"])
	assert.InDelta(t, 0.5, req["temperature"], 1e-6)
}

func TestOpenAIChatModelAPIError(t *testing.T) {
	srv := newOpenAIServer(t, http.StatusTooManyRequests, `{"error":"slow down"}`, nil)
	defer srv.Close()

	m, err := NewOpenAIChatModel("sk-test", "gpt-4o-mini", srv.URL)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable())
}

func TestOpenAIChatModelRequiresKey(t *testing.T) {
	_, err := NewOpenAIChatModel(" ", "gpt-4o-mini", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenAIChatModelRejectsTools(t *testing.T) {
	m, err := NewOpenAIChatModel("sk-test", "gpt-4o-mini", "")
	require.NoError(t, err)
	_, err = m.WithTools([]*schema.ToolInfo{{Name: "x"}})
	assert.Error(t, err)
	same, err := m.WithTools(nil)
	require.NoError(t, err)
	assert.Same(t, m, same)
}
