package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceExtract(t *testing.T) {
	mock := NewMockChatModel(MockReply{
		Content: "Here:\n{\"skills\":[\"Go\",\"SQL\"]}",
		Usage:   &schema.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	})
	svc := NewService(mock, "mock-model")

	var out struct {
		Skills []string `json:"skills"`
	}
	usage, err := svc.Extract(context.Background(), "extract skills", &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "SQL"}, out.Skills)
	assert.Equal(t, 120, usage.TotalTokens)
	assert.Equal(t, SourceUsageMetadata, usage.Source)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, []string{"extract skills"}, mock.Prompts())
}

func TestServiceExtractModelError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(NewMockChatModel(MockReply{Err: boom}), "mock-model")

	var out map[string]any
	usage, err := svc.Extract(context.Background(), "p", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, SourceError, usage.Source)
}

func TestServiceExtractBadJSONKeepsUsage(t *testing.T) {
	svc := NewService(NewMockChatModel(MockReply{Content: "not json at all"}), "mock-model")

	var out map[string]any
	usage, err := svc.Extract(context.Background(), "prompt text", &out)
	assert.ErrorIs(t, err, ErrNoJSON)
	assert.Equal(t, SourceEstimation, usage.Source)
	assert.Greater(t, usage.TotalTokens, 0)
}

func TestServiceExtractEmptyResponse(t *testing.T) {
	svc := NewService(NewMockChatModel(MockReply{Content: "   "}), "mock-model")
	var out map[string]any
	_, err := svc.Extract(context.Background(), "p", &out)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestMockChatModelKeywordRouting(t *testing.T) {
	mock := NewMockChatModel(MockReply{Content: `{"default":true}`}).
		On("SKILLS", MockReply{Content: `{"skills":[]}`})
	svc := NewService(mock, "m")

	var out map[string]any
	_, err := svc.Extract(context.Background(), "please list SKILLS", &out)
	require.NoError(t, err)
	assert.Contains(t, out, "skills")

	out = nil
	_, err = svc.Extract(context.Background(), "other", &out)
	require.NoError(t, err)
	assert.Equal(t, true, out["default"])
}
