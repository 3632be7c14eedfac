package llm

import (
	"context"
	"errors"
	"testing"

	"cvinsight/internal/config"

	"github.com/cloudwego/eino/components/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServicesCachePerModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Model = "base-model"
	cfg.LLM.PluginModel = map[string]string{"relevant_yoe_extractor": "big-model"}

	var built []string
	build := func(_ context.Context, name string) (model.ToolCallingChatModel, error) {
		built = append(built, name)
		return NewMockChatModel(MockReply{Content: `{}`}), nil
	}

	svcs, err := NewServices(cfg, build, nil)
	require.NoError(t, err)

	a, err := svcs.ForPlugin(context.Background(), "skills_extractor")
	require.NoError(t, err)
	b, err := svcs.Default(context.Background())
	require.NoError(t, err)
	c, err := svcs.ForPlugin(context.Background(), "relevant_yoe_extractor")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, "big-model", c.ModelName())
	assert.Equal(t, []string{"base-model", "big-model"}, built)
}

func TestServicesBuildError(t *testing.T) {
	cfg := config.DefaultConfig()
	build := func(context.Context, string) (model.ToolCallingChatModel, error) {
		return nil, errors.New("no network")
	}
	svcs, err := NewServices(cfg, build, nil)
	require.NoError(t, err)
	_, err = svcs.Default(context.Background())
	assert.Error(t, err)
}

func TestProviderBuilderRequiresKey(t *testing.T) {
	_, err := ProviderBuilder(config.LLMConfig{Provider: config.ProviderOpenAI}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = ProviderBuilder(config.LLMConfig{Provider: "bedrock", APIKey: "k"}, nil)
	assert.Error(t, err)

	build, err := ProviderBuilder(config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "k"}, nil)
	require.NoError(t, err)
	m, err := build(context.Background(), "gpt-4o-mini")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIChatModel{}, m)
}
