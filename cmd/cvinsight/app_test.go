package main

import (
	"context"
	"testing"

	"cvinsight/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonFlagsOverrideConfig(t *testing.T) {
	t.Setenv("CVINSIGHT_PROVIDER", "")
	t.Setenv("CVINSIGHT_MODEL", "")
	t.Setenv("OPENAI_API_KEY", "env-key")

	fs, common := newFlagSet("parse")
	require.NoError(t, fs.Parse([]string{
		"--provider", "openai",
		"--model", "gpt-4o-mini",
		"--job-description", "Go backend engineer",
		"--submission-date", "2025-03-01",
		"resume.pdf",
	}))

	cfg, err := common.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "Go backend engineer", cfg.Pipeline.JobDescription)

	params := common.params()
	assert.Equal(t, "2025-03-01", params.SubmissionDate)
	assert.Equal(t, "resume.pdf", fs.Arg(0))
}

func TestCommonFlagsRejectBadDate(t *testing.T) {
	fs, common := newFlagSet("parse")
	require.NoError(t, fs.Parse([]string{"--submission-date", "03/01/2025"}))

	_, err := common.loadConfig()
	assert.Error(t, err)
}

func TestNewAppWithoutLLMListsPlugins(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logger.Level = "error"
	cfg.Logger.Format = "json"

	a, err := newApp(context.Background(), cfg, appOptions{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Greater(t, a.registry.Len(), 0)
	phases := a.pipeline.Phases()
	require.NotEmpty(t, phases)
	assert.Nil(t, a.storage)
}
