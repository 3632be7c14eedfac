package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithWriter_JSONLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	closer, err := InitWithWriter(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Nil(t, closer)

	Info().Msg("should be dropped")
	Warn().Str("plugin", "skills_extractor").Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "should be dropped")
	assert.Contains(t, out, `"plugin":"skills_extractor"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestInitWithWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	_, err := InitWithWriter(Config{Level: "verbose"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInitWithWriter_FileSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "app.log")

	var buf bytes.Buffer
	closer, err := InitWithWriter(Config{Level: "info", File: path}, &buf)
	require.NoError(t, err)
	require.NotNil(t, closer)

	l := Named("pipeline")
	l.Info().Msg("phase done")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"pipeline"`)
	assert.Contains(t, buf.String(), "phase done")
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	_, err := InitWithWriter(Config{Level: "info"}, &buf)
	require.NoError(t, err)

	Ctx(context.Background()).Info().Msg("from ctx")
	assert.Contains(t, buf.String(), "from ctx")

	ctx := WithContext(context.Background())
	assert.NotNil(t, Ctx(ctx))
}
