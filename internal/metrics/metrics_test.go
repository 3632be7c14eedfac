package metrics

import (
	"errors"
	"testing"
	"time"

	"cvinsight/internal/llm"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipelineObserverCounts(t *testing.T) {
	obs := PipelineObserver{}
	name := "metrics_test_plugin"

	obs.ObservePlugin(name, 200*time.Millisecond, llm.Usage{PromptTokens: 30, CompletionTokens: 5, Source: llm.SourceUsageMetadata}, nil)
	obs.ObservePlugin(name, time.Second, llm.ErrorUsage(name), errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(pluginCallsTotal.WithLabelValues(name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pluginFailuresTotal.WithLabelValues(name)))
	assert.Equal(t, 30.0, testutil.ToFloat64(pluginTokensTotal.WithLabelValues(name, "prompt", string(llm.SourceUsageMetadata))))
	assert.Equal(t, 5.0, testutil.ToFloat64(pluginTokensTotal.WithLabelValues(name, "completion", string(llm.SourceUsageMetadata))))
}

func TestResumeAndJobMetrics(t *testing.T) {
	before := testutil.ToFloat64(resumesTotal.WithLabelValues("failed"))
	ObserveResume(time.Second, errors.New("x"))
	assert.Equal(t, before+1, testutil.ToFloat64(resumesTotal.WithLabelValues("failed")))

	done := JobStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsInProgress))
	done("ack")
	assert.Equal(t, 0.0, testutil.ToFloat64(jobsInProgress))
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsTotal.WithLabelValues("ack")))
}
