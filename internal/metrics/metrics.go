// Package metrics Prometheus 指标：插件调用、简历解析、队列任务和 HTTP 请求
package metrics

import (
	"time"

	"cvinsight/internal/llm"
	"cvinsight/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cvinsight"

var (
	pluginCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "calls_total",
			Help:      "插件调用总数。",
		},
		[]string{"plugin"},
	)

	pluginFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "failures_total",
			Help:      "插件调用失败总数。",
		},
		[]string{"plugin"},
	)

	pluginDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "duration_seconds",
			Help:      "单次插件调用耗时（秒）。",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"plugin"},
	)

	pluginTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "tokens_total",
			Help:      "插件消耗的 token 数。",
		},
		[]string{"plugin", "kind", "source"},
	)

	resumesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resume",
			Name:      "processed_total",
			Help:      "简历解析总数。",
		},
		[]string{"status"},
	)

	resumeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resume",
			Name:      "duration_seconds",
			Help:      "单份简历端到端解析耗时（秒）。",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "队列任务处理总数，按确认方式区分。",
		},
		[]string{"outcome"},
	)

	jobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_in_progress",
			Help:      "当前正在处理的队列任务数量。",
		},
	)
)

// PipelineObserver 实现 pipeline.Observer
type PipelineObserver struct{}

var _ pipeline.Observer = PipelineObserver{}

// ObservePlugin 记录一次插件调用
func (PipelineObserver) ObservePlugin(name string, elapsed time.Duration, usage llm.Usage, err error) {
	pluginCallsTotal.WithLabelValues(name).Inc()
	pluginDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		pluginFailuresTotal.WithLabelValues(name).Inc()
	}
	source := string(usage.Source)
	if usage.PromptTokens > 0 {
		pluginTokensTotal.WithLabelValues(name, "prompt", source).Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		pluginTokensTotal.WithLabelValues(name, "completion", source).Add(float64(usage.CompletionTokens))
	}
}

// ObserveResume 记录一份简历的处理结果
func ObserveResume(elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	resumesTotal.WithLabelValues(status).Inc()
	resumeDuration.Observe(elapsed.Seconds())
}

// JobStarted 队列任务开始，返回的函数在任务结束时调用
func JobStarted() func(outcome string) {
	jobsInProgress.Inc()
	return func(outcome string) {
		jobsInProgress.Dec()
		jobsTotal.WithLabelValues(outcome).Inc()
	}
}
