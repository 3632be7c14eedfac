// Package pipeline 按依赖分层并行执行插件，并把结果聚合为一份简历
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"cvinsight/internal/llm"
	"cvinsight/internal/logger"
	"cvinsight/internal/plugin"
	"cvinsight/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxWorkers    = 4
	DefaultPluginTimeout = 60 * time.Second
)

var tracer = otel.Tracer("cvinsight/pipeline")

// Observer 接收每次插件调用的结果，metrics 包实现它
type Observer interface {
	ObservePlugin(name string, elapsed time.Duration, usage llm.Usage, err error)
}

// Result 一次执行的原始结果
type Result struct {
	// Outputs 每个插件的输出，失败的插件为空 map
	Outputs map[string]map[string]any
	Usage   map[string]llm.Usage
	Errors  map[string]string
	Phases  []PhaseTiming
	Elapsed time.Duration
}

// PhaseTiming 每层耗时
type PhaseTiming struct {
	Plugins []string      `json:"plugins"`
	Elapsed time.Duration `json:"elapsed"`
}

// Pipeline 持有分层后的插件，可被多个 goroutine 同时使用
type Pipeline struct {
	phases        [][]plugin.Plugin
	maxWorkers    int
	pluginTimeout time.Duration
	observer      Observer
}

// Option Pipeline 的可选项
type Option func(*Pipeline)

// WithMaxWorkers 每层并发执行的插件上限
func WithMaxWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// WithPluginTimeout 单个插件调用的超时
func WithPluginTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pluginTimeout = d
		}
	}
}

// WithObserver 设置插件调用观察者
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// New 根据注册表中的插件构建 Pipeline，依赖缺失或成环时返回错误
func New(reg *plugin.Registry, opts ...Option) (*Pipeline, error) {
	phases, err := BuildPhases(reg.List())
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		phases:        phases,
		maxWorkers:    DefaultMaxWorkers,
		pluginTimeout: DefaultPluginTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Phases 每层的插件名
func (p *Pipeline) Phases() [][]string {
	return PhaseNames(p.phases)
}

// Run 逐层执行。插件失败或超时只记录错误，结果为空 map，不影响其他插件。
// 只有 ctx 被取消时返回错误。
func (p *Pipeline) Run(ctx context.Context, text string, params plugin.Params) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("pipeline.phases", len(p.phases)))

	start := time.Now()
	res := &Result{
		Outputs: make(map[string]map[string]any),
		Usage:   make(map[string]llm.Usage),
		Errors:  make(map[string]string),
	}
	var mu sync.Mutex

	for i, phase := range p.phases {
		phaseStart := time.Now()

		// 本层可见的依赖结果在启动前固定下来
		mu.Lock()
		snapshot := make(map[string]map[string]any, len(res.Outputs))
		for k, v := range res.Outputs {
			snapshot[k] = v
		}
		mu.Unlock()

		g := new(errgroup.Group)
		g.SetLimit(p.maxWorkers)
		for _, pl := range phase {
			g.Go(func() error {
				in := plugin.Input{Text: text, Params: params, Deps: depsFor(pl, snapshot)}
				out, usage, err := p.runPlugin(ctx, pl, in)

				name := pl.Metadata().Name
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Errors[name] = err.Error()
					out = map[string]any{}
				}
				res.Outputs[name] = out
				res.Usage[name] = usage
				return nil
			})
		}
		_ = g.Wait()

		names := PhaseNames([][]plugin.Plugin{phase})[0]
		elapsed := time.Since(phaseStart)
		res.Phases = append(res.Phases, PhaseTiming{Plugins: names, Elapsed: elapsed})
		logger.Ctx(ctx).Debug().
			Int("phase", i+1).
			Strs("plugins", names).
			Dur("elapsed", elapsed).
			Msg("插件阶段完成")

		if err := ctx.Err(); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
			return res, fmt.Errorf("pipeline aborted after phase %d: %w", i+1, err)
		}
	}

	res.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int("pipeline.failed_plugins", len(res.Errors)))
	return res, nil
}

func (p *Pipeline) runPlugin(ctx context.Context, pl plugin.Plugin, in plugin.Input) (out map[string]any, usage llm.Usage, err error) {
	name := pl.Metadata().Name
	ctx, span := tracer.Start(ctx, "plugin."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.pluginTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", name, r)
			logger.Error().Str("plugin", name).Bytes("stack", debug.Stack()).Msg("插件 panic")
		}
		if err != nil {
			if usage.Source == "" {
				usage = llm.ErrorUsage(name)
			}
			errType := tracing.ErrorTypePlugin
			if errors.Is(err, context.DeadlineExceeded) {
				errType = tracing.ErrorTypeTimeout
			}
			tracing.RecordError(span, err, errType)
			logger.Ctx(ctx).Warn().Err(err).Str("plugin", name).Msg("插件执行失败")
		}
		if usage.Extractor == "" {
			usage.Extractor = name
		}
		tracing.RecordTokenUsage(span, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.IsEstimated)
		if p.observer != nil {
			p.observer.ObservePlugin(name, time.Since(start), usage, err)
		}
	}()

	out, usage, err = pl.Extract(ctx, in)
	if err == nil && out == nil {
		out = map[string]any{}
	}
	return out, usage, err
}

// depsFor 只传入声明的依赖中有数据的部分
func depsFor(pl plugin.Plugin, outputs map[string]map[string]any) map[string]map[string]any {
	deps := pl.Dependencies()
	if len(deps) == 0 {
		return nil
	}
	m := make(map[string]map[string]any, len(deps))
	for _, d := range deps {
		if out, ok := outputs[d]; ok && len(out) > 0 {
			m[d] = out
		}
	}
	return m
}
