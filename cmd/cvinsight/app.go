package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"cvinsight/internal/config"
	"cvinsight/internal/extractors"
	"cvinsight/internal/llm"
	"cvinsight/internal/logger"
	"cvinsight/internal/metrics"
	"cvinsight/internal/parser"
	"cvinsight/internal/pipeline"
	"cvinsight/internal/plugin"
	"cvinsight/internal/processor"
	"cvinsight/internal/storage"
	"cvinsight/internal/tracing"

	"github.com/spf13/pflag"
)

// commonFlags 各子命令共用的参数，非空时覆盖配置文件
type commonFlags struct {
	configPath     string
	provider       string
	model          string
	apiKey         string
	jobDescription string
	submissionDate string
	logLevel       string
}

func (f *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "配置文件路径，为空时只使用默认值和环境变量")
	fs.StringVar(&f.provider, "provider", "", "LLM 提供方: google 或 openai")
	fs.StringVar(&f.model, "model", "", "默认模型")
	fs.StringVar(&f.apiKey, "api-key", "", "LLM API key")
	fs.StringVar(&f.jobDescription, "job-description", "", "岗位描述，用于相关年限和综合评估")
	fs.StringVar(&f.submissionDate, "submission-date", "", "简历提交日期 YYYY-MM-DD，默认今天")
	fs.StringVar(&f.logLevel, "log-level", "", "日志级别: debug, info, warn, error")
}

func (f *commonFlags) params() plugin.Params {
	return plugin.Params{JobDescription: f.jobDescription, SubmissionDate: f.submissionDate}
}

// loadConfig 读取配置并应用命令行覆盖
func (f *commonFlags) loadConfig() (*config.Config, error) {
	if f.submissionDate != "" {
		if _, err := time.Parse("2006-01-02", f.submissionDate); err != nil {
			return nil, fmt.Errorf("--submission-date 格式应为 YYYY-MM-DD: %w", err)
		}
	}
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.SetProvider(f.provider)
	if f.model != "" {
		cfg.LLM.Model = f.model
	}
	if f.apiKey != "" {
		cfg.LLM.APIKey = f.apiKey
	}
	if f.jobDescription != "" {
		cfg.Pipeline.JobDescription = f.jobDescription
	}
	if f.logLevel != "" {
		cfg.Logger.Level = f.logLevel
	}
	return cfg, nil
}

// cliApp 一次命令运行所需的全部组件
type cliApp struct {
	cfg       *config.Config
	registry  *plugin.Registry
	pipeline  *pipeline.Pipeline
	extractor *parser.Router
	storage   *storage.Storage
	processor *processor.ResumeProcessor

	closers []func(context.Context) error
}

// appOptions 控制 newApp 初始化哪些部分
type appOptions struct {
	// withLLM 为 false 时插件不会调用模型，只用于列出插件
	withLLM     bool
	withStorage bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*cliApp, error) {
	a := &cliApp{cfg: cfg}

	logCloser, err := logger.Init(cfg.Logger)
	if err != nil {
		return nil, err
	}
	if logCloser != nil {
		a.closers = append(a.closers, func(context.Context) error { return logCloser.Close() })
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, version)
	if err != nil {
		logger.Warn().Err(err).Msg("初始化链路追踪失败，继续运行")
	} else {
		a.closers = append(a.closers, shutdownTracing)
	}

	src, err := pluginSource(cfg, opts.withLLM)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.registry = extractors.NewRegistry(src, extractors.Options{JobDescription: cfg.Pipeline.JobDescription}, cfg.IsPluginEnabled)

	a.pipeline, err = pipeline.New(a.registry,
		pipeline.WithMaxWorkers(cfg.Pipeline.MaxWorkers),
		pipeline.WithPluginTimeout(config.GetDuration(cfg.Pipeline.PluginTimeout, 60*time.Second)),
		pipeline.WithObserver(metrics.PipelineObserver{}),
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("构建插件流水线失败: %w", err)
	}

	a.extractor, err = newTextRouter(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if opts.withStorage {
		a.storage, err = storage.NewStorage(ctx, cfg)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			a.storage.Close()
			return nil
		})
	}

	procOpts := []processor.Option{
		processor.WithExtractor(a.extractor),
		processor.WithStorage(a.storage),
		processor.WithFileLimits(cfg.Files.AllowedExtensions, cfg.Files.MaxFileSizeMB),
		processor.WithModelName(cfg.LLM.Model),
		processor.WithPluginModels(cfg.LLM.PluginModel),
	}
	if a.storage != nil && a.storage.Redis != nil {
		procOpts = append(procOpts, processor.WithCache(a.storage.Redis, config.GetDuration(cfg.Pipeline.CacheTTL, 0)))
	}
	if !cfg.Pipeline.CacheResults {
		procOpts = append(procOpts, processor.WithCacheDisabled())
	}
	a.processor, err = processor.NewResumeProcessor(a.pipeline, procOpts...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Int("plugins", a.registry.Len()).
		Interface("phases", a.pipeline.Phases()).
		Msg("CVInsight 初始化完成")
	return a, nil
}

// Close 逆序释放资源
func (a *cliApp) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn().Err(err).Msg("释放资源失败")
		}
	}
	a.closers = nil
}

var errLLMDisabled = errors.New("当前命令不调用 LLM")

func pluginSource(cfg *config.Config, withLLM bool) (plugin.Source, error) {
	if !withLLM {
		return plugin.SourceFunc(func(context.Context, string) (plugin.Extractor, error) {
			return nil, errLLMDisabled
		}), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	services, err := llm.NewServices(cfg, nil, stdLogger(cfg, "llm"))
	if err != nil {
		return nil, fmt.Errorf("初始化 LLM 失败: %w", err)
	}
	return plugin.FromServices(services), nil
}

// newTextRouter pdf 用 eino 解析器，配置了 Tika 时 doc/docx 交给 Tika
func newTextRouter(ctx context.Context, cfg *config.Config) (*parser.Router, error) {
	pdf, err := parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(stdLogger(cfg, "pdf")))
	if err != nil {
		return nil, fmt.Errorf("创建 PDF 提取器失败: %w", err)
	}
	opts := []parser.RouterOption{
		parser.WithRouterLogger(stdLogger(cfg, "extractor")),
		parser.WithExtractor(".pdf", pdf),
	}
	if cfg.Tika.ServerURL != "" {
		tika := parser.NewTikaExtractor(cfg.Tika.ServerURL,
			parser.WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second),
			parser.WithTikaLogger(stdLogger(cfg, "tika")),
		)
		opts = append(opts, parser.WithExtractor(".doc", tika), parser.WithExtractor(".docx", tika))
	}
	return parser.NewRouter(opts...), nil
}

// stdLogger 给只接受 *log.Logger 的组件用，非 debug 级别时丢弃输出
func stdLogger(cfg *config.Config, component string) *log.Logger {
	if cfg.Logger.Level != "debug" {
		return log.New(io.Discard, "", 0)
	}
	return log.New(logger.Named(component), "", 0)
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	logger.Error().Err(err).Msg("命令执行失败")
	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
