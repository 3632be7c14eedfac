package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cvinsight/internal/api/handler"
	"cvinsight/internal/api/router"
	"cvinsight/internal/config"
	"cvinsight/internal/logger"
	"cvinsight/internal/worker"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
)

const shutdownTimeout = 5 * time.Second

var errNoQueue = errors.New("未配置 RabbitMQ，无法消费异步任务")

func runServe(args []string) error {
	fs, common := newFlagSet("serve")
	addr := fs.String("addr", "", "监听地址，默认取配置 server.address")
	withWorker := fs.Bool("with-worker", false, "同一进程内启动队列 worker")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	if *withWorker {
		cfg.Server.EnableWorker = true
	}

	a, err := newApp(context.Background(), cfg, appOptions{withLLM: true, withStorage: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	initHertzLogger(cfg)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize((cfg.Server.MaxUploadMB+1)<<20),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg), requestLogger())

	rh := handler.NewResumeHandler(cfg, a.processor, a.extractor, a.registry,
		handler.WithPhases(a.pipeline.Phases()),
		handler.WithStorage(a.storage),
	)
	router.RegisterRoutes(h, rh, router.Options{
		APIKeys:       cfg.Server.APIKeys,
		EnableMetrics: cfg.Server.EnableMetrics,
	})

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	var wg sync.WaitGroup
	if cfg.Server.EnableWorker {
		if a.storage.RabbitMQ == nil {
			logger.Warn().Err(errNoQueue).Msg("跳过内置 worker")
		} else {
			w := worker.New(a.processor, cfg.RabbitMQ, worker.WithExtractor(a.extractor), worker.WithStorage(a.storage))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Run(workerCtx, a.storage.RabbitMQ); err != nil {
					logger.Error().Err(err).Msg("内置 worker 退出")
				}
			}()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("HTTP 服务器启动中")
		serveErr <- h.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info().Msg("接收到终止信号，正在优雅退出...")
	case err := <-serveErr:
		if err != nil {
			stopWorker()
			wg.Wait()
			return err
		}
	}

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("服务器关闭失败")
	}
	wg.Wait()
	logger.Info().Msg("优雅退出完成")
	return nil
}

func runWorker(args []string) error {
	fs, common := newFlagSet("worker")
	workers := fs.Int("workers", 0, "并发消费的协程数，默认取配置 rabbitmq.workers")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	if *workers > 0 {
		cfg.RabbitMQ.Workers = *workers
	}
	if cfg.RabbitMQ.URL == "" {
		return errNoQueue
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{withLLM: true, withStorage: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	if a.storage.RabbitMQ == nil {
		return errNoQueue
	}

	w := worker.New(a.processor, cfg.RabbitMQ, worker.WithExtractor(a.extractor), worker.WithStorage(a.storage))
	return w.Run(ctx, a.storage.RabbitMQ)
}

// initHertzLogger hertz 内部日志也走 zerolog
func initHertzLogger(cfg *config.Config) {
	hlog.SetLogger(hertzadapter.From(logger.Logger))
	switch cfg.Logger.Level {
	case "debug":
		hlog.SetLevel(hlog.LevelDebug)
	case "warn":
		hlog.SetLevel(hlog.LevelWarn)
	case "error":
		hlog.SetLevel(hlog.LevelError)
	default:
		hlog.SetLevel(hlog.LevelInfo)
	}
}

func requestLogger() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		logger.Ctx(ctx).Info().
			Str("method", string(c.Method())).
			Str("path", string(c.Path())).
			Int("status", c.Response.StatusCode()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
