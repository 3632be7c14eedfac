package llm

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"cvinsight/internal/config"
	"cvinsight/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
)

// ModelBuilder 按模型名创建原始模型（未限流）
type ModelBuilder func(ctx context.Context, modelName string) (model.ToolCallingChatModel, error)

// ProviderBuilder 根据配置返回对应提供方的 ModelBuilder
func ProviderBuilder(cfg config.LLMConfig, logger *log.Logger) (ModelBuilder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: %w", cfg.Provider, ErrMissingAPIKey)
	}

	timeout := config.GetDuration(cfg.Timeout, 60*time.Second)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return func(_ context.Context, modelName string) (model.ToolCallingChatModel, error) {
			opts := []OpenAIOption{
				WithOpenAILogger(logger),
				WithHTTPClient(newHTTPClient(timeout)),
				WithMaxTokens(cfg.MaxTokens),
			}
			if cfg.Temperature != nil {
				opts = append(opts, WithTemperature(float32(*cfg.Temperature)))
			}
			return NewOpenAIChatModel(cfg.APIKey, modelName, cfg.APIURL, opts...)
		}, nil
	case config.ProviderGoogle, "":
		return func(ctx context.Context, modelName string) (model.ToolCallingChatModel, error) {
			opts := []GeminiOption{
				WithGeminiLogger(logger),
				WithGeminiMaxTokens(cfg.MaxTokens),
			}
			if cfg.Temperature != nil {
				opts = append(opts, WithGeminiTemperature(float32(*cfg.Temperature)))
			}
			return NewGeminiChatModel(ctx, cfg.APIKey, modelName, opts...)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Services 按模型名缓存 Service，插件可以配置各自的模型
type Services struct {
	cfg     *config.Config
	build   ModelBuilder
	opts    []ServiceOption
	mu      sync.Mutex
	byModel map[string]*Service
}

// NewServices 创建 Services。build 为 nil 时按配置选择提供方。
func NewServices(cfg *config.Config, build ModelBuilder, logger *log.Logger, opts ...ServiceOption) (*Services, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if build == nil {
		var err error
		build, err = ProviderBuilder(cfg.LLM, logger)
		if err != nil {
			return nil, err
		}
	}
	opts = append([]ServiceOption{WithServiceLogger(logger), WithSystemPrompt(cfg.Pipeline.SystemPrompt)}, opts...)
	return &Services{
		cfg:     cfg,
		build:   build,
		opts:    opts,
		byModel: make(map[string]*Service),
	}, nil
}

// Default 默认模型对应的 Service
func (s *Services) Default(ctx context.Context) (*Service, error) {
	return s.forModel(ctx, s.cfg.LLM.Model)
}

// ForPlugin 插件专用模型对应的 Service
func (s *Services) ForPlugin(ctx context.Context, plugin string) (*Service, error) {
	return s.forModel(ctx, s.cfg.GetModelForPlugin(plugin))
}

func (s *Services) forModel(ctx context.Context, modelName string) (*Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.byModel[modelName]; ok {
		return svc, nil
	}
	raw, err := s.build(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("build model %s: %w", modelName, err)
	}
	limited := ratelimit.NewLLMWithRateLimit(
		raw,
		modelName,
		s.cfg.ModelQPMLimits,
		s.cfg.LLM.QPM,
		s.cfg.LLM.MaxRetries,
		config.GetDuration(s.cfg.LLM.RetryWait, 2*time.Second),
	)
	svc := NewService(limited, modelName, s.opts...)
	s.byModel[modelName] = svc
	return svc, nil
}
