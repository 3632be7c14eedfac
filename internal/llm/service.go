package llm

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"cvinsight/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSystemPrompt 所有抽取调用共用的 system 消息
const DefaultSystemPrompt = "You are an expert resume parser. Always answer with a single valid JSON object and nothing else."

var tracer = otel.Tracer("cvinsight/llm")

// Service 负责把 prompt 发给模型并把回复解析为 JSON
type Service struct {
	model        model.ToolCallingChatModel
	modelName    string
	systemPrompt string
	callOptions  []model.Option
	logger       *log.Logger
}

// ServiceOption Service 的可选项
type ServiceOption func(*Service)

// WithSystemPrompt 覆盖默认 system 消息
func WithSystemPrompt(p string) ServiceOption {
	return func(s *Service) {
		if strings.TrimSpace(p) != "" {
			s.systemPrompt = p
		}
	}
}

// WithServiceLogger 设置日志
func WithServiceLogger(l *log.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCallOptions 每次 Generate 附带的 eino 选项
func WithCallOptions(opts ...model.Option) ServiceOption {
	return func(s *Service) {
		s.callOptions = append(s.callOptions, opts...)
	}
}

// NewService 创建 Service
func NewService(m model.ToolCallingChatModel, modelName string, opts ...ServiceOption) *Service {
	s := &Service{
		model:        m,
		modelName:    modelName,
		systemPrompt: DefaultSystemPrompt,
		logger:       log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelName 返回模型名
func (s *Service) ModelName() string { return s.modelName }

// Extract 发送 prompt，把回复中的 JSON 解到 out，返回本次调用的 token 用量。
// 模型调用失败时用量来源为 error；JSON 解析失败时仍返回实际用量。
func (s *Service) Extract(ctx context.Context, prompt string, out any) (Usage, error) {
	ctx, span := tracer.Start(ctx, "llm.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", s.modelName),
		attribute.String("llm.prompt", tracing.SafePrompt(prompt)),
	)

	if s.model == nil {
		err := fmt.Errorf("llm service has no model")
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return ErrorUsage(""), err
	}

	messages := []*schema.Message{
		schema.SystemMessage(s.systemPrompt),
		schema.UserMessage(prompt),
	}

	resp, err := s.model.Generate(ctx, messages, s.callOptions...)
	if err != nil {
		s.logger.Printf("[LLMService] model=%s generate failed: %v", s.modelName, err)
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return ErrorUsage(""), fmt.Errorf("llm generate: %w", err)
	}

	usage := UsageFromMessage(resp, s.systemPrompt+prompt)
	tracing.RecordTokenUsage(span, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.IsEstimated)

	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		tracing.RecordError(span, ErrEmptyResponse, tracing.ErrorTypeLLM)
		return usage, ErrEmptyResponse
	}
	s.logger.Printf("[LLMService] model=%s tokens=%d source=%s", s.modelName, usage.TotalTokens, usage.Source)

	if err := DecodeJSON(resp.Content, out); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		return usage, err
	}
	return usage, nil
}
