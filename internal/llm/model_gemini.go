package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// GeminiChatModel 通过 google.golang.org/genai 调用 Gemini，实现 eino 的 ToolCallingChatModel
type GeminiChatModel struct {
	client      *genai.Client
	modelName   string
	temperature float32
	maxTokens   int32
	logger      *log.Logger
}

// GeminiOption GeminiChatModel 的可选项
type GeminiOption func(*GeminiChatModel)

// WithGeminiLogger 设置日志
func WithGeminiLogger(l *log.Logger) GeminiOption {
	return func(m *GeminiChatModel) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithGeminiMaxTokens 限制输出 token 数
func WithGeminiMaxTokens(n int) GeminiOption {
	return func(m *GeminiChatModel) {
		m.maxTokens = int32(n)
	}
}

// WithGeminiTemperature 覆盖默认温度
func WithGeminiTemperature(t float32) GeminiOption {
	return func(m *GeminiChatModel) {
		m.temperature = t
	}
}

// NewGeminiChatModel 创建 Gemini 模型，默认 gemini-2.0-flash，温度 0
func NewGeminiChatModel(ctx context.Context, apiKey, modelName string, opts ...GeminiOption) (*GeminiChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 GenAI 客户端失败: %w", err)
	}

	m := &GeminiChatModel{
		client:    client,
		modelName: modelName,
		logger:    log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ModelName 返回模型名
func (m *GeminiChatModel) ModelName() string { return m.modelName }

// Generate system 消息合并为 SystemInstruction，其余按 user/model 角色传入
func (m *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.modelName}, opts...)

	temperature := m.temperature
	if options.Temperature != nil {
		temperature = *options.Temperature
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	maxTokens := m.maxTokens
	if options.MaxTokens != nil {
		maxTokens = int32(*options.MaxTokens)
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = maxTokens
	}

	var (
		systemParts []string
		contents    []*genai.Content
	)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			systemParts = append(systemParts, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no user content to send")
	}

	m.logger.Printf("[GeminiChatModel] generate model=%s contents=%d", *options.Model, len(contents))

	resp, err := m.client.Models.GenerateContent(ctx, *options.Model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &APIError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
			return nil, &APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
		}
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := schema.AssistantMessage(resp.Text(), nil)
	out.ResponseMeta = &schema.ResponseMeta{}
	if len(resp.Candidates) > 0 {
		out.ResponseMeta.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Stream 包装 Generate 的结果
func (m *GeminiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 不支持工具调用
func (m *GeminiChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) > 0 {
		return nil, fmt.Errorf("GeminiChatModel does not support tool calling")
	}
	return m, nil
}

var _ model.ToolCallingChatModel = (*GeminiChatModel)(nil)
