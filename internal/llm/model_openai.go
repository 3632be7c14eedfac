package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// OpenAI 兼容接口的请求/响应结构
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
}

// OpenAIChatModel 调用 OpenAI 兼容的 /chat/completions 接口，实现 eino 的 ToolCallingChatModel。
// 只用于结构化抽取，不支持工具调用。
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float32
	maxTokens   int
	httpClient  *http.Client
	logger      *log.Logger
}

// OpenAIOption OpenAIChatModel 的可选项
type OpenAIOption func(*OpenAIChatModel)

// WithHTTPClient 自定义 HTTP 客户端
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(m *OpenAIChatModel) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithOpenAILogger 设置日志
func WithOpenAILogger(l *log.Logger) OpenAIOption {
	return func(m *OpenAIChatModel) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTemperature 覆盖默认温度。推理模型会忽略该设置。
func WithTemperature(t float32) OpenAIOption {
	return func(m *OpenAIChatModel) {
		m.temperature = &t
	}
}

// WithMaxTokens 限制输出 token 数
func WithMaxTokens(n int) OpenAIOption {
	return func(m *OpenAIChatModel) {
		m.maxTokens = n
	}
}

// NewOpenAIChatModel 创建 OpenAI 兼容模型。温度默认 0.1，o 系列推理模型不发送温度。
func NewOpenAIChatModel(apiKey, modelName, apiURL string, opts ...OpenAIOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = "gpt-3.5-turbo-16k"
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = "https://api.openai.com/v1/chat/completions"
	}

	defaultTemp := float32(0.1)
	m := &OpenAIChatModel{
		apiKey:      apiKey,
		modelName:   modelName,
		apiURL:      apiURL,
		temperature: &defaultTemp,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		logger:      log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	if IsReasoningModel(modelName) {
		m.temperature = nil
	}
	return m, nil
}

// IsReasoningModel o1/o3/o4 系列不接受 temperature 和 max_tokens
func IsReasoningModel(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "o1") || strings.HasPrefix(n, "o3") || strings.HasPrefix(n, "o4")
}

// ModelName 返回模型名
func (m *OpenAIChatModel) ModelName() string { return m.modelName }

// Generate 实现 model.BaseChatModel
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.modelName}, opts...)

	req := openAIChatRequest{
		Model:    *options.Model,
		Messages: make([]openAIMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
	}

	reasoning := IsReasoningModel(req.Model)
	if !reasoning {
		req.Temperature = m.temperature
		if options.Temperature != nil {
			req.Temperature = options.Temperature
		}
	}
	maxTokens := m.maxTokens
	if options.MaxTokens != nil {
		maxTokens = *options.MaxTokens
	}
	if maxTokens > 0 {
		if reasoning {
			req.MaxCompletionTokens = &maxTokens
		} else {
			req.MaxTokens = &maxTokens
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	m.logger.Printf("[OpenAIChatModel] POST %s model=%s messages=%d", m.apiURL, req.Model, len(req.Messages))

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "openai", StatusCode: httpResp.StatusCode, Body: truncate(string(respBody), 500)}
	}

	var resp openAIChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w: no choices", ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}
	out := schema.AssistantMessage(content, nil)
	out.ResponseMeta = &schema.ResponseMeta{FinishReason: choice.FinishReason}
	if resp.Usage != nil {
		out.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Stream 结构化抽取只需要一次性结果，这里把 Generate 的结果包装成单元素流
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools 不支持工具调用，传入工具时报错
func (m *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) > 0 {
		return fmt.Errorf("OpenAIChatModel does not support tool calling")
	}
	return nil
}

// WithTools 实现 model.ToolCallingChatModel
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := m.BindTools(tools); err != nil {
		return nil, err
	}
	return m, nil
}

var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)
