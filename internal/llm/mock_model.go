package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockReply MockChatModel 的一条预设回复
type MockReply struct {
	Content string
	Usage   *schema.TokenUsage
	Err     error
}

// MockChatModel 测试用的 ChatModel。按 prompt 中包含的关键字选择回复，并发安全。
type MockChatModel struct {
	mu       sync.Mutex
	replies  map[string]MockReply
	keys     []string
	Fallback MockReply
	calls    int
	prompts  []string
}

// NewMockChatModel 创建 MockChatModel，fallback 用于没有匹配关键字的调用
func NewMockChatModel(fallback MockReply) *MockChatModel {
	return &MockChatModel{
		replies:  make(map[string]MockReply),
		Fallback: fallback,
	}
}

// On 当 user prompt 包含 keyword 时返回 reply，先注册的优先
func (m *MockChatModel) On(keyword string, reply MockReply) *MockChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.replies[keyword]; !ok {
		m.keys = append(m.keys, keyword)
	}
	m.replies[keyword] = reply
	return m
}

// CallCount 调用次数
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts 收到的 user prompt
func (m *MockChatModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Generate 实现 model.BaseChatModel
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prompt string
	for _, msg := range input {
		if msg != nil && msg.Role == schema.User {
			prompt = msg.Content
		}
	}

	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	reply := m.Fallback
	for _, k := range m.keys {
		if strings.Contains(prompt, k) {
			reply = m.replies[k]
			break
		}
	}
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	out := schema.AssistantMessage(reply.Content, nil)
	if reply.Usage != nil {
		out.ResponseMeta = &schema.ResponseMeta{Usage: reply.Usage}
	}
	return out, nil
}

// Stream 实现 model.BaseChatModel
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 实现 model.ToolCallingChatModel
func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) > 0 {
		return nil, errors.New("mock model does not support tools")
	}
	return m, nil
}

var _ model.ToolCallingChatModel = (*MockChatModel)(nil)
