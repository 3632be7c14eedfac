package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 未配置 QPM 时的默认值
const defaultQPM = 30

// RateLimitedLLMModel 给 ChatModel 加上限流和重试
type RateLimitedLLMModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedLLMModel 容量取 QPM 的一半，允许少量突发
func NewRateLimitedLLMModel(original model.ToolCallingChatModel, qpm int) *RateLimitedLLMModel {
	return &RateLimitedLLMModel{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, qpm/2),
	}
}

// WithRetryPolicy 设置重试策略
func (rl *RateLimitedLLMModel) WithRetryPolicy(waitTime time.Duration, maxRetries int) *RateLimitedLLMModel {
	rl.rateLimiter.WithRetryPolicy(waitTime, maxRetries)
	return rl
}

// Generate 限流后调用原模型，可重试错误自动重试
func (rl *RateLimitedLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var genErr error
		response, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	return response, err
}

// Stream 只对建立流的调用做限流重试
func (rl *RateLimitedLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var streamErr error
		stream, streamErr = rl.original.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}

// WithTools 返回共享同一个令牌桶的新代理
func (rl *RateLimitedLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedLLMModel{
		original:    newModel,
		rateLimiter: rl.rateLimiter,
	}, nil
}

// ResolveQPM 模型在 limits 中有配置时取其 90%，否则用 customQPM，再否则用默认值
func ResolveQPM(modelName string, limits map[string]int, customQPM int) int {
	if customQPM > 0 {
		return customQPM
	}
	if modelQPM, ok := limits[modelName]; ok && modelQPM > 0 {
		if safe := int(float64(modelQPM) * 0.9); safe > 0 {
			return safe
		}
		return 1
	}
	return defaultQPM
}

// NewLLMWithRateLimit 按模型名和 QPM 配置包装一个限流模型
func NewLLMWithRateLimit(original model.ToolCallingChatModel, modelName string, limits map[string]int, customQPM int, maxRetries int, retryWaitTime time.Duration) model.ToolCallingChatModel {
	qpm := ResolveQPM(modelName, limits, customQPM)
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryWaitTime <= 0 {
		retryWaitTime = time.Second
	}
	return NewRateLimitedLLMModel(original, qpm).WithRetryPolicy(retryWaitTime, maxRetries)
}
