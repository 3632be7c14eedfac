package llm

import (
	"github.com/cloudwego/eino/schema"
)

// UsageSource token 用量的来源
type UsageSource string

const (
	// SourceUsageMetadata 模型响应自带的用量
	SourceUsageMetadata UsageSource = "usage_metadata"
	// SourceLLMOutput 从响应附加字段中解析出的用量
	SourceLLMOutput UsageSource = "llm_output"
	// SourceEstimation 按字符数估算
	SourceEstimation UsageSource = "estimation"
	// SourceError 调用失败
	SourceError UsageSource = "error"
)

// ExtraTokenUsageKey 没有 ResponseMeta 的 ChatModel 可以把用量放进 Message.Extra 的这个键
const ExtraTokenUsageKey = "token_usage"

// Usage 一次 LLM 调用的 token 用量
type Usage struct {
	TotalTokens      int         `json:"total_tokens"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	Source           UsageSource `json:"source"`
	IsEstimated      bool        `json:"is_estimated"`
	Extractor        string      `json:"extractor,omitempty"`
}

// EstimateUsage 约 4 个字符一个 token
func EstimateUsage(prompt, output string) Usage {
	p := len(prompt) / 4
	c := len(output) / 4
	return Usage{
		TotalTokens:      p + c,
		PromptTokens:     p,
		CompletionTokens: c,
		Source:           SourceEstimation,
		IsEstimated:      true,
	}
}

// ErrorUsage 调用失败时的用量记录
func ErrorUsage(extractor string) Usage {
	return Usage{Source: SourceError, Extractor: extractor}
}

// UsageFromMessage 优先取 ResponseMeta.Usage，其次 Extra["token_usage"]，都没有时按 prompt 和回复估算
func UsageFromMessage(msg *schema.Message, prompt string) Usage {
	if msg == nil {
		return EstimateUsage(prompt, "")
	}

	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		if u.TotalTokens > 0 || u.PromptTokens > 0 || u.CompletionTokens > 0 {
			total := u.TotalTokens
			if total == 0 {
				total = u.PromptTokens + u.CompletionTokens
			}
			return Usage{
				TotalTokens:      total,
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				Source:           SourceUsageMetadata,
			}
		}
	}

	if raw, ok := msg.Extra[ExtraTokenUsageKey].(map[string]any); ok {
		p := toInt(raw["prompt_tokens"])
		c := toInt(raw["completion_tokens"])
		total := toInt(raw["total_tokens"])
		if total == 0 {
			total = p + c
		}
		if total > 0 {
			return Usage{
				TotalTokens:      total,
				PromptTokens:     p,
				CompletionTokens: c,
				Source:           SourceLLMOutput,
			}
		}
	}

	return EstimateUsage(prompt, msg.Content)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return 0
}

// Summary 一份简历所有插件调用的用量汇总
type Summary struct {
	TotalTokens      int              `json:"total_tokens"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	Estimated        bool             `json:"estimated"`
	Calls            int              `json:"calls"`
	Failed           int              `json:"failed"`
	ByExtractor      map[string]Usage `json:"by_extractor"`
}

// Summarize 按插件汇总用量，任一记录为估算时 Estimated 为 true
func Summarize(records map[string]Usage) Summary {
	s := Summary{ByExtractor: make(map[string]Usage, len(records))}
	for name, u := range records {
		if u.Extractor == "" {
			u.Extractor = name
		}
		s.ByExtractor[name] = u
		s.Calls++
		if u.Source == SourceError {
			s.Failed++
		}
		s.TotalTokens += u.TotalTokens
		s.PromptTokens += u.PromptTokens
		s.CompletionTokens += u.CompletionTokens
		if u.IsEstimated {
			s.Estimated = true
		}
	}
	return s
}

// Add 累加另一份汇总，批处理统计时使用
func (s *Summary) Add(o Summary) {
	s.TotalTokens += o.TotalTokens
	s.PromptTokens += o.PromptTokens
	s.CompletionTokens += o.CompletionTokens
	s.Calls += o.Calls
	s.Failed += o.Failed
	s.Estimated = s.Estimated || o.Estimated
}
