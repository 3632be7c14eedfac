package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cvinsight/internal/llm"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// FormatInstructionsVar 模板中放置输出格式说明的变量名
const FormatInstructionsVar = "format_instructions"

// Extractor 发送 prompt 并把 JSON 回复解到 out，*llm.Service 实现了它
type Extractor interface {
	Extract(ctx context.Context, prompt string, out any) (llm.Usage, error)
}

// Source 按插件名提供 Extractor，插件可以使用各自配置的模型
type Source interface {
	ForPlugin(ctx context.Context, plugin string) (Extractor, error)
}

// SourceFunc 函数形式的 Source
type SourceFunc func(ctx context.Context, plugin string) (Extractor, error)

// ForPlugin 实现 Source
func (f SourceFunc) ForPlugin(ctx context.Context, plugin string) (Extractor, error) {
	return f(ctx, plugin)
}

// FromServices 把 llm.Services 适配为 Source
func FromServices(s *llm.Services) Source {
	return SourceFunc(func(ctx context.Context, plugin string) (Extractor, error) {
		svc, err := s.ForPlugin(ctx, plugin)
		if err != nil {
			return nil, err
		}
		return svc, nil
	})
}

// Static 所有插件共用同一个 Extractor
func Static(e Extractor) Source {
	return SourceFunc(func(context.Context, string) (Extractor, error) {
		return e, nil
	})
}

// LLMExtractorConfig 描述一个基于 LLM 的抽取插件
type LLMExtractorConfig struct {
	Metadata Metadata
	// Template 使用 {var} 占位符，{format_instructions} 自动填充
	Template string
	// Variables 模板需要的变量，默认 ["text"]
	Variables []string
	// Dependencies 依赖的插件名
	Dependencies []string
	// TextFrom 非空时 {text} 使用该依赖插件输出的 JSON，依赖没有数据时退回简历全文
	TextFrom string
	// OutputModel 结果结构体的零值，用于生成格式说明
	OutputModel any
	// Prepare 生成模板变量，为 nil 时只提供 text
	Prepare func(in Input, text string) map[string]any
	// Process 对模型返回的 JSON 做后处理
	Process func(raw map[string]any, in Input) (map[string]any, error)
}

// LLMExtractor 渲染模板、调用模型、后处理结果的通用插件实现
type LLMExtractor struct {
	cfg          LLMExtractorConfig
	template     prompt.ChatTemplate
	instructions string
	source       Source
}

// NewLLMExtractor 创建插件。模板或格式说明在 Initialize 时校验。
func NewLLMExtractor(source Source, cfg LLMExtractorConfig) *LLMExtractor {
	if len(cfg.Variables) == 0 {
		cfg.Variables = []string{"text"}
	}
	if cfg.Metadata.Version == "" {
		cfg.Metadata.Version = DefaultVersion
	}
	return &LLMExtractor{
		cfg:      cfg,
		template: prompt.FromMessages(schema.FString, schema.UserMessage(cfg.Template)),
		source:   source,
	}
}

// Metadata 实现 Plugin
func (e *LLMExtractor) Metadata() Metadata { return e.cfg.Metadata }

// Dependencies 实现 Plugin
func (e *LLMExtractor) Dependencies() []string {
	return append([]string(nil), e.cfg.Dependencies...)
}

// Variables 模板变量
func (e *LLMExtractor) Variables() []string {
	return append([]string(nil), e.cfg.Variables...)
}

// Initialize 生成格式说明，并检查 LLM 来源和模板
func (e *LLMExtractor) Initialize() error {
	if e.source == nil {
		return fmt.Errorf("%s: no llm source", e.cfg.Metadata.Name)
	}
	if strings.TrimSpace(e.cfg.Template) == "" {
		return fmt.Errorf("%s: empty prompt template", e.cfg.Metadata.Name)
	}
	if e.cfg.OutputModel != nil {
		s, err := FormatInstructions(e.cfg.OutputModel)
		if err != nil {
			return fmt.Errorf("%s: %w", e.cfg.Metadata.Name, err)
		}
		e.instructions = s
	}
	return nil
}

// InputText 返回 {text} 的取值
func (e *LLMExtractor) InputText(in Input) string {
	if e.cfg.TextFrom == "" {
		return in.Text
	}
	dep := in.Dep(e.cfg.TextFrom)
	if len(dep) == 0 {
		return in.Text
	}
	raw, err := json.MarshalIndent(dep, "", "  ")
	if err != nil {
		return in.Text
	}
	return string(raw)
}

// Render 生成最终 prompt。声明的变量缺失时返回 ErrMissingVariable。
func (e *LLMExtractor) Render(ctx context.Context, in Input) (string, error) {
	text := e.InputText(in)
	var vars map[string]any
	if e.cfg.Prepare != nil {
		vars = e.cfg.Prepare(in, text)
	} else {
		vars = map[string]any{"text": text}
	}

	for _, v := range e.cfg.Variables {
		if _, ok := vars[v]; !ok {
			return "", fmt.Errorf("%w: %s needs {%s}", ErrMissingVariable, e.cfg.Metadata.Name, v)
		}
	}
	vars[FormatInstructionsVar] = e.instructions

	msgs, err := e.template.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", e.cfg.Metadata.Name, err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("render %s prompt: no message", e.cfg.Metadata.Name)
	}
	return msgs[0].Content, nil
}

// Extract 实现 Plugin。用量的 extractor 字段总是当前插件名。
func (e *LLMExtractor) Extract(ctx context.Context, in Input) (map[string]any, llm.Usage, error) {
	name := e.cfg.Metadata.Name

	promptText, err := e.Render(ctx, in)
	if err != nil {
		return nil, llm.ErrorUsage(name), err
	}
	svc, err := e.source.ForPlugin(ctx, name)
	if err != nil {
		return nil, llm.ErrorUsage(name), fmt.Errorf("%s: %w", name, err)
	}

	var raw map[string]any
	usage, err := svc.Extract(ctx, promptText, &raw)
	usage.Extractor = name
	if err != nil {
		return nil, usage, fmt.Errorf("%s: %w", name, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if e.cfg.Process == nil {
		return raw, usage, nil
	}
	out, err := e.cfg.Process(raw, in)
	if err != nil {
		return nil, usage, fmt.Errorf("%s: process output: %w", name, err)
	}
	return out, usage, nil
}

var _ Plugin = (*LLMExtractor)(nil)
