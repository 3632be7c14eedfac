// Package plugin 定义抽取插件的契约和注册表
package plugin

import (
	"context"
	"errors"

	"cvinsight/internal/llm"
)

// Category 插件类别
type Category string

const (
	CategoryBase   Category = "base"
	CategoryCustom Category = "custom"
)

// DefaultVersion 内置插件版本
const DefaultVersion = "1.0.0"

var (
	// ErrPluginNotFound 插件未注册
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrDuplicatePlugin 同名插件已注册
	ErrDuplicatePlugin = errors.New("plugin already registered")
	// ErrMissingVariable 模板声明的变量没有提供值
	ErrMissingVariable = errors.New("missing prompt variable")
)

// Metadata 插件描述信息
type Metadata struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Author      string   `json:"author"`
}

// Params 单次解析的附加参数
type Params struct {
	JobDescription string `json:"job_description,omitempty"`
	SubmissionDate string `json:"date_of_resume_submission,omitempty"` // YYYY-MM-DD
}

// Input 插件的一次调用输入
type Input struct {
	// Text 简历全文
	Text string
	// Deps 依赖插件的输出，key 为插件名
	Deps map[string]map[string]any
	// Params 调用方传入的参数，优先于插件默认值
	Params Params
}

// Dep 返回依赖插件的输出，不存在时返回 nil
func (in Input) Dep(name string) map[string]any {
	if in.Deps == nil {
		return nil
	}
	return in.Deps[name]
}

// Plugin 抽取插件。实例在启动时创建一次，之后被并发调用，实现必须无状态。
type Plugin interface {
	Metadata() Metadata
	// Initialize 注册前调用一次，返回错误的插件不会被注册
	Initialize() error
	// Dependencies 返回需要先执行的插件名
	Dependencies() []string
	// Extract 返回抽取结果和本次 LLM 调用的用量
	Extract(ctx context.Context, in Input) (map[string]any, llm.Usage, error)
}
