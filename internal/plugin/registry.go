package plugin

import (
	"fmt"
	"sort"
	"sync"

	"cvinsight/internal/logger"
)

// Registry 按名称保存已初始化的插件，并发安全
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register 初始化并注册插件。重名或初始化失败时返回错误，插件不会被加入。
func (r *Registry) Register(p Plugin) error {
	name := p.Metadata().Name
	if name == "" {
		return fmt.Errorf("register plugin: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, name)
	}
	if err := p.Initialize(); err != nil {
		return fmt.Errorf("initialize plugin %s: %w", name, err)
	}
	r.plugins[name] = p
	return nil
}

// RegisterAll 逐个注册，失败的插件记日志后跳过，返回成功注册的数量
func (r *Registry) RegisterAll(plugins ...Plugin) int {
	n := 0
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			logger.Warn().Err(err).Str("plugin", p.Metadata().Name).Msg("插件注册失败，已跳过")
			continue
		}
		n++
	}
	return n
}

// Get 按名称获取插件
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return p, nil
}

// List 按名称排序返回所有插件
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata().Name < out[j].Metadata().Name
	})
	return out
}

// ByCategory 返回指定类别的插件，按名称排序
func (r *Registry) ByCategory(c Category) []Plugin {
	var out []Plugin
	for _, p := range r.List() {
		if p.Metadata().Category == c {
			out = append(out, p)
		}
	}
	return out
}

// Metadata 所有插件的描述信息，按名称排序
func (r *Registry) Metadata() []Metadata {
	list := r.List()
	out := make([]Metadata, len(list))
	for i, p := range list {
		out[i] = p.Metadata()
	}
	return out
}

// Len 已注册插件数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
