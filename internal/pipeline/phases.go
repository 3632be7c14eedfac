package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cvinsight/internal/plugin"
)

var (
	// ErrUnknownDependency 依赖的插件没有注册
	ErrUnknownDependency = errors.New("unknown plugin dependency")
	// ErrDependencyCycle 插件依赖成环
	ErrDependencyCycle = errors.New("plugin dependency cycle")
)

// BuildPhases 按依赖分层：每层的插件只依赖更早的层。层内按名称排序。
func BuildPhases(plugins []plugin.Plugin) ([][]plugin.Plugin, error) {
	byName := make(map[string]plugin.Plugin, len(plugins))
	for _, p := range plugins {
		byName[p.Metadata().Name] = p
	}

	indegree := make(map[string]int, len(plugins))
	dependents := make(map[string][]string)
	for name, p := range byName {
		deps := p.Dependencies()
		for _, dep := range deps {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
		}
		indegree[name] = len(deps)
	}

	var phases [][]plugin.Plugin
	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}

	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		phase := make([]plugin.Plugin, 0, len(ready))
		var next []string
		for _, name := range ready {
			phase = append(phase, byName[name])
			for _, child := range dependents[name] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		placed += len(phase)
		phases = append(phases, phase)
		ready = next
	}

	if placed != len(byName) {
		var stuck []string
		for name, d := range indegree {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
	}
	return phases, nil
}

// PhaseNames 每层的插件名，日志和接口展示用
func PhaseNames(phases [][]plugin.Plugin) [][]string {
	out := make([][]string, len(phases))
	for i, phase := range phases {
		for _, p := range phase {
			out[i] = append(out[i], p.Metadata().Name)
		}
	}
	return out
}
