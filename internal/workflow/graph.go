package workflow

import (
	"fmt"
	"strings"

	xerrors "OpenIntent-Chain/internal/errors"
)

// Graph 维护步骤间的依赖关系，提供环检测与就绪集查询。
// 构造时即拒绝未知依赖与环，之后保持只读。
type Graph struct {
	order []string
	steps map[string]*Step
}

// NewGraph 基于步骤列表构建依赖图。
func NewGraph(steps []*Step) (*Graph, error) {
	g := &Graph{
		order: make([]string, 0, len(steps)),
		steps: make(map[string]*Step, len(steps)),
	}
	for _, step := range steps {
		if _, ok := g.steps[step.ID]; ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("步骤 ID 重复: %s", step.ID))
		}
		g.steps[step.ID] = step
		g.order = append(g.order, step.ID)
	}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := g.steps[dep]; !ok {
				return nil, xerrors.New(CodeUnknownDependency,
					fmt.Sprintf("步骤 %s 依赖了不存在的步骤 %s", step.ID, dep),
					xerrors.WithMetadata("step_id", step.ID),
					xerrors.WithMetadata("depends_on", dep))
			}
		}
	}
	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, xerrors.New(CodeCyclicDependency,
			fmt.Sprintf("步骤依赖构成环: %s", strings.Join(cycle, " -> ")),
			xerrors.WithMetadata("cycle", strings.Join(cycle, ",")))
	}
	return g, nil
}

// HasCycle 报告依赖图中是否存在环。成功构造的图恒为 false。
func (g *Graph) HasCycle() bool {
	return len(g.findCycle()) > 0
}

// findCycle 使用三色深度优先搜索定位环。白色未访问、灰色在栈上、
// 黑色已完成；命中灰色节点即发现回边，返回环上的步骤 ID。
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.steps))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range g.steps[id].DependsOn {
			switch colors[dep] {
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			case gray:
				start := 0
				for i, candidate := range stack {
					if candidate == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				return append(cycle, dep)
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range g.order {
		if colors[id] != white {
			continue
		}
		if cycle := visit(id); cycle != nil {
			return cycle
		}
	}
	return nil
}

// ReadySteps 返回依赖全部落入 completed 集合且仍处于 pending 的步骤，
// 保持计划中的步骤顺序。
func (g *Graph) ReadySteps(completed map[string]bool) []*Step {
	var ready []*Step
	for _, id := range g.order {
		step := g.steps[id]
		if step.Status != StepStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range step.DependsOn {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, step)
		}
	}
	return ready
}

// Size 返回图中的步骤数量。
func (g *Graph) Size() int {
	return len(g.order)
}
