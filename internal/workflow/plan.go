package workflow

import (
	"fmt"
	"strings"

	xerrors "OpenIntent-Chain/internal/errors"
)

// Plan 是由意图编译得到的带依赖标注的步骤列表。
// 创建后只读，运行期状态由对应的 Execution 承载。
type Plan struct {
	ID        string  `json:"id"`
	IntentID  string  `json:"intent_id"`
	ChainID   uint64  `json:"chain_id,omitempty"`
	Steps     []*Step `json:"steps"`
	CreatedAt int64   `json:"created_at"`
}

// Clone 返回计划的深拷贝。
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Steps = make([]*Step, len(p.Steps))
	for i, step := range p.Steps {
		clone.Steps[i] = step.Clone()
	}
	return &clone
}

// Step 按 ID 查找步骤。
func (p *Plan) Step(id string) (*Step, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return nil, false
}

// Validate 校验计划结构：步骤非空、ID 唯一、依赖存在且无环。
// 环检测必须在任何步骤被调度之前完成。
func (p *Plan) Validate() error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plan 不能为空")
	}
	if strings.TrimSpace(p.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计划 ID 不能为空")
	}
	if len(p.Steps) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "计划不能没有步骤")
	}
	for _, step := range p.Steps {
		if step == nil || strings.TrimSpace(step.ID) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "步骤 ID 不能为空")
		}
		if strings.TrimSpace(step.Skill) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("步骤 %s 缺少技能标识", step.ID))
		}
	}
	if _, err := NewGraph(p.Steps); err != nil {
		return err
	}
	return nil
}
