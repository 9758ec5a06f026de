package workflow

// StepStatus 表示步骤在生命周期中的状态，只允许向前迁移。
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusReady     StepStatus = "ready"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Step 描述计划中的单个技能调用。参数里可以携带延迟引用，
// 指向上游步骤的输出字段，由调度器在派发前解析。
type Step struct {
	ID          string         `json:"id"`
	Skill       string         `json:"skill"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Status      StepStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	TxHash      string         `json:"tx_hash,omitempty"`
	StartedAt   int64          `json:"started_at,omitempty"`
	FinishedAt  int64          `json:"finished_at,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
}

// Clone 返回步骤的深拷贝（参数与输出按浅层复制）。
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Params = cloneMap(s.Params)
	clone.Output = cloneMap(s.Output)
	clone.DependsOn = append([]string(nil), s.DependsOn...)
	return &clone
}

// Terminal 判断步骤是否处于终态。
func (s *Step) Terminal() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusFailed
}

// IsValidStepStatus 检查给定的步骤状态是否为支持的枚举值。
func IsValidStepStatus(status StepStatus) bool {
	switch status {
	case StepStatusPending, StepStatusReady, StepStatusExecuting, StepStatusCompleted, StepStatusFailed:
		return true
	default:
		return false
	}
}
