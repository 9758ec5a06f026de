package workflow

import "github.com/google/uuid"

// ExecutionStatus 表示一次计划运行的整体状态。
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusExecuting ExecutionStatus = "executing"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Execution 表示计划的一次运行，持有每个步骤的运行期副本。
// 时间戳统一为 Unix 毫秒。终态记录被冻结，存储层拒绝后续写入。
type Execution struct {
	ID         string          `json:"id"`
	PlanID     string          `json:"plan_id"`
	IntentID   string          `json:"intent_id,omitempty"`
	ChainID    uint64          `json:"chain_id,omitempty"`
	Status     ExecutionStatus `json:"status"`
	Steps      []*Step         `json:"steps"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
	StartedAt  int64           `json:"started_at,omitempty"`
	FinishedAt int64           `json:"finished_at,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
}

// NewExecution 基于计划创建一次待执行的运行记录，步骤为计划的副本。
func NewExecution(plan *Plan) *Execution {
	execution := &Execution{
		ID:       uuid.NewString(),
		PlanID:   plan.ID,
		IntentID: plan.IntentID,
		ChainID:  plan.ChainID,
		Status:   ExecutionStatusPending,
		Steps:    make([]*Step, len(plan.Steps)),
	}
	for i, step := range plan.Steps {
		clone := step.Clone()
		clone.Status = StepStatusPending
		execution.Steps[i] = clone
	}
	return execution
}

// Clone 返回执行记录的深拷贝。
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Steps = make([]*Step, len(e.Steps))
	for i, step := range e.Steps {
		clone.Steps[i] = step.Clone()
	}
	return &clone
}

// Terminal 判断执行是否处于终态。
func (e *Execution) Terminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Step 按 ID 查找运行期步骤。
func (e *Execution) Step(id string) (*Step, bool) {
	for _, step := range e.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return nil, false
}

// CompletedSteps 返回已完成步骤的 ID 集合。
func (e *Execution) CompletedSteps() map[string]bool {
	completed := make(map[string]bool, len(e.Steps))
	for _, step := range e.Steps {
		if step.Status == StepStatusCompleted {
			completed[step.ID] = true
		}
	}
	return completed
}

// FailedSteps 返回已失败步骤的 ID 列表，保持步骤顺序。
func (e *Execution) FailedSteps() []string {
	var failed []string
	for _, step := range e.Steps {
		if step.Status == StepStatusFailed {
			failed = append(failed, step.ID)
		}
	}
	return failed
}

// IsValidExecutionStatus 检查给定的执行状态是否为支持的枚举值。
func IsValidExecutionStatus(status ExecutionStatus) bool {
	switch status {
	case ExecutionStatusPending, ExecutionStatusExecuting, ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}
