package workflow

import (
	"context"
	"sort"
	"sync"

	xerrors "OpenIntent-Chain/internal/errors"
)

// MemoryStore 以内存方式保存计划与执行记录，读写均返回克隆，
// 调用方持有的对象不会与存储内部状态共享。
type MemoryStore struct {
	mu         sync.RWMutex
	plans      map[string]*Plan
	executions map[string]*Execution
	byPlan     map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:      make(map[string]*Plan),
		executions: make(map[string]*Execution),
		byPlan:     make(map[string]string),
	}
}

// CreatePlan 登记一个新计划。
func (m *MemoryStore) CreatePlan(_ context.Context, plan *Plan) error {
	if plan == nil || plan.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计划 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "workflow plan already exists")
	}
	clone := plan.Clone()
	if clone.CreatedAt == 0 {
		clone.CreatedAt = nowUnixMilli()
	}
	m.plans[plan.ID] = clone
	return nil
}

// GetPlan 返回计划副本。
func (m *MemoryStore) GetPlan(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return plan.Clone(), nil
}

// CreateExecution 登记一次新执行。每个计划至多一条执行记录。
func (m *MemoryStore) CreateExecution(_ context.Context, execution *Execution) error {
	if execution == nil || execution.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[execution.ID]; ok {
		return ErrExecutionConflict
	}
	if _, ok := m.byPlan[execution.PlanID]; ok && execution.PlanID != "" {
		return ErrExecutionConflict
	}
	clone := execution.Clone()
	now := nowUnixMilli()
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.executions[execution.ID] = clone
	if execution.PlanID != "" {
		m.byPlan[execution.PlanID] = execution.ID
	}
	return nil
}

// GetExecution 返回执行记录副本。
func (m *MemoryStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	execution, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return execution.Clone(), nil
}

// ExecutionForPlan 返回计划对应的执行记录副本。
func (m *MemoryStore) ExecutionForPlan(_ context.Context, planID string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPlan[planID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	execution, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return execution.Clone(), nil
}

// SaveExecution 覆盖写入执行快照。终态记录被冻结，拒绝任何覆盖。
func (m *MemoryStore) SaveExecution(_ context.Context, execution *Execution) error {
	if execution == nil || execution.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.executions[execution.ID]
	if !ok {
		return ErrExecutionNotFound
	}
	if current.Terminal() {
		return ErrExecutionTerminal
	}
	clone := execution.Clone()
	clone.UpdatedAt = nowUnixMilli()
	m.executions[execution.ID] = clone
	return nil
}

// MarkCancelled 将非终态执行置为 cancelled 并返回取消后的快照。
func (m *MemoryStore) MarkCancelled(_ context.Context, id string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	if execution.Terminal() {
		return execution.Clone(), ErrExecutionTerminal
	}
	now := nowUnixMilli()
	execution.Status = ExecutionStatusCancelled
	execution.FinishedAt = now
	execution.UpdatedAt = now
	if execution.StartedAt > 0 {
		execution.DurationMS = now - execution.StartedAt
	}
	return execution.Clone(), nil
}

// ListExecutions 返回符合过滤条件的执行记录。
func (m *MemoryStore) ListExecutions(_ context.Context, opts ListOptions) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Execution, 0, len(m.executions))
	for _, execution := range m.executions {
		if !matchesListFilters(execution, opts) {
			continue
		}
		results = append(results, execution.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Execution{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(execution *Execution, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if execution.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.IntentID != "" && execution.IntentID != opts.IntentID {
		return false
	}
	if opts.PlanID != "" && execution.PlanID != opts.PlanID {
		return false
	}
	if opts.UpdatedGTE > 0 && execution.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && execution.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
