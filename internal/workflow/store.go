package workflow

import "context"

// Store 抽象了计划与执行记录的持久化接口。
// 实现必须保证终态执行被冻结：SaveExecution 对终态记录返回
// ErrExecutionTerminal，MarkCancelled 只对非终态记录生效。
type Store interface {
	CreatePlan(ctx context.Context, plan *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	CreateExecution(ctx context.Context, execution *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ExecutionForPlan(ctx context.Context, planID string) (*Execution, error)
	SaveExecution(ctx context.Context, execution *Execution) error
	MarkCancelled(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, opts ListOptions) ([]*Execution, error)
	Close() error
}
