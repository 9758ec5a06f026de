package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/intent"
	"OpenIntent-Chain/internal/observability/metrics"
	"OpenIntent-Chain/pkg/logger"
)

// Simulator 在执行入队前对计划做一次干跑校验。
type Simulator interface {
	Simulate(ctx context.Context, plan *Plan) error
}

// Service 负责工作流的编排入口：编译意图、登记计划、
// 创建执行并推送调度。
type Service struct {
	compiler    *Compiler
	store       Store
	producer    Producer
	scheduler   *Scheduler
	bus         *Bus
	stats       *StatsTracker
	autoExecute bool
	simulation  bool
	simulator   Simulator
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithAutoExecute 控制创建计划后是否立即触发执行。
func WithAutoExecute(enabled bool) ServiceOption {
	return func(s *Service) {
		s.autoExecute = enabled
	}
}

// WithSimulation 开启执行前的模拟校验。
func WithSimulation(enabled bool) ServiceOption {
	return func(s *Service) {
		s.simulation = enabled
	}
}

// WithSimulator 注入模拟器实现。
func WithSimulator(simulator Simulator) ServiceOption {
	return func(s *Service) {
		s.simulator = simulator
	}
}

// WithInlineScheduler 在未配置队列时改为进程内直接调度。
func WithInlineScheduler(scheduler *Scheduler) ServiceOption {
	return func(s *Service) {
		s.scheduler = scheduler
	}
}

// NewService 构造工作流服务。
func NewService(compiler *Compiler, store Store, producer Producer, bus *Bus, stats *StatsTracker, opts ...ServiceOption) *Service {
	s := &Service{
		compiler: compiler,
		store:    store,
		producer: producer,
		bus:      bus,
		stats:    stats,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.bus == nil {
		s.bus = NewBus()
	}
	if s.stats == nil {
		s.stats = NewStatsTracker()
	}
	return s
}

// CreateWorkflow 将意图编译为计划并登记。编译错误同步返回，
// 不产生任何计划或执行记录。
func (s *Service) CreateWorkflow(ctx context.Context, in *intent.Intent) (*Plan, error) {
	if s.compiler == nil || s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	plan, err := s.compiler.Compile(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	s.bus.Publish(Event{
		Type:     EventWorkflowCreated,
		PlanID:   plan.ID,
		IntentID: plan.IntentID,
	})
	logger.Audit().Info("计划编译完成",
		slog.String("plan_id", plan.ID),
		slog.String("intent_id", plan.IntentID),
		slog.Int("steps", len(plan.Steps)),
	)
	if s.autoExecute {
		if _, err := s.ExecuteWorkflow(ctx, plan.ID); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// ExecuteWorkflow 为计划创建执行并推送调度。
// 同一计划重复调用幂等：已有执行原样返回，不重复入队。
func (s *Service) ExecuteWorkflow(ctx context.Context, planID string) (*Execution, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	if s.producer == nil && s.scheduler == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行队列或调度器")
	}
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.ExecutionForPlan(ctx, planID); err == nil {
		return existing, nil
	} else if !stdErrors.Is(err, ErrExecutionNotFound) {
		return nil, err
	}

	if s.simulation {
		if s.simulator == nil {
			return nil, ErrSimulationUnavailable
		}
		if err := s.simulator.Simulate(ctx, plan); err != nil {
			return nil, fmt.Errorf("计划 %s 模拟执行未通过: %w", plan.ID, err)
		}
	}

	execution := NewExecution(plan)
	if err := s.store.CreateExecution(ctx, execution); err != nil {
		if stdErrors.Is(err, ErrExecutionConflict) {
			if existing, getErr := s.store.ExecutionForPlan(ctx, planID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	s.stats.RecordStarted()
	metrics.IncExecutionStatus("started")

	if s.producer != nil {
		if err := s.producer.Publish(ctx, execution.ID); err != nil {
			logger.L().Error("执行入队失败", slog.Any("error", err), slog.String("execution_id", execution.ID))
			wrapped := xerrors.Wrap(CodeExecutionPublish, err, "发布执行到队列失败")
			s.failBeforeDispatch(ctx, execution, wrapped)
			return nil, wrapped
		}
	} else {
		go func(id string) {
			if _, runErr := s.scheduler.Run(context.Background(), id); runErr != nil {
				logger.L().Error("进程内调度失败", slog.Any("error", runErr), slog.String("execution_id", id))
			}
		}(execution.ID)
	}

	logger.Audit().Info("执行已提交",
		slog.String("execution_id", execution.ID),
		slog.String("plan_id", execution.PlanID),
		slog.String("intent_id", execution.IntentID),
	)
	return execution, nil
}

// failBeforeDispatch 将尚未派发就失败的执行落为终态。
func (s *Service) failBeforeDispatch(ctx context.Context, execution *Execution, cause error) {
	execution.Status = ExecutionStatusFailed
	execution.Error = cause.Error()
	execution.ErrorCode = string(CodeExecutionPublish)
	execution.FinishedAt = nowUnixMilli()
	if err := s.store.SaveExecution(ctx, execution); err != nil {
		logger.L().Error("回写执行失败状态出错", slog.Any("error", err), slog.String("execution_id", execution.ID))
	}
	s.stats.RecordTerminal(ExecutionStatusFailed, 0)
	metrics.IncExecutionStatus(string(ExecutionStatusFailed))
	s.bus.Publish(Event{
		Type:        EventWorkflowFailed,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		IntentID:    execution.IntentID,
		Error:       execution.Error,
		ErrorCode:   execution.ErrorCode,
	})
}

// GetPlan 返回指定计划。
func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	return s.store.GetPlan(ctx, id)
}

// GetExecution 返回指定执行的当前快照。
func (s *Service) GetExecution(ctx context.Context, id string) (*Execution, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	return s.store.GetExecution(ctx, id)
}

// ExecutionForPlan 返回计划对应的执行。
func (s *Service) ExecutionForPlan(ctx context.Context, planID string) (*Execution, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	return s.store.ExecutionForPlan(ctx, planID)
}

// ListExecutions 返回符合过滤条件的执行列表。
func (s *Service) ListExecutions(ctx context.Context, opts ...ListOption) ([]*Execution, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.ListExecutions(ctx, options)
}

// CancelExecution 请求取消执行。终态或未知的执行返回 false。
// 取消事件与统计只在这里记录一次，调度器观察到标记后静默退出。
func (s *Service) CancelExecution(ctx context.Context, id string) (bool, error) {
	if s.store == nil {
		return false, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	execution, err := s.store.MarkCancelled(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrExecutionNotFound) || stdErrors.Is(err, ErrExecutionTerminal) {
			return false, nil
		}
		return false, err
	}
	s.stats.RecordTerminal(ExecutionStatusCancelled, time.Duration(execution.DurationMS)*time.Millisecond)
	metrics.IncExecutionStatus(string(ExecutionStatusCancelled))
	s.bus.Publish(Event{
		Type:        EventWorkflowCancelled,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		IntentID:    execution.IntentID,
	})
	logger.Audit().Info("执行已取消",
		slog.String("execution_id", execution.ID),
		slog.String("plan_id", execution.PlanID),
	)
	return true, nil
}

// Stats 返回累计的执行统计。
func (s *Service) Stats() Stats {
	return s.stats.Snapshot()
}

// Subscribe 订阅事件总线，返回取消订阅函数。
func (s *Service) Subscribe(eventType EventType, listener Listener) func() {
	return s.bus.Subscribe(eventType, listener)
}

// AutoExecute 返回创建后是否自动执行。
func (s *Service) AutoExecute() bool {
	return s.autoExecute
}

// WaitUntilTerminal 在指定超时时间内轮询执行直至终态。
func (s *Service) WaitUntilTerminal(ctx context.Context, id string, interval time.Duration) (*Execution, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		execution, err := s.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if execution.Terminal() {
			return execution, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
