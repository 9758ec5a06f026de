package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"OpenIntent-Chain/internal/chain"
	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/observability/alerting"
	"OpenIntent-Chain/internal/observability/metrics"
	"OpenIntent-Chain/internal/skill"
	"OpenIntent-Chain/pkg/logger"
)

// StepPolicy 控制单个步骤的重试与超时行为。
// 零值表示单次执行且不限时，保持最朴素的调度语义。
type StepPolicy struct {
	MaxRetries int
	Timeout    time.Duration
}

// PolicyResolver 按技能名返回执行策略，第二个返回值表示是否存在覆盖。
type PolicyResolver func(skillName string) (StepPolicy, bool)

// SchedulerConfig 聚合调度器的行为配置。
type SchedulerConfig struct {
	DefaultPolicy StepPolicy
	Policy        PolicyResolver
}

// Scheduler 以层级同步批次驱动执行直至终态：收集全部就绪步骤，
// 统一广播 step.started，再并发派发并等待整批落定，最后按步骤
// 顺序结算。后一批次的任何步骤都不会在当前批次完全落定前启动。
type Scheduler struct {
	skills  *skill.Registry
	store   Store
	bus     *Bus
	stats   *StatsTracker
	config  SchedulerConfig
	logger  *slog.Logger
	alerter alerting.Dispatcher
}

// SchedulerOption 定义可选配置。
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger 指定调试日志输出。
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) SchedulerOption {
	return func(s *Scheduler) {
		s.alerter = dispatcher
	}
}

// NewScheduler 构造调度器。
func NewScheduler(skills *skill.Registry, store Store, bus *Bus, stats *StatsTracker, config SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		skills: skills,
		store:  store,
		bus:    bus,
		stats:  stats,
		config: config,
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

type stepOutcome struct {
	output   map[string]any
	err      error
	duration time.Duration
}

// Run 驱动一次执行直至终态并返回最终快照。
// 步骤级失败不会从这里抛出，只有存储等基础设施错误才返回 error。
func (s *Scheduler) Run(ctx context.Context, executionID string) (*Execution, error) {
	if s.store == nil || s.skills == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调度器未初始化")
	}
	execution, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Terminal() {
		s.logDebug("执行已处于终态，跳过调度",
			slog.String("execution_id", executionID),
			slog.String("status", string(execution.Status)))
		return execution, nil
	}

	graph, err := NewGraph(execution.Steps)
	if err != nil {
		return s.finishFailed(ctx, execution, xerrors.CodeOf(err), err.Error())
	}

	if execution.Status == ExecutionStatusPending {
		execution.Status = ExecutionStatusExecuting
		execution.StartedAt = nowUnixMilli()
		if err := s.persist(ctx, execution); err != nil {
			return s.settleInterrupted(ctx, execution, err)
		}
	}

	for {
		// 取消是建议性的：只在批次之间观察标记，在途步骤跑完为止。
		if snapshot, cancelled := s.cancelledSnapshot(ctx, execution.ID); cancelled {
			s.logDebug("执行已被取消，停止调度", slog.String("execution_id", execution.ID))
			return snapshot, nil
		}

		completed := execution.CompletedSteps()
		if len(completed) == len(execution.Steps) {
			return s.finishCompleted(ctx, execution)
		}

		ready := graph.ReadySteps(completed)
		if len(ready) == 0 {
			message := "没有可调度的步骤且执行未完成"
			if failed := execution.FailedSteps(); len(failed) > 0 {
				message = fmt.Sprintf("无可调度步骤，失败的步骤: %s", strings.Join(failed, ", "))
			}
			return s.finishFailed(ctx, execution, CodeDeadlock, message)
		}

		// 先统一广播整批的 step.started，再启动任何协程，
		// 保证同批次的开始事件先于任何完成事件被观察到。
		for _, step := range ready {
			step.Status = StepStatusReady
		}
		startedAt := nowUnixMilli()
		for _, step := range ready {
			step.Status = StepStatusExecuting
			step.StartedAt = startedAt
			s.stats.RecordDispatch(step.Skill)
			s.bus.Publish(Event{
				Type:        EventStepStarted,
				ExecutionID: execution.ID,
				PlanID:      execution.PlanID,
				IntentID:    execution.IntentID,
				StepID:      step.ID,
				Skill:       step.Skill,
			})
		}
		if err := s.persist(ctx, execution); err != nil {
			return s.settleInterrupted(ctx, execution, err)
		}
		s.logDebug("派发批次",
			slog.String("execution_id", execution.ID),
			slog.Int("batch_size", len(ready)))

		outcomes := make([]stepOutcome, len(ready))
		var wg sync.WaitGroup
		for i, step := range ready {
			wg.Add(1)
			go func(i int, step *Step) {
				defer wg.Done()
				outcomes[i] = s.invoke(ctx, execution, step)
			}(i, step)
		}
		wg.Wait()

		// 批内按步骤顺序结算，完成事件的相对顺序与步骤顺序一致。
		for i, step := range ready {
			s.settle(execution, step, outcomes[i])
		}
		if err := s.persist(ctx, execution); err != nil {
			return s.settleInterrupted(ctx, execution, err)
		}
	}
}

// invoke 解析延迟引用并调用技能，按策略执行重试与超时。
func (s *Scheduler) invoke(ctx context.Context, execution *Execution, step *Step) stepOutcome {
	start := time.Now()
	provider, ok := s.skills.Lookup(step.Skill)
	if !ok {
		return stepOutcome{
			err:      xerrors.New(skill.CodeSkillNotFound, fmt.Sprintf("技能 %s 未注册", step.Skill)),
			duration: time.Since(start),
		}
	}
	if chainID, ok := paramChainID(step.Params); ok && !provider.SupportsChain(chainID) {
		return stepOutcome{
			err:      xerrors.New(chain.CodeChainNotSupported, fmt.Sprintf("技能 %s 不支持链 %d", step.Skill, chainID)),
			duration: time.Since(start),
		}
	}
	params, err := ResolveDeferred(step.Params, execution.Step)
	if err != nil {
		return stepOutcome{err: err, duration: time.Since(start)}
	}

	policy := s.policyFor(step.Skill)
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.IncStepRetries()
			s.logDebug("重试步骤",
				slog.String("execution_id", execution.ID),
				slog.String("step_id", step.ID),
				slog.Int("attempt", attempt+1))
		}
		result, execErr := s.executeOnce(ctx, provider, params, policy.Timeout)
		if execErr == nil {
			output := map[string]any{}
			if result != nil && result.Output != nil {
				output = result.Output
			}
			return stepOutcome{output: output, duration: time.Since(start)}
		}
		lastErr = execErr
		if !s.shouldRetry(ctx, execErr) {
			break
		}
	}
	return stepOutcome{err: lastErr, duration: time.Since(start)}
}

func (s *Scheduler) executeOnce(ctx context.Context, provider skill.Provider, params map[string]any, timeout time.Duration) (*skill.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result, err := provider.Execute(ctx, params)
	if err != nil && timeout > 0 && stdErrors.Is(err, context.DeadlineExceeded) {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "技能执行超时")
	}
	return result, err
}

// shouldRetry 判断失败是否值得继续重试。外层上下文已结束时放弃；
// 注册为不可重试的错误码立即放弃；未分类的错误默认可重试。
func (s *Scheduler) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	code := xerrors.CodeOf(err)
	if code == xerrors.CodeUnknown {
		return true
	}
	return xerrors.RetryableError(err)
}

// settle 将一次落定的结果写回步骤并广播对应事件。
func (s *Scheduler) settle(execution *Execution, step *Step, outcome stepOutcome) {
	step.FinishedAt = nowUnixMilli()
	step.DurationMS = outcome.duration.Milliseconds()
	metrics.ObserveStepDuration(step.Skill, outcome.duration)

	if outcome.err != nil {
		code := xerrors.CodeOf(outcome.err)
		if code == xerrors.CodeUnknown {
			code = CodeStepFailed
		}
		step.Status = StepStatusFailed
		step.Error = outcome.err.Error()
		step.ErrorCode = string(code)
		metrics.IncStepStatus(step.Skill, string(StepStatusFailed))
		s.bus.Publish(Event{
			Type:        EventStepFailed,
			ExecutionID: execution.ID,
			PlanID:      execution.PlanID,
			IntentID:    execution.IntentID,
			StepID:      step.ID,
			Skill:       step.Skill,
			Error:       step.Error,
			ErrorCode:   step.ErrorCode,
		})
		logger.Audit().Warn("步骤执行失败",
			slog.String("execution_id", execution.ID),
			slog.String("step_id", step.ID),
			slog.String("skill", step.Skill),
			slog.String("error", step.Error),
			slog.String("error_code", step.ErrorCode),
		)
		return
	}

	step.Status = StepStatusCompleted
	step.Output = outcome.output
	if hash, ok := outcome.output["tx_hash"].(string); ok {
		step.TxHash = hash
	}
	metrics.IncStepStatus(step.Skill, string(StepStatusCompleted))
	s.bus.Publish(Event{
		Type:        EventStepCompleted,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		IntentID:    execution.IntentID,
		StepID:      step.ID,
		Skill:       step.Skill,
	})
}

func (s *Scheduler) finishCompleted(ctx context.Context, execution *Execution) (*Execution, error) {
	s.finalize(execution, ExecutionStatusCompleted, "", "")
	if err := s.persist(ctx, execution); err != nil {
		return s.settleInterrupted(ctx, execution, err)
	}
	duration := time.Duration(execution.DurationMS) * time.Millisecond
	s.stats.RecordTerminal(ExecutionStatusCompleted, duration)
	metrics.IncExecutionStatus(string(ExecutionStatusCompleted))
	metrics.ObserveExecutionDuration(duration)
	s.bus.Publish(Event{
		Type:        EventWorkflowCompleted,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		IntentID:    execution.IntentID,
	})
	logger.Audit().Info("执行完成",
		slog.String("execution_id", execution.ID),
		slog.String("plan_id", execution.PlanID),
		slog.Int("steps", len(execution.Steps)),
		slog.Int64("duration_ms", execution.DurationMS),
	)
	return execution, nil
}

func (s *Scheduler) finishFailed(ctx context.Context, execution *Execution, code xerrors.Code, message string) (*Execution, error) {
	s.finalize(execution, ExecutionStatusFailed, string(code), message)
	if err := s.persist(ctx, execution); err != nil {
		return s.settleInterrupted(ctx, execution, err)
	}
	duration := time.Duration(execution.DurationMS) * time.Millisecond
	s.stats.RecordTerminal(ExecutionStatusFailed, duration)
	metrics.IncExecutionStatus(string(ExecutionStatusFailed))
	s.bus.Publish(Event{
		Type:        EventWorkflowFailed,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		IntentID:    execution.IntentID,
		Error:       message,
		ErrorCode:   string(code),
	})
	logger.Audit().Warn("执行失败",
		slog.String("execution_id", execution.ID),
		slog.String("plan_id", execution.PlanID),
		slog.String("error", message),
		slog.String("error_code", string(code)),
	)
	s.emitAlert(ctx, execution, code, message)
	return execution, nil
}

func (s *Scheduler) finalize(execution *Execution, status ExecutionStatus, code, message string) {
	execution.Status = status
	execution.Error = message
	execution.ErrorCode = code
	execution.FinishedAt = nowUnixMilli()
	if execution.StartedAt > 0 {
		execution.DurationMS = execution.FinishedAt - execution.StartedAt
	}
}

func (s *Scheduler) persist(ctx context.Context, execution *Execution) error {
	return s.store.SaveExecution(ctx, execution)
}

// settleInterrupted 处理快照写入被拒绝的情况。并发取消会冻结记录，
// 此时以存储中的终态为准；其余错误原样返回。
func (s *Scheduler) settleInterrupted(ctx context.Context, execution *Execution, saveErr error) (*Execution, error) {
	if stdErrors.Is(saveErr, ErrExecutionTerminal) {
		snapshot, err := s.store.GetExecution(ctx, execution.ID)
		if err != nil {
			return nil, err
		}
		s.logDebug("执行在调度期间被冻结",
			slog.String("execution_id", execution.ID),
			slog.String("status", string(snapshot.Status)))
		return snapshot, nil
	}
	return nil, saveErr
}

func (s *Scheduler) cancelledSnapshot(ctx context.Context, id string) (*Execution, bool) {
	snapshot, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, false
	}
	if snapshot.Status == ExecutionStatusCancelled {
		return snapshot, true
	}
	return nil, false
}

func (s *Scheduler) policyFor(skillName string) StepPolicy {
	if s.config.Policy != nil {
		if policy, ok := s.config.Policy(skillName); ok {
			return policy
		}
	}
	return s.config.DefaultPolicy
}

func (s *Scheduler) logDebug(msg string, attrs ...slog.Attr) {
	if s.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		s.logger.Debug(msg, args...)
	}
}

func (s *Scheduler) emitAlert(ctx context.Context, execution *Execution, code xerrors.Code, message string) {
	if s == nil || s.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	metadata := map[string]string{}
	if failed := execution.FailedSteps(); len(failed) > 0 {
		metadata["failed_steps"] = strings.Join(failed, ",")
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		IntentID:    execution.IntentID,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := s.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("execution_id", execution.ID),
		)
	}
}

// paramChainID 提取步骤参数中的链 ID，优先 chain_id，
// 其次 source_chain_id，兼容 JSON 反序列化产生的数值形态。
func paramChainID(params map[string]any) (uint64, bool) {
	for _, key := range []string{"chain_id", "source_chain_id"} {
		raw, ok := params[key]
		if !ok {
			continue
		}
		switch value := raw.(type) {
		case uint64:
			return value, true
		case int:
			if value >= 0 {
				return uint64(value), true
			}
		case int64:
			if value >= 0 {
				return uint64(value), true
			}
		case float64:
			if value >= 0 && value == float64(uint64(value)) {
				return uint64(value), true
			}
		case string:
			if parsed, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}
