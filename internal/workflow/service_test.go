package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/intent"
	"OpenIntent-Chain/internal/skill"
)

type serviceHarness struct {
	service *Service
	store   *MemoryStore
	bus     *Bus
	stats   *StatsTracker
}

func newServiceHarness(t *testing.T, opts []ServiceOption, providers ...skill.Provider) *serviceHarness {
	t.Helper()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	bus := NewBus()
	stats := NewStatsTracker()

	registry := skill.NewRegistry()
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			t.Fatalf("注册技能失败: %v", err)
		}
	}
	scheduler := NewScheduler(registry, store, bus, stats, SchedulerConfig{})
	dispatcher := NewDispatcher(scheduler, queue, WithWorkerCount(2))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := dispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("dispatcher exited: %v", err)
		}
	}()
	t.Cleanup(cancel)

	service := NewService(newTestCompiler(), store, queue, bus, stats, opts...)
	return &serviceHarness{service: service, store: store, bus: bus, stats: stats}
}

// waitFor 轮询断言，用于等待调度协程里的异步副作用。
func waitFor(t *testing.T, timeout time.Duration, message string, condition func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if condition() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(message)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func bridgeIntent(id string) *intent.Intent {
	return &intent.Intent{
		ID:   id,
		Type: intent.TypeBridge,
		Params: intent.Params{
			SourceChainID: 421614,
			DestChainID:   84532,
			FromToken:     "USDC",
			Amount:        "750000",
		},
	}
}

func TestServiceBridgeWorkflowEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var gotFee atomic.Value
	quote := &stubProvider{
		name: "quote_bridge",
		execute: func(context.Context, map[string]any) (*skill.Result, error) {
			return &skill.Result{Output: map[string]any{
				"fee":               "750",
				"estimated_seconds": 90,
				"bridge_route":      "canonical",
			}}, nil
		},
	}
	bridge := &stubProvider{
		name: "bridge",
		execute: func(_ context.Context, params map[string]any) (*skill.Result, error) {
			gotFee.Store(params["fee"])
			return &skill.Result{Output: map[string]any{
				"tx_hash":          "0xfeed",
				"delivered_amount": "749250",
				"fee":              params["fee"],
			}}, nil
		},
	}
	harness := newServiceHarness(t, nil, quote, bridge)

	var created, completed atomic.Int32
	harness.bus.Subscribe(EventWorkflowCreated, func(Event) { created.Add(1) })
	harness.bus.Subscribe(EventWorkflowCompleted, func(Event) { completed.Add(1) })

	plan, err := harness.service.CreateWorkflow(ctx, bridgeIntent("intent-bridge"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("桥接计划应为两步: %d", len(plan.Steps))
	}
	if created.Load() != 1 {
		t.Fatalf("workflow.created 应恰好一次: %d", created.Load())
	}

	execution, err := harness.service.ExecuteWorkflow(ctx, plan.ID)
	if err != nil {
		t.Fatalf("触发执行失败: %v", err)
	}

	final, err := harness.service.WaitUntilTerminal(ctx, execution.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待终态失败: %v", err)
	}
	if final.Status != ExecutionStatusCompleted {
		t.Fatalf("执行应完成: %s (%s)", final.Status, final.Error)
	}
	if gotFee.Load() != "750" {
		t.Fatalf("桥接步应拿到报价费用: %v", gotFee.Load())
	}
	second, _ := final.Step("step-2")
	if second.TxHash != "0xfeed" {
		t.Fatalf("tx_hash 不符: %q", second.TxHash)
	}

	// 事件与统计在快照落库后发布，等待其可见。
	waitFor(t, 2*time.Second, "workflow.completed 未观察到", func() bool {
		return completed.Load() == 1
	})
	waitFor(t, 2*time.Second, "统计未更新", func() bool {
		snapshot := harness.service.Stats()
		return snapshot.Started == 1 && snapshot.Completed == 1 &&
			snapshot.SkillInvocations["quote_bridge"] == 1 && snapshot.SkillInvocations["bridge"] == 1
	})

	// 终态后的查询保持稳定。
	again, err := harness.service.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("查询执行失败: %v", err)
	}
	if again.Status != ExecutionStatusCompleted || again.FinishedAt != final.FinishedAt {
		t.Fatalf("终态快照应稳定: %+v", again)
	}
}

func TestExecuteWorkflowIdempotentPerPlan(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	quote := &stubProvider{
		name:    "quote_bridge",
		latency: 100 * time.Millisecond,
		execute: func(context.Context, map[string]any) (*skill.Result, error) {
			return &skill.Result{Output: map[string]any{"fee": "1"}}, nil
		},
	}
	bridge := &stubProvider{
		name: "bridge",
		execute: func(context.Context, map[string]any) (*skill.Result, error) {
			return &skill.Result{Output: map[string]any{"tx_hash": "0x1", "delivered_amount": "1", "fee": "1"}}, nil
		},
	}
	harness := newServiceHarness(t, nil, quote, bridge)

	plan, err := harness.service.CreateWorkflow(ctx, bridgeIntent("intent-idem"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}

	first, err := harness.service.ExecuteWorkflow(ctx, plan.ID)
	if err != nil {
		t.Fatalf("首次执行失败: %v", err)
	}
	second, err := harness.service.ExecuteWorkflow(ctx, plan.ID)
	if err != nil {
		t.Fatalf("重复执行失败: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("同一计划应复用执行: %s vs %s", first.ID, second.ID)
	}

	final, err := harness.service.WaitUntilTerminal(ctx, first.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待终态失败: %v", err)
	}
	third, err := harness.service.ExecuteWorkflow(ctx, plan.ID)
	if err != nil {
		t.Fatalf("终态后执行失败: %v", err)
	}
	if third.ID != first.ID || third.Status != final.Status {
		t.Fatalf("终态后应原样返回: %+v", third)
	}
	if harness.service.Stats().Started != 1 {
		t.Fatalf("started 只应记录一次: %+v", harness.service.Stats())
	}

	if _, err := harness.service.ExecuteWorkflow(ctx, "missing-plan"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("未知计划应报 ErrPlanNotFound, got %v", err)
	}
}

func TestCancelExecutionLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slow := &stubProvider{
		name:    "quote_bridge",
		latency: 300 * time.Millisecond,
		execute: func(context.Context, map[string]any) (*skill.Result, error) {
			return &skill.Result{Output: map[string]any{"fee": "1"}}, nil
		},
	}
	bridge := &stubProvider{name: "bridge"}
	harness := newServiceHarness(t, nil, slow, bridge)

	var cancelledEvents atomic.Int32
	harness.bus.Subscribe(EventWorkflowCancelled, func(Event) { cancelledEvents.Add(1) })

	plan, err := harness.service.CreateWorkflow(ctx, bridgeIntent("intent-cancel"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	execution, err := harness.service.ExecuteWorkflow(ctx, plan.ID)
	if err != nil {
		t.Fatalf("触发执行失败: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		current, err := harness.service.GetExecution(ctx, execution.ID)
		if err != nil {
			t.Fatalf("查询执行失败: %v", err)
		}
		if current.Status == ExecutionStatusExecuting {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("执行未进入 executing 状态: %s", current.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	ok, err := harness.service.CancelExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("取消执行失败: %v", err)
	}
	if !ok {
		t.Fatal("非终态执行应可取消")
	}
	if cancelledEvents.Load() != 1 {
		t.Fatalf("workflow.cancelled 应恰好一次: %d", cancelledEvents.Load())
	}

	again, err := harness.service.CancelExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("二次取消出错: %v", err)
	}
	if again {
		t.Fatal("终态执行的取消应返回 false")
	}
	if unknown, err := harness.service.CancelExecution(ctx, "missing"); err != nil || unknown {
		t.Fatalf("未知执行的取消应返回 false, got %v %v", unknown, err)
	}

	final, err := harness.service.WaitUntilTerminal(ctx, execution.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待终态失败: %v", err)
	}
	if final.Status != ExecutionStatusCancelled {
		t.Fatalf("最终状态应为 cancelled: %s", final.Status)
	}
	if harness.service.Stats().Cancelled != 1 {
		t.Fatalf("取消计数不符: %+v", harness.service.Stats())
	}
	if bridge.calls.Load() != 0 {
		t.Fatalf("取消后不应派发后续批次: %d", bridge.calls.Load())
	}

	// 调度器在途步骤落定后，冻结的取消状态不被覆盖。
	time.Sleep(400 * time.Millisecond)
	frozen, err := harness.service.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("查询执行失败: %v", err)
	}
	if frozen.Status != ExecutionStatusCancelled {
		t.Fatalf("冻结状态被覆盖: %s", frozen.Status)
	}
	if cancelledEvents.Load() != 1 {
		t.Fatalf("取消事件不应重复: %d", cancelledEvents.Load())
	}
}

type stubSimulator struct {
	err   error
	calls atomic.Int32
}

func (s *stubSimulator) Simulate(context.Context, *Plan) error {
	s.calls.Add(1)
	return s.err
}

func TestSimulationGatesExecution(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("未接入模拟器时快速失败", func(t *testing.T) {
		harness := newServiceHarness(t, []ServiceOption{WithSimulation(true)})
		plan, err := harness.service.CreateWorkflow(ctx, bridgeIntent("intent-sim"))
		if err != nil {
			t.Fatalf("创建工作流失败: %v", err)
		}
		if _, err := harness.service.ExecuteWorkflow(ctx, plan.ID); !errors.Is(err, ErrSimulationUnavailable) {
			t.Fatalf("应报模拟器不可用, got %v", err)
		}
		if _, err := harness.service.ExecutionForPlan(ctx, plan.ID); !errors.Is(err, ErrExecutionNotFound) {
			t.Fatal("快速失败不应留下执行记录")
		}
	})

	t.Run("模拟失败阻止执行", func(t *testing.T) {
		simulator := &stubSimulator{err: xerrors.New(xerrors.CodeChainRPCFailure, "模拟节点不可达")}
		harness := newServiceHarness(t, []ServiceOption{WithSimulation(true), WithSimulator(simulator)})
		plan, err := harness.service.CreateWorkflow(ctx, bridgeIntent("intent-sim"))
		if err != nil {
			t.Fatalf("创建工作流失败: %v", err)
		}
		if _, err := harness.service.ExecuteWorkflow(ctx, plan.ID); err == nil {
			t.Fatal("模拟失败应阻止执行")
		}
		if simulator.calls.Load() != 1 {
			t.Fatalf("模拟器应被调用一次: %d", simulator.calls.Load())
		}
		if _, err := harness.service.ExecutionForPlan(ctx, plan.ID); !errors.Is(err, ErrExecutionNotFound) {
			t.Fatal("模拟失败不应留下执行记录")
		}
	})

	t.Run("模拟通过后照常执行", func(t *testing.T) {
		simulator := &stubSimulator{}
		quote := &stubProvider{
			name: "quote_bridge",
			execute: func(context.Context, map[string]any) (*skill.Result, error) {
				return &skill.Result{Output: map[string]any{"fee": "1"}}, nil
			},
		}
		bridge := &stubProvider{
			name: "bridge",
			execute: func(context.Context, map[string]any) (*skill.Result, error) {
				return &skill.Result{Output: map[string]any{"tx_hash": "0x1", "delivered_amount": "1", "fee": "1"}}, nil
			},
		}
		harness := newServiceHarness(t, []ServiceOption{WithSimulation(true), WithSimulator(simulator)}, quote, bridge)
		plan, err := harness.service.CreateWorkflow(ctx, bridgeIntent("intent-sim"))
		if err != nil {
			t.Fatalf("创建工作流失败: %v", err)
		}
		execution, err := harness.service.ExecuteWorkflow(ctx, plan.ID)
		if err != nil {
			t.Fatalf("触发执行失败: %v", err)
		}
		final, err := harness.service.WaitUntilTerminal(ctx, execution.ID, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("等待终态失败: %v", err)
		}
		if final.Status != ExecutionStatusCompleted {
			t.Fatalf("执行应完成: %s", final.Status)
		}
	})
}

func TestCreateWorkflowValidationAndAutoExecute(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("编译错误同步返回", func(t *testing.T) {
		harness := newServiceHarness(t, nil)
		_, err := harness.service.CreateWorkflow(ctx, &intent.Intent{
			ID:     "bad",
			Type:   intent.TypeSwap,
			Params: intent.Params{SourceChainID: 421614, FromToken: "USDC", ToToken: "WETH"},
		})
		if err == nil {
			t.Fatal("缺少金额的意图应编译失败")
		}
		if code := xerrors.CodeOf(err); code != intent.CodeValidation {
			t.Fatalf("错误码不符: %s", code)
		}
		executions, listErr := harness.service.ListExecutions(ctx)
		if listErr != nil {
			t.Fatalf("列出执行失败: %v", listErr)
		}
		if len(executions) != 0 {
			t.Fatalf("编译失败不应留下执行记录: %d", len(executions))
		}
	})

	t.Run("自动执行", func(t *testing.T) {
		quote := &stubProvider{
			name: "quote_bridge",
			execute: func(context.Context, map[string]any) (*skill.Result, error) {
				return &skill.Result{Output: map[string]any{"fee": "1"}}, nil
			},
		}
		bridge := &stubProvider{
			name: "bridge",
			execute: func(context.Context, map[string]any) (*skill.Result, error) {
				return &skill.Result{Output: map[string]any{"tx_hash": "0x1", "delivered_amount": "1", "fee": "1"}}, nil
			},
		}
		harness := newServiceHarness(t, []ServiceOption{WithAutoExecute(true)}, quote, bridge)
		if !harness.service.AutoExecute() {
			t.Fatal("AutoExecute 配置未生效")
		}
		plan, err := harness.service.CreateWorkflow(ctx, bridgeIntent("intent-auto"))
		if err != nil {
			t.Fatalf("创建工作流失败: %v", err)
		}
		execution, err := harness.service.ExecutionForPlan(ctx, plan.ID)
		if err != nil {
			t.Fatalf("自动执行应创建执行记录: %v", err)
		}
		final, err := harness.service.WaitUntilTerminal(ctx, execution.ID, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("等待终态失败: %v", err)
		}
		if final.Status != ExecutionStatusCompleted {
			t.Fatalf("执行应完成: %s", final.Status)
		}
	})
}

func TestServiceInlineSchedulerWithoutQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	bus := NewBus()
	stats := NewStatsTracker()
	registry := skill.NewRegistry()
	provider := &stubProvider{
		name: "quote_bridge",
		execute: func(context.Context, map[string]any) (*skill.Result, error) {
			return &skill.Result{Output: map[string]any{"fee": "1"}}, nil
		},
	}
	bridge := &stubProvider{
		name: "bridge",
		execute: func(context.Context, map[string]any) (*skill.Result, error) {
			return &skill.Result{Output: map[string]any{"tx_hash": "0x1", "delivered_amount": "1", "fee": "1"}}, nil
		},
	}
	for _, p := range []skill.Provider{provider, bridge} {
		if err := registry.Register(p); err != nil {
			t.Fatalf("注册技能失败: %v", err)
		}
	}
	scheduler := NewScheduler(registry, store, bus, stats, SchedulerConfig{})
	service := NewService(newTestCompiler(), store, nil, bus, stats, WithInlineScheduler(scheduler))

	plan, err := service.CreateWorkflow(ctx, bridgeIntent("intent-inline"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	execution, err := service.ExecuteWorkflow(ctx, plan.ID)
	if err != nil {
		t.Fatalf("触发执行失败: %v", err)
	}
	final, err := service.WaitUntilTerminal(ctx, execution.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待终态失败: %v", err)
	}
	if final.Status != ExecutionStatusCompleted {
		t.Fatalf("进程内调度应完成: %s (%s)", final.Status, final.Error)
	}
}
