package workflow

import (
	"context"
	"log/slog"

	"OpenIntent-Chain/pkg/logger"
)

// Archiver 把终态执行写入归档后端，供事后审计查询。
// 归档失败只记录日志，不影响调度结果。
type Archiver interface {
	Archive(ctx context.Context, execution *Execution) error
}

// AttachArchiver 订阅事件总线，在执行到达终态时抓取快照并归档。
// 返回取消订阅函数。
func AttachArchiver(bus *Bus, store Store, archiver Archiver) func() {
	if bus == nil || store == nil || archiver == nil {
		return func() {}
	}

	handler := func(event Event) {
		if event.ExecutionID == "" {
			return
		}
		ctx := context.Background()
		execution, err := store.GetExecution(ctx, event.ExecutionID)
		if err != nil {
			logger.L().Error("归档前读取执行失败",
				slog.Any("error", err),
				slog.String("execution_id", event.ExecutionID))
			return
		}
		if !execution.Terminal() {
			return
		}
		if err := archiver.Archive(ctx, execution); err != nil {
			logger.L().Error("归档执行失败",
				slog.Any("error", err),
				slog.String("execution_id", execution.ID),
				slog.String("status", string(execution.Status)))
		}
	}

	unsubscribes := []func(){
		bus.Subscribe(EventWorkflowCompleted, handler),
		bus.Subscribe(EventWorkflowFailed, handler),
		bus.Subscribe(EventWorkflowCancelled, handler),
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}
