package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"

	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/pkg/logger"
)

// Dispatcher 从队列消费执行 ID 并交给调度器驱动。
// 同一时刻最多有 workerCount 个执行在本进程内推进。
type Dispatcher struct {
	scheduler   *Scheduler
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
}

// DispatcherOption 定义可选配置。
type DispatcherOption func(*Dispatcher)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) DispatcherOption {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workerCount = workers
		}
	}
}

// WithDispatcherLogger 指定日志输出。
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher 构造 Dispatcher。
func NewDispatcher(scheduler *Scheduler, consumer Consumer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		scheduler:   scheduler,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.workerCount <= 0 {
		d.workerCount = 1
	}
	return d
}

// Start 启动消费循环，阻塞直至上下文结束。
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置执行消费者")
	}
	if d.scheduler == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置调度器")
	}
	return d.consumer.Consume(ctx, d.workerCount, d.handle)
}

func (d *Dispatcher) handle(ctx context.Context, executionID string) error {
	execution, err := d.scheduler.Run(ctx, executionID)
	if err != nil {
		// 记录已不存在的执行视为陈旧消息，直接丢弃。
		if stdErrors.Is(err, ErrExecutionNotFound) {
			d.logDebug("跳过未知执行", slog.String("execution_id", executionID))
			return nil
		}
		logger.L().Error("调度执行失败", slog.Any("error", err), slog.String("execution_id", executionID))
		return err
	}
	d.logDebug("执行落定",
		slog.String("execution_id", execution.ID),
		slog.String("status", string(execution.Status)))
	return nil
}

func (d *Dispatcher) logDebug(msg string, attrs ...slog.Attr) {
	if d.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		d.logger.Debug(msg, args...)
	}
}
