package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/pkg/logger"
)

// Event 描述一次需要告警的工作流事件。
type Event struct {
	Code        xerrors.Code
	Message     string
	Severity    xerrors.Severity
	ExecutionID string
	PlanID      string
	IntentID    string
	StepID      string
	Skill       string
	Metadata    map[string]string
	OccurredAt  time.Time
}

// Notifier 负责将事件发送到某个具体渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑，
// 同名通知器后注册的覆盖先注册的。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	seen := make(map[string]int, len(notifiers))
	ordered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if idx, ok := seen[n.Name()]; ok {
			ordered[idx] = n
			continue
		}
		seen[n.Name()] = len(ordered)
		ordered = append(ordered, n)
	}
	return &FanoutDispatcher{notifiers: ordered}
}

// Notify 将事件广播至所有注册渠道，返回聚合后的发送错误。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", notifier.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入结构化日志，是没有外部渠道时的兜底通知器。
type LogNotifier struct{}

// Name 返回渠道名。
func (LogNotifier) Name() string { return "log" }

// Notify 按严重级别选择日志级别输出告警。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("execution_id", event.ExecutionID),
	}
	if event.StepID != "" {
		attrs = append(attrs, slog.String("step_id", event.StepID))
	}
	if event.Skill != "" {
		attrs = append(attrs, slog.String("skill", event.Skill))
	}
	for key, value := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+key, value))
	}
	switch event.Severity {
	case xerrors.SeverityCritical:
		logger.L().Error(event.Message, attrs...)
	case xerrors.SeverityWarning:
		logger.L().Warn(event.Message, attrs...)
	default:
		logger.L().Info(event.Message, attrs...)
	}
	return nil
}
