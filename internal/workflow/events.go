package workflow

import (
	"log/slog"
	"sync"

	"OpenIntent-Chain/pkg/logger"
)

// EventType 标识工作流生命周期事件，事件类型集合是封闭的。
type EventType string

const (
	EventWorkflowCreated   EventType = "workflow.created"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowCancelled EventType = "workflow.cancelled"
	EventStepStarted       EventType = "step.started"
	EventStepCompleted     EventType = "step.completed"
	EventStepFailed        EventType = "step.failed"
)

// Event 是事件总线上派发的载荷。
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id,omitempty"`
	PlanID      string    `json:"plan_id,omitempty"`
	IntentID    string    `json:"intent_id,omitempty"`
	StepID      string    `json:"step_id,omitempty"`
	Skill       string    `json:"skill,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	OccurredAt  int64     `json:"occurred_at"`
}

// Listener 接收事件，回调在发布方的协程中同步执行。
type Listener func(Event)

type subscription struct {
	listener Listener
}

// Bus 是进程内的同步事件总线。监听器按注册顺序依次调用，
// 单个监听器 panic 会被捕获并记录，不会中断其余监听器。
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]*subscription
}

// NewBus 创建事件总线。
func NewBus() *Bus {
	return &Bus{listeners: make(map[EventType][]*subscription)}
}

// Subscribe 注册监听器并返回幂等的取消函数。
func (b *Bus) Subscribe(eventType EventType, listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	sub := &subscription{listener: listener}
	b.mu.Lock()
	b.listeners[eventType] = append(b.listeners[eventType], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.listeners[eventType]
			for i, candidate := range subs {
				if candidate == sub {
					b.listeners[eventType] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish 同步派发事件给该类型的全部监听器。
func (b *Bus) Publish(event Event) {
	if event.OccurredAt == 0 {
		event.OccurredAt = nowUnixMilli()
	}
	b.mu.RLock()
	subs := append([]*subscription(nil), b.listeners[event.Type]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("事件监听器 panic",
				slog.Any("panic", r),
				slog.String("event_type", string(event.Type)),
				slog.String("execution_id", event.ExecutionID),
			)
		}
	}()
	sub.listener(event)
}
