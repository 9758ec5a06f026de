package workflow

import (
	"testing"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(EventStepStarted, func(Event) { order = append(order, "first") })
	bus.Subscribe(EventStepStarted, func(Event) { order = append(order, "second") })
	bus.Subscribe(EventStepCompleted, func(Event) { order = append(order, "other") })

	bus.Publish(Event{Type: EventStepStarted, StepID: "step-1"})
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("监听器调用顺序不符: %v", order)
	}
}

func TestBusStampsOccurredAt(t *testing.T) {
	bus := NewBus()
	var got Event
	bus.Subscribe(EventWorkflowCompleted, func(event Event) { got = event })
	bus.Publish(Event{Type: EventWorkflowCompleted, ExecutionID: "exec-1"})
	if got.OccurredAt == 0 {
		t.Fatal("事件应带时间戳")
	}
	if got.ExecutionID != "exec-1" {
		t.Fatalf("事件字段丢失: %+v", got)
	}
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(EventStepFailed, func(Event) { calls++ })

	bus.Publish(Event{Type: EventStepFailed})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Type: EventStepFailed})

	if calls != 1 {
		t.Fatalf("取消订阅后不应继续收到事件, calls=%d", calls)
	}
}

func TestBusRecoversListenerPanic(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(EventStepCompleted, func(Event) { panic("boom") })
	bus.Subscribe(EventStepCompleted, func(Event) { delivered = true })

	bus.Publish(Event{Type: EventStepCompleted, StepID: "step-1"})
	if !delivered {
		t.Fatal("panic 的监听器不应影响后续监听器")
	}
}

func TestBusIgnoresUnknownSubscriptions(t *testing.T) {
	bus := NewBus()
	called := false
	bus.Subscribe(EventWorkflowFailed, func(Event) { called = true })
	bus.Publish(Event{Type: EventWorkflowCompleted})
	if called {
		t.Fatal("不同类型的事件不应触发监听器")
	}
}
