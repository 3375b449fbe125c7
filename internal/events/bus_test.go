package events

import (
	"fmt"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskStatusEvent{
		ID:        "task-1",
		Status:    "running",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("task ID = %q, want task-1", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStatus {
			t.Errorf("event type = %q, want %q", received.EventType(), EventTypeTaskStatus)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskStatusEvent{ID: "task-2", Status: "completed", Timestamp: time.Now()})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: task ID = %q, want task-2", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// Publishing into a full subscriber buffer must drop, not block.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskStatusEvent{
				ID:        fmt.Sprintf("task-%d", i),
				Status:    "running",
				Timestamp: time.Now(),
			})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("got %d events after close, want 0", received)
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()
	bus.Publish(TopicTask, TaskStatusEvent{ID: "task-1", Status: "running", Timestamp: time.Now()})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
	}
}

func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	dispatchCh := bus.Subscribe(TopicDispatch, 10)

	bus.Publish(TopicTask, TaskStatusEvent{ID: "task-1", Status: "running", Timestamp: time.Now()})
	bus.Publish(TopicDispatch, AgentDispatchedEvent{
		ID: "task-1", AgentID: "agent-deadbeef", AgentNumber: 1, Runtime: "claude", Timestamp: time.Now(),
	})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStatus {
			t.Errorf("task channel got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-dispatchCh:
		if received.EventType() != EventTypeAgentDispatched {
			t.Errorf("dispatch channel got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("dispatch channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received a cross-topic event")
	case <-time.After(10 * time.Millisecond):
	}
	select {
	case <-dispatchCh:
		t.Error("dispatch channel received a cross-topic event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TopicTask, TaskStatusEvent{ID: "task-1", Status: "running", Timestamp: time.Now()})
	bus.Publish(TopicControl, ControlActionEvent{
		ID: "task-1", Action: "pause", User: "operator", Accepted: true, Timestamp: time.Now(),
	})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskStatus] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeControlAction] {
		t.Error("SubscribeAll did not receive control event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
