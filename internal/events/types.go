// Package events provides a channel-based pub-sub bus connecting the
// dispatcher, controller, and progress tracker without direct coupling.
package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicDispatch = "dispatch"
	TopicControl  = "control"
)

// Event type constants
const (
	EventTypeTaskStatus          = "task.status"
	EventTypeAgentDispatched     = "dispatch.started"
	EventTypeAgentFinished       = "dispatch.finished"
	EventTypeReservationConflict = "dispatch.reservation_conflict"
	EventTypeControlAction       = "control.action"
)

// TaskStatusEvent is published whenever a task changes status.
type TaskStatusEvent struct {
	ID        string
	Status    string
	Detail    string
	Timestamp time.Time
}

func (e TaskStatusEvent) EventType() string { return EventTypeTaskStatus }
func (e TaskStatusEvent) TaskID() string    { return e.ID }

// AgentDispatchedEvent is published when an agent starts on a task.
type AgentDispatchedEvent struct {
	ID          string
	AgentID     string
	AgentNumber int
	Runtime     string
	Timestamp   time.Time
}

func (e AgentDispatchedEvent) EventType() string { return EventTypeAgentDispatched }
func (e AgentDispatchedEvent) TaskID() string    { return e.ID }

// AgentFinishedEvent is published when an agent reaches a terminal state.
type AgentFinishedEvent struct {
	ID            string
	AgentID       string
	Success       bool
	Crashed       bool
	TimedOut      bool
	FailureReason string
	Timestamp     time.Time
}

func (e AgentFinishedEvent) EventType() string { return EventTypeAgentFinished }
func (e AgentFinishedEvent) TaskID() string    { return e.ID }

// ReservationConflictEvent is published when a dispatch proceeds without
// file reservations because another agent holds an overlapping set.
type ReservationConflictEvent struct {
	ID        string
	AgentID   string
	Files     []string
	Timestamp time.Time
}

func (e ReservationConflictEvent) EventType() string { return EventTypeReservationConflict }
func (e ReservationConflictEvent) TaskID() string    { return e.ID }

// ControlActionEvent is published for every execution-control action,
// accepted or rejected.
type ControlActionEvent struct {
	ID        string
	Action    string
	User      string
	Accepted  bool
	Reason    string
	Timestamp time.Time
}

func (e ControlActionEvent) EventType() string { return EventTypeControlAction }
func (e ControlActionEvent) TaskID() string    { return e.ID }
