// Package control implements the execution-control state machine: a plan
// moves through awaiting-approval, running, paused, and terminal states
// under user actions, with every action audited and the full controller
// state persisted atomically.
package control

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/events"
	"github.com/planforge/planforge/internal/plan"
)

// ExecutionState is the process-wide state of one plan run.
type ExecutionState string

const (
	StateNotStarted       ExecutionState = "not_started"
	StateAwaitingApproval ExecutionState = "awaiting_approval"
	StateRunning          ExecutionState = "running"
	StatePaused           ExecutionState = "paused"
	StateCompleted        ExecutionState = "completed"
	StateFailed           ExecutionState = "failed"
)

// Action identifies a control operation.
type Action string

const (
	ActionApprove       Action = "approve"
	ActionPause         Action = "pause"
	ActionResume        Action = "resume"
	ActionSkip          Action = "skip"
	ActionRetry         Action = "retry"
	ActionForceComplete Action = "force_complete"
)

// ActionRecord is one immutable entry in the action log. Rejected actions
// are logged too, with Accepted false and the rejection reason.
type ActionRecord struct {
	Action    Action         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	User      string         `json:"user"`
	TaskID    string         `json:"task_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Accepted  bool           `json:"accepted"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskState is the controller-local execution state of one task.
type TaskState struct {
	TaskID              string          `json:"task_id"`
	Status              dispatch.Status `json:"status"`
	AttemptCount        int             `json:"attempt_count"`
	Skipped             bool            `json:"skipped"`
	ForceCompleted      bool            `json:"force_completed"`
	ForceCompleteReason string          `json:"force_complete_reason,omitempty"`
	AdditionalContext   string          `json:"additional_context,omitempty"`
	LastError           string          `json:"last_error,omitempty"`
}

// ApprovalRecord captures the outcome of plan approval.
type ApprovalRecord struct {
	Approved           bool      `json:"approved"`
	ApprovedAt         time.Time `json:"approved_at"`
	ApprovedBy         string    `json:"approved_by"`
	ValidationPassed   bool      `json:"validation_passed"`
	ValidationWarnings []string  `json:"validation_warnings"`
}

// Controller drives execution of an approved plan. Safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	plan       *plan.TaskPlan
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	logger     *slog.Logger
	maxRetries int
	statePath  string

	state      ExecutionState
	approval   *ApprovalRecord
	taskStates map[string]*TaskState
	actionLog  []ActionRecord
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetries overrides the retry limit (default 3).
func WithMaxRetries(n int) Option {
	return func(c *Controller) { c.maxRetries = n }
}

// WithStatePath sets where controller state is persisted.
func WithStatePath(path string) Option {
	return func(c *Controller) { c.statePath = path }
}

// WithBus publishes a ControlActionEvent per action.
func WithBus(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New creates a controller in the awaiting-approval state.
func New(tp *plan.TaskPlan, dispatcher *dispatch.Dispatcher, opts ...Option) *Controller {
	c := &Controller{
		plan:       tp,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		maxRetries: 3,
		statePath:  filepath.Join(os.TempDir(), "execution_state.json"),
		state:      StateAwaitingApproval,
		taskStates: make(map[string]*TaskState),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, t := range tp.Tasks() {
		c.taskStates[t.ID] = &TaskState{TaskID: t.ID, Status: dispatch.StatusQueued}
	}
	return c
}

// State returns the current execution state.
func (c *Controller) State() ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsApproved reports whether the plan has been approved.
func (c *Controller) IsApproved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approval != nil && c.approval.Approved
}

// IsPaused reports whether execution is paused.
func (c *Controller) IsPaused() bool {
	return c.State() == StatePaused
}

// CanDispatch reports whether new agent dispatches are allowed.
func (c *Controller) CanDispatch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning && c.approval != nil && c.approval.Approved
}

// logActionLocked appends an audit record and publishes it. Caller holds
// c.mu. Every action is recorded, accepted or not.
func (c *Controller) logActionLocked(action Action, user, taskID, reason string, accepted bool, metadata map[string]any) {
	record := ActionRecord{
		Action:    action,
		Timestamp: time.Now().UTC(),
		User:      user,
		TaskID:    taskID,
		Reason:    reason,
		Accepted:  accepted,
		Metadata:  metadata,
	}
	c.actionLog = append(c.actionLog, record)

	c.logger.Info("control action",
		"action", string(action), "user", user, "task", taskID, "accepted", accepted, "reason", reason)
	if c.bus != nil {
		c.bus.Publish(events.TopicControl, events.ControlActionEvent{
			ID:        taskID,
			Action:    string(action),
			User:      user,
			Accepted:  accepted,
			Reason:    reason,
			Timestamp: record.Timestamp,
		})
	}
}

// Approve validates the plan and, when validation reports zero errors,
// transitions to running. Warnings never block approval.
func (c *Controller) Approve(user string) *ApprovalRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := c.plan.Approve()
	c.approval = &ApprovalRecord{
		Approved:           result.Validated,
		ApprovedAt:         time.Now().UTC(),
		ApprovedBy:         user,
		ValidationPassed:   result.Validated,
		ValidationWarnings: result.Warnings,
	}

	reason := ""
	if !result.Validated {
		reason = fmt.Sprintf("validation failed: %v", result.Errors)
	} else {
		c.state = StateRunning
	}
	c.logActionLocked(ActionApprove, user, "", reason, result.Validated, nil)
	c.saveStateLocked()

	return c.approval
}

// Pause halts execution. Legal only from running or awaiting-approval.
func (c *Controller) Pause(user, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning && c.state != StateAwaitingApproval {
		c.logActionLocked(ActionPause, user, "", fmt.Sprintf("cannot pause in state %s", c.state), false, nil)
		c.saveStateLocked()
		return false
	}

	c.state = StatePaused
	c.logActionLocked(ActionPause, user, "", reason, true, nil)
	c.saveStateLocked()
	return true
}

// Resume continues a paused execution. Legal only from paused.
func (c *Controller) Resume(user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		c.logActionLocked(ActionResume, user, "", fmt.Sprintf("cannot resume in state %s", c.state), false, nil)
		c.saveStateLocked()
		return false
	}

	c.state = StateRunning
	c.logActionLocked(ActionResume, user, "", "", true, nil)
	c.saveStateLocked()
	return true
}

// Skip marks a task completed for dependency purposes while flagging it as
// skipped for reporting. Returns warnings naming affected dependents.
func (c *Controller) Skip(taskID, user, reason string) (bool, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.taskStates[taskID]
	if !ok {
		c.logActionLocked(ActionSkip, user, taskID, "Task not found", false, nil)
		c.saveStateLocked()
		return false, []string{"Task not found"}
	}

	var warnings []string
	for _, t := range c.plan.Tasks() {
		for _, dep := range t.Dependencies {
			if dep == taskID {
				warnings = append(warnings, fmt.Sprintf("Task '%s' depends on the skipped task", t.Title))
				break
			}
		}
	}

	ts.Skipped = true
	ts.Status = dispatch.StatusCompleted // unblocks dependents
	c.dispatcher.SetStatus(taskID, dispatch.StatusCompleted)

	c.logActionLocked(ActionSkip, user, taskID, reason, true, map[string]any{
		"affected_dependents": len(warnings),
	})
	c.saveStateLocked()
	return true, warnings
}

// Retry re-queues a failed or blocked task, incrementing its attempt count
// and optionally attaching new context for the next dispatch.
func (c *Controller) Retry(taskID, user, additionalContext string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.taskStates[taskID]
	if !ok {
		c.logActionLocked(ActionRetry, user, taskID, "Task not found", false, nil)
		c.saveStateLocked()
		return fmt.Errorf("Task not found")
	}

	if ts.AttemptCount >= c.maxRetries {
		reason := fmt.Sprintf("Maximum retry limit (%d) reached", c.maxRetries)
		c.logActionLocked(ActionRetry, user, taskID, reason, false, nil)
		c.saveStateLocked()
		return fmt.Errorf("%s", reason)
	}

	current := c.dispatcher.Status(taskID)
	if current != dispatch.StatusFailed && current != dispatch.StatusBlocked {
		reason := fmt.Sprintf("Task cannot be retried in state: %s", current)
		c.logActionLocked(ActionRetry, user, taskID, reason, false, nil)
		c.saveStateLocked()
		return fmt.Errorf("%s", reason)
	}

	ts.Status = dispatch.StatusQueued
	ts.AttemptCount++
	ts.AdditionalContext = additionalContext
	ts.LastError = ""
	c.dispatcher.SetStatus(taskID, dispatch.StatusQueued)

	c.logActionLocked(ActionRetry, user, taskID, "", true, map[string]any{
		"attempt":         ts.AttemptCount,
		"has_new_context": additionalContext != "",
	})
	c.saveStateLocked()
	return nil
}

// ForceComplete marks a task completed regardless of its current status.
// Requires explicit confirmation; warns when the task's strategy is
// test-first since its tests may never have run.
func (c *Controller) ForceComplete(taskID, user, reason string, confirmed bool) (bool, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.taskStates[taskID]
	if !ok {
		c.logActionLocked(ActionForceComplete, user, taskID, "Task not found", false, nil)
		c.saveStateLocked()
		return false, []string{"Task not found"}
	}
	if !confirmed {
		c.logActionLocked(ActionForceComplete, user, taskID, "Force-complete requires explicit confirmation", false, nil)
		c.saveStateLocked()
		return false, []string{"Force-complete requires explicit confirmation"}
	}

	var warnings []string
	if t, found := c.plan.Task(taskID); found && t.ValidationStrategy == plan.TestFirst {
		warnings = append(warnings, "This task has test-first strategy - tests may not have passed")
	}

	ts.ForceCompleted = true
	ts.ForceCompleteReason = reason
	ts.Status = dispatch.StatusCompleted
	c.dispatcher.SetStatus(taskID, dispatch.StatusCompleted)

	c.logActionLocked(ActionForceComplete, user, taskID, reason, true, nil)
	c.saveStateLocked()
	return true, warnings
}

// RecordTaskFailure updates the controller-local task state after a
// dispatch failure so retry accounting sees the last error.
func (c *Controller) RecordTaskFailure(taskID, failureReason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.taskStates[taskID]; ok {
		ts.Status = dispatch.StatusFailed
		ts.LastError = failureReason
	}
}

// TaskState returns a copy of the execution state for a task.
func (c *Controller) TaskState(taskID string) (TaskState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.taskStates[taskID]
	if !ok {
		return TaskState{}, false
	}
	return *ts, true
}

// ActionLog returns a copy of the full audit log.
func (c *Controller) ActionLog() []ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ActionRecord, len(c.actionLog))
	copy(out, c.actionLog)
	return out
}
