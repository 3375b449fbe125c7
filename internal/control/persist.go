package control

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/plan"
)

// persistedState is the wire form of the full controller state. Unknown
// keys on load are ignored; missing optional keys default to zero values.
type persistedState struct {
	State      ExecutionState        `json:"state"`
	Approval   *ApprovalRecord       `json:"approval,omitempty"`
	TaskStates map[string]*TaskState `json:"task_states"`
	ActionLog  []ActionRecord        `json:"action_log"`
	SavedAt    time.Time             `json:"saved_at"`
}

// saveStateLocked persists the full controller state atomically via a
// temp file and rename. Caller holds c.mu. Persistence failures are
// logged, never escalate past the action that triggered them.
func (c *Controller) saveStateLocked() {
	state := persistedState{
		State:      c.state,
		Approval:   c.approval,
		TaskStates: c.taskStates,
		ActionLog:  c.actionLog,
		SavedAt:    time.Now().UTC(),
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		c.logger.Warn("failed to serialize controller state", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o755); err != nil {
		c.logger.Warn("failed to create state directory", "error", err)
		return
	}
	tmp := c.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn("failed to write controller state", "error", err)
		return
	}
	if err := os.Rename(tmp, c.statePath); err != nil {
		c.logger.Warn("failed to replace controller state", "error", err)
	}
}

// loadState restores the controller from its state file.
func (c *Controller) loadState() error {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode state file: %w", err)
	}

	c.state = state.State
	c.approval = state.Approval
	for id, ts := range state.TaskStates {
		c.taskStates[id] = ts
	}
	c.actionLog = append(c.actionLog, state.ActionLog...)
	return nil
}

// LoadFromState reconstructs a controller from persisted state without
// changing it: the restored controller is exactly where the previous
// process left off, paused runs included.
func LoadFromState(tp *plan.TaskPlan, dispatcher *dispatch.Dispatcher, statePath string, opts ...Option) (*Controller, error) {
	opts = append(opts, WithStatePath(statePath))
	c := New(tp, dispatcher, opts...)

	if err := c.loadState(); err != nil {
		return nil, err
	}
	return c, nil
}

// ResumeFromState reconstructs a controller from persisted state after a
// crash. If the run was running or paused before the crash, the restored
// controller is forced to running: work in flight is assumed to continue.
func ResumeFromState(tp *plan.TaskPlan, dispatcher *dispatch.Dispatcher, statePath, user string, opts ...Option) (*Controller, error) {
	c, err := LoadFromState(tp, dispatcher, statePath, opts...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.logActionLocked(ActionResume, user, "", "resumed from saved state", true, nil)
	if c.state == StatePaused || c.state == StateRunning {
		c.state = StateRunning
	}
	c.saveStateLocked()
	c.mu.Unlock()

	return c, nil
}
