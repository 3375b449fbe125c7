package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type persistedState struct {
	TaskStatuses   map[string]*TaskStatus   `json:"task_statuses"`
	BranchStatuses map[string]*BranchStatus `json:"branch_statuses"`
	Timeline       []TimelineEntry          `json:"timeline"`
	Logs           []LogEntry               `json:"logs,omitempty"`
	SavedAt        time.Time                `json:"saved_at"`
}

// saveState snapshots tracker state under the lock and writes it
// atomically outside it. Persistence failures are logged, never
// escalated.
func (t *Tracker) saveState() {
	t.mu.Lock()
	state := persistedState{
		TaskStatuses:   make(map[string]*TaskStatus, len(t.taskStatuses)),
		BranchStatuses: make(map[string]*BranchStatus, len(t.branchStatuses)),
		Timeline:       append([]TimelineEntry(nil), t.timeline...),
		SavedAt:        time.Now().UTC(),
	}
	// Keep only the most recent entries so the state file stays bounded.
	logs := t.logBuffer
	if len(logs) > highVolumeThreshold {
		logs = logs[len(logs)-highVolumeThreshold:]
	}
	state.Logs = append([]LogEntry(nil), logs...)
	for id, ts := range t.taskStatuses {
		cp := *ts
		state.TaskStatuses[id] = &cp
	}
	for name, bs := range t.branchStatuses {
		cp := *bs
		state.BranchStatuses[name] = &cp
	}
	t.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		t.logger.Warn("failed to marshal progress state", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.statePath), 0o755); err != nil {
		t.logger.Warn("failed to create progress state dir", "error", err)
		return
	}
	tmp := t.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		t.logger.Warn("failed to write progress state", "error", err)
		return
	}
	if err := os.Rename(tmp, t.statePath); err != nil {
		t.logger.Warn("failed to replace progress state", "error", err)
	}
}

// LoadState restores tracker state from the persisted file. A missing or
// malformed file leaves the tracker untouched and returns false.
func (t *Tracker) LoadState() bool {
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		return false
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		t.logger.Warn("failed to parse progress state", "error", err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ts := range state.TaskStatuses {
		if _, known := t.taskStatuses[id]; known {
			cp := *ts
			t.taskStatuses[id] = &cp
		}
	}
	for name, bs := range state.BranchStatuses {
		if _, known := t.branchStatuses[name]; !known {
			t.branchOrder = append(t.branchOrder, name)
		}
		cp := *bs
		t.branchStatuses[name] = &cp
	}
	t.timeline = append([]TimelineEntry(nil), state.Timeline...)
	if len(state.Logs) > 0 {
		t.logBuffer = append([]LogEntry(nil), state.Logs...)
	}
	return true
}
