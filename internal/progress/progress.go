// Package progress tracks execution status, logs, and branch state for a
// running plan. One mutex guards all in-memory state; file I/O happens
// outside the lock.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/events"
	"github.com/planforge/planforge/internal/plan"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// highVolumeThreshold triggers the one-time buffered-log warning. It is a
// signal of a possibly malformed workflow, not a hard limit.
const highVolumeThreshold = 1000

// LogEntry is one structured execution log record.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	TaskID    string         `json:"task_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus is the tracked status of one task.
type TaskStatus struct {
	TaskID       string          `json:"task_id"`
	Title        string          `json:"title"`
	Status       dispatch.Status `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	Skipped      bool            `json:"skipped,omitempty"`
}

// BranchStatus is the tracked status of a git branch.
type BranchStatus struct {
	BranchName     string   `json:"branch_name"`
	TaskIDs        []string `json:"task_ids"`
	IsReadyToMerge bool     `json:"is_ready_to_merge"`
	HasConflicts   bool     `json:"has_conflicts"`
	LastCommit     string   `json:"last_commit,omitempty"`
}

// BranchUpdate carries partial branch-status changes. Nil fields are
// left untouched.
type BranchUpdate struct {
	TaskIDs        []string
	IsReadyToMerge *bool
	HasConflicts   *bool
	LastCommit     *string
}

// TimelineEntry records one status transition.
type TimelineEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	TaskID    string          `json:"task_id"`
	OldStatus dispatch.Status `json:"old_status"`
	NewStatus dispatch.Status `json:"new_status"`
}

// Report is a point-in-time progress summary.
type Report struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	TotalTasks     int             `json:"total_tasks"`
	Queued         int             `json:"queued"`
	Running        int             `json:"running"`
	Completed      int             `json:"completed"`
	Failed         int             `json:"failed"`
	Blocked        int             `json:"blocked"`
	Skipped        int             `json:"skipped"`
	TaskStatuses   []TaskStatus    `json:"task_statuses"`
	BranchStatuses []BranchStatus  `json:"branch_statuses"`
	Timeline       []TimelineEntry `json:"timeline"`
}

// ToJSON serializes the report.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Tracker tracks and reports execution progress. Safe for concurrent
// updates from multiple notification sources.
type Tracker struct {
	mu               sync.Mutex
	logger           *slog.Logger
	statePath        string
	taskStatuses     map[string]*TaskStatus
	taskOrder        []string
	branchStatuses   map[string]*BranchStatus
	branchOrder      []string
	timeline         []TimelineEntry
	logBuffer        []LogEntry
	highVolumeWarned bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the structured logger mirroring every entry.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithStatePath sets where tracker state is persisted.
func WithStatePath(path string) Option {
	return func(t *Tracker) { t.statePath = path }
}

// WithLogFile mirrors log entries to a JSON-lines file in addition to
// the in-memory buffer.
func WithLogFile(w io.Writer) Option {
	return func(t *Tracker) {
		t.logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// New creates a tracker seeded with one queued status per plan task.
func New(tp *plan.TaskPlan, opts ...Option) *Tracker {
	t := &Tracker{
		logger:         slog.Default(),
		statePath:      filepath.Join(os.TempDir(), "progress_state.json"),
		taskStatuses:   make(map[string]*TaskStatus),
		branchStatuses: make(map[string]*BranchStatus),
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, task := range tp.Tasks() {
		t.taskStatuses[task.ID] = &TaskStatus{
			TaskID: task.ID,
			Title:  task.Title,
			Status: dispatch.StatusQueued,
		}
		t.taskOrder = append(t.taskOrder, task.ID)
	}
	return t
}

// Log records a structured execution event. The file mirror is written
// after the lock is released.
func (t *Tracker) Log(level LogLevel, message, taskID, agentID string, metadata map[string]any) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		TaskID:    taskID,
		AgentID:   agentID,
		Metadata:  metadata,
	}

	warnVolume := false
	t.mu.Lock()
	t.logBuffer = append(t.logBuffer, entry)
	if len(t.logBuffer) > highVolumeThreshold && !t.highVolumeWarned {
		t.highVolumeWarned = true
		warnVolume = true
	}
	t.mu.Unlock()

	if warnVolume {
		t.logger.Warn("High log volume detected - may indicate workflow issue",
			"buffered", highVolumeThreshold)
	}
	t.mirror(entry)
	return entry
}

// mirror writes the entry to the structured logger, outside the lock.
func (t *Tracker) mirror(entry LogEntry) {
	attrs := []any{"task", entry.TaskID}
	if entry.AgentID != "" {
		attrs = append(attrs, "agent", entry.AgentID)
	}
	switch entry.Level {
	case LevelDebug:
		t.logger.Debug(entry.Message, attrs...)
	case LevelWarning:
		t.logger.Warn(entry.Message, attrs...)
	case LevelError:
		t.logger.Error(entry.Message, attrs...)
	default:
		t.logger.Info(entry.Message, attrs...)
	}
}

// LogDecision records an execution decision.
func (t *Tracker) LogDecision(decision, taskID string) LogEntry {
	return t.Log(LevelInfo, "Decision: "+decision, taskID, "", map[string]any{"decision": decision})
}

// LogAgentOutput records agent output, truncating the message while
// keeping the full text in metadata.
func (t *Tracker) LogAgentOutput(agentID, output, taskID string) LogEntry {
	message := "Agent output: " + output
	if len(output) > 200 {
		message = "Agent output: " + output[:200] + "..."
	}
	return t.Log(LevelInfo, message, taskID, agentID, map[string]any{"full_output": output})
}

// UpdateTaskStatus records a status change. The start time and attempt
// count are set only on the first transition to running; completion time
// is recorded once on the first terminal transition.
func (t *Tracker) UpdateTaskStatus(taskID string, status dispatch.Status, errorMessage string) {
	now := time.Now().UTC()

	t.mu.Lock()
	ts, ok := t.taskStatuses[taskID]
	if !ok {
		t.mu.Unlock()
		return
	}
	oldStatus := ts.Status
	ts.Status = status

	if status == dispatch.StatusRunning && ts.StartedAt == nil {
		started := now
		ts.StartedAt = &started
		ts.AttemptCount++
	}
	if (status == dispatch.StatusCompleted || status == dispatch.StatusFailed) && ts.CompletedAt == nil {
		completed := now
		ts.CompletedAt = &completed
	}
	if errorMessage != "" {
		ts.ErrorMessage = errorMessage
	}

	t.timeline = append(t.timeline, TimelineEntry{
		Timestamp: now,
		TaskID:    taskID,
		OldStatus: oldStatus,
		NewStatus: status,
	})
	t.mu.Unlock()

	t.Log(LevelInfo, fmt.Sprintf("Task status changed: %s -> %s", oldStatus, status), taskID, "", nil)
	t.saveState()
}

// MarkSkipped flags a task as skipped for reporting.
func (t *Tracker) MarkSkipped(taskID string) {
	t.mu.Lock()
	if ts, ok := t.taskStatuses[taskID]; ok {
		ts.Skipped = true
	}
	t.mu.Unlock()
}

// UpdateBranchStatus applies a partial update to a branch, creating the
// record on first mention.
func (t *Tracker) UpdateBranchStatus(branchName string, update BranchUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bs, ok := t.branchStatuses[branchName]
	if !ok {
		bs = &BranchStatus{BranchName: branchName, TaskIDs: []string{}}
		t.branchStatuses[branchName] = bs
		t.branchOrder = append(t.branchOrder, branchName)
	}

	if update.TaskIDs != nil {
		bs.TaskIDs = update.TaskIDs
	}
	if update.IsReadyToMerge != nil {
		bs.IsReadyToMerge = *update.IsReadyToMerge
	}
	if update.HasConflicts != nil {
		bs.HasConflicts = *update.HasConflicts
	}
	if update.LastCommit != nil {
		bs.LastCommit = *update.LastCommit
	}
}

// TaskStatus returns a copy of the tracked status for a task.
func (t *Tracker) TaskStatus(taskID string) (TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.taskStatuses[taskID]
	if !ok {
		return TaskStatus{}, false
	}
	return *ts, true
}

// TasksByStatus returns all tasks currently in the given status.
func (t *Tracker) TasksByStatus(status dispatch.Status) []TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TaskStatus
	for _, id := range t.taskOrder {
		if ts := t.taskStatuses[id]; ts.Status == status {
			out = append(out, *ts)
		}
	}
	return out
}

// Report generates a point-in-time summary.
func (t *Tracker) Report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		TotalTasks:  len(t.taskStatuses),
		Timeline:    append([]TimelineEntry(nil), t.timeline...),
	}
	for _, id := range t.taskOrder {
		ts := t.taskStatuses[id]
		report.TaskStatuses = append(report.TaskStatuses, *ts)
		switch ts.Status {
		case dispatch.StatusQueued:
			report.Queued++
		case dispatch.StatusRunning:
			report.Running++
		case dispatch.StatusCompleted:
			report.Completed++
		case dispatch.StatusFailed:
			report.Failed++
		case dispatch.StatusBlocked:
			report.Blocked++
		}
		if ts.Skipped {
			report.Skipped++
		}
	}
	for _, name := range t.branchOrder {
		report.BranchStatuses = append(report.BranchStatuses, *t.branchStatuses[name])
	}
	return report
}

// Logs returns the most recent entries matching the filters. Empty taskID
// or level means no filter on that field.
func (t *Tracker) Logs(taskID string, level LogLevel, limit int) []LogEntry {
	t.mu.Lock()
	entries := append([]LogEntry(nil), t.logBuffer...)
	t.mu.Unlock()

	var filtered []LogEntry
	for _, e := range entries {
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		if level != "" && e.Level != level {
			continue
		}
		filtered = append(filtered, e)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// Watch subscribes the tracker to task status events so out-of-band
// dispatcher notifications flow in. The returned function stops the
// consumer goroutine.
func (t *Tracker) Watch(bus *events.Bus) func() {
	ch := bus.Subscribe(events.TopicTask, 256)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if statusEv, isStatus := ev.(events.TaskStatusEvent); isStatus {
					t.UpdateTaskStatus(statusEv.ID, dispatch.Status(statusEv.Status), statusEv.Detail)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
