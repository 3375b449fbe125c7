// Package dispatch launches coding agents against plan tasks, tracking a
// per-task status state machine and enforcing file-level mutual exclusion
// across concurrent dispatches.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge/internal/agent"
	"github.com/planforge/planforge/internal/events"
	"github.com/planforge/planforge/internal/plan"
)

// ErrRuntimeNotFound is returned when the agent runtime binary is not
// installed.
var ErrRuntimeNotFound = errors.New("agent runtime not found")

// Status of an agent execution.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusBlocked   Status = "blocked"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result records the outcome of dispatching one agent.
type Result struct {
	AgentID                 string    `json:"agent_id"`
	TaskID                  string    `json:"task_id"`
	AgentNumber             int       `json:"agent_number"`
	RuntimeUsed             string    `json:"cli_used"`
	ContextPassed           string    `json:"context_passed"`
	SpecLengthPassed        int       `json:"spec_length_passed"`
	Status                  Status    `json:"status"`
	Success                 bool      `json:"success"`
	Crashed                 bool      `json:"crashed"`
	TimedOut                bool      `json:"timed_out"`
	FailureReason           string    `json:"failure_reason"`
	SessionDir              string    `json:"session_dir,omitempty"`
	WorkspaceID             string    `json:"workspace_id,omitempty"`
	StartedAt               time.Time `json:"started_at"`
	FileReservationCreated  bool      `json:"file_reservation_created"`
	FileReservationReleased bool      `json:"file_reservation_released"`
	ReservedFiles           []string  `json:"reserved_files"`
	ReservationReason       string    `json:"reservation_reason"`
	ReservationConflict     bool      `json:"reservation_conflict"`
	RedactionApplied        bool      `json:"redaction_applied"`
	Output                  string    `json:"output,omitempty"`
}

// ToJSON serializes the result.
func (r *Result) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Request describes one dispatch.
type Request struct {
	Task              *plan.Task
	Spec              string // full specification content, never truncated
	DependencyStatus  map[string]Status
	FilesToEdit       []string
	IssueID           string
	AdditionalContext string
	Wait              bool // block until the agent reaches a terminal state
}

// Dispatcher launches and tracks agents. All shared state (agent counter,
// status map, reservation table) is guarded by one mutex so check-then-set
// operations are single critical sections.
type Dispatcher struct {
	mu           sync.Mutex
	runner       agent.Runner
	bus          *events.Bus
	logger       *slog.Logger
	runtime      string
	model        string
	timeout      time.Duration
	agentCounter int
	statusMap    map[string]Status
	taskQueue    map[string]*plan.Task
	reservations map[string][]string // agent id -> reserved files
	wg           sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBus publishes dispatch and task status events to the bus.
func WithBus(bus *events.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithRuntime overrides the agent CLI binary name.
func WithRuntime(runtime string) Option {
	return func(d *Dispatcher) { d.runtime = runtime }
}

// WithModel sets the target model, which decides redaction trust.
func WithModel(model string) Option {
	return func(d *Dispatcher) { d.model = model }
}

// WithTimeout sets the per-agent execution deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// New creates a Dispatcher on the given runner.
func New(runner agent.Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:       runner,
		logger:       slog.Default(),
		runtime:      "claude",
		model:        "claude-3-opus",
		timeout:      time.Hour,
		statusMap:    make(map[string]Status),
		taskQueue:    make(map[string]*plan.Task),
		reservations: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// QueueTask registers a task, deriving blocked vs queued from the current
// status of its dependencies.
func (d *Dispatcher) QueueTask(task *plan.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.taskQueue[task.ID] = task
	status := StatusQueued
	for _, dep := range task.Dependencies {
		if d.statusMap[dep] != StatusCompleted {
			status = StatusBlocked
			break
		}
	}
	d.statusMap[task.ID] = status
}

// Status returns the recorded status of a task, defaulting to queued.
func (d *Dispatcher) Status(taskID string) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.statusMap[taskID]; ok {
		return s
	}
	return StatusQueued
}

// Statuses returns a copy of the full status map.
func (d *Dispatcher) Statuses() map[string]Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Status, len(d.statusMap))
	for k, v := range d.statusMap {
		out[k] = v
	}
	return out
}

// SetStatus records a task status. A running task cannot go directly back
// to queued.
func (d *Dispatcher) SetStatus(taskID string, status Status) error {
	d.mu.Lock()
	current := d.statusMap[taskID]
	if current == StatusRunning && status == StatusQueued {
		d.mu.Unlock()
		return fmt.Errorf("invalid status transition: %s -> %s", current, status)
	}
	d.setStatusLocked(taskID, status)
	d.mu.Unlock()

	d.publishTaskStatus(taskID, status, "")
	return nil
}

// setStatusLocked records the status and, on completion, promotes queued
// tasks whose dependencies are now all complete.
func (d *Dispatcher) setStatusLocked(taskID string, status Status) {
	d.statusMap[taskID] = status
	if status != StatusCompleted {
		return
	}
	for id, task := range d.taskQueue {
		if d.statusMap[id] != StatusBlocked {
			continue
		}
		blocked := false
		for _, dep := range task.Dependencies {
			if d.statusMap[dep] != StatusCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			d.statusMap[id] = StatusQueued
		}
	}
}

// Reservations returns a copy of the reservation table.
func (d *Dispatcher) Reservations() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]string, len(d.reservations))
	for agentID, files := range d.reservations {
		out[agentID] = append([]string(nil), files...)
	}
	return out
}

// ReleaseReservation frees the files held by an agent. Used for
// asynchronous dispatches whose completion arrives out of band.
func (d *Dispatcher) ReleaseReservation(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reservations, agentID)
}

// Dispatch launches an agent for the task. Wait mode blocks until the
// agent reaches a terminal state; otherwise the call returns immediately
// with running status and the terminal state arrives via the event bus.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if _, err := d.runner.LookPath(d.runtime); err != nil {
		return nil, fmt.Errorf("%w: %q is not installed", ErrRuntimeNotFound, d.runtime)
	}

	fullContext := assembleContext(req)

	redactionApplied := false
	if secrets := ScanForSecrets(fullContext); len(secrets) > 0 {
		d.logger.Warn("detected potential secrets in agent context",
			"task", req.Task.ID, "count", len(secrets))
		if !trustedModel(d.model) {
			fullContext = RedactSecrets(fullContext)
			redactionApplied = true
		}
	}

	d.mu.Lock()
	d.agentCounter++
	agentNumber := d.agentCounter
	agentUUID := uuid.New()
	workspaceUUID := uuid.New()
	agentID := fmt.Sprintf("agent-%x", agentUUID[:4])
	workspaceID := fmt.Sprintf("workspace-%x", workspaceUUID[:4])

	// Reservation check and insert share this critical section so two
	// agents can never both believe they hold the same file.
	reservationConflict := false
	reservationCreated := false
	reservationReason := ""
	var reservedFiles []string
	if len(req.FilesToEdit) > 0 {
		reservationConflict = d.conflictsLocked(req.FilesToEdit)
		if !reservationConflict {
			reservationCreated = true
			reservedFiles = append([]string(nil), req.FilesToEdit...)
			reservationReason = "Agent " + agentID
			if req.IssueID != "" {
				reservationReason += " for " + req.IssueID
			}
			d.reservations[agentID] = reservedFiles
		}
	}
	d.statusMap[req.Task.ID] = StatusRunning
	d.mu.Unlock()

	result := &Result{
		AgentID:                agentID,
		TaskID:                 req.Task.ID,
		AgentNumber:            agentNumber,
		RuntimeUsed:            d.runtime,
		ContextPassed:          fullContext,
		SpecLengthPassed:       len(req.Spec),
		Status:                 StatusRunning,
		SessionDir:             filepath.Join(os.TempDir(), "planforge-sessions", agentID),
		WorkspaceID:            workspaceID,
		StartedAt:              time.Now().UTC(),
		FileReservationCreated: reservationCreated,
		ReservedFiles:          reservedFiles,
		ReservationReason:      reservationReason,
		ReservationConflict:    reservationConflict,
		RedactionApplied:       redactionApplied,
	}

	if d.bus != nil {
		d.bus.Publish(events.TopicDispatch, events.AgentDispatchedEvent{
			ID:          req.Task.ID,
			AgentID:     agentID,
			AgentNumber: agentNumber,
			Runtime:     d.runtime,
			Timestamp:   time.Now().UTC(),
		})
		if reservationConflict {
			d.bus.Publish(events.TopicDispatch, events.ReservationConflictEvent{
				ID:        req.Task.ID,
				AgentID:   agentID,
				Files:     append([]string(nil), req.FilesToEdit...),
				Timestamp: time.Now().UTC(),
			})
		}
	}
	d.publishTaskStatus(req.Task.ID, StatusRunning, "")

	inv := agent.Invocation{
		Runtime: d.runtime,
		Args:    d.buildArgs(),
		Stdin:   fullContext,
		Timeout: d.timeout,
	}

	if req.Wait {
		runResult, err := d.runner.Run(ctx, inv)
		d.finish(result, runResult, err)
		return result, nil
	}

	// The caller gets a snapshot of the running state; the goroutine
	// finishes its own copy. Completion is observable through Status
	// and the event bus.
	snapshot := *result
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runResult, err := d.runner.Run(ctx, inv)
		d.finish(result, runResult, err)
	}()
	return &snapshot, nil
}

// Drain blocks until all asynchronous dispatches have finished.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

// conflictsLocked reports whether any requested file intersects a held
// reservation. Caller holds d.mu.
func (d *Dispatcher) conflictsLocked(files []string) bool {
	for _, held := range d.reservations {
		for _, f := range files {
			for _, h := range held {
				if f == h {
					return true
				}
			}
		}
	}
	return false
}

// finish maps the run outcome onto the result and status map, releasing
// the file reservation when the agent completed.
func (d *Dispatcher) finish(result *Result, runResult agent.Result, err error) {
	if err == nil {
		result.Status = StatusCompleted
		result.Success = true
		result.Output = runResult.Stdout
	} else {
		result.Status = StatusFailed
		switch {
		case runResult.TimedOut:
			result.TimedOut = true
			result.FailureReason = "Agent timed out"
		case runResult.ExitCode == -1:
			result.Crashed = true
			result.FailureReason = "Agent crashed during execution"
		default:
			result.FailureReason = err.Error()
		}
	}

	d.mu.Lock()
	d.setStatusLocked(result.TaskID, result.Status)
	if result.Success && result.FileReservationCreated {
		delete(d.reservations, result.AgentID)
		result.FileReservationReleased = true
	}
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Publish(events.TopicDispatch, events.AgentFinishedEvent{
			ID:            result.TaskID,
			AgentID:       result.AgentID,
			Success:       result.Success,
			Crashed:       result.Crashed,
			TimedOut:      result.TimedOut,
			FailureReason: result.FailureReason,
			Timestamp:     time.Now().UTC(),
		})
	}
	d.publishTaskStatus(result.TaskID, result.Status, result.FailureReason)
}

func (d *Dispatcher) publishTaskStatus(taskID string, status Status, detail string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.TopicTask, events.TaskStatusEvent{
		ID:        taskID,
		Status:    string(status),
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (d *Dispatcher) buildArgs() []string {
	args := []string{"-p", "--output-format", "json"}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	return args
}

// assembleContext builds the full context document for the agent. The
// specification is passed whole, never truncated.
func assembleContext(req Request) string {
	parts := []string{
		"# Task: " + req.Task.Title,
		"\n## Description\n" + req.Task.Description,
		"\n## Acceptance Criteria\n" + req.Task.AcceptanceCriteria,
		"\n## Full Specification\n" + req.Spec,
	}

	if len(req.DependencyStatus) > 0 {
		depIDs := make([]string, 0, len(req.DependencyStatus))
		for dep := range req.DependencyStatus {
			depIDs = append(depIDs, dep)
		}
		sort.Strings(depIDs)

		var b strings.Builder
		b.WriteString("\n## Dependency Status\n")
		for _, dep := range depIDs {
			fmt.Fprintf(&b, "- %s: %s\n", dep, req.DependencyStatus[dep])
		}
		parts = append(parts, b.String())
	}

	if req.AdditionalContext != "" {
		parts = append(parts, "\n## Additional Context\n"+req.AdditionalContext)
	}
	return strings.Join(parts, "\n")
}

// DispatchBatch dispatches tasks strictly sequentially in caller order,
// waiting for each. A failure in one dispatch does not abort the batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context, tasks []*plan.Task, spec string) []*Result {
	results := make([]*Result, 0, len(tasks))
	for _, task := range tasks {
		req := Request{Task: task, Spec: spec, Wait: true}
		result, err := d.Dispatch(ctx, req)
		if err != nil {
			result = &Result{
				TaskID:        task.ID,
				Status:        StatusFailed,
				FailureReason: err.Error(),
			}
		}
		results = append(results, result)
	}
	return results
}

// DispatchWave dispatches independent tasks concurrently, at most limit at
// a time. Results keep caller order; failures are isolated per task.
func (d *Dispatcher) DispatchWave(ctx context.Context, tasks []*plan.Task, spec string, limit int) []*Result {
	if limit <= 0 {
		limit = 1
	}
	results := make([]*Result, len(tasks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			req := Request{Task: task, Spec: spec, Wait: true}
			result, err := d.Dispatch(ctx, req)
			if err != nil {
				result = &Result{
					TaskID:        task.ID,
					Status:        StatusFailed,
					FailureReason: err.Error(),
				}
			}
			results[i] = result
			return nil
		})
	}
	g.Wait()
	return results
}
