package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircularDependency is returned when the task graph contains a cycle.
var ErrCircularDependency = errors.New("circular dependency detected in task graph")

// CycleError reports the specific edge whose addition would create a cycle.
type CycleError struct {
	TaskID    string
	DependsOn string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding dependency from %s to %s would create a circular dependency", e.TaskID, e.DependsOn)
}

func (e *CycleError) Unwrap() error { return ErrCircularDependency }

// ValidationResult is the outcome of approving a plan. Warnings never block
// approval; errors do.
type ValidationResult struct {
	Validated bool     `json:"validated"`
	Warnings  []string `json:"warnings"`
	Errors    []string `json:"errors"`
}

// TaskPlan is the aggregate holding tasks and their dependency graph.
// All operations preserve the acyclic invariant.
type TaskPlan struct {
	mu       sync.RWMutex
	tasks    []*Task
	model    string
	specLen  int
	created  time.Time
	approved bool
}

// New creates an empty plan with provenance metadata.
func New(model string, specLength int) *TaskPlan {
	return &TaskPlan{
		model:   model,
		specLen: specLength,
		created: time.Now().UTC(),
	}
}

// Model returns the model attribution recorded at generation time.
func (p *TaskPlan) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// SpecLengthUsed returns the length of the spec content the plan was built from.
func (p *TaskPlan) SpecLengthUsed() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.specLen
}

// CreatedAt returns when the plan was generated.
func (p *TaskPlan) CreatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.created
}

// Approved reports whether the plan passed approval.
func (p *TaskPlan) Approved() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.approved
}

// Len returns the number of tasks.
func (p *TaskPlan) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tasks)
}

// Tasks returns copies of all tasks in plan order.
func (p *TaskPlan) Tasks() []*Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Task, len(p.tasks))
	for i, t := range p.tasks {
		out[i] = t.clone()
	}
	return out
}

func (p *TaskPlan) findLocked(id string) *Task {
	for _, t := range p.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Task returns a copy of the task with the given ID.
func (p *TaskPlan) Task(id string) (*Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t := p.findLocked(id); t != nil {
		return t.clone(), true
	}
	return nil, false
}

// AddTask appends a task to the plan. Returns an error on duplicate IDs.
func (p *TaskPlan) AddTask(t *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findLocked(t.ID) != nil {
		return fmt.Errorf("task with ID %q already exists", t.ID)
	}
	p.tasks = append(p.tasks, t.clone())
	return nil
}

// DeleteTask removes a task and strips it from every dependency list.
func (p *TaskPlan) DeleteTask(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.tasks[:0]
	for _, t := range p.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	p.tasks = kept
	for _, t := range p.tasks {
		deps := t.Dependencies[:0]
		for _, d := range t.Dependencies {
			if d != id {
				deps = append(deps, d)
			}
		}
		t.Dependencies = deps
	}
}

// UpdateTask applies fn to the task with the given ID under the plan lock.
// fn must not modify Dependencies; use AddDependency/RemoveDependency.
func (p *TaskPlan) UpdateTask(id string, fn func(*Task)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.findLocked(id)
	if t == nil {
		return false
	}
	fn(t)
	return true
}

// AddDependency records that taskID depends on dependsOnID. The edge is
// appended, the graph re-sorted, and the edge rolled back if a cycle appears.
func (p *TaskPlan) AddDependency(taskID, dependsOnID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(taskID)
	if t == nil {
		return fmt.Errorf("task %q not found", taskID)
	}
	for _, d := range t.Dependencies {
		if d == dependsOnID {
			return nil
		}
	}

	t.Dependencies = append(t.Dependencies, dependsOnID)
	if _, err := p.sortLocked(); err != nil {
		t.Dependencies = t.Dependencies[:len(t.Dependencies)-1]
		return &CycleError{TaskID: taskID, DependsOn: dependsOnID}
	}
	return nil
}

// SetDependencies replaces a task's dependency list wholesale, rolling back
// if the new edges introduce a cycle.
func (p *TaskPlan) SetDependencies(taskID string, deps []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(taskID)
	if t == nil {
		return fmt.Errorf("task %q not found", taskID)
	}
	old := t.Dependencies
	t.Dependencies = append([]string(nil), deps...)
	if _, err := p.sortLocked(); err != nil {
		t.Dependencies = old
		return err
	}
	return nil
}

// RemoveDependency removes an edge; missing edges are a no-op.
func (p *TaskPlan) RemoveDependency(taskID, dependsOnID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.findLocked(taskID)
	if t == nil {
		return
	}
	deps := t.Dependencies[:0]
	for _, d := range t.Dependencies {
		if d != dependsOnID {
			deps = append(deps, d)
		}
	}
	t.Dependencies = deps
}

// Reorder rearranges tasks by ID list. Unknown IDs are skipped and tasks
// missing from the list are dropped, matching edit-session semantics.
func (p *TaskPlan) Reorder(order []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byID := make(map[string]*Task, len(p.tasks))
	for _, t := range p.tasks {
		byID[t.ID] = t
	}
	reordered := make([]*Task, 0, len(order))
	for _, id := range order {
		if t, ok := byID[id]; ok {
			reordered = append(reordered, t)
		}
	}
	p.tasks = reordered
}

// RootTasks returns copies of tasks with no dependencies.
func (p *TaskPlan) RootTasks() []*Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var roots []*Task
	for _, t := range p.tasks {
		if len(t.Dependencies) == 0 {
			roots = append(roots, t.clone())
		}
	}
	return roots
}

// LeafTasks returns copies of tasks nothing depends on.
func (p *TaskPlan) LeafTasks() []*Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	depended := make(map[string]bool)
	for _, t := range p.tasks {
		for _, d := range t.Dependencies {
			depended[d] = true
		}
	}
	var leaves []*Task
	for _, t := range p.tasks {
		if !depended[t.ID] {
			leaves = append(leaves, t.clone())
		}
	}
	return leaves
}

// TopologicalSort returns tasks ordered so dependencies come before
// dependents. Returns ErrCircularDependency if the graph has a cycle.
func (p *TaskPlan) TopologicalSort() ([]*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sorted, err := p.sortLocked()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, len(sorted))
	for i, t := range sorted {
		out[i] = t.clone()
	}
	return out, nil
}

// sortLocked runs Kahn's algorithm over the current tasks. Edges pointing at
// unknown IDs are ignored here; Validate reports them as warnings.
func (p *TaskPlan) sortLocked() ([]*Task, error) {
	byID := make(map[string]*Task, len(p.tasks))
	inDegree := make(map[string]int, len(p.tasks))
	adjacency := make(map[string][]string, len(p.tasks))
	for _, t := range p.tasks {
		byID[t.ID] = t
		inDegree[t.ID] = 0
	}
	for _, t := range p.tasks {
		for _, dep := range t.Dependencies {
			if _, known := byID[dep]; known {
				adjacency[dep] = append(adjacency[dep], t.ID)
				inDegree[t.ID]++
			}
		}
	}

	queue := make([]string, 0, len(p.tasks))
	for _, t := range p.tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	result := make([]*Task, 0, len(p.tasks))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, byID[current])
		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// A shorter result means some tasks never reached zero in-degree.
	if len(result) != len(p.tasks) {
		return nil, ErrCircularDependency
	}
	return result, nil
}

// IsValidDAG reports whether the dependency graph is acyclic.
func (p *TaskPlan) IsValidDAG() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, err := p.sortLocked()
	return err == nil
}

// ValidateDelete reports which tasks would be left with a dangling
// dependency if the given task were deleted.
func (p *TaskPlan) ValidateDelete(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var warnings []string
	for _, t := range p.tasks {
		for _, d := range t.Dependencies {
			if d == id {
				warnings = append(warnings, fmt.Sprintf("Task '%s' depends on the task being deleted", t.Title))
				break
			}
		}
	}
	return warnings
}

// Validate returns plan-level warnings: excessive task counts and
// dependencies on IDs that no longer exist.
func (p *TaskPlan) Validate() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.validateLocked()
}

func (p *TaskPlan) validateLocked() []string {
	var warnings []string
	if len(p.tasks) > 50 {
		warnings = append(warnings, fmt.Sprintf(
			"Plan has %d tasks - this may be excessive. Consider consolidating related tasks.", len(p.tasks)))
	}
	known := make(map[string]bool, len(p.tasks))
	for _, t := range p.tasks {
		known[t.ID] = true
	}
	for _, t := range p.tasks {
		for _, d := range t.Dependencies {
			if !known[d] {
				warnings = append(warnings, fmt.Sprintf("Task '%s' has orphaned dependency: %s", t.Title, d))
			}
		}
	}
	return warnings
}

// Approve validates the plan and marks it approved when no errors are
// present. Warnings are reported but never block approval.
func (p *TaskPlan) Approve() ValidationResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	warnings := p.validateLocked()
	var errs []string
	if _, err := p.sortLocked(); err != nil {
		errs = append(errs, err.Error())
	}

	p.approved = len(errs) == 0
	return ValidationResult{
		Validated: p.approved,
		Warnings:  warnings,
		Errors:    errs,
	}
}

// planJSON is the wire form of a plan.
type planJSON struct {
	Tasks          []*Task   `json:"tasks"`
	Model          string    `json:"llm_model"`
	SpecLengthUsed int       `json:"spec_length_used"`
	CreatedAt      time.Time `json:"created_at"`
	Approved       bool      `json:"approved"`
}

// ToJSON serializes the plan, enum fields as their string values.
func (p *TaskPlan) ToJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := planJSON{
		Tasks:          make([]*Task, len(p.tasks)),
		Model:          p.model,
		SpecLengthUsed: p.specLen,
		CreatedAt:      p.created,
		Approved:       p.approved,
	}
	for i, t := range p.tasks {
		out.Tasks[i] = t.clone()
	}
	return json.MarshalIndent(out, "", "  ")
}

// FromJSON restores a plan serialized by ToJSON.
func FromJSON(data []byte) (*TaskPlan, error) {
	var in planJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decoding task plan: %w", err)
	}
	p := &TaskPlan{
		model:    in.Model,
		specLen:  in.SpecLengthUsed,
		created:  in.CreatedAt,
		approved: in.Approved,
	}
	for _, t := range in.Tasks {
		if t.Dependencies == nil {
			t.Dependencies = []string{}
		}
		p.tasks = append(p.tasks, t)
	}
	return p, nil
}
