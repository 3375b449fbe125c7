// Package strategy assigns validation strategies to planned tasks and
// generates the companion test tasks those strategies require.
package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/plan"
)

// Reason explains why a strategy was recommended.
type Reason string

const (
	ReasonHighRisk      Reason = "high_risk"
	ReasonMediumRisk    Reason = "medium_risk"
	ReasonLowRisk       Reason = "low_risk"
	ReasonComplexTask   Reason = "complex_task"
	ReasonVagueAC       Reason = "vague_acceptance_criteria"
	ReasonDocumentation Reason = "documentation_task"
	ReasonUserOverride  Reason = "user_override"
)

// vagueIndicators flag acceptance criteria that cannot be asserted directly.
var vagueIndicators = []string{
	"good", "nice", "fast", "better", "improve", "work",
	"correctly", "properly", "should", "appropriate",
}

// docIndicators flag documentation or configuration tasks.
var docIndicators = []string{
	"document", "readme", "docs", "comment", "config",
	"configuration", "setup", "install", "deploy",
}

// TestTask is a generated validation task paired with an implementation task.
type TestTask struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Description          string        `json:"description"`
	TestCriteria         string        `json:"test_criteria"`
	TestFilePath         string        `json:"test_file_path,omitempty"`
	ImplementationTaskID string        `json:"implementation_task_id"`
	Strategy             plan.Strategy `json:"strategy"`
	StreamID             string        `json:"stream_id,omitempty"`
}

// Assignment is a strategy decision for one task, with reasoning.
type Assignment struct {
	TaskID       string        `json:"task_id"`
	Strategy     plan.Strategy `json:"strategy"`
	Reason       Reason        `json:"reason"`
	Confidence   float64       `json:"confidence"`
	UserOverride bool          `json:"user_override"`
	TestTask     *TestTask     `json:"test_task,omitempty"`
}

// Plan collects strategy assignments for a task plan.
type Plan struct {
	order       []string
	Assignments map[string]*Assignment `json:"assignments"`
	TestTasks   []*TestTask            `json:"test_tasks"`
	Warnings    []string               `json:"warnings"`
	CreatedAt   time.Time              `json:"created_at"`
}

const allNoneWarning = "All tasks have 'none' strategy - no validation will be performed. " +
	"Consider adding test strategies for important tasks."

// Assign recommends a strategy for every task in the plan and generates test
// tasks for each non-none assignment.
func Assign(tp *plan.TaskPlan) *Plan {
	sp := &Plan{
		Assignments: make(map[string]*Assignment),
		CreatedAt:   time.Now().UTC(),
	}

	for _, task := range tp.Tasks() {
		a := recommend(task)
		sp.Assignments[task.ID] = a
		sp.order = append(sp.order, task.ID)

		if a.Strategy != plan.TestNone {
			tt := newTestTask(task, a)
			a.TestTask = tt
			sp.TestTasks = append(sp.TestTasks, tt)
		}
	}

	if sp.AllNone() {
		sp.Warnings = append(sp.Warnings, allNoneWarning)
	}

	return sp
}

// recommend applies the strategy rules in priority order: documentation,
// vague criteria, risk level, then effort.
func recommend(task *plan.Task) *Assignment {
	text := strings.ToLower(task.Title + task.Description)
	for _, word := range docIndicators {
		if strings.Contains(text, word) {
			return &Assignment{
				TaskID:     task.ID,
				Strategy:   plan.TestNone,
				Reason:     ReasonDocumentation,
				Confidence: 0.8,
			}
		}
	}

	if vague, _ := CheckVagueAC(task); vague {
		return &Assignment{
			TaskID:     task.ID,
			Strategy:   plan.TestFirst,
			Reason:     ReasonVagueAC,
			Confidence: 0.7,
		}
	}

	switch task.RiskLevel {
	case plan.RiskHigh:
		return &Assignment{
			TaskID:     task.ID,
			Strategy:   plan.TestFirst,
			Reason:     ReasonHighRisk,
			Confidence: 0.9,
		}
	case plan.RiskMedium:
		return &Assignment{
			TaskID:     task.ID,
			Strategy:   plan.TestAfter,
			Reason:     ReasonMediumRisk,
			Confidence: 0.8,
		}
	}

	if task.EffortEstimate == plan.EffortL || task.EffortEstimate == plan.EffortXL {
		return &Assignment{
			TaskID:     task.ID,
			Strategy:   plan.TestFirst,
			Reason:     ReasonComplexTask,
			Confidence: 0.75,
		}
	}

	return &Assignment{
		TaskID:     task.ID,
		Strategy:   plan.TestAfter,
		Reason:     ReasonLowRisk,
		Confidence: 0.7,
	}
}

// CheckVagueAC reports whether acceptance criteria read as vague, along with
// the indicator words found. Two or more hits count as vague.
func CheckVagueAC(task *plan.Task) (bool, []string) {
	ac := strings.ToLower(task.AcceptanceCriteria)
	var found []string
	for _, word := range vagueIndicators {
		if strings.Contains(ac, word) {
			found = append(found, word)
		}
	}
	return len(found) >= 2, found
}

func newTestTask(task *plan.Task, a *Assignment) *TestTask {
	u := uuid.New()

	safe := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(task.Title))
	if len(safe) > 30 {
		safe = safe[:30]
	}

	return &TestTask{
		ID:                   fmt.Sprintf("test-%x", u[:4]),
		Title:                "Test: " + task.Title,
		Description:          "Write tests for: " + task.Description,
		TestCriteria:         deriveTestCriteria(task.AcceptanceCriteria),
		TestFilePath:         fmt.Sprintf("tests/test_%s.py", safe),
		ImplementationTaskID: task.ID,
		Strategy:             a.Strategy,
		StreamID:             task.StreamID,
	}
}

// deriveTestCriteria turns pipe-separated acceptance criteria into one
// "Verify:" line per criterion.
func deriveTestCriteria(ac string) string {
	var points []string
	for _, part := range strings.Split(ac, "|") {
		part = strings.TrimSpace(part)
		if part != "" {
			points = append(points, "- Verify: "+part)
		}
	}
	if len(points) == 0 {
		return "- Verify: " + ac
	}
	return strings.Join(points, "\n")
}

// AllNone reports whether every assignment is the none strategy.
func (sp *Plan) AllNone() bool {
	for _, a := range sp.Assignments {
		if a.Strategy != plan.TestNone {
			return false
		}
	}
	return true
}

// Override replaces a task's assignment with a user decision at full
// confidence, regenerating or removing its test task, and keeps the
// no-validation warning in step.
func (sp *Plan) Override(taskID string, newStrategy plan.Strategy, task *plan.Task) bool {
	old, ok := sp.Assignments[taskID]
	if !ok {
		return false
	}

	next := &Assignment{
		TaskID:       taskID,
		Strategy:     newStrategy,
		Reason:       ReasonUserOverride,
		Confidence:   1.0,
		UserOverride: true,
	}

	if old.TestTask != nil {
		kept := sp.TestTasks[:0]
		for _, tt := range sp.TestTasks {
			if tt.ID != old.TestTask.ID {
				kept = append(kept, tt)
			}
		}
		sp.TestTasks = kept
	}

	if newStrategy != plan.TestNone && task != nil {
		tt := newTestTask(task, next)
		next.TestTask = tt
		sp.TestTasks = append(sp.TestTasks, tt)
	}

	sp.Assignments[taskID] = next

	if sp.AllNone() {
		if !sp.hasNoValidationWarning() {
			sp.Warnings = append(sp.Warnings, "All tasks have 'none' strategy - no validation will be performed.")
		}
	} else {
		kept := sp.Warnings[:0]
		for _, w := range sp.Warnings {
			if !strings.Contains(w, "no validation") {
				kept = append(kept, w)
			}
		}
		sp.Warnings = kept
	}

	return true
}

func (sp *Plan) hasNoValidationWarning() bool {
	for _, w := range sp.Warnings {
		if strings.Contains(w, "no validation") {
			return true
		}
	}
	return false
}

// BlockingOrder returns task and test IDs in execution order: test before
// implementation for test-first, after it otherwise.
func (sp *Plan) BlockingOrder() []string {
	var order []string
	for _, taskID := range sp.order {
		a := sp.Assignments[taskID]
		switch a.Strategy {
		case plan.TestFirst:
			if a.TestTask != nil {
				order = append(order, a.TestTask.ID)
			}
			order = append(order, taskID)
		case plan.TestAfter, plan.TestParallel:
			order = append(order, taskID)
			if a.TestTask != nil {
				order = append(order, a.TestTask.ID)
			}
		default:
			order = append(order, taskID)
		}
	}
	return order
}

// ToJSON serializes the strategy plan.
func (sp *Plan) ToJSON() ([]byte, error) {
	return json.MarshalIndent(sp, "", "  ")
}
