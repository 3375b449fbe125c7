// Package plan holds the task graph: tasks generated from a specification,
// their dependencies, and the editing operations that keep the graph acyclic.
package plan

import (
	"fmt"

	"github.com/google/uuid"
)

// Effort is a t-shirt size estimate.
type Effort string

const (
	EffortXS Effort = "XS"
	EffortS  Effort = "S"
	EffortM  Effort = "M"
	EffortL  Effort = "L"
	EffortXL Effort = "XL"
)

// RiskLevel classifies how risky a task is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Strategy is the test/validation strategy for a task.
type Strategy string

const (
	TestFirst    Strategy = "test-first"
	TestAfter    Strategy = "test-after"
	TestParallel Strategy = "test-parallel"
	TestNone     Strategy = "none"
)

// Task is a single unit of work in the execution plan.
type Task struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	AcceptanceCriteria string    `json:"acceptance_criteria"`
	EffortEstimate     Effort    `json:"effort_estimate"`
	RiskLevel          RiskLevel `json:"risk_level"`
	ValidationStrategy Strategy  `json:"validation_strategy"`
	Dependencies       []string  `json:"dependencies"`
	StreamID           string    `json:"stream_id,omitempty"`
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	u := uuid.New()
	return fmt.Sprintf("task-%x", u[:4])
}

// clone returns a deep copy so callers cannot mutate plan state.
func (t *Task) clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	return &c
}
