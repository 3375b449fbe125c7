// Package guard protects plans against over-decomposition: too many tasks
// for the size of the specification they came from.
package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/planforge/planforge/internal/intake"
	"github.com/planforge/planforge/internal/plan"
)

const (
	// DefaultBaseThreshold is the task-count floor for small specs.
	DefaultBaseThreshold = 10
	// DefaultTasksPerFR scales the threshold with spec size.
	DefaultTasksPerFR = 3.0
	// AbsurdThreshold triggers an "are you sure" warning.
	AbsurdThreshold = 100
)

// Suggestion proposes merging tasks with overlapping scope.
type Suggestion struct {
	TaskIDs              []string `json:"task_ids"`
	TaskTitles           []string `json:"task_titles"`
	Reason               string   `json:"reason"`
	SuggestedMergedTitle string   `json:"suggested_merged_title"`
	Confidence           float64  `json:"confidence"`
}

// Result is the outcome of an over-decomposition check.
type Result struct {
	TaskCount            int          `json:"task_count"`
	Threshold            int          `json:"threshold"`
	SpecSizeFactor       float64      `json:"spec_size_factor"`
	ExceedsThreshold     bool         `json:"exceeds_threshold"`
	RequiresConfirmation bool         `json:"requires_confirmation"`
	Warnings             []string     `json:"warnings"`
	Suggestions          []Suggestion `json:"suggestions"`
	Confirmed            bool         `json:"confirmed"`
	CheckedAt            time.Time    `json:"checked_at"`
}

// ToJSON serializes the result.
func (r *Result) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Guard checks plans against configurable decomposition thresholds. The
// configuration persists to a JSON file when a path is given.
type Guard struct {
	mu            sync.Mutex
	baseThreshold int
	tasksPerFR    float64
	configPath    string
}

type guardConfig struct {
	BaseThreshold int     `json:"base_threshold"`
	TasksPerFR    float64 `json:"tasks_per_fr"`
}

// New creates a guard with default thresholds. If configPath is non-empty
// and the file exists, saved thresholds are loaded from it.
func New(configPath string) *Guard {
	g := &Guard{
		baseThreshold: DefaultBaseThreshold,
		tasksPerFR:    DefaultTasksPerFR,
		configPath:    configPath,
	}
	if configPath != "" {
		g.loadConfig()
	}
	return g
}

func (g *Guard) loadConfig() {
	data, err := os.ReadFile(g.configPath)
	if err != nil {
		return
	}
	var cfg guardConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return
	}
	if cfg.BaseThreshold > 0 {
		g.baseThreshold = cfg.BaseThreshold
	}
	if cfg.TasksPerFR > 0 {
		g.tasksPerFR = cfg.TasksPerFR
	}
}

func (g *Guard) saveConfig() error {
	if g.configPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(guardConfig{
		BaseThreshold: g.baseThreshold,
		TasksPerFR:    g.tasksPerFR,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.configPath, data, 0o644)
}

// SetBaseThreshold updates the base threshold. Values below 1 are rejected;
// values at or above AbsurdThreshold are accepted with a warning.
func (g *Guard) SetBaseThreshold(threshold int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if threshold < 1 {
		return "", fmt.Errorf("threshold must be at least 1")
	}
	warning := ""
	if threshold >= AbsurdThreshold {
		warning = fmt.Sprintf("Setting threshold to %d is unusually high. Are you sure this is intentional?", threshold)
	}
	g.baseThreshold = threshold
	if err := g.saveConfig(); err != nil {
		return warning, err
	}
	return warning, nil
}

// SetTasksPerFR updates the per-requirement scaling factor. Values below
// 0.5 are rejected; values above 10 are accepted with a warning.
func (g *Guard) SetTasksPerFR(perFR float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if perFR < 0.5 {
		return "", fmt.Errorf("tasks per FR must be at least 0.5")
	}
	warning := ""
	if perFR > 10 {
		warning = fmt.Sprintf("Setting %g tasks per FR is very high. Are you sure this is intentional?", perFR)
	}
	g.tasksPerFR = perFR
	if err := g.saveConfig(); err != nil {
		return warning, err
	}
	return warning, nil
}

// Threshold returns the effective threshold: the base, scaled up by the
// spec's requirement count.
func (g *Guard) Threshold(doc *intake.Document) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.thresholdLocked(doc)
}

func (g *Guard) thresholdLocked(doc *intake.Document) int {
	if doc == nil {
		return g.baseThreshold
	}
	scaled := int(float64(len(doc.FunctionalRequirements)) * g.tasksPerFR)
	if scaled > g.baseThreshold {
		return scaled
	}
	return g.baseThreshold
}

// Check evaluates a plan against the threshold and suggests consolidations
// when the plan looks over-decomposed.
func (g *Guard) Check(tp *plan.TaskPlan, doc *intake.Document) *Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	taskCount := tp.Len()
	threshold := g.thresholdLocked(doc)

	sizeFactor := 1.0
	if doc != nil && len(doc.FunctionalRequirements) > 0 {
		sizeFactor = float64(taskCount) / float64(len(doc.FunctionalRequirements))
	}

	exceeds := taskCount > threshold
	result := &Result{
		TaskCount:            taskCount,
		Threshold:            threshold,
		SpecSizeFactor:       sizeFactor,
		ExceedsThreshold:     exceeds,
		RequiresConfirmation: exceeds,
		Warnings:             []string{},
		Suggestions:          []Suggestion{},
		CheckedAt:            time.Now().UTC(),
	}

	if exceeds {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Task count (%d) exceeds threshold (%d). This may indicate over-decomposition.",
			taskCount, threshold))
	}
	if sizeFactor > 5 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Average of %.1f tasks per FR is high. Consider consolidating related tasks.", sizeFactor))
	}

	if exceeds || sizeFactor > 3 {
		result.Suggestions = findConsolidationCandidates(tp)
	}

	if threshold == 1 && taskCount > 1 {
		result.Warnings = append(result.Warnings,
			"Threshold is set to 1 - any multi-task plan will trigger warnings.")
	}

	return result
}

// Confirm marks a guard result as user-confirmed.
func (g *Guard) Confirm(r *Result) *Result {
	r.Confirmed = true
	return r
}

// Apply consolidates the suggested tasks: the first keeps the merged title,
// the descriptions concatenate, dependencies are unioned without
// self-references, and the rest are deleted.
func (g *Guard) Apply(tp *plan.TaskPlan, s Suggestion) bool {
	if len(s.TaskIDs) < 2 {
		return false
	}

	tasks := make([]*plan.Task, 0, len(s.TaskIDs))
	for _, id := range s.TaskIDs {
		t, ok := tp.Task(id)
		if !ok {
			return false
		}
		tasks = append(tasks, t)
	}

	merged := make(map[string]bool)
	descriptions := make([]string, 0, len(tasks))
	for _, t := range tasks {
		descriptions = append(descriptions, t.Description)
		for _, d := range t.Dependencies {
			merged[d] = true
		}
	}
	for _, id := range s.TaskIDs {
		delete(merged, id)
	}
	deps := make([]string, 0, len(merged))
	for d := range merged {
		deps = append(deps, d)
	}
	sort.Strings(deps)

	primary := s.TaskIDs[0]
	tp.UpdateTask(primary, func(t *plan.Task) {
		t.Title = s.SuggestedMergedTitle
		t.Description = strings.Join(descriptions, "\n\n")
	})
	if err := tp.SetDependencies(primary, deps); err != nil {
		return false
	}
	for _, id := range s.TaskIDs[1:] {
		tp.DeleteTask(id)
	}
	return true
}

// stopwords are too generic to signal overlapping scope.
var stopwords = map[string]bool{
	"implement": true, "add": true, "create": true,
	"the": true, "a": true, "an": true, "for": true, "to": true,
}

// findConsolidationCandidates pairs same-stream tasks whose titles overlap
// beyond 0.5 Jaccard similarity, capped at five suggestions.
func findConsolidationCandidates(tp *plan.TaskPlan) []Suggestion {
	streams := make(map[string][]*plan.Task)
	var streamOrder []string
	for _, t := range tp.Tasks() {
		sid := t.StreamID
		if sid == "" {
			sid = "default"
		}
		if _, seen := streams[sid]; !seen {
			streamOrder = append(streamOrder, sid)
		}
		streams[sid] = append(streams[sid], t)
	}

	suggestions := []Suggestion{}
	for _, sid := range streamOrder {
		tasks := streams[sid]
		if len(tasks) < 2 {
			continue
		}
		for i, t1 := range tasks {
			for _, t2 := range tasks[i+1:] {
				sim := titleSimilarity(t1, t2)
				if sim > 0.5 {
					suggestions = append(suggestions, Suggestion{
						TaskIDs:              []string{t1.ID, t2.ID},
						TaskTitles:           []string{t1.Title, t2.Title},
						Reason:               fmt.Sprintf("Similar scope (similarity: %.0f%%)", sim*100),
						SuggestedMergedTitle: mergedTitle(t1, t2),
						Confidence:           sim,
					})
				}
			}
		}
	}

	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

// titleSimilarity is Jaccard overlap of title words after stopword removal.
func titleSimilarity(t1, t2 *plan.Task) float64 {
	words := func(title string) map[string]bool {
		set := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(title)) {
			if !stopwords[w] {
				set[w] = true
			}
		}
		return set
	}
	w1, w2 := words(t1.Title), words(t2.Title)
	if len(w1) == 0 || len(w2) == 0 {
		return 0
	}
	intersection := 0
	for w := range w1 {
		if w2[w] {
			intersection++
		}
	}
	union := len(w1) + len(w2) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// mergedTitle uses a long common prefix when one exists, otherwise leans on
// the first task's title.
func mergedTitle(t1, t2 *plan.Task) string {
	prefix := ""
	for i := 0; i < len(t1.Title) && i < len(t2.Title); i++ {
		if t1.Title[i] != t2.Title[i] {
			break
		}
		prefix += string(t1.Title[i])
	}
	if len(prefix) > 10 {
		return strings.TrimSpace(prefix) + " (consolidated)"
	}
	return t1.Title + " + related tasks"
}
