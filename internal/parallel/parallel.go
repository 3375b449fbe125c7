// Package parallel identifies independent workstreams in a task plan and
// recommends branch strategies and merge sequencing.
package parallel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/plan"
)

// BranchPattern is a git branching strategy for parallel execution.
type BranchPattern string

const (
	SingleBranch    BranchPattern = "single-branch"
	FeatureBranches BranchPattern = "feature-branches"
	StackedBranches BranchPattern = "stacked-branches"
)

// Workstream groups tasks that can execute together.
type Workstream struct {
	StreamID         string   `json:"stream_id"`
	TaskIDs          []string `json:"task_ids"`
	BranchName       string   `json:"branch_name,omitempty"`
	DependsOnStreams []string `json:"depends_on_streams"`
}

// MergePoint is one required merge between streams.
type MergePoint struct {
	SourceStream         string `json:"source_stream"`
	TargetStream         string `json:"target_stream"`
	MergeOrder           int    `json:"merge_order"`
	ExpectedConflictRisk string `json:"expected_conflict_risk"` // low, medium, high
}

// Plan is the complete parallelization recommendation.
type Plan struct {
	Streams        []*Workstream `json:"streams"`
	ExecutionOrder []string      `json:"execution_order"`
	MergeSequence  []MergePoint  `json:"merge_sequence"`
	BranchPattern  BranchPattern `json:"branch_pattern"`
	Warnings       []string      `json:"warnings"`
	RunID          string        `json:"run_id"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ToJSON serializes the plan.
func (p *Plan) ToJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// DefaultConflictThreshold is the contested-file ratio that triggers a
// replanning suggestion.
const DefaultConflictThreshold = 0.3

// Advisor recommends parallel execution strategies, learning conflict
// patterns from its ledger across runs.
type Advisor struct {
	ledger            Ledger
	conflictThreshold float64
}

// NewAdvisor creates an advisor on the given ledger. A nil ledger gets an
// in-memory one.
func NewAdvisor(ledger Ledger) *Advisor {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Advisor{ledger: ledger, conflictThreshold: DefaultConflictThreshold}
}

// SetConflictThreshold adjusts the excessive-conflict trigger, clamped to
// [0.1, 1.0].
func (a *Advisor) SetConflictThreshold(threshold float64) {
	if threshold < 0.1 {
		threshold = 0.1
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	a.conflictThreshold = threshold
}

// Analyze builds a parallelization plan: workstreams from stream IDs,
// execution order, merge sequence, branch names, and warnings. Each call
// gets a fresh run ID.
func (a *Advisor) Analyze(tp *plan.TaskPlan, pattern BranchPattern) *Plan {
	u := uuid.New()
	result := &Plan{
		BranchPattern: pattern,
		RunID:         fmt.Sprintf("%x", u[:4]),
		CreatedAt:     time.Now().UTC(),
	}

	result.Streams = identifyStreams(tp)
	result.ExecutionOrder = executionOrder(tp, result.Streams)
	result.MergeSequence = a.mergeSequence(result.Streams)
	assignBranchNames(result, pattern)
	result.Warnings = a.warnings(result)

	return result
}

// identifyStreams groups tasks by stream ID and derives stream-level
// dependencies from cross-stream task edges.
func identifyStreams(tp *plan.TaskPlan) []*Workstream {
	taskStream := make(map[string]string)
	groups := make(map[string][]string)
	var order []string

	for _, t := range tp.Tasks() {
		sid := t.StreamID
		if sid == "" {
			sid = fmt.Sprintf("stream-%d", len(groups)+1)
		}
		if _, seen := groups[sid]; !seen {
			order = append(order, sid)
		}
		groups[sid] = append(groups[sid], t.ID)
		taskStream[t.ID] = sid
	}

	streams := make([]*Workstream, 0, len(order))
	for _, sid := range order {
		dependsOn := make(map[string]bool)
		for _, taskID := range groups[sid] {
			t, ok := tp.Task(taskID)
			if !ok {
				continue
			}
			for _, dep := range t.Dependencies {
				if ds, ok := taskStream[dep]; ok && ds != sid {
					dependsOn[ds] = true
				}
			}
		}
		deps := make([]string, 0, len(dependsOn))
		for _, other := range order {
			if dependsOn[other] {
				deps = append(deps, other)
			}
		}
		streams = append(streams, &Workstream{
			StreamID:         sid,
			TaskIDs:          groups[sid],
			DependsOnStreams: deps,
		})
	}
	return streams
}

// executionOrder uses the plan's topological sort, falling back to stream
// concatenation if the graph is somehow cyclic.
func executionOrder(tp *plan.TaskPlan, streams []*Workstream) []string {
	sorted, err := tp.TopologicalSort()
	if err == nil {
		order := make([]string, len(sorted))
		for i, t := range sorted {
			order[i] = t.ID
		}
		return order
	}
	var order []string
	for _, s := range streams {
		order = append(order, s.TaskIDs...)
	}
	return order
}

// mergeSequence emits one merge point per stream dependency edge, ordered so
// streams whose prerequisites are already merged come first.
func (a *Advisor) mergeSequence(streams []*Workstream) []MergePoint {
	ordered := orderStreams(streams)

	var points []MergePoint
	order := 1
	for _, s := range ordered {
		for _, dep := range s.DependsOnStreams {
			points = append(points, MergePoint{
				SourceStream:         s.StreamID,
				TargetStream:         dep,
				MergeOrder:           order,
				ExpectedConflictRisk: a.conflictRisk(s.StreamID, dep),
			})
			order++
		}
	}
	return points
}

// orderStreams topologically sorts streams by their dependency edges,
// keeping the input order on failure.
func orderStreams(streams []*Workstream) []*Workstream {
	byID := make(map[string]*Workstream, len(streams))
	var edges []toposort.Edge
	for _, s := range streams {
		byID[s.StreamID] = s
		if len(s.DependsOnStreams) == 0 {
			edges = append(edges, toposort.Edge{nil, s.StreamID})
		} else {
			for _, dep := range s.DependsOnStreams {
				edges = append(edges, toposort.Edge{dep, s.StreamID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return streams
	}
	ordered := make([]*Workstream, 0, len(streams))
	for _, id := range sorted {
		if id == nil {
			continue
		}
		if s, ok := byID[id.(string)]; ok {
			ordered = append(ordered, s)
		}
	}
	if len(ordered) != len(streams) {
		return streams
	}
	return ordered
}

// conflictRisk grades a stream pair by how often it has conflicted before.
func (a *Advisor) conflictRisk(streamA, streamB string) string {
	history, err := a.ledger.All()
	if err != nil {
		return "low"
	}
	count := 0
	for _, c := range history {
		if (c.StreamA == streamA && c.StreamB == streamB) ||
			(c.StreamA == streamB && c.StreamB == streamA) {
			count++
		}
	}
	switch {
	case count > 5:
		return "high"
	case count > 2:
		return "medium"
	default:
		return "low"
	}
}

func assignBranchNames(result *Plan, pattern BranchPattern) {
	timestamp := time.Now().Format("20060102-1504")
	for _, s := range result.Streams {
		switch pattern {
		case SingleBranch:
			s.BranchName = "main"
		case FeatureBranches:
			s.BranchName = fmt.Sprintf("feature/%s-%s", s.StreamID, result.RunID)
		case StackedBranches:
			s.BranchName = fmt.Sprintf("stack/%s-%s", s.StreamID, timestamp)
		}
	}
}

func (a *Advisor) warnings(result *Plan) []string {
	var warnings []string

	if len(result.Streams) == 1 {
		warnings = append(warnings,
			"All tasks are in a single stream - no parallelization possible. "+
				"This may be due to task dependencies.")
	}

	allIndependent := true
	for _, s := range result.Streams {
		if len(s.DependsOnStreams) > 0 {
			allIndependent = false
			break
		}
	}
	if allIndependent && len(result.Streams) > 1 {
		warnings = append(warnings,
			"All streams are independent - maximum parallelization but "+
				"higher merge conflict risk. Consider coordinating file edits.")
	}

	if contested, err := a.ledger.ContestedFiles(); err == nil && len(contested) > 0 {
		if len(contested) > 5 {
			contested = contested[:5]
		}
		warnings = append(warnings, fmt.Sprintf(
			"Files with conflict history: %s. Avoid concurrent edits to these files.",
			strings.Join(contested, ", ")))
	}

	highRisk := 0
	for _, m := range result.MergeSequence {
		if m.ExpectedConflictRisk == "high" {
			highRisk++
		}
	}
	if highRisk > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"%d merge(s) have high conflict risk. Consider re-ordering or consolidating tasks.", highRisk))
	}

	return warnings
}

// RecordConflict appends a conflict to the ledger.
func (a *Advisor) RecordConflict(filePath, streamA, streamB, resolutionNotes string) error {
	return a.ledger.Append(ConflictRecord{
		FilePath:        filePath,
		StreamA:         streamA,
		StreamB:         streamB,
		RecordedAt:      time.Now().UTC(),
		ResolutionNotes: resolutionNotes,
	})
}

// ContestedFiles lists files with conflict history.
func (a *Advisor) ContestedFiles() []string {
	files, err := a.ledger.ContestedFiles()
	if err != nil {
		return nil
	}
	return files
}

// CheckExcessiveConflicts reports whether the recent conflict rate crosses
// the threshold, with a replanning suggestion when it does. At least five
// recent records are required before the check fires.
func (a *Advisor) CheckExcessiveConflicts() (bool, string) {
	recent, err := a.ledger.Recent(20)
	if err != nil || len(recent) < 5 {
		return false, ""
	}

	files := make(map[string]bool)
	for _, c := range recent {
		files[c.FilePath] = true
	}
	if float64(len(files))/float64(len(recent)) > a.conflictThreshold {
		return true, "Excessive merge conflicts detected. Consider:\n" +
			"1. Re-planning tasks to reduce file overlap\n" +
			"2. Serializing tasks that touch the same files\n" +
			"3. Breaking up large files into smaller modules"
	}
	return false, ""
}

// SuggestReplanning proposes plan changes that reduce conflict pressure.
func (a *Advisor) SuggestReplanning() []string {
	var suggestions []string
	if contested := a.ContestedFiles(); len(contested) > 0 {
		if len(contested) > 5 {
			contested = contested[:5]
		}
		suggestions = append(suggestions, fmt.Sprintf(
			"Files with conflicts: %s. Consider creating separate tasks for these files.",
			strings.Join(contested, ", ")))
	}
	suggestions = append(suggestions,
		"Consider splitting large tasks into smaller, file-focused tasks.")
	return suggestions
}

// ParallelStartGroups returns groups of task IDs that can begin
// simultaneously: the first task of each independent stream.
func (a *Advisor) ParallelStartGroups(result *Plan) [][]string {
	var groups [][]string
	var first []string

	for _, s := range result.Streams {
		if len(s.DependsOnStreams) > 0 || len(s.TaskIDs) == 0 {
			continue
		}
		inStream := make(map[string]bool, len(s.TaskIDs))
		for _, id := range s.TaskIDs {
			inStream[id] = true
		}
		for _, id := range result.ExecutionOrder {
			if inStream[id] {
				first = append(first, id)
				break
			}
		}
	}

	if len(first) > 0 {
		groups = append(groups, first)
	}
	return groups
}
