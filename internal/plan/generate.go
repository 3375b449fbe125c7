package plan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/planforge/planforge/internal/intake"
)

var requiresRe = regexp.MustCompile(`Requires?:\s*(FR-\d+)`)

// Generator builds task plans from parsed specifications.
type Generator struct {
	// Model is recorded on generated plans as provenance.
	Model string
}

// NewGenerator creates a generator attributing plans to the given model.
func NewGenerator(model string) *Generator {
	if model == "" {
		model = "heuristic"
	}
	return &Generator{Model: model}
}

// Generate produces one task per functional requirement, infers dependencies
// from explicit "Requires: FR-n" markers, and assigns workstream IDs.
func (g *Generator) Generate(doc *intake.Document) *TaskPlan {
	p := New(g.Model, len(doc.RawContent))

	frTasks := make(map[string]string, len(doc.FunctionalRequirements))
	for _, fr := range doc.FunctionalRequirements {
		t := taskFromFR(fr, doc)
		p.tasks = append(p.tasks, t)
		frTasks[fr.ID] = t.ID
	}

	inferDependencies(p, frTasks)
	assignStreams(p)

	return p
}

// taskFromFR converts a functional requirement into a task.
func taskFromFR(fr intake.FunctionalRequirement, doc *intake.Document) *Task {
	risk := assessRisk(fr, doc)
	return &Task{
		ID:                 NewTaskID(),
		Title:              fmt.Sprintf("Implement %s: %s", fr.ID, fr.Title),
		Description:        fr.Content,
		AcceptanceCriteria: deriveAcceptanceCriteria(fr, doc),
		EffortEstimate:     estimateEffort(fr.Content),
		RiskLevel:          risk,
		ValidationStrategy: firstPassStrategy(fr, risk),
		Dependencies:       []string{},
	}
}

// deriveAcceptanceCriteria joins the FR body with related user stories.
// A story relates when any of its words longer than four characters appears
// in the FR content.
func deriveAcceptanceCriteria(fr intake.FunctionalRequirement, doc *intake.Document) string {
	parts := []string{fr.Content}
	frLower := strings.ToLower(fr.Content)
	for _, us := range doc.UserStories {
		for _, word := range strings.Fields(strings.ToLower(us.Content)) {
			if len(word) > 4 && strings.Contains(frLower, word) {
				parts = append(parts, fmt.Sprintf("User story %s: %s", us.ID, us.Content))
				break
			}
		}
	}
	return strings.Join(parts, " | ")
}

// estimateEffort sizes a task from word and bullet counts.
func estimateEffort(content string) Effort {
	words := len(strings.Fields(content))
	bullets := strings.Count(content, "-") + strings.Count(content, "*")

	switch {
	case words < 20 && bullets <= 2:
		return EffortXS
	case words < 50 && bullets <= 4:
		return EffortS
	case words < 100 && bullets <= 6:
		return EffortM
	case words < 200:
		return EffortL
	default:
		return EffortXL
	}
}

// assessRisk matches risk title keywords (longer than three characters)
// against the FR content. High-severity risks win over medium.
func assessRisk(fr intake.FunctionalRequirement, doc *intake.Document) RiskLevel {
	frLower := strings.ToLower(fr.Content)
	matches := func(title string) bool {
		for _, word := range strings.Fields(strings.ToLower(title)) {
			if len(word) > 3 && strings.Contains(frLower, word) {
				return true
			}
		}
		return false
	}
	for _, r := range doc.Risks {
		if strings.EqualFold(r.Severity, "HIGH") && matches(r.Title) {
			return RiskHigh
		}
	}
	for _, r := range doc.Risks {
		if strings.EqualFold(r.Severity, "MEDIUM") && matches(r.Title) {
			return RiskMedium
		}
	}
	return RiskLow
}

// firstPassStrategy picks an initial validation strategy. The strategy
// assigner refines this later with its full rule set.
func firstPassStrategy(fr intake.FunctionalRequirement, risk RiskLevel) Strategy {
	if risk == RiskHigh {
		return TestFirst
	}
	content := strings.ToLower(fr.Content)
	if strings.Contains(content, "test") || strings.Contains(content, "verify") {
		return TestFirst
	}
	return TestAfter
}

// inferDependencies wires edges from explicit "Requires: FR-n" markers only.
// Prose references to other requirements are deliberately not inferred.
func inferDependencies(p *TaskPlan, frTasks map[string]string) {
	for _, t := range p.tasks {
		for _, m := range requiresRe.FindAllStringSubmatch(t.Description, -1) {
			depID, ok := frTasks[m[1]]
			if !ok || depID == t.ID {
				continue
			}
			already := false
			for _, d := range t.Dependencies {
				if d == depID {
					already = true
					break
				}
			}
			if !already {
				t.Dependencies = append(t.Dependencies, depID)
			}
		}
	}
}

// assignStreams seeds a stream per root task, then propagates each dependent
// task into its first dependency's stream.
func assignStreams(p *TaskPlan) {
	counter := 1
	assigned := make(map[string]bool, len(p.tasks))

	for _, t := range p.tasks {
		if len(t.Dependencies) == 0 {
			t.StreamID = fmt.Sprintf("stream-%d", counter)
			counter++
			assigned[t.ID] = true
		}
	}

	for _, t := range p.tasks {
		if assigned[t.ID] {
			continue
		}
		if len(t.Dependencies) > 0 {
			if dep := p.findLocked(t.Dependencies[0]); dep != nil && dep.StreamID != "" {
				t.StreamID = dep.StreamID
			} else {
				t.StreamID = fmt.Sprintf("stream-%d", counter)
				counter++
			}
		} else {
			t.StreamID = fmt.Sprintf("stream-%d", counter)
			counter++
		}
		assigned[t.ID] = true
	}
}
