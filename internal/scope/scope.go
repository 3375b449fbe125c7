// Package scope analyzes a parsed specification and recommends an execution
// scope: single-agent, multi-agent, or decomposition-required.
package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/planforge/planforge/internal/intake"
)

// Recommendation is the recommended execution scope.
type Recommendation string

const (
	SingleAgent           Recommendation = "single-agent"
	MultiAgent            Recommendation = "multi-agent"
	DecompositionRequired Recommendation = "decomposition-required"
)

// Confidence is the confidence level of a recommendation.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// OriginKind discriminates how the assessment was produced.
type OriginKind string

const (
	// OriginModel means a model analyst attribution was obtained in time.
	OriginModel OriginKind = "model"
	// OriginHeuristic means the analyst was unavailable, timed out, or
	// errored, and the built-in heuristics stand alone.
	OriginHeuristic OriginKind = "heuristic"
)

// Origin records the provenance of an assessment.
type Origin struct {
	Kind  OriginKind `json:"kind"`
	Model string     `json:"model"`
}

// Assessment is the result of scope analysis.
type Assessment struct {
	Recommendation   Recommendation `json:"recommendation"`
	Confidence       Confidence     `json:"confidence"`
	Explanation      string         `json:"explanation"`
	EffortEstimate   string         `json:"effort_estimate"` // XS, S, M, L, XL
	FastPathEligible bool           `json:"fast_path_eligible"`
	SingleIssue      bool           `json:"single_issue"`
	Origin           Origin         `json:"origin"`
	SpecLengthUsed   int            `json:"spec_length_used"`
	AssessedAt       time.Time      `json:"assessed_at"`
}

// ToJSON serializes the assessment.
func (a Assessment) ToJSON() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Analyst supplies model attribution for an assessment. Implementations may
// consult an external model; the heuristics below never depend on one.
type Analyst interface {
	Model(ctx context.Context, doc *intake.Document) (string, error)
}

// StaticAnalyst always attributes assessments to a fixed model name.
type StaticAnalyst struct {
	Name string
}

func (s StaticAnalyst) Model(ctx context.Context, doc *intake.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Name, nil
}

// Assessor recommends execution scope for parsed specifications.
type Assessor struct {
	analyst Analyst
	timeout time.Duration
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithAnalyst sets the model analyst collaborator.
func WithAnalyst(a Analyst) Option {
	return func(as *Assessor) { as.analyst = a }
}

// WithTimeout bounds how long the analyst may take before the assessment
// degrades to heuristics.
func WithTimeout(d time.Duration) Option {
	return func(as *Assessor) { as.timeout = d }
}

// NewAssessor creates an Assessor. Without options it runs pure heuristics.
func NewAssessor(opts ...Option) *Assessor {
	a := &Assessor{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var vagueTerms = []string{"better", "faster", "nicer", "improve", "fix", "good"}

// Assess analyzes the document and recommends a scope. An unavailable or
// failing analyst never surfaces as an error: the result degrades to
// heuristic origin with a low-commitment answer instead.
func (a *Assessor) Assess(ctx context.Context, doc *intake.Document) Assessment {
	frCount := len(doc.FunctionalRequirements)
	riskCount := len(doc.Risks)
	highRiskCount := 0
	for _, r := range doc.Risks {
		if strings.EqualFold(r.Severity, "HIGH") {
			highRiskCount++
		}
	}
	depCount := len(doc.Dependencies.Required)

	vague := isVague(doc)
	rec, conf, effort := calculateScope(frCount, highRiskCount, depCount, vague)
	fastPath := rec == SingleAgent && conf == ConfidenceHigh

	return Assessment{
		Recommendation:   rec,
		Confidence:       conf,
		Explanation:      buildExplanation(frCount, depCount, riskCount, highRiskCount, rec),
		EffortEstimate:   effort,
		FastPathEligible: fastPath,
		SingleIssue:      fastPath,
		Origin:           a.origin(ctx, doc),
		SpecLengthUsed:   len(doc.RawContent),
		AssessedAt:       time.Now().UTC(),
	}
}

// origin asks the analyst for attribution, degrading to heuristic origin on
// any failure or timeout.
func (a *Assessor) origin(ctx context.Context, doc *intake.Document) Origin {
	if a.analyst == nil || a.timeout <= time.Millisecond {
		return Origin{Kind: OriginHeuristic, Model: "heuristic"}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	model, err := a.analyst.Model(ctx, doc)
	if err != nil || model == "" {
		return Origin{Kind: OriginHeuristic, Model: "heuristic"}
	}
	return Origin{Kind: OriginModel, Model: model}
}

// isVague reports whether the spec reads as vague: two or more vague terms
// and no FR or user-story structure at all.
func isVague(doc *intake.Document) bool {
	content := strings.ToLower(doc.RawContent)
	hits := 0
	for _, term := range vagueTerms {
		if strings.Contains(content, term) {
			hits++
		}
	}
	hasStructure := len(doc.FunctionalRequirements) > 0 || len(doc.UserStories) > 0
	return hits >= 2 && !hasStructure
}

func calculateScope(frCount, highRiskCount, depCount int, vague bool) (Recommendation, Confidence, string) {
	if vague {
		return SingleAgent, ConfidenceLow, "S"
	}

	if frCount >= 10 || highRiskCount >= 2 {
		return DecompositionRequired, ConfidenceHigh, "XL"
	}

	if frCount >= 4 || depCount >= 4 {
		conf := ConfidenceHigh
		if depCount >= 4 {
			conf = ConfidenceMedium
		}
		effort := "M"
		if frCount >= 6 {
			effort = "L"
		}
		return MultiAgent, conf, effort
	}

	if frCount <= 2 {
		effort := "S"
		if frCount == 1 {
			effort = "XS"
		}
		return SingleAgent, ConfidenceHigh, effort
	}

	return MultiAgent, ConfidenceMedium, "M"
}

func buildExplanation(frCount, depCount, riskCount, highRiskCount int, rec Recommendation) string {
	parts := []string{fmt.Sprintf("Found %d functional requirement(s)", frCount)}

	if depCount > 0 {
		parts = append(parts, fmt.Sprintf("%d external dependency/integration(s)", depCount))
	}
	if riskCount > 0 {
		desc := fmt.Sprintf("%d risk(s) identified", riskCount)
		if highRiskCount > 0 {
			desc += fmt.Sprintf(" (%d high severity)", highRiskCount)
		}
		parts = append(parts, desc)
	}

	switch rec {
	case SingleAgent:
		parts = append(parts, "Scope is appropriate for single-agent execution")
	case MultiAgent:
		parts = append(parts, "Multiple agents recommended due to complexity")
	default:
		parts = append(parts, "Task decomposition required for this scope")
	}

	return strings.Join(parts, ". ") + "."
}
