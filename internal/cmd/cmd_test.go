package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/planforge/planforge/internal/exitcode"
	"github.com/planforge/planforge/internal/plan"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	assessJSONFlag = false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spec.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const smallSpec = `# PRD: Webhook Relay

## Executive Summary
Relay webhooks to internal consumers.

## Functional Requirements

### FR-1: Receive Webhooks
- Accept POST payloads

### FR-2: Forward Webhooks
- Deliver payloads to subscribers
- Requires: FR-1
`

func TestAssessSmallSpec(t *testing.T) {
	out, err := runCLI(t, "assess", "--spec", writeSpec(t, smallSpec))
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if !strings.Contains(out, "single-agent") {
		t.Errorf("expected single-agent recommendation, got:\n%s", out)
	}
	if !strings.Contains(out, "Fast path eligible") {
		t.Errorf("expected fast path note, got:\n%s", out)
	}
}

func TestAssessBroadSpecNeedsAlignment(t *testing.T) {
	var b strings.Builder
	b.WriteString("# PRD: Everything Platform\n\n## Functional Requirements\n\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "### FR-%d: Feature %d\n- Build feature %d\n\n", i, i, i)
	}

	out, err := runCLI(t, "assess", "--spec", writeSpec(t, b.String()))
	if !errors.Is(err, exitcode.ErrNeedsAlignment) {
		t.Fatalf("expected ErrNeedsAlignment, got %v", err)
	}
	if !strings.Contains(out, "decomposition-required") {
		t.Errorf("expected decomposition-required in output:\n%s", out)
	}
}

func TestAssessJSON(t *testing.T) {
	out, err := runCLI(t, "assess", "--spec", writeSpec(t, smallSpec), "--json")
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if !strings.Contains(out, `"recommendation"`) {
		t.Errorf("expected JSON output, got:\n%s", out)
	}
}

func TestAssessMissingSpecFile(t *testing.T) {
	_, err := runCLI(t, "assess", "--spec", filepath.Join(t.TempDir(), "absent.md"))
	if err == nil {
		t.Fatal("expected error for missing spec file")
	}
}

func TestPlanCheckValid(t *testing.T) {
	tp := plan.New("claude-3-opus", len(smallSpec))
	a := &plan.Task{
		ID: "task-recv", Title: "Receive webhooks",
		AcceptanceCriteria: "payloads accepted",
		EffortEstimate:     plan.EffortS,
		RiskLevel:          plan.RiskLow,
		ValidationStrategy: plan.TestAfter,
		Dependencies:       []string{},
	}
	b := &plan.Task{
		ID: "task-fwd", Title: "Forward webhooks",
		AcceptanceCriteria: "payloads delivered",
		EffortEstimate:     plan.EffortS,
		RiskLevel:          plan.RiskLow,
		ValidationStrategy: plan.TestAfter,
		Dependencies:       []string{"task-recv"},
	}
	if err := tp.AddTask(a); err != nil {
		t.Fatal(err)
	}
	if err := tp.AddTask(b); err != nil {
		t.Fatal(err)
	}
	data, err := tp.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "plan", "check", "--plan", path)
	if err != nil {
		t.Fatalf("plan check failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Plan is valid: 2 tasks") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestPlanCheckRejectsCycle(t *testing.T) {
	raw := `{
		"llm_model": "claude-3-opus",
		"spec_length_used": 100,
		"created_at": "2026-01-01T00:00:00Z",
		"approved": false,
		"tasks": [
			{"id": "task-a", "title": "A", "dependencies": ["task-b"],
			 "effort_estimate": "S", "risk_level": "low", "validation_strategy": "test-after"},
			{"id": "task-b", "title": "B", "dependencies": ["task-a"],
			 "effort_estimate": "S", "risk_level": "low", "validation_strategy": "test-after"}
		]
	}`
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "plan", "check", "--plan", path)
	if err == nil {
		t.Fatalf("expected validation failure, output:\n%s", out)
	}
	if !strings.Contains(err.Error(), "failed validation") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestControlPauseThenResume(t *testing.T) {
	dir := t.TempDir()

	tp := plan.New("claude-3-opus", 100)
	task := &plan.Task{
		ID: "task-one", Title: "One",
		EffortEstimate:     plan.EffortS,
		RiskLevel:          plan.RiskLow,
		ValidationStrategy: plan.TestAfter,
		Dependencies:       []string{},
	}
	if err := tp.AddTask(task); err != nil {
		t.Fatal(err)
	}
	data, err := tp.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	planPath := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(planPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.json")
	cfgJSON := fmt.Sprintf(`{"paths": {"state_path": %q}}`,
		filepath.Join(dir, "state.json"))
	if err := os.WriteFile(cfgPath, []byte(cfgJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	base := []string{"--plan", planPath, "--config", cfgPath}

	if out, err := runCLI(t, append([]string{"control", "approve"}, base...)...); err != nil {
		t.Fatalf("approve failed: %v\n%s", err, out)
	}
	if out, err := runCLI(t, append([]string{"control", "pause", "--reason", "lunch"}, base...)...); err != nil {
		t.Fatalf("pause failed: %v\n%s", err, out)
	}

	// Loading state for the next invocation must leave the run paused,
	// so resume succeeds.
	out, err := runCLI(t, append([]string{"control", "resume"}, base...)...)
	if err != nil {
		t.Fatalf("resume failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Execution resumed") {
		t.Errorf("unexpected resume output:\n%s", out)
	}
}

func TestPlanCheckMissingFile(t *testing.T) {
	_, err := runCLI(t, "plan", "check", "--plan", filepath.Join(t.TempDir(), "absent.json"))
	if err == nil || !strings.Contains(err.Error(), "reading plan file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
