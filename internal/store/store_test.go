package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/parallel"
	"github.com/planforge/planforge/internal/plan"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePlan(t *testing.T) *plan.TaskPlan {
	t.Helper()
	tp := plan.New("claude-3-opus", 2048)
	tasks := []*plan.Task{
		{
			ID:                 "task-a",
			Title:              "Set up data model",
			Description:        "Define core types",
			AcceptanceCriteria: "Types compile",
			EffortEstimate:     plan.EffortS,
			RiskLevel:          plan.RiskLow,
			ValidationStrategy: plan.TestFirst,
			StreamID:           "stream-1",
		},
		{
			ID:                 "task-b",
			Title:              "Build API layer",
			EffortEstimate:     plan.EffortM,
			RiskLevel:          plan.RiskMedium,
			ValidationStrategy: plan.TestAfter,
			Dependencies:       []string{"task-a"},
			StreamID:           "stream-1",
		},
		{
			ID:                 "task-c",
			Title:              "Write docs",
			EffortEstimate:     plan.EffortXS,
			RiskLevel:          plan.RiskLow,
			ValidationStrategy: plan.TestNone,
			StreamID:           "stream-2",
		},
	}
	for _, task := range tasks {
		if err := tp.AddTask(task); err != nil {
			t.Fatalf("AddTask(%s): %v", task.ID, err)
		}
	}
	return tp
}

func TestSavePlanLoadPlanRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	tp := samplePlan(t)
	if result := tp.Approve(); !result.Validated {
		t.Fatalf("approve failed: %v", result.Errors)
	}

	if err := s.SavePlan(ctx, "plan-1", tp); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	loaded, err := s.LoadPlan(ctx, "plan-1")
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}

	if loaded.Model() != "claude-3-opus" || loaded.SpecLengthUsed() != 2048 {
		t.Errorf("provenance lost: model %q length %d", loaded.Model(), loaded.SpecLengthUsed())
	}
	if !loaded.Approved() {
		t.Error("approval flag not restored")
	}
	tasks := loaded.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("loaded %d tasks, want 3", len(tasks))
	}
	if tasks[0].ID != "task-a" || tasks[1].ID != "task-b" || tasks[2].ID != "task-c" {
		t.Errorf("task order = %s, %s, %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
	b := tasks[1]
	if len(b.Dependencies) != 1 || b.Dependencies[0] != "task-a" {
		t.Errorf("task-b dependencies = %v", b.Dependencies)
	}
	if b.EffortEstimate != plan.EffortM || b.RiskLevel != plan.RiskMedium || b.ValidationStrategy != plan.TestAfter {
		t.Errorf("task-b enums not restored: %+v", b)
	}
	if tasks[0].StreamID != "stream-1" || tasks[2].StreamID != "stream-2" {
		t.Error("stream assignments not restored")
	}
}

func TestSavePlanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	tp := samplePlan(t)

	if err := s.SavePlan(ctx, "plan-1", tp); err != nil {
		t.Fatalf("first save: %v", err)
	}
	tp.UpdateTask("task-c", func(task *plan.Task) {
		task.Title = "Write user docs"
	})
	if err := s.SavePlan(ctx, "plan-1", tp); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := s.LoadPlan(ctx, "plan-1")
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded.Len() != 3 {
		t.Errorf("task count after resave = %d, want 3", loaded.Len())
	}
	task, _ := loaded.Task("task-c")
	if task.Title != "Write user docs" {
		t.Errorf("task-c title = %q", task.Title)
	}
}

func TestLoadPlanNotFound(t *testing.T) {
	s := memStore(t)
	_, err := s.LoadPlan(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "plan not found") {
		t.Errorf("err = %v, want plan not found", err)
	}
}

func TestListPlanIDs(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	if err := s.SavePlan(ctx, "plan-1", samplePlan(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePlan(ctx, "plan-2", samplePlan(t)); err != nil {
		t.Fatal(err)
	}
	ids, err := s.ListPlanIDs(ctx)
	if err != nil {
		t.Fatalf("ListPlanIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 entries", ids)
	}
}

func TestConflictLedgerAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	ledger := s.Ledger(ctx)

	for i := 0; i < 5; i++ {
		rec := parallel.ConflictRecord{
			FilePath:   fmt.Sprintf("internal/api/handler%d.go", i),
			StreamA:    "stream-1",
			StreamB:    "stream-2",
			RecordedAt: time.Now().UTC(),
		}
		if err := ledger.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Same file conflicting again must not duplicate contested entries.
	if err := ledger.Append(parallel.ConflictRecord{
		FilePath:   "internal/api/handler0.go",
		StreamA:    "stream-1",
		StreamB:    "stream-3",
		RecordedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	all, err := ledger.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("all = %d records, want 6", len(all))
	}
	if all[0].FilePath != "internal/api/handler0.go" {
		t.Errorf("oldest first expected, got %s", all[0].FilePath)
	}

	recent, err := ledger.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent = %d records, want 3", len(recent))
	}
	if recent[2].FilePath != "internal/api/handler0.go" || recent[2].StreamB != "stream-3" {
		t.Errorf("most recent record wrong: %+v", recent[2])
	}

	contested, err := ledger.ContestedFiles()
	if err != nil {
		t.Fatalf("ContestedFiles: %v", err)
	}
	if len(contested) != 5 {
		t.Fatalf("contested = %v, want 5 distinct files", contested)
	}
	if contested[0] != "internal/api/handler0.go" {
		t.Errorf("contested order = %v", contested)
	}
}

func TestLedgerDrivesAdvisor(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	advisor := parallel.NewAdvisor(s.Ledger(ctx))

	for i := 0; i < 6; i++ {
		err := advisor.RecordConflict(fmt.Sprintf("pkg/file%d.go", i), "stream-1", "stream-2", "")
		if err != nil {
			t.Fatalf("RecordConflict: %v", err)
		}
	}

	triggered, _ := advisor.CheckExcessiveConflicts()
	if !triggered {
		t.Error("excessive conflicts not detected from durable ledger")
	}
}

func TestSessionSaveAndReplace(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)

	if err := s.SaveSession(ctx, "task-a", "agent-0a1b2c3d", "claude", "claude-3-opus"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveSession(ctx, "task-a", "agent-9f8e7d6c", "claude", "claude-3-opus"); err != nil {
		t.Fatalf("SaveSession replace: %v", err)
	}

	agentID, runtime, model, err := s.Session(ctx, "task-a")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if agentID != "agent-9f8e7d6c" || runtime != "claude" || model != "claude-3-opus" {
		t.Errorf("session = %s %s %s", agentID, runtime, model)
	}
}

func TestSessionNotFound(t *testing.T) {
	s := memStore(t)
	_, _, _, err := s.Session(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("err = %v, want session not found", err)
	}
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "planforge.db")
	s, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.SavePlan(ctx, "plan-1", samplePlan(t)); err != nil {
		t.Fatalf("SavePlan on file-backed store: %v", err)
	}
	if _, err := s.LoadPlan(ctx, "plan-1"); err != nil {
		t.Fatalf("LoadPlan on file-backed store: %v", err)
	}
}
