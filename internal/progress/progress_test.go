package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/events"
	"github.com/planforge/planforge/internal/plan"
)

func trackerPlan(t *testing.T, ids ...string) *plan.TaskPlan {
	t.Helper()
	tp := plan.New("claude-3-opus", 1000)
	for _, id := range ids {
		task := &plan.Task{ID: id, Title: "Task " + id}
		if err := tp.AddTask(task); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	return tp
}

func newTracker(t *testing.T, ids ...string) *Tracker {
	t.Helper()
	return New(trackerPlan(t, ids...),
		WithStatePath(filepath.Join(t.TempDir(), "progress_state.json")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestFirstRunningSetsStartAndAttempt(t *testing.T) {
	tr := newTracker(t, "a")

	tr.UpdateTaskStatus("a", dispatch.StatusRunning, "")
	ts, ok := tr.TaskStatus("a")
	if !ok {
		t.Fatal("task a not tracked")
	}
	if ts.StartedAt == nil {
		t.Error("StartedAt not set on first running transition")
	}
	if ts.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", ts.AttemptCount)
	}

	first := *ts.StartedAt
	tr.UpdateTaskStatus("a", dispatch.StatusFailed, "boom")
	tr.UpdateTaskStatus("a", dispatch.StatusRunning, "")
	ts, _ = tr.TaskStatus("a")
	if !ts.StartedAt.Equal(first) {
		t.Error("StartedAt changed on second running transition")
	}
	if ts.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d after re-run, want 1", ts.AttemptCount)
	}
	if ts.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q, want boom", ts.ErrorMessage)
	}
}

func TestCompletedAtRecordedOnce(t *testing.T) {
	tr := newTracker(t, "a")
	tr.UpdateTaskStatus("a", dispatch.StatusRunning, "")
	tr.UpdateTaskStatus("a", dispatch.StatusFailed, "first failure")
	ts, _ := tr.TaskStatus("a")
	if ts.CompletedAt == nil {
		t.Fatal("CompletedAt not set on failed")
	}
	first := *ts.CompletedAt

	tr.UpdateTaskStatus("a", dispatch.StatusCompleted, "")
	ts, _ = tr.TaskStatus("a")
	if !ts.CompletedAt.Equal(first) {
		t.Error("CompletedAt overwritten by later terminal transition")
	}
}

func TestTimelineRecordsTransitions(t *testing.T) {
	tr := newTracker(t, "a", "b")
	tr.UpdateTaskStatus("a", dispatch.StatusRunning, "")
	tr.UpdateTaskStatus("a", dispatch.StatusCompleted, "")
	tr.UpdateTaskStatus("b", dispatch.StatusRunning, "")

	report := tr.Report()
	if len(report.Timeline) != 3 {
		t.Fatalf("timeline length = %d, want 3", len(report.Timeline))
	}
	first := report.Timeline[0]
	if first.TaskID != "a" || first.OldStatus != dispatch.StatusQueued || first.NewStatus != dispatch.StatusRunning {
		t.Errorf("unexpected first timeline entry: %+v", first)
	}
	second := report.Timeline[1]
	if second.OldStatus != dispatch.StatusRunning || second.NewStatus != dispatch.StatusCompleted {
		t.Errorf("unexpected second timeline entry: %+v", second)
	}
}

func TestUnknownTaskIgnored(t *testing.T) {
	tr := newTracker(t, "a")
	tr.UpdateTaskStatus("ghost", dispatch.StatusRunning, "")
	if _, ok := tr.TaskStatus("ghost"); ok {
		t.Error("unknown task was tracked")
	}
	if len(tr.Report().Timeline) != 0 {
		t.Error("timeline entry recorded for unknown task")
	}
}

func TestReportCounts(t *testing.T) {
	tr := newTracker(t, "a", "b", "c", "d")
	tr.UpdateTaskStatus("a", dispatch.StatusCompleted, "")
	tr.UpdateTaskStatus("b", dispatch.StatusRunning, "")
	tr.UpdateTaskStatus("c", dispatch.StatusFailed, "err")
	tr.MarkSkipped("a")

	report := tr.Report()
	if report.TotalTasks != 4 {
		t.Errorf("TotalTasks = %d, want 4", report.TotalTasks)
	}
	if report.Completed != 1 || report.Running != 1 || report.Failed != 1 || report.Queued != 1 {
		t.Errorf("counts = completed %d running %d failed %d queued %d",
			report.Completed, report.Running, report.Failed, report.Queued)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if len(report.TaskStatuses) != 4 {
		t.Errorf("TaskStatuses length = %d, want 4", len(report.TaskStatuses))
	}
}

func TestTasksByStatus(t *testing.T) {
	tr := newTracker(t, "a", "b", "c")
	tr.UpdateTaskStatus("b", dispatch.StatusRunning, "")

	queued := tr.TasksByStatus(dispatch.StatusQueued)
	if len(queued) != 2 {
		t.Fatalf("queued = %d, want 2", len(queued))
	}
	if queued[0].TaskID != "a" || queued[1].TaskID != "c" {
		t.Errorf("queued order = %s, %s", queued[0].TaskID, queued[1].TaskID)
	}
}

func TestLogFiltering(t *testing.T) {
	tr := newTracker(t, "a", "b")
	tr.Log(LevelInfo, "setup", "", "", nil)
	tr.Log(LevelInfo, "working on a", "a", "", nil)
	tr.Log(LevelError, "a broke", "a", "", nil)
	tr.Log(LevelInfo, "working on b", "b", "", nil)

	byTask := tr.Logs("a", "", 0)
	if len(byTask) != 2 {
		t.Fatalf("logs for a = %d, want 2", len(byTask))
	}
	byLevel := tr.Logs("", LevelError, 0)
	if len(byLevel) != 1 || byLevel[0].Message != "a broke" {
		t.Errorf("error logs = %+v", byLevel)
	}
	limited := tr.Logs("", "", 2)
	if len(limited) != 2 || limited[1].Message != "working on b" {
		t.Errorf("limited logs should keep the most recent entries: %+v", limited)
	}
}

func TestHighVolumeWarningOnce(t *testing.T) {
	var mu sync.Mutex
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(lockedWriter{&mu, &buf}, nil))

	tr := New(trackerPlan(t, "a"),
		WithStatePath(filepath.Join(t.TempDir(), "state.json")),
		WithLogger(logger))

	for i := 0; i < highVolumeThreshold+10; i++ {
		tr.Log(LevelDebug, fmt.Sprintf("entry %d", i), "a", "", nil)
	}

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	if n := strings.Count(out, "High log volume detected - may indicate workflow issue"); n != 1 {
		t.Errorf("high volume warning emitted %d times, want 1", n)
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestBranchStatusPartialUpdate(t *testing.T) {
	tr := newTracker(t, "a")
	ready := true
	tr.UpdateBranchStatus("feature/stream-1", BranchUpdate{TaskIDs: []string{"a"}})
	tr.UpdateBranchStatus("feature/stream-1", BranchUpdate{IsReadyToMerge: &ready})

	report := tr.Report()
	if len(report.BranchStatuses) != 1 {
		t.Fatalf("branches = %d, want 1", len(report.BranchStatuses))
	}
	bs := report.BranchStatuses[0]
	if !bs.IsReadyToMerge {
		t.Error("IsReadyToMerge not updated")
	}
	if len(bs.TaskIDs) != 1 || bs.TaskIDs[0] != "a" {
		t.Errorf("TaskIDs lost on partial update: %v", bs.TaskIDs)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	tp := trackerPlan(t, "a", "b")
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	tr := New(tp, WithStatePath(statePath), WithLogger(quiet))
	tr.UpdateTaskStatus("a", dispatch.StatusRunning, "")
	tr.UpdateTaskStatus("a", dispatch.StatusCompleted, "")
	ready := true
	tr.UpdateBranchStatus("feature/stream-1", BranchUpdate{IsReadyToMerge: &ready})
	tr.UpdateTaskStatus("b", dispatch.StatusRunning, "")

	restored := New(trackerPlan(t, "a", "b"), WithStatePath(statePath), WithLogger(quiet))
	if !restored.LoadState() {
		t.Fatal("LoadState returned false")
	}
	ts, _ := restored.TaskStatus("a")
	if ts.Status != dispatch.StatusCompleted || ts.AttemptCount != 1 || ts.CompletedAt == nil {
		t.Errorf("restored status a = %+v", ts)
	}
	report := restored.Report()
	if len(report.Timeline) != 3 {
		t.Errorf("restored timeline = %d entries, want 3", len(report.Timeline))
	}
	if len(report.BranchStatuses) != 1 || !report.BranchStatuses[0].IsReadyToMerge {
		t.Errorf("restored branches = %+v", report.BranchStatuses)
	}
}

func TestLoadStateToleratesBadFile(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := New(trackerPlan(t, "a"),
		WithStatePath(statePath),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if tr.LoadState() {
		t.Error("LoadState succeeded on malformed file")
	}
	if ts, _ := tr.TaskStatus("a"); ts.Status != dispatch.StatusQueued {
		t.Error("tracker state mutated by failed load")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("task-%02d", i)
	}
	tr := newTracker(t, ids...)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tr.UpdateTaskStatus(id, dispatch.StatusRunning, "")
			tr.UpdateTaskStatus(id, dispatch.StatusCompleted, "")
		}(id)
	}
	wg.Wait()

	report := tr.Report()
	if report.Completed != len(ids) {
		t.Errorf("Completed = %d, want %d", report.Completed, len(ids))
	}
	if len(report.Timeline) != 2*len(ids) {
		t.Errorf("timeline = %d entries, want %d", len(report.Timeline), 2*len(ids))
	}
}

func TestWatchConsumesBusEvents(t *testing.T) {
	tr := newTracker(t, "a")
	bus := events.NewBus()
	defer bus.Close()
	stop := tr.Watch(bus)
	defer stop()

	bus.Publish(events.TopicTask, events.TaskStatusEvent{
		ID:        "a",
		Status:    string(dispatch.StatusRunning),
		Timestamp: time.Now(),
	})

	deadline := time.After(2 * time.Second)
	for {
		if ts, _ := tr.TaskStatus("a"); ts.Status == dispatch.StatusRunning {
			if ts.AttemptCount != 1 {
				t.Errorf("AttemptCount = %d, want 1", ts.AttemptCount)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("task status never updated from bus event")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRenderStatus(t *testing.T) {
	tr := newTracker(t, "a", "b")
	tr.UpdateTaskStatus("a", dispatch.StatusCompleted, "")
	tr.UpdateTaskStatus("b", dispatch.StatusFailed, "compile error")

	out := RenderStatus(tr.Report())
	if !strings.Contains(out, "EXECUTION STATUS") {
		t.Error("missing banner")
	}
	if !strings.Contains(out, "Total: 2 | Completed: 1 | Running: 0 | Queued: 0 | Failed: 1") {
		t.Errorf("missing summary line:\n%s", out)
	}
	if !strings.Contains(out, "✓") || !strings.Contains(out, "✗") {
		t.Error("missing status icons")
	}
	if !strings.Contains(out, "Error: compile error") {
		t.Error("missing error detail")
	}
}

func TestRenderLogs(t *testing.T) {
	tr := newTracker(t, "a")
	tr.Log(LevelWarning, "something odd", "a", "", nil)

	out := RenderLogs(tr.Logs("", "", 50), 50)
	if !strings.Contains(out, "EXECUTION LOGS (last 50)") {
		t.Error("missing banner")
	}
	if !strings.Contains(out, "WARNING [a] something odd") {
		t.Errorf("missing formatted entry:\n%s", out)
	}
}
