package probe

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// setupTestRepo creates a temporary git repository with one commit on main.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	repoPath := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %s failed: %v (output: %s)", args[0], err, string(output))
		}
	}

	run("init")
	run("config", "user.name", "Test User")
	run("config", "user.email", "test@example.com")
	run("checkout", "-b", "main")

	if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# Test Repo\n"), 0o644); err != nil {
		t.Fatalf("failed to write initial file: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")

	return repoPath
}

func commitFile(t *testing.T, repoPath, name, content, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(repoPath, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", message}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %s failed: %v (output: %s)", args[0], err, string(output))
		}
	}
}

func checkout(t *testing.T, repoPath string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"checkout"}, args...)...)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git checkout failed: %v (output: %s)", err, string(output))
	}
}

func TestCurrentBranchAndHead(t *testing.T) {
	repoPath := setupTestRepo(t)
	repo := NewRepo(repoPath)

	branch, err := repo.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "main" {
		t.Errorf("branch = %q, want main", branch)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if len(head) != 40 {
		t.Errorf("head = %q, want full commit hash", head)
	}
}

func TestIsClean(t *testing.T) {
	repoPath := setupTestRepo(t)
	repo := NewRepo(repoPath)

	clean, err := repo.IsClean()
	if err != nil {
		t.Fatalf("IsClean: %v", err)
	}
	if !clean {
		t.Error("fresh repo should be clean")
	}

	if err := os.WriteFile(filepath.Join(repoPath, "dirty.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = repo.IsClean()
	if err != nil {
		t.Fatalf("IsClean: %v", err)
	}
	if clean {
		t.Error("repo with untracked file should not be clean")
	}
}

func TestAheadBehind(t *testing.T) {
	repoPath := setupTestRepo(t)
	repo := NewRepo(repoPath)

	checkout(t, repoPath, "-b", "feature/stream-1")
	commitFile(t, repoPath, "feature.go", "package feature\n", "add feature")
	commitFile(t, repoPath, "feature2.go", "package feature\n", "extend feature")

	ahead, behind, err := repo.AheadBehind("main")
	if err != nil {
		t.Fatalf("AheadBehind: %v", err)
	}
	if ahead != 2 || behind != 0 {
		t.Errorf("ahead = %d behind = %d, want 2 and 0", ahead, behind)
	}

	// Advance main so the feature branch falls behind.
	checkout(t, repoPath, "main")
	commitFile(t, repoPath, "main.go", "package main\n", "main work")
	checkout(t, repoPath, "feature/stream-1")

	ahead, behind, err = repo.AheadBehind("main")
	if err != nil {
		t.Fatalf("AheadBehind: %v", err)
	}
	if ahead != 2 || behind != 1 {
		t.Errorf("ahead = %d behind = %d, want 2 and 1", ahead, behind)
	}
}

func TestChangedFiles(t *testing.T) {
	repoPath := setupTestRepo(t)
	repo := NewRepo(repoPath)

	checkout(t, repoPath, "-b", "feature/stream-1")
	commitFile(t, repoPath, "api.go", "package api\n", "add api")
	commitFile(t, repoPath, "handler.go", "package api\n", "add handler")

	files, err := repo.ChangedFiles("main")
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2 entries", files)
	}
}

func TestBranchExists(t *testing.T) {
	repoPath := setupTestRepo(t)
	repo := NewRepo(repoPath)

	if !repo.BranchExists("main") {
		t.Error("main should exist")
	}
	if repo.BranchExists("feature/ghost") {
		t.Error("nonexistent branch reported as existing")
	}
}

func TestOverlapWithBase(t *testing.T) {
	repoPath := setupTestRepo(t)
	repo := NewRepo(repoPath)

	checkout(t, repoPath, "-b", "feature/stream-1")
	commitFile(t, repoPath, "shared.go", "package shared\n", "touch shared file")

	overlap, err := repo.OverlapWithBase("main", []string{"shared.go", "unrelated.go"})
	if err != nil {
		t.Fatalf("OverlapWithBase: %v", err)
	}
	if len(overlap) != 1 || overlap[0] != "shared.go" {
		t.Errorf("overlap = %v, want [shared.go]", overlap)
	}
}
