package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Dispatch.Model = "claude-3-haiku"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if loaded.Dispatch.Model != "claude-3-haiku" {
		t.Errorf("model = %q, want claude-3-haiku", loaded.Dispatch.Model)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Dispatch.MaxRetries = 5
	cfg.Guard.BaseThreshold = 20
	cfg.Parallel.BranchPattern = "stack"
	cfg.Paths.DatabasePath = filepath.Join(tmpDir, "data", "planforge.db")

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Dispatch.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", loaded.Dispatch.MaxRetries)
	}
	if loaded.Guard.BaseThreshold != 20 {
		t.Errorf("base threshold = %d, want 20", loaded.Guard.BaseThreshold)
	}
	if loaded.Parallel.BranchPattern != "stack" {
		t.Errorf("branch pattern = %q, want stack", loaded.Parallel.BranchPattern)
	}
	if loaded.Paths.DatabasePath != cfg.Paths.DatabasePath {
		t.Errorf("database path = %q, want %q", loaded.Paths.DatabasePath, cfg.Paths.DatabasePath)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	first := DefaultConfig()
	first.Dispatch.Model = "first-model"
	if err := Save(first, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := DefaultConfig()
	second.Dispatch.Model = "second-model"
	if err := Save(second, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Dispatch.Model != "second-model" {
		t.Errorf("model = %q, want second-model", loaded.Dispatch.Model)
	}
}
