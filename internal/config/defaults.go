package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultConfig returns the built-in defaults. Paths follow the XDG base
// directory layout.
func DefaultConfig() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			Runtime:        "claude",
			Model:          "claude-3-opus",
			TimeoutSeconds: 3600,
			MaxRetries:     3,
		},
		Guard: GuardConfig{
			BaseThreshold: 10,
			TasksPerFR:    3.0,
		},
		Parallel: ParallelConfig{
			BranchPattern:     "feature",
			ConflictThreshold: 0.3,
			BaseBranch:        "main",
		},
		Paths: PathsConfig{
			StatePath:    filepath.Join(xdg.StateHome, "planforge", "execution_state.json"),
			DatabasePath: filepath.Join(xdg.DataHome, "planforge", "planforge.db"),
		},
	}
}

// GlobalConfigPath returns the conventional per-user config location.
func GlobalConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "planforge", "config.json")
}

// ProjectConfigPath returns the conventional per-project config location,
// relative to the working directory.
func ProjectConfigPath() string {
	return filepath.Join(".planforge", "config.json")
}
