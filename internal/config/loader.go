package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Project config has the highest precedence
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from the conventional XDG and project
// paths.
func LoadDefault() (*Config, error) {
	return Load(GlobalConfigPath(), ProjectConfigPath())
}

// mergeConfigFile overlays a JSON config file onto the base config. Fields
// absent from the file keep their current values. Missing files are
// silently skipped; malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Dispatch.Runtime == "" {
		return fmt.Errorf("dispatch.runtime must not be empty")
	}
	if c.Dispatch.TimeoutSeconds <= 0 {
		return fmt.Errorf("dispatch.timeout_seconds must be positive, got %d", c.Dispatch.TimeoutSeconds)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must not be negative, got %d", c.Dispatch.MaxRetries)
	}
	if c.Guard.BaseThreshold < 1 {
		return fmt.Errorf("guard.base_threshold must be at least 1, got %d", c.Guard.BaseThreshold)
	}
	switch c.Parallel.BranchPattern {
	case "feature", "stack", "single":
	default:
		return fmt.Errorf("parallel.branch_pattern must be feature, stack, or single, got %q", c.Parallel.BranchPattern)
	}
	return nil
}
