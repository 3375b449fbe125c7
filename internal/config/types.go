package config

// DispatchConfig controls how agents are launched.
type DispatchConfig struct {
	Runtime        string `json:"runtime"`         // CLI binary name (e.g., "claude")
	Model          string `json:"model"`           // Model passed to the runtime
	TimeoutSeconds int    `json:"timeout_seconds"` // Per-agent execution timeout
	MaxRetries     int    `json:"max_retries"`     // Retry limit enforced by execution control
}

// GuardConfig holds the over-decomposition thresholds.
type GuardConfig struct {
	BaseThreshold int     `json:"base_threshold"` // Task-count floor for small specs
	TasksPerFR    float64 `json:"tasks_per_fr"`   // Scales the threshold with spec size
}

// ParallelConfig controls workstream advice.
type ParallelConfig struct {
	BranchPattern     string  `json:"branch_pattern"`     // "feature", "stack", or "single"
	ConflictThreshold float64 `json:"conflict_threshold"` // Excessive-conflict trigger, 0.1-1.0
	BaseBranch        string  `json:"base_branch"`        // Merge target for advice
}

// PathsConfig locates persisted state.
type PathsConfig struct {
	StatePath    string `json:"state_path"`    // Execution-control state file
	DatabasePath string `json:"database_path"` // SQLite store
}

// Config is the top-level configuration.
type Config struct {
	Dispatch DispatchConfig `json:"dispatch"`
	Guard    GuardConfig    `json:"guard"`
	Parallel ParallelConfig `json:"parallel"`
	Paths    PathsConfig    `json:"paths"`
}
