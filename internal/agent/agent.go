// Package agent executes coding-agent CLI processes on behalf of the
// dispatcher. The Runner interface decouples dispatch logic from process
// management so tests can substitute a fake.
package agent

import (
	"context"
	"time"
)

// Invocation describes a single agent CLI run.
type Invocation struct {
	Runtime string        // binary name, e.g. "claude"
	Args    []string      // argv, never joined into a shell string
	Dir     string        // working directory, empty means inherit
	Stdin   string        // context document fed on stdin
	Timeout time.Duration // zero means no per-run deadline
}

// Result captures the output of a finished run.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Runner executes agent invocations.
type Runner interface {
	// Run executes the invocation and returns its captured output.
	// A non-zero exit is reported through Result.ExitCode and err.
	Run(ctx context.Context, inv Invocation) (Result, error)

	// LookPath reports where the runtime binary resolves, or an error
	// if it is not installed.
	LookPath(runtime string) (string, error)
}
