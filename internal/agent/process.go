package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// maxCapturedBytes caps each captured stream so a runaway agent cannot
// exhaust memory. Truncated output keeps the head, which holds the
// structured result for every supported CLI.
const maxCapturedBytes = 4 << 20

// ProcessRunner runs agent CLIs as subprocesses with process group
// isolation so cancellation kills the whole subprocess tree.
type ProcessRunner struct {
	manager *ProcessManager
	redact  func(string) string
}

// NewProcessRunner creates a runner. The manager is optional; when nil,
// subprocesses are not tracked for shutdown.
func NewProcessRunner(manager *ProcessManager) *ProcessRunner {
	return &ProcessRunner{manager: manager}
}

// SetRedactor installs a filter applied to captured stdout and stderr
// before they are returned, so secrets echoed by an agent never reach
// logs or persisted results.
func (r *ProcessRunner) SetRedactor(redact func(string) string) {
	r.redact = redact
}

// LookPath resolves the runtime binary on PATH.
func (r *ProcessRunner) LookPath(runtime string) (string, error) {
	return exec.LookPath(runtime)
}

// Run executes the invocation. Both pipes are drained concurrently before
// Wait is called, preventing deadlocks when output exceeds the pipe buffer.
func (r *ProcessRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Runtime, inv.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // new process group for clean tree termination
	}
	cmd.Dir = inv.Dir
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start command: %w", err)
	}
	if r.manager != nil {
		r.manager.Track(cmd)
		defer r.manager.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, io.LimitReader(stdoutPipe, maxCapturedBytes))
		io.Copy(io.Discard, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, io.LimitReader(stderrPipe, maxCapturedBytes))
		io.Copy(io.Discard, stderrPipe)
	}()

	// Pipes must be fully drained before Wait.
	wg.Wait()
	waitErr := cmd.Wait()

	result := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(started),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if r.redact != nil {
		result.Stdout = r.redact(result.Stdout)
		result.Stderr = r.redact(result.Stderr)
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		if result.TimedOut {
			return result, fmt.Errorf("command timed out after %s: %w", inv.Timeout, waitErr)
		}
		if len(result.Stderr) > 0 {
			return result, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, result.Stderr)
		}
		return result, fmt.Errorf("command failed: %w", waitErr)
	}
	return result, nil
}

// killProcessGroup sends SIGKILL to the command's entire process group,
// terminating child processes as well as the immediate subprocess.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks running subprocesses so they can all be terminated
// on shutdown.
//
// Usage pattern (typically in main):
//
//	pm := agent.NewProcessManager()
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//	go func() {
//		<-ctx.Done()
//		pm.KillAll()
//	}()
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates an empty manager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess after Wait completes.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates every tracked subprocess group.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}
	return nil
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
