// Package probe reads repository facts used by merge-sequence advice.
// It never mutates the repository: branch and merge recommendations are
// advisory, so every command here is read-only.
package probe

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Repo answers read-only questions about a git repository.
type Repo struct {
	path string
}

// NewRepo returns a probe rooted at the given repository path.
func NewRepo(path string) *Repo {
	return &Repo{path: path}
}

func (r *Repo) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.path
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w (output: %s)", args[0], err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch() (string, error) {
	return r.git("rev-parse", "--abbrev-ref", "HEAD")
}

// Head returns the current HEAD commit hash.
func (r *Repo) Head() (string, error) {
	return r.git("rev-parse", "HEAD")
}

// IsClean reports whether the working tree has no uncommitted changes.
func (r *Repo) IsClean() (bool, error) {
	out, err := r.git("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// AheadBehind returns how many commits HEAD is ahead of and behind the
// given base branch.
func (r *Repo) AheadBehind(base string) (ahead, behind int, err error) {
	out, err := r.git("rev-list", "--left-right", "--count", "HEAD..."+base)
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	if ahead, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("parsing ahead count: %w", err)
	}
	if behind, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("parsing behind count: %w", err)
	}
	return ahead, behind, nil
}

// ChangedFiles returns the paths that differ between the base branch and
// HEAD.
func (r *Repo) ChangedFiles(base string) ([]string, error) {
	out, err := r.git("diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, err
	}

	var files []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// BranchExists reports whether a local branch with the given name exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.git("rev-parse", "--verify", "refs/heads/"+name)
	return err == nil
}

// OverlapWithBase returns the files a proposed stream touches that are
// already modified relative to the base branch. A non-empty overlap is an
// early conflict signal worth recording in the ledger.
func (r *Repo) OverlapWithBase(base string, filesToEdit []string) ([]string, error) {
	changed, err := r.ChangedFiles(base)
	if err != nil {
		return nil, err
	}
	changedSet := make(map[string]bool, len(changed))
	for _, f := range changed {
		changedSet[f] = true
	}

	var overlap []string
	for _, f := range filesToEdit {
		if changedSet[f] {
			overlap = append(overlap, f)
		}
	}
	return overlap, nil
}
