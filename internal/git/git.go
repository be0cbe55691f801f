// Package git shells out to the git binary for the repository facts the
// review subsystem needs: current branch, head commit, and changed-file
// sets.
package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Operations is the surface consumed by the snapshot and review code.
// Tests substitute a mock.
type Operations interface {
	// CurrentBranch returns the checked-out branch name. Detached HEAD
	// yields "detached-{short-hash}"; a non-repo yields "unknown".
	CurrentBranch(repoPath string) string

	// HeadCommit returns the full commit id of HEAD, or "" outside a repo.
	HeadCommit(repoPath string) string

	// WorktreeRoot returns the worktree root, falling back to repoPath
	// outside a repo.
	WorktreeRoot(repoPath string) string

	// CommittedFilesSince lists repo-relative paths changed by commits
	// after base up to HEAD.
	CommittedFilesSince(repoPath, base string) ([]string, error)

	// UncommittedFiles lists repo-relative paths with staged, unstaged,
	// or untracked modifications.
	UncommittedFiles(repoPath string) ([]string, error)
}

type cliOps struct{}

// NewOperations returns the implementation backed by the git binary.
func NewOperations() Operations {
	return &cliOps{}
}

func run(repoPath string, args ...string) (string, error) {
	out, err := runRaw(repoPath, args...)
	return strings.TrimSpace(out), err
}

// runRaw preserves the output verbatim; porcelain formats are
// column-positional and must not lose the leading status characters.
func runRaw(repoPath string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (cliOps) CurrentBranch(repoPath string) string {
	branch, err := run(repoPath, "branch", "--show-current")
	if err == nil && branch != "" {
		return branch
	}
	short, err := run(repoPath, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "unknown"
	}
	return "detached-" + short
}

func (cliOps) HeadCommit(repoPath string) string {
	commit, err := run(repoPath, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return commit
}

func (cliOps) WorktreeRoot(repoPath string) string {
	root, err := run(repoPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return repoPath
	}
	return root
}

func (cliOps) CommittedFilesSince(repoPath, base string) ([]string, error) {
	out, err := run(repoPath, "diff", "--name-only", base+"..HEAD")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (cliOps) UncommittedFiles(repoPath string) ([]string, error) {
	out, err := runRaw(repoPath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range splitLines(out) {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames are reported as "old -> new"; the new path is live.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, path)
	}
	return files, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			out = append(out, line)
		}
	}
	return out
}
