package review

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/scanner"
)

// Strategy selects which working-tree changes a review covers.
type Strategy string

const (
	StrategyAll         Strategy = "all"
	StrategyCommitted   Strategy = "committed"
	StrategyUncommitted Strategy = "uncommitted"
)

// ParseStrategy validates a strategy tag; empty means all changes.
func ParseStrategy(tag string) (Strategy, error) {
	switch Strategy(tag) {
	case StrategyAll, "":
		return StrategyAll, nil
	case StrategyCommitted, StrategyUncommitted:
		return Strategy(tag), nil
	default:
		return "", apperror.BadRequest("unknown review strategy: " + tag)
	}
}

// FileChange is one changed file with its unified diff against the
// snapshot copy.
type FileChange struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// ChangeSet is the review-ready diff between the snapshot and the
// working tree.
type ChangeSet struct {
	Branch   string       `json:"branch"`
	Added    []FileChange `json:"added"`
	Modified []FileChange `json:"modified"`
	Deleted  []FileChange `json:"deleted"`
}

// Empty reports whether the change set carries no changes.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// GetChanges diffs the working tree against the current branch snapshot,
// restricted by strategy. A repo without a snapshot maps to NotFound.
func (m *Manager) GetChanges(repoPath string, strategy Strategy) (ChangeSet, error) {
	branch := m.git.CurrentBranch(repoPath)
	dir := snapshotDir(repoPath, branch)
	index, err := loadIndex(dir)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("no snapshot for branch %s: %w", branch, apperror.ErrNotFound)
	}

	sc, err := scanner.New(repoPath, nil)
	if err != nil {
		return ChangeSet{}, err
	}
	current, _, err := sc.BuildManifest()
	if err != nil {
		return ChangeSet{}, err
	}

	scope, err := m.strategyScope(repoPath, branch, strategy)
	if err != nil {
		return ChangeSet{}, err
	}
	inScope := func(path string) bool {
		return scope == nil || scope[path]
	}

	set := ChangeSet{Branch: branch}

	paths := make([]string, 0, len(current))
	for p := range current {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if !inScope(p) {
			continue
		}
		snapHash, existed := index[p]
		if existed && snapHash == current[p] {
			continue
		}
		diff, err := m.diffFile(repoPath, dir, p, existed)
		if err != nil {
			return ChangeSet{}, err
		}
		if existed {
			set.Modified = append(set.Modified, FileChange{Path: p, Diff: diff})
		} else {
			set.Added = append(set.Added, FileChange{Path: p, Diff: diff})
		}
	}

	deleted := make([]string, 0)
	for p := range index {
		if _, live := current[p]; !live && inScope(p) {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(deleted)
	for _, p := range deleted {
		old, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil {
			old = nil
		}
		set.Deleted = append(set.Deleted, FileChange{
			Path: p,
			Diff: unifiedDiff(p, string(old), ""),
		})
	}

	return set, nil
}

// strategyScope returns the path set a strategy restricts to; nil means
// unrestricted.
func (m *Manager) strategyScope(repoPath, branch string, strategy Strategy) (map[string]bool, error) {
	switch strategy {
	case StrategyCommitted:
		ref, ok := loadCommitRef(snapshotDir(repoPath, branch), branch)
		if !ok || ref.CommitID == "" {
			return nil, fmt.Errorf("no snapshot commit for branch %s: %w", branch, apperror.ErrNotFound)
		}
		files, err := m.git.CommittedFilesSince(repoPath, ref.CommitID)
		if err != nil {
			return nil, err
		}
		return pathSet(files), nil
	case StrategyUncommitted:
		files, err := m.git.UncommittedFiles(repoPath)
		if err != nil {
			return nil, err
		}
		return pathSet(files), nil
	default:
		return nil, nil
	}
}

func (m *Manager) diffFile(repoPath, snapDir, path string, existed bool) (string, error) {
	cur, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	var old []byte
	if existed {
		old, err = os.ReadFile(filepath.Join(snapDir, filepath.FromSlash(path)))
		if err != nil {
			return "", fmt.Errorf("failed to read snapshot of %s: %w", path, err)
		}
	}
	return unifiedDiff(path, string(old), string(cur)), nil
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.ToSlash(p)] = true
	}
	return set
}
