// Package review maintains per-branch working-tree snapshots and computes
// review-ready change sets against them.
package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codescope-dev/codescope/internal/git"
	"github.com/codescope-dev/codescope/internal/scanner"
)

// Snapshot directory layout under <repo>/.git/file-snapshots/<branch>/:
// per-file copies mirroring the tree, plus the diff-snapshot flat index,
// commit-snapshot commit reference, and snapshot-meta.json review counter.
const (
	snapshotDirName = "file-snapshots"
	indexFileName   = "diff-snapshot"
	commitFileName  = "commit-snapshot"
	metaFileName    = "snapshot-meta.json"
)

// commitRef records which commit a branch snapshot was taken at.
type commitRef struct {
	CommitID  string `json:"commit_id"`
	Timestamp string `json:"timestamp"`
}

// snapshotMeta carries the monotonically increasing review counter.
type snapshotMeta struct {
	ReviewCount int `json:"review_count"`
}

// Manager owns snapshot creation and change computation for one process.
type Manager struct {
	git git.Operations
}

// NewManager wires a review manager; ops defaults to the git binary.
func NewManager(ops git.Operations) *Manager {
	if ops == nil {
		ops = git.NewOperations()
	}
	return &Manager{git: ops}
}

// SnapshotInfo summarizes a freshly taken snapshot.
type SnapshotInfo struct {
	Branch      string `json:"branch"`
	CommitID    string `json:"commit_id"`
	FileCount   int    `json:"file_count"`
	ReviewCount int    `json:"review_count"`
}

// TakeSnapshot copies the repository's chunkable files into the branch
// snapshot directory, replacing any prior snapshot for that branch, and
// bumps the review counter.
func (m *Manager) TakeSnapshot(repoPath string) (SnapshotInfo, error) {
	sc, err := scanner.New(repoPath, nil)
	if err != nil {
		return SnapshotInfo{}, err
	}
	files, _, err := sc.Scan()
	if err != nil {
		return SnapshotInfo{}, err
	}

	branch := m.git.CurrentBranch(repoPath)
	dir := snapshotDir(repoPath, branch)
	// The counter survives snapshot replacement.
	prevCount := readReviewCount(dir)
	if err := os.RemoveAll(dir); err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to clear old snapshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	index := make([]string, 0, len(files))
	for _, f := range files {
		src := filepath.Join(repoPath, f.Path)
		dst := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := copyFile(src, dst); err != nil {
			return SnapshotInfo{}, fmt.Errorf("failed to snapshot %s: %w", f.Path, err)
		}
		index = append(index, f.Hash+"  "+f.Path)
	}
	sort.Strings(index)
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte(strings.Join(index, "\n")+"\n"), 0o644); err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to write snapshot index: %w", err)
	}

	commit := m.git.HeadCommit(repoPath)
	if err := writeCommitRef(dir, branch, commit); err != nil {
		return SnapshotInfo{}, err
	}

	count, err := writeReviewCount(dir, prevCount+1)
	if err != nil {
		return SnapshotInfo{}, err
	}

	return SnapshotInfo{
		Branch:      branch,
		CommitID:    commit,
		FileCount:   len(files),
		ReviewCount: count,
	}, nil
}

// snapshotDir is <repo>/.git/file-snapshots/<branch>/. Slashes in branch
// names become directory levels, matching how git lays out ref files.
func snapshotDir(repoPath, branch string) string {
	return filepath.Join(repoPath, ".git", snapshotDirName, filepath.FromSlash(branch))
}

// loadIndex reads the flat snapshot index into path → hash.
func loadIndex(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, err
	}
	index := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "  ", 2)
		if len(parts) != 2 {
			continue
		}
		index[parts[1]] = parts[0]
	}
	return index, nil
}

func writeCommitRef(dir, branch, commit string) error {
	path := filepath.Join(dir, commitFileName)
	refs := make(map[string]commitRef)
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &refs)
	}
	refs[branch] = commitRef{
		CommitID:  commit,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode commit ref: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write commit ref: %w", err)
	}
	return nil
}

func loadCommitRef(dir, branch string) (commitRef, bool) {
	data, err := os.ReadFile(filepath.Join(dir, commitFileName))
	if err != nil {
		return commitRef{}, false
	}
	refs := make(map[string]commitRef)
	if err := json.Unmarshal(data, &refs); err != nil {
		return commitRef{}, false
	}
	ref, ok := refs[branch]
	return ref, ok
}

func readReviewCount(dir string) int {
	var meta snapshotMeta
	if data, err := os.ReadFile(filepath.Join(dir, metaFileName)); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta.ReviewCount
}

func writeReviewCount(dir string, count int) (int, error) {
	data, err := json.MarshalIndent(snapshotMeta{ReviewCount: count}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write snapshot meta: %w", err)
	}
	return count, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
