package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func initRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	return repo
}

func commitAll(t *testing.T, repo, message string) {
	t.Helper()
	for _, args := range [][]string{
		{"add", "-A"},
		{"commit", "-m", message},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		require.NoError(t, cmd.Run(), "git %v", args)
	}
}

func TestOperationsAgainstRealRepo(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git binary not available")
	}
	repo := initRepo(t)
	ops := NewOperations()

	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.txt"), []byte("one\n"), 0o644))
	commitAll(t, repo, "initial")

	assert.Equal(t, "main", ops.CurrentBranch(repo))
	base := ops.HeadCommit(repo)
	assert.Len(t, base, 40)

	// Temp dirs can be symlinked; compare resolved paths.
	wantRoot, err := filepath.EvalSymlinks(repo)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(ops.WorktreeRoot(repo))
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)

	// A second commit shows up in CommittedFilesSince.
	require.NoError(t, os.WriteFile(filepath.Join(repo, "b.txt"), []byte("two\n"), 0o644))
	commitAll(t, repo, "add b")

	committed, err := ops.CommittedFilesSince(repo, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, committed)

	// Untracked and modified files show up in UncommittedFiles.
	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.txt"), []byte("changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "c.txt"), []byte("new\n"), 0o644))

	uncommitted, err := ops.UncommittedFiles(repo)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "c.txt"}, uncommitted)
}

func TestOperationsOutsideRepo(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	ops := NewOperations()

	assert.Equal(t, "unknown", ops.CurrentBranch(dir))
	assert.Empty(t, ops.HeadCommit(dir))
	assert.Equal(t, dir, ops.WorktreeRoot(dir))
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb\r\n"))
}
