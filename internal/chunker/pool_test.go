package chunker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope-dev/codescope/internal/scanner"
)

func TestPoolChunksFilesDeterministically(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("def b():\n    pass\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("def a():\n    pass\n"), 0o644))

	files := []scanner.ChunkableFile{
		{Path: "b.py", Hash: "hb", Language: "python"},
		{Path: "a.py", Hash: "ha", Language: "python"},
	}

	pool := NewPool(New(1600), 4)
	chunks, skipped, err := pool.ChunkFiles(context.Background(), dir, files)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a.py", chunks[0].FilePath)
	assert.Equal(t, "b.py", chunks[1].FilePath)
	assert.Equal(t, "ha", chunks[0].FileHash)
}

func TestPoolReportsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	files := []scanner.ChunkableFile{{Path: "missing.py", Hash: "h", Language: "python"}}

	pool := NewPool(New(1600), 1)
	chunks, skipped, err := pool.ChunkFiles(context.Background(), dir, files)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	require.Len(t, skipped, 1)
	assert.Equal(t, "missing.py", skipped[0].Path)
	assert.NotEmpty(t, skipped[0].Reason)
}

func TestPoolHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files := []scanner.ChunkableFile{{Path: "a.py", Hash: "h", Language: "python"}}
	pool := NewPool(New(1600), 1)
	_, _, err := pool.ChunkFiles(ctx, t.TempDir(), files)
	assert.ErrorIs(t, err, context.Canceled)
}
