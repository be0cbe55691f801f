package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/config"
	"github.com/codescope-dev/codescope/internal/embedder"
)

// gateEmbedder returns unit vectors, optionally parking callers on a gate.
type gateEmbedder struct {
	gate chan struct{} // nil means never block
}

func (g *gateEmbedder) Embed(ctx context.Context, texts []string, mode embedder.Mode) ([][]float32, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (g *gateEmbedder) Dimensions() int { return 3 }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.DataDir = t.TempDir()
	cfg.Embedding.Dimensions = 3
	return cfg
}

func newTestCoordinator(t *testing.T, embed embedder.Client) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(testConfig(t), embed)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func testRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.py"), []byte("def a():\n    pass\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "b.py"), []byte("def b():\n    pass\n"), 0o644))
	return repo
}

func TestStartIndexJobValidation(t *testing.T) {
	c := newTestCoordinator(t, &gateEmbedder{})
	_, err := c.StartIndexJob(context.Background(), IndexRequest{})
	assert.Error(t, err)
}

func TestIndexJobEmitsTerminalFrames(t *testing.T) {
	c := newTestCoordinator(t, &gateEmbedder{})
	repo := testRepo(t)

	job, err := c.StartIndexJob(context.Background(), IndexRequest{RepoPath: repo})
	require.NoError(t, err)

	terminal := make(map[Task]Frame)
	for frame := range job.Frames() {
		assert.Equal(t, repo, frame.RepoPath)
		if frame.Status != StatusInProgress {
			terminal[frame.Task] = frame
		}
	}

	require.Contains(t, terminal, TaskIndexing)
	require.Contains(t, terminal, TaskEmbedding)
	assert.Equal(t, StatusCompleted, terminal[TaskIndexing].Status)
	assert.Equal(t, StatusCompleted, terminal[TaskEmbedding].Status)
	assert.Equal(t, 100, terminal[TaskIndexing].Progress)
	assert.Equal(t, 100, terminal[TaskEmbedding].Progress)

	chunked := make(map[string]bool)
	for _, s := range terminal[TaskEmbedding].IndexingStatus {
		if s.Status == "CHUNKED" {
			chunked[s.Path] = true
		}
	}
	assert.True(t, chunked["a.py"])
	assert.True(t, chunked["b.py"])

	require.NoError(t, job.Err())

	// The manifest landed in the shared repo state.
	manifest, stale := c.RepoState(repo).Manifest()
	assert.False(t, stale)
	assert.Len(t, manifest, 2)

	// Chunks are durable.
	st, err := c.Store(context.Background())
	require.NoError(t, err)
	n, err := st.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIndexJobSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	c := newTestCoordinator(t, &gateEmbedder{gate: gate})
	repo := testRepo(t)

	job, err := c.StartIndexJob(context.Background(), IndexRequest{RepoPath: repo})
	require.NoError(t, err)

	// Concurrent start on the same repo is rejected while the first job
	// is parked on the embedding gate.
	require.Eventually(t, func() bool {
		_, err := c.StartIndexJob(context.Background(), IndexRequest{RepoPath: repo})
		return errors.Is(err, apperror.ErrAlreadyIndexing)
	}, 5*time.Second, 10*time.Millisecond)

	close(gate)
	require.NoError(t, job.Wait(context.Background()))

	// A fresh job starts once the first finished.
	job2, err := c.StartIndexJob(context.Background(), IndexRequest{RepoPath: repo})
	require.NoError(t, err)
	require.NoError(t, job2.Wait(context.Background()))
}

func TestEnsureManifestRequiresIndexOrPermission(t *testing.T) {
	c := newTestCoordinator(t, &gateEmbedder{})
	repo := testRepo(t)

	_, err := c.EnsureManifest(context.Background(), repo, false)
	assert.ErrorIs(t, err, apperror.ErrRepoNotIndexed)

	manifest, err := c.EnsureManifest(context.Background(), repo, true)
	require.NoError(t, err)
	assert.Len(t, manifest, 2)

	// Subsequent reads serve the cached manifest without re-indexing.
	manifest, err = c.EnsureManifest(context.Background(), repo, false)
	require.NoError(t, err)
	assert.Len(t, manifest, 2)
}

func TestJobCancel(t *testing.T) {
	gate := make(chan struct{})
	c := newTestCoordinator(t, &gateEmbedder{gate: gate})
	repo := testRepo(t)

	job, err := c.StartIndexJob(context.Background(), IndexRequest{RepoPath: repo})
	require.NoError(t, err)

	job.Cancel()
	require.NoError(t, job.Wait(context.Background()))
	assert.Error(t, job.Err())
}

func TestShutdownIdempotent(t *testing.T) {
	c := newTestCoordinator(t, &gateEmbedder{})

	// Force the store open so shutdown has something to close.
	_, err := c.Store(context.Background())
	require.NoError(t, err)

	c.Shutdown()
	c.Shutdown()

	_, err = c.Store(context.Background())
	assert.ErrorIs(t, err, apperror.ErrStoreUnavailable)
}

func TestHealthyBeforeStoreOpens(t *testing.T) {
	c := newTestCoordinator(t, &gateEmbedder{})
	assert.True(t, c.Healthy())
}
