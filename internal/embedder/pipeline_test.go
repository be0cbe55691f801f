package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/store"
)

// fakeClient returns unit vectors and counts calls.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeClient) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeClient) Dimensions() int { return 3 }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingProgress struct {
	mu      sync.Mutex
	total   int
	updates []int
}

func (r *recordingProgress) OnStart(totalChunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = totalChunks
}

func (r *recordingProgress) OnProgress(completedChunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, completedChunks)
}

func (r *recordingProgress) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return 0
	}
	return r.updates[len(r.updates)-1]
}

func pipelineChunks(n int) []chunker.Chunk {
	out := make([]chunker.Chunk, n)
	for i := range out {
		out[i] = chunker.Chunk{
			Hash:      fmt.Sprintf("hash-%d", i),
			Content:   strings.Repeat("x", 40+i),
			FilePath:  "a.py",
			FileHash:  "fh",
			StartLine: i + 1,
			EndLine:   i + 1,
		}
	}
	return out
}

func newPipelineStore(t *testing.T) *store.Store {
	t.Helper()
	st, _, err := store.Open(t.TempDir(), 1, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPipelineRunSkipsDurableChunks(t *testing.T) {
	ctx := context.Background()
	st := newPipelineStore(t)
	client := &fakeClient{}
	p := NewPipeline(client, st, 2, 8000, 0)

	chunks := pipelineChunks(3)
	progress := &recordingProgress{}
	require.NoError(t, p.Run(ctx, chunks, false, progress))
	assert.Equal(t, 3, progress.total)
	assert.Equal(t, 3, progress.last())
	firstCalls := client.callCount()
	require.Greater(t, firstCalls, 0)

	n, err := st.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Second run finds everything durable and never calls the service.
	progress = &recordingProgress{}
	require.NoError(t, p.Run(ctx, chunks, false, progress))
	assert.Equal(t, firstCalls, client.callCount())
	assert.Equal(t, 3, progress.last())

	// Full refresh re-embeds regardless.
	require.NoError(t, p.Run(ctx, chunks, true, nil))
	assert.Greater(t, client.callCount(), firstCalls)
}

func TestPipelineAbortsOnAuthExpired(t *testing.T) {
	st := newPipelineStore(t)
	client := &fakeClient{err: apperror.ErrAuthExpired}
	p := NewPipeline(client, st, 1, 8000, 2)

	err := p.Run(context.Background(), pipelineChunks(2), false, nil)
	assert.ErrorIs(t, err, apperror.ErrAuthExpired)

	// Auth failures are not retried.
	assert.Equal(t, 1, client.callCount())
}

func TestPipelineEmptyInput(t *testing.T) {
	st := newPipelineStore(t)
	client := &fakeClient{}
	p := NewPipeline(client, st, 1, 8000, 0)

	progress := &recordingProgress{}
	require.NoError(t, p.Run(context.Background(), nil, false, progress))
	assert.Equal(t, 0, progress.total)
	assert.Equal(t, 0, client.callCount())
}

func TestPartitionRespectsTokenBudget(t *testing.T) {
	p := NewPipeline(&fakeClient{}, nil, 1, 25, 0)

	// Each chunk estimates to 10 tokens (40 chars / 4).
	chunks := make([]chunker.Chunk, 5)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Hash: string(rune('a' + i)), Content: strings.Repeat("x", 40)}
	}

	batches := p.partition(chunks)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestPartitionOversizedChunkFormsOwnBatch(t *testing.T) {
	p := NewPipeline(&fakeClient{}, nil, 1, 10, 0)
	chunks := []chunker.Chunk{
		{Hash: "big", Content: strings.Repeat("x", 400)},
		{Hash: "small", Content: "tiny"},
	}
	batches := p.partition(chunks)
	require.Len(t, batches, 2)
	assert.Equal(t, "big", batches[0][0].Hash)
	assert.Equal(t, "small", batches[1][0].Hash)
}
