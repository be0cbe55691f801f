package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/chunker"
)

const testDims = 3

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, recreated, err := Open(t.TempDir(), 1, testDims)
	require.NoError(t, err)
	assert.False(t, recreated)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunk(hash, filePath, fileHash string, embedding []float32, fns ...string) chunker.Chunk {
	return chunker.Chunk{
		Hash:      hash,
		Content:   "content of " + hash,
		FilePath:  filePath,
		FileHash:  fileHash,
		StartLine: 1,
		EndLine:   10,
		Embedding: embedding,
		Metadata: chunker.Metadata{
			FunctionNames: fns,
			Language:      "python",
		},
	}
}

func TestOpenRecreatesOnSchemaChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, recreated, err := Open(dir, 1, testDims)
	require.NoError(t, err)
	assert.False(t, recreated)
	require.NoError(t, s.UpsertChunks(ctx, []chunker.Chunk{
		testChunk("c1", "a.py", "fh1", []float32{1, 0, 0}),
	}))
	require.NoError(t, s.Close())

	// Same version keeps the data.
	s, recreated, err = Open(dir, 1, testDims)
	require.NoError(t, err)
	assert.False(t, recreated)
	n, err := s.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())

	// Version bump drops everything.
	s, recreated, err = Open(dir, 2, testDims)
	require.NoError(t, err)
	assert.True(t, recreated)
	n, err = s.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, s.Close())
}

func TestDocumentsNeverEmbedImplicitly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// A chunk without a vector fails locally instead of reaching out to a
	// remote embedding service.
	ch := testChunk("c1", "a.py", "fh1", nil)
	err := s.UpsertChunks(ctx, []chunker.Chunk{ch})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without an embedding")

	err = s.SaveURL(ctx, URLRecord{URL: "https://example.com", Content: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without an embedding")
}

func TestUpsertChunksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ch := testChunk("c1", "a.py", "fh1", []float32{1, 0, 0}, "login")
	require.NoError(t, s.UpsertChunks(ctx, []chunker.Chunk{ch}))
	require.NoError(t, s.UpsertChunks(ctx, []chunker.Chunk{ch}))

	n, err := s.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetChunks(ctx, []string{"c1", "unknown"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ch.Content, got[0].Content)
	assert.Equal(t, "a.py", got[0].FilePath)
	assert.Equal(t, []string{"login"}, got[0].Metadata.FunctionNames)
	assert.Equal(t, "python", got[0].Metadata.Language)

	present, err := s.ExistingHashes(ctx, []string{"c1", "unknown"})
	require.NoError(t, err)
	assert.True(t, present["c1"])
	assert.False(t, present["unknown"])
}

func TestVectorSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertChunks(ctx, []chunker.Chunk{
		testChunk("c1", "a.py", "fh1", []float32{1, 0, 0}),
		testChunk("c2", "b.py", "fh2", []float32{0, 1, 0}),
		testChunk("c3", "c.py", "fh3", []float32{0, 0, 1}),
	}))

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0}, Filter{}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].Chunk.Hash)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)

	// Manifest filtering drops hits from files not in the live set.
	results, err = s.VectorSearch(ctx, []float32{1, 0, 0}, Filter{
		FileHashes: map[string]bool{"fh2": true},
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].Chunk.Hash)
}

func TestKeywordSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertChunks(ctx, []chunker.Chunk{
		testChunk("c1", "auth.py", "fh1", []float32{1, 0, 0}, "login"),
		testChunk("c2", "db.py", "fh2", []float32{0, 1, 0}, "connect"),
	}))

	results, err := s.KeywordSearch(ctx, "login", KeywordExact, nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.Hash)

	// Restricting to another file's hash filters the hit out.
	results, err = s.KeywordSearch(ctx, "login", KeywordExact, map[string]bool{"fh2": true}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.KeywordSearch(ctx, "", KeywordExact, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChunksForFileSortedByStartLine(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := testChunk("c1", "a.py", "fh1", []float32{1, 0, 0})
	first.StartLine, first.EndLine = 1, 20
	second := testChunk("c2", "a.py", "fh1", []float32{0, 1, 0})
	second.StartLine, second.EndLine = 21, 40
	other := testChunk("c3", "b.py", "fh2", []float32{0, 0, 1})

	require.NoError(t, s.UpsertChunks(ctx, []chunker.Chunk{second, other, first}))

	chunks, err := s.ChunksForFile(ctx, "a.py")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].Hash)
	assert.Equal(t, "c2", chunks[1].Hash)
}

func TestDeleteStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertChunks(ctx, []chunker.Chunk{
		testChunk("c1", "a.py", "live", []float32{1, 0, 0}),
		testChunk("c2", "b.py", "stale", []float32{0, 1, 0}),
		testChunk("c3", "c.py", "stale", []float32{0, 0, 1}),
	}))

	deleted, err := s.DeleteStale(ctx, map[string]bool{"live": true})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	n, err := s.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetChunks(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestURLRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := URLRecord{
		URL:         "https://example.com/docs",
		Name:        "example docs",
		Content:     "# Docs\nbody",
		ContentHash: "hash1",
		ETag:        `"v1"`,
		LastIndexed: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveURL(ctx, rec, []float32{1, 0, 0}))

	got, found, err := s.GetURL(ctx, rec.URL)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.ETag, got.ETag)
	assert.True(t, rec.LastIndexed.Equal(got.LastIndexed))

	_, found, err = s.GetURL(ctx, "https://example.com/other")
	require.NoError(t, err)
	assert.False(t, found)

	list, err := s.ListURLs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.URL, list[0].URL)

	recs, scores, err := s.SearchURLs(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, scores, 1)
	assert.InDelta(t, 1.0, scores[0], 0.001)

	require.NoError(t, s.DeleteURL(ctx, rec.URL))
	list, err = s.ListURLs(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	err := s.Ping(context.Background())
	assert.ErrorIs(t, err, apperror.ErrStoreUnavailable)

	_, err = s.ChunkCount()
	assert.ErrorIs(t, err, apperror.ErrStoreUnavailable)
}

func TestMonitorGraceWindow(t *testing.T) {
	s := newTestStore(t)
	m := NewMonitor(s, 5*time.Millisecond, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	assert.True(t, m.Healthy())

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool {
		return !m.Healthy()
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Err(), apperror.ErrStoreUnavailable)
}
