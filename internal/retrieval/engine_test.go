package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/embedder"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/store"
)

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string, mode embedder.Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return len(f.vec) }

// seedStore fills a store with three chunks across two files.
func seedStore(t *testing.T) (*store.Store, scanner.Manifest) {
	t.Helper()
	st, _, err := store.Open(t.TempDir(), 1, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	chunks := []chunker.Chunk{
		{
			Hash: "auth-1", Content: "def login(): pass", FilePath: "auth.py", FileHash: "fh-auth",
			StartLine: 1, EndLine: 5, Embedding: []float32{1, 0, 0},
			Metadata: chunker.Metadata{FunctionNames: []string{"login"}},
		},
		{
			Hash: "auth-2", Content: "def logout(): pass", FilePath: "auth.py", FileHash: "fh-auth",
			StartLine: 6, EndLine: 10, Embedding: []float32{0.9, 0.1, 0},
			Metadata: chunker.Metadata{FunctionNames: []string{"logout"}},
		},
		{
			Hash: "db-1", Content: "def connect(): pass", FilePath: "lib/db.py", FileHash: "fh-db",
			StartLine: 1, EndLine: 5, Embedding: []float32{0, 0, 1},
			Metadata: chunker.Metadata{FunctionNames: []string{"connect"}},
		},
	}
	require.NoError(t, st.UpsertChunks(context.Background(), chunks))

	manifest := scanner.Manifest{"auth.py": "fh-auth", "lib/db.py": "fh-db"}
	return st, manifest
}

func TestRelevantChunksEmptyManifest(t *testing.T) {
	st, _ := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{1, 0, 0}}, nil, 10)

	// An indexed-but-empty repo matches nothing; in particular the empty
	// file-hash set must not widen into a search across other repos'
	// chunks.
	chunks, err := e.RelevantChunks(context.Background(), Request{Query: "login"}, scanner.Manifest{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRelevantChunksByQuery(t *testing.T) {
	st, manifest := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{1, 0, 0}}, nil, 10)

	chunks, err := e.RelevantChunks(context.Background(), Request{Query: "user sessions"}, manifest)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "auth-1", chunks[0].Hash)
	assert.Greater(t, chunks[0].Score, chunks[len(chunks)-1].Score)
}

func TestRelevantChunksManifestFiltering(t *testing.T) {
	st, _ := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{0, 0, 1}}, nil, 10)

	// A manifest naming only auth.py hides db chunks even when they are the
	// nearest vectors.
	partial := scanner.Manifest{"auth.py": "fh-auth"}
	chunks, err := e.RelevantChunks(context.Background(), Request{Query: "database"}, partial)
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.NotEqual(t, "db-1", ch.Hash)
	}
}

func TestRelevantChunksFocusPrecedesQueryHits(t *testing.T) {
	st, manifest := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{1, 0, 0}}, nil, 10)

	chunks, err := e.RelevantChunks(context.Background(), Request{
		Query:       "login",
		FocusChunks: []string{"db-1"},
	}, manifest)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "db-1", chunks[0].Hash)
	assert.Greater(t, chunks[0].Score, 1.0)
}

func TestRelevantChunksFocusFilesPrecedeQueryHits(t *testing.T) {
	st, manifest := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{0, 0, 1}}, nil, 10)

	// The query's nearest vector is db-1, but focus-file chunks come first.
	chunks, err := e.RelevantChunks(context.Background(), Request{
		Query:      "open a connection",
		FocusFiles: []string{"auth.py"},
	}, manifest)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "auth-1", chunks[0].Hash)
	assert.Equal(t, "auth-2", chunks[1].Hash)
	assert.Equal(t, "db-1", chunks[2].Hash)
}

func TestOrderCandidatesFocusTierBeatsUnboundedScores(t *testing.T) {
	in := []store.SearchResult{
		{Chunk: chunker.Chunk{Hash: "kw"}, Score: 7.3}, // keyword scores are unbounded
		{Chunk: chunker.Chunk{Hash: "f2"}, Score: 9.1}, // focus chunk rescored by a keyword hit
		{Chunk: chunker.Chunk{Hash: "vec"}, Score: 0.9},
		{Chunk: chunker.Chunk{Hash: "f1"}, Score: focusBoost},
	}
	orderCandidates(in, map[string]int{"f1": 0, "f2": 1})

	hashes := make([]string, len(in))
	for i, r := range in {
		hashes[i] = r.Chunk.Hash
	}
	assert.Equal(t, []string{"f1", "f2", "kw", "vec"}, hashes)
}

func TestRelevantChunksFocusFileKeepsLineOrder(t *testing.T) {
	st, manifest := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{0, 0, 1}}, nil, 10)

	chunks, err := e.RelevantChunks(context.Background(), Request{
		FocusFiles: []string{"auth.py"},
	}, manifest)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "auth-1", chunks[0].Hash)
	assert.Equal(t, "auth-2", chunks[1].Hash)
}

func TestRelevantChunksFocusDirectory(t *testing.T) {
	st, manifest := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{1, 0, 0}}, nil, 10)

	chunks, err := e.RelevantChunks(context.Background(), Request{
		FocusDirectories: []string{"lib"},
	}, manifest)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "db-1", chunks[0].Hash)
}

func TestRelevantChunksLimit(t *testing.T) {
	st, manifest := seedStore(t)
	e := NewEngine(st, &fixedEmbedder{vec: []float32{1, 0, 0}}, nil, 2)

	chunks, err := e.RelevantChunks(context.Background(), Request{
		FocusFiles: []string{"auth.py", "lib/db.py"},
	}, manifest)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestDedupeKeepsBestScore(t *testing.T) {
	in := []store.SearchResult{
		{Chunk: chunker.Chunk{Hash: "a"}, Score: 0.5},
		{Chunk: chunker.Chunk{Hash: "b"}, Score: 0.9},
		{Chunk: chunker.Chunk{Hash: "a"}, Score: 0.8},
	}
	out := dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.Hash)
	assert.Equal(t, 0.8, out[0].Score)
	assert.Equal(t, "b", out[1].Chunk.Hash)
}

func TestManifestFilesUnder(t *testing.T) {
	manifest := scanner.Manifest{
		"lib/db.py":    "h1",
		"lib/util.py":  "h2",
		"library.py":   "h3",
		"cmd/main.py":  "h4",
		"lib/x/sub.py": "h5",
	}
	files := manifestFilesUnder(manifest, "lib")
	assert.Equal(t, []string{"lib/db.py", "lib/util.py", "lib/x/sub.py"}, files)

	all := manifestFilesUnder(manifest, ".")
	assert.Len(t, all, 5)
}
