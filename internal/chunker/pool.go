package chunker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codescope-dev/codescope/internal/scanner"
)

// Pool chunks batches of files with bounded parallelism so CPU-bound
// parsing never monopolizes the process.
type Pool struct {
	chunker *Chunker
	workers int
}

// NewPool creates a pool with the given worker count (minimum 1).
func NewPool(chunker *Chunker, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{chunker: chunker, workers: workers}
}

// ChunkFiles reads and chunks every file under repoPath. Files that cannot
// be read are reported as skipped, not errors. Output ordering is
// deterministic: by path, then start line.
func (p *Pool) ChunkFiles(ctx context.Context, repoPath string, files []scanner.ChunkableFile) ([]Chunk, []scanner.SkippedFile, error) {
	var (
		mu      sync.Mutex
		chunks  []Chunk
		skipped []scanner.SkippedFile
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			data, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(f.Path)))
			if err != nil {
				mu.Lock()
				skipped = append(skipped, scanner.SkippedFile{Path: f.Path, Reason: err.Error()})
				mu.Unlock()
				return nil
			}

			fileChunks := p.chunker.ChunkFile(f.Path, f.Hash, f.Language, string(data))

			mu.Lock()
			chunks = append(chunks, fileChunks...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].FilePath != chunks[j].FilePath {
			return chunks[i].FilePath < chunks[j].FilePath
		}
		return chunks[i].StartLine < chunks[j].StartLine
	})

	return chunks, skipped, nil
}
