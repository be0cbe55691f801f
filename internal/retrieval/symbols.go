package retrieval

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/store"
)

// SymbolType selects the autocomplete namespace.
type SymbolType string

const (
	SymbolFile      SymbolType = "file"
	SymbolClass     SymbolType = "class"
	SymbolFunction  SymbolType = "function"
	SymbolDirectory SymbolType = "directory"
)

// Directory search limits below the repo root.
const (
	directorySearchDepth = 5
	directorySearchLimit = 7
)

// SymbolResult is one autocomplete hit. Value carries the matched symbol
// name (or path for files and directories).
type SymbolResult struct {
	Value     string  `json:"value"`
	Type      string  `json:"type"`
	FilePath  string  `json:"file_path,omitempty"`
	StartLine int     `json:"start_line,omitempty"`
	EndLine   int     `json:"end_line,omitempty"`
	Score     float64 `json:"score"`
	ChunkHash string  `json:"chunk_hash,omitempty"`
}

// SearchSymbols answers structural autocomplete: matching symbols of the
// requested type, aggregated across chunks and sorted by best chunk
// score. Directory lookups walk the filesystem instead of the store.
func (e *Engine) SearchSymbols(ctx context.Context, repoPath, keyword string, symType SymbolType, manifest scanner.Manifest) ([]SymbolResult, error) {
	switch symType {
	case SymbolDirectory:
		return searchDirectories(repoPath, keyword)
	case SymbolFile:
		return searchFiles(manifest, keyword), nil
	case SymbolClass, SymbolFunction:
		return e.searchNamedSymbols(ctx, keyword, symType, manifest)
	default:
		return nil, apperror.BadRequest("unknown symbol type: " + string(symType))
	}
}

// BatchQuery is one entry of a batched symbol lookup.
type BatchQuery struct {
	Keyword string     `json:"keyword"`
	Type    SymbolType `json:"type"`
}

// BatchResult groups the chunks matching one batched lookup.
type BatchResult struct {
	Keyword string          `json:"keyword"`
	Type    SymbolType      `json:"type"`
	Chunks  []chunker.Chunk `json:"chunks"`
}

// BatchChunksSearch resolves each (keyword, type) lookup to its matching
// chunks. Failed entries yield empty groups rather than failing the batch.
func (e *Engine) BatchChunksSearch(ctx context.Context, repoPath string, queries []BatchQuery, manifest scanner.Manifest) ([]BatchResult, error) {
	out := make([]BatchResult, 0, len(queries))
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := BatchResult{Keyword: q.Keyword, Type: q.Type, Chunks: []chunker.Chunk{}}
		syms, err := e.SearchSymbols(ctx, repoPath, q.Keyword, q.Type, manifest)
		if err == nil {
			for _, s := range syms {
				if s.ChunkHash == "" {
					continue
				}
				chunks, err := e.store.GetChunks(ctx, []string{s.ChunkHash})
				if err != nil || len(chunks) == 0 {
					continue
				}
				ch := chunks[0]
				ch.Score = s.Score
				res.Chunks = append(res.Chunks, ch)
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// FocusRef identifies chunks either directly by hash or by a file line
// range.
type FocusRef struct {
	ChunkHash string `json:"chunk_hash,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// FocusChunks resolves focus references to chunk records. A file range
// matches every chunk overlapping it. Unknown references are omitted.
func (e *Engine) FocusChunks(ctx context.Context, refs []FocusRef) ([]chunker.Chunk, error) {
	var out []chunker.Chunk
	seen := make(map[string]bool)
	add := func(ch chunker.Chunk) {
		if !seen[ch.Hash] {
			seen[ch.Hash] = true
			out = append(out, ch)
		}
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ref.ChunkHash != "" {
			chunks, err := e.store.GetChunks(ctx, []string{ref.ChunkHash})
			if err != nil {
				return nil, err
			}
			for _, ch := range chunks {
				add(ch)
			}
			continue
		}
		if ref.FilePath == "" {
			return nil, apperror.BadRequest("focus reference needs chunk_hash or file_path")
		}
		chunks, err := e.store.ChunksForFile(ctx, ref.FilePath)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			if ref.StartLine > 0 && ch.EndLine < ref.StartLine {
				continue
			}
			if ref.EndLine > 0 && ch.StartLine > ref.EndLine {
				continue
			}
			add(ch)
		}
	}
	return out, nil
}

// searchNamedSymbols matches function or class names via keyword search,
// then aggregates per symbol name keeping the best-scoring site.
func (e *Engine) searchNamedSymbols(ctx context.Context, keyword string, symType SymbolType, manifest scanner.Manifest) ([]SymbolResult, error) {
	hits, err := e.store.KeywordSearch(ctx, keyword, store.KeywordFuzzy, manifestHashes(manifest), e.numberOfChunks*2)
	if err != nil {
		return nil, err
	}

	best := make(map[string]SymbolResult)
	for _, hit := range hits {
		names := hit.Chunk.Metadata.FunctionNames
		if symType == SymbolClass {
			names = hit.Chunk.Metadata.ClassNames
		}
		for _, name := range names {
			if !strings.Contains(strings.ToLower(name), strings.ToLower(keyword)) {
				continue
			}
			prev, ok := best[name]
			if ok && prev.Score >= hit.Score {
				continue
			}
			best[name] = SymbolResult{
				Value:     name,
				Type:      string(symType),
				FilePath:  hit.Chunk.FilePath,
				StartLine: hit.Chunk.StartLine,
				EndLine:   hit.Chunk.EndLine,
				Score:     hit.Score,
				ChunkHash: hit.Chunk.Hash,
			}
		}
	}

	out := make([]SymbolResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

// searchFiles matches manifest paths by basename substring.
func searchFiles(manifest scanner.Manifest, keyword string) []SymbolResult {
	lower := strings.ToLower(keyword)
	var out []SymbolResult
	for p := range manifest {
		if strings.Contains(strings.ToLower(path.Base(p)), lower) {
			out = append(out, SymbolResult{Value: p, Type: string(SymbolFile), FilePath: p, Score: 1})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// searchDirectories walks at most directorySearchDepth levels below the
// repo root and returns at most directorySearchLimit matches.
func searchDirectories(repoPath, keyword string) ([]SymbolResult, error) {
	if _, err := os.Stat(repoPath); err != nil {
		return nil, apperror.Wrap(apperror.TypeNotFound, "repo_not_found", err, "repository path not found: "+repoPath)
	}
	lower := strings.ToLower(keyword)
	var out []SymbolResult

	err := filepath.WalkDir(repoPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(repoPath, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if depth := strings.Count(rel, "/") + 1; depth > directorySearchDepth {
			return fs.SkipDir
		}
		base := d.Name()
		if strings.HasPrefix(base, ".") || base == "node_modules" || base == "vendor" {
			return fs.SkipDir
		}
		if strings.Contains(strings.ToLower(base), lower) {
			out = append(out, SymbolResult{Value: rel, Type: string(SymbolDirectory), Score: 1})
			if len(out) >= directorySearchLimit {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
