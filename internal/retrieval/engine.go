// Package retrieval resolves a query plus optional focus hints to a
// ranked list of chunks by combining vector search, symbol lookup, and
// focus expansion, with optional remote re-ranking.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/embedder"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/store"
)

// focusBoost is the reported score of focus candidates. Ordering does not
// depend on it: focus chunks form their own tier ahead of scored hits,
// since BM25 keyword scores are unbounded.
const focusBoost = 2.0

// directorySampleLimit bounds how many chunks one focus directory
// contributes to the candidate set.
const directorySampleLimit = 20

// Request is one relevant-chunks query.
type Request struct {
	RepoPath         string   `json:"repo_path"`
	Query            string   `json:"query"`
	FocusFiles       []string `json:"focus_files,omitempty"`
	FocusChunks      []string `json:"focus_chunks,omitempty"`
	FocusDirectories []string `json:"focus_directories,omitempty"`
	PerformChunking  bool     `json:"perform_chunking,omitempty"`
}

// Engine composes the store, the embedding client, and the optional
// re-ranker into the retrieval pipeline.
type Engine struct {
	store          *store.Store
	embed          embedder.Client
	reranker       *Reranker // nil disables re-ranking
	numberOfChunks int
}

// NewEngine wires a retrieval engine. reranker may be nil.
func NewEngine(st *store.Store, embed embedder.Client, reranker *Reranker, numberOfChunks int) *Engine {
	if numberOfChunks < 1 {
		numberOfChunks = 20
	}
	return &Engine{
		store:          st,
		embed:          embed,
		reranker:       reranker,
		numberOfChunks: numberOfChunks,
	}
}

// RelevantChunks runs the full pipeline against the given manifest and
// returns chunks in descending score order, at most NumberOfChunks.
// Ordering is deterministic for identical inputs and store state. An
// empty result is not an error.
func (e *Engine) RelevantChunks(ctx context.Context, req Request, manifest scanner.Manifest) ([]chunker.Chunk, error) {
	// An indexed-but-empty repo has nothing to match. Returning here also
	// keeps the empty file-hash set from turning into an unrestricted
	// search across other repos' chunks.
	if len(manifest) == 0 {
		return nil, nil
	}
	fileHashes := manifestHashes(manifest)

	var candidates []store.SearchResult

	if strings.TrimSpace(req.Query) != "" {
		vecs, err := e.embed.Embed(ctx, []string{req.Query}, embedder.ModeQuery)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		hits, err := e.store.VectorSearch(ctx, vecs[0], store.Filter{FileHashes: fileHashes}, e.numberOfChunks)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, hits...)

		for _, token := range ExtractCodeTokens(req.Query) {
			hits, err := e.store.KeywordSearch(ctx, token, store.KeywordBM25, fileHashes, e.numberOfChunks)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, hits...)
		}
	}

	focus, focusRank, err := e.expandFocus(ctx, req, manifest)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, focus...)

	deduped := dedupe(candidates)

	if e.reranker != nil && strings.TrimSpace(req.Query) != "" {
		ranked, err := e.reranker.Rerank(ctx, req.Query, deduped, req.FocusChunks)
		if err == nil {
			if len(ranked) > e.numberOfChunks {
				ranked = ranked[:e.numberOfChunks]
			}
			return e.shape(ranked), nil
		}
		log.Printf("retrieval: re-rank failed, falling back to score order: %v", err)
	}

	orderCandidates(deduped, focusRank)
	if len(deduped) > e.numberOfChunks {
		deduped = deduped[:e.numberOfChunks]
	}
	return e.shape(deduped), nil
}

// expandFocus pins caller-provided hints into the candidate set. The
// returned rank map records the hint order per chunk hash; ranking treats
// its keys as a tier preceding every scored hit, so dedupe replacing a
// focus score with a higher query score cannot demote the chunk.
func (e *Engine) expandFocus(ctx context.Context, req Request, manifest scanner.Manifest) ([]store.SearchResult, map[string]int, error) {
	var out []store.SearchResult
	rank := make(map[string]int)
	add := func(ch chunker.Chunk) {
		if _, seen := rank[ch.Hash]; !seen {
			rank[ch.Hash] = len(rank)
		}
		out = append(out, store.SearchResult{Chunk: ch, Score: focusBoost - float64(rank[ch.Hash])*1e-6})
	}

	if len(req.FocusChunks) > 0 {
		chunks, err := e.store.GetChunks(ctx, req.FocusChunks)
		if err != nil {
			return nil, nil, err
		}
		for _, ch := range chunks {
			add(ch)
		}
	}

	for _, file := range req.FocusFiles {
		chunks, err := e.store.ChunksForFile(ctx, file)
		if err != nil {
			return nil, nil, err
		}
		for _, ch := range chunks {
			add(ch)
		}
	}

	for _, dir := range req.FocusDirectories {
		sampled := 0
		for _, file := range manifestFilesUnder(manifest, dir) {
			if sampled >= directorySampleLimit {
				break
			}
			chunks, err := e.store.ChunksForFile(ctx, file)
			if err != nil {
				return nil, nil, err
			}
			for _, ch := range chunks {
				if sampled >= directorySampleLimit {
					break
				}
				add(ch)
				sampled++
			}
		}
	}
	return out, rank, nil
}

// orderCandidates sorts candidates in place: the focus tier first in hint
// order, then the rest by descending score. Tiering rather than a score
// offset keeps focus chunks ahead of unbounded keyword scores.
func orderCandidates(in []store.SearchResult, focusRank map[string]int) {
	sort.SliceStable(in, func(i, j int) bool {
		ri, iFocus := focusRank[in[i].Chunk.Hash]
		rj, jFocus := focusRank[in[j].Chunk.Hash]
		if iFocus != jFocus {
			return iFocus
		}
		if iFocus {
			return ri < rj
		}
		return in[i].Score > in[j].Score
	})
}

// shape finalizes the outgoing chunk list, attaching scores.
func (e *Engine) shape(results []store.SearchResult) []chunker.Chunk {
	out := make([]chunker.Chunk, 0, len(results))
	for _, r := range results {
		ch := r.Chunk
		ch.Score = r.Score
		out = append(out, ch)
	}
	return out
}

// dedupe collapses candidates sharing a chunk hash, keeping the highest
// score. Input order breaks score ties, so results stay deterministic.
func dedupe(in []store.SearchResult) []store.SearchResult {
	best := make(map[string]int, len(in))
	out := make([]store.SearchResult, 0, len(in))
	for _, r := range in {
		if i, ok := best[r.Chunk.Hash]; ok {
			if r.Score > out[i].Score {
				out[i] = r
			}
			continue
		}
		best[r.Chunk.Hash] = len(out)
		out = append(out, r)
	}
	return out
}

// manifestHashes collects the live file-hash set of a manifest.
func manifestHashes(manifest scanner.Manifest) map[string]bool {
	hashes := make(map[string]bool, len(manifest))
	for _, h := range manifest {
		hashes[h] = true
	}
	return hashes
}

// manifestFilesUnder lists manifest paths under a repo-relative directory,
// sorted for determinism.
func manifestFilesUnder(manifest scanner.Manifest, dir string) []string {
	dir = strings.Trim(path.Clean(dir), "/")
	var files []string
	for p := range manifest {
		if dir == "" || dir == "." || p == dir || strings.HasPrefix(p, dir+"/") {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files
}
