package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/philippgille/chromem-go"

	"github.com/codescope-dev/codescope/internal/chunker"
)

// Filter restricts a vector search to live manifest entries and/or an
// explicit chunk set. Empty sets mean "no restriction".
type Filter struct {
	FileHashes  map[string]bool
	ChunkHashes map[string]bool
}

// KeywordMode selects the lexical matching behavior.
type KeywordMode string

const (
	KeywordExact KeywordMode = "exact"
	KeywordFuzzy KeywordMode = "fuzzy"
	KeywordBM25  KeywordMode = "bm25"
)

// keywordFields are the metadata fields lexical search covers.
var keywordFields = []string{"function_names", "class_names", "basename"}

// overFetchFactor compensates for post-filtering against the manifest.
const overFetchFactor = 4

// UpsertChunks writes chunk records (content + embedding + metadata) keyed
// by chunk hash. Re-upserting an existing hash with different content is
// treated as an update. Each chunk is atomic; a failure mid-batch leaves
// previously written chunks durable.
func (s *Store) UpsertChunks(ctx context.Context, chunks []chunker.Chunk) error {
	coll, keyword, err := s.handles()
	if err != nil {
		return err
	}

	batch := keyword.NewBatch()
	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Delete-then-add gives upsert semantics; AddDocument alone would
		// reject an id collision with differing content.
		_ = coll.Delete(ctx, nil, nil, ch.Hash)
		if err := coll.AddDocument(ctx, chromem.Document{
			ID:        ch.Hash,
			Content:   ch.Content,
			Embedding: ch.Embedding,
			Metadata:  chunkMetadata(ch),
		}); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", ch.Hash, err)
		}
		if err := batch.Index(ch.Hash, keywordDoc(ch)); err != nil {
			return fmt.Errorf("failed to stage keyword doc %s: %w", ch.Hash, err)
		}
	}
	if err := keyword.Batch(batch); err != nil {
		return fmt.Errorf("failed to index keyword batch: %w", err)
	}
	return nil
}

// ExistingHashes reports which of the given chunk hashes are already
// durable, letting the embedding pipeline skip re-embedding.
func (s *Store) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	coll, _, err := s.handles()
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := coll.GetByID(ctx, h); err == nil {
			present[h] = true
		}
	}
	return present, nil
}

// SearchResult is one vector search hit.
type SearchResult struct {
	Chunk chunker.Chunk
	Score float64
}

// VectorSearch returns up to limit nearest chunks by cosine similarity,
// post-filtered by the given Filter. Results are ordered by descending
// score.
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, filter Filter, limit int) ([]SearchResult, error) {
	coll, _, err := s.handles()
	if err != nil {
		return nil, err
	}

	total := coll.Count()
	if total == 0 || limit <= 0 {
		return nil, nil
	}
	n := limit * overFetchFactor
	if n > total {
		n = total
	}

	hits, err := coll.QueryEmbedding(ctx, queryVec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]SearchResult, 0, limit)
	for _, hit := range hits {
		if len(filter.FileHashes) > 0 && !filter.FileHashes[hit.Metadata["file_hash"]] {
			continue
		}
		if len(filter.ChunkHashes) > 0 && !filter.ChunkHashes[hit.ID] {
			continue
		}
		results = append(results, SearchResult{
			Chunk: docToChunk(resultDocument(hit)),
			Score: float64(hit.Similarity),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// KeywordSearch performs a lexical match over chunk metadata, restricted
// to the given manifest file hashes when provided.
func (s *Store) KeywordSearch(ctx context.Context, keyword string, mode KeywordMode, fileHashes map[string]bool, limit int) ([]SearchResult, error) {
	coll, idx, err := s.handles()
	if err != nil {
		return nil, err
	}
	if keyword == "" || limit <= 0 {
		return nil, nil
	}

	var perField []query.Query
	for _, f := range keywordFields {
		q := keywordFieldQuery(keyword, mode, f)
		perField = append(perField, q)
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(perField...), limit*overFetchFactor, 0, false)
	req.Fields = []string{"file_hash"}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]SearchResult, 0, limit)
	for _, hit := range res.Hits {
		if len(fileHashes) > 0 && !fileHashes[fieldString(hit.Fields["file_hash"])] {
			continue
		}
		doc, err := coll.GetByID(ctx, hit.ID)
		if err != nil {
			continue // deleted between index and fetch
		}
		results = append(results, SearchResult{
			Chunk: docToChunk(doc),
			Score: hit.Score,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func keywordFieldQuery(keyword string, mode KeywordMode, field string) query.Query {
	switch mode {
	case KeywordExact:
		q := bleve.NewMatchPhraseQuery(keyword)
		q.SetField(field)
		return q
	case KeywordFuzzy:
		q := bleve.NewFuzzyQuery(strings.ToLower(keyword))
		q.SetField(field)
		q.SetFuzziness(2)
		return q
	default: // KeywordBM25
		q := bleve.NewMatchQuery(keyword)
		q.SetField(field)
		return q
	}
}

// ChunksForFile returns every chunk of a repo-relative file path sorted by
// start line.
func (s *Store) ChunksForFile(ctx context.Context, filePath string) ([]chunker.Chunk, error) {
	coll, idx, err := s.handles()
	if err != nil {
		return nil, err
	}

	tq := bleve.NewTermQuery(filePath)
	tq.SetField("file_path")
	req := bleve.NewSearchRequestOptions(tq, 10000, 0, false)

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("file chunk lookup failed: %w", err)
	}

	chunks := make([]chunker.Chunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := coll.GetByID(ctx, hit.ID)
		if err != nil {
			continue
		}
		chunks = append(chunks, docToChunk(doc))
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].StartLine < chunks[j].StartLine })
	return chunks, nil
}

// GetChunks resolves chunk hashes to full records. Unknown hashes are
// silently omitted.
func (s *Store) GetChunks(ctx context.Context, hashes []string) ([]chunker.Chunk, error) {
	coll, _, err := s.handles()
	if err != nil {
		return nil, err
	}
	out := make([]chunker.Chunk, 0, len(hashes))
	for _, h := range hashes {
		doc, err := coll.GetByID(ctx, h)
		if err != nil {
			continue
		}
		out = append(out, docToChunk(doc))
	}
	return out, nil
}

// DeleteStale removes chunk records whose file hash is absent from every
// live manifest. Used by the full-sync garbage collection pass. Returns
// the number of deleted records.
func (s *Store) DeleteStale(ctx context.Context, liveFileHashes map[string]bool) (int, error) {
	coll, idx, err := s.handles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	from := 0
	const page = 1000
	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), page, from, false)
		req.Fields = []string{"file_hash"}
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return deleted, fmt.Errorf("stale scan failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		var stale []string
		for _, hit := range res.Hits {
			if !liveFileHashes[fieldString(hit.Fields["file_hash"])] {
				stale = append(stale, hit.ID)
			}
		}
		if len(stale) > 0 {
			if err := coll.Delete(ctx, nil, nil, stale...); err != nil {
				return deleted, fmt.Errorf("failed to delete stale chunks: %w", err)
			}
			batch := idx.NewBatch()
			for _, id := range stale {
				batch.Delete(id)
			}
			if err := idx.Batch(batch); err != nil {
				return deleted, fmt.Errorf("failed to delete stale keyword docs: %w", err)
			}
			deleted += len(stale)
		}
		// Deletions shift bleve pagination; restart from the beginning
		// whenever this page removed anything.
		if len(stale) > 0 {
			from = 0
		} else {
			from += page
		}
	}
}

// ChunkCount reports the number of durable chunk records.
func (s *Store) ChunkCount() (int, error) {
	coll, _, err := s.handles()
	if err != nil {
		return 0, err
	}
	return coll.Count(), nil
}

// chunkMetadata flattens a chunk into chromem's string-map metadata.
func chunkMetadata(ch chunker.Chunk) map[string]string {
	md := map[string]string{
		"file_path":  ch.FilePath,
		"file_hash":  ch.FileHash,
		"start_line": strconv.Itoa(ch.StartLine),
		"end_line":   strconv.Itoa(ch.EndLine),
	}
	if ch.Metadata.Language != "" {
		md["language"] = ch.Metadata.Language
	}
	if ch.Metadata.SymbolKind != "" {
		md["symbol_kind"] = ch.Metadata.SymbolKind
	}
	if len(ch.Metadata.FunctionNames) > 0 {
		md["function_names"] = strings.Join(ch.Metadata.FunctionNames, "\n")
	}
	if len(ch.Metadata.ClassNames) > 0 {
		md["class_names"] = strings.Join(ch.Metadata.ClassNames, "\n")
	}
	if len(ch.Metadata.Imports) > 0 {
		md["imports"] = strings.Join(ch.Metadata.Imports, "\n")
	}
	return md
}

// resultDocument rebuilds the stored document carried inside a query hit.
func resultDocument(res chromem.Result) chromem.Document {
	return chromem.Document{
		ID:        res.ID,
		Content:   res.Content,
		Embedding: res.Embedding,
		Metadata:  res.Metadata,
	}
}

// docToChunk reconstructs a chunk from its stored document.
func docToChunk(doc chromem.Document) chunker.Chunk {
	start, _ := strconv.Atoi(doc.Metadata["start_line"])
	end, _ := strconv.Atoi(doc.Metadata["end_line"])
	ch := chunker.Chunk{
		Hash:      doc.ID,
		Content:   doc.Content,
		FilePath:  doc.Metadata["file_path"],
		FileHash:  doc.Metadata["file_hash"],
		StartLine: start,
		EndLine:   end,
		Embedding: doc.Embedding,
		Metadata: chunker.Metadata{
			Language:   doc.Metadata["language"],
			SymbolKind: doc.Metadata["symbol_kind"],
		},
	}
	if v := doc.Metadata["function_names"]; v != "" {
		ch.Metadata.FunctionNames = strings.Split(v, "\n")
	}
	if v := doc.Metadata["class_names"]; v != "" {
		ch.Metadata.ClassNames = strings.Split(v, "\n")
	}
	if v := doc.Metadata["imports"]; v != "" {
		ch.Metadata.Imports = strings.Split(v, "\n")
	}
	return ch
}

// keywordDoc is the bleve document for one chunk.
func keywordDoc(ch chunker.Chunk) map[string]interface{} {
	return map[string]interface{}{
		"file_path":      ch.FilePath,
		"file_hash":      ch.FileHash,
		"basename":       path.Base(ch.FilePath),
		"function_names": ch.Metadata.FunctionNames,
		"class_names":    ch.Metadata.ClassNames,
		"language":       ch.Metadata.Language,
		"symbol_kind":    ch.Metadata.SymbolKind,
		"start_line":     float64(ch.StartLine),
		"end_line":       float64(ch.EndLine),
	}
}

// fieldString normalizes a bleve stored field to a string.
func fieldString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
