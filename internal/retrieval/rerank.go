package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codescope-dev/codescope/internal/store"
)

// Reranker calls a remote service that re-orders candidate chunks for a
// query. Candidates are identified by their denotation, the chunk hash,
// which stays stable across re-embedding.
type Reranker struct {
	endpoint string
	httpc    *http.Client
}

// NewReranker creates a client for the configured re-rank endpoint.
func NewReranker(endpoint string, timeout time.Duration) *Reranker {
	return &Reranker{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
	}
}

type rerankChunk struct {
	Denotation string `json:"denotation"`
	FilePath   string `json:"file_path"`
	Content    string `json:"content"`
}

type rerankRequest struct {
	Query  string        `json:"query"`
	Chunks []rerankChunk `json:"chunks"`
	Focus  []string      `json:"focus,omitempty"`
}

type rerankResponse struct {
	Denotations []string `json:"denotations"`
}

// Rerank submits candidates and returns them in the service's order,
// intersected by denotation. Denotations the service invents are ignored;
// candidates it drops are dropped.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []store.SearchResult, focus []string) ([]store.SearchResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	req := rerankRequest{Query: query, Focus: focus}
	byDenotation := make(map[string]store.SearchResult, len(candidates))
	for _, c := range candidates {
		byDenotation[c.Chunk.Hash] = c
		req.Chunks = append(req.Chunks, rerankChunk{
			Denotation: c.Chunk.Hash,
			FilePath:   c.Chunk.FilePath,
			Content:    c.Chunk.Content,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rerank service error %d: %s", resp.StatusCode, string(msg))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	ranked := make([]store.SearchResult, 0, len(out.Denotations))
	for _, d := range out.Denotations {
		if c, ok := byDenotation[d]; ok {
			ranked = append(ranked, c)
		}
	}
	return ranked, nil
}
