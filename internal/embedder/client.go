// Package embedder talks to the remote embedding service and drives the
// batched embed-and-upsert pipeline.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codescope-dev/codescope/internal/apperror"
)

// Mode selects query- or passage-optimized embeddings.
type Mode string

const (
	ModeQuery   Mode = "query"
	ModePassage Mode = "passage"
)

// Client converts text into vectors. Implementations may be remote
// services or test fakes.
type Client interface {
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	Dimensions() int
}

// TokenSource supplies and persists the bearer token for the remote
// service. The auth token broker implements it.
type TokenSource interface {
	Token() (string, error)
	Store(token string) error
}

// refreshedTokenHeader carries a replacement token on auth failures; when
// present the client persists it and retries once.
const refreshedTokenHeader = "X-Refreshed-Token"

// HTTPClient is the production embedding client.
type HTTPClient struct {
	endpoint   string
	model      string
	dimensions int
	httpc      *http.Client
	tokens     TokenSource
}

// NewHTTPClient creates a client for the configured embedding endpoint.
// tokens may be nil for unauthenticated endpoints.
func NewHTTPClient(endpoint, model string, dimensions int, timeout time.Duration, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		httpc:      &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
}

// Dimensions returns the vector dimensionality of the configured model.
func (c *HTTPClient) Dimensions() int { return c.dimensions }

type embedRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
	Mode   Mode     `json:"mode"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed requests vectors for texts. Classified failures:
// ErrAuthExpired (401 without usable refresh), ErrRateLimited (429),
// wrapped remote errors otherwise.
func (c *HTTPClient) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	vectors, err := c.embedOnce(ctx, texts, mode, true)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

func (c *HTTPClient) embedOnce(ctx context.Context, texts []string, mode Mode, allowRefresh bool) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Inputs: texts, Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to decode embed response: %w", err)
		}
		return out.Embeddings, nil

	case resp.StatusCode == http.StatusUnauthorized:
		if refreshed := resp.Header.Get(refreshedTokenHeader); refreshed != "" && allowRefresh && c.tokens != nil {
			if err := c.tokens.Store(refreshed); err != nil {
				return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
			}
			return c.embedOnce(ctx, texts, mode, false)
		}
		return nil, apperror.ErrAuthExpired

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperror.ErrRateLimited

	case resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding service error %d: %s: %w", resp.StatusCode, string(msg), errTransient)

	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &apperror.Error{
			Code:    "embedding_failed",
			Type:    apperror.TypeRemoteService,
			Message: fmt.Sprintf("embedding service rejected request (%d): %s", resp.StatusCode, string(msg)),
		}
	}
}

// errTransient marks retryable remote failures.
var errTransient = fmt.Errorf("transient remote error")
