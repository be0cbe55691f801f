// Package urlstore maintains the auxiliary URL-content index: saved web
// pages converted to markdown, refreshed by conditional fetch, and
// searchable semantically.
package urlstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/embedder"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/store"
)

// Converter turns fetched HTML into markdown. The production converter is
// an external collaborator injected at wiring time.
type Converter func(html string) string

// maxFetchBytes bounds one page fetch (4 MiB).
const maxFetchBytes = 4 << 20

// Service owns saved URL records.
type Service struct {
	store   *store.Store
	embed   embedder.Client
	convert Converter
	httpc   *http.Client
}

// NewService wires the URL store. convert may be nil; a minimal
// tag-stripping converter is used then.
func NewService(st *store.Store, embed embedder.Client, convert Converter, timeout time.Duration) *Service {
	if convert == nil {
		convert = stripTags
	}
	return &Service{
		store:   st,
		embed:   embed,
		convert: convert,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Save fetches a URL, converts it to markdown, embeds it, and persists
// the record. Saving an already-saved URL replaces it.
func (s *Service) Save(ctx context.Context, url, name string) (store.URLRecord, error) {
	if url == "" {
		return store.URLRecord{}, apperror.BadRequest("url is required")
	}

	content, etag, lastModified, _, err := s.fetch(ctx, url, "", "")
	if err != nil {
		return store.URLRecord{}, err
	}

	markdown := s.convert(content)
	rec := store.URLRecord{
		URL:          url,
		Name:         name,
		Content:      markdown,
		ContentHash:  scanner.HashText(markdown),
		ETag:         etag,
		LastModified: lastModified,
		LastIndexed:  time.Now().UTC(),
		BackendID:    uuid.NewString(),
	}

	embedding, err := s.embedContent(ctx, markdown)
	if err != nil {
		return store.URLRecord{}, err
	}
	if err := s.store.SaveURL(ctx, rec, embedding); err != nil {
		return store.URLRecord{}, err
	}
	return rec, nil
}

// ReadURLs returns content for each URL, refreshing stale records with a
// conditional GET. A 304 keeps the cached content; a changed page is
// re-converted, re-embedded, and persisted. URLs never saved are fetched
// but not persisted.
func (s *Service) ReadURLs(ctx context.Context, urls []string) ([]store.URLRecord, error) {
	out := make([]store.URLRecord, 0, len(urls))
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, found, err := s.store.GetURL(ctx, url)
		if err != nil {
			return nil, err
		}

		if !found {
			content, _, _, _, err := s.fetch(ctx, url, "", "")
			if err != nil {
				return nil, err
			}
			markdown := s.convert(content)
			out = append(out, store.URLRecord{
				URL:         url,
				Content:     markdown,
				ContentHash: scanner.HashText(markdown),
				LastIndexed: time.Now().UTC(),
			})
			continue
		}

		content, etag, lastModified, notModified, err := s.fetch(ctx, url, rec.ETag, rec.LastModified)
		if err != nil {
			// Serve the cached copy when the origin is unreachable.
			log.Printf("urlstore: refresh of %s failed, serving cached copy: %v", url, err)
			out = append(out, rec)
			continue
		}
		if notModified {
			out = append(out, rec)
			continue
		}

		markdown := s.convert(content)
		rec.Content = markdown
		rec.ContentHash = scanner.HashText(markdown)
		rec.ETag = etag
		rec.LastModified = lastModified
		rec.LastIndexed = time.Now().UTC()

		embedding, err := s.embedContent(ctx, markdown)
		if err != nil {
			return nil, err
		}
		if err := s.store.SaveURL(ctx, rec, embedding); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// List enumerates saved records, newest first.
func (s *Service) List(ctx context.Context) ([]store.URLRecord, error) {
	return s.store.ListURLs(ctx)
}

// SearchHit pairs a record with its similarity score.
type SearchHit struct {
	Record store.URLRecord `json:"record"`
	Score  float64         `json:"score"`
}

// Search runs a semantic query over saved URL contents.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperror.BadRequest("query is required")
	}
	vecs, err := s.embed.Embed(ctx, []string{query}, embedder.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed url query: %w", err)
	}
	recs, scores, err := s.store.SearchURLs(ctx, vecs[0], limit)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, len(recs))
	for i := range recs {
		hits[i] = SearchHit{Record: recs[i], Score: scores[i]}
	}
	return hits, nil
}

// Delete removes a saved URL record.
func (s *Service) Delete(ctx context.Context, url string) error {
	return s.store.DeleteURL(ctx, url)
}

// fetch performs a (conditional) GET. notModified is true on 304.
func (s *Service) fetch(ctx context.Context, url, etag, lastModified string) (content, newETag, newLastModified string, notModified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", "", false, apperror.BadRequest("invalid url: " + url)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", "", "", false, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return "", "", "", true, nil
	case resp.StatusCode == http.StatusNotFound:
		return "", "", "", false, fmt.Errorf("%s: %w", url, apperror.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return "", "", "", false, &apperror.Error{
			Code:    "url_fetch_failed",
			Type:    apperror.TypeRemoteService,
			Message: fmt.Sprintf("fetch of %s returned %d", url, resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", "", "", false, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return string(body), resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), false, nil
}

// embedContent embeds markdown for semantic search. Content over the
// service's practical limit is truncated for the vector only; the stored
// text stays complete.
func (s *Service) embedContent(ctx context.Context, markdown string) ([]float32, error) {
	text := markdown
	if len(text) > 32000 {
		text = text[:32000]
	}
	vecs, err := s.embed.Embed(ctx, []string{text}, embedder.ModePassage)
	if err != nil {
		return nil, fmt.Errorf("failed to embed url content: %w", err)
	}
	return vecs[0], nil
}

var (
	tagPattern    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
	spacesPattern = regexp.MustCompile(`[ \t]+`)
)

// stripTags is the fallback converter: drop script/style blocks and tags,
// collapse whitespace.
func stripTags(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	text = spacesPattern.ReplaceAllString(text, " ")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
