package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/philippgille/chromem-go"
)

// URLRecord is one saved URL content entry.
type URLRecord struct {
	URL          string    `json:"url"`
	Name         string    `json:"name"`
	Content      string    `json:"content"` // markdown
	ContentHash  string    `json:"content_hash"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	LastIndexed  time.Time `json:"last_indexed"`
	BackendID    string    `json:"backend_id,omitempty"`
}

// urlID derives the document id for a URL.
func urlID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "url-" + hex.EncodeToString(sum[:])
}

// SaveURL upserts a URL content record. The embedding enables semantic
// URL search and must be supplied by the caller.
func (s *Store) SaveURL(ctx context.Context, rec URLRecord, embedding []float32) error {
	urls, err := s.urlHandle()
	if err != nil {
		return err
	}
	_, keyword, err := s.handles()
	if err != nil {
		return err
	}

	id := urlID(rec.URL)
	_ = urls.Delete(ctx, nil, nil, id)
	if err := urls.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   rec.Content,
		Embedding: embedding,
		Metadata: map[string]string{
			"url":           rec.URL,
			"name":          rec.Name,
			"content_hash":  rec.ContentHash,
			"etag":          rec.ETag,
			"last_modified": rec.LastModified,
			"last_indexed":  rec.LastIndexed.UTC().Format(time.RFC3339),
			"backend_id":    rec.BackendID,
		},
	}); err != nil {
		return fmt.Errorf("failed to save url %s: %w", rec.URL, err)
	}

	// The keyword index doubles as the enumerable URL catalog; chunk
	// documents never carry doc_type, so these stay disjoint.
	if err := keyword.Index(id, map[string]interface{}{
		"doc_type":     "url",
		"url":          rec.URL,
		"name":         rec.Name,
		"content_hash": rec.ContentHash,
		"last_indexed": rec.LastIndexed.UTC().Format(time.RFC3339),
		"backend_id":   rec.BackendID,
	}); err != nil {
		return fmt.Errorf("failed to catalog url %s: %w", rec.URL, err)
	}
	return nil
}

// GetURL loads one record by URL. Returns (record, false, nil) when absent.
func (s *Store) GetURL(ctx context.Context, url string) (URLRecord, bool, error) {
	urls, err := s.urlHandle()
	if err != nil {
		return URLRecord{}, false, err
	}
	doc, err := urls.GetByID(ctx, urlID(url))
	if err != nil {
		return URLRecord{}, false, nil
	}
	return docToURLRecord(doc), true, nil
}

// ListURLs enumerates saved URL records, newest first.
func (s *Store) ListURLs(ctx context.Context) ([]URLRecord, error) {
	urls, keyword, err := s.urlAndKeyword()
	if err != nil {
		return nil, err
	}

	tq := bleve.NewTermQuery("url")
	tq.SetField("doc_type")
	req := bleve.NewSearchRequestOptions(tq, 10000, 0, false)
	req.Fields = []string{"url"}

	res, err := keyword.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("url list failed: %w", err)
	}

	out := make([]URLRecord, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := urls.GetByID(ctx, hit.ID)
		if err != nil {
			continue
		}
		out = append(out, docToURLRecord(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastIndexed.After(out[j].LastIndexed) })
	return out, nil
}

// SearchURLs runs a semantic search over saved URL contents.
func (s *Store) SearchURLs(ctx context.Context, queryVec []float32, limit int) ([]URLRecord, []float64, error) {
	urls, err := s.urlHandle()
	if err != nil {
		return nil, nil, err
	}
	total := urls.Count()
	if total == 0 || limit <= 0 {
		return nil, nil, nil
	}
	if limit > total {
		limit = total
	}
	hits, err := urls.QueryEmbedding(ctx, queryVec, limit, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("url search failed: %w", err)
	}
	recs := make([]URLRecord, 0, len(hits))
	scores := make([]float64, 0, len(hits))
	for _, hit := range hits {
		recs = append(recs, docToURLRecord(resultDocument(hit)))
		scores = append(scores, float64(hit.Similarity))
	}
	return recs, scores, nil
}

// DeleteURL removes a saved URL record. Deleting an absent URL is a no-op.
func (s *Store) DeleteURL(ctx context.Context, url string) error {
	urls, keyword, err := s.urlAndKeyword()
	if err != nil {
		return err
	}
	id := urlID(url)
	if err := urls.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete url %s: %w", url, err)
	}
	if err := keyword.Delete(id); err != nil {
		return fmt.Errorf("failed to uncatalog url %s: %w", url, err)
	}
	return nil
}

func (s *Store) urlAndKeyword() (*chromem.Collection, bleve.Index, error) {
	urls, err := s.urlHandle()
	if err != nil {
		return nil, nil, err
	}
	_, keyword, err := s.handles()
	if err != nil {
		return nil, nil, err
	}
	return urls, keyword, nil
}

func docToURLRecord(doc chromem.Document) URLRecord {
	indexed, _ := time.Parse(time.RFC3339, doc.Metadata["last_indexed"])
	return URLRecord{
		URL:          doc.Metadata["url"],
		Name:         doc.Metadata["name"],
		Content:      doc.Content,
		ContentHash:  doc.Metadata["content_hash"],
		ETag:         doc.Metadata["etag"],
		LastModified: doc.Metadata["last_modified"],
		LastIndexed:  indexed,
		BackendID:    doc.Metadata["backend_id"],
	}
}
