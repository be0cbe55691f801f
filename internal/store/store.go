// Package store wraps the embedded vector database and the lexical
// metadata index behind one durable, reconnectable handle.
package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/philippgille/chromem-go"

	"github.com/codescope-dev/codescope/internal/apperror"
)

const (
	chunksCollection = "chunks"
	urlsCollection   = "url_contents"
	metaCollection   = "meta"

	schemaDocID = "schema_version"
)

// localEmbedding replaces chromem's default (remote) embedding func on
// every collection. All documents carry caller-supplied vectors; anything
// that reaches this func is a bug, not a reason to call out to a service.
func localEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("document added without an embedding")
}

// schemaEmbedding is the fixed vector for the schema-version document; it
// is never queried.
var schemaEmbedding = []float32{1}

// Store owns the chromem-go vector database (content + embeddings) and the
// bleve index (lexical metadata). One handle is shared process-wide; the
// heartbeat swaps it on liveness failure.
type Store struct {
	dataDir       string
	schemaVersion int
	dimensions    int

	mu      sync.RWMutex // guards the handles below across reconnects
	db      *chromem.DB
	chunks  *chromem.Collection
	urls    *chromem.Collection
	meta    *chromem.Collection
	keyword bleve.Index

	reconnecting atomic.Bool
	closed       atomic.Bool
}

// Open initializes the store under dataDir. recreated is true when the
// on-disk schema version differed and all collections were dropped; the
// caller should refill URL contents from upstream.
func Open(dataDir string, schemaVersion, dimensions int) (s *Store, recreated bool, err error) {
	if dataDir == "" {
		return nil, false, fmt.Errorf("store data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("failed to create data dir: %w", err)
	}

	s = &Store{
		dataDir:       dataDir,
		schemaVersion: schemaVersion,
		dimensions:    dimensions,
	}

	recreated, err = s.connect()
	if err != nil {
		return nil, false, err
	}
	return s, recreated, nil
}

// connect opens (or reopens) the underlying databases. Caller must not
// hold s.mu.
func (s *Store) connect() (recreated bool, err error) {
	db, err := chromem.NewPersistentDB(filepath.Join(s.dataDir, "vectordb"), false)
	if err != nil {
		return false, fmt.Errorf("failed to open vector db: %w", err)
	}

	meta, err := db.GetOrCreateCollection(metaCollection, nil, localEmbedding)
	if err != nil {
		return false, fmt.Errorf("failed to open meta collection: %w", err)
	}

	if ver, ok := s.storedSchemaVersion(meta); ok && ver != s.schemaVersion {
		log.Printf("store: schema version %d != expected %d, recreating", ver, s.schemaVersion)
		if err := db.Reset(); err != nil {
			return false, fmt.Errorf("%w: reset failed: %v", apperror.ErrSchemaMismatch, err)
		}
		if err := os.RemoveAll(s.keywordPath()); err != nil {
			return false, fmt.Errorf("failed to drop keyword index: %w", err)
		}
		recreated = true
		meta, err = db.GetOrCreateCollection(metaCollection, nil, localEmbedding)
		if err != nil {
			return false, fmt.Errorf("failed to recreate meta collection: %w", err)
		}
	}

	if err := meta.AddDocument(context.Background(), chromem.Document{
		ID:        schemaDocID,
		Content:   strconv.Itoa(s.schemaVersion),
		Embedding: schemaEmbedding,
	}); err != nil {
		return false, fmt.Errorf("failed to record schema version: %w", err)
	}

	chunks, err := db.GetOrCreateCollection(chunksCollection, nil, localEmbedding)
	if err != nil {
		return false, fmt.Errorf("failed to open chunks collection: %w", err)
	}
	urls, err := db.GetOrCreateCollection(urlsCollection, nil, localEmbedding)
	if err != nil {
		return false, fmt.Errorf("failed to open urls collection: %w", err)
	}

	keyword, err := openKeywordIndex(s.keywordPath())
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.keyword != nil {
		s.keyword.Close()
	}
	s.db = db
	s.meta = meta
	s.chunks = chunks
	s.urls = urls
	s.keyword = keyword
	s.mu.Unlock()

	return recreated, nil
}

func (s *Store) storedSchemaVersion(meta *chromem.Collection) (int, bool) {
	doc, err := meta.GetByID(context.Background(), schemaDocID)
	if err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(doc.Content)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *Store) keywordPath() string {
	return filepath.Join(s.dataDir, "keyword.bleve")
}

// openKeywordIndex opens the persistent bleve index, creating it with the
// chunk metadata mapping on first use.
func openKeywordIndex(path string) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	if err != bleve.ErrorIndexPathDoesNotExist {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}
	idx, err = bleve.New(path, keywordMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return idx, nil
}

func keywordMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()

	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	kw := bleve.NewKeywordFieldMapping()
	num := bleve.NewNumericFieldMapping()

	doc.AddFieldMappingsAt("function_names", text)
	doc.AddFieldMappingsAt("class_names", text)
	doc.AddFieldMappingsAt("basename", text)
	doc.AddFieldMappingsAt("file_path", kw)
	doc.AddFieldMappingsAt("file_hash", kw)
	doc.AddFieldMappingsAt("language", kw)
	doc.AddFieldMappingsAt("symbol_kind", kw)
	doc.AddFieldMappingsAt("start_line", num)
	doc.AddFieldMappingsAt("end_line", num)

	m.DefaultMapping = doc
	return m
}

// Ping probes liveness of the underlying handles. It is cheap and safe to
// call concurrently with any operation.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return apperror.ErrStoreUnavailable
	}
	s.mu.RLock()
	chunks, keyword := s.chunks, s.keyword
	s.mu.RUnlock()

	if chunks == nil || keyword == nil {
		return apperror.ErrStoreUnavailable
	}
	// Count touches the collection's internal state; DocCount touches the
	// bleve store. Either failing means the handle needs a rebuild.
	_ = chunks.Count()
	if _, err := keyword.DocCount(); err != nil {
		return fmt.Errorf("%w: keyword index: %v", apperror.ErrStoreUnavailable, err)
	}
	return ctx.Err()
}

// Reconnect rebuilds the handles. Concurrent calls collapse to one; the
// losers return immediately and observe the winner's result on next use.
func (s *Store) Reconnect() error {
	if s.closed.Load() {
		return apperror.ErrStoreUnavailable
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		return nil
	}
	defer s.reconnecting.Store(false)

	if _, err := s.connect(); err != nil {
		return fmt.Errorf("reconnect failed: %w", err)
	}
	log.Printf("store: reconnected")
	return nil
}

// Dimensions returns the embedding dimensionality the store was opened with.
func (s *Store) Dimensions() int { return s.dimensions }

// Close releases the handles. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyword != nil {
		if err := s.keyword.Close(); err != nil {
			return fmt.Errorf("failed to close keyword index: %w", err)
		}
		s.keyword = nil
	}
	// chromem-go persists on write and needs no explicit shutdown.
	s.db = nil
	s.chunks = nil
	s.urls = nil
	s.meta = nil
	return nil
}

// handles returns the current collection handles for one operation.
func (s *Store) handles() (*chromem.Collection, bleve.Index, error) {
	if s.closed.Load() {
		return nil, nil, apperror.ErrStoreUnavailable
	}
	s.mu.RLock()
	chunks, keyword := s.chunks, s.keyword
	s.mu.RUnlock()
	if chunks == nil || keyword == nil {
		return nil, nil, apperror.ErrStoreUnavailable
	}
	return chunks, keyword, nil
}

func (s *Store) urlHandle() (*chromem.Collection, error) {
	if s.closed.Load() {
		return nil, apperror.ErrStoreUnavailable
	}
	s.mu.RLock()
	urls := s.urls
	s.mu.RUnlock()
	if urls == nil {
		return nil, apperror.ErrStoreUnavailable
	}
	return urls, nil
}
