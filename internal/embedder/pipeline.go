package embedder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/store"
)

// ProgressReporter receives chunk-granular pipeline progress. Progress is
// counted in chunks, not batches, so large batches cannot stall the UI.
type ProgressReporter interface {
	OnStart(totalChunks int)
	OnProgress(completedChunks int)
}

// NoOpProgressReporter discards progress.
type NoOpProgressReporter struct{}

func (NoOpProgressReporter) OnStart(int)    {}
func (NoOpProgressReporter) OnProgress(int) {}

// Pipeline embeds chunks lacking vectors and upserts them into the store.
type Pipeline struct {
	client      Client
	store       *store.Store
	maxParallel int
	tokenBudget int
	retryLimit  int
}

// NewPipeline wires the pipeline. maxParallel bounds in-flight batches;
// tokenBudget bounds the estimated token size of one batch.
func NewPipeline(client Client, st *store.Store, maxParallel, tokenBudget, retryLimit int) *Pipeline {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if tokenBudget < 1 {
		tokenBudget = 8000
	}
	if retryLimit < 0 {
		retryLimit = 0
	}
	return &Pipeline{
		client:      client,
		store:       st,
		maxParallel: maxParallel,
		tokenBudget: tokenBudget,
		retryLimit:  retryLimit,
	}
}

// Run embeds and upserts chunks. Chunk hashes already durable in the
// store are skipped unless fullRefresh is set. Permanent failures of one
// batch do not stop other batches; they are joined into the returned
// error. On cancellation, in-flight batches are awaited, then Run returns.
func (p *Pipeline) Run(ctx context.Context, chunks []chunker.Chunk, fullRefresh bool, progress ProgressReporter) error {
	if progress == nil {
		progress = NoOpProgressReporter{}
	}

	pending := chunks
	if !fullRefresh {
		var err error
		pending, err = p.filterExisting(ctx, chunks)
		if err != nil {
			return err
		}
	}

	progress.OnStart(len(chunks))
	completed := int64(len(chunks) - len(pending)) // already durable
	if completed > 0 {
		progress.OnProgress(int(completed))
	}
	if len(pending) == 0 {
		return nil
	}

	batches := p.partition(pending)

	var (
		mu          sync.Mutex
		batchErrs   []error
		completedAt = &completed
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.runBatch(gctx, batch); err != nil {
				// Auth expiry and cancellation abort the whole run;
				// anything else fails this batch only.
				if errors.Is(err, apperror.ErrAuthExpired) || errors.Is(err, context.Canceled) {
					return err
				}
				log.Printf("embedder: batch of %d chunks failed permanently: %v", len(batch), err)
				mu.Lock()
				batchErrs = append(batchErrs, err)
				mu.Unlock()
				return nil
			}
			done := atomic.AddInt64(completedAt, int64(len(batch)))
			progress.OnProgress(int(done))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(batchErrs...)
}

// filterExisting drops chunks whose hashes are already durable.
func (p *Pipeline) filterExisting(ctx context.Context, chunks []chunker.Chunk) ([]chunker.Chunk, error) {
	hashes := make([]string, len(chunks))
	for i, ch := range chunks {
		hashes[i] = ch.Hash
	}
	present, err := p.store.ExistingHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	pending := make([]chunker.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if !present[ch.Hash] {
			pending = append(pending, ch)
		}
	}
	return pending, nil
}

// partition splits chunks into batches within the token budget. A single
// chunk over budget still forms its own batch.
func (p *Pipeline) partition(chunks []chunker.Chunk) [][]chunker.Chunk {
	var batches [][]chunker.Chunk
	var current []chunker.Chunk
	budget := 0

	for _, ch := range chunks {
		cost := estimateTokens(ch.Content)
		if len(current) > 0 && budget+cost > p.tokenBudget {
			batches = append(batches, current)
			current = nil
			budget = 0
		}
		current = append(current, ch)
		budget += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// runBatch embeds one batch with retries, then upserts it. Upsert is
// atomic per chunk hash, so a failure here leaves no partial chunk.
func (p *Pipeline) runBatch(ctx context.Context, batch []chunker.Chunk) error {
	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Content
	}

	var vectors [][]float32
	operation := func() error {
		var err error
		vectors, err = p.client.Embed(ctx, texts, ModePassage)
		if err == nil {
			return nil
		}
		if errors.Is(err, apperror.ErrRateLimited) || errors.Is(err, errTransient) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.retryLimit)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}

	for i := range batch {
		batch[i].Embedding = vectors[i]
	}
	if err := p.store.UpsertChunks(ctx, batch); err != nil {
		return fmt.Errorf("failed to upsert embedded batch: %w", err)
	}
	return nil
}

// estimateTokens approximates token count as chars/4.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
