package server

import (
	"context"
	"sync"

	"github.com/codescope-dev/codescope/internal/authtoken"
	"github.com/codescope-dev/codescope/internal/config"
	"github.com/codescope-dev/codescope/internal/embedder"
)

// embeddingTokenName is the broker entry the embedding client draws from.
const embeddingTokenName = "embedding"

// swappableEmbedder lets /init swap the embedding endpoint without
// rebuilding everything that holds the client.
type swappableEmbedder struct {
	broker *authtoken.Broker

	mu    sync.RWMutex
	inner embedder.Client
}

func newSwappableEmbedder(cfg *config.Config, broker *authtoken.Broker) *swappableEmbedder {
	return &swappableEmbedder{
		broker: broker,
		inner:  buildEmbedder(cfg, broker),
	}
}

func buildEmbedder(cfg *config.Config, broker *authtoken.Broker) embedder.Client {
	return embedder.NewHTTPClient(
		cfg.Embedding.Endpoint,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		cfg.Embedding.Timeout,
		authtoken.Source{Broker: broker, Name: embeddingTokenName},
	)
}

func (s *swappableEmbedder) rebuild(cfg *config.Config) {
	s.mu.Lock()
	s.inner = buildEmbedder(cfg, s.broker)
	s.mu.Unlock()
}

func (s *swappableEmbedder) current() embedder.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner
}

func (s *swappableEmbedder) Embed(ctx context.Context, texts []string, mode embedder.Mode) ([][]float32, error) {
	return s.current().Embed(ctx, texts, mode)
}

func (s *swappableEmbedder) Dimensions() int {
	return s.current().Dimensions()
}
