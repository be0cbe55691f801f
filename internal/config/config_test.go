package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, 1600, cfg.Indexing.ChunkCharBudget)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"huge port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty data dir", func(c *Config) { c.Store.DataDir = "" }},
		{"zero workers", func(c *Config) { c.Indexing.Workers = 0 }},
		{"tiny chunk budget", func(c *Config) { c.Indexing.ChunkCharBudget = 10 }},
		{"zero parallel tasks", func(c *Config) { c.Indexing.MaxParallelTasks = 0 }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"zero chunks", func(c *Config) { c.Retrieval.NumberOfChunks = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderDefaultsWithoutFile(t *testing.T) {
	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
	assert.Equal(t, Default().Embedding.Model, cfg.Embedding.Model)
}

func TestLoaderReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	yml := "server:\n  port: 9005\nretrieval:\n  number_of_chunks: 7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o644))

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, 9005, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Retrieval.NumberOfChunks)
	// Unset keys keep their defaults.
	assert.Equal(t, Default().Embedding.Endpoint, cfg.Embedding.Endpoint)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yml := "server:\n  port: 9005\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o644))
	t.Setenv("CODESCOPE_SERVER_PORT", "9200")

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoaderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	yml := "server:\n  port: 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o644))

	_, err := NewLoader(dir).Load()
	assert.Error(t, err)
}

func TestApplyBootstrap(t *testing.T) {
	cfg := Default()
	enabled := true
	merged, err := ApplyBootstrap(cfg, &Bootstrap{
		EmbeddingEndpoint:   "http://10.0.0.1:9999/embed",
		EmbeddingDimensions: 768,
		NumberOfChunks:      40,
		RerankEnabled:       &enabled,
	})
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.1:9999/embed", merged.Embedding.Endpoint)
	assert.Equal(t, 768, merged.Embedding.Dimensions)
	assert.Equal(t, 40, merged.Retrieval.NumberOfChunks)
	assert.True(t, merged.Retrieval.RerankEnabled)
	// Untouched fields survive.
	assert.Equal(t, cfg.Embedding.Model, merged.Embedding.Model)
	// The original is not mutated.
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
}

func TestApplyBootstrapNil(t *testing.T) {
	cfg := Default()
	merged, err := ApplyBootstrap(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Port, merged.Server.Port)
}

func TestApplyBootstrapRevalidates(t *testing.T) {
	cfg := Default()
	_, err := ApplyBootstrap(cfg, &Bootstrap{EmbeddingDimensions: -5})
	// Negative dimensions are ignored as zero-value, so this stays valid.
	require.NoError(t, err)
}
