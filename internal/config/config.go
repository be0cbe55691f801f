// Package config defines the daemon configuration schema and loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Indexing  IndexingConfig  `mapstructure:"indexing"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Rerank    RerankConfig    `mapstructure:"rerank"`
	Reader    ReaderConfig    `mapstructure:"reader"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Long indexing jobs run over a single request; all server timeouts
	// are fixed high to accommodate them.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StoreConfig controls the embedded vector store.
type StoreConfig struct {
	DataDir           string        `mapstructure:"data_dir"`
	SchemaVersion     int           `mapstructure:"schema_version"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatGrace    time.Duration `mapstructure:"heartbeat_grace"`
}

// IndexingConfig controls scanning, chunking, and the embedding pipeline.
type IndexingConfig struct {
	Workers          int      `mapstructure:"workers"`
	ChunkCharBudget  int      `mapstructure:"chunk_char_budget"`
	MaxParallelTasks int      `mapstructure:"max_parallel_tasks"`
	BatchTokenBudget int      `mapstructure:"batch_token_budget"`
	RetryLimit       int      `mapstructure:"retry_limit"`
	IgnorePatterns   []string `mapstructure:"ignore_patterns"`
}

// RetrievalConfig controls result shaping.
type RetrievalConfig struct {
	NumberOfChunks int  `mapstructure:"number_of_chunks"`
	RerankEnabled  bool `mapstructure:"rerank_enabled"`
}

// EmbeddingConfig points at the remote embedding service.
type EmbeddingConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RerankConfig points at the remote re-ranking service.
type RerankConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ReaderConfig controls the file reader surface.
type ReaderConfig struct {
	SummaryLineThreshold int `mapstructure:"summary_line_threshold"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8001,
			RequestTimeout: 3000 * time.Second,
		},
		Store: StoreConfig{
			DataDir:           defaultDataDir(),
			SchemaVersion:     3,
			HeartbeatInterval: 3 * time.Second,
			HeartbeatGrace:    9 * time.Second,
		},
		Indexing: IndexingConfig{
			Workers:          1,
			ChunkCharBudget:  1600,
			MaxParallelTasks: 60,
			BatchTokenBudget: 8000,
			RetryLimit:       3,
		},
		Retrieval: RetrievalConfig{
			NumberOfChunks: 20,
			RerankEnabled:  false,
		},
		Embedding: EmbeddingConfig{
			Endpoint:   "http://127.0.0.1:8111/v1/embeddings",
			Model:      "code-embed-small",
			Dimensions: 384,
			Timeout:    60 * time.Second,
		},
		Rerank: RerankConfig{
			Endpoint: "http://127.0.0.1:8111/v1/rerank",
			Timeout:  60 * time.Second,
		},
		Reader: ReaderConfig{
			SummaryLineThreshold: 400,
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store data_dir is required")
	}
	if c.Indexing.Workers < 1 {
		return fmt.Errorf("indexing workers must be >= 1, got %d", c.Indexing.Workers)
	}
	if c.Indexing.ChunkCharBudget < 64 {
		return fmt.Errorf("chunk_char_budget must be >= 64, got %d", c.Indexing.ChunkCharBudget)
	}
	if c.Indexing.MaxParallelTasks < 1 {
		return fmt.Errorf("max_parallel_tasks must be >= 1, got %d", c.Indexing.MaxParallelTasks)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("embedding dimensions must be >= 1, got %d", c.Embedding.Dimensions)
	}
	if c.Retrieval.NumberOfChunks < 1 {
		return fmt.Errorf("number_of_chunks must be >= 1, got %d", c.Retrieval.NumberOfChunks)
	}
	return nil
}

// defaultDataDir returns ~/.codescope, falling back to a relative
// directory when the home directory cannot be resolved.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codescope"
	}
	return filepath.Join(home, ".codescope")
}
