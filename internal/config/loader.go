package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads configuration from file and environment.
type Loader interface {
	// Load loads configuration with priority:
	// defaults -> config file -> environment variables (env wins).
	// A bootstrap payload received at /init is applied on top by the
	// session coordinator, not here.
	Load() (*Config, error)
}

type loader struct {
	configDir string
}

// NewLoader creates a loader reading <configDir>/config.yml.
// An empty configDir means the default data directory.
func NewLoader(configDir string) Loader {
	if configDir == "" {
		configDir = defaultDataDir()
	}
	return &loader{configDir: configDir}
}

func (l *loader) Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(l.configDir)

	v.SetEnvPrefix("CODESCOPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"server.host",
		"server.port",
		"store.data_dir",
		"store.schema_version",
		"indexing.workers",
		"indexing.chunk_char_budget",
		"indexing.max_parallel_tasks",
		"indexing.batch_token_budget",
		"retrieval.number_of_chunks",
		"retrieval.rerank_enabled",
		"embedding.endpoint",
		"embedding.model",
		"embedding.dimensions",
		"rerank.endpoint",
		"reader.summary_line_threshold",
	} {
		v.BindEnv(key)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults + env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Store.DataDir != "" && !filepath.IsAbs(cfg.Store.DataDir) {
		abs, err := filepath.Abs(cfg.Store.DataDir)
		if err == nil {
			cfg.Store.DataDir = abs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers the built-in defaults with viper so partial config
// files inherit the rest.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.request_timeout", def.Server.RequestTimeout)

	v.SetDefault("store.data_dir", def.Store.DataDir)
	v.SetDefault("store.schema_version", def.Store.SchemaVersion)
	v.SetDefault("store.heartbeat_interval", def.Store.HeartbeatInterval)
	v.SetDefault("store.heartbeat_grace", def.Store.HeartbeatGrace)

	v.SetDefault("indexing.workers", def.Indexing.Workers)
	v.SetDefault("indexing.chunk_char_budget", def.Indexing.ChunkCharBudget)
	v.SetDefault("indexing.max_parallel_tasks", def.Indexing.MaxParallelTasks)
	v.SetDefault("indexing.batch_token_budget", def.Indexing.BatchTokenBudget)
	v.SetDefault("indexing.retry_limit", def.Indexing.RetryLimit)

	v.SetDefault("retrieval.number_of_chunks", def.Retrieval.NumberOfChunks)
	v.SetDefault("retrieval.rerank_enabled", def.Retrieval.RerankEnabled)

	v.SetDefault("embedding.endpoint", def.Embedding.Endpoint)
	v.SetDefault("embedding.model", def.Embedding.Model)
	v.SetDefault("embedding.dimensions", def.Embedding.Dimensions)
	v.SetDefault("embedding.timeout", def.Embedding.Timeout)

	v.SetDefault("rerank.endpoint", def.Rerank.Endpoint)
	v.SetDefault("rerank.timeout", def.Rerank.Timeout)

	v.SetDefault("reader.summary_line_threshold", def.Reader.SummaryLineThreshold)
}

// ApplyBootstrap overlays a bootstrap payload (from POST /init) onto cfg.
// Only non-zero fields override; the merged config is re-validated.
func ApplyBootstrap(cfg *Config, boot *Bootstrap) (*Config, error) {
	merged := *cfg
	if boot == nil {
		return &merged, nil
	}
	if boot.EmbeddingEndpoint != "" {
		merged.Embedding.Endpoint = boot.EmbeddingEndpoint
	}
	if boot.EmbeddingModel != "" {
		merged.Embedding.Model = boot.EmbeddingModel
	}
	if boot.EmbeddingDimensions > 0 {
		merged.Embedding.Dimensions = boot.EmbeddingDimensions
	}
	if boot.RerankEndpoint != "" {
		merged.Rerank.Endpoint = boot.RerankEndpoint
	}
	if boot.NumberOfChunks > 0 {
		merged.Retrieval.NumberOfChunks = boot.NumberOfChunks
	}
	if boot.RerankEnabled != nil {
		merged.Retrieval.RerankEnabled = *boot.RerankEnabled
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bootstrap config: %w", err)
	}
	return &merged, nil
}

// Bootstrap is the optional config overlay accepted by POST /init.
type Bootstrap struct {
	EmbeddingEndpoint   string `json:"embedding_endpoint,omitempty"`
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	RerankEndpoint      string `json:"rerank_endpoint,omitempty"`
	NumberOfChunks      int    `json:"number_of_chunks,omitempty"`
	RerankEnabled       *bool  `json:"rerank_enabled,omitempty"`
}
