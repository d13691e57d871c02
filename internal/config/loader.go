package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins).
	// Explicit per-operation opts override all three at the call site.
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a configuration loader for the given project root.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

func (l *loader) Load() (*Config, error) {
	v := viper.New()

	configDir := filepath.Join(l.rootDir, ".codeindex")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("CODEINDEX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range boundKeys {
		v.BindEnv(key)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable — defaults + env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var boundKeys = []string{
	"storage.mode",
	"storage.data_root",
	"storage.pg_host",
	"storage.pg_port",
	"storage.pg_db",
	"storage.pg_user",
	"storage.pg_password",
	"storage.graph_uri",
	"storage.graph_user",
	"storage.graph_password",
	"storage.cache_host",
	"storage.cache_port",
	"embedding.model",
	"embedding.dimensions",
	"embedding.endpoint",
	"indexing.embed_batch_size",
	"indexing.ingest_workers",
	"indexing.embedder_concurrency",
	"indexing.max_chunk_bytes",
	"indexing.min_standard_occurrences",
	"indexing.exclude_patterns",
	"timing.debounce_ms",
	"timing.poll_interval_ms",
	"timing.operation_timeout",
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("storage.mode", string(d.Storage.Mode))
	v.SetDefault("storage.pg_host", d.Storage.PgHost)
	v.SetDefault("storage.pg_port", d.Storage.PgPort)
	v.SetDefault("storage.pg_db", d.Storage.PgDB)
	v.SetDefault("storage.pg_user", d.Storage.PgUser)
	v.SetDefault("storage.graph_uri", d.Storage.GraphURI)
	v.SetDefault("storage.graph_user", d.Storage.GraphUser)
	v.SetDefault("storage.cache_host", d.Storage.CacheHost)
	v.SetDefault("storage.cache_port", d.Storage.CachePort)

	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.endpoint", d.Embedding.Endpoint)

	v.SetDefault("indexing.embed_batch_size", d.Indexing.EmbedBatchSize)
	v.SetDefault("indexing.ingest_workers", d.Indexing.IngestWorkers)
	v.SetDefault("indexing.embedder_concurrency", d.Indexing.EmbedderConcurrency)
	v.SetDefault("indexing.max_chunk_bytes", d.Indexing.MaxChunkBytes)
	v.SetDefault("indexing.min_standard_occurrences", d.Indexing.MinStandardOccurrences)

	v.SetDefault("timing.debounce_ms", d.Timing.DebounceMs)
	v.SetDefault("timing.poll_interval_ms", d.Timing.PollIntervalMs)
	v.SetDefault("timing.operation_timeout", d.Timing.OperationTimeout)
}
