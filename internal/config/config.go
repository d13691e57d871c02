// Package config loads the recognized configuration option set: storage
// mode and backend connection parameters, performance knobs, indexing
// knobs, and timing knobs. Grounded on the teacher's internal/config
// package (viper-backed loader with defaults → config file → env
// precedence); extended from the teacher's embedding/paths/chunking trio
// to the full option surface this system recognizes.
package config

import "time"

// StorageMode selects which backend the service opens.
type StorageMode string

const (
	ModeEmbedded StorageMode = "embedded"
	ModeServer   StorageMode = "server"
	ModeAuto     StorageMode = "auto"
)

// Config is the complete configuration. It can be loaded from
// .codeindex/config.yml with environment variable overrides (CODEINDEX_*).
type Config struct {
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing" mapstructure:"indexing"`
	Timing    TimingConfig    `yaml:"timing" mapstructure:"timing"`
}

// StorageConfig selects the backend and carries its connection parameters.
type StorageConfig struct {
	Mode     StorageMode `yaml:"mode" mapstructure:"mode"`          // embedded | server | auto
	DataRoot string      `yaml:"data_root" mapstructure:"data_root"` // override for the embedded per-user data dir

	PgHost     string `yaml:"pg_host" mapstructure:"pg_host"`
	PgPort     int    `yaml:"pg_port" mapstructure:"pg_port"`
	PgDB       string `yaml:"pg_db" mapstructure:"pg_db"`
	PgUser     string `yaml:"pg_user" mapstructure:"pg_user"`
	PgPassword string `yaml:"pg_password" mapstructure:"pg_password"`

	GraphURI      string `yaml:"graph_uri" mapstructure:"graph_uri"`
	GraphUser     string `yaml:"graph_user" mapstructure:"graph_user"`
	GraphPassword string `yaml:"graph_password" mapstructure:"graph_password"`

	CacheHost string `yaml:"cache_host" mapstructure:"cache_host"`
	CachePort int    `yaml:"cache_port" mapstructure:"cache_port"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Model      string `yaml:"model" mapstructure:"model"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
}

// IndexingConfig carries the ingest pipeline's performance and sizing knobs.
type IndexingConfig struct {
	EmbedBatchSize          int      `yaml:"embed_batch_size" mapstructure:"embed_batch_size"`
	IngestWorkers           int      `yaml:"ingest_workers" mapstructure:"ingest_workers"`
	EmbedderConcurrency     int      `yaml:"embedder_concurrency" mapstructure:"embedder_concurrency"`
	MaxChunkBytes           int      `yaml:"max_chunk_bytes" mapstructure:"max_chunk_bytes"`
	MinStandardOccurrences  int      `yaml:"min_standard_occurrences" mapstructure:"min_standard_occurrences"`
	ExcludePatterns         []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
}

// TimingConfig carries debounce, polling, and deadline settings.
type TimingConfig struct {
	DebounceMs       int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	PollIntervalMs   int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	OperationTimeout int `yaml:"operation_timeout" mapstructure:"operation_timeout"` // seconds, Search-class operations
}

// Default returns a configuration with every §6 default filled in.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Mode:      ModeEmbedded,
			PgHost:    "localhost",
			PgPort:    5432,
			PgDB:      "codeindex",
			PgUser:    "codeindex",
			GraphURI:  "bolt://localhost:7687",
			GraphUser: "neo4j",
			CacheHost: "localhost",
			CachePort: 6379,
		},
		Embedding: EmbeddingConfig{
			Model:      "BAAI/bge-small-en-v1.5",
			Dimensions: 384,
			Endpoint:   "http://localhost:8121",
		},
		Indexing: IndexingConfig{
			EmbedBatchSize:         32,
			IngestWorkers:          0, // 0 means min(CPU, 8), resolved by the indexer
			EmbedderConcurrency:    4,
			MaxChunkBytes:          8 * 1024,
			MinStandardOccurrences: 2,
		},
		Timing: TimingConfig{
			DebounceMs:       2000,
			PollIntervalMs:   5000,
			OperationTimeout: 120,
		},
	}
}

// Debounce returns the coalescing window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Timing.DebounceMs) * time.Millisecond
}

// PollInterval returns the polling fallback interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Timing.PollIntervalMs) * time.Millisecond
}

// SearchTimeout returns the Search-class operation deadline.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Timing.OperationTimeout) * time.Second
}
