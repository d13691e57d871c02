package config

import "fmt"

// Validate rejects option combinations the rest of the system would
// otherwise fail on much later (a conflicting-options input error, per
// the error taxonomy — reported immediately, never retried).
func Validate(cfg *Config) error {
	switch cfg.Storage.Mode {
	case ModeEmbedded, ModeServer, ModeAuto:
	default:
		return fmt.Errorf("storage.mode must be embedded, server, or auto (got %q)", cfg.Storage.Mode)
	}

	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive (got %d)", cfg.Embedding.Dimensions)
	}
	if cfg.Indexing.EmbedBatchSize < 0 {
		return fmt.Errorf("indexing.embed_batch_size must not be negative")
	}
	if cfg.Indexing.MaxChunkBytes < 0 {
		return fmt.Errorf("indexing.max_chunk_bytes must not be negative")
	}
	if cfg.Timing.DebounceMs < 0 || cfg.Timing.PollIntervalMs < 0 || cfg.Timing.OperationTimeout < 0 {
		return fmt.Errorf("timing values must not be negative")
	}

	if cfg.Storage.Mode == ModeServer {
		if cfg.Storage.PgHost == "" || cfg.Storage.PgDB == "" {
			return fmt.Errorf("server mode requires storage.pg_host and storage.pg_db")
		}
		if cfg.Storage.GraphURI == "" {
			return fmt.Errorf("server mode requires storage.graph_uri")
		}
	}
	return nil
}
