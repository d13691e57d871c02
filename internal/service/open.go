package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/codeindex/core/internal/config"
	"github.com/codeindex/core/internal/storage"
	"github.com/codeindex/core/internal/storage/embedded"
	"github.com/codeindex/core/internal/storage/server"
)

// autoProbeTimeout bounds how long an "auto" configuration waits on the
// server stack before falling back to embedded.
const autoProbeTimeout = 5 * time.Second

func serverConfigs(cfg *config.Config) (server.PGConfig, server.Neo4jConfig, server.RedisConfig) {
	return server.PGConfig{
			Host:     cfg.Storage.PgHost,
			Port:     cfg.Storage.PgPort,
			Database: cfg.Storage.PgDB,
			User:     cfg.Storage.PgUser,
			Password: cfg.Storage.PgPassword,
		}, server.Neo4jConfig{
			URI:      cfg.Storage.GraphURI,
			User:     cfg.Storage.GraphUser,
			Password: cfg.Storage.GraphPassword,
		}, server.RedisConfig{
			Host: cfg.Storage.CacheHost,
			Port: cfg.Storage.CachePort,
		}
}

// resolveMode turns "auto" into a concrete embedded-or-server decision by
// probing the server stack with a bounded timeout. In embedded mode the
// decision is recorded on the project's registry row at registration; it
// is not read back, so every start probes again.
func resolveMode(ctx context.Context, cfg *config.Config) config.StorageMode {
	if cfg.Storage.Mode != config.ModeAuto {
		return cfg.Storage.Mode
	}
	probeCtx, cancel := context.WithTimeout(ctx, autoProbeTimeout)
	defer cancel()
	pg, neo, rd := serverConfigs(cfg)
	if err := server.Probe(probeCtx, pg, neo, rd); err != nil {
		log.Printf("storage mode auto: server backends unreachable (%v); using embedded", err)
		return config.ModeEmbedded
	}
	log.Printf("storage mode auto: server backends reachable; using server")
	return config.ModeServer
}

// openBackend opens the backend for one project under the resolved mode.
// Embedded mode opens the project's own vectors.db/graph.db pair; server
// mode returns the shared connection set.
func (s *Service) openBackend(ctx context.Context, projectID string, dim int) (storage.Backend, error) {
	switch s.mode {
	case config.ModeServer:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.shared == nil {
			pg, neo, rd := serverConfigs(s.cfg)
			be, err := server.Open(ctx, pg, neo, rd, dim)
			if err != nil {
				return nil, fmt.Errorf("open server backend: %w", err)
			}
			s.shared = be
		}
		return s.shared, nil
	default:
		be, err := embedded.Open(s.dataRoot, projectID, dim)
		if err != nil {
			return nil, fmt.Errorf("open embedded backend: %w", err)
		}
		return be, nil
	}
}
