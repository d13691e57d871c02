package server

import (
	"context"
	"fmt"

	"github.com/codeindex/core/internal/storage"
)

// Backend bundles the three networked services behind the storage
// interfaces; it has no project-local directory the way the embedded
// backend does; every project's rows are partitioned by project id
// inside the shared services.
type Backend struct {
	pg    *PGStore
	graph *Neo4jStore
	cache *RedisCache
}

// Open connects to Postgres, Neo4j, and Redis, running the Postgres
// migration eagerly (matching the reposearch Store.Migrate call site) and
// verifying Neo4j connectivity before returning.
func Open(ctx context.Context, pgCfg PGConfig, neoCfg Neo4jConfig, redisCfg RedisConfig, dim int) (*Backend, error) {
	pg, err := OpenPGStore(ctx, pgCfg, dim)
	if err != nil {
		return nil, err
	}
	graph, err := OpenNeo4jStore(ctx, neoCfg)
	if err != nil {
		pg.Close()
		return nil, err
	}
	cache := OpenRedisCache(redisCfg)
	if err := cache.Ping(ctx); err != nil {
		pg.Close()
		graph.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Backend{pg: pg, graph: graph, cache: cache}, nil
}

// Probe attempts a bounded-timeout connectivity check of all three
// services, used by storageMode "auto" to decide whether to fall back to
// embedded (§4.1 mode selection).
func Probe(ctx context.Context, pgCfg PGConfig, neoCfg Neo4jConfig, redisCfg RedisConfig) error {
	pg, err := OpenPGStore(ctx, pgCfg, 0)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		return err
	}
	graph, err := OpenNeo4jStore(ctx, neoCfg)
	if err != nil {
		return err
	}
	defer graph.Close()
	cache := OpenRedisCache(redisCfg)
	defer cache.Close()
	return cache.Ping(ctx)
}

func (b *Backend) Vectors() storage.VectorStore      { return b.pg }
func (b *Backend) Graph() storage.GraphStore         { return b.graph }
func (b *Backend) Cache() storage.CacheStore         { return b.cache }
func (b *Backend) Registry() storage.ProjectRegistry { return b.pg }

func (b *Backend) Close() error {
	var firstErr error
	for _, c := range []func() error{b.pg.Close, b.graph.Close, b.cache.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("close server backend: %w", firstErr)
	}
	return nil
}
