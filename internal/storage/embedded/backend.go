// Package embedded implements the single-process storage backend: SQLite
// (plus the sqlite-vec and FTS5 extensions) for vectors and the project
// registry, an in-process dominikbraun/graph graph backed by SQLite for
// durability, and an otter LRU for the cache layer. Grounded throughout on
// the teacher's internal/storage and internal/graph packages; adapted from
// a single shared cortex.db to one registry.db plus one vectors.db/graph.db
// pair per project, per the spec's data directory layout (§6).
package embedded

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeindex/core/internal/storage"
)

// Backend bundles the four embedded-mode stores for one project. The
// registry is shared across all projects (one registry.db); vectors and
// graph are opened per project directory.
type Backend struct {
	dataRoot string
	registry *Registry
	vectors  *VectorStore
	graph    *GraphStore
	cache    *CacheStore
}

// Open opens the embedded backend rooted at dataRoot for one project,
// creating <dataRoot>/registry.db and
// <dataRoot>/projects/<projectID>/{vectors.db,graph.db} as needed. dim is
// the chunk embedding dimension recorded in the project's config.json;
// 0 is accepted for a not-yet-embedded project and the vec0 table is
// created lazily on first UpsertChunks, per VectorStore.OpenVectorStore.
func Open(dataRoot, projectID string, dim int) (*Backend, error) {
	InitVectorExtension()

	if err := ensureDir(dataRoot); err != nil {
		return nil, err
	}
	registry, err := OpenRegistry(filepath.Join(dataRoot, "registry.db"))
	if err != nil {
		return nil, err
	}

	projectDir := filepath.Join(dataRoot, "projects", projectID)
	if err := ensureDir(projectDir); err != nil {
		registry.Close()
		return nil, err
	}

	vectors, err := OpenVectorStore(filepath.Join(projectDir, "vectors.db"), dim)
	if err != nil {
		registry.Close()
		return nil, err
	}
	graphStore, err := OpenGraphStore(filepath.Join(projectDir, "graph.db"))
	if err != nil {
		registry.Close()
		vectors.Close()
		return nil, err
	}
	cache, err := NewCacheStore()
	if err != nil {
		registry.Close()
		vectors.Close()
		graphStore.Close()
		return nil, err
	}

	return &Backend{
		dataRoot: dataRoot,
		registry: registry,
		vectors:  vectors,
		graph:    graphStore,
		cache:    cache,
	}, nil
}

func (b *Backend) Vectors() storage.VectorStore   { return b.vectors }
func (b *Backend) Graph() storage.GraphStore      { return b.graph }
func (b *Backend) Cache() storage.CacheStore      { return b.cache }
func (b *Backend) Registry() storage.ProjectRegistry { return b.registry }

func (b *Backend) Close() error {
	var firstErr error
	for _, c := range []func() error{b.registry.Close, b.vectors.Close, b.graph.Close, b.cache.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("close embedded backend: %w", firstErr)
	}
	return nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
