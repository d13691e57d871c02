// Package storage defines the four storage capabilities the index service
// depends on (VectorStore, GraphStore, CacheStore, ProjectRegistry) and is
// the home for the two backends that implement them: embedded (single
// process, on-disk) and server (shared services). Callers — the indexer,
// the query engine, and the standards detector — depend only on these
// interfaces, never on a backend-specific shape, per the spec's
// dynamic-dispatch-to-explicit-interface redesign.
package storage

import (
	"context"
	"time"

	"github.com/codeindex/core/internal/model"
)

// Direction constrains graph traversal relative to a seed node.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirBoth Direction = "both"
)

// SearchFilter narrows a vector or lexical search.
type SearchFilter struct {
	RelPathGlob string
	SymbolKinds []model.ChunkKind
	Language    string
}

// ScoredChunk is one hit from a VectorStore search, ranked descending.
type ScoredChunk struct {
	ChunkID string
	Score   float64
}

// Subgraph is the result of a bounded graph traversal.
type Subgraph struct {
	Nodes []model.Node
	Edges []model.Edge
}

// VectorStore is the lexical + vector retrieval surface. A single backend
// implements both branches because, in practice, they share the same
// chunk corpus and the same atomicity boundary (one UpsertChunks call is
// one visible unit).
type VectorStore interface {
	// UpsertChunks makes all of chunks visible atomically, or none of them.
	UpsertChunks(ctx context.Context, projectID string, chunks []model.Chunk) error
	// DeleteByFile removes every chunk sourced from relPath.
	DeleteByFile(ctx context.Context, projectID, relPath string) error
	// SearchANN returns the k nearest chunks to queryVec by cosine
	// similarity, descending.
	SearchANN(ctx context.Context, projectID string, queryVec []float32, k int, filter SearchFilter) ([]ScoredChunk, error)
	// SearchFTS returns the k best lexical matches for queryText.
	SearchFTS(ctx context.Context, projectID string, queryText string, k int, filter SearchFilter) ([]ScoredChunk, error)
	// GetChunks hydrates chunk ids, preserving input order. Missing ids
	// are simply omitted from the result.
	GetChunks(ctx context.Context, ids []string) ([]model.Chunk, error)
	// CountChunks reports how many chunks a project currently holds.
	CountChunks(ctx context.Context, projectID string) (int, error)
	// ListChunksByFile returns every chunk sourced from relPath, ordered
	// by start line. Used by the standards detector's corpus walk and by
	// GetFileContext.
	ListChunksByFile(ctx context.Context, projectID, relPath string) ([]model.Chunk, error)
}

// GraphStore is the symbol/dependency graph surface.
type GraphStore interface {
	UpsertNodes(ctx context.Context, nodes []model.Node) error
	UpsertEdges(ctx context.Context, edges []model.Edge) error
	// DeleteByFile removes every node sourced from relPath and all edges
	// incident to those nodes.
	DeleteByFile(ctx context.Context, projectID, relPath string) error
	Neighbors(ctx context.Context, projectID, nodeID string, kinds []model.EdgeKind, dir Direction, depth, limit int) (Subgraph, error)
}

// CacheStore is a pure performance layer; correctness of any caller must
// not depend on its contents surviving.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}

// ProjectRegistry tracks every project this installation knows about.
type ProjectRegistry interface {
	// Register is idempotent by id: registering the same canonical path
	// twice returns the same Project both times.
	Register(ctx context.Context, path string) (model.Project, error)
	Resolve(ctx context.Context, ref string) (model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
	Delete(ctx context.Context, id string) error
	// FindDuplicates returns projects sharing a canonical path under
	// distinct ids — a legacy-cleanup hazard, not a steady-state one.
	FindDuplicates(ctx context.Context) ([][]model.Project, error)

	// File rows, needed by the indexer's diff stage and the storage
	// guarantee that a matching contentHash means no recomputation is
	// needed.
	UpsertFile(ctx context.Context, f model.File) error
	GetFile(ctx context.Context, projectID, relPath string) (model.File, bool, error)
	ListFiles(ctx context.Context, projectID string) ([]model.File, error)
	DeleteFile(ctx context.Context, projectID, relPath string) error
}

// Backend bundles the four capabilities plus lifecycle. Both the embedded
// and server backends satisfy it; the index service is constructed from
// one Backend value and never reaches past it.
type Backend interface {
	Vectors() VectorStore
	Graph() GraphStore
	Cache() CacheStore
	Registry() ProjectRegistry
	Close() error
}
