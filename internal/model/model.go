// Package model holds the data types shared by the storage, parser, indexer,
// query, and standards packages. These are plain data transfer structs, not
// an ORM layer — each storage backend maps them onto its own schema.
package model

import "time"

// ChunkKind enumerates the retrievable units the indexer produces.
type ChunkKind string

const (
	ChunkFile      ChunkKind = "file"
	ChunkClass     ChunkKind = "class"
	ChunkFunction  ChunkKind = "function"
	ChunkMethod    ChunkKind = "method"
	ChunkInterface ChunkKind = "interface"
	ChunkBlock     ChunkKind = "block"
)

// NodeKind enumerates the graph node kinds the parser emits.
type NodeKind string

const (
	NodeFile      NodeKind = "file"
	NodeClass     NodeKind = "class"
	NodeFunction  NodeKind = "function"
	NodeMethod    NodeKind = "method"
	NodeInterface NodeKind = "interface"
	NodeVariable  NodeKind = "variable"
	NodeExternal  NodeKind = "external"
)

// EdgeKind enumerates the graph edge kinds the parser and indexer emit.
type EdgeKind string

const (
	EdgeImports    EdgeKind = "imports"
	EdgeExports    EdgeKind = "exports"
	EdgeCalls      EdgeKind = "calls"
	EdgeExtends    EdgeKind = "extends"
	EdgeImplements EdgeKind = "implements"
	EdgeContains   EdgeKind = "contains"
	EdgeDependsOn  EdgeKind = "depends_on"
	EdgeUses       EdgeKind = "uses"
)

// ParserTier records how a file's structure was obtained.
type ParserTier string

const (
	TierAST      ParserTier = "ast"
	TierRegex    ParserTier = "regex"
	TierFallback ParserTier = "fallback"
)

// Project is a registered absolute path treated as the root of one indexed
// corpus. Id is a deterministic 16-hex digest of the canonical path (see
// internal/project), stable across machines for the same path.
type Project struct {
	ID        string
	Path      string
	Name      string
	Languages []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File is the persisted record of one source file's last-indexed state.
type File struct {
	ProjectID   string
	RelPath     string
	ContentHash string
	Size        int64
	ModTime     time.Time
	Language    string
	IndexedAt   time.Time
}

// Chunk is one embedding-ready, retrievable unit of code.
type Chunk struct {
	ID          string
	ProjectID   string
	RelPath     string
	Kind        ChunkKind
	Name        string
	StartLine   int
	EndLine     int
	Text        string
	ContentHash string // hash of the owning file's contents at chunk-build time
	Embedding   []float32
}

// Node is a symbol or graph node.
type Node struct {
	ID            string
	ProjectID     string
	Kind          NodeKind
	Name          string
	QualifiedName string
	RelPath       string
	StartLine     int
	EndLine       int
}

// Edge connects two graph nodes.
type Edge struct {
	ProjectID string
	From      string
	To        string
	Kind      EdgeKind
	Weight    float64
}

// StandardCategory enumerates the coding-standard mining categories.
type StandardCategory string

const (
	CategoryValidation     StandardCategory = "validation"
	CategoryErrorHandling  StandardCategory = "error_handling"
	CategoryLogging        StandardCategory = "logging"
	CategoryTesting        StandardCategory = "testing"
)

// Occurrence locates one instance of a mined signature.
type Occurrence struct {
	RelPath   string
	StartLine int
}

// StandardPattern is a mined, scored, recurring code shape.
type StandardPattern struct {
	Category        StandardCategory
	Signature       string
	CanonicalExample string
	Occurrences     []Occurrence
	Confidence      float64
}
