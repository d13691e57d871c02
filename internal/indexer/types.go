// Package indexer implements the ingest pipeline (§4.3): scan, diff,
// parse, embed, persist, and the debounced incremental path. Grounded on
// the teacher's internal/indexer package — discovery.go's glob-based
// walker, change_detector.go's mtime-fast-path diffing, processor.go's
// phase-logged pipeline, and writer.go's atomic temp-then-rename output —
// generalized from the teacher's doc/code split and chunk-file-per-type
// output to this system's single Chunk/Node/Edge persistence model.
package indexer

import (
	"time"

	"github.com/codeindex/core/internal/model"
)

// ChangeKind mirrors the watcher's notification vocabulary (§4.5).
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is one file-level notification accepted by ApplyChanges.
type Change struct {
	Kind    ChangeKind
	RelPath string
}

// Options configures Init/Reindex; zero value uses every default from §6.
type Options struct {
	ExcludePatterns    []string
	MaxChunkBytes      int
	EmbedBatchSize     int
	IngestWorkers      int
	EmbedderConcurrency int
}

// DefaultExcludes is the fixed baseline exclusion set from §4.3, always
// applied in addition to any user-supplied patterns.
var DefaultExcludes = []string{
	".git/**", "node_modules/**", "dist/**", "build/**", "target/**", ".venv/**",
}

func (o Options) withDefaults() Options {
	if o.MaxChunkBytes <= 0 {
		o.MaxChunkBytes = 8 * 1024
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 32
	}
	if o.IngestWorkers <= 0 {
		o.IngestWorkers = defaultIngestWorkers()
	}
	if o.EmbedderConcurrency <= 0 {
		o.EmbedderConcurrency = 4
	}
	return o
}

// Stats reports one pipeline run's outcome, returned by Init, Reindex and
// ApplyChanges and surfaced through NotifyFileChanges per §4.7.
type Stats struct {
	FilesAdded     int
	FilesModified  int
	FilesDeleted   int
	FilesUnchanged int
	ChunksWritten  int
	Errors         []FileError
	Duration       time.Duration
}

// FileError records a per-file failure without aborting the run, per
// §4.3's failure table and §7's partial-success contract.
type FileError struct {
	RelPath string
	Err     string
}

// StatusReport answers the Status operation (§4.3).
type StatusReport struct {
	FileCount    int
	ChunkCount   int
	LastIndexed  time.Time
	ParserTiers  map[string]model.ParserTier
}

// ResumeToken is the crash-recovery checkpoint (§4.3 "Progress/resume"),
// persisted atomically under resume.json. RunID distinguishes checkpoints
// of different pipeline runs so a stale token is never mistaken for the
// current run's progress.
type ResumeToken struct {
	RunID  string   `json:"runId"`
	Phase  string   `json:"phase"`
	Cursor string   `json:"cursor"`
	Done   []string `json:"done"`
}
