package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/parser"
	"github.com/codeindex/core/internal/storage"
)

// Indexer runs the ingest pipeline for exactly one project. All mutation
// goes through it; concurrent Init/Reindex/ApplyChanges calls on the same
// Indexer serialize on runMu, which is the project's writer lane. runMu is
// a plain sync.Mutex, so waiting calls do not necessarily run in the order
// they arrived.
type Indexer struct {
	rootDir   string
	projectID string

	vectors  storage.VectorStore
	graph    storage.GraphStore
	cache    storage.CacheStore
	registry storage.ProjectRegistry

	parsers  *parser.Registry
	provider embed.Provider
	opts     Options

	// resumePath, when non-empty, is where checkpoints are written during
	// long runs (embedded mode's <projectDir>/resume.json).
	resumePath string

	runMu sync.Mutex
}

// New builds an Indexer over an already-registered project.
func New(rootDir, projectID string, be storage.Backend, parsers *parser.Registry, provider embed.Provider, opts Options) *Indexer {
	return &Indexer{
		rootDir:   rootDir,
		projectID: projectID,
		vectors:   be.Vectors(),
		graph:     be.Graph(),
		cache:     be.Cache(),
		registry:  be.Registry(),
		parsers:   parsers,
		provider:  provider,
		opts:      opts.withDefaults(),
	}
}

// SetResumePath enables checkpoint persistence for crash recovery.
func (ix *Indexer) SetResumePath(path string) { ix.resumePath = path }

// Init performs a full cold index: walk, diff against whatever is already
// persisted (so a crashed or resumed Init never re-embeds clean files),
// then parse/embed/persist the difference.
func (ix *Indexer) Init(ctx context.Context) (Stats, error) {
	ix.runMu.Lock()
	defer ix.runMu.Unlock()
	return ix.run(ctx, nil)
}

// Reindex rebuilds the project from scratch, preserving the project id:
// every File row and all derived chunk/graph data is dropped first, then
// Init semantics rerun.
func (ix *Indexer) Reindex(ctx context.Context) (Stats, error) {
	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	files, err := ix.registry.ListFiles(ctx, ix.projectID)
	if err != nil {
		return Stats{}, fmt.Errorf("list files for reindex: %w", err)
	}
	for _, f := range files {
		if err := ix.dropFile(ctx, f.RelPath); err != nil {
			return Stats{}, err
		}
	}
	clearResume(ix.resumePath)
	return ix.run(ctx, nil)
}

// ApplyChanges ingests an incremental change set. Deleted paths are
// dropped; created/modified paths are re-checked against their persisted
// hash, so a notification for an actually-unchanged file is a no-op.
// No debouncing happens here: the service's watch path coalesces bursts
// through a Coalescer before invoking this, while NotifyFileChanges passes
// its change set straight through.
func (ix *Indexer) ApplyChanges(ctx context.Context, changes []Change) (Stats, error) {
	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	start := time.Now()
	var stats Stats
	var hint []string
	for _, ch := range changes {
		switch ch.Kind {
		case ChangeDeleted:
			if err := ix.dropFile(ctx, ch.RelPath); err != nil {
				stats.Errors = append(stats.Errors, FileError{RelPath: ch.RelPath, Err: err.Error()})
				continue
			}
			stats.FilesDeleted++
		case ChangeCreated, ChangeModified:
			hint = append(hint, ch.RelPath)
		}
	}

	if len(hint) > 0 {
		sub, err := ix.run(ctx, hint)
		if err != nil {
			return stats, err
		}
		stats.FilesAdded += sub.FilesAdded
		stats.FilesModified += sub.FilesModified
		stats.FilesUnchanged += sub.FilesUnchanged
		stats.ChunksWritten += sub.ChunksWritten
		stats.Errors = append(stats.Errors, sub.Errors...)
	} else if stats.FilesDeleted > 0 {
		if err := ix.cache.Invalidate(ctx, ix.projectID+":"); err != nil {
			stats.Errors = append(stats.Errors, FileError{Err: fmt.Sprintf("invalidate cache: %v", err)})
		}
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// Status reports the project's current index state.
func (ix *Indexer) Status(ctx context.Context) (StatusReport, error) {
	files, err := ix.registry.ListFiles(ctx, ix.projectID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list files: %w", err)
	}
	chunkCount, err := ix.vectors.CountChunks(ctx, ix.projectID)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		FileCount:   len(files),
		ChunkCount:  chunkCount,
		ParserTiers: map[string]model.ParserTier{},
	}
	for _, f := range files {
		if f.IndexedAt.After(report.LastIndexed) {
			report.LastIndexed = f.IndexedAt
		}
		if f.Language == "" {
			continue
		}
		if p, ok := ix.parsers.Lookup(f.Language); ok {
			report.ParserTiers[f.Language] = p.Tier()
		} else {
			report.ParserTiers[f.Language] = model.TierFallback
		}
	}
	return report, nil
}

// dropFile removes every trace of relPath: chunks, graph nodes and their
// incident edges, and the File row. The deletion-completeness invariant
// lives here.
func (ix *Indexer) dropFile(ctx context.Context, relPath string) error {
	if err := ix.vectors.DeleteByFile(ctx, ix.projectID, relPath); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", relPath, err)
	}
	if err := ix.graph.DeleteByFile(ctx, ix.projectID, relPath); err != nil {
		return fmt.Errorf("delete graph for %s: %w", relPath, err)
	}
	if err := ix.registry.DeleteFile(ctx, ix.projectID, relPath); err != nil {
		return fmt.Errorf("delete file row for %s: %w", relPath, err)
	}
	return nil
}

// run executes the pipeline over a full scan (hint == nil) or a hinted
// path set. Caller holds runMu.
func (ix *Indexer) run(ctx context.Context, hint []string) (Stats, error) {
	start := time.Now()

	d, err := newDiscovery(ix.rootDir, ix.opts.ExcludePatterns)
	if err != nil {
		return Stats{}, fmt.Errorf("compile exclusions: %w", err)
	}
	plan, err := planDiff(ctx, ix.rootDir, ix.registry, ix.projectID, d, hint)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{FilesAdded: len(plan.toAdd), FilesModified: len(plan.toUpdate)}
	if hint != nil {
		stats.FilesUnchanged = len(hint) - len(plan.toAdd) - len(plan.toUpdate)
	}

	for _, rel := range plan.toRemove {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		if err := ix.dropFile(ctx, rel); err != nil {
			stats.Errors = append(stats.Errors, FileError{RelPath: rel, Err: err.Error()})
			continue
		}
		stats.FilesDeleted++
	}

	work := make([]string, 0, len(plan.toAdd)+len(plan.toUpdate))
	work = append(work, plan.toAdd...)
	work = append(work, plan.toUpdate...)
	sort.Strings(work) // filesystem-walk order: deterministic, path-lexicographic

	if len(work) > 0 {
		written, errs := ix.processFiles(ctx, work)
		stats.ChunksWritten += written
		stats.Errors = append(stats.Errors, errs...)
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if err := ix.cache.Invalidate(ctx, ix.projectID+":"); err != nil {
		stats.Errors = append(stats.Errors, FileError{Err: fmt.Sprintf("invalidate cache: %v", err)})
	}
	clearResume(ix.resumePath)

	stats.Duration = time.Since(start)
	return stats, nil
}

func defaultIngestWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ChunkID derives a chunk's stable identity from the file content it was
// produced from. Identical bytes and boundaries always hash to the same
// id, so cross-session references stay valid.
func ChunkID(projectID, relPath string, startLine, endLine int, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d|%s", projectID, relPath, startLine, endLine, contentHash)))
	return hex.EncodeToString(sum[:])[:24]
}
