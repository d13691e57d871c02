// Package service is the in-process Tool API: the handful of operations
// the host assistant calls, 1:1 with the RPC adapter. It owns every
// per-project handle (backend, indexer, query engine, standards detector,
// watcher) and enforces per-project write serialization; no process-wide
// mutable state exists outside one Service value. Grounded on the
// teacher's internal/mcp server wiring (searcher + watcher + graph
// querier assembled once, shared by all tools), restructured from the
// teacher's one-project process to a registry of projects because this
// system serves several indexed roots from one subprocess.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeindex/core/internal/apperr"
	"github.com/codeindex/core/internal/config"
	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/indexer"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/parser"
	"github.com/codeindex/core/internal/project"
	"github.com/codeindex/core/internal/query"
	"github.com/codeindex/core/internal/standards"
	"github.com/codeindex/core/internal/storage"
	"github.com/codeindex/core/internal/storage/embedded"
	"github.com/codeindex/core/internal/watcher"
)

const initTimeout = 30 * time.Minute

// Service is the index service: one per process, owning all per-project
// state. Safe for concurrent use; writes serialize per project inside
// each project's Indexer.
type Service struct {
	cfg      *config.Config
	dataRoot string
	mode     config.StorageMode
	parsers  *parser.Registry
	provider embed.Provider

	mu      sync.Mutex
	handles map[string]*projectHandle // by project id
	shared  storage.Backend           // server mode: one backend for every project
}

// projectHandle bundles one project's working set.
type projectHandle struct {
	project   model.Project
	backend   storage.Backend
	indexer   *indexer.Indexer
	engine    *query.Engine
	detector  *standards.Detector
	coalescer *indexer.Coalescer
	watcher   *watcher.Watcher
}

// InitOptions parameterizes InitProject.
type InitOptions struct {
	// NewConfig reissues the in-repo marker even when project state is
	// inconsistent (marker missing but registry row present).
	NewConfig bool
	// ExcludePatterns supplements the default exclusion set.
	ExcludePatterns []string
}

// NotifyResult reports an incremental update's outcome.
type NotifyResult struct {
	Mode       string           `json:"mode"` // "incremental" or "full_reindex"
	Added      int              `json:"added"`
	Modified   int              `json:"modified"`
	Deleted    int              `json:"deleted"`
	Unchanged  int              `json:"unchanged"`
	Chunks     int              `json:"chunks"`
	DurationMs int64            `json:"durationMs"`
	Errors     []indexer.FileError `json:"errors,omitempty"`
}

// FileContext is GetFileContext's result.
type FileContext struct {
	File          model.File    `json:"file"`
	Chunks        []model.Chunk `json:"chunks"`
	RelatedChunks []model.Chunk `json:"relatedChunks,omitempty"`
}

// New builds the Service, resolving storage mode "auto" once up front.
func New(ctx context.Context, cfg *config.Config, provider embed.Provider) (*Service, error) {
	dataRoot, err := project.DataDir(cfg.Storage.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	return &Service{
		cfg:      cfg,
		dataRoot: dataRoot,
		mode:     resolveMode(ctx, cfg),
		parsers:  parser.Default(),
		provider: provider,
		handles:  map[string]*projectHandle{},
	}, nil
}

// Close stops watchers and closes every open backend.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, h := range s.handles {
		if h.watcher != nil {
			h.watcher.Stop()
		}
		if h.coalescer != nil {
			h.coalescer.Stop()
		}
		if h.backend != s.shared {
			if err := h.backend.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	s.handles = map[string]*projectHandle{}
	if s.shared != nil {
		if err := s.shared.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// InitProject registers and cold-indexes the project rooted at path.
func (s *Service) InitProject(ctx context.Context, path string, opts InitOptions) (model.Project, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return model.Project{}, apperr.New(apperr.PathInvalid, path, "not a readable directory")
	}
	canon, err := project.Canonicalize(path)
	if err != nil {
		return model.Project{}, apperr.Wrap(apperr.PathInvalid, path, err)
	}

	marker := project.MarkerPath(canon)
	if _, found, _ := loadProjectConfig(marker); found && !opts.NewConfig {
		return model.Project{}, apperr.New(apperr.AlreadyInitialized, canon, "project already initialized; use NotifyFileChanges or reinit with a new config")
	}

	h, err := s.openProject(ctx, canon, opts.ExcludePatterns)
	if err != nil {
		return model.Project{}, err
	}

	pc := ProjectConfig{
		ProjectID:     h.project.ID,
		EmbedderModel: s.cfg.Embedding.Model,
		Dim:           s.provider.Dimensions(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := saveJSON(marker, pc); err != nil {
		return model.Project{}, apperr.Wrap(apperr.Internal, canon, err)
	}
	if s.mode == config.ModeEmbedded {
		if err := saveJSON(filepath.Join(s.dataRoot, "projects", h.project.ID, "config.json"), pc); err != nil {
			return model.Project{}, apperr.Wrap(apperr.Internal, canon, err)
		}
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	stats, err := h.indexer.Init(initCtx)
	if err != nil {
		return model.Project{}, s.wrapRunError(canon, err)
	}
	log.Printf("initialized %s: %d added, %d chunks, %d errors in %s",
		h.project.Name, stats.FilesAdded, stats.ChunksWritten, len(stats.Errors), stats.Duration)
	return h.project, nil
}

// ListProjects returns every registered project.
func (s *Service) ListProjects(ctx context.Context) ([]model.Project, error) {
	reg, closeReg, err := s.registryOnly(ctx)
	if err != nil {
		return nil, err
	}
	defer closeReg()
	return reg.List(ctx)
}

// Search answers a hybrid/fts/vector/graph query for one project.
func (s *Service) Search(ctx context.Context, projectRef string, q query.Query) ([]query.Result, error) {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout())
	defer cancel()
	return h.engine.Search(ctx, h.project.ID, q)
}

// GetFileContext returns a file's record and chunks, plus depth-1 related
// chunks from the graph when includeRelated is set.
func (s *Service) GetFileContext(ctx context.Context, projectRef, relPath string, includeRelated bool) (FileContext, error) {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return FileContext{}, err
	}
	reg := h.backend.Registry()
	f, found, err := reg.GetFile(ctx, h.project.ID, relPath)
	if err != nil {
		return FileContext{}, apperr.Wrap(apperr.Internal, relPath, err)
	}
	if !found {
		return FileContext{}, apperr.New(apperr.UnknownFile, relPath, "file is not indexed in project %s", h.project.Name)
	}

	chunks, err := h.backend.Vectors().ListChunksByFile(ctx, h.project.ID, relPath)
	if err != nil {
		return FileContext{}, apperr.Wrap(apperr.Internal, relPath, err)
	}
	out := FileContext{File: f, Chunks: chunks}

	if includeRelated {
		sub, err := h.backend.Graph().Neighbors(ctx, h.project.ID, parser.FileNodeID(h.project.ID, relPath), nil, storage.DirBoth, 1, 100)
		if err != nil {
			return FileContext{}, apperr.Wrap(apperr.Internal, relPath, err)
		}
		seen := map[string]bool{}
		for _, c := range chunks {
			seen[c.ID] = true
		}
		for _, n := range sub.Nodes {
			if n.RelPath == "" || n.RelPath == relPath {
				continue
			}
			related, err := h.backend.Vectors().ListChunksByFile(ctx, h.project.ID, n.RelPath)
			if err != nil {
				continue
			}
			for _, c := range related {
				if !seen[c.ID] {
					seen[c.ID] = true
					out.RelatedChunks = append(out.RelatedChunks, c)
				}
			}
		}
	}
	return out, nil
}

// GetRelationships performs a bounded graph traversal from a node id or
// relPath seed.
func (s *Service) GetRelationships(ctx context.Context, projectRef, seed string, edgeKinds []model.EdgeKind, dir storage.Direction, depth int) (storage.Subgraph, error) {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return storage.Subgraph{}, err
	}
	if dir == "" {
		dir = storage.DirBoth
	}
	if depth <= 0 {
		depth = 2
	}
	if depth > 5 {
		depth = 5
	}

	seedID := seed
	if _, found, _ := h.backend.Registry().GetFile(ctx, h.project.ID, seed); found {
		seedID = parser.FileNodeID(h.project.ID, seed)
	}
	sub, err := h.backend.Graph().Neighbors(ctx, h.project.ID, seedID, edgeKinds, dir, depth, 1000)
	if err != nil {
		return storage.Subgraph{}, apperr.Wrap(apperr.Internal, seed, err)
	}
	if len(sub.Nodes) == 0 {
		return storage.Subgraph{}, apperr.New(apperr.UnknownSeed, seed, "seed resolves to no graph node")
	}
	return sub, nil
}

// NotifyFileChanges applies an incremental change set, or clears and
// rebuilds the whole project when fullReindex is set. Partial success is
// first-class: per-file failures land in Errors, not in the returned
// error.
func (s *Service) NotifyFileChanges(ctx context.Context, projectRef string, changes []indexer.Change, fullReindex bool) (NotifyResult, error) {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return NotifyResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	var stats indexer.Stats
	mode := "incremental"
	if fullReindex {
		mode = "full_reindex"
		stats, err = h.indexer.Reindex(ctx)
	} else {
		stats, err = h.indexer.ApplyChanges(ctx, changes)
	}
	if err != nil {
		return NotifyResult{}, s.wrapRunError(h.project.Name, err)
	}
	return NotifyResult{
		Mode:       mode,
		Added:      stats.FilesAdded,
		Modified:   stats.FilesModified,
		Deleted:    stats.FilesDeleted,
		Unchanged:  stats.FilesUnchanged,
		Chunks:     stats.ChunksWritten,
		DurationMs: stats.Duration.Milliseconds(),
		Errors:     stats.Errors,
	}, nil
}

// GetCodingStandards returns mined standards for a category, or all
// categories when category is empty.
func (s *Service) GetCodingStandards(ctx context.Context, projectRef string, category model.StandardCategory) ([]model.StandardPattern, error) {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	return h.detector.GetStandards(ctx, h.project.ID, category)
}

// Status reports one project's index state.
func (s *Service) Status(ctx context.Context, projectRef string) (indexer.StatusReport, error) {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return indexer.StatusReport{}, err
	}
	return h.indexer.Status(ctx)
}

// DeleteProject removes a project's registry row; embedded data files are
// removed with it.
func (s *Service) DeleteProject(ctx context.Context, projectRef string) error {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return err
	}
	id := h.project.ID

	s.mu.Lock()
	if h.watcher != nil {
		h.watcher.Stop()
	}
	if h.coalescer != nil {
		h.coalescer.Stop()
	}
	if err := h.backend.Registry().Delete(ctx, id); err != nil {
		s.mu.Unlock()
		return apperr.Wrap(apperr.Internal, projectRef, err)
	}
	if h.backend != s.shared {
		h.backend.Close()
	}
	delete(s.handles, id)
	s.mu.Unlock()

	if s.mode == config.ModeEmbedded {
		if err := os.RemoveAll(filepath.Join(s.dataRoot, "projects", id)); err != nil {
			return apperr.Wrap(apperr.Internal, projectRef, err)
		}
	}
	return nil
}

// WatchProject starts the filesystem watcher for a project, feeding
// coalesced change batches into the incremental pipeline. Used by the
// long-running server mode; one watcher per project.
func (s *Service) WatchProject(ctx context.Context, projectRef string) error {
	h, err := s.resolveHandle(ctx, projectRef)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.watcher != nil {
		return nil
	}

	h.coalescer = indexer.NewCoalescer(s.cfg.Debounce(), func(batch []indexer.Change) {
		applyCtx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		stats, err := h.indexer.ApplyChanges(applyCtx, batch)
		if err != nil {
			log.Printf("apply watched changes for %s: %v", h.project.Name, err)
			return
		}
		if stats.FilesAdded+stats.FilesModified+stats.FilesDeleted > 0 {
			log.Printf("reindexed %s: +%d ~%d -%d (%d chunks)",
				h.project.Name, stats.FilesAdded, stats.FilesModified, stats.FilesDeleted, stats.ChunksWritten)
		}
	})

	w, err := watcher.New(h.project.Path, s.cfg.Indexing.ExcludePatterns, s.cfg.PollInterval(), func(changes []indexer.Change) {
		h.coalescer.Add(changes...)
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, h.project.Path, err)
	}
	if err := w.Start(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, h.project.Path, err)
	}
	h.watcher = w
	return nil
}

// resolveHandle maps a project reference (id, path, or name) to its open
// handle, opening backend and pipeline lazily on first touch.
func (s *Service) resolveHandle(ctx context.Context, projectRef string) (*projectHandle, error) {
	reg, closeReg, err := s.registryOnly(ctx)
	if err != nil {
		return nil, err
	}
	p, err := reg.Resolve(ctx, projectRef)
	closeReg()
	if err != nil {
		return nil, apperr.New(apperr.UnknownProject, projectRef, "no such project")
	}

	s.mu.Lock()
	if h, ok := s.handles[p.ID]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	h, err := s.openProject(ctx, p.Path, nil)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// openProject registers (idempotently) and assembles the handle for the
// project rooted at canon. An embedder-model change relative to the
// recorded project config forces a full reindex, because vectors from two
// models share no usable space.
func (s *Service) openProject(ctx context.Context, canon string, extraExcludes []string) (*projectHandle, error) {
	id, err := project.ID(canon)
	if err != nil {
		return nil, apperr.Wrap(apperr.PathInvalid, canon, err)
	}

	s.mu.Lock()
	if h, ok := s.handles[id]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	be, err := s.openBackend(ctx, id, s.provider.Dimensions())
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnreachable, canon, err)
	}
	p, err := be.Registry().Register(ctx, canon)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, canon, err)
	}
	if r, ok := be.Registry().(*embedded.Registry); ok {
		if err := r.RecordStorageMode(ctx, p.ID, string(s.mode)); err != nil {
			log.Printf("warning: %v", err)
		}
	}

	opts := indexer.Options{
		ExcludePatterns:     append(append([]string{}, s.cfg.Indexing.ExcludePatterns...), extraExcludes...),
		MaxChunkBytes:       s.cfg.Indexing.MaxChunkBytes,
		EmbedBatchSize:      s.cfg.Indexing.EmbedBatchSize,
		IngestWorkers:       s.cfg.Indexing.IngestWorkers,
		EmbedderConcurrency: s.cfg.Indexing.EmbedderConcurrency,
	}
	ix := indexer.New(canon, p.ID, be, s.parsers, s.provider, opts)

	needsReindex := false
	if s.mode == config.ModeEmbedded {
		projectDir := filepath.Join(s.dataRoot, "projects", p.ID)
		ix.SetResumePath(filepath.Join(projectDir, "resume.json"))
		cfgPath := filepath.Join(projectDir, "config.json")
		if pc, found, err := loadProjectConfig(cfgPath); err == nil && found {
			if pc.EmbedderModel != s.cfg.Embedding.Model || pc.Dim != s.provider.Dimensions() {
				log.Printf("embedder changed for %s (%s/%d -> %s/%d); forcing full reindex",
					p.Name, pc.EmbedderModel, pc.Dim, s.cfg.Embedding.Model, s.provider.Dimensions())
				pc.EmbedderModel = s.cfg.Embedding.Model
				pc.Dim = s.provider.Dimensions()
				if err := saveJSON(cfgPath, pc); err != nil {
					log.Printf("warning: %v", err)
				}
				needsReindex = true
			}
		}
	}

	h := &projectHandle{
		project:  p,
		backend:  be,
		indexer:  ix,
		engine:   query.NewEngine(be, s.provider),
		detector: standards.NewDetector(be, s.cfg.Indexing.MinStandardOccurrences),
	}

	s.mu.Lock()
	if existing, ok := s.handles[p.ID]; ok {
		// Lost the race to another caller; keep theirs.
		s.mu.Unlock()
		if be != s.shared {
			be.Close()
		}
		return existing, nil
	}
	s.handles[p.ID] = h
	s.mu.Unlock()

	if needsReindex {
		reindexCtx, cancel := context.WithTimeout(ctx, initTimeout)
		stats, err := ix.Reindex(reindexCtx)
		cancel()
		if err != nil {
			return nil, s.wrapRunError(p.Name, err)
		}
		log.Printf("reindexed %s after embedder change: %d files, %d chunks", p.Name, stats.FilesAdded, stats.ChunksWritten)
	}
	return h, nil
}

// registryOnly opens just the project registry, without binding to one
// project's stores: list/resolve operations need the registry before any
// project is chosen.
func (s *Service) registryOnly(ctx context.Context) (storage.ProjectRegistry, func(), error) {
	if s.mode == config.ModeServer {
		be, err := s.openBackend(ctx, "", s.provider.Dimensions())
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.StoreUnreachable, "registry", err)
		}
		return be.Registry(), func() {}, nil
	}
	reg, err := embedded.OpenRegistry(filepath.Join(s.dataRoot, "registry.db"))
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.StoreUnreachable, "registry", err)
	}
	return reg, func() { reg.Close() }, nil
}

// wrapRunError distinguishes cancellation from failure at the operation
// boundary.
func (s *Service) wrapRunError(context string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != "" {
		return apperr.New(apperr.Canceled, context, "%s", ctxErr)
	}
	return apperr.Wrap(apperr.Internal, context, err)
}

func contextError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "operation canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation deadline exceeded"
	}
	return ""
}
