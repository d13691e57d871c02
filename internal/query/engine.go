// Package query implements hybrid search: lexical, vector, and graph
// branches fused by reciprocal rank fusion. Grounded on the teacher's
// SearcherCoordinator (internal/mcp), which runs a chromem vector
// searcher and a bleve exact searcher over the same chunk corpus;
// restructured here to share one VectorStore for both branches and to add
// the graph branch and explicit fusion weights, since the teacher exposes
// its searchers as separate tools and never merges their rankings.
package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/parser"
	"github.com/codeindex/core/internal/storage"
)

// Kind selects which branches a query runs.
type Kind string

const (
	KindHybrid Kind = "hybrid"
	KindFTS    Kind = "fts"
	KindVector Kind = "vector"
	KindGraph  Kind = "graph"
)

const (
	defaultK     = 10
	maxK         = 100
	defaultDepth = 2
	maxDepth     = 5

	// rrfOffset is the standard RRF smoothing constant.
	rrfOffset = 60.0

	weightVector  = 1.0
	weightLexical = 0.7
	weightGraph   = 0.5

	// maxTraversalNodes bounds the graph branch so a dense import cycle
	// can't blow up a single query.
	maxTraversalNodes = 1000
)

// Filters narrows results; RelPathGlob applies post-fusion, the rest are
// pushed down into the stores.
type Filters struct {
	RelPathGlob string
	SymbolKinds []model.ChunkKind
	Language    string
}

// Query is one Search invocation's parameters.
type Query struct {
	Text       string
	Kind       Kind
	Filters    Filters
	K          int
	GraphSeed  string // node id or relPath; required for KindGraph
	GraphDepth int
}

// Result is one fused, hydrated hit.
type Result struct {
	Chunk     model.Chunk
	Score     float64
	VectorSim float64 // cosine similarity from the vector branch, 0 if absent
	File      model.File
}

// Engine answers Search against one backend. It is stateless and safe for
// unbounded concurrent use; it never writes.
type Engine struct {
	vectors  storage.VectorStore
	graph    storage.GraphStore
	registry storage.ProjectRegistry
	provider embed.Provider
}

func NewEngine(be storage.Backend, provider embed.Provider) *Engine {
	return &Engine{
		vectors:  be.Vectors(),
		graph:    be.Graph(),
		registry: be.Registry(),
		provider: provider,
	}
}

// Search runs the requested branches, fuses their rankings, applies
// post-fusion filters, and hydrates the top k chunks. An empty corpus, or
// a graph query with no seed, returns an empty slice without error.
func (e *Engine) Search(ctx context.Context, projectID string, q Query) ([]Result, error) {
	if q.Kind == "" {
		q.Kind = KindHybrid
	}
	k := q.K
	if k <= 0 {
		k = defaultK
	}
	if k > maxK {
		k = maxK
	}
	// Expanded per-branch depth so fusion has enough overlap to rank.
	expanded := int(math.Ceil(1.5*float64(k))) + 20

	storeFilter := storage.SearchFilter{
		SymbolKinds: q.Filters.SymbolKinds,
		Language:    q.Filters.Language,
	}

	var vectorRank, lexicalRank, graphRank []string
	vectorSim := map[string]float64{}

	if q.Kind == KindHybrid || q.Kind == KindVector {
		hits, err := e.vectorBranch(ctx, projectID, q.Text, expanded, storeFilter)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			vectorRank = append(vectorRank, h.ChunkID)
			vectorSim[h.ChunkID] = h.Score
		}
	}
	if q.Kind == KindHybrid || q.Kind == KindFTS {
		hits, err := e.vectors.SearchFTS(ctx, projectID, q.Text, expanded, storeFilter)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			lexicalRank = append(lexicalRank, h.ChunkID)
		}
	}
	if (q.Kind == KindHybrid || q.Kind == KindGraph) && q.GraphSeed != "" {
		ids, err := e.graphBranch(ctx, projectID, q.GraphSeed, q.GraphDepth)
		if err != nil {
			return nil, err
		}
		graphRank = ids
	}
	if q.Kind == KindGraph && q.GraphSeed == "" {
		return []Result{}, nil
	}

	fused := fuse(vectorRank, lexicalRank, graphRank)
	if len(fused) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.chunkID
	}
	chunks, err := e.vectors.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}
	byID := make(map[string]model.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	var pathGlob glob.Glob
	if q.Filters.RelPathGlob != "" {
		pathGlob, err = glob.Compile(q.Filters.RelPathGlob, '/')
		if err != nil {
			return nil, fmt.Errorf("compile relPathGlob: %w", err)
		}
	}

	results := make([]Result, 0, len(fused))
	fileCache := map[string]model.File{}
	for _, f := range fused {
		c, ok := byID[f.chunkID]
		if !ok {
			continue // deleted between branch and hydrate; skip
		}
		if pathGlob != nil && !pathGlob.Match(c.RelPath) {
			continue
		}
		file, ok := fileCache[c.RelPath]
		if !ok {
			file, _, _ = e.registry.GetFile(ctx, projectID, c.RelPath)
			fileCache[c.RelPath] = file
		}
		results = append(results, Result{
			Chunk:     c,
			Score:     f.score,
			VectorSim: vectorSim[f.chunkID],
			File:      file,
		})
	}

	// Ties resolve by vector similarity, then path, then start line.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].VectorSim != results[j].VectorSim {
			return results[i].VectorSim > results[j].VectorSim
		}
		if results[i].Chunk.RelPath != results[j].Chunk.RelPath {
			return results[i].Chunk.RelPath < results[j].Chunk.RelPath
		}
		return results[i].Chunk.StartLine < results[j].Chunk.StartLine
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (e *Engine) vectorBranch(ctx context.Context, projectID, text string, k int, filter storage.SearchFilter) ([]storage.ScoredChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vecs, err := e.provider.Embed(ctx, []string{text}, embed.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return e.vectors.SearchANN(ctx, projectID, vecs[0], k, filter)
}

// graphBranch resolves the seed (a node id, or a relPath mapped to its
// file node), walks its neighborhood, and returns the chunk ids contained
// in the files and symbols reached, in traversal order.
func (e *Engine) graphBranch(ctx context.Context, projectID, seed string, depth int) ([]string, error) {
	if depth <= 0 {
		depth = defaultDepth
	}
	if depth > maxDepth {
		depth = maxDepth
	}

	seedID := seed
	if isFile, err := e.seedIsFile(ctx, projectID, seed); err != nil {
		return nil, err
	} else if isFile {
		seedID = parser.FileNodeID(projectID, seed)
	}

	sub, err := e.graph.Neighbors(ctx, projectID, seedID, nil, storage.DirBoth, depth, maxTraversalNodes)
	if err != nil {
		return nil, fmt.Errorf("graph traversal: %w", err)
	}

	var ids []string
	seenFiles := map[string]bool{}
	seenChunks := map[string]bool{}
	for _, n := range sub.Nodes {
		if n.RelPath == "" {
			continue // external node
		}
		chunks, err := e.chunksForNode(ctx, projectID, n, seenFiles)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if !seenChunks[c.ID] {
				seenChunks[c.ID] = true
				ids = append(ids, c.ID)
			}
		}
	}
	return ids, nil
}

// chunksForNode maps a graph node to the chunks it contains: a file node
// contributes every chunk of the file, a symbol node the chunks whose
// line range lies inside it.
func (e *Engine) chunksForNode(ctx context.Context, projectID string, n model.Node, seenFiles map[string]bool) ([]model.Chunk, error) {
	all, err := e.vectors.ListChunksByFile(ctx, projectID, n.RelPath)
	if err != nil {
		return nil, err
	}
	if n.Kind == model.NodeFile {
		if seenFiles[n.RelPath] {
			return nil, nil
		}
		seenFiles[n.RelPath] = true
		return all, nil
	}
	var out []model.Chunk
	for _, c := range all {
		if c.StartLine >= n.StartLine && c.EndLine <= n.EndLine {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Engine) seedIsFile(ctx context.Context, projectID, seed string) (bool, error) {
	_, found, err := e.registry.GetFile(ctx, projectID, seed)
	if err != nil {
		return false, fmt.Errorf("resolve seed: %w", err)
	}
	return found, nil
}

type fusedHit struct {
	chunkID string
	score   float64
}

// fuse combines the branch rankings with weighted reciprocal rank fusion:
// score(c) = Σ_b w_b / (60 + rank_b(c)), absence contributing nothing.
// Ties resolve by vector rank (a stand-in for similarity, which orders
// that branch), then by branch-discovery order, leaving the final
// path/line tie-break to the caller after hydration.
func fuse(vectorRank, lexicalRank, graphRank []string) []fusedHit {
	scores := map[string]float64{}
	order := map[string]int{} // first-seen ordinal, for deterministic ties
	ordinal := 0

	accumulate := func(rank []string, weight float64) {
		for i, id := range rank {
			scores[id] += weight / (rrfOffset + float64(i+1))
			if _, seen := order[id]; !seen {
				order[id] = ordinal
				ordinal++
			}
		}
	}
	accumulate(vectorRank, weightVector)
	accumulate(lexicalRank, weightLexical)
	accumulate(graphRank, weightGraph)

	vecPos := map[string]int{}
	for i, id := range vectorRank {
		vecPos[id] = i + 1
	}

	out := make([]fusedHit, 0, len(scores))
	for id, s := range scores {
		out = append(out, fusedHit{chunkID: id, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		pi, iOK := vecPos[out[i].chunkID]
		pj, jOK := vecPos[out[j].chunkID]
		if iOK != jOK {
			return iOK // present in the vector branch wins the tie
		}
		if iOK && pi != pj {
			return pi < pj
		}
		return order[out[i].chunkID] < order[out[j].chunkID]
	})
	return out
}
