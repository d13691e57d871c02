package embedded

import (
	"context"
	"fmt"
	"sync"

	dgraph "github.com/dominikbraun/graph"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/storage"
)

// GraphStore is the embedded-mode GraphStore: an in-process labeled
// property graph per project, persisted to a single SQLite database so a
// process restart picks up where it left off. Grounded on the teacher's
// graph/searcher.go, which keeps the same dominikbraun/graph.Graph
// in-memory structure; adapted here to back it with durable storage
// instead of a JSON snapshot file, since the spec requires crash-safe
// incremental updates rather than a "reload whole file" model.
type GraphStore struct {
	mu sync.RWMutex
	db *graphDB

	// graphs caches one in-memory traversal graph per project, built
	// from db on first access; every write drops the cached copy so the
	// next read rebuilds it.
	graphs map[string]dgraph.Graph[string, model.Node]
}

const graphSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT NOT NULL,
	project_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	qualified_name TEXT NOT NULL,
	rel_path   TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	PRIMARY KEY (project_id, id)
);
CREATE INDEX IF NOT EXISTS idx_nodes_project_file ON nodes(project_id, rel_path);

CREATE TABLE IF NOT EXISTS edges (
	project_id TEXT NOT NULL,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	weight     REAL NOT NULL,
	PRIMARY KEY (project_id, from_id, to_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_edges_project_from ON edges(project_id, from_id);
CREATE INDEX IF NOT EXISTS idx_edges_project_to ON edges(project_id, to_id);
`

// OpenGraphStore opens (creating if absent) the per-project graph.db.
func OpenGraphStore(dbPath string) (*GraphStore, error) {
	db, err := openGraphDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &GraphStore{db: db, graphs: map[string]dgraph.Graph[string, model.Node]{}}, nil
}

func (gs *GraphStore) Close() error { return gs.db.Close() }

// loadGraph builds (or returns the cached) in-memory graph for projectID,
// the same dominikbraun/graph.New + AddVertex/AddEdge idiom the teacher's
// searcher.Reload uses, sourced here from SQLite rows instead of a JSON
// blob.
func (gs *GraphStore) loadGraph(ctx context.Context, projectID string) (dgraph.Graph[string, model.Node], error) {
	if g, ok := gs.graphs[projectID]; ok {
		return g, nil
	}
	g := dgraph.New(func(n model.Node) string { return n.ID }, dgraph.Directed())
	nodes, err := gs.db.listNodes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if err := g.AddVertex(n); err != nil && err != dgraph.ErrVertexAlreadyExists {
			return nil, fmt.Errorf("add vertex %s: %w", n.ID, err)
		}
	}
	edges, err := gs.db.listEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		// Edges may reference nodes outside the loaded set (external
		// symbols); ignore the "missing vertex" case, matching the
		// teacher's "allow errors for missing nodes" comment.
		_ = g.AddEdge(e.From, e.To)
	}
	gs.graphs[projectID] = g
	return g, nil
}

func (gs *GraphStore) invalidate(projectID string) {
	delete(gs.graphs, projectID)
}

// UpsertNodes persists nodes and invalidates the cached in-memory graph so
// the next read rebuilds it with the new vertices.
func (gs *GraphStore) UpsertNodes(ctx context.Context, nodes []model.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if err := gs.db.upsertNodes(ctx, nodes); err != nil {
		return err
	}
	for _, n := range nodes {
		gs.invalidate(n.ProjectID)
	}
	return nil
}

// UpsertEdges is idempotent: re-inserting the same (from, to, kind) tuple
// for a project adds no row on the persisted side (a primary key conflict
// only refreshes the weight) and leaves the in-memory graph unchanged in
// shape.
func (gs *GraphStore) UpsertEdges(ctx context.Context, edges []model.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if err := gs.db.upsertEdges(ctx, edges); err != nil {
		return err
	}
	for _, e := range edges {
		gs.invalidate(e.ProjectID)
	}
	return nil
}

// DeleteByFile removes every node sourced from relPath and, per the
// storage guarantee, every edge incident to those nodes.
func (gs *GraphStore) DeleteByFile(ctx context.Context, projectID, relPath string) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if err := gs.db.deleteByFile(ctx, projectID, relPath); err != nil {
		return err
	}
	gs.invalidate(projectID)
	return nil
}

// Neighbors performs a bounded BFS from nodeID, honoring direction, edge
// kind filters, depth, and a result limit. Grounded on the teacher's
// queryTraversal (callers/callees/dependencies/dependents) generalized to
// the spec's single direction+kind+depth contract instead of one
// hardcoded operation per reverse index.
func (gs *GraphStore) Neighbors(ctx context.Context, projectID, nodeID string, kinds []model.EdgeKind, dir storage.Direction, depth, limit int) (storage.Subgraph, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	g, err := gs.loadGraph(ctx, projectID)
	if err != nil {
		return storage.Subgraph{}, err
	}

	kindSet := map[model.EdgeKind]bool{}
	for _, k := range kinds {
		kindSet[k] = true
	}

	type frontier struct {
		id    string
		depth int
	}

	visited := map[string]bool{nodeID: true}
	queue := []frontier{{id: nodeID, depth: 0}}
	var outNodes []model.Node
	var outEdges []model.Edge

	if seed, err := g.Vertex(nodeID); err == nil {
		outNodes = append(outNodes, seed)
	}

	adjacencyMap, err := g.AdjacencyMap()
	if err != nil {
		return storage.Subgraph{}, fmt.Errorf("adjacency map: %w", err)
	}
	predecessorMap, err := g.PredecessorMap()
	if err != nil {
		return storage.Subgraph{}, fmt.Errorf("predecessor map: %w", err)
	}

	for len(queue) > 0 && len(outNodes) < limit {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}

		var candidates []dgraph.Edge[string]
		if dir == storage.DirOut || dir == storage.DirBoth {
			for _, e := range adjacencyMap[cur.id] {
				candidates = append(candidates, e)
			}
		}
		if dir == storage.DirIn || dir == storage.DirBoth {
			for _, e := range predecessorMap[cur.id] {
				candidates = append(candidates, e)
			}
		}

		for _, e := range candidates {
			kind, weight, err := gs.db.edgeKind(ctx, projectID, e.Source, e.Target)
			if err != nil {
				continue
			}
			if len(kindSet) > 0 && !kindSet[kind] {
				continue
			}
			outEdges = append(outEdges, model.Edge{ProjectID: projectID, From: e.Source, To: e.Target, Kind: kind, Weight: weight})

			next := e.Target
			if next == cur.id {
				next = e.Source
			}
			if !visited[next] {
				visited[next] = true
				if v, err := g.Vertex(next); err == nil {
					outNodes = append(outNodes, v)
				}
				queue = append(queue, frontier{id: next, depth: cur.depth + 1})
			}
			if len(outNodes) >= limit {
				break
			}
		}
	}

	return storage.Subgraph{Nodes: outNodes, Edges: outEdges}, nil
}
