package server

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/storage"
)

// Neo4jConfig names the connection parameters from §6 (graphUri,
// graphUser, graphPassword).
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
}

// Neo4jStore is the server-mode GraphStore. Every node carries a
// projectId property so one database can hold many projects' graphs; the
// node label is the fixed "Symbol" and its Kind, ProjectID etc. are
// properties rather than separate labels, keeping the Cypher surface
// small and uniform across all model.NodeKind values.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

func OpenNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	if err := ensureConstraints(ctx, driver); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return &Neo4jStore{driver: driver}, nil
}

// ensureConstraints creates the global uniqueness constraint on node id.
// Global (rather than per-project) uniqueness is sound because node ids
// hash (projectId, kind, qualifiedName): two projects never share an id,
// so the MERGE in UpsertNodes can never steal another project's node.
func ensureConstraints(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)
	_, err := session.Run(ctx, `
		CREATE CONSTRAINT symbol_id IF NOT EXISTS FOR (s:Symbol) REQUIRE s.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create neo4j constraint: %w", err)
	}
	return nil
}

func (n *Neo4jStore) Close() error { return n.driver.Close(context.Background()) }

func (n *Neo4jStore) Ping(ctx context.Context) error { return n.driver.VerifyConnectivity(ctx) }

func (n *Neo4jStore) UpsertNodes(ctx context.Context, nodes []model.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, node := range nodes {
			_, err := tx.Run(ctx, `
				MERGE (s:Symbol {id: $id})
				SET s.projectId = $projectId, s.kind = $kind, s.name = $name,
					s.qualifiedName = $qualifiedName, s.relPath = $relPath,
					s.startLine = $startLine, s.endLine = $endLine`,
				map[string]any{
					"id": node.ID, "projectId": node.ProjectID, "kind": string(node.Kind),
					"name": node.Name, "qualifiedName": node.QualifiedName, "relPath": node.RelPath,
					"startLine": node.StartLine, "endLine": node.EndLine,
				})
			if err != nil {
				return nil, fmt.Errorf("upsert node %s: %w", node.ID, err)
			}
		}
		return nil, nil
	})
	return err
}

// UpsertEdges relies on MERGE for idempotence: re-inserting the same
// (from, to, kind) tuple matches the existing relationship instead of
// creating a duplicate.
func (n *Neo4jStore) UpsertEdges(ctx context.Context, edges []model.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, edge := range edges {
			_, err := tx.Run(ctx, `
				MATCH (a:Symbol {id: $from}), (b:Symbol {id: $to})
				MERGE (a)-[r:REL {kind: $kind}]->(b)
				SET r.weight = $weight, r.from = $from, r.to = $to`,
				map[string]any{"from": edge.From, "to": edge.To, "kind": string(edge.Kind), "weight": edge.Weight})
			if err != nil {
				return nil, fmt.Errorf("upsert edge %s->%s: %w", edge.From, edge.To, err)
			}
		}
		return nil, nil
	})
	return err
}

func (n *Neo4jStore) DeleteByFile(ctx context.Context, projectID, relPath string) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, err := session.Run(ctx, `
		MATCH (s:Symbol {projectId: $projectId, relPath: $relPath})
		DETACH DELETE s`, map[string]any{"projectId": projectID, "relPath": relPath})
	if err != nil {
		return fmt.Errorf("delete nodes for %s: %w", relPath, err)
	}
	return nil
}

// Neighbors issues a variable-length Cypher traversal bounded by depth,
// with limit applied as a Cypher LIMIT on the matched paths, then keeps
// only the requested edge kinds in Go, since filtering
// a variable number of relationship types inside the pattern itself would
// require building the query string per call anyway.
func (n *Neo4jStore) Neighbors(ctx context.Context, projectID, nodeID string, kinds []model.EdgeKind, dir storage.Direction, depth, limit int) (storage.Subgraph, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	seedResult, err := session.Run(ctx, `
		MATCH (seed:Symbol {id: $id, projectId: $projectId}) RETURN seed`,
		map[string]any{"id": nodeID, "projectId": projectID})
	if err != nil {
		return storage.Subgraph{}, fmt.Errorf("seed lookup: %w", err)
	}
	var sub storage.Subgraph
	seen := map[string]bool{}
	if seedResult.Next(ctx) {
		if raw, ok := seedResult.Record().Get("seed"); ok {
			if node, ok := raw.(neo4j.Node); ok {
				seed := nodeFromProps(node.Props)
				seen[seed.ID] = true
				sub.Nodes = append(sub.Nodes, seed)
			}
		}
	}
	if len(sub.Nodes) == 0 || depth <= 0 {
		// Unknown seed yields an empty subgraph; depth 0 only the seed.
		return sub, nil
	}

	pattern := "-[:REL*1..%d]-"
	switch dir {
	case storage.DirOut:
		pattern = "-[:REL*1..%d]->"
	case storage.DirIn:
		pattern = "<-[:REL*1..%d]-"
	}
	query := fmt.Sprintf(`
		MATCH (seed:Symbol {id: $id, projectId: $projectId})
		MATCH path = (seed)%s(other:Symbol)
		RETURN other, relationships(path) AS rels
		LIMIT $limit`, fmt.Sprintf(pattern, depth))

	result, err := session.Run(ctx, query, map[string]any{"id": nodeID, "projectId": projectID, "limit": limit})
	if err != nil {
		return storage.Subgraph{}, fmt.Errorf("neighbors query: %w", err)
	}

	kindSet := map[model.EdgeKind]bool{}
	for _, k := range kinds {
		kindSet[k] = true
	}

	seenEdges := map[string]bool{}
	for result.Next(ctx) {
		rec := result.Record()
		otherRaw, _ := rec.Get("other")
		other, ok := otherRaw.(neo4j.Node)
		if !ok {
			continue
		}
		node := nodeFromProps(other.Props)
		relsRaw, _ := rec.Get("rels")
		rels, _ := relsRaw.([]any)
		for _, rr := range rels {
			rel, ok := rr.(neo4j.Relationship)
			if !ok {
				continue
			}
			kind := model.EdgeKind(fmt.Sprint(rel.Props["kind"]))
			if len(kindSet) > 0 && !kindSet[kind] {
				continue
			}
			from, _ := rel.Props["from"].(string)
			to, _ := rel.Props["to"].(string)
			key := from + "|" + to + "|" + string(kind)
			if seenEdges[key] {
				continue
			}
			seenEdges[key] = true
			weight, _ := rel.Props["weight"].(float64)
			sub.Edges = append(sub.Edges, model.Edge{ProjectID: projectID, From: from, To: to, Kind: kind, Weight: weight})
		}
		if !seen[node.ID] {
			seen[node.ID] = true
			sub.Nodes = append(sub.Nodes, node)
		}
	}
	if err := result.Err(); err != nil {
		return storage.Subgraph{}, err
	}
	return sub, nil
}

func nodeFromProps(props map[string]any) model.Node {
	get := func(k string) string {
		v, _ := props[k].(string)
		return v
	}
	getInt := func(k string) int {
		switch v := props[k].(type) {
		case int64:
			return int(v)
		case int:
			return v
		}
		return 0
	}
	return model.Node{
		ID:            get("id"),
		ProjectID:     get("projectId"),
		Kind:          model.NodeKind(get("kind")),
		Name:          get("name"),
		QualifiedName: get("qualifiedName"),
		RelPath:       get("relPath"),
		StartLine:     getInt("startLine"),
		EndLine:       getInt("endLine"),
	}
}
