package embedded

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codeindex/core/internal/model"
)

// graphDB is the durable side of the embedded GraphStore: plain SQLite
// tables for nodes and edges. Grounded on the teacher's graph/storage.go
// persistence idiom (load/save a durable representation behind the
// in-memory traversal structure), swapped from a JSON snapshot file to
// SQLite rows so per-file deletes and idempotent edge upserts can be
// expressed directly in SQL rather than rewrite-whole-file.
type graphDB struct {
	db *sql.DB
}

func openGraphDB(dbPath string) (*graphDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	if _, err := db.Exec(graphSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create graph schema: %w", err)
	}
	return &graphDB{db: db}, nil
}

func (g *graphDB) Close() error { return g.db.Close() }

func (g *graphDB) upsertNodes(ctx context.Context, nodes []model.Node) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin node upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO nodes (id, project_id, kind, name, qualified_name, rel_path, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET
			project_id = excluded.project_id,
			kind = excluded.kind, name = excluded.name, qualified_name = excluded.qualified_name,
			rel_path = excluded.rel_path, start_line = excluded.start_line, end_line = excluded.end_line
	`)
	if err != nil {
		return fmt.Errorf("prepare node upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.Exec(n.ID, n.ProjectID, string(n.Kind), n.Name, n.QualifiedName, n.RelPath, n.StartLine, n.EndLine); err != nil {
			return fmt.Errorf("upsert node %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// upsertEdges is idempotent per the storage guarantee: the primary key is
// (project_id, from_id, to_id, kind), so re-inserting the same tuple with
// a different weight simply refreshes the weight and changes nothing else.
func (g *graphDB) upsertEdges(ctx context.Context, edges []model.Edge) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin edge upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO edges (project_id, from_id, to_id, kind, weight)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, from_id, to_id, kind) DO UPDATE SET weight = excluded.weight
	`)
	if err != nil {
		return fmt.Errorf("prepare edge upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.Exec(e.ProjectID, e.From, e.To, string(e.Kind), e.Weight); err != nil {
			return fmt.Errorf("upsert edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return tx.Commit()
}

// deleteByFile removes nodes sourced from relPath and every edge incident
// to them, satisfying the deletion-completeness invariant.
func (g *graphDB) deleteByFile(ctx context.Context, projectID, relPath string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM nodes WHERE project_id = ? AND rel_path = ?`, projectID, relPath)
	if err != nil {
		return fmt.Errorf("find nodes for %s: %w", relPath, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE project_id = ? AND rel_path = ?`, projectID, relPath); err != nil {
		return fmt.Errorf("delete nodes for %s: %w", relPath, err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE project_id = ? AND (from_id = ? OR to_id = ?)`, projectID, id, id); err != nil {
			return fmt.Errorf("delete edges incident to %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (g *graphDB) listNodes(ctx context.Context, projectID string) ([]model.Node, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, project_id, kind, name, qualified_name, rel_path, start_line, end_line
		FROM nodes WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []model.Node
	for rows.Next() {
		var n model.Node
		var kind string
		if err := rows.Scan(&n.ID, &n.ProjectID, &kind, &n.Name, &n.QualifiedName, &n.RelPath, &n.StartLine, &n.EndLine); err != nil {
			return nil, err
		}
		n.Kind = model.NodeKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (g *graphDB) listEdges(ctx context.Context, projectID string) ([]model.Edge, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT project_id, from_id, to_id, kind, weight FROM edges WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		var kind string
		if err := rows.Scan(&e.ProjectID, &e.From, &e.To, &kind, &e.Weight); err != nil {
			return nil, err
		}
		e.Kind = model.EdgeKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *graphDB) edgeKind(ctx context.Context, projectID, from, to string) (model.EdgeKind, float64, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT kind, weight FROM edges WHERE project_id = ? AND from_id = ? AND to_id = ? LIMIT 1`, projectID, from, to)
	var kind string
	var weight float64
	if err := row.Scan(&kind, &weight); err != nil {
		return "", 0, err
	}
	return model.EdgeKind(kind), weight, nil
}
