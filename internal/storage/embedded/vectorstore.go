package embedded

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/storage"
)

var initVecOnce sync.Once

// InitVectorExtension registers sqlite-vec with the driver. Must run once
// before any embedded VectorStore is opened. Grounded on the teacher's
// storage/vector_index.go InitVectorExtension.
func InitVectorExtension() {
	initVecOnce.Do(sqlite_vec.Auto)
}

const vectorSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id     TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	rel_path     TEXT NOT NULL,
	kind         TEXT NOT NULL,
	name         TEXT NOT NULL,
	start_line   INTEGER NOT NULL,
	end_line     INTEGER NOT NULL,
	text         TEXT NOT NULL,
	content_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(project_id, rel_path);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	chunk_id UNINDEXED,
	text,
	tokenize = 'unicode61 remove_diacritics 0'
);
`

// VectorStore is the embedded-mode VectorStore: one SQLite database per
// project holding the chunk rows, an FTS5 virtual table for SearchFTS, and
// a vec0 virtual table (created lazily once the embedding dimension is
// known) for SearchANN. Grounded on the teacher's storage/vector_index.go,
// storage/fts_index.go, and storage/chunk_writer.go.
type VectorStore struct {
	db         *sql.DB
	dimensions int
	vecReady   bool
}

// OpenVectorStore opens (creating if absent) the per-project vectors.db.
// dimensions is fixed at project creation per the data model's chunk
// invariant and is 0 until the first UpsertChunks call supplies a
// non-empty embedding.
func OpenVectorStore(dbPath string, dimensions int) (*VectorStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := db.Exec(vectorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vector schema: %w", err)
	}
	vs := &VectorStore{db: db, dimensions: dimensions}
	if dimensions > 0 {
		if err := vs.ensureVecTable(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return vs, nil
}

func (vs *VectorStore) Close() error { return vs.db.Close() }

func (vs *VectorStore) ensureVecTable() error {
	if vs.vecReady {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(
		chunk_id TEXT PRIMARY KEY,
		embedding float[%d]
	)`, vs.dimensions)
	if _, err := vs.db.Exec(ddl); err != nil {
		return fmt.Errorf("create vec0 table: %w", err)
	}
	vs.vecReady = true
	return nil
}

// UpsertChunks is atomic per call: every chunk row, FTS row, and vector row
// is written inside one transaction. Callers that need per-file deletion
// first must call DeleteByFile before UpsertChunks, per the ingest
// pipeline's persist stage.
func (vs *VectorStore) UpsertChunks(ctx context.Context, projectID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if vs.dimensions == 0 {
		for _, c := range chunks {
			if len(c.Embedding) > 0 {
				vs.dimensions = len(c.Embedding)
				break
			}
		}
		if vs.dimensions > 0 {
			if err := vs.ensureVecTable(); err != nil {
				return err
			}
		}
	}

	tx, err := vs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	chunkStmt, err := tx.Prepare(`
		INSERT INTO chunks (chunk_id, project_id, rel_path, kind, name, start_line, end_line, text, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			rel_path = excluded.rel_path, kind = excluded.kind, name = excluded.name,
			start_line = excluded.start_line, end_line = excluded.end_line,
			text = excluded.text, content_hash = excluded.content_hash
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer chunkStmt.Close()

	ftsDelete, err := tx.Prepare(`DELETE FROM chunks_fts WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare fts delete: %w", err)
	}
	defer ftsDelete.Close()

	ftsInsert, err := tx.Prepare(`INSERT INTO chunks_fts (chunk_id, text) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	defer ftsInsert.Close()

	var vecDelete, vecInsert *sql.Stmt
	if vs.vecReady {
		vecDelete, err = tx.Prepare(`DELETE FROM chunks_vec WHERE chunk_id = ?`)
		if err != nil {
			return fmt.Errorf("prepare vec delete: %w", err)
		}
		defer vecDelete.Close()
		vecInsert, err = tx.Prepare(`INSERT INTO chunks_vec (chunk_id, embedding) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare vec insert: %w", err)
		}
		defer vecInsert.Close()
	}

	for _, c := range chunks {
		if _, err := chunkStmt.Exec(c.ID, projectID, c.RelPath, string(c.Kind), c.Name, c.StartLine, c.EndLine, c.Text, c.ContentHash); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
		if _, err := ftsDelete.Exec(c.ID); err != nil {
			return fmt.Errorf("fts delete %s: %w", c.ID, err)
		}
		if _, err := ftsInsert.Exec(c.ID, c.Text); err != nil {
			return fmt.Errorf("fts insert %s: %w", c.ID, err)
		}
		if vecInsert != nil && len(c.Embedding) > 0 {
			if _, err := vecDelete.Exec(c.ID); err != nil {
				return fmt.Errorf("vec delete %s: %w", c.ID, err)
			}
			if _, err := vecInsert.Exec(c.ID, serializeEmbedding(c.Embedding)); err != nil {
				return fmt.Errorf("vec insert %s: %w", c.ID, err)
			}
		}
	}

	return tx.Commit()
}

// DeleteByFile removes every chunk sourced from relPath, across the chunk,
// FTS, and vector tables in one transaction.
func (vs *VectorStore) DeleteByFile(ctx context.Context, projectID, relPath string) error {
	tx, err := vs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE project_id = ? AND rel_path = ?`, projectID, relPath)
	if err != nil {
		return fmt.Errorf("find chunks for %s: %w", relPath, err)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE project_id = ? AND rel_path = ?`, projectID, relPath); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", relPath, err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`, id); err != nil {
			return fmt.Errorf("delete fts for %s: %w", id, err)
		}
		if vs.vecReady {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_vec WHERE chunk_id = ?`, id); err != nil {
				return fmt.Errorf("delete vec for %s: %w", id, err)
			}
		}
	}
	return tx.Commit()
}

// SearchANN returns the k nearest chunks to queryVec by cosine distance
// (lower is better internally, converted here to a descending similarity
// score for the ScoredChunk contract).
func (vs *VectorStore) SearchANN(ctx context.Context, projectID string, queryVec []float32, k int, filter storage.SearchFilter) ([]storage.ScoredChunk, error) {
	if !vs.vecReady || len(queryVec) == 0 {
		return nil, nil
	}
	query, args := buildANNQuery(projectID, filter, k)
	args = append([]interface{}{serializeEmbedding(queryVec)}, args...)

	rows, err := vs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredChunk
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		out = append(out, storage.ScoredChunk{ChunkID: id, Score: 1 - dist})
	}
	return out, rows.Err()
}

func buildANNQuery(projectID string, filter storage.SearchFilter, k int) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`
		SELECT v.chunk_id, vec_distance_cosine(v.embedding, ?) AS distance
		FROM chunks_vec v
		JOIN chunks c ON c.chunk_id = v.chunk_id
		WHERE c.project_id = ?`)
	args := []interface{}{projectID}
	appendFilterClauses(&b, &args, filter)
	b.WriteString(` ORDER BY distance LIMIT ?`)
	args = append(args, k)
	return b.String(), args
}

// SearchFTS returns the k best BM25 matches for queryText.
func (vs *VectorStore) SearchFTS(ctx context.Context, projectID string, queryText string, k int, filter storage.SearchFilter) ([]storage.ScoredChunk, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(`
		SELECT f.chunk_id, bm25(chunks_fts) AS rank
		FROM chunks_fts f
		JOIN chunks c ON c.chunk_id = f.chunk_id
		WHERE c.project_id = ? AND chunks_fts MATCH ?`)
	args := []interface{}{projectID, queryText}
	appendFilterClauses(&b, &args, filter)
	b.WriteString(` ORDER BY rank LIMIT ?`)
	args = append(args, k)

	rows, err := vs.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query fts index: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredChunk
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		// bm25() in SQLite returns lower-is-better; invert to a
		// descending similarity score so both branches share a
		// "higher is better" contract for fusion.
		out = append(out, storage.ScoredChunk{ChunkID: id, Score: -rank})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, rows.Err()
}

func appendFilterClauses(b *strings.Builder, args *[]interface{}, filter storage.SearchFilter) {
	if filter.Language != "" {
		b.WriteString(" AND c.rel_path LIKE ?")
		*args = append(*args, "%."+filter.Language)
	}
	if len(filter.SymbolKinds) > 0 {
		placeholders := make([]string, len(filter.SymbolKinds))
		for i, k := range filter.SymbolKinds {
			placeholders[i] = "?"
			*args = append(*args, string(k))
		}
		b.WriteString(" AND c.kind IN (" + strings.Join(placeholders, ",") + ")")
	}
	// RelPathGlob is applied post-fusion by the query engine (§4.4 step 6);
	// the store only narrows by language/kind, which it can do in SQL.
}

// CountChunks reports how many chunks projectID currently holds.
func (vs *VectorStore) CountChunks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := vs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// ListChunksByFile returns every chunk sourced from relPath in line order.
func (vs *VectorStore) ListChunksByFile(ctx context.Context, projectID, relPath string) ([]model.Chunk, error) {
	rows, err := vs.db.QueryContext(ctx, `
		SELECT chunk_id, project_id, rel_path, kind, name, start_line, end_line, text, content_hash
		FROM chunks WHERE project_id = ? AND rel_path = ? ORDER BY start_line`, projectID, relPath)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", relPath, err)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var kind string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.RelPath, &kind, &c.Name, &c.StartLine, &c.EndLine, &c.Text, &c.ContentHash); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Kind = model.ChunkKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunks hydrates chunk ids, preserving input order.
func (vs *VectorStore) GetChunks(ctx context.Context, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT chunk_id, project_id, rel_path, kind, name, start_line, end_line, text, content_hash
		FROM chunks WHERE chunk_id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := vs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	byID := map[string]model.Chunk{}
	for rows.Next() {
		var c model.Chunk
		var kind string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.RelPath, &kind, &c.Name, &c.StartLine, &c.EndLine, &c.Text, &c.ContentHash); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Kind = model.ChunkKind(kind)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
