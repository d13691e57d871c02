// Package server implements the multi-service storage backend: Postgres
// (with the pgvector extension) for the project registry and vector
// search, Neo4j for the graph, and Redis for the cache. Grounded on the
// pgx/pgvector pattern in the pack's seanblong/reposearch and
// MuiGoku123432/goParser manifests (Postgres + pgvector + tsvector FTS
// behind one pool), generalized from their single-table chunk stores to
// this project's four-capability interface split.
package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/project"
	"github.com/codeindex/core/internal/storage"
)

// PGConfig names the connection parameters from §6 (pgHost, pgPort, pgDb,
// pgUser, pgPassword).
type PGConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

func (c PGConfig) connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// PGStore is the Postgres-backed ProjectRegistry + VectorStore. One pool
// serves every project; rows are partitioned by project_id.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore connects to Postgres and runs the migration, mirroring the
// reposearch Store.New + Store.Migrate idiom.
func OpenPGStore(ctx context.Context, cfg PGConfig, dim int) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.migrate(ctx, dim); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping is used by storageMode "auto" to probe server-backend availability
// within a bounded timeout before falling back to embedded.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) migrate(ctx context.Context, dim int) error {
	colDim := dim
	if colDim <= 0 {
		colDim = 1 // placeholder dimension; ALTERed below to the real value once a caller supplies it
	}
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	languages  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	project_id   TEXT NOT NULL,
	rel_path     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size         BIGINT NOT NULL,
	mtime        TIMESTAMPTZ NOT NULL,
	language     TEXT NOT NULL,
	indexed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (project_id, rel_path)
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id     TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	rel_path     TEXT NOT NULL,
	kind         TEXT NOT NULL,
	name         TEXT NOT NULL,
	start_line   INT NOT NULL,
	end_line     INT NOT NULL,
	text         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	embedding    vector(%d),
	ts           tsvector GENERATED ALWAYS AS (to_tsvector('english', text)) STORED
);
CREATE INDEX IF NOT EXISTS idx_chunks_project_file ON chunks(project_id, rel_path);
CREATE INDEX IF NOT EXISTS idx_chunks_ts ON chunks USING GIN (ts);
`, colDim)
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	if dim > 0 {
		alter := fmt.Sprintf(`ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d)`, dim)
		if _, err := s.pool.Exec(ctx, alter); err != nil {
			return fmt.Errorf("set chunk embedding dimension: %w", err)
		}
	}
	return nil
}

// --- ProjectRegistry ---

func (s *PGStore) Register(ctx context.Context, path string) (model.Project, error) {
	canon, err := project.Canonicalize(path)
	if err != nil {
		return model.Project{}, err
	}
	id, err := project.ID(canon)
	if err != nil {
		return model.Project{}, err
	}
	if p, err := s.getByID(ctx, id); err == nil {
		return p, nil
	}
	now := time.Now().UTC()
	p := model.Project{ID: id, Path: canon, Name: baseName(canon), CreatedAt: now, UpdatedAt: now}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (id, path, name, languages, created_at, updated_at) VALUES ($1,$2,$3,'',$4,$5)
		ON CONFLICT (id) DO NOTHING`, p.ID, p.Path, p.Name, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return model.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func (s *PGStore) getByID(ctx context.Context, id string) (model.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, path, name, languages, created_at, updated_at FROM projects WHERE id = $1`, id)
	return scanProjectRow(row)
}

func (s *PGStore) Resolve(ctx context.Context, ref string) (model.Project, error) {
	if p, err := s.getByID(ctx, ref); err == nil {
		return p, nil
	}
	if canon, err := project.Canonicalize(ref); err == nil {
		row := s.pool.QueryRow(ctx, `SELECT id, path, name, languages, created_at, updated_at FROM projects WHERE path = $1`, canon)
		if p, err := scanProjectRow(row); err == nil {
			return p, nil
		}
	}
	row := s.pool.QueryRow(ctx, `SELECT id, path, name, languages, created_at, updated_at FROM projects WHERE name = $1`, ref)
	p, err := scanProjectRow(row)
	if err != nil {
		return model.Project{}, fmt.Errorf("unknown project: %s", ref)
	}
	return p, nil
}

func (s *PGStore) List(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, path, name, languages, created_at, updated_at FROM projects ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []model.Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", id, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM files WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("delete files for %s: %w", id, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

func (s *PGStore) FindDuplicates(ctx context.Context) ([][]model.Project, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byPath := map[string][]model.Project{}
	for _, p := range all {
		byPath[p.Path] = append(byPath[p.Path], p)
	}
	var dups [][]model.Project
	for _, group := range byPath {
		if len(group) > 1 {
			dups = append(dups, group)
		}
	}
	return dups, nil
}

func (s *PGStore) UpsertFile(ctx context.Context, f model.File) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (project_id, rel_path, content_hash, size, mtime, language, indexed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (project_id, rel_path) DO UPDATE SET
			content_hash = EXCLUDED.content_hash, size = EXCLUDED.size, mtime = EXCLUDED.mtime,
			language = EXCLUDED.language, indexed_at = EXCLUDED.indexed_at`,
		f.ProjectID, f.RelPath, f.ContentHash, f.Size, f.ModTime, f.Language, f.IndexedAt)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.RelPath, err)
	}
	return nil
}

func (s *PGStore) GetFile(ctx context.Context, projectID, relPath string) (model.File, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT project_id, rel_path, content_hash, size, mtime, language, indexed_at
		FROM files WHERE project_id = $1 AND rel_path = $2`, projectID, relPath)
	var f model.File
	err := row.Scan(&f.ProjectID, &f.RelPath, &f.ContentHash, &f.Size, &f.ModTime, &f.Language, &f.IndexedAt)
	if err == pgx.ErrNoRows {
		return model.File{}, false, nil
	}
	if err != nil {
		return model.File{}, false, fmt.Errorf("get file %s: %w", relPath, err)
	}
	return f, true, nil
}

func (s *PGStore) ListFiles(ctx context.Context, projectID string) ([]model.File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT project_id, rel_path, content_hash, size, mtime, language, indexed_at
		FROM files WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var out []model.File
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.ProjectID, &f.RelPath, &f.ContentHash, &f.Size, &f.ModTime, &f.Language, &f.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteFile(ctx context.Context, projectID, relPath string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM files WHERE project_id = $1 AND rel_path = $2`, projectID, relPath)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", relPath, err)
	}
	return nil
}

// --- VectorStore ---

// UpsertChunks is wrapped in one transaction per call, satisfying the
// atomic-per-call guarantee.
func (s *PGStore) UpsertChunks(ctx context.Context, projectID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		var vec any
		if len(c.Embedding) > 0 {
			vec = pgvector.NewVector(c.Embedding)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (chunk_id, project_id, rel_path, kind, name, start_line, end_line, text, content_hash, embedding)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (chunk_id) DO UPDATE SET
				rel_path = EXCLUDED.rel_path, kind = EXCLUDED.kind, name = EXCLUDED.name,
				start_line = EXCLUDED.start_line, end_line = EXCLUDED.end_line,
				text = EXCLUDED.text, content_hash = EXCLUDED.content_hash,
				embedding = COALESCE(EXCLUDED.embedding, chunks.embedding)`,
			c.ID, projectID, c.RelPath, string(c.Kind), c.Name, c.StartLine, c.EndLine, c.Text, c.ContentHash, vec)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) DeleteByFile(ctx context.Context, projectID, relPath string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE project_id = $1 AND rel_path = $2`, projectID, relPath)
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", relPath, err)
	}
	return nil
}

func (s *PGStore) SearchANN(ctx context.Context, projectID string, queryVec []float32, k int, filter storage.SearchFilter) ([]storage.ScoredChunk, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(`SELECT chunk_id, 1 - (embedding <=> $1) AS score FROM chunks WHERE project_id = $2 AND embedding IS NOT NULL`)
	args := []interface{}{pgvector.NewVector(queryVec), projectID}
	appendPGFilters(&b, &args, filter)
	b.WriteString(fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args)+1))
	args = append(args, k)

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("ann search: %w", err)
	}
	defer rows.Close()
	var out []storage.ScoredChunk
	for rows.Next() {
		var sc storage.ScoredChunk
		if err := rows.Scan(&sc.ChunkID, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PGStore) SearchFTS(ctx context.Context, projectID string, queryText string, k int, filter storage.SearchFilter) ([]storage.ScoredChunk, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(`SELECT chunk_id, ts_rank(ts, plainto_tsquery('english', $1)) AS score FROM chunks
		WHERE project_id = $2 AND ts @@ plainto_tsquery('english', $1)`)
	args := []interface{}{queryText, projectID}
	appendPGFilters(&b, &args, filter)
	b.WriteString(fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", len(args)+1))
	args = append(args, k)

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()
	var out []storage.ScoredChunk
	for rows.Next() {
		var sc storage.ScoredChunk
		if err := rows.Scan(&sc.ChunkID, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, rows.Err()
}

func appendPGFilters(b *strings.Builder, args *[]interface{}, filter storage.SearchFilter) {
	if filter.Language != "" {
		*args = append(*args, "%."+filter.Language)
		fmt.Fprintf(b, " AND rel_path LIKE $%d", len(*args))
	}
	if len(filter.SymbolKinds) > 0 {
		placeholders := make([]string, len(filter.SymbolKinds))
		for i, k := range filter.SymbolKinds {
			*args = append(*args, string(k))
			placeholders[i] = fmt.Sprintf("$%d", len(*args))
		}
		fmt.Fprintf(b, " AND kind IN (%s)", strings.Join(placeholders, ","))
	}
}

func (s *PGStore) CountChunks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE project_id = $1`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *PGStore) ListChunksByFile(ctx context.Context, projectID, relPath string) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, project_id, rel_path, kind, name, start_line, end_line, text, content_hash
		FROM chunks WHERE project_id = $1 AND rel_path = $2 ORDER BY start_line`, projectID, relPath)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", relPath, err)
	}
	defer rows.Close()
	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var kind string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.RelPath, &kind, &c.Name, &c.StartLine, &c.EndLine, &c.Text, &c.ContentHash); err != nil {
			return nil, err
		}
		c.Kind = model.ChunkKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) GetChunks(ctx context.Context, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, project_id, rel_path, kind, name, start_line, end_line, text, content_hash
		FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()
	byID := map[string]model.Chunk{}
	for rows.Next() {
		var c model.Chunk
		var kind string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.RelPath, &kind, &c.Name, &c.StartLine, &c.EndLine, &c.Text, &c.ContentHash); err != nil {
			return nil, err
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProjectRow(row rowScanner) (model.Project, error) {
	var p model.Project
	var languages string
	if err := row.Scan(&p.ID, &p.Path, &p.Name, &languages, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Project{}, err
	}
	if languages != "" {
		p.Languages = strings.Split(languages, ",")
	}
	return p, nil
}

func baseName(p string) string {
	i := strings.LastIndexAny(p, "/\\")
	return p[i+1:]
}
