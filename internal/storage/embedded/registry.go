package embedded

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/project"
)

// registrySchema mirrors the teacher's CreateSchema idiom: one transaction,
// IF NOT EXISTS everywhere so opening an existing registry.db is a no-op.
const registrySchema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	languages  TEXT NOT NULL DEFAULT '',
	storage_mode TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	project_id   TEXT NOT NULL,
	rel_path     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size         INTEGER NOT NULL,
	mtime        TEXT NOT NULL,
	language     TEXT NOT NULL,
	indexed_at   TEXT NOT NULL,
	PRIMARY KEY (project_id, rel_path)
);

CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
`

// Registry is the embedded-mode ProjectRegistry + File-row store, backed by
// a single SQLite database at <dataRoot>/registry.db. Grounded on the
// teacher's storage/schema.go + chunk_writer.go transaction idiom.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if absent) the registry database at dbPath.
func OpenRegistry(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// Register is idempotent by id: the canonical path always hashes to the
// same project id, so a second Register for the same path returns the
// existing row untouched.
func (r *Registry) Register(ctx context.Context, path string) (model.Project, error) {
	canon, err := project.Canonicalize(path)
	if err != nil {
		return model.Project{}, fmt.Errorf("canonicalize %s: %w", path, err)
	}
	id, err := project.ID(canon)
	if err != nil {
		return model.Project{}, err
	}

	existing, found, err := r.getByID(ctx, id)
	if err != nil {
		return model.Project{}, err
	}
	if found {
		return existing, nil
	}

	now := time.Now().UTC()
	p := model.Project{
		ID:        id,
		Path:      canon,
		Name:      filepathBase(canon),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = sq.Insert("projects").
		Columns("id", "path", "name", "languages", "storage_mode", "created_at", "updated_at").
		Values(p.ID, p.Path, p.Name, "", "", p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano)).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return model.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func (r *Registry) getByID(ctx context.Context, id string) (model.Project, bool, error) {
	row := sq.Select("id", "path", "name", "languages", "created_at", "updated_at").
		From("projects").Where(sq.Eq{"id": id}).RunWith(r.db).QueryRowContext(ctx)
	return scanProject(row)
}

func (r *Registry) Resolve(ctx context.Context, ref string) (model.Project, error) {
	// Try as id, then as canonical path, then as name.
	if p, found, err := r.getByID(ctx, ref); err != nil {
		return model.Project{}, err
	} else if found {
		return p, nil
	}

	if canon, err := project.Canonicalize(ref); err == nil {
		row := sq.Select("id", "path", "name", "languages", "created_at", "updated_at").
			From("projects").Where(sq.Eq{"path": canon}).RunWith(r.db).QueryRowContext(ctx)
		if p, found, err := scanProject(row); err != nil {
			return model.Project{}, err
		} else if found {
			return p, nil
		}
	}

	row := sq.Select("id", "path", "name", "languages", "created_at", "updated_at").
		From("projects").Where(sq.Eq{"name": ref}).RunWith(r.db).QueryRowContext(ctx)
	p, found, err := scanProject(row)
	if err != nil {
		return model.Project{}, err
	}
	if !found {
		return model.Project{}, fmt.Errorf("unknown project: %s", ref)
	}
	return p, nil
}

func (r *Registry) List(ctx context.Context) ([]model.Project, error) {
	rows, err := sq.Select("id", "path", "name", "languages", "created_at", "updated_at").
		From("projects").OrderBy("path").RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, _, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := sq.Delete("projects").Where(sq.Eq{"id": id}).RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	_, err = sq.Delete("files").Where(sq.Eq{"project_id": id}).RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("delete files for project %s: %w", id, err)
	}
	return nil
}

// RecordStorageMode stores the resolved storage-mode decision on the
// project row. The service does not read it back: an "auto"
// configuration probes the server stack again on each start.
func (r *Registry) RecordStorageMode(ctx context.Context, id, mode string) error {
	_, err := sq.Update("projects").Set("storage_mode", mode).
		Where(sq.Eq{"id": id}).RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("record storage mode for %s: %w", id, err)
	}
	return nil
}

// StorageMode reads a previously-recorded mode decision; empty when none
// has been recorded.
func (r *Registry) StorageMode(ctx context.Context, id string) (string, error) {
	var mode string
	err := sq.Select("storage_mode").From("projects").Where(sq.Eq{"id": id}).
		RunWith(r.db).QueryRowContext(ctx).Scan(&mode)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read storage mode for %s: %w", id, err)
	}
	return mode, nil
}

// FindDuplicates returns groups of projects that share a canonical path
// under distinct ids — a hazard left behind by, e.g., an id-hashing scheme
// change, not something that should arise in steady-state operation.
func (r *Registry) FindDuplicates(ctx context.Context) ([][]model.Project, error) {
	all, err := r.List(ctx)
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

func (r *Registry) UpsertFile(ctx context.Context, f model.File) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO files (project_id, rel_path, content_hash, size, mtime, language, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, rel_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size = excluded.size,
			mtime = excluded.mtime,
			language = excluded.language,
			indexed_at = excluded.indexed_at
	`, f.ProjectID, f.RelPath, f.ContentHash, f.Size, f.ModTime.Format(time.RFC3339Nano), f.Language, f.IndexedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.RelPath, err)
	}
	return nil
}

func (r *Registry) GetFile(ctx context.Context, projectID, relPath string) (model.File, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT project_id, rel_path, content_hash, size, mtime, language, indexed_at
		FROM files WHERE project_id = ? AND rel_path = ?`, projectID, relPath)
	return scanFile(row)
}

func (r *Registry) ListFiles(ctx context.Context, projectID string) ([]model.File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id, rel_path, content_hash, size, mtime, language, indexed_at
		FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		var f model.File
		var mtime, indexedAt string
		if err := rows.Scan(&f.ProjectID, &f.RelPath, &f.ContentHash, &f.Size, &mtime, &f.Language, &indexedAt); err != nil {
			return nil, err
		}
		f.ModTime, _ = time.Parse(time.RFC3339Nano, mtime)
		f.IndexedAt, _ = time.Parse(time.RFC3339Nano, indexedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Registry) DeleteFile(ctx context.Context, projectID, relPath string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ? AND rel_path = ?`, projectID, relPath)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", relPath, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (model.Project, bool, error) {
	var p model.Project
	var languages, created, updated string
	err := row.Scan(&p.ID, &p.Path, &p.Name, &languages, &created, &updated)
	if err == sql.ErrNoRows {
		return model.Project{}, false, nil
	}
	if err != nil {
		return model.Project{}, false, fmt.Errorf("scan project: %w", err)
	}
	p.Languages = splitNonEmpty(languages, ",")
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return p, true, nil
}

func scanProjectRows(rows *sql.Rows) (model.Project, bool, error) {
	return scanProject(rows)
}

func scanFile(row rowScanner) (model.File, bool, error) {
	var f model.File
	var mtime, indexedAt string
	err := row.Scan(&f.ProjectID, &f.RelPath, &f.ContentHash, &f.Size, &mtime, &f.Language, &indexedAt)
	if err == sql.ErrNoRows {
		return model.File{}, false, nil
	}
	if err != nil {
		return model.File{}, false, fmt.Errorf("scan file: %w", err)
	}
	f.ModTime, _ = time.Parse(time.RFC3339Nano, mtime)
	f.IndexedAt, _ = time.Parse(time.RFC3339Nano, indexedAt)
	return f, true, nil
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if string(s[i]) == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func filepathBase(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' && p[i] != '\\' {
		i--
	}
	return p[i+1:]
}
