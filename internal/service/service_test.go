package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/apperr"
	"github.com/codeindex/core/internal/config"
	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/indexer"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/query"
	"github.com/codeindex/core/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataRoot = t.TempDir()
	svc, err := New(context.Background(), cfg, embed.NewFakeProvider(16))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func newTestProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write(t, root, "a.ts", `export class Foo {
  bar(x: number): number {
    return x + 1;
  }
}
`)
	write(t, root, "b.ts", `import { Foo } from "./a";

export function run(f: Foo): number {
  return f.bar(1);
}
`)
	return root
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, rel)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
}

func TestInitProject_CreatesMarkerAndIndex(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)

	p, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)
	assert.Len(t, p.ID, 16)

	// In-repo marker written.
	marker := filepath.Join(root, ".codeindex", "project.json")
	pc, found, err := loadProjectConfig(marker)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p.ID, pc.ProjectID)
	assert.Equal(t, 16, pc.Dim)

	st, err := svc.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Greater(t, st.ChunkCount, 0)
}

func TestInitProject_SecondInitRejected(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)

	_, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)

	_, err = svc.InitProject(context.Background(), root, InitOptions{})
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.AlreadyInitialized))

	// --new-config reconciles instead of failing.
	_, err = svc.InitProject(context.Background(), root, InitOptions{NewConfig: true})
	assert.NoError(t, err)
}

func TestInitProject_InvalidPath(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.InitProject(context.Background(), "/definitely/not/a/real/dir", InitOptions{})
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.PathInvalid))
}

func TestSearch_UnknownProject(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Search(context.Background(), "nope", query.Query{Text: "x"})
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.UnknownProject))
}

func TestSearch_ByProjectName(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)
	p, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), p.Name, query.Query{Text: "bar", Kind: query.KindFTS})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestGetFileContext(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)
	p, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)

	fc, err := svc.GetFileContext(context.Background(), p.ID, "a.ts", false)
	require.NoError(t, err)
	assert.Equal(t, "a.ts", fc.File.RelPath)
	assert.NotEmpty(t, fc.Chunks)

	_, err = svc.GetFileContext(context.Background(), p.ID, "missing.ts", false)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.UnknownFile))
}

func TestGetRelationships(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)
	p, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)

	sub, err := svc.GetRelationships(context.Background(), p.ID, "a.ts", nil, storage.DirBoth, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.Nodes)

	_, err = svc.GetRelationships(context.Background(), p.ID, "no-such-node", nil, storage.DirBoth, 1)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.UnknownSeed))
}

func TestNotifyFileChanges_IncrementalAndFull(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)
	p, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)

	write(t, root, "c.ts", "export const third = 3;\n")
	res, err := svc.NotifyFileChanges(context.Background(), p.ID,
		[]indexer.Change{{Kind: indexer.ChangeCreated, RelPath: "c.ts"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "incremental", res.Mode)
	assert.Equal(t, 1, res.Added)

	before, err := svc.Search(context.Background(), p.ID, query.Query{Text: "bar", Kind: query.KindFTS})
	require.NoError(t, err)

	res, err = svc.NotifyFileChanges(context.Background(), p.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "full_reindex", res.Mode)

	after, err := svc.Search(context.Background(), p.ID, query.Query{Text: "bar", Kind: query.KindFTS})
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Chunk.ID, after[i].Chunk.ID, "round-trip: full reindex reproduces results")
	}
}

func TestGetCodingStandards_UnknownProject(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetCodingStandards(context.Background(), "ghost", model.CategoryLogging)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.UnknownProject))
}

func TestListProjects(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)
	p, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)

	projects, err := svc.ListProjects(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, proj := range projects {
		ids = append(ids, proj.ID)
	}
	assert.Contains(t, ids, p.ID)
}

func TestDeleteProject_RemovesData(t *testing.T) {
	svc := newTestService(t)
	root := newTestProject(t)
	p, err := svc.InitProject(context.Background(), root, InitOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProject(context.Background(), p.ID))

	_, err = svc.Search(context.Background(), p.ID, query.Query{Text: "bar"})
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.UnknownProject))

	_, err = os.Stat(filepath.Join(svc.dataRoot, "projects", p.ID))
	assert.True(t, os.IsNotExist(err))
}
