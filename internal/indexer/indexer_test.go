package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/parser"
	"github.com/codeindex/core/internal/project"
	"github.com/codeindex/core/internal/storage"
	"github.com/codeindex/core/internal/storage/embedded"
)

const aTS = `export class Foo {
  bar(x: number): number {
    return x + 1;
  }
}
`

const aTSRenamed = `export class Foo {
  baz(x: number): number {
    return x + 1;
  }
}
`

const bTS = `import { Foo } from "./a";

export function run(): number {
  const f = new Foo();
  return f.bar(1);
}
`

type fixture struct {
	root    string
	backend *embedded.Backend
	ix      *Indexer
	pid     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "a.ts", aTS)
	writeFile(t, root, "b.ts", bTS)
	writeFile(t, root, "c.md", "# Notes\n\nProse about the project.\n")

	pid, err := project.ID(root)
	require.NoError(t, err)

	be, err := embedded.Open(t.TempDir(), pid, 16)
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })

	_, err = be.Registry().Register(context.Background(), root)
	require.NoError(t, err)

	provider := embed.NewFakeProvider(16)
	ix := New(root, pid, be, parser.Default(), provider, Options{})
	return &fixture{root: root, backend: be, ix: ix, pid: pid}
}

func TestInit_ColdIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.ix.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesAdded)
	assert.Empty(t, stats.Errors)
	assert.GreaterOrEqual(t, stats.ChunksWritten, 3)

	files, err := f.backend.Registry().ListFiles(ctx, f.pid)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	// Chunks exist for the class, the method, and the markdown fallback.
	aChunks, err := f.backend.Vectors().ListChunksByFile(ctx, f.pid, "a.ts")
	require.NoError(t, err)
	names := chunkNames(aChunks)
	assert.Contains(t, names, "Foo")
	assert.Contains(t, names, "bar")

	mdChunks, err := f.backend.Vectors().ListChunksByFile(ctx, f.pid, "c.md")
	require.NoError(t, err)
	require.Len(t, mdChunks, 1)
	assert.Equal(t, model.ChunkFile, mdChunks[0].Kind)

	// The graph knows b.ts imports something.
	sub, err := f.backend.Graph().Neighbors(ctx, f.pid, parser.FileNodeID(f.pid, "b.ts"), nil, storage.DirBoth, 2, 100)
	require.NoError(t, err)
	edgeKinds := map[model.EdgeKind]bool{}
	for _, e := range sub.Edges {
		edgeKinds[e.Kind] = true
	}
	assert.True(t, edgeKinds[model.EdgeImports], "b.ts emits an imports edge")
}

func TestInit_SecondRunIsDiffClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ix.Init(ctx)
	require.NoError(t, err)

	stats, err := f.ix.Init(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesAdded)
	assert.Zero(t, stats.FilesModified)
	assert.Zero(t, stats.FilesDeleted)
	assert.Zero(t, stats.ChunksWritten, "no stage-5 writes on a clean diff")
}

func TestApplyChanges_ModifyReplacesSymbols(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ix.Init(ctx)
	require.NoError(t, err)

	writeFile(t, f.root, "a.ts", aTSRenamed)
	stats, err := f.ix.ApplyChanges(ctx, []Change{{Kind: ChangeModified, RelPath: "a.ts"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesModified)
	assert.Empty(t, stats.Errors)

	chunks, err := f.backend.Vectors().ListChunksByFile(ctx, f.pid, "a.ts")
	require.NoError(t, err)
	names := chunkNames(chunks)
	assert.Contains(t, names, "baz")
	assert.NotContains(t, names, "bar", "stale chunks are gone")

	// Old symbol node gone, new one present, reached via containment.
	sub, err := f.backend.Graph().Neighbors(ctx, f.pid, parser.FileNodeID(f.pid, "a.ts"), []model.EdgeKind{model.EdgeContains}, storage.DirOut, 2, 100)
	require.NoError(t, err)
	var symNames []string
	for _, n := range sub.Nodes {
		symNames = append(symNames, n.Name)
	}
	assert.Contains(t, symNames, "baz")
	assert.NotContains(t, symNames, "bar")
}

func TestApplyChanges_UnchangedNotificationIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ix.Init(ctx)
	require.NoError(t, err)

	// Touch the file to advance mtime but keep the bytes identical: the
	// hash check must classify it unchanged.
	abs := filepath.Join(f.root, "a.ts")
	require.NoError(t, os.Chtimes(abs, timeNowPlus(t), timeNowPlus(t)))

	stats, err := f.ix.ApplyChanges(ctx, []Change{{Kind: ChangeModified, RelPath: "a.ts"}})
	require.NoError(t, err)
	assert.Zero(t, stats.FilesModified)
	assert.Equal(t, 1, stats.FilesUnchanged)
	assert.Zero(t, stats.ChunksWritten)
}

func TestApplyChanges_DeleteIsComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ix.Init(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, "a.ts")))
	stats, err := f.ix.ApplyChanges(ctx, []Change{{Kind: ChangeDeleted, RelPath: "a.ts"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDeleted)

	chunks, err := f.backend.Vectors().ListChunksByFile(ctx, f.pid, "a.ts")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	sub, err := f.backend.Graph().Neighbors(ctx, f.pid, parser.FileNodeID(f.pid, "a.ts"), nil, storage.DirBoth, 2, 100)
	require.NoError(t, err)
	assert.Empty(t, sub.Nodes, "no node sourced from a.ts survives")

	_, found, err := f.backend.Registry().GetFile(ctx, f.pid, "a.ts")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReindex_RoundTripsChunkIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ix.Init(ctx)
	require.NoError(t, err)

	before, err := f.backend.Vectors().ListChunksByFile(ctx, f.pid, "a.ts")
	require.NoError(t, err)

	_, err = f.ix.Reindex(ctx)
	require.NoError(t, err)

	after, err := f.backend.Vectors().ListChunksByFile(ctx, f.pid, "a.ts")
	require.NoError(t, err)

	assert.Equal(t, chunkIDs(before), chunkIDs(after), "chunk ids are a pure function of content and boundaries")
}

func TestStatus_ReportsTiersAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ix.Init(ctx)
	require.NoError(t, err)

	st, err := f.ix.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.FileCount)
	assert.Greater(t, st.ChunkCount, 0)
	assert.False(t, st.LastIndexed.IsZero())
	assert.Equal(t, model.TierAST, st.ParserTiers["typescript"])
}

func TestInit_EmptyProject(t *testing.T) {
	root := t.TempDir()
	pid, err := project.ID(root)
	require.NoError(t, err)
	be, err := embedded.Open(t.TempDir(), pid, 16)
	require.NoError(t, err)
	defer be.Close()
	_, err = be.Registry().Register(context.Background(), root)
	require.NoError(t, err)

	ix := New(root, pid, be, parser.Default(), embed.NewFakeProvider(16), Options{})
	stats, err := ix.Init(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.FilesAdded)
	assert.Empty(t, stats.Errors)
}

func timeNowPlus(t *testing.T) time.Time {
	t.Helper()
	return time.Now().Add(time.Hour)
}

func chunkNames(chunks []model.Chunk) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, c.Name)
	}
	return out
}

func chunkIDs(chunks []model.Chunk) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, c.ID)
	}
	return out
}
