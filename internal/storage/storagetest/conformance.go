// Package storagetest holds the conformance test vector both storage
// backends must pass: identical semantics behind the same interfaces, so
// the index service can't tell embedded and server apart. Each backend's
// package runs RunConformance from its own _test.go (the server backend
// gated on reachable services).
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/storage"
)

// RunConformance exercises the full storage contract against one backend.
// projectPath must be a real directory the registry can canonicalize.
func RunConformance(t *testing.T, be storage.Backend, projectPath string) {
	ctx := context.Background()

	p, err := be.Registry().Register(ctx, projectPath)
	require.NoError(t, err)

	t.Run("RegistryIdempotentRegister", func(t *testing.T) {
		again, err := be.Registry().Register(ctx, projectPath)
		require.NoError(t, err)
		assert.Equal(t, p.ID, again.ID)
		assert.Equal(t, p.Path, again.Path)
	})

	t.Run("RegistryResolve", func(t *testing.T) {
		byID, err := be.Registry().Resolve(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, byID.ID)

		byPath, err := be.Registry().Resolve(ctx, p.Path)
		require.NoError(t, err)
		assert.Equal(t, p.ID, byPath.ID)

		byName, err := be.Registry().Resolve(ctx, p.Name)
		require.NoError(t, err)
		assert.Equal(t, p.ID, byName.ID)

		_, err = be.Registry().Resolve(ctx, "no-such-project")
		assert.Error(t, err)
	})

	t.Run("RegistryList", func(t *testing.T) {
		all, err := be.Registry().List(ctx)
		require.NoError(t, err)
		var ids []string
		for _, proj := range all {
			ids = append(ids, proj.ID)
		}
		assert.Contains(t, ids, p.ID)
	})

	t.Run("FileRows", func(t *testing.T) {
		f := model.File{
			ProjectID:   p.ID,
			RelPath:     "src/a.ts",
			ContentHash: "h1",
			Size:        10,
			ModTime:     time.Now().UTC().Truncate(time.Millisecond),
			Language:    "typescript",
			IndexedAt:   time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, be.Registry().UpsertFile(ctx, f))

		got, found, err := be.Registry().GetFile(ctx, p.ID, "src/a.ts")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "h1", got.ContentHash)

		f.ContentHash = "h2"
		require.NoError(t, be.Registry().UpsertFile(ctx, f))
		got, _, err = be.Registry().GetFile(ctx, p.ID, "src/a.ts")
		require.NoError(t, err)
		assert.Equal(t, "h2", got.ContentHash, "upsert replaces")

		files, err := be.Registry().ListFiles(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, files, 1)

		require.NoError(t, be.Registry().DeleteFile(ctx, p.ID, "src/a.ts"))
		_, found, err = be.Registry().GetFile(ctx, p.ID, "src/a.ts")
		require.NoError(t, err)
		assert.False(t, found)
	})

	chunks := []model.Chunk{
		{
			ID: "c1", ProjectID: p.ID, RelPath: "src/a.ts", Kind: model.ChunkFunction,
			Name: "alpha", StartLine: 1, EndLine: 5,
			Text: "function alpha() { return weather(); }", ContentHash: "h1",
			Embedding: unitVec(8, 0),
		},
		{
			ID: "c2", ProjectID: p.ID, RelPath: "src/a.ts", Kind: model.ChunkFunction,
			Name: "beta", StartLine: 7, EndLine: 12,
			Text: "function beta() { return forecast(); }", ContentHash: "h1",
			Embedding: unitVec(8, 1),
		},
		{
			ID: "c3", ProjectID: p.ID, RelPath: "src/b.ts", Kind: model.ChunkClass,
			Name: "Gamma", StartLine: 1, EndLine: 20,
			Text: "class Gamma { weather() {} }", ContentHash: "h2",
			Embedding: unitVec(8, 2),
		},
	}

	t.Run("VectorUpsertAndGet", func(t *testing.T) {
		require.NoError(t, be.Vectors().UpsertChunks(ctx, p.ID, chunks))

		// Order preservation, including a missing id silently omitted.
		got, err := be.Vectors().GetChunks(ctx, []string{"c3", "missing", "c1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c3", got[0].ID)
		assert.Equal(t, "c1", got[1].ID)

		n, err := be.Vectors().CountChunks(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("VectorUpsertIdempotent", func(t *testing.T) {
		require.NoError(t, be.Vectors().UpsertChunks(ctx, p.ID, chunks))
		n, err := be.Vectors().CountChunks(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("SearchFTS", func(t *testing.T) {
		hits, err := be.Vectors().SearchFTS(ctx, p.ID, "forecast", 10, storage.SearchFilter{})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "c2", hits[0].ChunkID)

		empty, err := be.Vectors().SearchFTS(ctx, p.ID, "", 10, storage.SearchFilter{})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("SearchANN", func(t *testing.T) {
		hits, err := be.Vectors().SearchANN(ctx, p.ID, unitVec(8, 1), 10, storage.SearchFilter{})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "c2", hits[0].ChunkID, "identical vector ranks first")
		assert.InDelta(t, 1.0, hits[0].Score, 1e-3)
		// Descending scores.
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})

	t.Run("ListChunksByFile", func(t *testing.T) {
		got, err := be.Vectors().ListChunksByFile(ctx, p.ID, "src/a.ts")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c1", got[0].ID, "line order")
	})

	t.Run("VectorDeleteByFile", func(t *testing.T) {
		require.NoError(t, be.Vectors().DeleteByFile(ctx, p.ID, "src/a.ts"))
		n, err := be.Vectors().CountChunks(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		hits, err := be.Vectors().SearchFTS(ctx, p.ID, "forecast", 10, storage.SearchFilter{})
		require.NoError(t, err)
		assert.Empty(t, hits, "deleted chunks leave the lexical index too")
	})

	nodes := []model.Node{
		{ID: "n-file-a", ProjectID: p.ID, Kind: model.NodeFile, Name: "a.ts", QualifiedName: "src/a.ts", RelPath: "src/a.ts", StartLine: 1, EndLine: 12},
		{ID: "n-alpha", ProjectID: p.ID, Kind: model.NodeFunction, Name: "alpha", QualifiedName: "src/a.ts#alpha", RelPath: "src/a.ts", StartLine: 1, EndLine: 5},
		{ID: "n-file-b", ProjectID: p.ID, Kind: model.NodeFile, Name: "b.ts", QualifiedName: "src/b.ts", RelPath: "src/b.ts", StartLine: 1, EndLine: 20},
	}
	edges := []model.Edge{
		{ProjectID: p.ID, From: "n-file-a", To: "n-alpha", Kind: model.EdgeContains, Weight: 1},
		{ProjectID: p.ID, From: "n-file-b", To: "n-file-a", Kind: model.EdgeImports, Weight: 1},
	}

	t.Run("GraphUpsertAndNeighbors", func(t *testing.T) {
		require.NoError(t, be.Graph().UpsertNodes(ctx, nodes))
		require.NoError(t, be.Graph().UpsertEdges(ctx, edges))
		// Idempotent re-insert.
		require.NoError(t, be.Graph().UpsertEdges(ctx, edges))

		out, err := be.Graph().Neighbors(ctx, p.ID, "n-file-a", nil, storage.DirOut, 1, 100)
		require.NoError(t, err)
		assert.Len(t, out.Edges, 1, "outgoing only: contains, not the incoming import")
		assert.Equal(t, "n-alpha", out.Edges[0].To)

		in, err := be.Graph().Neighbors(ctx, p.ID, "n-file-a", nil, storage.DirIn, 1, 100)
		require.NoError(t, err)
		require.Len(t, in.Edges, 1)
		assert.Equal(t, model.EdgeImports, in.Edges[0].Kind)

		both, err := be.Graph().Neighbors(ctx, p.ID, "n-file-a", nil, storage.DirBoth, 1, 100)
		require.NoError(t, err)
		assert.Len(t, both.Edges, 2)

		filtered, err := be.Graph().Neighbors(ctx, p.ID, "n-file-a", []model.EdgeKind{model.EdgeImports}, storage.DirBoth, 1, 100)
		require.NoError(t, err)
		require.Len(t, filtered.Edges, 1)
		assert.Equal(t, model.EdgeImports, filtered.Edges[0].Kind)
	})

	t.Run("GraphDepthZeroIsSeedOnly", func(t *testing.T) {
		out, err := be.Graph().Neighbors(ctx, p.ID, "n-file-a", nil, storage.DirBoth, 0, 100)
		require.NoError(t, err)
		require.Len(t, out.Nodes, 1)
		assert.Equal(t, "n-file-a", out.Nodes[0].ID)
		assert.Empty(t, out.Edges)
	})

	t.Run("GraphCrossProjectIsolation", func(t *testing.T) {
		p2, err := be.Registry().Register(ctx, projectPath+"-twin")
		require.NoError(t, err)

		// A second project with the same source layout derives its own
		// node ids (ids hash the project id); its writes must neither
		// disturb the first project's graph nor leak into its traversals.
		twin := model.Node{
			ID: "n-file-a-" + p2.ID, ProjectID: p2.ID, Kind: model.NodeFile,
			Name: "a.ts", QualifiedName: "src/a.ts", RelPath: "src/a.ts", StartLine: 1, EndLine: 12,
		}
		require.NoError(t, be.Graph().UpsertNodes(ctx, []model.Node{twin}))

		mine, err := be.Graph().Neighbors(ctx, p2.ID, twin.ID, nil, storage.DirBoth, 1, 100)
		require.NoError(t, err)
		require.Len(t, mine.Nodes, 1)
		assert.Equal(t, p2.ID, mine.Nodes[0].ProjectID)

		// The first project's id is unknown inside the second project.
		foreign, err := be.Graph().Neighbors(ctx, p2.ID, "n-file-a", nil, storage.DirBoth, 1, 100)
		require.NoError(t, err)
		assert.Empty(t, foreign.Nodes)

		// And the first project's graph is untouched by the twin's write.
		still, err := be.Graph().Neighbors(ctx, p.ID, "n-file-a", nil, storage.DirBoth, 1, 100)
		require.NoError(t, err)
		assert.Len(t, still.Edges, 2)
	})

	t.Run("GraphDeleteByFileRemovesIncidentEdges", func(t *testing.T) {
		require.NoError(t, be.Graph().DeleteByFile(ctx, p.ID, "src/a.ts"))

		out, err := be.Graph().Neighbors(ctx, p.ID, "n-file-b", nil, storage.DirBoth, 2, 100)
		require.NoError(t, err)
		for _, n := range out.Nodes {
			assert.NotEqual(t, "src/a.ts", n.RelPath)
		}
		assert.Empty(t, out.Edges, "the import edge into the deleted file is gone")
	})

	t.Run("Cache", func(t *testing.T) {
		require.NoError(t, be.Cache().Set(ctx, p.ID+":standards:logging", []byte("v1"), time.Minute))
		require.NoError(t, be.Cache().Set(ctx, "other:standards:logging", []byte("v2"), time.Minute))

		got, hit, err := be.Cache().Get(ctx, p.ID+":standards:logging")
		require.NoError(t, err)
		require.True(t, hit)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, be.Cache().Invalidate(ctx, p.ID+":"))
		_, hit, err = be.Cache().Get(ctx, p.ID+":standards:logging")
		require.NoError(t, err)
		assert.False(t, hit)

		_, hit, err = be.Cache().Get(ctx, "other:standards:logging")
		require.NoError(t, err)
		assert.True(t, hit, "prefix invalidation spares other projects")
	})

	t.Run("RegistryDelete", func(t *testing.T) {
		require.NoError(t, be.Registry().Delete(ctx, p.ID))
		_, err := be.Registry().Resolve(ctx, p.ID)
		assert.Error(t, err)
	})
}

// unitVec returns an 8-dim unit vector with a distinct direction per
// seed, so cosine ranking in the vector tests is exact.
func unitVec(dim, seed int) []float32 {
	v := make([]float32, dim)
	v[seed%dim] = 1
	return v
}
