package query

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/indexer"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/parser"
	"github.com/codeindex/core/internal/project"
	"github.com/codeindex/core/internal/storage/embedded"
)

func TestFuse_WeightsAndRanks(t *testing.T) {
	// "a" leads the vector branch, "b" leads lexical; vector weight wins.
	fused := fuse([]string{"a", "b"}, []string{"b", "a"}, nil)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].chunkID)

	// a: 1.0/61 + 0.7/62 ; b: 1.0/62 + 0.7/61
	assert.InDelta(t, 1.0/61+0.7/62, fused[0].score, 1e-9)
	assert.InDelta(t, 1.0/62+0.7/61, fused[1].score, 1e-9)
}

func TestFuse_AbsentBranchContributesNothing(t *testing.T) {
	fused := fuse([]string{"a"}, nil, []string{"b"})
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].chunkID)
	assert.InDelta(t, 1.0/61, fused[0].score, 1e-9)
	assert.InDelta(t, 0.5/61, fused[1].score, 1e-9)
}

func TestFuse_MultiBranchPresenceOutranksSingle(t *testing.T) {
	// "c" appears mid-rank in both branches; "a" and "b" top one each.
	fused := fuse([]string{"a", "c"}, []string{"b", "c"}, nil)
	require.Len(t, fused, 3)
	assert.Equal(t, "c", fused[0].chunkID, "agreement across branches beats a single top rank")
}

// modeBlindProvider embeds identical text to identical vectors regardless
// of query/passage mode, making exact-text ANN matches deterministic in
// tests.
type modeBlindProvider struct{ dims int }

func (p modeBlindProvider) Embed(ctx context.Context, texts []string, mode embed.Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		hash := sha256.Sum256([]byte(text))
		vec := make([]float32, p.dims)
		for j := 0; j < p.dims; j++ {
			bits := binary.BigEndian.Uint32(hash[(j*4)%len(hash) : (j*4)%len(hash)+4])
			vec[j] = (float32(bits)/float32(1<<32))*2.0 - 1.0
		}
		out[i] = vec
	}
	return out, nil
}

func (p modeBlindProvider) Dimensions() int { return p.dims }
func (p modeBlindProvider) Close() error    { return nil }

type fixture struct {
	engine  *Engine
	backend *embedded.Backend
	pid     string
}

const utilTS = `export function formatTimestamp(ms: number): string {
  return new Date(ms).toISOString();
}
`

const clockTS = `export function renderClock(epochMillis: number): string {
  const when = new Date(epochMillis);
  return when.toLocaleTimeString();
}
`

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	write(t, root, "util.ts", utilTS)
	write(t, root, "clock.ts", clockTS)

	pid, err := project.ID(root)
	require.NoError(t, err)
	be, err := embedded.Open(t.TempDir(), pid, 16)
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })
	_, err = be.Registry().Register(context.Background(), root)
	require.NoError(t, err)

	provider := modeBlindProvider{dims: 16}
	ix := indexer.New(root, pid, be, parser.Default(), provider, indexer.Options{})
	_, err = ix.Init(context.Background())
	require.NoError(t, err)

	return &fixture{engine: NewEngine(be, provider), backend: be, pid: pid}
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, rel)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
}

func TestSearch_FTSFindsLexicalMatch(t *testing.T) {
	f := newFixture(t)
	results, err := f.engine.Search(context.Background(), f.pid, Query{Text: "formatTimestamp", Kind: KindFTS})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "util.ts", results[0].Chunk.RelPath)
}

func TestSearch_VectorExactTextTops(t *testing.T) {
	f := newFixture(t)
	// The query is the verbatim text of util.ts's function chunk; with a
	// mode-blind provider its vector is identical, so it must rank first.
	chunks, err := f.backend.Vectors().ListChunksByFile(context.Background(), f.pid, "util.ts")
	require.NoError(t, err)
	var target model.Chunk
	for _, c := range chunks {
		if c.Name == "formatTimestamp" {
			target = c
		}
	}
	require.NotEmpty(t, target.ID)

	results, err := f.engine.Search(context.Background(), f.pid, Query{Text: target.Text, Kind: KindVector})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, target.ID, results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].VectorSim, 1e-3)
}

func TestSearch_HybridUnionsBranches(t *testing.T) {
	f := newFixture(t)
	results, err := f.engine.Search(context.Background(), f.pid, Query{Text: "renderClock", Kind: KindHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.Chunk.RelPath)
	}
	assert.Contains(t, paths, "clock.ts")
}

func TestSearch_GraphWithoutSeedIsEmpty(t *testing.T) {
	f := newFixture(t)
	results, err := f.engine.Search(context.Background(), f.pid, Query{Text: "anything", Kind: KindGraph})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_GraphSeedByRelPath(t *testing.T) {
	f := newFixture(t)
	// Depth 1: the file's own symbols only — depth 2 would hop through
	// shared external nodes into the other file.
	results, err := f.engine.Search(context.Background(), f.pid, Query{
		Text: "", Kind: KindGraph, GraphSeed: "util.ts", GraphDepth: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "util.ts", r.Chunk.RelPath)
	}
}

func TestSearch_PathGlobFilter(t *testing.T) {
	f := newFixture(t)
	results, err := f.engine.Search(context.Background(), f.pid, Query{
		Text: "function", Kind: KindFTS,
		Filters: Filters{RelPathGlob: "clock.*"},
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "clock.ts", r.Chunk.RelPath)
	}
}

func TestSearch_EmptyCorpus(t *testing.T) {
	root := t.TempDir()
	pid, err := project.ID(root)
	require.NoError(t, err)
	be, err := embedded.Open(t.TempDir(), pid, 16)
	require.NoError(t, err)
	defer be.Close()
	_, err = be.Registry().Register(context.Background(), root)
	require.NoError(t, err)

	engine := NewEngine(be, modeBlindProvider{dims: 16})
	results, err := engine.Search(context.Background(), pid, Query{Text: "anything", Kind: KindHybrid})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_KClamped(t *testing.T) {
	f := newFixture(t)
	results, err := f.engine.Search(context.Background(), f.pid, Query{Text: "function", Kind: KindFTS, K: 100000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), maxK)
}
