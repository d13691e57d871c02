package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/model"
)

func TestDetectLanguage_ByExtension(t *testing.T) {
	cases := map[string]string{
		"src/app.ts":   "typescript",
		"src/app.tsx":  "typescript",
		"lib/mod.js":   "typescript",
		"main.py":      "python",
		"lib.rs":       "rust",
		"Main.java":    "java",
		"util.c":       "c",
		"util.h":       "c",
		"index.php":    "php",
		"worker.rb":    "ruby",
		"README.md":    "",
		"Makefile":     "",
	}
	for path, want := range cases {
		assert.Equal(t, want, DetectLanguage(path, nil), path)
	}
}

func TestDetectLanguage_ByShebang(t *testing.T) {
	assert.Equal(t, "python", DetectLanguage("script", []byte("#!/usr/bin/env python3\nprint(1)\n")))
	assert.Equal(t, "ruby", DetectLanguage("script", []byte("#!/usr/bin/ruby\nputs 1\n")))
	assert.Equal(t, "", DetectLanguage("script", []byte("no shebang here")))
}

const tsSource = `import { helper } from "./util";

export class Foo {
  bar(x: number): number {
    return helper(x) + 1;
  }
}

function standalone(f: Foo): number {
  return f.bar(2);
}
`

func TestParseFile_TypeScriptSymbols(t *testing.T) {
	reg := Default()
	ext, tier, err := ParseFile(context.Background(), reg, "proj1", "a.ts", []byte(tsSource))
	require.NoError(t, err)
	assert.Equal(t, model.TierAST, tier)

	byName := map[string]model.Node{}
	for _, n := range ext.Symbols {
		byName[n.Name] = n
	}
	require.Contains(t, byName, "Foo")
	require.Contains(t, byName, "bar")
	require.Contains(t, byName, "standalone")
	assert.Equal(t, model.NodeClass, byName["Foo"].Kind)
	assert.Equal(t, model.NodeMethod, byName["bar"].Kind)
	assert.Equal(t, "a.ts#Foo.bar", byName["bar"].QualifiedName)
	assert.Equal(t, model.NodeFunction, byName["standalone"].Kind)

	// File node leads the symbol list.
	assert.Equal(t, model.NodeFile, ext.Symbols[0].Kind)
	assert.Equal(t, "a.ts", ext.Symbols[0].QualifiedName)
}

func TestParseFile_TypeScriptEdges(t *testing.T) {
	reg := Default()
	ext, _, err := ParseFile(context.Background(), reg, "proj1", "a.ts", []byte(tsSource))
	require.NoError(t, err)

	kinds := map[model.EdgeKind]int{}
	for _, e := range ext.Edges {
		kinds[e.Kind]++
	}
	assert.Greater(t, kinds[model.EdgeContains], 0, "file/class containment edges")
	assert.Greater(t, kinds[model.EdgeImports], 0, "import edge for ./util")
	assert.Greater(t, kinds[model.EdgeCalls], 0, "standalone calls Foo.bar")
}

func TestParseFile_TypeScriptChunks(t *testing.T) {
	reg := Default()
	ext, _, err := ParseFile(context.Background(), reg, "proj1", "a.ts", []byte(tsSource))
	require.NoError(t, err)

	var names []string
	for _, c := range ext.Chunks {
		names = append(names, c.Name)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		assert.NotEmpty(t, c.Text)
	}
	assert.Contains(t, names, "Foo")
	assert.Contains(t, names, "bar")
	assert.Contains(t, names, "standalone")
}

func TestParseFile_Deterministic(t *testing.T) {
	reg := Default()
	a, _, err := ParseFile(context.Background(), reg, "proj1", "a.ts", []byte(tsSource))
	require.NoError(t, err)
	b, _, err := ParseFile(context.Background(), reg, "proj1", "a.ts", []byte(tsSource))
	require.NoError(t, err)

	require.Equal(t, len(a.Symbols), len(b.Symbols))
	for i := range a.Symbols {
		assert.Equal(t, a.Symbols[i].ID, b.Symbols[i].ID)
	}
	assert.Equal(t, a.Edges, b.Edges)
	assert.Equal(t, a.Chunks, b.Chunks)
}

func TestParseFile_UnsupportedLanguageFallsBack(t *testing.T) {
	reg := Default()
	src := []byte("# A Readme\n\nSome prose.\n")
	ext, tier, err := ParseFile(context.Background(), reg, "proj1", "README.md", src)
	require.NoError(t, err)

	assert.Equal(t, model.TierFallback, tier)
	assert.Empty(t, ext.Symbols)
	assert.Empty(t, ext.Edges)
	require.Len(t, ext.Chunks, 1)
	assert.Equal(t, model.ChunkFile, ext.Chunks[0].Kind)
	assert.Equal(t, 1, ext.Chunks[0].StartLine)
	assert.Equal(t, 3, ext.Chunks[0].EndLine)
}

func TestParsePython_FunctionAndClass(t *testing.T) {
	src := []byte(`import os

class Greeter:
    def greet(self, name):
        return "hi " + name

def main():
    g = Greeter()
    print(g.greet("x"))
`)
	reg := Default()
	ext, tier, err := ParseFile(context.Background(), reg, "proj1", "app.py", src)
	require.NoError(t, err)
	assert.Equal(t, model.TierAST, tier)

	byName := map[string]model.NodeKind{}
	for _, n := range ext.Symbols {
		byName[n.Name] = n.Kind
	}
	assert.Equal(t, model.NodeClass, byName["Greeter"])
	assert.Equal(t, model.NodeMethod, byName["greet"])
	assert.Equal(t, model.NodeFunction, byName["main"])
}

func TestFileNodeID_MatchesEmittedFileNode(t *testing.T) {
	reg := Default()
	ext, _, err := ParseFile(context.Background(), reg, "proj1", "a.ts", []byte(tsSource))
	require.NoError(t, err)
	assert.Equal(t, FileNodeID("proj1", "a.ts"), ext.Symbols[0].ID)
}

func TestNodeIDs_ProjectScoped(t *testing.T) {
	// Two projects holding the same file must never share a node id —
	// node ids hash (projectId, kind, qualifiedName), like chunk ids hash
	// the project id into their identity.
	reg := Default()
	a, _, err := ParseFile(context.Background(), reg, "projA", "a.ts", []byte(tsSource))
	require.NoError(t, err)
	b, _, err := ParseFile(context.Background(), reg, "projB", "a.ts", []byte(tsSource))
	require.NoError(t, err)

	require.Equal(t, len(a.Symbols), len(b.Symbols))
	bIDs := map[string]bool{}
	for _, n := range b.Symbols {
		bIDs[n.ID] = true
	}
	for _, n := range a.Symbols {
		assert.False(t, bIDs[n.ID], "node %s collides across projects", n.QualifiedName)
	}
	assert.NotEqual(t, FileNodeID("projA", "a.ts"), FileNodeID("projB", "a.ts"))
}
