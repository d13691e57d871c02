package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestDiscovery_DefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "export {}")
	writeFile(t, root, "node_modules/dep/index.js", "x")
	writeFile(t, root, ".git/HEAD", "ref")
	writeFile(t, root, "dist/bundle.js", "x")
	writeFile(t, root, "README.md", "# hi")

	d, err := newDiscovery(root, nil)
	require.NoError(t, err)
	files, err := d.walk()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"src/app.ts", "README.md"}, files)
}

func TestDiscovery_UserPatternsSupplementDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "export {}")
	writeFile(t, root, "generated/schema.ts", "export {}")

	d, err := newDiscovery(root, []string{"generated/**"})
	require.NoError(t, err)
	files, err := d.walk()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"src/app.ts"}, files)
}

func TestChunkID_StableAndContentSensitive(t *testing.T) {
	a := ChunkID("p1", "a.ts", 1, 10, "hash1")
	b := ChunkID("p1", "a.ts", 1, 10, "hash1")
	c := ChunkID("p1", "a.ts", 1, 10, "hash2")
	d := ChunkID("p2", "a.ts", 1, 10, "hash1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "content hash participates in chunk identity")
	assert.NotEqual(t, a, d, "project id participates in chunk identity")
	assert.Len(t, a, 24)
}
