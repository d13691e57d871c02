package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_DeterministicAndDistinct(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	idA1, err := ID(dirA)
	require.NoError(t, err)
	idA2, err := ID(dirA)
	require.NoError(t, err)
	idB, err := ID(dirB)
	require.NoError(t, err)

	assert.Equal(t, idA1, idA2, "same path must always hash to the same id")
	assert.NotEqual(t, idA1, idB, "distinct paths must hash to distinct ids")
	assert.Len(t, idA1, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", idA1)
}

func TestID_RelativePathMatchesAbsolute(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)
	require.NoError(t, os.Chdir(dir))

	fromDot, err := ID(".")
	require.NoError(t, err)
	fromAbs, err := ID(dir)
	require.NoError(t, err)
	assert.Equal(t, fromAbs, fromDot)
}

func TestCanonicalize_ResolvesSymlinks(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(real, link))

	canonReal, err := Canonicalize(real)
	require.NoError(t, err)
	canonLink, err := Canonicalize(link)
	require.NoError(t, err)
	assert.Equal(t, canonReal, canonLink)
}

func TestCanonicalize_MissingPathFallsBackToClean(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "not", "..", "created-later")
	canon, err := Canonicalize(missing)
	require.NoError(t, err)
	assert.NotContains(t, canon, "..")
}

func TestDataDir_OverrideWins(t *testing.T) {
	dir, err := DataDir("/tmp/custom-root")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-root", dir)

	home, err := DataDir("")
	require.NoError(t, err)
	assert.Contains(t, home, ".codeindex")
}

func TestMarkerPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/p", ".codeindex", "project.json"), MarkerPath("/p"))
}
