package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/indexer"
)

type recorder struct {
	mu      sync.Mutex
	changes []indexer.Change
}

func (r *recorder) emit(batch []indexer.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, batch...)
}

func (r *recorder) find(kind indexer.ChangeKind, rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.changes {
		if c.Kind == kind && c.RelPath == rel {
			return true
		}
	}
	return false
}

func TestWatcher_EmitsCreateModifyDelete(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}

	w, err := New(root, nil, time.Second, rec.emit)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(root, "a.ts")
	require.NoError(t, os.WriteFile(path, []byte("export {}"), 0o644))
	require.Eventually(t, func() bool {
		return rec.find(indexer.ChangeCreated, "a.ts")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("export const x = 1;"), 0o644))
	require.Eventually(t, func() bool {
		return rec.find(indexer.ChangeModified, "a.ts")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return rec.find(indexer.ChangeDeleted, "a.ts")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresExcludedPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	rec := &recorder{}

	w, err := New(root, nil, time.Second, rec.emit)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "x.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.ts"), []byte("y"), 0o644))

	require.Eventually(t, func() bool {
		return rec.find(indexer.ChangeCreated, "keep.ts")
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, rec.find(indexer.ChangeCreated, "node_modules/dep/x.js"))
}

func TestDiffSnapshots(t *testing.T) {
	now := time.Now()
	prev := map[string]fileStamp{
		"same.ts":    {size: 1, mtime: now},
		"changed.ts": {size: 1, mtime: now},
		"gone.ts":    {size: 1, mtime: now},
	}
	cur := map[string]fileStamp{
		"same.ts":    {size: 1, mtime: now},
		"changed.ts": {size: 2, mtime: now},
		"new.ts":     {size: 1, mtime: now},
	}

	changes := diffSnapshots(prev, cur)
	byPath := map[string]indexer.ChangeKind{}
	for _, c := range changes {
		byPath[c.RelPath] = c.Kind
	}
	assert.Len(t, changes, 3)
	assert.Equal(t, indexer.ChangeModified, byPath["changed.ts"])
	assert.Equal(t, indexer.ChangeCreated, byPath["new.ts"])
	assert.Equal(t, indexer.ChangeDeleted, byPath["gone.ts"])
}
