package indexer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescer_BurstCollapsesToOneFlush(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Change
	c := NewCoalescer(50*time.Millisecond, func(batch []Change) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	})
	defer c.Stop()

	// 1000 modifications of the same file inside the window: exactly one
	// parse+embed cycle downstream.
	for i := 0; i < 1000; i++ {
		c.Add(Change{Kind: ChangeModified, RelPath: "a.ts"})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 1)
	assert.Equal(t, Change{Kind: ChangeModified, RelPath: "a.ts"}, batches[0][0])
}

func TestCoalescer_LatestChangeWins(t *testing.T) {
	var mu sync.Mutex
	var got []Change
	c := NewCoalescer(30*time.Millisecond, func(batch []Change) {
		mu.Lock()
		got = append(got, batch...)
		mu.Unlock()
	})
	defer c.Stop()

	c.Add(Change{Kind: ChangeCreated, RelPath: "a.ts"})
	c.Add(Change{Kind: ChangeModified, RelPath: "a.ts"})
	c.Add(Change{Kind: ChangeDeleted, RelPath: "a.ts"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ChangeDeleted, got[0].Kind)
}

func TestCoalescer_FlushDeliversImmediately(t *testing.T) {
	var mu sync.Mutex
	var got []Change
	c := NewCoalescer(time.Hour, func(batch []Change) {
		mu.Lock()
		got = append(got, batch...)
		mu.Unlock()
	})
	defer c.Stop()

	c.Add(Change{Kind: ChangeModified, RelPath: "a.ts"}, Change{Kind: ChangeModified, RelPath: "b.ts"})
	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 2)
}

func TestCoalescer_StopDiscardsPending(t *testing.T) {
	var mu sync.Mutex
	flushed := false
	c := NewCoalescer(20*time.Millisecond, func([]Change) {
		mu.Lock()
		flushed = true
		mu.Unlock()
	})
	c.Add(Change{Kind: ChangeModified, RelPath: "a.ts"})
	c.Stop()

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, flushed)
}
