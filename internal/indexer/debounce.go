package indexer

import (
	"sync"
	"time"
)

// Coalescer buffers file-change notifications and flushes them as one
// batch after a quiet window, with the latest change per path winning.
// Grounded on the teacher's file_watcher.go debounce (accumulated map +
// reset timer); lifted out of the watcher so that it sits in front of
// ApplyChanges. Only watcher events pass through it: NotifyFileChanges
// hands its change set to ApplyChanges without coalescing.
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]Change
	timer   *time.Timer
	flush   func([]Change)
	stopped bool
}

// NewCoalescer builds a Coalescer that invokes flush with the coalesced
// batch once window elapses with no further Add calls.
func NewCoalescer(window time.Duration, flush func([]Change)) *Coalescer {
	return &Coalescer{
		window:  window,
		pending: map[string]Change{},
		flush:   flush,
	}
}

// Add records changes, resetting the quiet-window timer. A created
// followed by a deleted for the same path collapses to deleted; any
// sequence ending in modified collapses to modified — the latest change
// wins unconditionally.
func (c *Coalescer) Add(changes ...Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	for _, ch := range changes {
		c.pending[ch.RelPath] = ch
	}
	if len(c.pending) == 0 {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.fire)
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.stopped || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.drainLocked()
	c.mu.Unlock()
	c.flush(batch)
}

// Flush delivers any pending changes immediately, bypassing the window.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	batch := c.drainLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.flush(batch)
	}
}

// Stop discards pending changes and prevents further flushes.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = map[string]Change{}
}

func (c *Coalescer) drainLocked() []Change {
	batch := make([]Change, 0, len(c.pending))
	for _, ch := range c.pending {
		batch = append(batch, ch)
	}
	c.pending = map[string]Change{}
	return batch
}
