// Package watcher observes a project tree and reports file changes to the
// indexer. Grounded on the teacher's internal/watcher/file_watcher.go
// (recursive fsnotify watches with directory limits); extended with the
// polling fallback for filesystems where inotify-style notification is
// unavailable, and stripped of the teacher's in-watcher debounce because
// coalescing happens at the ApplyChanges call boundary instead.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/codeindex/core/internal/indexer"
)

const (
	maxWatchedDirs = 1000
	maxWatchDepth  = 10
)

// Watcher emits raw (undebounced) change batches for one project tree.
type Watcher struct {
	rootDir      string
	excludes     []glob.Glob
	pollInterval time.Duration
	emit         func([]indexer.Change)

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	watchedDirs int
}

// New builds a Watcher. emit is invoked from the watch goroutine with one
// or more changes; callers hand the batch to a Coalescer.
func New(rootDir string, excludePatterns []string, pollInterval time.Duration, emit func([]indexer.Change)) (*Watcher, error) {
	patterns := append(append([]string{}, indexer.DefaultExcludes...), excludePatterns...)
	w := &Watcher{
		rootDir:      rootDir,
		pollInterval: pollInterval,
		emit:         emit,
		done:         make(chan struct{}),
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		w.excludes = append(w.excludes, g)
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	return w, nil
}

// Start begins watching. Native filesystem notifications are preferred;
// if the notify watcher cannot be created (platform limits, exhausted
// inotify instances) the watcher degrades to periodic polling.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("filesystem notifications unavailable (%v); falling back to polling every %s", err, w.pollInterval)
		go w.pollLoop(ctx)
		return nil
	}
	w.fsw = fsw
	if err := w.addDirRecursive(w.rootDir, 0); err != nil {
		fsw.Close()
		w.fsw = nil
		log.Printf("recursive watch failed (%v); falling back to polling every %s", err, w.pollInterval)
		go w.pollLoop(ctx)
		return nil
	}
	go w.notifyLoop(ctx)
	return nil
}

// Stop ends watching and waits for the watch goroutine to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
	if w.fsw != nil {
		w.fsw.Close()
	}
}

func (w *Watcher) addDirRecursive(dir string, depth int) error {
	if depth > maxWatchDepth {
		return nil
	}
	rel, err := filepath.Rel(w.rootDir, dir)
	if err == nil && rel != "." && w.excluded(filepath.ToSlash(rel)) {
		return nil
	}

	w.mu.Lock()
	if w.watchedDirs >= maxWatchedDirs {
		w.mu.Unlock()
		return nil
	}
	w.watchedDirs++
	w.mu.Unlock()

	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.addDirRecursive(filepath.Join(dir, e.Name()), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Watcher) notifyLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.rootDir, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.excluded(rel) {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case ev.Op.Has(fsnotify.Create):
		if isDir {
			// New subtree: watch it and report its files as created.
			if err := w.addDirRecursive(ev.Name, 0); err != nil {
				log.Printf("watch new dir %s: %v", rel, err)
			}
			w.emitTree(ev.Name)
			return
		}
		w.emit([]indexer.Change{{Kind: indexer.ChangeCreated, RelPath: rel}})
	case ev.Op.Has(fsnotify.Write):
		if !isDir {
			w.emit([]indexer.Change{{Kind: indexer.ChangeModified, RelPath: rel}})
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.emit([]indexer.Change{{Kind: indexer.ChangeDeleted, RelPath: rel}})
	}
}

func (w *Watcher) emitTree(dir string) {
	var changes []indexer.Change
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.rootDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !w.excluded(rel) {
			changes = append(changes, indexer.Change{Kind: indexer.ChangeCreated, RelPath: rel})
		}
		return nil
	})
	if len(changes) > 0 {
		w.emit(changes)
	}
}

// pollLoop is the degraded mode: a periodic mtime/size snapshot diff of
// the whole tree.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	prev := w.snapshot()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := w.snapshot()
			if changes := diffSnapshots(prev, cur); len(changes) > 0 {
				w.emit(changes)
			}
			prev = cur
		}
	}
}

type fileStamp struct {
	size  int64
	mtime time.Time
}

func (w *Watcher) snapshot() map[string]fileStamp {
	snap := map[string]fileStamp{}
	filepath.Walk(w.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(w.rootDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			if rel != "." && w.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.excluded(rel) {
			return nil
		}
		snap[rel] = fileStamp{size: info.Size(), mtime: info.ModTime()}
		return nil
	})
	return snap
}

func diffSnapshots(prev, cur map[string]fileStamp) []indexer.Change {
	var changes []indexer.Change
	for rel, stamp := range cur {
		old, ok := prev[rel]
		if !ok {
			changes = append(changes, indexer.Change{Kind: indexer.ChangeCreated, RelPath: rel})
			continue
		}
		if old.size != stamp.size || !old.mtime.Equal(stamp.mtime) {
			changes = append(changes, indexer.Change{Kind: indexer.ChangeModified, RelPath: rel})
		}
	}
	for rel := range prev {
		if _, ok := cur[rel]; !ok {
			changes = append(changes, indexer.Change{Kind: indexer.ChangeDeleted, RelPath: rel})
		}
	}
	return changes
}

func (w *Watcher) excluded(relPath string) bool {
	for _, g := range w.excludes {
		if g.Match(relPath) || g.Match(relPath+"/**") {
			return true
		}
	}
	return false
}
