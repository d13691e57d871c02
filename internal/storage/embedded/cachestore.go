package embedded

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter"
)

// cacheEntry pairs a cached value with the absolute time it expires, since
// otter itself does not track a per-entry TTL deadline for us to query on
// Invalidate-by-prefix (otter only evicts, it doesn't enumerate).
type cacheEntry struct {
	value    []byte
	expireAt time.Time
}

// CacheStore is the embedded-mode CacheStore: an in-process, size-bounded
// LRU cache. Grounded on the teacher's graph/searcher.go file-content
// cache, which builds an otter.Cache with a byte-weighted Cost function;
// generalized here from "cached file lines" to arbitrary byte payloads
// keyed by string, per the spec's CacheStore contract.
type CacheStore struct {
	mu    sync.Mutex
	cache otter.Cache[string, cacheEntry]
	// keys tracks live keys so Invalidate(prefix) can find matches; otter
	// does not expose key enumeration.
	keys map[string]struct{}
}

const defaultCacheCapacity = 64 * 1024 * 1024 // 64MB: the teacher's 50MB file cache plus headroom for metadata

// NewCacheStore builds an embedded CacheStore with a byte-weighted
// capacity limit, mirroring the teacher's otter.MustBuilder(...).Cost(...)
// construction.
func NewCacheStore() (*CacheStore, error) {
	c, err := otter.MustBuilder[string, cacheEntry](defaultCacheCapacity).
		Cost(func(key string, value cacheEntry) uint32 {
			return uint32(len(key) + len(value.value))
		}).
		CollectStats().
		Build()
	if err != nil {
		return nil, err
	}
	return &CacheStore{cache: c, keys: map[string]struct{}{}}, nil
}

// Get returns the cached value for key. A value past its TTL is treated
// as a miss and evicted, honoring the CacheStore's "pure performance
// layer" contract — correctness never depends on stale data surviving.
func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expireAt.IsZero() && time.Now().After(entry.expireAt) {
		s.cache.Delete(key)
		delete(s.keys, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	s.cache.Set(key, cacheEntry{value: value, expireAt: expireAt})
	s.keys[key] = struct{}{}
	return nil
}

// Invalidate removes every key sharing prefix, used by the indexer's
// finalize stage (CacheStore.Invalidate(projectId:*)) and by the
// standards detector's cache-key invalidation on any file-level write.
func (s *CacheStore) Invalidate(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.keys {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
			delete(s.keys, key)
		}
	}
	return nil
}

func (s *CacheStore) Close() error {
	s.cache.Close()
	return nil
}
