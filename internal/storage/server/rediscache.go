package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig names the connection parameters from §6 (cacheHost,
// cachePort).
type RedisConfig struct {
	Host string
	Port int
}

// RedisCache is the server-mode CacheStore, a thin wrapper over go-redis.
// Grounded on the sibling pack repo's rate-limiter use of go-redis for a
// shared, networked key-value layer; adapted here from rate-limit counters
// to opaque byte payloads under the CacheStore contract.
type RedisCache struct {
	client *redis.Client
}

func OpenRedisCache(cfg RedisConfig) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	})}
}

func (r *RedisCache) Close() error { return r.client.Close() }

func (r *RedisCache) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate scans for keys sharing prefix using SCAN (never KEYS, which
// blocks the server) and deletes them in batches.
func (r *RedisCache) Invalidate(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := strings.TrimSuffix(prefix, "*") + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
