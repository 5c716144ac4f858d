package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RemoteCache is an optional shared L2 byte cache, keyed identically to
// DiskCache (sha1(key) hex), for multi-instance deployments that want to
// share decoded/processed bytes across processes (SPEC_FULL.md §3 — this
// tier is additive, never required by the core dedup/task-graph
// invariants).
type RemoteCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRemoteCache wraps an existing redis client. ttl <= 0 means entries
// never expire from Redis's side (eviction is left to maxmemory-policy).
func NewRemoteCache(client *redis.Client, ttl time.Duration, prefix string) *RemoteCache {
	if prefix == "" {
		prefix = "imagepipe:"
	}
	return &RemoteCache{client: client, ttl: ttl, prefix: prefix}
}

func (r *RemoteCache) redisKey(key string) string {
	return r.prefix + defaultFilename(key)
}

// Get returns the cached bytes for key, if present and reachable. Redis
// errors are treated as a miss: the remote tier is strictly best-effort,
// never a source of truth (the disk cache and origin fetch remain
// authoritative).
func (r *RemoteCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores bytes for key, best-effort.
func (r *RemoteCache) Put(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, r.redisKey(key), data, r.ttl).Err()
}

// Remove evicts key from the remote tier.
func (r *RemoteCache) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}
