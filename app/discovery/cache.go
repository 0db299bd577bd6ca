package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = time.Hour

// SourceCache short-circuits source fetches for a while after a successful
// fetch.
type SourceCache interface {
	Get(ctx context.Context, key string) ([]RawItem, bool, error)
	Set(ctx context.Context, key string, items []RawItem, ttl time.Duration) error
}

// CacheKey builds the cache key for one source and fetch limit.
func CacheKey(source Source, limit int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", source.Kind, source.Name, limit)))
	return fmt.Sprintf("discovery:%s:%x", source.Name, hash[:8])
}

type memoryEntry struct {
	items     []RawItem
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]RawItem, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.items, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, items []RawItem, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{items: items, expiresAt: c.now().Add(ttl)}
	return nil
}

type cachedFetch struct {
	Items    []RawItem `json:"items"`
	CachedAt int64     `json:"cached_at"`
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]RawItem, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var cached cachedFetch
	if err := json.Unmarshal(data, &cached); err != nil {
		slog.Warn("Dropping unreadable cache entry", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Items, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, items []RawItem, ttl time.Duration) error {
	data, err := json.Marshal(cachedFetch{Items: items, CachedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}
