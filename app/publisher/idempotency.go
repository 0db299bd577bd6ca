package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultIdempotencyTTL = 7 * 24 * time.Hour

// IdempotencyStore remembers which idempotency keys were already published.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, externalPostID string, ttl time.Duration) error
}

type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	postID    string
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.postID, true, nil
}

func (s *MemoryIdempotencyStore) Remember(_ context.Context, key, externalPostID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && s.now().Before(e.expiresAt) {
		return nil
	}
	s.entries[key] = memoryEntry{postID: externalPostID, expiresAt: s.now().Add(ttl)}
	return nil
}

// RedisIdempotencyStore keeps keys in Redis so they survive restarts.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "publish:"}
}

func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return val, true, nil
}

// Remember keeps the first post id recorded for a key.
func (s *RedisIdempotencyStore) Remember(ctx context.Context, key, externalPostID string, ttl time.Duration) error {
	if err := s.client.SetNX(ctx, s.prefix+key, externalPostID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}
