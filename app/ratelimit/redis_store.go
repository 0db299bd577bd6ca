package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

type redisWindow struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"` // epoch ms
}

// RedisStore keeps windows in Redis and lets Redis expire them at reset time.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, key string) (*Window, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get window: %w", err)
	}

	var rw redisWindow
	if err := json.Unmarshal([]byte(val), &rw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal window: %w", err)
	}

	return &Window{Count: rw.Count, ResetAt: time.UnixMilli(rw.ResetAt)}, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, w Window, ttl time.Duration) error {
	data, err := json.Marshal(redisWindow{Count: w.Count, ResetAt: w.ResetAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}

	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	if err := s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set window: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete window: %w", err)
	}
	return nil
}
