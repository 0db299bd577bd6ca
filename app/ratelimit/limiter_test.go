package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct {
	loadErr error
	saveErr error
	saves   atomic.Int32
}

func (s *failingStore) Load(context.Context, string) (*Window, error) {
	return nil, s.loadErr
}

func (s *failingStore) Save(context.Context, string, Window, time.Duration) error {
	s.saves.Add(1)
	return s.saveErr
}

func (s *failingStore) Delete(context.Context, string) error {
	return errors.New("store down")
}

func TestCheckSecondCallInWindowIsDenied(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	first := limiter.Check(ctx, "facebook:feed", 1, time.Minute)
	if !first.Allowed {
		t.Fatal("First call should be allowed")
	}
	if first.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", first.Remaining)
	}

	clock.Advance(10 * time.Second)

	second := limiter.Check(ctx, "facebook:feed", 1, time.Minute)
	if second.Allowed {
		t.Fatal("Second call within the window should be denied")
	}
	if second.RetryAfter <= 0 || second.RetryAfter > 60 {
		t.Errorf("Expected retryAfter in (0, 60], got %d", second.RetryAfter)
	}
	if second.RetryAfter != 50 {
		t.Errorf("Expected retryAfter 50, got %d", second.RetryAfter)
	}
	if !second.ResetAt.Equal(first.ResetAt) {
		t.Errorf("Denied call must not move the window: %v != %v", second.ResetAt, first.ResetAt)
	}
}

func TestCheckRetryAfterRoundsUp(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	limiter.Check(ctx, "k", 1, time.Minute)
	clock.Advance(59*time.Second + 500*time.Millisecond)

	res := limiter.Check(ctx, "k", 1, time.Minute)
	if res.RetryAfter != 1 {
		t.Errorf("Expected retryAfter 1, got %d", res.RetryAfter)
	}
}

func TestCheckWindowBoundary(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if res := limiter.Check(ctx, "news:api", 3, time.Minute); !res.Allowed {
			t.Fatalf("Call %d should be allowed", i+1)
		}
	}
	if res := limiter.Check(ctx, "news:api", 3, time.Minute); res.Allowed {
		t.Fatal("Fourth call should be denied")
	}

	clock.Advance(time.Minute)

	res := limiter.Check(ctx, "news:api", 3, time.Minute)
	if !res.Allowed {
		t.Fatal("First call of the new window should be allowed")
	}
	if res.Remaining != 2 {
		t.Errorf("Expected remaining 2 after window reset, got %d", res.Remaining)
	}
	if want := clock.Now().Add(time.Minute); !res.ResetAt.Equal(want) {
		t.Errorf("Expected resetAt %v, got %v", want, res.ResetAt)
	}
}

func TestResetThenCheck(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.Check(ctx, "reddit:listing", 5, time.Hour)
	}

	if err := limiter.Reset(ctx, "reddit:listing"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	res := limiter.Check(ctx, "reddit:listing", 5, time.Hour)
	if !res.Allowed {
		t.Fatal("Check after reset should be allowed")
	}
	if res.Remaining != 4 {
		t.Errorf("Expected remaining 4, got %d", res.Remaining)
	}
}

func TestCheckConcurrentNeverExceedsMax(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	const (
		maxRequests = 10
		callers     = 200
	)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check(ctx, "shared", maxRequests, time.Hour).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != maxRequests {
		t.Errorf("Expected exactly %d allowed calls, got %d", maxRequests, got)
	}
}

func TestCheckKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	if !limiter.Check(ctx, "a", 1, time.Hour).Allowed {
		t.Fatal("First call on key a should be allowed")
	}
	if !limiter.Check(ctx, "b", 1, time.Hour).Allowed {
		t.Error("Key b must not be affected by key a")
	}
	if limiter.Check(ctx, "a", 1, time.Hour).Allowed {
		t.Error("Second call on key a should be denied")
	}
}

func TestCheckFailsOpenWhenStoreUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		store *failingStore
	}{
		{"load error", &failingStore{loadErr: errors.New("connection refused")}},
		{"save error", &failingStore{saveErr: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLimiter(tt.store)

			for i := 0; i < 3; i++ {
				res := limiter.Check(context.Background(), "k", 2, time.Minute)
				if !res.Allowed {
					t.Fatalf("Call %d should be allowed when store fails", i+1)
				}
				if res.Remaining != 2 {
					t.Errorf("Expected remaining to equal max (2), got %d", res.Remaining)
				}
			}
		})
	}
}

func TestCheckFailClosed(t *testing.T) {
	limiter := NewLimiter(&failingStore{loadErr: errors.New("down")}, WithFailClosed(true))

	res := limiter.Check(context.Background(), "k", 2, time.Minute)
	if res.Allowed {
		t.Fatal("Fail-closed limiter should deny when the store fails")
	}
	if res.RetryAfter != 60 {
		t.Errorf("Expected retryAfter 60, got %d", res.RetryAfter)
	}
}

func TestResetReturnsStoreError(t *testing.T) {
	limiter := NewLimiter(&failingStore{})
	if err := limiter.Reset(context.Background(), "k"); err == nil {
		t.Error("Expected error from Reset when the store fails")
	}
}

func TestPruneRemovesExpiredState(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	limiter := NewLimiter(store, WithClock(clock.Now))
	ctx := context.Background()

	limiter.Check(ctx, "short", 5, time.Minute)
	limiter.Check(ctx, "long", 5, time.Hour)

	clock.Advance(2 * time.Minute)

	if removed := limiter.Prune(ctx, clock.Now()); removed != 1 {
		t.Errorf("Expected 1 actor pruned, got %d", removed)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 window left in store, got %d", store.Len())
	}

	res := limiter.Check(ctx, "short", 5, time.Minute)
	if res.Remaining != 4 {
		t.Errorf("Pruned key should start a fresh window, remaining = %d", res.Remaining)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := newFakeClock()
	limiter := NewLimiter(NewRedisStore(client), WithClock(clock.Now))
	ctx := context.Background()

	first := limiter.Check(ctx, "facebook:feed", 1, time.Minute)
	if !first.Allowed || first.Remaining != 0 {
		t.Fatalf("Unexpected first result: %+v", first)
	}

	if !mr.Exists("ratelimit:facebook:feed") {
		t.Fatal("Expected window to be persisted in redis")
	}
	if ttl := mr.TTL("ratelimit:facebook:feed"); ttl != time.Minute {
		t.Errorf("Expected TTL of one minute, got %v", ttl)
	}

	second := limiter.Check(ctx, "facebook:feed", 1, time.Minute)
	if second.Allowed {
		t.Error("Second call should be denied")
	}

	if err := limiter.Reset(ctx, "facebook:feed"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if mr.Exists("ratelimit:facebook:feed") {
		t.Error("Expected window to be deleted after reset")
	}
}

func TestRedisStoreUnavailableFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	limiter := NewLimiter(NewRedisStore(client))
	mr.Close()

	res := limiter.Check(context.Background(), "k", 3, time.Minute)
	if !res.Allowed || res.Remaining != 3 {
		t.Errorf("Expected fail-open result, got %+v", res)
	}
}

func TestKeyHelpers(t *testing.T) {
	if got := ProviderKey("facebook", "feed"); got != "facebook:feed" {
		t.Errorf("ProviderKey = %q", got)
	}
	if got := IPKey("10.0.0.1"); got != "ip:10.0.0.1" {
		t.Errorf("IPKey = %q", got)
	}
}
