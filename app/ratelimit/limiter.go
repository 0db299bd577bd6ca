package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/lysyi3m/content-comb/app/metrics"
)

const shardCount = 32

type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set only when denied
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithFailClosed makes the limiter deny requests when the window store is
// unavailable instead of allowing them.
func WithFailClosed(failClosed bool) Option {
	return func(l *Limiter) {
		l.failClosed = failClosed
	}
}

// Limiter is a fixed-window counter keyed by string. Each key is owned by one
// actor whose mutex serializes the load-mutate-persist cycle for that key;
// shard locks only guard the key to actor lookup.
type Limiter struct {
	store      WindowStore
	now        func() time.Time
	failClosed bool
	shards     [shardCount]shard
}

type shard struct {
	mu     sync.Mutex
	actors map[string]*actor
}

type actor struct {
	mu      sync.Mutex
	resetAt time.Time
	retired bool
}

func NewLimiter(store WindowStore, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
	}
	for i := range l.shards {
		l.shards[i].actors = make(map[string]*actor)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}

func (l *Limiter) lookup(key string) *actor {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actors[key]
	if !ok {
		a = &actor{}
		s.actors[key] = a
	}
	return a
}

// acquire returns the locked live actor for key. An actor retired by Prune
// between lookup and lock is skipped so a key never has two live actors.
func (l *Limiter) acquire(key string) *actor {
	for {
		a := l.lookup(key)
		a.mu.Lock()
		if !a.retired {
			return a
		}
		a.mu.Unlock()
	}
}

// Check counts one request against key. Allowed requests are persisted before
// Check returns.
func (l *Limiter) Check(ctx context.Context, key string, maxRequests int, window time.Duration) Result {
	a := l.acquire(key)
	defer a.mu.Unlock()

	now := l.now()

	current, err := l.store.Load(ctx, key)
	if err != nil {
		return l.storeFailure(key, maxRequests, window, now, fmt.Errorf("failed to load window: %w", err))
	}

	next := Window{ResetAt: now.Add(window)}
	if current != nil && now.Before(current.ResetAt) {
		next = *current
	}

	if next.Count >= maxRequests {
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
		a.resetAt = next.ResetAt
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    next.ResetAt,
			RetryAfter: retryAfterSeconds(next.ResetAt.Sub(now)),
		}
	}

	next.Count++
	if err := l.store.Save(ctx, key, next, next.ResetAt.Sub(now)); err != nil {
		return l.storeFailure(key, maxRequests, window, now, fmt.Errorf("failed to save window: %w", err))
	}
	a.resetAt = next.ResetAt

	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return Result{
		Allowed:   true,
		Remaining: maxRequests - next.Count,
		ResetAt:   next.ResetAt,
	}
}

func (l *Limiter) storeFailure(key string, maxRequests int, window time.Duration, now time.Time, err error) Result {
	resetAt := now.Add(window)

	if l.failClosed {
		slog.Warn("Rate limiter store unavailable, denying", "key", key, "error", err)
		metrics.RateLimitDecisions.WithLabelValues("fail_closed").Inc()
		return Result{
			Allowed:    false,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(window),
		}
	}

	slog.Warn("Rate limiter store unavailable, allowing", "key", key, "error", err)
	metrics.RateLimitDecisions.WithLabelValues("fail_open").Inc()
	return Result{
		Allowed:   true,
		Remaining: maxRequests,
		ResetAt:   resetAt,
	}
}

// Reset clears all state for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	a := l.acquire(key)
	defer a.mu.Unlock()

	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to reset rate limit for %s: %w", key, err)
	}
	a.resetAt = time.Time{}
	return nil
}

// Prune drops actors whose window has expired and that are not in use, and
// expired windows from stores that keep them in memory. It returns the number
// of actors removed.
func (l *Limiter) Prune(ctx context.Context, now time.Time) int {
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, a := range s.actors {
			if !a.mu.TryLock() {
				continue
			}
			if !now.Before(a.resetAt) {
				a.retired = true
				delete(s.actors, key)
				removed++
			}
			a.mu.Unlock()
		}
		s.mu.Unlock()
	}

	if p, ok := l.store.(Pruner); ok {
		if n, err := p.Prune(ctx, now); err != nil {
			slog.Warn("Failed to prune rate limit windows", "error", err)
		} else if n > 0 {
			slog.Debug("Pruned rate limit windows", "count", n)
		}
	}

	return removed
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// ProviderKey namespaces a quota for an outbound provider, e.g. facebook:feed.
func ProviderKey(provider, resource string) string {
	return provider + ":" + resource
}

// IPKey namespaces a quota for a client address.
func IPKey(addr string) string {
	return "ip:" + addr
}
