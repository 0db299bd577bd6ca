package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is the persisted state of one key.
type Window struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// WindowStore persists windows. Load returns nil, nil for unknown keys.
type WindowStore interface {
	Load(ctx context.Context, key string) (*Window, error)
	Save(ctx context.Context, key string, w Window, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Pruner is implemented by stores that do not expire entries on their own.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]Window),
	}
}

func (m *MemoryStore) Load(_ context.Context, key string) (*Window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.windows[key]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, w Window, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[key] = w
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.ResetAt) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.windows)
}
