// Package cache defines the TTL cache abstraction injected into components
// that memoize lookups. Each cache instance is owned by the component that
// creates it; there is no shared global cache.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache maps keys to values that expire after a per-entry TTL.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Memory is an in-process Cache. Expired entries are dropped lazily on read
// and by Sweep.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.expires.Equal(e.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()

		var zero V
		return zero, false
	}

	return e.value, true
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry[V]{value: value, expires: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory[V]) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *Memory[V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Memory[V]) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
