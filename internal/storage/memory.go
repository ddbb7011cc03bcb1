package storage

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// MemoryStorage implements CounterStore with an in-process map. It is not
// shared between instances, so it is only suitable for development, tests
// and single-instance deployments.
type MemoryStorage struct {
	mu       sync.Mutex
	counters map[string]*models.Counter
	closed   bool
}

// NewMemoryStorage creates a new memory-based counter store
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		counters: make(map[string]*models.Counter),
	}, nil
}

// Increment records one attempt for key.
func (m *MemoryStorage) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (models.Counter, error) {
	if err := ctx.Err(); err != nil {
		return models.Counter{}, unavailable("increment", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.Counter{}, unavailable("increment", errClosed)
	}

	c, exists := m.counters[key]
	if !exists || c.Expired(now, window) {
		c = &models.Counter{Key: key, Count: 1, WindowStart: now, UpdatedAt: now}
		m.counters[key] = c
		return *c, nil
	}

	c.Count++
	c.UpdatedAt = now
	return *c, nil
}

// Get returns a copy of the counter for key.
func (m *MemoryStorage) Get(ctx context.Context, key string) (models.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.Counter{}, unavailable("get", errClosed)
	}

	c, exists := m.counters[key]
	if !exists {
		return models.Counter{}, ErrNotFound
	}
	return *c, nil
}

// Reset removes the counter for key.
func (m *MemoryStorage) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("reset", errClosed)
	}

	if _, exists := m.counters[key]; !exists {
		return ErrNotFound
	}
	delete(m.counters, key)
	return nil
}

// Prune removes counters whose window started before the given time.
func (m *MemoryStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, unavailable("prune", errClosed)
	}

	var removed int64
	for key, c := range m.counters {
		if c.WindowStart.Before(before) {
			delete(m.counters, key)
			removed++
		}
	}
	return removed, nil
}

// Ping reports whether the store is still open.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return unavailable("ping", errClosed)
	}
	return nil
}

// Close marks the store closed. Subsequent calls fail with ErrUnavailable.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
