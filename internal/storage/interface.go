package storage

import (
	"context"
	"time"

	"gatekeeper/internal/models"
)

// CounterStore is the durable, shared fixed-window counter store. Every
// gatekeeper instance writes the same store concurrently; the store's own
// atomic upsert is the only coordination between them.
type CounterStore interface {
	// Increment atomically records one attempt for key and returns the
	// resulting counter. A missing key starts at 1 with its window at now.
	// A key whose window started at or before now-window is reset to 1 and
	// its window moved to now. Otherwise the count is incremented in place.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (models.Counter, error)

	// Get returns the stored counter for key, or ErrNotFound.
	Get(ctx context.Context, key string) (models.Counter, error)

	// Reset removes the counter for key so the next attempt starts a fresh
	// window. Returns ErrNotFound if there was nothing to remove.
	Reset(ctx context.Context, key string) error

	// Prune removes counters whose window started before the given time and
	// returns how many were removed. The limiter itself never calls it.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases connections held by the store.
	Close() error
}

// Config holds configuration for counter store backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres, redis)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`

	// AutoMigrate applies the embedded schema migrations when the store opens,
	// or on first use if the server was unreachable at open.
	AutoMigrate bool `json:"auto_migrate,omitempty" yaml:"auto_migrate,omitempty"`

	// RequireReachable makes network backends fail to open when the server
	// does not answer. Otherwise they open anyway and report ErrUnavailable
	// per operation until the server appears.
	RequireReachable bool `json:"require_reachable,omitempty" yaml:"require_reachable,omitempty"`

	// Redis connection settings
	RedisAddr      string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword  string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB        int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPoolSize  int    `json:"redis_pool_size,omitempty" yaml:"redis_pool_size,omitempty"`
	RedisKeyPrefix string `json:"redis_key_prefix,omitempty" yaml:"redis_key_prefix,omitempty"`
}
