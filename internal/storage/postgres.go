package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gatekeeper/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// pgIncrement is the fixed-window upsert. ON CONFLICT DO UPDATE takes the row
// lock, so concurrent increments of one key are applied one after another and
// each sees the previous writer's count and window.
const pgIncrement = `
INSERT INTO rate_limits (key, count, window_start, updated_at)
VALUES ($1, 1, $2, $2)
ON CONFLICT (key) DO UPDATE SET
	count        = CASE WHEN rate_limits.window_start <= $3 THEN 1 ELSE rate_limits.count + 1 END,
	window_start = CASE WHEN rate_limits.window_start <= $3 THEN EXCLUDED.window_start ELSE rate_limits.window_start END,
	updated_at   = EXCLUDED.updated_at
RETURNING count, window_start, updated_at`

// PostgresStorage implements CounterStore using PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool

	// Set when AutoMigrate could not run at open; cleared by the first
	// operation that manages to apply the migrations.
	migratePending atomic.Bool
	migrateMu      sync.Mutex
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ps := &PostgresStorage{pool: pool}

	if err := pool.Ping(ctx); err != nil {
		if config.RequireReachable {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		slog.Warn("PostgreSQL unreachable at startup, counting locally until it answers", "error", err)
		ps.migratePending.Store(config.AutoMigrate)
		return ps, nil
	}

	if config.AutoMigrate {
		if err := ps.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return ps, nil
}

func (ps *PostgresStorage) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(ps.pool)
	defer db.Close()
	_, err := Migrate(ctx, db, "postgres")
	return err
}

// ensureSchema applies migrations that were deferred at open.
func (ps *PostgresStorage) ensureSchema(ctx context.Context) error {
	if !ps.migratePending.Load() {
		return nil
	}
	ps.migrateMu.Lock()
	defer ps.migrateMu.Unlock()
	if !ps.migratePending.Load() {
		return nil
	}
	if err := ps.migrate(ctx); err != nil {
		return err
	}
	ps.migratePending.Store(false)
	return nil
}

// Increment records one attempt for key in a single atomic upsert.
func (ps *PostgresStorage) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (models.Counter, error) {
	if err := ps.ensureSchema(ctx); err != nil {
		return models.Counter{}, unavailable("increment", err)
	}
	c := models.Counter{Key: key}
	err := ps.pool.QueryRow(ctx, pgIncrement, key, now, now.Add(-window)).
		Scan(&c.Count, &c.WindowStart, &c.UpdatedAt)
	if err != nil {
		return models.Counter{}, unavailable("increment", err)
	}
	return c, nil
}

// Get returns the counter for key.
func (ps *PostgresStorage) Get(ctx context.Context, key string) (models.Counter, error) {
	if err := ps.ensureSchema(ctx); err != nil {
		return models.Counter{}, unavailable("get", err)
	}
	c := models.Counter{Key: key}
	err := ps.pool.QueryRow(ctx,
		`SELECT count, window_start, updated_at FROM rate_limits WHERE key = $1`, key,
	).Scan(&c.Count, &c.WindowStart, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, ErrNotFound
		}
		return models.Counter{}, unavailable("get", err)
	}
	return c, nil
}

// Reset removes the counter for key.
func (ps *PostgresStorage) Reset(ctx context.Context, key string) error {
	if err := ps.ensureSchema(ctx); err != nil {
		return unavailable("reset", err)
	}
	tag, err := ps.pool.Exec(ctx, `DELETE FROM rate_limits WHERE key = $1`, key)
	if err != nil {
		return unavailable("reset", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes counters whose window started before the given time.
func (ps *PostgresStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	if err := ps.ensureSchema(ctx); err != nil {
		return 0, unavailable("prune", err)
	}
	tag, err := ps.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, before)
	if err != nil {
		return 0, unavailable("prune", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies the storage backend is reachable and operational.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return unavailable("ping", ps.pool.Ping(ctx))
}

// Close closes the storage connection.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
