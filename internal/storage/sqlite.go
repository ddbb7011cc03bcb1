package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/models"

	_ "modernc.org/sqlite"
)

// sqliteIncrement is the single-statement fixed-window upsert. Every right
// hand side in DO UPDATE sees the row as it was before the statement, so the
// reset test and the increment are evaluated against the same state.
// Parameters: key, now, now, cutoff, cutoff (unix milliseconds).
const sqliteIncrement = `
INSERT INTO rate_limits (key, count, window_start, updated_at)
VALUES (?, 1, ?, ?)
ON CONFLICT (key) DO UPDATE SET
	count        = CASE WHEN rate_limits.window_start <= ? THEN 1 ELSE rate_limits.count + 1 END,
	window_start = CASE WHEN rate_limits.window_start <= ? THEN excluded.window_start ELSE rate_limits.window_start END,
	updated_at   = excluded.updated_at
RETURNING count, window_start, updated_at`

// SQLiteStorage implements CounterStore on a SQLite database file. Concurrent
// writers from any number of processes sharing the file are serialized by
// SQLite's write lock; busy_timeout makes them queue instead of failing.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", withSQLitePragmas(config.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		if _, err := Migrate(ctx, db, "sqlite"); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteStorage{db: db}, nil
}

// withSQLitePragmas adds the pragmas the counter store relies on unless the
// DSN already sets its own.
func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// DB exposes the underlying handle for migrations and tooling.
func (ss *SQLiteStorage) DB() *sql.DB {
	return ss.db
}

// Increment records one attempt for key in a single atomic upsert.
func (ss *SQLiteStorage) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (models.Counter, error) {
	nowMs := now.UnixMilli()
	cutoff := now.Add(-window).UnixMilli()

	var (
		count       int
		windowStart int64
		updatedAt   int64
	)
	err := ss.db.QueryRowContext(ctx, sqliteIncrement,
		key, nowMs, nowMs, cutoff, cutoff,
	).Scan(&count, &windowStart, &updatedAt)
	if err != nil {
		return models.Counter{}, unavailable("increment", err)
	}

	return models.Counter{
		Key:         key,
		Count:       count,
		WindowStart: time.UnixMilli(windowStart).UTC(),
		UpdatedAt:   time.UnixMilli(updatedAt).UTC(),
	}, nil
}

// Get returns the counter for key.
func (ss *SQLiteStorage) Get(ctx context.Context, key string) (models.Counter, error) {
	var (
		count       int
		windowStart int64
		updatedAt   int64
	)
	err := ss.db.QueryRowContext(ctx,
		`SELECT count, window_start, updated_at FROM rate_limits WHERE key = ?`, key,
	).Scan(&count, &windowStart, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Counter{}, ErrNotFound
		}
		return models.Counter{}, unavailable("get", err)
	}

	return models.Counter{
		Key:         key,
		Count:       count,
		WindowStart: time.UnixMilli(windowStart).UTC(),
		UpdatedAt:   time.UnixMilli(updatedAt).UTC(),
	}, nil
}

// Reset removes the counter for key.
func (ss *SQLiteStorage) Reset(ctx context.Context, key string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE key = ?`, key)
	if err != nil {
		return unavailable("reset", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return unavailable("reset", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes counters whose window started before the given time.
func (ss *SQLiteStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < ?`, before.UnixMilli())
	if err != nil {
		return 0, unavailable("prune", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("prune", err)
	}
	return rows, nil
}

// Ping verifies the database is reachable.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return unavailable("ping", ss.db.PingContext(ctx))
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
