package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrateDSN opens the database at dsn, applies the embedded migrations and
// closes it again. It backs the operator's migrate command, for deployments
// that run with auto_migrate disabled.
func MigrateDSN(ctx context.Context, storageType, dsn string) (int64, error) {
	if dsn == "" {
		return 0, fmt.Errorf("database DSN is required for %s migrations", storageType)
	}

	var driver string
	switch storageType {
	case "postgres":
		driver = "pgx"
	case "sqlite":
		driver, dsn = "sqlite", withSQLitePragmas(dsn)
	default:
		return 0, fmt.Errorf("migrations are not supported for storage type: %s", storageType)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return 0, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return Migrate(ctx, db, storageType)
}

// Migrate applies the embedded schema migrations for the given storage type
// (postgres or sqlite) and returns the resulting schema version.
func Migrate(ctx context.Context, db *sql.DB, storageType string) (int64, error) {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch storageType {
	case "postgres":
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	case "sqlite":
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	default:
		return 0, fmt.Errorf("migrations are not supported for storage type: %s", storageType)
	}

	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied migration", "storage", storageType, "version", r.Source.Version, "duration", r.Duration)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
