package storage

import (
	"fmt"

	"gatekeeper/internal/models"
)

// Factory provides a centralized way to create counter stores based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a counter store based on the provided configuration.
// Supported providers:
//   - memory: in-process map (development, single instance)
//   - sqlite: SQLite database file (instances on one host)
//   - postgres: PostgreSQL database (production)
//   - redis: Redis server (production)
func (f *Factory) Create(config models.StorageConfig) (CounterStore, error) {
	storageConfig := Config{
		Type:             config.Type,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  config.Database.ConnMaxIdleTime,
		AutoMigrate:      config.Database.AutoMigrate,
		RequireReachable: config.RequireReachable,
		RedisAddr:        config.Redis.Addr,
		RedisPassword:    config.Redis.Password,
		RedisDB:          config.Redis.DB,
		RedisPoolSize:    config.Redis.PoolSize,
		RedisKeyPrefix:   config.Redis.KeyPrefix,
	}

	var (
		store CounterStore
		err   error
	)
	switch config.Type {
	case models.StorageTypeMemory:
		store, err = NewMemoryStorage(storageConfig)
	case models.StorageTypePostgres:
		var ps *PostgresStorage
		if ps, err = NewPostgresStorage(storageConfig); err == nil {
			store = ps
		}
	case models.StorageTypeSQLite:
		var ss *SQLiteStorage
		if ss, err = NewSQLiteStorage(storageConfig); err == nil {
			store = ss
		}
	case models.StorageTypeRedis:
		var rs *RedisStorage
		if rs, err = NewRedisStorage(storageConfig); err == nil {
			store = rs
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StorageTypeMemory, models.StorageTypePostgres, models.StorageTypeSQLite, models.StorageTypeRedis}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	case models.StorageTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}
