package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gatekeeper/internal/models"

	"github.com/redis/go-redis/v9"
)

// incrementScript runs atomically inside Redis. Each counter is a hash with
// count, window_start and updated_at (unix milliseconds).
// KEYS[1] counter key, ARGV[1] now, ARGV[2] window length.
// Returns {count, window_start, updated_at}.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = tonumber(redis.call('HGET', KEYS[1], 'window_start'))
if start == nil or start <= now - window then
	redis.call('HSET', KEYS[1], 'count', 1, 'window_start', ARGV[1], 'updated_at', ARGV[1])
	return {1, now, now}
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return {count, start, now}
`)

// RedisStorage implements CounterStore on Redis.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed store. The client connects lazily;
// an unreachable server is only an error when config.RequireReachable is set.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
		PoolSize: config.RedisPoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if config.RequireReachable {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		slog.Warn("Redis unreachable at startup, counting locally until it answers",
			"addr", config.RedisAddr, "error", err)
	}

	return &RedisStorage{client: client, prefix: config.RedisKeyPrefix}, nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

// Increment records one attempt for key.
func (rs *RedisStorage) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (models.Counter, error) {
	vals, err := incrementScript.Run(ctx, rs.client, []string{rs.prefix + key},
		now.UnixMilli(), window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return models.Counter{}, unavailable("increment", err)
	}
	if len(vals) != 3 || vals[0] < 1 {
		return models.Counter{}, unavailable("increment", fmt.Errorf("unexpected script reply %v", vals))
	}

	return models.Counter{
		Key:         key,
		Count:       int(vals[0]),
		WindowStart: time.UnixMilli(vals[1]).UTC(),
		UpdatedAt:   time.UnixMilli(vals[2]).UTC(),
	}, nil
}

// Get returns the counter for key.
func (rs *RedisStorage) Get(ctx context.Context, key string) (models.Counter, error) {
	fields, err := rs.client.HGetAll(ctx, rs.prefix+key).Result()
	if err != nil {
		return models.Counter{}, unavailable("get", err)
	}
	if len(fields) == 0 {
		return models.Counter{}, ErrNotFound
	}
	c, err := counterFromHash(key, fields)
	if err != nil {
		return models.Counter{}, unavailable("get", err)
	}
	return c, nil
}

// Reset removes the counter for key.
func (rs *RedisStorage) Reset(ctx context.Context, key string) error {
	n, err := rs.client.Del(ctx, rs.prefix+key).Result()
	if err != nil {
		return unavailable("reset", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune scans the key prefix and removes counters whose window started
// before the given time.
func (rs *RedisStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	var removed int64

	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		start, err := rs.client.HGet(ctx, iter.Val(), "window_start").Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, unavailable("prune", err)
		}
		if start >= cutoff {
			continue
		}
		n, err := rs.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, unavailable("prune", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable("prune", err)
	}
	return removed, nil
}

// Ping verifies Redis is reachable.
func (rs *RedisStorage) Ping(ctx context.Context) error {
	return unavailable("ping", rs.client.Ping(ctx).Err())
}

// Close closes the client.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

func counterFromHash(key string, fields map[string]string) (models.Counter, error) {
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return models.Counter{}, fmt.Errorf("invalid count field: %w", err)
	}
	start, err := strconv.ParseInt(fields["window_start"], 10, 64)
	if err != nil {
		return models.Counter{}, fmt.Errorf("invalid window_start field: %w", err)
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return models.Counter{}, fmt.Errorf("invalid updated_at field: %w", err)
	}
	return models.Counter{
		Key:         key,
		Count:       count,
		WindowStart: time.UnixMilli(start).UTC(),
		UpdatedAt:   time.UnixMilli(updated).UTC(),
	}, nil
}
