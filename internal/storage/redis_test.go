package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	s, err := NewRedisStorage(Config{
		Type:           "redis",
		RedisAddr:      server.Addr(),
		RedisKeyPrefix: "test:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, server
}

func TestRedisStorage(t *testing.T) {
	runCounterStoreSuite(t, func(t *testing.T) CounterStore {
		s, _ := newRedisTestStorage(t)
		return s
	})
}

func TestRedisStorage_KeyPrefix(t *testing.T) {
	s, server := newRedisTestStorage(t)

	_, err := s.Increment(context.Background(), "signup:1.2.3.4", time.Now(), time.Hour)
	require.NoError(t, err)

	assert.True(t, server.Exists("test:signup:1.2.3.4"))
	assert.Equal(t, "1", server.HGet("test:signup:1.2.3.4", "count"))
}

func TestRedisStorage_ServerDown(t *testing.T) {
	s, server := newRedisTestStorage(t)
	server.Close()

	_, err := s.Increment(context.Background(), "signup:a", time.Now(), time.Hour)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrUnavailable)
}

func TestRedisStorage_CorruptHash(t *testing.T) {
	s, server := newRedisTestStorage(t)
	server.HSet("test:signup:bad", "count", "many")

	_, err := s.Get(context.Background(), "signup:bad")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRedisStorage_Errors(t *testing.T) {
	_, err := NewRedisStorage(Config{})
	assert.Error(t, err)

	_, err = NewRedisStorage(Config{RedisAddr: "127.0.0.1:1", RequireReachable: true})
	assert.Error(t, err)
}

func TestNewRedisStorage_OpensWhileServerDown(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	s, err := NewRedisStorage(Config{RedisAddr: addr, RedisKeyPrefix: "test:"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
	_, err = s.Increment(ctx, "signup:a", time.Now(), time.Hour)
	assert.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, server.Restart())
	require.Eventually(t, func() bool { return s.Ping(ctx) == nil }, 5*time.Second, 50*time.Millisecond)

	c, err := s.Increment(ctx, "signup:a", time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
	assert.True(t, server.Exists("test:signup:a"))
}

func TestNewRedisStorageFromClient(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	s := NewRedisStorageFromClient(client, "")
	defer s.Close()

	c, err := s.Increment(context.Background(), "draft_update:u1", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
	assert.True(t, server.Exists("draft_update:u1"))
}
