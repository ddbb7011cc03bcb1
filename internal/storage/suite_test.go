package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCounterStoreSuite exercises the CounterStore contract against one backend.
func runCounterStoreSuite(t *testing.T, newStore func(t *testing.T) CounterStore) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("first increment starts a window", func(t *testing.T) {
		s := newStore(t)
		c, err := s.Increment(ctx, "signup:1.2.3.4", base, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Count)
		assert.True(t, c.WindowStart.Equal(base), "window start %v", c.WindowStart)
	})

	t.Run("increments within the window", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 4; i++ {
			c, err := s.Increment(ctx, "user_login:a", base.Add(time.Duration(i)*time.Minute), time.Hour)
			require.NoError(t, err)
			assert.Equal(t, i, c.Count)
			assert.True(t, c.WindowStart.Equal(base.Add(time.Minute)))
		}
	})

	t.Run("resets once the window has elapsed", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			_, err := s.Increment(ctx, "password_reset:user@example.com", base, time.Hour)
			require.NoError(t, err)
		}

		later := base.Add(61 * time.Minute)
		c, err := s.Increment(ctx, "password_reset:user@example.com", later, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Count)
		assert.True(t, c.WindowStart.Equal(later))
	})

	t.Run("window boundary is inclusive", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "draft_update:u1", base, time.Minute)
		require.NoError(t, err)

		c, err := s.Increment(ctx, "draft_update:u1", base.Add(time.Minute-time.Millisecond), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, c.Count)

		c, err = s.Increment(ctx, "draft_update:u1", base.Add(time.Minute), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Count)
	})

	t.Run("keys are independent", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "signup:t", base, time.Hour)
		require.NoError(t, err)
		_, err = s.Increment(ctx, "signup:t", base, time.Hour)
		require.NoError(t, err)

		c, err := s.Increment(ctx, "user_login:t", base, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Count)
	})

	t.Run("get and reset", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "signup:missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Reset(ctx, "signup:missing"), ErrNotFound)

		_, err = s.Increment(ctx, "signup:x", base, time.Hour)
		require.NoError(t, err)
		_, err = s.Increment(ctx, "signup:x", base.Add(time.Second), time.Hour)
		require.NoError(t, err)

		c, err := s.Get(ctx, "signup:x")
		require.NoError(t, err)
		assert.Equal(t, "signup:x", c.Key)
		assert.Equal(t, 2, c.Count)
		assert.True(t, c.WindowStart.Equal(base))
		assert.True(t, c.UpdatedAt.Equal(base.Add(time.Second)))

		require.NoError(t, s.Reset(ctx, "signup:x"))
		_, err = s.Get(ctx, "signup:x")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("prune removes old windows only", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "signup:old", base.Add(-48*time.Hour), time.Hour)
		require.NoError(t, err)
		_, err = s.Increment(ctx, "signup:new", base, time.Hour)
		require.NoError(t, err)

		removed, err := s.Prune(ctx, base.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		_, err = s.Get(ctx, "signup:old")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "signup:new")
		assert.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		s := newStore(t)
		const workers = 20

		var wg sync.WaitGroup
		counts := make(chan int, workers)
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c, err := s.Increment(ctx, "user_login:burst", base, time.Hour)
				if err != nil {
					errs <- err
					return
				}
				counts <- c.Count
			}()
		}
		wg.Wait()
		close(counts)
		close(errs)

		for err := range errs {
			t.Fatalf("increment failed: %v", err)
		}

		seen := make(map[int]bool)
		for c := range counts {
			assert.False(t, seen[c], "count %d returned twice", c)
			seen[c] = true
		}
		for i := 1; i <= workers; i++ {
			assert.True(t, seen[i], fmt.Sprintf("count %d never returned", i))
		}
	})
}
