package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlidingWindowLimiter(t *testing.T) {
	limiter := NewSlidingWindowLimiter(zap.NewNop())
	ctx := context.Background()
	key := "user:u1"
	limit := 5
	window := time.Minute

	t.Run("allow requests within limit", func(t *testing.T) {
		_ = limiter.Reset(ctx, key)

		for i := 0; i < limit; i++ {
			allowed, err := limiter.Allow(ctx, key, limit, window)
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should be allowed", i+1)
		}
	})

	t.Run("reject requests exceeding limit", func(t *testing.T) {
		_ = limiter.Reset(ctx, key)

		for i := 0; i < limit; i++ {
			allowed, err := limiter.Allow(ctx, key, limit, window)
			require.NoError(t, err)
			require.True(t, allowed)
		}

		allowed, err := limiter.Allow(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("window slides as arrivals age out", func(t *testing.T) {
		_ = limiter.Reset(ctx, key)
		shortWindow := 50 * time.Millisecond

		for i := 0; i < limit; i++ {
			allowed, err := limiter.Allow(ctx, key, limit, shortWindow)
			require.NoError(t, err)
			require.True(t, allowed)
		}

		allowed, err := limiter.Allow(ctx, key, limit, shortWindow)
		require.NoError(t, err)
		assert.False(t, allowed)

		time.Sleep(60 * time.Millisecond)

		allowed, err = limiter.Allow(ctx, key, limit, shortWindow)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("GetRemaining", func(t *testing.T) {
		_ = limiter.Reset(ctx, key)

		remaining, err := limiter.GetRemaining(ctx, key, limit, window)
		require.NoError(t, err)
		assert.Equal(t, limit, remaining)

		_, _ = limiter.Allow(ctx, key, limit, window)
		_, _ = limiter.Allow(ctx, key, limit, window)

		remaining, err = limiter.GetRemaining(ctx, key, limit, window)
		require.NoError(t, err)
		assert.Equal(t, limit-2, remaining)
	})

	t.Run("different keys do not contend", func(t *testing.T) {
		_ = limiter.Reset(ctx, "a")
		_ = limiter.Reset(ctx, "b")

		for i := 0; i < limit; i++ {
			allowed, err := limiter.Allow(ctx, "a", limit, window)
			require.NoError(t, err)
			require.True(t, allowed)
		}

		allowed, err := limiter.Allow(ctx, "a", limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		allowed, err = limiter.Allow(ctx, "b", limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("concurrent access admits exactly the limit", func(t *testing.T) {
		_ = limiter.Reset(ctx, key)

		const workers = 20
		results := make(chan bool, workers)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				allowed, err := limiter.Allow(ctx, key, limit, window)
				assert.NoError(t, err)
				results <- allowed
			}()
		}
		wg.Wait()
		close(results)

		allowedCount := 0
		for allowed := range results {
			if allowed {
				allowedCount++
			}
		}
		assert.Equal(t, limit, allowedCount)
	})

	t.Run("zero limit refuses everything", func(t *testing.T) {
		allowed, err := limiter.Allow(ctx, "zero", 0, window)
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestRedisSlidingLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	limiter := NewRedisSlidingLimiter(client, zap.NewNop())
	ctx := context.Background()
	limit := 3
	window := time.Minute

	t.Run("enforces limit", func(t *testing.T) {
		key := "redis:u1"
		for i := 0; i < limit; i++ {
			allowed, err := limiter.Allow(ctx, key, limit, window)
			require.NoError(t, err)
			assert.True(t, allowed)
		}

		allowed, err := limiter.Allow(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("reset restores capacity", func(t *testing.T) {
		key := "redis:u2"
		for i := 0; i < limit; i++ {
			_, _ = limiter.Allow(ctx, key, limit, window)
		}

		require.NoError(t, limiter.Reset(ctx, key))

		allowed, err := limiter.Allow(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("GetRemaining", func(t *testing.T) {
		key := "redis:u3"
		_, _ = limiter.Allow(ctx, key, limit, window)

		remaining, err := limiter.GetRemaining(ctx, key, limit, window)
		require.NoError(t, err)
		assert.Equal(t, limit-1, remaining)
	})
}

func BenchmarkSlidingWindowLimiter_Allow(b *testing.B) {
	limiter := NewSlidingWindowLimiter(zap.NewNop())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = limiter.Allow(ctx, "bench", 1000000, time.Minute)
	}
}

func BenchmarkSlidingWindowLimiter_ConcurrentKeys(b *testing.B) {
	limiter := NewSlidingWindowLimiter(zap.NewNop())
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-%d", i%10)
			_, _ = limiter.Allow(ctx, key, 1000000, time.Minute)
			i++
		}
	})
}
