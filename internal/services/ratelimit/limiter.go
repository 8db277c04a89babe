package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
	GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// SlidingWindowLimiter keeps the raw arrival timestamps per key. Each Allow
// discards timestamps older than the window before the length check, so the
// bound holds over any trailing window, not just fixed buckets.
//
// Access is serialized per key; the outer map lock is only held long enough to
// find or create the window and is never held across the per-key work.
type SlidingWindowLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	log     *zap.Logger
}

type window struct {
	mu       sync.Mutex
	arrivals []time.Time
}

func NewSlidingWindowLimiter(log *zap.Logger) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		windows: make(map[string]*window),
		log:     log,
	}
	go l.cleanup()
	return l
}

func (l *SlidingWindowLimiter) getWindow(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string, limit int, windowDur time.Duration) (bool, error) {
	w := l.getWindow(key)
	now := time.Now()
	cutoff := now.Add(-windowDur)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.arrivals = trimBefore(w.arrivals, cutoff)

	if len(w.arrivals) >= limit {
		return false, nil
	}

	w.arrivals = append(w.arrivals, now)
	return true, nil
}

func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
	return nil
}

func (l *SlidingWindowLimiter) GetRemaining(ctx context.Context, key string, limit int, windowDur time.Duration) (int, error) {
	w := l.getWindow(key)
	cutoff := time.Now().Add(-windowDur)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.arrivals = trimBefore(w.arrivals, cutoff)

	remaining := limit - len(w.arrivals)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// trimBefore drops leading timestamps older than the cutoff. Arrivals are
// appended in order, so a single scan from the front suffices.
func trimBefore(arrivals []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(arrivals) && !arrivals[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return arrivals
	}
	return append(arrivals[:0], arrivals[i:]...)
}

func (l *SlidingWindowLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		l.mu.Lock()
		for key, w := range l.windows {
			w.mu.Lock()
			idle := len(w.arrivals) == 0 || w.arrivals[len(w.arrivals)-1].Before(cutoff)
			w.mu.Unlock()
			if idle {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

// RedisSlidingLimiter implements the same window over a shared store, for
// multi-process deployments. Entries are a ZSET scored by arrival nanos.
type RedisSlidingLimiter struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisSlidingLimiter(client *redis.Client, log *zap.Logger) *RedisSlidingLimiter {
	return &RedisSlidingLimiter{client: client, log: log}
}

func (r *RedisSlidingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCount(ctx, key, fmt.Sprintf("%d", windowStart), "+inf")

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	currentCount, err := count.Result()
	if err != nil {
		return false, fmt.Errorf("failed to get count: %w", err)
	}

	if currentCount+1 > int64(limit) {
		return false, nil
	}

	member := redis.Z{Score: float64(now), Member: fmt.Sprintf("%d", now)}
	if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
		return false, fmt.Errorf("failed to add rate limit entry: %w", err)
	}
	r.client.Expire(ctx, key, window)

	return true, nil
}

func (r *RedisSlidingLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisSlidingLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCount(ctx, key, fmt.Sprintf("%d", windowStart), "+inf")

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get remaining: %w", err)
	}

	currentCount, err := count.Result()
	if err != nil {
		return 0, err
	}

	remaining := limit - int(currentCount)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
