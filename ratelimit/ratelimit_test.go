package ratelimit_test

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

	"github.com/panyam/authkit/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func limiters(t *testing.T, cfg ratelimit.Config, clock *fakeClock) map[string]ratelimit.Limiter {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]ratelimit.Limiter{
		"memory": ratelimit.NewMemoryLimiter(cfg, ratelimit.WithClock(clock.Now)),
		"redis":  ratelimit.NewRedisLimiter(client, cfg, ratelimit.WithClock(clock.Now)),
	}
}

func TestSlidingWindow(t *testing.T) {
	ctx := context.Background()
	cfg := ratelimit.Config{RequestsPerWindow: 2, WindowSize: time.Minute}

	for _, name := range []string{"memory", "redis"} {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			l := limiters(t, cfg, clock)[name]

			res, err := l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 1, res.Remaining)

			clock.Advance(20 * time.Second)
			res, err = l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)

			res, err = l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 40*time.Second, res.RetryAfter)

			// other keys are independent
			res, err = l.Allow(ctx, "other")
			require.NoError(t, err)
			assert.True(t, res.Allowed)

			// the first hit slides out of the window
			clock.Advance(41 * time.Second)
			res, err = l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		})
	}
}

func TestCooldown(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	l := ratelimit.NewMemoryLimiter(ratelimit.Cooldown(time.Minute), ratelimit.WithClock(clock.Now))

	res, err := l.Allow(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.Advance(time.Minute + time.Second)
	res, err = l.Allow(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterDropsClosedWindows(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	l := ratelimit.NewMemoryLimiter(ratelimit.Cooldown(time.Minute), ratelimit.WithClock(clock.Now))

	for i := range 10000 {
		res, err := l.Allow(ctx, fmt.Sprintf("user-%d@example.com", i))
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	assert.Equal(t, 10000, l.Len())

	clock.Advance(time.Hour)
	res, err := l.Allow(ctx, "late@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, l.Len(), "keys from closed windows are released")

	res, err = l.Allow(ctx, "user-0@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a dropped key starts a fresh window")
}
