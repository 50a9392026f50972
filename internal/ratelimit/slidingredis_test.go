package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLimiterSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter := Limiter{Client: client, Prefix: "rl:voucher:", Now: func() time.Time { return now }}
	ctx := context.Background()
	window := 10 * time.Second

	allowed, remaining, _, err := limiter.Allow(ctx, "10.0.0.1", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, remaining)

	now = now.Add(4 * time.Second)
	allowed, remaining, _, err = limiter.Allow(ctx, "10.0.0.1", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 0, remaining)

	now = now.Add(time.Second)
	allowed, _, reset, err := limiter.Allow(ctx, "10.0.0.1", window, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC), reset.UTC())

	// The first call leaves the window; rejected calls were never counted.
	now = now.Add(6 * time.Second)
	allowed, _, _, err = limiter.Allow(ctx, "10.0.0.1", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, _, err = limiter.Allow(ctx, "10.0.0.2", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	allowed, remaining, _, err := Limiter{}.Allow(context.Background(), "k", time.Second, 3)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 3, remaining)
}
