package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prperemyshlev/session-service/pkg/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	limiter := NewRateLimiter(&database.Redis{Client: client}, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, "127.0.0.1", 3, time.Minute))
		clock.Advance(10 * time.Second)
	}

	remaining, err := limiter.Remaining(ctx, "127.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	err = limiter.Allow(ctx, "127.0.0.1", 3, time.Minute)
	require.ErrorIs(t, err, ErrRateLimited)

	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, 30*time.Second, rateErr.RetryAfter)

	require.NoError(t, limiter.Allow(ctx, "10.0.0.2", 3, time.Minute), "keys are limited independently")

	clock.Advance(31 * time.Second)
	assert.NoError(t, limiter.Allow(ctx, "127.0.0.1", 3, time.Minute))
}

func TestRateLimiter_CountsRequestsAtTheSameInstant(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRateLimiter(&database.Redis{Client: client}, clockwork.NewFakeClockAt(testNow))
	ctx := context.Background()

	var allowed, limited int
	for i := 0; i < 5; i++ {
		err := limiter.Allow(ctx, "ip", 2, time.Minute)
		switch {
		case err == nil:
			allowed++
		case errors.Is(err, ErrRateLimited):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 2, allowed)
	assert.Equal(t, 3, limited)

	members, err := client.ZCard(ctx, "ratelimit:ip").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), members)

	var rateErr *RateLimitError
	require.ErrorAs(t, limiter.Allow(ctx, "ip", 2, time.Minute), &rateErr)
	assert.Equal(t, time.Minute, rateErr.RetryAfter)
}
