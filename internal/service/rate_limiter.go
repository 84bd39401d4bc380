package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prperemyshlev/session-service/pkg/database"
	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is matched by every *RateLimitError
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError tells the caller when to retry
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s, try again in %v", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RateLimiter is a sliding-window log limiter on Redis sorted sets
type RateLimiter struct {
	redis *database.Redis
	clock clockwork.Clock
}

// NewRateLimiter creates a rate limiter reading time from clock
func NewRateLimiter(redis *database.Redis, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{redis: redis, clock: clock}
}

// Allow records a request under key. It returns a *RateLimitError when the
// window is full. Every request is its own set member, so requests that read
// the same clock instant are all counted.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) error {
	now := r.clock.Now()
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := r.prune(ctx, redisKey, now, window)
	if err != nil {
		return err
	}

	if count >= int64(limit) {
		oldest, err := r.redis.Client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestAt := time.UnixMilli(int64(oldest[0].Score))
			return &RateLimitError{RetryAfter: (window - now.Sub(oldestAt)).Round(time.Second)}
		}
		return &RateLimitError{}
	}

	err = r.redis.Client.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add entry: %w", err)
	}

	// best effort; the window is pruned on every call anyway
	_ = r.redis.Client.Expire(ctx, redisKey, window+time.Minute).Err()

	return nil
}

// Remaining returns how many requests key may still make in the window
func (r *RateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	count, err := r.prune(ctx, fmt.Sprintf("ratelimit:%s", key), r.clock.Now(), window)
	if err != nil {
		return 0, err
	}

	return max(limit-int(count), 0), nil
}

func (r *RateLimiter) prune(ctx context.Context, redisKey string, now time.Time, window time.Duration) (int64, error) {
	windowStart := now.Add(-window)

	err := r.redis.Client.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err()
	if err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := r.redis.Client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}

	return count, nil
}
