// Package ratelimit shields the cart mutation endpoints with a sliding
// window counter kept in Redis sorted sets, one set per caller key.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter counts events per key over a sliding window. A nil client or a
// non-positive limit disables it, every call is then allowed.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow records one event for key and reports whether the caller is still
// inside the limit, how many events remain, and when the window resets.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	now := time.Now()
	resetAt := now.Add(window)
	horizon := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	bucket := l.Prefix + key

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, bucket, "-inf", horizon)
	pipe.ZAdd(ctx, bucket, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, resetAt, err
	}

	seen := int(count.Val())
	remaining := max - seen
	if remaining < 0 {
		remaining = 0
	}
	return seen <= max, remaining, resetAt, nil
}
