package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/models"
)

// RateLimiter applies a token bucket per (scope, key). Buckets of different
// keys never share state.
type RateLimiter struct {
	store BucketStore
	clock func() time.Time
	log   *zap.SugaredLogger
}

func NewRateLimiter(store BucketStore, clock func() time.Time, log *zap.SugaredLogger) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{store: store, clock: clock, log: log}
}

func bucketKey(scope, key string) string {
	return scope + ":" + key
}

// TryAcquire takes one token from the bucket, refilling capacity tokens per
// refillWindow. A denied decision carries the wait until a token is free.
func (l *RateLimiter) TryAcquire(
	ctx context.Context,
	scope, key string,
	capacity int,
	refillWindow time.Duration,
) (models.RateLimitDecision, error) {
	if capacity <= 0 || refillWindow <= 0 {
		return models.RateLimitDecision{}, fmt.Errorf("%w: rate limit for %s needs positive capacity and window", ErrConfiguration, scope)
	}

	decision, err := l.store.Take(ctx, bucketKey(scope, key), capacity, refillWindow, l.clock())
	if err != nil {
		return models.RateLimitDecision{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	if !decision.Allowed {
		l.log.Debugw("rate limit denied", "scope", scope, "retryAfter", decision.RetryAfter)
	}
	return decision, nil
}
