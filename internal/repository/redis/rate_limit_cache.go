package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"eventgate/internal/store"
	"eventgate/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// RateLimitCache backs the fixed-window counters. The window TTL is attached
// when a counter is created and never refreshed, so repeated attempts cannot
// push the reset point further out.
type RateLimitCache struct {
	store store.Store
}

func NewRateLimitCache(s store.Store) *RateLimitCache {
	return &RateLimitCache{store: s}
}

// IncrementCounter bumps the counter for key, creating it with the window
// TTL on first use, and returns the post-increment count.
func (c *RateLimitCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	count, err := c.store.IncrWithExpire(ctx, rateLimitPrefix+key, window)
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter incremented",
		zap.String("key", key),
		zap.Int64("count", count))

	return count, nil
}

// GetCounter reads the current count without incrementing. A missing counter
// reads as zero.
func (c *RateLimitCache) GetCounter(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := c.store.Get(ctx, rateLimitPrefix+key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get rate limit counter: %w", err)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return count, nil
}

// RetryAfter reports how long until the window containing key resets. A
// missing counter means the window is already open.
func (c *RateLimitCache) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	ttl, err := c.store.TTL(ctx, rateLimitPrefix+key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get rate limit window: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// ResetCounter drops the counter, reopening the window immediately.
func (c *RateLimitCache) ResetCounter(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.store.Del(ctx, rateLimitPrefix+key); err != nil {
		util.Error("Failed to reset rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter reset", zap.String("key", key))
	return nil
}
