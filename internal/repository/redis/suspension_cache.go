package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"eventgate/internal/store"
	"eventgate/internal/util"
)

const (
	suspendFailPrefix = "suspend_fail:"
	suspendLockPrefix = "suspend_lock:"
)

// SuspensionCache tracks consecutive verification failures and the resulting
// suspensions. Neither key carries a TTL: failures accumulate until a
// successful verification clears them, and a suspension holds until an
// operator lifts it.
type SuspensionCache struct {
	store store.Store
}

func NewSuspensionCache(s store.Store) *SuspensionCache {
	return &SuspensionCache{store: s}
}

// IncrementFailures records one more failed verification and returns the
// running total.
func (c *SuspensionCache) IncrementFailures(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	count, err := c.store.Incr(ctx, suspendFailPrefix+key)
	if err != nil {
		util.Error("Failed to increment failure counter",
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment failure counter: %w", err)
	}
	return count, nil
}

// GetFailures reads the failure count without incrementing.
func (c *SuspensionCache) GetFailures(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := c.store.Get(ctx, suspendFailPrefix+key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get failure counter: %w", err)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid failure counter format: %w", err)
	}
	return count, nil
}

// SetSuspended marks the identity as suspended until explicitly cleared.
func (c *SuspensionCache) SetSuspended(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.store.Set(ctx, suspendLockPrefix+key, "suspended", 0); err != nil {
		util.Error("Failed to set suspension",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to set suspension: %w", err)
	}

	util.Warn("Identity suspended", zap.String("key", key))
	return nil
}

func (c *SuspensionCache) IsSuspended(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	exists, err := c.store.Exists(ctx, suspendLockPrefix+key)
	if err != nil {
		return false, fmt.Errorf("failed to check suspension: %w", err)
	}
	return exists, nil
}

// Clear removes both the failure counter and any suspension for the key.
func (c *SuspensionCache) Clear(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	keys := []string{
		suspendFailPrefix + key,
		suspendLockPrefix + key,
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		util.Error("Failed to clear suspension state",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to clear suspension state: %w", err)
	}

	util.Debug("Suspension state cleared", zap.String("key", key))
	return nil
}
