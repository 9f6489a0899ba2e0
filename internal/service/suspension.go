package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"eventgate/internal/audit"
	"eventgate/internal/bucketing"
	"eventgate/internal/config"
	redisrepo "eventgate/internal/repository/redis"
	"eventgate/internal/util"
)

// SuspensionTracker turns repeated verification failures into an indefinite
// suspension. Failures never age out on their own: only a successful
// verification or an operator resets the count, and only an operator lifts a
// suspension.
type SuspensionTracker struct {
	cache     *redisrepo.SuspensionCache
	buckets   *bucketing.Manager
	threshold int64
}

func NewSuspensionTracker(cache *redisrepo.SuspensionCache, buckets *bucketing.Manager, cfg *config.Config) *SuspensionTracker {
	return &SuspensionTracker{
		cache:     cache,
		buckets:   buckets,
		threshold: int64(cfg.OTP.SuspensionThreshold),
	}
}

func (t *SuspensionTracker) key(identity string) string {
	return fmt.Sprintf("%s:%s", t.buckets.BucketTag(identity), audit.HashIdentity(identity))
}

func (t *SuspensionTracker) IsSuspended(ctx context.Context, identity string) (bool, error) {
	return t.cache.IsSuspended(ctx, t.key(identity))
}

// RecordFailure counts one failed verification. Crossing the threshold
// suspends the identity; the returned flag reports whether that happened on
// this call or earlier.
func (t *SuspensionTracker) RecordFailure(ctx context.Context, identity string) (suspended bool, err error) {
	key := t.key(identity)

	attempts, err := t.cache.IncrementFailures(ctx, key)
	if err != nil {
		return false, err
	}
	if attempts < t.threshold {
		return false, nil
	}

	if err := t.cache.SetSuspended(ctx, key); err != nil {
		return false, err
	}

	util.Warn("Verification failure threshold crossed",
		zap.Int64("attempts", attempts),
		zap.Int64("threshold", t.threshold))

	return true, nil
}

// RecordSuccess clears the failure count after a correct verification.
func (t *SuspensionTracker) RecordSuccess(ctx context.Context, identity string) error {
	return t.cache.Clear(ctx, t.key(identity))
}

// Lift removes a suspension and its failure count. Operator action only.
func (t *SuspensionTracker) Lift(ctx context.Context, identity string) error {
	return t.cache.Clear(ctx, t.key(identity))
}

// FailedAttempts reports the running failure count for an identity.
func (t *SuspensionTracker) FailedAttempts(ctx context.Context, identity string) (int64, error) {
	return t.cache.GetFailures(ctx, t.key(identity))
}
