package service

import (
	"context"
	"fmt"
	"time"

	"eventgate/internal/audit"
	"eventgate/internal/bucketing"
	"eventgate/internal/config"
	redisrepo "eventgate/internal/repository/redis"
)

// Rate-limit scopes. Identity and origin are checked together on every code
// request; the PIN scope covers guesses against one event from one origin.
const (
	ScopeIdentity = "identity"
	ScopeOrigin   = "origin"
	ScopePIN      = "pin"
)

// RateLimiter enforces fixed-window counters over the cache. A request is
// counted first and judged after, so concurrent requests racing on the last
// slot cannot both slip under the limit.
type RateLimiter struct {
	cache   *redisrepo.RateLimitCache
	buckets *bucketing.Manager
	config  *config.Config
}

func NewRateLimiter(cache *redisrepo.RateLimitCache, buckets *bucketing.Manager, cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		cache:   cache,
		buckets: buckets,
		config:  cfg,
	}
}

// identityKey addresses per-identity counters without storing the raw
// address. The bucket tag groups keys for operational scans.
func (l *RateLimiter) identityKey(identity string) string {
	return fmt.Sprintf("%s:%s:%s", ScopeIdentity, l.buckets.BucketTag(identity), audit.HashIdentity(identity))
}

func (l *RateLimiter) originKey(origin string) string {
	return fmt.Sprintf("%s:%s", ScopeOrigin, origin)
}

func (l *RateLimiter) pinKey(eventID, origin string) string {
	return fmt.Sprintf("%s:%s:%s", ScopePIN, eventID, origin)
}

// AllowOTPRequest counts a code request against both the identity and the
// origin windows. Either window being over its limit rejects the request
// with a RateLimitedError naming the scope that tripped.
func (l *RateLimiter) AllowOTPRequest(ctx context.Context, identity, origin string) error {
	otpConfig := l.config.OTP

	if err := l.check(ctx, l.identityKey(identity), ScopeIdentity,
		int64(otpConfig.RequestsPerIdentity), otpConfig.RequestWindow); err != nil {
		return err
	}
	return l.check(ctx, l.originKey(origin), ScopeOrigin,
		int64(otpConfig.RequestsPerOrigin), otpConfig.RequestWindow)
}

// AllowPINAttempt counts a PIN guess against the per-event, per-origin
// window.
func (l *RateLimiter) AllowPINAttempt(ctx context.Context, eventID, origin string) error {
	pinConfig := l.config.PIN
	return l.check(ctx, l.pinKey(eventID, origin), ScopePIN,
		int64(pinConfig.AttemptLimit), pinConfig.AttemptWindow)
}

func (l *RateLimiter) check(ctx context.Context, key, scope string, limit int64, window time.Duration) error {
	count, err := l.cache.IncrementCounter(ctx, key, window)
	if err != nil {
		return err
	}
	if count <= limit {
		return nil
	}

	retryAfter, err := l.cache.RetryAfter(ctx, key)
	if err != nil {
		retryAfter = window
	}
	return &RateLimitedError{Scope: scope, RetryAfter: retryAfter}
}

// ResetIdentity reopens the identity window, typically after an operator
// clears a suspension.
func (l *RateLimiter) ResetIdentity(ctx context.Context, identity string) error {
	return l.cache.ResetCounter(ctx, l.identityKey(identity))
}
