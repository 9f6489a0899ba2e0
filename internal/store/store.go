package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("key not found")

// Store is the ephemeral key-value store the authentication core runs on.
// Every entry carries an optional TTL; an expiration of zero means the key
// does not expire. Implementations must treat an expired key as absent for
// Get, Exists and TTL, and must make IncrWithExpire atomic with respect to
// concurrent callers on the same key; the rate limiter and the suspension
// tracker depend on that to stay race-free.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Incr increments a counter that never expires.
	Incr(ctx context.Context, key string) (int64, error)
	// IncrWithExpire atomically increments a counter, attaching the TTL when
	// the counter is created. An existing counter keeps its original window.
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)

	// TTL reports the remaining lifetime of a key. A negative duration means
	// the key exists without an expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
