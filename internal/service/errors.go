package service

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors the handlers translate into HTTP responses. Code expiry and
// code mismatch stay distinct here for auditing, but callers must present
// them identically to the client.
var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrSuspended       = errors.New("identity suspended")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrDeliveryFailed  = errors.New("code delivery failed")
	ErrInvalidPIN      = errors.New("invalid event PIN")
	ErrPINFormat       = errors.New("malformed event PIN")
	ErrSessionInvalid  = errors.New("invalid session")
)

// RateLimitedError reports which scope tripped and when its window reopens.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s scope, retry after %s", e.Scope, e.RetryAfter)
}
