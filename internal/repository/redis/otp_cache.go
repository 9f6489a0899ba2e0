// Package redis holds the ephemeral caches behind the authentication flows.
// Each cache owns one key prefix and wraps every store call in a short
// deadline so a slow backend degrades into a request error instead of a hang.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventgate/internal/model"
	"eventgate/internal/store"
	"eventgate/internal/util"
)

const (
	otpPrefix = "otp:"

	cacheOpTimeout = 5 * time.Second
)

// OTPCache keeps the single live one-time code per identity. Writing a new
// record overwrites the previous one, which is what invalidates an older
// still-unexpired code.
type OTPCache struct {
	store store.Store
}

func NewOTPCache(s store.Store) *OTPCache {
	return &OTPCache{store: s}
}

func (c *OTPCache) StoreRecord(ctx context.Context, record model.OTPRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal code record: %w", err)
	}

	key := otpPrefix + record.Identity
	if err := c.store.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to cache code record", zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("failed to cache code record: %w", err)
	}

	util.Debug("Code record cached", zap.Duration("ttl", ttl))
	return nil
}

// GetRecord returns the live code record for an identity, or
// store.ErrNotFound when none exists or the record has expired.
func (c *OTPCache) GetRecord(ctx context.Context, identity string) (model.OTPRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := c.store.Get(ctx, otpPrefix+identity)
	if err != nil {
		return model.OTPRecord{}, err
	}

	var record model.OTPRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return model.OTPRecord{}, fmt.Errorf("failed to decode code record: %w", err)
	}
	return record, nil
}

func (c *OTPCache) DeleteRecord(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.store.Del(ctx, otpPrefix+identity); err != nil {
		util.Error("Failed to delete code record", zap.Error(err))
		return fmt.Errorf("failed to delete code record: %w", err)
	}
	return nil
}
