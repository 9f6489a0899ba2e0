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

const pinSessionPrefix = "pin_session:"

// PINSessionCache holds the sessions minted after a correct event PIN. A
// session lives under its random ID and lapses with the key's TTL.
type PINSessionCache struct {
	store store.Store
}

func NewPINSessionCache(s store.Store) *PINSessionCache {
	return &PINSessionCache{store: s}
}

func (c *PINSessionCache) StoreSession(ctx context.Context, session model.PINSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := pinSessionPrefix + session.SessionID
	if err := c.store.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to cache session",
			zap.String("event_id", session.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to cache session: %w", err)
	}

	util.Debug("Session cached",
		zap.String("event_id", session.EventID),
		zap.Duration("ttl", ttl))

	return nil
}

// GetSession returns the session for an ID, or store.ErrNotFound when the ID
// is unknown or the session has lapsed.
func (c *PINSessionCache) GetSession(ctx context.Context, sessionID string) (model.PINSession, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := c.store.Get(ctx, pinSessionPrefix+sessionID)
	if err != nil {
		return model.PINSession{}, err
	}

	var session model.PINSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return model.PINSession{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

func (c *PINSessionCache) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.store.Del(ctx, pinSessionPrefix+sessionID); err != nil {
		util.Error("Failed to delete session", zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
