package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventgate/internal/audit"
	"eventgate/internal/config"
	"eventgate/internal/hashing"
	"eventgate/internal/model"
	redisrepo "eventgate/internal/repository/redis"
	"eventgate/internal/repository/scylla"
	"eventgate/internal/store"
	"eventgate/internal/util"
)

// PINSessionService gates event access behind a shared numeric PIN. A
// correct PIN mints a session bound to the client that solved it; every
// subsequent access revalidates that binding.
type PINSessionService struct {
	config   *config.Config
	events   scylla.EventRepository
	sessions *redisrepo.PINSessionCache
	limiter  *RateLimiter
	hasher   *hashing.Hasher
	emitter  audit.Emitter
}

func NewPINSessionService(
	cfg *config.Config,
	events scylla.EventRepository,
	sessions *redisrepo.PINSessionCache,
	limiter *RateLimiter,
	hasher *hashing.Hasher,
	emitter audit.Emitter,
) *PINSessionService {
	return &PINSessionService{
		config:   cfg,
		events:   events,
		sessions: sessions,
		limiter:  limiter,
		hasher:   hasher,
		emitter:  emitter,
	}
}

// ClientFingerprint ties a session to the origin and user agent that opened
// it. An empty fingerprint means binding is disabled.
func ClientFingerprint(origin, userAgent string) string {
	sum := sha256.Sum256([]byte(origin + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

// ValidPINFormat reports whether pin is exactly the expected digit string
// shape. Malformed input is rejected before it costs a rate-limit slot.
func ValidPINFormat(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// VerifyPIN checks a PIN guess against the event's stored hash and, on a
// match, mints a session for the guessing client.
func (s *PINSessionService) VerifyPIN(ctx context.Context, eventID, pin, origin, userAgent string) (model.PINSession, error) {
	if !ValidPINFormat(pin) {
		return model.PINSession{}, ErrPINFormat
	}

	if err := s.limiter.AllowPINAttempt(ctx, eventID, origin); err != nil {
		var rateErr *RateLimitedError
		if errors.As(err, &rateErr) {
			s.emitter.Emit(audit.SecurityEvent{
				Kind:    audit.KindRateLimited,
				EventID: eventID,
				Origin:  origin,
				Reason:  rateErr.Scope,
			})
		}
		return model.PINSession{}, err
	}

	event, err := s.events.GetEventByID(ctx, eventID)
	if err != nil {
		return model.PINSession{}, err
	}

	match, err := s.hasher.VerifyPIN(pin, event.PINHash)
	if err != nil {
		return model.PINSession{}, err
	}
	if !match {
		s.emitter.Emit(audit.SecurityEvent{
			Kind:    audit.KindPINRejected,
			EventID: eventID,
			Origin:  origin,
		})
		return model.PINSession{}, ErrInvalidPIN
	}

	pinConfig := s.config.PIN
	now := time.Now().UTC()
	session := model.PINSession{
		SessionID:     uuid.New().String(),
		EventID:       eventID,
		OriginAddress: origin,
		CreatedAt:     now,
		ExpiresAt:     now.Add(pinConfig.SessionTTL),
	}
	if pinConfig.FingerprintBinding {
		session.ClientSignature = ClientFingerprint(origin, userAgent)
	}

	if err := s.sessions.StoreSession(ctx, session, pinConfig.SessionTTL); err != nil {
		return model.PINSession{}, err
	}

	s.emitter.Emit(audit.SecurityEvent{
		Kind:    audit.KindPINVerified,
		EventID: eventID,
		Origin:  origin,
	})

	util.Info("Event session opened",
		zap.String("event_id", eventID),
		zap.Duration("ttl", pinConfig.SessionTTL))

	return session, nil
}

// CheckSession validates a presented session against the event it should
// grant and the client presenting it. Unknown, lapsed, cross-event and
// stolen sessions all fail the same way.
func (s *PINSessionService) CheckSession(ctx context.Context, sessionID, eventID, origin, userAgent string) (model.PINSession, error) {
	if sessionID == "" {
		return model.PINSession{}, ErrSessionInvalid
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.PINSession{}, s.reject(eventID, origin, "unknown or expired session")
		}
		return model.PINSession{}, err
	}

	if session.EventID != eventID {
		return model.PINSession{}, s.reject(eventID, origin, "session bound to different event")
	}

	if s.config.PIN.FingerprintBinding && session.ClientSignature != "" {
		if session.ClientSignature != ClientFingerprint(origin, userAgent) {
			return model.PINSession{}, s.reject(eventID, origin, "client fingerprint mismatch")
		}
	}

	return session, nil
}

// EndSession discards a session ahead of its TTL. Callers validate the
// presented session first; deleting an unknown ID is a no-op.
func (s *PINSessionService) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionInvalid
	}
	return s.sessions.DeleteSession(ctx, sessionID)
}

func (s *PINSessionService) reject(eventID, origin, reason string) error {
	s.emitter.Emit(audit.SecurityEvent{
		Kind:    audit.KindSessionRejected,
		EventID: eventID,
		Origin:  origin,
		Reason:  reason,
	})
	return ErrSessionInvalid
}

// CreateEvent provisions an event with a hashed PIN. Operator surface.
func (s *PINSessionService) CreateEvent(ctx context.Context, name, pin string) (*model.Event, error) {
	if !ValidPINFormat(pin) {
		return nil, ErrPINFormat
	}

	pinHash, err := s.hasher.HashPIN(pin)
	if err != nil {
		return nil, err
	}

	event := &model.Event{
		Name:    util.SanitizeInput(name),
		PINHash: pinHash,
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// RotateEventPIN replaces an event's PIN. Existing sessions stay valid;
// only new entrants need the new PIN.
func (s *PINSessionService) RotateEventPIN(ctx context.Context, eventID, pin string) error {
	if !ValidPINFormat(pin) {
		return ErrPINFormat
	}

	// Confirm the event exists so rotation on a bad ID reads as 404.
	if _, err := s.events.GetEventByID(ctx, eventID); err != nil {
		return err
	}

	pinHash, err := s.hasher.HashPIN(pin)
	if err != nil {
		return err
	}
	return s.events.UpdateEventPIN(ctx, eventID, pinHash)
}

// DeleteEvent removes an event. Operator surface. Sessions already open for
// the event age out on their own TTL.
func (s *PINSessionService) DeleteEvent(ctx context.Context, eventID string) error {
	// Confirm the event exists so deletion of a bad ID reads as 404.
	if _, err := s.events.GetEventByID(ctx, eventID); err != nil {
		return err
	}
	return s.events.DeleteEvent(ctx, eventID)
}

// GetEvent returns the event record for a PIN-gated read.
func (s *PINSessionService) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return s.events.GetEventByID(ctx, eventID)
}
