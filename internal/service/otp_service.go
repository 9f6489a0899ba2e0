package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"eventgate/internal/audit"
	"eventgate/internal/config"
	"eventgate/internal/hashing"
	"eventgate/internal/mailer"
	"eventgate/internal/model"
	redisrepo "eventgate/internal/repository/redis"
	"eventgate/internal/store"
	"eventgate/internal/token"
	"eventgate/internal/util"
)

// OTPService runs the passwordless email flow: it issues one-time codes and
// exchanges a correct code for a signed credential.
type OTPService struct {
	config     *config.Config
	otpCache   *redisrepo.OTPCache
	limiter    *RateLimiter
	suspension *SuspensionTracker
	hasher     *hashing.Hasher
	sender     mailer.Sender
	minter     token.Minter
	emitter    audit.Emitter
}

func NewOTPService(
	cfg *config.Config,
	otpCache *redisrepo.OTPCache,
	limiter *RateLimiter,
	suspension *SuspensionTracker,
	hasher *hashing.Hasher,
	sender mailer.Sender,
	minter token.Minter,
	emitter audit.Emitter,
) *OTPService {
	return &OTPService{
		config:     cfg,
		otpCache:   otpCache,
		limiter:    limiter,
		suspension: suspension,
		hasher:     hasher,
		sender:     sender,
		minter:     minter,
		emitter:    emitter,
	}
}

// NormalizeIdentity lowercases and trims an email identity so rate limiting,
// suspension and code lookup all agree on the key.
func NormalizeIdentity(identity string) (string, error) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return "", ErrInvalidIdentity
	}
	if util.ContainsSuspicious(identity) {
		return "", ErrInvalidIdentity
	}
	addr, err := mail.ParseAddress(identity)
	if err != nil || addr.Address != identity {
		return "", ErrInvalidIdentity
	}
	return identity, nil
}

// RequestCode issues a fresh one-time code for an identity and emails it.
// A new code always replaces the previous one, so at most one code is live
// per identity. Delivery failure is reported to the caller but leaves the
// code live until its TTL runs out.
func (s *OTPService) RequestCode(ctx context.Context, identity, origin string) error {
	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return err
	}

	suspended, err := s.suspension.IsSuspended(ctx, identity)
	if err != nil {
		return err
	}
	if suspended {
		return ErrSuspended
	}

	if err := s.limiter.AllowOTPRequest(ctx, identity, origin); err != nil {
		var rateErr *RateLimitedError
		if errors.As(err, &rateErr) {
			s.emitter.Emit(audit.SecurityEvent{
				Kind:         audit.KindRateLimited,
				IdentityHash: audit.HashIdentity(identity),
				Origin:       origin,
				Reason:       rateErr.Scope,
			})
		}
		return err
	}

	otpConfig := s.config.OTP

	code, err := generateCode(otpConfig.CodeLength)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := s.hasher.HashOTP(code)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	now := time.Now().UTC()
	record := model.OTPRecord{
		Identity:  identity,
		CodeHash:  codeHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(otpConfig.TTL),
	}

	if err := s.otpCache.StoreRecord(ctx, record, otpConfig.TTL); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, otpConfig.DeliverySendDeadline)
	defer cancel()

	if err := s.sender.SendOTP(sendCtx, identity, code, otpConfig.TTL); err != nil {
		util.Error("Code delivery failed", zap.Error(err))
		s.emitter.Emit(audit.SecurityEvent{
			Kind:         audit.KindOTPDeliveryFail,
			IdentityHash: audit.HashIdentity(identity),
			Origin:       origin,
		})
		// The stored code stays live; a retry may still arrive by another
		// route before the TTL lapses.
		return ErrDeliveryFailed
	}

	s.emitter.Emit(audit.SecurityEvent{
		Kind:         audit.KindOTPRequested,
		IdentityHash: audit.HashIdentity(identity),
		Origin:       origin,
	})

	util.Info("Code issued",
		zap.String("identity_hash", audit.HashIdentity(identity)),
		zap.Duration("ttl", otpConfig.TTL))

	return nil
}

// VerifyCode exchanges a submitted code for a credential. Every non-matching
// submission counts toward suspension; expiry and mismatch are distinguished
// internally but must read identically to the client.
func (s *OTPService) VerifyCode(ctx context.Context, identity, origin, code string) (model.Credential, error) {
	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return model.Credential{}, err
	}

	suspended, err := s.suspension.IsSuspended(ctx, identity)
	if err != nil {
		return model.Credential{}, err
	}
	if suspended {
		return model.Credential{}, ErrSuspended
	}

	otpConfig := s.config.OTP

	// Fixed sign-in code for development environments only. It bypasses the
	// stored record but never the suspension check above.
	if s.config.IsDevelopment() && otpConfig.DevBypassCode != "" && code == otpConfig.DevBypassCode {
		return s.succeed(ctx, identity, origin)
	}

	record, err := s.otpCache.GetRecord(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Credential{}, s.fail(ctx, identity, origin, ErrInvalidCode)
		}
		return model.Credential{}, err
	}

	if time.Now().UTC().After(record.ExpiresAt) {
		return model.Credential{}, s.fail(ctx, identity, origin, ErrCodeExpired)
	}

	match, err := s.hasher.VerifyOTP(code, record.CodeHash)
	if err != nil {
		return model.Credential{}, err
	}
	if !match {
		return model.Credential{}, s.fail(ctx, identity, origin, ErrInvalidCode)
	}

	// Single use: the record is gone before the credential is minted.
	if err := s.otpCache.DeleteRecord(ctx, identity); err != nil {
		return model.Credential{}, err
	}

	return s.succeed(ctx, identity, origin)
}

func (s *OTPService) succeed(ctx context.Context, identity, origin string) (model.Credential, error) {
	if err := s.suspension.RecordSuccess(ctx, identity); err != nil {
		return model.Credential{}, err
	}

	credential, err := s.minter.Mint(identity)
	if err != nil {
		return model.Credential{}, err
	}

	s.emitter.Emit(audit.SecurityEvent{
		Kind:         audit.KindOTPVerified,
		IdentityHash: audit.HashIdentity(identity),
		Origin:       origin,
	})

	return credential, nil
}

// fail records the failed attempt and returns either the original cause or
// ErrSuspended when this failure crossed the threshold.
func (s *OTPService) fail(ctx context.Context, identity, origin string, cause error) error {
	suspended, err := s.suspension.RecordFailure(ctx, identity)
	if err != nil {
		return err
	}

	kind := audit.KindOTPRejected
	if suspended {
		kind = audit.KindSuspended
	}
	s.emitter.Emit(audit.SecurityEvent{
		Kind:         kind,
		IdentityHash: audit.HashIdentity(identity),
		Origin:       origin,
		Reason:       cause.Error(),
	})

	if suspended {
		return ErrSuspended
	}
	return cause
}

// LiftSuspension clears a suspension and reopens the identity's request
// window. Exposed on the operator surface only.
func (s *OTPService) LiftSuspension(ctx context.Context, identity string) error {
	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return err
	}

	if err := s.suspension.Lift(ctx, identity); err != nil {
		return err
	}
	if err := s.limiter.ResetIdentity(ctx, identity); err != nil {
		return err
	}

	s.emitter.Emit(audit.SecurityEvent{
		Kind:         audit.KindSuspensionLifted,
		IdentityHash: audit.HashIdentity(identity),
	})

	util.Info("Suspension lifted",
		zap.String("identity_hash", audit.HashIdentity(identity)))

	return nil
}

// generateCode draws a uniform n-digit code from crypto/rand, left-padded
// with zeros.
func generateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
