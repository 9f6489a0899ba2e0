// Package token mints the signed credential returned after a successful
// one-time-code verification.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"eventgate/internal/config"
	"eventgate/internal/model"
)

var (
	ErrNoSigningKey = errors.New("no signing key configured")
	ErrInvalidToken = errors.New("invalid token")
)

// Minter issues credentials for verified identities.
type Minter interface {
	Mint(identity string) (model.Credential, error)
	Verify(tokenString string) (string, error)
}

// JWTMinter signs RS256 tokens when an RSA key pair is configured and falls
// back to HS256 with a shared secret otherwise. Production requires one of
// the two; the constructor refuses to start without a key.
type JWTMinter struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	hmacSecret []byte
	issuer     string
	ttl        time.Duration
}

func NewJWTMinter(cfg *config.Config) (*JWTMinter, error) {
	m := &JWTMinter{
		issuer: cfg.Token.Issuer,
		ttl:    cfg.Token.TTL,
	}

	if cfg.Token.PrivateKeyPath != "" {
		keyPEM, err := os.ReadFile(cfg.Token.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		m.privateKey = privateKey
		m.publicKey = &privateKey.PublicKey

		if cfg.Token.PublicKeyPath != "" {
			pubPEM, err := os.ReadFile(cfg.Token.PublicKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read verification key: %w", err)
			}
			publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
			if err != nil {
				return nil, fmt.Errorf("failed to parse verification key: %w", err)
			}
			m.publicKey = publicKey
		}
		return m, nil
	}

	if cfg.Token.HMACSecret != "" {
		m.hmacSecret = []byte(cfg.Token.HMACSecret)
		return m, nil
	}

	if cfg.IsProduction() {
		return nil, ErrNoSigningKey
	}

	// Development fallback: a per-process secret. Tokens do not survive a
	// restart, which is acceptable outside production.
	m.hmacSecret = []byte(uuid.NewString())
	return m, nil
}

// Mint issues a credential for an identity that has just proven control of
// its email address.
func (m *JWTMinter) Mint(identity string) (model.Credential, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   identity,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	var (
		signed string
		err    error
	)
	if m.privateKey != nil {
		signed, err = jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.privateKey)
	} else {
		signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.hmacSecret)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("failed to sign credential: %w", err)
	}

	return model.Credential{
		Token:     signed,
		Identity:  identity,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks the signature and expiry of a credential and returns the
// identity it was minted for.
func (m *JWTMinter) Verify(tokenString string) (string, error) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if m.publicKey == nil {
				return nil, ErrInvalidToken
			}
			return m.publicKey, nil
		case *jwt.SigningMethodHMAC:
			if len(m.hmacSecret) == 0 {
				return nil, ErrInvalidToken
			}
			return m.hmacSecret, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, keyFunc,
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
