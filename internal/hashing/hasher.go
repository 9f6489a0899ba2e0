package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"eventgate/internal/config"
	"eventgate/internal/model"
)

var ErrInvalidHash = errors.New("invalid hash format")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives Argon2id digests for one-time codes and event PINs. Each
// purpose gets its own domain context so a digest computed for one can never
// verify as the other. The pepper is a deployment secret mixed into every
// digest; event PIN hashes are persisted, so the pepper must stay stable
// across restarts.
type Hasher struct {
	params Argon2Params
	pepper string
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  32,
			KeyLength:   32,
		},
		pepper: cfg.Hashing.Pepper,
	}
}

func (h *Hasher) HashOTP(code string) (model.HashedCode, error) {
	return h.hash(code, "otp")
}

func (h *Hasher) HashPIN(pin string) (model.HashedCode, error) {
	return h.hash(pin, "pin")
}

func (h *Hasher) hash(data, context string) (model.HashedCode, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return model.HashedCode{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := argon2.IDKey(
		[]byte(data+h.pepper+context),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return model.HashedCode{
		Hash:      base64.RawURLEncoding.EncodeToString(digest),
		Salt:      base64.RawURLEncoding.EncodeToString(salt),
		Algorithm: "argon2id-v1",
	}, nil
}

func (h *Hasher) VerifyOTP(code string, hashed model.HashedCode) (bool, error) {
	return h.verify(code, hashed, "otp")
}

func (h *Hasher) VerifyPIN(pin string, hashed model.HashedCode) (bool, error) {
	return h.verify(pin, hashed, "pin")
}

func (h *Hasher) verify(data string, hashed model.HashedCode, context string) (bool, error) {
	salt, err := base64.RawURLEncoding.DecodeString(hashed.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expected, err := base64.RawURLEncoding.DecodeString(hashed.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}
	if len(expected) == 0 {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey(
		[]byte(data+h.pepper+context),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	// Constant time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
