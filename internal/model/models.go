package model

import "time"

// OTPRecord is the single live one-time code for an identity. It lives in the
// ephemeral store under the identity key, so issuing a new code overwrites
// (and thereby invalidates) the previous one.
type OTPRecord struct {
	Identity  string     `json:"identity"`
	CodeHash  HashedCode `json:"code_hash"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// HashedCode is an Argon2id digest of an OTP code or event PIN.
type HashedCode struct {
	Hash      string `json:"hash"`
	Salt      string `json:"salt"`
	Algorithm string `json:"algorithm"`
}

// PINSession grants limited access to a single event after PIN verification.
type PINSession struct {
	SessionID       string    `json:"session_id"`
	EventID         string    `json:"event_id"`
	OriginAddress   string    `json:"origin_address"`
	ClientSignature string    `json:"client_signature,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Event is the persistent record the PIN flow authenticates against.
type Event struct {
	EventID   string     `json:"event_id"`
	Name      string     `json:"name"`
	PINHash   HashedCode `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Credential is the minted token handed back after a successful OTP
// verification.
type Credential struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}
