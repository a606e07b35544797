package model

import (
	"encoding/json"
	"time"
)

// AuthType identifies an authenticator protocol.
type AuthType string

const (
	// AuthTypeWebAuthnPortable is a roaming (cross-platform) WebAuthn key.
	AuthTypeWebAuthnPortable AuthType = "webauthn_portable"
	// AuthTypeWebAuthnPlatform is a platform-bound WebAuthn authenticator.
	AuthTypeWebAuthnPlatform AuthType = "webauthn_platform"
	// AuthTypeTOTP is a time-based one-time password factor.
	AuthTypeTOTP AuthType = "totp"
	// AuthTypeEmail is a one-time code delivered by email.
	AuthTypeEmail AuthType = "email"
)

// AuthPurpose scopes what a verified challenge may be consumed for.
type AuthPurpose string

const (
	AuthPurposeLogin          AuthPurpose = "login"
	AuthPurposeSignup         AuthPurpose = "signup"
	AuthPurposeRecover        AuthPurpose = "recover"
	AuthPurposeAccessKeyStore AuthPurpose = "access_key_store"
)

// AuthenticatorStatus describes an authenticator's enrollment state.
type AuthenticatorStatus string

const (
	AuthenticatorStatusRegistering AuthenticatorStatus = "registering"
	AuthenticatorStatusActive      AuthenticatorStatus = "active"
	AuthenticatorStatusRevoked     AuthenticatorStatus = "revoked"
)

// Authenticator is one enrolled multi-factor credential. Data holds the
// factor-specific material (WebAuthn credential, TOTP secret, address) and
// is opaque to everything but the matching authenticator server.
type Authenticator struct {
	ID          string              `json:"id"`
	Type        AuthType            `json:"type"`
	Description string              `json:"description,omitempty"`
	Status      AuthenticatorStatus `json:"status"`
	Purposes    []AuthPurpose       `json:"purposes"`
	Created     time.Time           `json:"created"`
	LastUsed    time.Time           `json:"last_used,omitzero"`
	Data        json.RawMessage     `json:"data,omitempty"`
}

// SupportsPurpose reports whether the authenticator may serve challenges
// for the given purpose.
func (a *Authenticator) SupportsPurpose(purpose AuthPurpose) bool {
	for _, p := range a.Purposes {
		if p == purpose {
			return true
		}
	}
	return false
}

// AuthRequest is a single server-issued challenge. It only moves forward:
// issued, then verified or expired, then consumed. Expiry is checked lazily
// at the next operation against the request.
type AuthRequest struct {
	ID              string          `json:"id"`
	AuthenticatorID string          `json:"authenticator_id"`
	Type            AuthType        `json:"type"`
	Purpose         AuthPurpose     `json:"purpose"`
	Token           string          `json:"token"`
	Created         time.Time       `json:"created"`
	Expires         time.Time       `json:"expires"`
	Verified        *time.Time      `json:"verified,omitempty"`
	Consumed        bool            `json:"consumed,omitempty"`
	Tries           int             `json:"tries"`
	State           json.RawMessage `json:"state,omitempty"`
}

// Expired reports whether the request's validity window has passed.
func (r *AuthRequest) Expired(now time.Time) bool {
	return now.After(r.Expires)
}

// CanVerify reports whether the request may still transition to verified.
func (r *AuthRequest) CanVerify(now time.Time) bool {
	return r.Verified == nil && !r.Consumed && !r.Expired(now)
}

// CanConsume reports whether the request holds exactly one pending use.
func (r *AuthRequest) CanConsume(now time.Time) bool {
	return r.Verified != nil && !r.Consumed && !r.Expired(now)
}
