package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// AuthRecordStore defines persistence operations for authentication records.
// Save applies optimistic concurrency: it fails with ErrConflict when the
// stored revision differs from the one the record was read at.
type AuthRecordStore interface {
	Get(ctx context.Context, id string) (AuthRecord, error)
	Create(ctx context.Context, record AuthRecord) (AuthRecord, error)
	Save(ctx context.Context, record AuthRecord) (AuthRecord, error)
}

// AccountStatus describes the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusUnverified AccountStatus = "unverified"
	AccountStatusActive     AccountStatus = "active"
	AccountStatusBlocked    AccountStatus = "blocked"
	AccountStatusDeleted    AccountStatus = "deleted"
)

// KeyParams are the key derivation parameters stored on a record. The salt
// is generated lazily on first derivation and is immutable afterwards.
type KeyParams struct {
	Algorithm  string `json:"algorithm"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	KeySize    int    `json:"key_size"`
}

// DeviceInfo identifies a client device.
type DeviceInfo struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	Description string `json:"description"`
	UserAgent   string `json:"user_agent"`
}

// SessionInfo is a finalized, authenticated session.
type SessionInfo struct {
	ID          string     `json:"id"`
	Device      DeviceInfo `json:"device"`
	Created     time.Time  `json:"created"`
	Expires     time.Time  `json:"expires"`
	LastUsed    time.Time  `json:"last_used"`
	RefreshHash []byte     `json:"refresh_hash,omitempty"`
	Revoked     bool       `json:"revoked,omitempty"`
}

// KeyStoreEntryInfo points at a server-held key store payload. The payload
// itself lives in blob storage under the entry id.
type KeyStoreEntryInfo struct {
	ID              string    `json:"id"`
	AuthenticatorID string    `json:"authenticator_id"`
	Created         time.Time `json:"created"`
}

// InviteRef points at a pending organization invite.
type InviteRef struct {
	ID      string `json:"id"`
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name"`
}

// AuthRecord holds the authentication state for one account: the SRP
// verifier and key derivation parameters, enrolled authenticators, pending
// challenges and exchange sessions, live sessions and invite references.
type AuthRecord struct {
	ID              string              `json:"id"`
	Email           string              `json:"email"`
	Created         time.Time           `json:"created"`
	AccountID       string              `json:"account_id,omitempty"`
	Status          AccountStatus       `json:"status"`
	Verifier        []byte              `json:"verifier,omitempty"`
	KeyParams       KeyParams           `json:"key_params"`
	TrustedDevices  []DeviceInfo        `json:"trusted_devices"`
	Authenticators  []Authenticator     `json:"authenticators"`
	AuthRequests    []AuthRequest       `json:"auth_requests"`
	KeyStoreEntries []KeyStoreEntryInfo `json:"key_store_entries"`
	Sessions        []SessionInfo       `json:"sessions"`
	SRPSessions     []SRPSession        `json:"srp_sessions"`
	MFAOrder        []string            `json:"mfa_order"`
	Invites         []InviteRef         `json:"invites"`

	Revision int64 `json:"-"`
}

// NormalizeEmail canonicalizes an email address for id derivation.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RecordID derives the deterministic record id for an email address.
func RecordID(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

// NewAuthRecord creates an unverified record for the given email with its
// id already derived.
func NewAuthRecord(email string, now time.Time) AuthRecord {
	return AuthRecord{
		ID:      RecordID(email),
		Email:   NormalizeEmail(email),
		Created: now,
		Status:  AccountStatusUnverified,
	}
}

// Authenticator returns the enrolled authenticator with the given id.
func (r *AuthRecord) Authenticator(id string) *Authenticator {
	for i := range r.Authenticators {
		if r.Authenticators[i].ID == id {
			return &r.Authenticators[i]
		}
	}
	return nil
}

// AuthRequest returns the pending request with the given id.
func (r *AuthRecord) AuthRequest(id string) *AuthRequest {
	for i := range r.AuthRequests {
		if r.AuthRequests[i].ID == id {
			return &r.AuthRequests[i]
		}
	}
	return nil
}

// AuthRequestByToken returns the request matching token and purpose.
func (r *AuthRecord) AuthRequestByToken(token string, purpose AuthPurpose) *AuthRequest {
	for i := range r.AuthRequests {
		if r.AuthRequests[i].Token == token && r.AuthRequests[i].Purpose == purpose {
			return &r.AuthRequests[i]
		}
	}
	return nil
}

// RemoveAuthenticator removes an enrolled authenticator, every pending
// request referencing it, and its entry in the factor order.
func (r *AuthRecord) RemoveAuthenticator(id string) bool {
	found := false
	authenticators := r.Authenticators[:0]
	for _, a := range r.Authenticators {
		if a.ID == id {
			found = true
			continue
		}
		authenticators = append(authenticators, a)
	}
	if !found {
		return false
	}
	r.Authenticators = authenticators

	requests := r.AuthRequests[:0]
	for _, req := range r.AuthRequests {
		if req.AuthenticatorID == id {
			continue
		}
		requests = append(requests, req)
	}
	r.AuthRequests = requests

	order := r.MFAOrder[:0]
	for _, entry := range r.MFAOrder {
		if entry == id {
			continue
		}
		order = append(order, entry)
	}
	r.MFAOrder = order
	return true
}

// RemoveAuthRequest deletes a pending request by id.
func (r *AuthRecord) RemoveAuthRequest(id string) {
	requests := r.AuthRequests[:0]
	for _, req := range r.AuthRequests {
		if req.ID == id {
			continue
		}
		requests = append(requests, req)
	}
	r.AuthRequests = requests
}

// OrderedAuthenticators returns active authenticators usable for the given
// purpose, ranked by the record's factor order. Authenticators missing from
// the order list come last, in enrollment order.
func (r *AuthRecord) OrderedAuthenticators(purpose AuthPurpose) []Authenticator {
	rank := make(map[string]int, len(r.MFAOrder))
	for i, id := range r.MFAOrder {
		rank[id] = i
	}

	var ordered []Authenticator
	for _, a := range r.Authenticators {
		if a.Status == AuthenticatorStatusActive && a.SupportsPurpose(purpose) {
			ordered = append(ordered, a)
		}
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0; j-- {
			if authenticatorRank(rank, ordered[j], len(r.MFAOrder)) < authenticatorRank(rank, ordered[j-1], len(r.MFAOrder)) {
				ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
			}
		}
	}
	return ordered
}

func authenticatorRank(rank map[string]int, a Authenticator, max int) int {
	if i, ok := rank[a.ID]; ok {
		return i
	}
	return max
}

// KeyStoreEntry returns the key store entry with the given id.
func (r *AuthRecord) KeyStoreEntry(id string) *KeyStoreEntryInfo {
	for i := range r.KeyStoreEntries {
		if r.KeyStoreEntries[i].ID == id {
			return &r.KeyStoreEntries[i]
		}
	}
	return nil
}

// RemoveKeyStoreEntry drops the key store entry with the given id.
func (r *AuthRecord) RemoveKeyStoreEntry(id string) bool {
	found := false
	entries := r.KeyStoreEntries[:0]
	for _, e := range r.KeyStoreEntries {
		if e.ID == id {
			found = true
			continue
		}
		entries = append(entries, e)
	}
	r.KeyStoreEntries = entries
	return found
}

// TrustDevice records a device as trusted, replacing a previous entry with
// the same id.
func (r *AuthRecord) TrustDevice(device DeviceInfo) {
	for i := range r.TrustedDevices {
		if r.TrustedDevices[i].ID == device.ID {
			r.TrustedDevices[i] = device
			return
		}
	}
	r.TrustedDevices = append(r.TrustedDevices, device)
}

// Session returns the session with the given id.
func (r *AuthRecord) Session(id string) *SessionInfo {
	for i := range r.Sessions {
		if r.Sessions[i].ID == id {
			return &r.Sessions[i]
		}
	}
	return nil
}

// SRPSession returns the exchange session with the given id.
func (r *AuthRecord) SRPSession(id string) *SRPSession {
	for i := range r.SRPSessions {
		if r.SRPSessions[i].ID == id {
			return &r.SRPSessions[i]
		}
	}
	return nil
}

// PurgeStaleSRPSessions drops consumed and expired exchange sessions.
// Cleanup ownership lies with the negotiator, not the storage layer.
func (r *AuthRecord) PurgeStaleSRPSessions(now time.Time) {
	sessions := r.SRPSessions[:0]
	for _, s := range r.SRPSessions {
		if s.Consumed || now.After(s.Expires) {
			continue
		}
		sessions = append(sessions, s)
	}
	r.SRPSessions = sessions
}

// RemoveInvite drops the invite reference with the given id, if present.
func (r *AuthRecord) RemoveInvite(id string) {
	invites := r.Invites[:0]
	for _, inv := range r.Invites {
		if inv.ID == id {
			continue
		}
		invites = append(invites, inv)
	}
	r.Invites = invites
}
