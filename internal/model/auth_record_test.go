package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRecordID(t *testing.T) {
	id := RecordID("User@Example.com")

	assert.Equal(t, id, RecordID("user@example.com"))
	assert.Equal(t, id, RecordID("  user@example.com  "))
	assert.NotEqual(t, id, RecordID("other@example.com"))
	assert.Len(t, id, 64)
}

func TestNewAuthRecord(t *testing.T) {
	record := NewAuthRecord(" User@Example.COM ", recordNow)

	assert.Equal(t, "user@example.com", record.Email)
	assert.Equal(t, RecordID("user@example.com"), record.ID)
	assert.Equal(t, AccountStatusUnverified, record.Status)
	assert.Equal(t, recordNow, record.Created)
}

func loginAuthenticator(id string, status AuthenticatorStatus) Authenticator {
	return Authenticator{
		ID:       id,
		Type:     AuthTypeTOTP,
		Status:   status,
		Purposes: []AuthPurpose{AuthPurposeLogin},
	}
}

func TestOrderedAuthenticators(t *testing.T) {
	record := NewAuthRecord("a@x.com", recordNow)
	record.Authenticators = []Authenticator{
		loginAuthenticator("a", AuthenticatorStatusActive),
		loginAuthenticator("b", AuthenticatorStatusActive),
		loginAuthenticator("c", AuthenticatorStatusRegistering),
		{
			ID:       "d",
			Type:     AuthTypeEmail,
			Status:   AuthenticatorStatusActive,
			Purposes: []AuthPurpose{AuthPurposeRecover},
		},
	}
	record.MFAOrder = []string{"b", "a"}

	ordered := record.OrderedAuthenticators(AuthPurposeLogin)
	require.Len(t, ordered, 2)
	assert.Equal(t, "b", ordered[0].ID)
	assert.Equal(t, "a", ordered[1].ID)

	// unranked factors keep enrollment order behind ranked ones
	record.MFAOrder = []string{"b"}
	record.Authenticators = append(record.Authenticators, loginAuthenticator("e", AuthenticatorStatusActive))

	ordered = record.OrderedAuthenticators(AuthPurposeLogin)
	require.Len(t, ordered, 3)
	assert.Equal(t, "b", ordered[0].ID)
	assert.Equal(t, "a", ordered[1].ID)
	assert.Equal(t, "e", ordered[2].ID)

	assert.Empty(t, record.OrderedAuthenticators(AuthPurposeSignup))
}

func TestRemoveAuthenticatorCascades(t *testing.T) {
	record := NewAuthRecord("a@x.com", recordNow)
	record.Authenticators = []Authenticator{
		loginAuthenticator("a", AuthenticatorStatusActive),
		loginAuthenticator("b", AuthenticatorStatusActive),
	}
	record.MFAOrder = []string{"a", "b"}
	record.AuthRequests = []AuthRequest{
		{ID: "r1", AuthenticatorID: "a"},
		{ID: "r2", AuthenticatorID: "b"},
	}

	require.True(t, record.RemoveAuthenticator("a"))

	assert.Nil(t, record.Authenticator("a"))
	assert.Equal(t, []string{"b"}, record.MFAOrder)
	require.Len(t, record.AuthRequests, 1)
	assert.Equal(t, "r2", record.AuthRequests[0].ID)

	assert.False(t, record.RemoveAuthenticator("a"))
}

func TestAuthRequestTransitions(t *testing.T) {
	request := AuthRequest{
		ID:      "r1",
		Expires: recordNow.Add(10 * time.Minute),
	}

	assert.True(t, request.CanVerify(recordNow))
	assert.False(t, request.CanConsume(recordNow))

	verified := recordNow.Add(time.Minute)
	request.Verified = &verified

	assert.False(t, request.CanVerify(recordNow))
	assert.True(t, request.CanConsume(recordNow))

	request.Consumed = true

	assert.False(t, request.CanVerify(recordNow))
	assert.False(t, request.CanConsume(recordNow))
}

func TestAuthRequestExpiry(t *testing.T) {
	request := AuthRequest{
		ID:      "r1",
		Expires: recordNow.Add(10 * time.Minute),
	}
	late := recordNow.Add(11 * time.Minute)

	assert.False(t, request.CanVerify(late))

	verified := recordNow
	request.Verified = &verified
	assert.False(t, request.CanConsume(late))
}

func TestAuthRequestByToken(t *testing.T) {
	record := NewAuthRecord("a@x.com", recordNow)
	record.AuthRequests = []AuthRequest{
		{ID: "r1", Token: "tok", Purpose: AuthPurposeLogin},
	}

	require.NotNil(t, record.AuthRequestByToken("tok", AuthPurposeLogin))
	assert.Nil(t, record.AuthRequestByToken("tok", AuthPurposeSignup))
	assert.Nil(t, record.AuthRequestByToken("other", AuthPurposeLogin))
}

func TestPurgeStaleSRPSessions(t *testing.T) {
	record := NewAuthRecord("a@x.com", recordNow)
	record.SRPSessions = []SRPSession{
		{ID: "live", Expires: recordNow.Add(time.Minute)},
		{ID: "expired", Expires: recordNow.Add(-time.Minute)},
		{ID: "consumed", Expires: recordNow.Add(time.Minute), Consumed: true},
	}

	record.PurgeStaleSRPSessions(recordNow)

	require.Len(t, record.SRPSessions, 1)
	assert.Equal(t, "live", record.SRPSessions[0].ID)
}

func TestTrustDevice(t *testing.T) {
	record := NewAuthRecord("a@x.com", recordNow)

	record.TrustDevice(DeviceInfo{ID: "d1", Platform: "ios"})
	record.TrustDevice(DeviceInfo{ID: "d2", Platform: "web"})
	record.TrustDevice(DeviceInfo{ID: "d1", Platform: "android"})

	require.Len(t, record.TrustedDevices, 2)
	assert.Equal(t, "android", record.TrustedDevices[0].Platform)
}
