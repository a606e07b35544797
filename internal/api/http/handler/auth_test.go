package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpctx "github.com/dtroode/keyhaven-identity/internal/api/http/context"
	"github.com/dtroode/keyhaven-identity/internal/model"
	"github.com/dtroode/keyhaven-identity/internal/service"
	"github.com/dtroode/keyhaven-identity/internal/testutil"
)

// fakeSRPService scripts exchange outcomes.
type fakeSRPService struct {
	loginParams service.LoginParams
	loginResult service.LoginResult
	err         error
	lastEmail   string
}

func (f *fakeSRPService) StartRegistration(_ context.Context, email string) (service.RegistrationParams, error) {
	f.lastEmail = email
	return service.RegistrationParams{KeyParams: model.KeyParams{Algorithm: "PBKDF2", Iterations: 1000}}, f.err
}

func (f *fakeSRPService) CompleteRegistration(_ context.Context, email string, _ []byte, _ string) error {
	f.lastEmail = email
	return f.err
}

func (f *fakeSRPService) StartLogin(_ context.Context, email string) (service.LoginParams, error) {
	f.lastEmail = email
	return f.loginParams, f.err
}

func (f *fakeSRPService) CompleteLogin(_ context.Context, email, _ string, _, _ []byte, _ model.DeviceInfo, _ string) (service.LoginResult, error) {
	f.lastEmail = email
	return f.loginResult, f.err
}

type fakeSessionService struct {
	pair          service.TokenPair
	err           error
	revokedRecord string
	revokedID     string
}

func (f *fakeSessionService) Refresh(_ context.Context, _ string) (service.TokenPair, error) {
	return f.pair, f.err
}

func (f *fakeSessionService) Revoke(_ context.Context, recordID, sessionID string) error {
	f.revokedRecord = recordID
	f.revokedID = sessionID
	return f.err
}

func newAuthHandler(srp *fakeSRPService, session *fakeSessionService) *Auth {
	return NewAuth(srp, session, httpctx.NewManager(), testutil.MakeNoopLogger())
}

func TestAuth_LoginStart(t *testing.T) {
	srp := &fakeSRPService{
		loginParams: service.LoginParams{SessionID: "neg-1", B: []byte{1, 2}},
	}
	h := newAuthHandler(srp, &fakeSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login/start",
		strings.NewReader(`{"email":"User@Example.com"}`))
	w := httptest.NewRecorder()
	h.LoginStart(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User@Example.com", srp.lastEmail)

	var params service.LoginParams
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &params))
	assert.Equal(t, "neg-1", params.SessionID)
}

func TestAuth_LoginComplete_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{model.ErrVerificationFailed, http.StatusUnauthorized},
		{model.ErrMFARequired, http.StatusForbidden},
		{model.ErrInvalidState, http.StatusUnprocessableEntity},
		{model.ErrConflict, http.StatusConflict},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		h := newAuthHandler(&fakeSRPService{err: tc.err}, &fakeSessionService{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login/complete",
			strings.NewReader(`{"email":"a@x.com","session_id":"neg-1"}`))
		w := httptest.NewRecorder()
		h.LoginComplete(w, req)

		assert.Equal(t, tc.status, w.Code, "error %v", tc.err)
	}
}

func TestAuth_LoginComplete_MFARequiredBody(t *testing.T) {
	h := newAuthHandler(&fakeSRPService{err: model.ErrMFARequired}, &fakeSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login/complete",
		strings.NewReader(`{"email":"a@x.com"}`))
	w := httptest.NewRecorder()
	h.LoginComplete(w, req)

	var resp struct {
		MFARequired bool `json:"mfa_required"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.MFARequired)
}

func TestAuth_MalformedBody(t *testing.T) {
	h := newAuthHandler(&fakeSRPService{}, &fakeSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login/start",
		strings.NewReader(`{broken`))
	w := httptest.NewRecorder()
	h.LoginStart(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth_Revoke(t *testing.T) {
	session := &fakeSessionService{}
	h := newAuthHandler(&fakeSRPService{}, session)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/revoke",
		strings.NewReader(`{"session_id":"sess-1"}`))
	req = req.WithContext(httpctx.NewManager().SetRecordIDToContext(req.Context(), "record-1"))
	w := httptest.NewRecorder()
	h.Revoke(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "record-1", session.revokedRecord)
	assert.Equal(t, "sess-1", session.revokedID)
}

func TestAuth_RevokeUnauthenticated(t *testing.T) {
	h := newAuthHandler(&fakeSRPService{}, &fakeSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/revoke",
		strings.NewReader(`{"session_id":"sess-1"}`))
	w := httptest.NewRecorder()
	h.Revoke(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
