package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

// fakeWebauthnProvider scripts provider outcomes and records the users it saw.
type fakeWebauthnProvider struct {
	credential  *webauthn.Credential
	loginErr    error
	lastUserID  []byte
	lastSession webauthn.SessionData
}

func (f *fakeWebauthnProvider) BeginRegistration(user webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	f.lastUserID = user.WebAuthnID()
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "reg-challenge", UserID: user.WebAuthnID()}, nil
}

func (f *fakeWebauthnProvider) CreateCredential(user webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	f.lastUserID = user.WebAuthnID()
	f.lastSession = session
	if f.credential == nil {
		return nil, errors.New("attestation rejected")
	}
	return f.credential, nil
}

func (f *fakeWebauthnProvider) BeginLogin(user webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	f.lastUserID = user.WebAuthnID()
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "login-challenge", UserID: user.WebAuthnID()}, nil
}

func (f *fakeWebauthnProvider) ValidateLogin(user webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	f.lastUserID = user.WebAuthnID()
	f.lastSession = session
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	credential := user.WebAuthnCredentials()[0]
	credential.Authenticator.SignCount++
	return &credential, nil
}

type fakeWebauthnParser struct{}

func (fakeWebauthnParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (fakeWebauthnParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return &protocol.ParsedCredentialAssertionData{}, nil
}

func newTestWebauthnServer(provider webauthnProvider) *webauthnServer {
	return &webauthnServer{
		typ:        model.AuthTypeWebAuthnPortable,
		attachment: protocol.CrossPlatform,
		provider:   provider,
		parser:     fakeWebauthnParser{},
	}
}

func TestNewWebAuthnServer_TypeMapping(t *testing.T) {
	srv, err := NewWebAuthnServer(model.AuthTypeWebAuthnPortable, nil)
	require.NoError(t, err)
	assert.Equal(t, model.AuthTypeWebAuthnPortable, srv.Type())

	srv, err = NewWebAuthnServer(model.AuthTypeWebAuthnPlatform, nil)
	require.NoError(t, err)
	assert.Equal(t, model.AuthTypeWebAuthnPlatform, srv.Type())

	_, err = NewWebAuthnServer(model.AuthTypeTOTP, nil)
	require.ErrorIs(t, err, model.ErrUnsupported)
}

func TestWebauthnServer_Registration(t *testing.T) {
	ctx := context.Background()
	provider := &fakeWebauthnProvider{
		credential: &webauthn.Credential{ID: []byte("cred-1")},
	}
	srv := newTestWebauthnServer(provider)

	record := model.NewAuthRecord("key@example.com", testNow())
	authenticator := &model.Authenticator{ID: "a1", Type: model.AuthTypeWebAuthnPortable}

	_, err := srv.InitRegistration(ctx, &record, authenticator, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(record.ID), provider.lastUserID)

	require.NoError(t, srv.CompleteRegistration(ctx, &record, authenticator, json.RawMessage(`{}`)))
	assert.Equal(t, "reg-challenge", provider.lastSession.Challenge)

	var data webauthnData
	require.NoError(t, json.Unmarshal(authenticator.Data, &data))
	assert.Nil(t, data.Session)
	require.NotNil(t, data.Credential)
	assert.Equal(t, []byte("cred-1"), data.Credential.ID)
}

func TestWebauthnServer_RegistrationRejected(t *testing.T) {
	ctx := context.Background()
	srv := newTestWebauthnServer(&fakeWebauthnProvider{})

	record := model.NewAuthRecord("key@example.com", testNow())
	authenticator := &model.Authenticator{ID: "a1", Type: model.AuthTypeWebAuthnPortable}

	_, err := srv.InitRegistration(ctx, &record, authenticator, nil)
	require.NoError(t, err)

	err = srv.CompleteRegistration(ctx, &record, authenticator, json.RawMessage(`{}`))
	require.ErrorIs(t, err, model.ErrVerificationFailed)
}

func TestWebauthnServer_CompleteRegistrationWithoutSession(t *testing.T) {
	ctx := context.Background()
	srv := newTestWebauthnServer(&fakeWebauthnProvider{})

	record := model.NewAuthRecord("key@example.com", testNow())
	authenticator := &model.Authenticator{
		ID:   "a1",
		Type: model.AuthTypeWebAuthnPortable,
		Data: json.RawMessage(`{}`),
	}

	err := srv.CompleteRegistration(ctx, &record, authenticator, json.RawMessage(`{}`))
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestWebauthnServer_RequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider := &fakeWebauthnProvider{
		credential: &webauthn.Credential{ID: []byte("cred-1")},
	}
	srv := newTestWebauthnServer(provider)

	record := model.NewAuthRecord("key@example.com", testNow())
	enrolled, err := json.Marshal(webauthnData{Credential: provider.credential})
	require.NoError(t, err)
	authenticator := &model.Authenticator{
		ID:   "a1",
		Type: model.AuthTypeWebAuthnPortable,
		Data: enrolled,
	}
	request := &model.AuthRequest{ID: "req-1"}

	_, err = srv.InitRequest(ctx, &record, authenticator, request)
	require.NoError(t, err)
	require.NotEmpty(t, request.State)

	ok, err := srv.VerifyRequest(ctx, &record, authenticator, request, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, ok)

	// the validated assertion's sign counter sticks
	var data webauthnData
	require.NoError(t, json.Unmarshal(authenticator.Data, &data))
	require.NotNil(t, data.Credential)
	assert.Equal(t, uint32(1), data.Credential.Authenticator.SignCount)
}

func TestWebauthnServer_RejectedAssertion(t *testing.T) {
	ctx := context.Background()
	provider := &fakeWebauthnProvider{
		credential: &webauthn.Credential{ID: []byte("cred-1")},
		loginErr:   errors.New("signature mismatch"),
	}
	srv := newTestWebauthnServer(provider)

	record := model.NewAuthRecord("key@example.com", testNow())
	enrolled, err := json.Marshal(webauthnData{Credential: provider.credential})
	require.NoError(t, err)
	authenticator := &model.Authenticator{
		ID:   "a1",
		Type: model.AuthTypeWebAuthnPortable,
		Data: enrolled,
	}
	request := &model.AuthRequest{ID: "req-1", State: json.RawMessage(`{"challenge":"login-challenge"}`)}

	ok, err := srv.VerifyRequest(ctx, &record, authenticator, request, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWebauthnServer_RequestWithoutCredential(t *testing.T) {
	ctx := context.Background()
	srv := newTestWebauthnServer(&fakeWebauthnProvider{})

	record := model.NewAuthRecord("key@example.com", testNow())
	authenticator := &model.Authenticator{
		ID:   "a1",
		Type: model.AuthTypeWebAuthnPortable,
		Data: json.RawMessage(`{}`),
	}

	_, err := srv.InitRequest(ctx, &record, authenticator, &model.AuthRequest{ID: "req-1"})
	require.ErrorIs(t, err, model.ErrInvalidState)
}
