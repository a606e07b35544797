package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/keyhaven-identity/internal/crypto"
	"github.com/dtroode/keyhaven-identity/internal/mocks"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// capturingMessenger records the last delivered code.
type capturingMessenger struct {
	mocks.Messenger
	lastRecipient string
	lastCode      string
}

func newCapturingMessenger() *capturingMessenger {
	m := &capturingMessenger{}
	m.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			m.lastRecipient = args.String(1)
			body := args.String(3)
			m.lastCode = strings.TrimSuffix(strings.TrimPrefix(body, "Your verification code is "), ".")
		}).
		Return(nil)
	return m
}

func codeProof(code string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"code":%q}`, code))
}

func TestEmailServer_Registration(t *testing.T) {
	ctx := context.Background()
	messenger := newCapturingMessenger()
	srv := NewEmailServer(messenger, crypto.NewProvider(), "noreply@keyhaven.app")

	record := model.NewAuthRecord("user@example.com", testNow())
	authenticator := &model.Authenticator{ID: "a1", Type: model.AuthTypeEmail}

	payload, err := srv.InitRegistration(ctx, &record, authenticator, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"user@example.com"}`, string(payload))
	require.Len(t, messenger.lastCode, emailCodeDigits)

	err = srv.CompleteRegistration(ctx, &record, authenticator, codeProof("999999x"))
	require.ErrorIs(t, err, model.ErrVerificationFailed)

	err = srv.CompleteRegistration(ctx, &record, authenticator, codeProof(messenger.lastCode))
	require.NoError(t, err)

	// the registration code does not survive enrollment
	var data emailData
	require.NoError(t, json.Unmarshal(authenticator.Data, &data))
	assert.Equal(t, "user@example.com", data.Email)
	assert.Empty(t, data.Code)
}

func TestEmailServer_RegistrationWithAddressOverride(t *testing.T) {
	ctx := context.Background()
	messenger := newCapturingMessenger()
	srv := NewEmailServer(messenger, crypto.NewProvider(), "noreply@keyhaven.app")

	record := model.NewAuthRecord("user@example.com", testNow())
	authenticator := &model.Authenticator{ID: "a1", Type: model.AuthTypeEmail}

	_, err := srv.InitRegistration(ctx, &record, authenticator,
		json.RawMessage(`{"email":"Recovery@Example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, "recovery@example.com", messenger.lastRecipient)
}

func TestEmailServer_RequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	messenger := newCapturingMessenger()
	srv := NewEmailServer(messenger, crypto.NewProvider(), "noreply@keyhaven.app")

	record := model.NewAuthRecord("user@example.com", testNow())
	authenticator := &model.Authenticator{
		ID:   "a1",
		Type: model.AuthTypeEmail,
		Data: json.RawMessage(`{"email":"user@example.com"}`),
	}
	request := &model.AuthRequest{ID: "req-1"}

	_, err := srv.InitRequest(ctx, &record, authenticator, request)
	require.NoError(t, err)
	require.NotEmpty(t, request.State)

	ok, err := srv.VerifyRequest(ctx, &record, authenticator, request, codeProof("000000x"))
	require.NoError(t, err)
	assert.False(t, ok)

	// codes are accepted with surrounding whitespace
	ok, err = srv.VerifyRequest(ctx, &record, authenticator, request, codeProof(" "+messenger.lastCode+" "))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmailServer_SendFailure(t *testing.T) {
	ctx := context.Background()
	messenger := &mocks.Messenger{}
	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError)

	srv := NewEmailServer(messenger, crypto.NewProvider(), "noreply@keyhaven.app")

	record := model.NewAuthRecord("user@example.com", testNow())
	authenticator := &model.Authenticator{ID: "a1", Type: model.AuthTypeEmail}

	_, err := srv.InitRegistration(ctx, &record, authenticator, nil)
	require.ErrorIs(t, err, assert.AnError)
}

func TestEmailServer_VerifyWithoutChallenge(t *testing.T) {
	ctx := context.Background()
	srv := NewEmailServer(newCapturingMessenger(), crypto.NewProvider(), "noreply@keyhaven.app")

	record := model.NewAuthRecord("user@example.com", testNow())
	authenticator := &model.Authenticator{
		ID:   "a1",
		Type: model.AuthTypeEmail,
		Data: json.RawMessage(`{"email":"user@example.com"}`),
	}
	request := &model.AuthRequest{ID: "req-1", State: json.RawMessage(`{}`)}

	_, err := srv.VerifyRequest(ctx, &record, authenticator, request, codeProof("123456"))
	require.ErrorIs(t, err, model.ErrInvalidState)
}
