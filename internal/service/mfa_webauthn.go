package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

// webauthnProvider is the slice of *webauthn.WebAuthn the server uses,
// extracted so tests can substitute it.
type webauthnProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type webauthnParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultWebauthnParser struct{}

func (defaultWebauthnParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultWebauthnParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// webauthnServer handles one WebAuthn authenticator class. The portable
// variant requires cross-platform (roaming) keys, the platform variant
// requires platform-bound ones; everything else is shared.
type webauthnServer struct {
	typ        model.AuthType
	attachment protocol.AuthenticatorAttachment
	provider   webauthnProvider
	parser     webauthnParser
}

func NewWebAuthnServer(typ model.AuthType, provider *webauthn.WebAuthn) (AuthServer, error) {
	var attachment protocol.AuthenticatorAttachment
	switch typ {
	case model.AuthTypeWebAuthnPortable:
		attachment = protocol.CrossPlatform
	case model.AuthTypeWebAuthnPlatform:
		attachment = protocol.Platform
	default:
		return nil, fmt.Errorf("%w: %q is not a webauthn authenticator type", model.ErrUnsupported, typ)
	}

	return &webauthnServer{
		typ:        typ,
		attachment: attachment,
		provider:   provider,
		parser:     defaultWebauthnParser{},
	}, nil
}

func (s *webauthnServer) Type() model.AuthType {
	return s.typ
}

type webauthnData struct {
	// Session holds the in-flight registration session until the client
	// responds; it is dropped once the credential is stored.
	Session    *webauthn.SessionData `json:"session,omitempty"`
	Credential *webauthn.Credential  `json:"credential,omitempty"`
}

// webauthnUser adapts an auth record plus one stored credential to the
// webauthn.User interface.
type webauthnUser struct {
	record      *model.AuthRecord
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.record.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.record.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.record.Email
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *webauthnServer) InitRegistration(_ context.Context, record *model.AuthRecord, authenticator *model.Authenticator, _ json.RawMessage) (json.RawMessage, error) {
	user := &webauthnUser{record: record}

	creation, session, err := s.provider.BeginRegistration(user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: s.attachment,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin webauthn registration: %w", err)
	}

	data, err := json.Marshal(webauthnData{Session: session})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webauthn data: %w", err)
	}
	authenticator.Data = data

	payload, err := json.Marshal(creation)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal creation options: %w", err)
	}
	return payload, nil
}

func (s *webauthnServer) CompleteRegistration(_ context.Context, record *model.AuthRecord, authenticator *model.Authenticator, clientData json.RawMessage) error {
	var data webauthnData
	if err := json.Unmarshal(authenticator.Data, &data); err != nil {
		return fmt.Errorf("failed to unmarshal webauthn data: %w", err)
	}
	if data.Session == nil {
		return fmt.Errorf("no pending registration session: %w", model.ErrInvalidState)
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(clientData)
	if err != nil {
		return fmt.Errorf("failed to parse credential response: %w", err)
	}

	user := &webauthnUser{record: record}
	credential, err := s.provider.CreateCredential(user, *data.Session, parsed)
	if err != nil {
		return fmt.Errorf("%w: %s", model.ErrVerificationFailed, err.Error())
	}

	updated, err := json.Marshal(webauthnData{Credential: credential})
	if err != nil {
		return fmt.Errorf("failed to marshal webauthn data: %w", err)
	}
	authenticator.Data = updated
	return nil
}

func (s *webauthnServer) InitRequest(_ context.Context, record *model.AuthRecord, authenticator *model.Authenticator, request *model.AuthRequest) (json.RawMessage, error) {
	user, _, err := s.loadUser(record, authenticator)
	if err != nil {
		return nil, err
	}

	assertion, session, err := s.provider.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("failed to begin webauthn login: %w", err)
	}

	state, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webauthn session: %w", err)
	}
	request.State = state

	payload, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assertion options: %w", err)
	}
	return payload, nil
}

func (s *webauthnServer) VerifyRequest(_ context.Context, record *model.AuthRecord, authenticator *model.Authenticator, request *model.AuthRequest, proof json.RawMessage) (bool, error) {
	user, data, err := s.loadUser(record, authenticator)
	if err != nil {
		return false, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(request.State, &session); err != nil {
		return false, fmt.Errorf("failed to unmarshal webauthn session: %w", err)
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(proof)
	if err != nil {
		return false, fmt.Errorf("failed to parse assertion response: %w", err)
	}

	credential, err := s.provider.ValidateLogin(user, session, parsed)
	if err != nil {
		// assertion rejected; a mismatch, not an engine failure
		return false, nil
	}

	// keep the updated sign counter
	data.Credential = credential
	updated, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("failed to marshal webauthn data: %w", err)
	}
	authenticator.Data = updated
	return true, nil
}

func (s *webauthnServer) loadUser(record *model.AuthRecord, authenticator *model.Authenticator) (*webauthnUser, webauthnData, error) {
	var data webauthnData
	if err := json.Unmarshal(authenticator.Data, &data); err != nil {
		return nil, webauthnData{}, fmt.Errorf("failed to unmarshal webauthn data: %w", err)
	}
	if data.Credential == nil {
		return nil, webauthnData{}, fmt.Errorf("no webauthn credential enrolled: %w", model.ErrInvalidState)
	}
	return &webauthnUser{
		record:      record,
		credentials: []webauthn.Credential{*data.Credential},
	}, data, nil
}
