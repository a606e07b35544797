package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// AuthServer implements one authenticator protocol. Implementations read and
// write the opaque Data/State payloads on the authenticator and request; the
// engine never interprets them.
type AuthServer interface {
	Type() model.AuthType
	// InitRegistration prepares a registration challenge for a new
	// authenticator and returns the client-facing payload.
	InitRegistration(ctx context.Context, record *model.AuthRecord, authenticator *model.Authenticator, params json.RawMessage) (json.RawMessage, error)
	// CompleteRegistration checks the client's registration response.
	CompleteRegistration(ctx context.Context, record *model.AuthRecord, authenticator *model.Authenticator, clientData json.RawMessage) error
	// InitRequest attaches challenge state to a freshly issued request and
	// returns the client-facing payload.
	InitRequest(ctx context.Context, record *model.AuthRecord, authenticator *model.Authenticator, request *model.AuthRequest) (json.RawMessage, error)
	// VerifyRequest checks the client's proof. A false return without error
	// means a clean mismatch.
	VerifyRequest(ctx context.Context, record *model.AuthRecord, authenticator *model.Authenticator, request *model.AuthRequest, proof json.RawMessage) (bool, error)
}

// MFA drives authenticator enrollment and the challenge request state
// machine: issued, then verified or expired, then consumed. Expiry is
// checked lazily on the next operation against a request.
type MFA struct {
	recordStore model.AuthRecordStore
	auth        *Auth
	servers     map[model.AuthType]AuthServer
	requestTTL  time.Duration
	maxTries    int
	logger      *logger.Logger
	now         func() time.Time
}

func NewMFA(
	recordStore model.AuthRecordStore,
	auth *Auth,
	requestTTL time.Duration,
	maxTries int,
	logger *logger.Logger,
	servers ...AuthServer,
) *MFA {
	byType := make(map[model.AuthType]AuthServer, len(servers))
	for _, s := range servers {
		byType[s.Type()] = s
	}
	return &MFA{
		recordStore: recordStore,
		auth:        auth,
		servers:     byType,
		requestTTL:  requestTTL,
		maxTries:    maxTries,
		logger:      logger,
		now:         time.Now,
	}
}

func (m *MFA) server(typ model.AuthType) (AuthServer, error) {
	s, ok := m.servers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: no server for authenticator type %q", model.ErrUnsupported, typ)
	}
	return s, nil
}

// RegistrationChallenge is the client-facing half of a started enrollment.
type RegistrationChallenge struct {
	AuthenticatorID string          `json:"authenticator_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// StartRegisterAuthenticator begins enrolling a new authenticator on the
// record for email. The authenticator stays in registering state until the
// client completes the type-specific handshake.
func (m *MFA) StartRegisterAuthenticator(
	ctx context.Context,
	email string,
	typ model.AuthType,
	purposes []model.AuthPurpose,
	description string,
	params json.RawMessage,
) (RegistrationChallenge, error) {
	m.logger.Debug("MFA service: starting authenticator registration",
		"email", email,
		"type", string(typ))

	server, err := m.server(typ)
	if err != nil {
		return RegistrationChallenge{}, err
	}

	record, err := m.auth.GetOrCreateRecord(ctx, email)
	if err != nil {
		return RegistrationChallenge{}, err
	}

	authenticator := model.Authenticator{
		ID:          uuid.NewString(),
		Type:        typ,
		Description: description,
		Status:      model.AuthenticatorStatusRegistering,
		Purposes:    purposes,
		Created:     m.now(),
	}

	payload, err := server.InitRegistration(ctx, &record, &authenticator, params)
	if err != nil {
		m.logger.Error("MFA service: failed to init registration",
			"email", email,
			"type", string(typ),
			"error", err.Error())
		return RegistrationChallenge{}, fmt.Errorf("failed to init registration: %w", err)
	}

	record.Authenticators = append(record.Authenticators, authenticator)

	if _, err := m.recordStore.Save(ctx, record); err != nil {
		return RegistrationChallenge{}, fmt.Errorf("failed to save auth record: %w", err)
	}

	m.logger.Info("MFA service: authenticator registration started",
		"email", email,
		"authenticator_id", authenticator.ID)

	return RegistrationChallenge{AuthenticatorID: authenticator.ID, Payload: payload}, nil
}

// CompleteRegisterAuthenticator finishes enrollment: the server validates the
// client response and the authenticator becomes active.
func (m *MFA) CompleteRegisterAuthenticator(ctx context.Context, email, authenticatorID string, clientData json.RawMessage) error {
	record, err := m.auth.GetRecord(ctx, email)
	if err != nil {
		return err
	}

	authenticator := record.Authenticator(authenticatorID)
	if authenticator == nil {
		return fmt.Errorf("authenticator %q: %w", authenticatorID, model.ErrNotFound)
	}
	if authenticator.Status != model.AuthenticatorStatusRegistering {
		return fmt.Errorf("authenticator %q is not registering: %w", authenticatorID, model.ErrInvalidState)
	}

	server, err := m.server(authenticator.Type)
	if err != nil {
		return err
	}

	if err := server.CompleteRegistration(ctx, &record, authenticator, clientData); err != nil {
		m.logger.Info("MFA service: authenticator registration rejected",
			"email", email,
			"authenticator_id", authenticatorID,
			"error", err.Error())
		return fmt.Errorf("failed to complete registration: %w", err)
	}

	authenticator.Status = model.AuthenticatorStatusActive
	// new factors go to the back of the order; ranking stays owner-controlled
	if !containsID(record.MFAOrder, authenticatorID) {
		record.MFAOrder = append(record.MFAOrder, authenticatorID)
	}

	if _, err := m.recordStore.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}

	m.logger.Info("MFA service: authenticator registered",
		"email", email,
		"authenticator_id", authenticatorID)
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Challenge is the client-facing half of an issued request.
type Challenge struct {
	RequestID       string          `json:"request_id"`
	AuthenticatorID string          `json:"authenticator_id"`
	Type            model.AuthType  `json:"type"`
	Expires         time.Time       `json:"expires"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// StartRequest issues a challenge against one of the record's enrolled
// authenticators. With an empty authenticatorID the first active factor in
// the record's order is used; clients fall back to the next factor by
// passing its id explicitly.
func (m *MFA) StartRequest(ctx context.Context, email string, purpose model.AuthPurpose, authenticatorID string) (Challenge, error) {
	record, err := m.auth.GetOrCreateRecord(ctx, email)
	if err != nil {
		return Challenge{}, err
	}

	var authenticator *model.Authenticator
	if authenticatorID == "" {
		ordered := record.OrderedAuthenticators(purpose)
		if len(ordered) == 0 {
			return Challenge{}, fmt.Errorf("no authenticator for purpose %q: %w", purpose, model.ErrNotFound)
		}
		authenticator = record.Authenticator(ordered[0].ID)
	} else {
		authenticator = record.Authenticator(authenticatorID)
		if authenticator == nil {
			return Challenge{}, fmt.Errorf("authenticator %q: %w", authenticatorID, model.ErrNotFound)
		}
		if authenticator.Status != model.AuthenticatorStatusActive {
			return Challenge{}, fmt.Errorf("authenticator %q is not active: %w", authenticatorID, model.ErrInvalidState)
		}
		if !authenticator.SupportsPurpose(purpose) {
			return Challenge{}, fmt.Errorf("authenticator %q does not serve purpose %q: %w", authenticatorID, purpose, model.ErrInvalidState)
		}
	}

	now := m.now()
	request := model.AuthRequest{
		ID:              uuid.NewString(),
		AuthenticatorID: authenticator.ID,
		Type:            authenticator.Type,
		Purpose:         purpose,
		Token:           uuid.NewString(),
		Created:         now,
		Expires:         now.Add(m.requestTTL),
	}

	server, err := m.server(authenticator.Type)
	if err != nil {
		return Challenge{}, err
	}

	payload, err := server.InitRequest(ctx, &record, authenticator, &request)
	if err != nil {
		m.logger.Error("MFA service: failed to init request",
			"email", email,
			"authenticator_id", authenticator.ID,
			"error", err.Error())
		return Challenge{}, fmt.Errorf("failed to init request: %w", err)
	}

	record.AuthRequests = append(record.AuthRequests, request)

	if _, err := m.recordStore.Save(ctx, record); err != nil {
		return Challenge{}, fmt.Errorf("failed to save auth record: %w", err)
	}

	m.logger.Info("MFA service: challenge issued",
		"email", email,
		"request_id", request.ID,
		"type", string(authenticator.Type),
		"purpose", string(purpose))

	return Challenge{
		RequestID:       request.ID,
		AuthenticatorID: authenticator.ID,
		Type:            authenticator.Type,
		Expires:         request.Expires,
		Payload:         payload,
	}, nil
}

// VerifyRequest checks the client's proof against an issued request. On
// success the request transitions to verified and its single-use token is
// returned. Expired, consumed, or already-verified requests fail with
// ErrInvalidState; a proof mismatch fails with ErrVerificationFailed and
// burns one try.
func (m *MFA) VerifyRequest(ctx context.Context, email, requestID string, proof json.RawMessage) (string, error) {
	record, err := m.auth.GetRecord(ctx, email)
	if err != nil {
		return "", err
	}

	request := record.AuthRequest(requestID)
	if request == nil {
		return "", fmt.Errorf("auth request %q: %w", requestID, model.ErrNotFound)
	}

	now := m.now()
	if !request.CanVerify(now) {
		return "", fmt.Errorf("auth request %q cannot be verified: %w", requestID, model.ErrInvalidState)
	}
	if m.maxTries > 0 && request.Tries >= m.maxTries {
		return "", fmt.Errorf("auth request %q out of tries: %w", requestID, model.ErrInvalidState)
	}

	authenticator := record.Authenticator(request.AuthenticatorID)
	if authenticator == nil {
		return "", fmt.Errorf("authenticator %q: %w", request.AuthenticatorID, model.ErrNotFound)
	}

	server, err := m.server(authenticator.Type)
	if err != nil {
		return "", err
	}

	ok, err := server.VerifyRequest(ctx, &record, authenticator, request, proof)
	if err != nil {
		m.logger.Error("MFA service: verification error",
			"email", email,
			"request_id", requestID,
			"error", err.Error())
		return "", fmt.Errorf("failed to verify request: %w", err)
	}

	if !ok {
		request.Tries++
		if _, err := m.recordStore.Save(ctx, record); err != nil {
			return "", fmt.Errorf("failed to save auth record: %w", err)
		}
		m.logger.Info("MFA service: verification failed",
			"email", email,
			"request_id", requestID,
			"tries", request.Tries)
		return "", model.ErrVerificationFailed
	}

	verified := now
	request.Verified = &verified
	authenticator.LastUsed = now

	if _, err := m.recordStore.Save(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save auth record: %w", err)
	}

	m.logger.Info("MFA service: challenge verified",
		"email", email,
		"request_id", requestID)

	return request.Token, nil
}

// ConsumeToken spends a verified request token for the given purpose on an
// in-memory record. Exactly one consume per request succeeds; the caller
// persists the record. The request entry is dropped once consumed.
func (m *MFA) ConsumeToken(record *model.AuthRecord, token string, purpose model.AuthPurpose) error {
	request := record.AuthRequestByToken(token, purpose)
	if request == nil {
		return fmt.Errorf("no matching auth request token: %w", model.ErrVerificationFailed)
	}
	if !request.CanConsume(m.now()) {
		return fmt.Errorf("auth request %q cannot be consumed: %w", request.ID, model.ErrInvalidState)
	}

	request.Consumed = true
	record.RemoveAuthRequest(request.ID)
	return nil
}

// RemoveAuthenticator unenrolls an authenticator. Pending requests against
// it and its entry in the factor order go with it.
func (m *MFA) RemoveAuthenticator(ctx context.Context, email, authenticatorID string) error {
	record, err := m.auth.GetRecord(ctx, email)
	if err != nil {
		return err
	}

	if !record.RemoveAuthenticator(authenticatorID) {
		return fmt.Errorf("authenticator %q: %w", authenticatorID, model.ErrNotFound)
	}

	if _, err := m.recordStore.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}

	m.logger.Info("MFA service: authenticator removed",
		"email", email,
		"authenticator_id", authenticatorID)
	return nil
}

// SetOrder replaces the record's ranked factor list. Every id must name an
// enrolled authenticator; ordering is owned by the account, never inferred.
func (m *MFA) SetOrder(ctx context.Context, email string, order []string) error {
	record, err := m.auth.GetRecord(ctx, email)
	if err != nil {
		return err
	}

	for _, id := range order {
		if record.Authenticator(id) == nil {
			return fmt.Errorf("authenticator %q: %w", id, model.ErrNotFound)
		}
	}

	record.MFAOrder = order

	if _, err := m.recordStore.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}
	return nil
}
