package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/keyhaven-identity/internal/crypto"
	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
	"github.com/dtroode/keyhaven-identity/internal/srp"
)

const ephemeralSecretLength = 32

// SRP negotiates password-authenticated logins against stored verifiers.
// The password and the verifier preimage never cross the wire; every
// negotiation uses fresh ephemerals and is single-use.
type SRP struct {
	recordStore model.AuthRecordStore
	auth        *Auth
	mfa         *MFA
	session     *Session
	crypto      model.CryptoProvider
	group       srp.Group
	logger      *logger.Logger
	now         func() time.Time
}

func NewSRP(
	recordStore model.AuthRecordStore,
	auth *Auth,
	mfa *MFA,
	session *Session,
	cryptoProvider model.CryptoProvider,
	logger *logger.Logger,
) *SRP {
	return &SRP{
		recordStore: recordStore,
		auth:        auth,
		mfa:         mfa,
		session:     session,
		crypto:      cryptoProvider,
		group:       srp.Group4096,
		logger:      logger,
		now:         time.Now,
	}
}

// RegistrationParams tells the client how to derive its verifier.
type RegistrationParams struct {
	KeyParams model.KeyParams `json:"key_params"`
}

// StartRegistration prepares signup for an email: the record is created if
// needed and its salt fixed, so the client can derive the verifier.
func (s *SRP) StartRegistration(ctx context.Context, email string) (RegistrationParams, error) {
	s.logger.Debug("SRP service: starting registration",
		"email", email)

	record, err := s.auth.GetOrCreateRecord(ctx, email)
	if err != nil {
		return RegistrationParams{}, err
	}
	if record.Status == model.AccountStatusActive {
		return RegistrationParams{}, fmt.Errorf("account already registered: %w", model.ErrConflict)
	}

	if err := s.ensureSalt(ctx, &record, true); err != nil {
		return RegistrationParams{}, err
	}

	return RegistrationParams{KeyParams: record.KeyParams}, nil
}

// CompleteRegistration stores the client-derived verifier and activates the
// account. When the record already has signup-capable factors, a consumed
// signup request token is required; on a first-time record, enrolling the
// email factor is itself the out-of-band verification.
func (s *SRP) CompleteRegistration(ctx context.Context, email string, verifier []byte, signupToken string) error {
	record, err := s.auth.GetRecord(ctx, email)
	if err != nil {
		return err
	}
	if record.Status == model.AccountStatusActive {
		return fmt.Errorf("account already registered: %w", model.ErrConflict)
	}
	if record.Status == model.AccountStatusBlocked || record.Status == model.AccountStatusDeleted {
		return fmt.Errorf("account is %s: %w", record.Status, model.ErrInvalidState)
	}
	if len(verifier) == 0 {
		return fmt.Errorf("empty verifier: %w", model.ErrInvalidState)
	}

	if len(record.OrderedAuthenticators(model.AuthPurposeSignup)) > 0 {
		if err := s.mfa.ConsumeToken(&record, signupToken, model.AuthPurposeSignup); err != nil {
			return err
		}
	}

	record.Verifier = verifier
	record.Status = model.AccountStatusActive

	if _, err := s.recordStore.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}

	s.logger.Info("SRP service: registration completed",
		"record_id", record.ID)
	return nil
}

// LoginParams is the server's first negotiation message.
type LoginParams struct {
	SessionID string          `json:"session_id"`
	B         []byte          `json:"b"`
	KeyParams model.KeyParams `json:"key_params"`
}

// StartLogin opens a negotiation for an email. The record is created on a
// first attempt; an email without a registered verifier still gets a
// well-formed exchange that can only end in a generic verification failure,
// so the response does not reveal whether the account exists.
func (s *SRP) StartLogin(ctx context.Context, email string) (LoginParams, error) {
	s.logger.Debug("SRP service: starting login",
		"email", email)

	record, err := s.auth.GetOrCreateRecord(ctx, email)
	if err != nil {
		return LoginParams{}, err
	}

	record.PurgeStaleSRPSessions(s.now())

	if err := s.ensureSalt(ctx, &record, false); err != nil {
		return LoginParams{}, err
	}

	ephemeralSecret, err := s.crypto.RandomBytes(ephemeralSecretLength)
	if err != nil {
		return LoginParams{}, fmt.Errorf("failed to generate ephemeral secret: %w", err)
	}

	verifier := record.Verifier
	if len(verifier) == 0 {
		// decoy exchange for an unregistered email
		verifier, err = s.crypto.RandomBytes(ephemeralSecretLength)
		if err != nil {
			return LoginParams{}, fmt.Errorf("failed to generate decoy verifier: %w", err)
		}
	}

	server := srp.NewServer(s.group, verifier, ephemeralSecret)

	now := s.now()
	session := model.SRPSession{
		ID:              uuid.NewString(),
		Created:         now,
		Expires:         now.Add(model.SRPSessionDuration),
		B:               server.EphemeralPublic(),
		EphemeralSecret: ephemeralSecret,
	}
	record.SRPSessions = append(record.SRPSessions, session)

	if _, err := s.recordStore.Save(ctx, record); err != nil {
		return LoginParams{}, fmt.Errorf("failed to save auth record: %w", err)
	}

	s.logger.Info("SRP service: login started",
		"record_id", record.ID,
		"session_id", session.ID)

	return LoginParams{
		SessionID: session.ID,
		B:         session.B,
		KeyParams: record.KeyParams,
	}, nil
}

// LoginResult carries the server proof and, once all factors are satisfied,
// the session tokens.
type LoginResult struct {
	ServerProof []byte    `json:"server_proof"`
	Tokens      TokenPair `json:"tokens"`
}

// CompleteLogin answers the client's (A, M1) message. The negotiation is
// single-use: whatever the outcome, the session's ephemeral state is
// discarded. Records with enrolled login factors additionally require a
// consumed challenge token; without one the caller gets ErrMFARequired
// after the proof checks out.
func (s *SRP) CompleteLogin(
	ctx context.Context,
	email string,
	sessionID string,
	clientPublic []byte,
	clientProof []byte,
	device model.DeviceInfo,
	mfaToken string,
) (LoginResult, error) {
	record, err := s.auth.GetRecord(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return LoginResult{}, model.ErrVerificationFailed
		}
		return LoginResult{}, err
	}

	now := s.now()
	session := record.SRPSession(sessionID)
	if session == nil || !session.Usable(now) {
		return LoginResult{}, fmt.Errorf("negotiation %q is not usable: %w", sessionID, model.ErrInvalidState)
	}

	// after this point the negotiation is spent no matter what
	fail := func() (LoginResult, error) {
		session.Discard()
		if _, saveErr := s.recordStore.Save(ctx, record); saveErr != nil {
			s.logger.Error("SRP service: failed to discard negotiation",
				"record_id", record.ID,
				"session_id", sessionID,
				"error", saveErr.Error())
		}
		return LoginResult{}, model.ErrVerificationFailed
	}

	if len(record.Verifier) == 0 {
		return fail()
	}

	server := srp.NewServer(s.group, record.Verifier, session.EphemeralSecret)
	if err := server.SetClientPublic(clientPublic); err != nil {
		return fail()
	}
	if !server.VerifyClientProof(clientProof) {
		s.logger.Info("SRP service: client proof rejected",
			"record_id", record.ID,
			"session_id", sessionID)
		return fail()
	}
	if record.Status == model.AccountStatusBlocked || record.Status == model.AccountStatusDeleted {
		return fail()
	}

	serverProof, err := server.Proof(clientProof)
	if err != nil {
		return fail()
	}

	session.Discard()

	factorConsumed := false
	if len(record.OrderedAuthenticators(model.AuthPurposeLogin)) > 0 {
		if mfaToken == "" {
			if _, saveErr := s.recordStore.Save(ctx, record); saveErr != nil {
				return LoginResult{}, fmt.Errorf("failed to save auth record: %w", saveErr)
			}
			return LoginResult{}, model.ErrMFARequired
		}
		if err := s.mfa.ConsumeToken(&record, mfaToken, model.AuthPurposeLogin); err != nil {
			if _, saveErr := s.recordStore.Save(ctx, record); saveErr != nil {
				return LoginResult{}, fmt.Errorf("failed to save auth record: %w", saveErr)
			}
			return LoginResult{}, err
		}
		factorConsumed = true
	}

	tokens, err := s.session.Issue(&record, device)
	if err != nil {
		return LoginResult{}, err
	}

	// a device that passed a second factor becomes trusted
	if factorConsumed && device.ID != "" {
		record.TrustDevice(device)
	}

	if _, err := s.recordStore.Save(ctx, record); err != nil {
		return LoginResult{}, fmt.Errorf("failed to save auth record: %w", err)
	}

	s.logger.Info("SRP service: login completed",
		"record_id", record.ID,
		"session_id", sessionID)

	return LoginResult{ServerProof: serverProof, Tokens: tokens}, nil
}

// ensureSalt fixes the record's salt on first use. With persist set the
// record is saved immediately; otherwise the caller's save covers it.
func (s *SRP) ensureSalt(ctx context.Context, record *model.AuthRecord, persist bool) error {
	if len(record.KeyParams.Salt) > 0 {
		return nil
	}

	salt, err := s.crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	record.KeyParams.Salt = salt

	if persist {
		saved, err := s.recordStore.Save(ctx, *record)
		if err != nil {
			return fmt.Errorf("failed to save auth record: %w", err)
		}
		*record = saved
	}
	return nil
}
