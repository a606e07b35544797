package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

const emailCodeDigits = 6

// emailServer delivers one-time codes through an external Messenger. The
// code lives server-side on the authenticator (registration) or request
// (challenge) and is compared in constant time.
type emailServer struct {
	messenger model.Messenger
	crypto    model.CryptoProvider
	from      string
}

func NewEmailServer(messenger model.Messenger, cryptoProvider model.CryptoProvider, from string) AuthServer {
	return &emailServer{
		messenger: messenger,
		crypto:    cryptoProvider,
		from:      from,
	}
}

func (s *emailServer) Type() model.AuthType {
	return model.AuthTypeEmail
}

type emailData struct {
	Email string `json:"email"`
	// Code is only set while registration is pending.
	Code string `json:"code,omitempty"`
}

type emailState struct {
	Code string `json:"code"`
}

type emailProof struct {
	Code string `json:"code"`
}

type emailParams struct {
	Email string `json:"email"`
}

func (s *emailServer) InitRegistration(ctx context.Context, record *model.AuthRecord, authenticator *model.Authenticator, params json.RawMessage) (json.RawMessage, error) {
	address := record.Email
	if len(params) > 0 {
		var p emailParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal email params: %w", err)
		}
		if p.Email != "" {
			address = model.NormalizeEmail(p.Email)
		}
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(emailData{Email: address, Code: code})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email data: %w", err)
	}
	authenticator.Data = data

	if err := s.send(ctx, address, code); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{"email": address})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email challenge: %w", err)
	}
	return payload, nil
}

func (s *emailServer) CompleteRegistration(_ context.Context, _ *model.AuthRecord, authenticator *model.Authenticator, clientData json.RawMessage) error {
	var proof emailProof
	if err := json.Unmarshal(clientData, &proof); err != nil {
		return fmt.Errorf("failed to unmarshal email proof: %w", err)
	}

	var data emailData
	if err := json.Unmarshal(authenticator.Data, &data); err != nil {
		return fmt.Errorf("failed to unmarshal email data: %w", err)
	}
	if data.Code == "" {
		return fmt.Errorf("no pending registration code: %w", model.ErrInvalidState)
	}

	if !codesEqual(data.Code, proof.Code) {
		return model.ErrVerificationFailed
	}

	// the registration code is spent; only the address stays enrolled
	updated, err := json.Marshal(emailData{Email: data.Email})
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}
	authenticator.Data = updated
	return nil
}

func (s *emailServer) InitRequest(ctx context.Context, _ *model.AuthRecord, authenticator *model.Authenticator, request *model.AuthRequest) (json.RawMessage, error) {
	var data emailData
	if err := json.Unmarshal(authenticator.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email data: %w", err)
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	state, err := json.Marshal(emailState{Code: code})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email state: %w", err)
	}
	request.State = state

	if err := s.send(ctx, data.Email, code); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{"email": data.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email challenge: %w", err)
	}
	return payload, nil
}

func (s *emailServer) VerifyRequest(_ context.Context, _ *model.AuthRecord, _ *model.Authenticator, request *model.AuthRequest, proof json.RawMessage) (bool, error) {
	var p emailProof
	if err := json.Unmarshal(proof, &p); err != nil {
		return false, fmt.Errorf("failed to unmarshal email proof: %w", err)
	}

	var state emailState
	if err := json.Unmarshal(request.State, &state); err != nil {
		return false, fmt.Errorf("failed to unmarshal email state: %w", err)
	}
	if state.Code == "" {
		return false, fmt.Errorf("no challenge code on request: %w", model.ErrInvalidState)
	}

	return codesEqual(state.Code, p.Code), nil
}

func (s *emailServer) generateCode() (string, error) {
	raw, err := s.crypto.RandomBytes(4)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	n := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	mod := uint32(1)
	for i := 0; i < emailCodeDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", emailCodeDigits, n%mod), nil
}

func (s *emailServer) send(ctx context.Context, recipient, code string) error {
	body := fmt.Sprintf("Your verification code is %s.", code)
	if err := s.messenger.Send(ctx, recipient, "Verification code", body); err != nil {
		return fmt.Errorf("failed to send code: %w", err)
	}
	return nil
}

func codesEqual(expected, submitted string) bool {
	submitted = strings.TrimSpace(submitted)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1
}
