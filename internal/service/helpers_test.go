package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

func testNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// fakeAuthServer accepts the proof {"code":"good"} and nothing else.
type fakeAuthServer struct {
	typ model.AuthType
}

func (f *fakeAuthServer) Type() model.AuthType {
	return f.typ
}

func (f *fakeAuthServer) InitRegistration(_ context.Context, _ *model.AuthRecord, authenticator *model.Authenticator, params json.RawMessage) (json.RawMessage, error) {
	authenticator.Data = json.RawMessage(`{"enrolled":true}`)
	return params, nil
}

func (f *fakeAuthServer) CompleteRegistration(_ context.Context, _ *model.AuthRecord, _ *model.Authenticator, clientData json.RawMessage) error {
	if string(clientData) != `{"code":"good"}` {
		return model.ErrVerificationFailed
	}
	return nil
}

func (f *fakeAuthServer) InitRequest(_ context.Context, _ *model.AuthRecord, _ *model.Authenticator, request *model.AuthRequest) (json.RawMessage, error) {
	request.State = json.RawMessage(`{"challenge":"c"}`)
	return request.State, nil
}

func (f *fakeAuthServer) VerifyRequest(_ context.Context, _ *model.AuthRecord, _ *model.Authenticator, _ *model.AuthRequest, proof json.RawMessage) (bool, error) {
	return string(proof) == `{"code":"good"}`, nil
}
