package handler

import (
	"context"
	"net/http"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
	"github.com/dtroode/keyhaven-identity/internal/service"
)

// SRPService drives password registration and the login exchange.
type SRPService interface {
	StartRegistration(ctx context.Context, email string) (service.RegistrationParams, error)
	CompleteRegistration(ctx context.Context, email string, verifier []byte, signupToken string) error
	StartLogin(ctx context.Context, email string) (service.LoginParams, error)
	CompleteLogin(ctx context.Context, email, sessionID string, clientPublic, clientProof []byte, device model.DeviceInfo, mfaToken string) (service.LoginResult, error)
}

// SessionService refreshes and revokes issued sessions.
type SessionService interface {
	Refresh(ctx context.Context, refreshToken string) (service.TokenPair, error)
	Revoke(ctx context.Context, recordID, sessionID string) error
}

// Auth handles the password exchange and session token endpoints.
type Auth struct {
	srpService     SRPService
	sessionService SessionService
	contextManager model.ContextManager
	logger         *logger.Logger
}

func NewAuth(srpService SRPService, sessionService SessionService, contextManager model.ContextManager, logger *logger.Logger) *Auth {
	return &Auth{
		srpService:     srpService,
		sessionService: sessionService,
		contextManager: contextManager,
		logger:         logger,
	}
}

type registerStartRequest struct {
	Email string `json:"email"`
}

func (h *Auth) RegisterStart(w http.ResponseWriter, r *http.Request) {
	var req registerStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params, err := h.srpService.StartRegistration(r.Context(), req.Email)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, params)
}

type registerCompleteRequest struct {
	Email    string `json:"email"`
	Verifier []byte `json:"verifier"`
	MFAToken string `json:"mfa_token,omitempty"`
}

func (h *Auth) RegisterComplete(w http.ResponseWriter, r *http.Request) {
	var req registerCompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.srpService.CompleteRegistration(r.Context(), req.Email, req.Verifier, req.MFAToken); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type loginStartRequest struct {
	Email string `json:"email"`
}

func (h *Auth) LoginStart(w http.ResponseWriter, r *http.Request) {
	var req loginStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params, err := h.srpService.StartLogin(r.Context(), req.Email)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, params)
}

type loginCompleteRequest struct {
	Email       string           `json:"email"`
	SessionID   string           `json:"session_id"`
	A           []byte           `json:"a"`
	ClientProof []byte           `json:"client_proof"`
	Device      model.DeviceInfo `json:"device"`
	MFAToken    string           `json:"mfa_token,omitempty"`
}

func (h *Auth) LoginComplete(w http.ResponseWriter, r *http.Request) {
	var req loginCompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.srpService.CompleteLogin(r.Context(), req.Email, req.SessionID, req.A, req.ClientProof, req.Device, req.MFAToken)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Auth) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.sessionService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

type revokeRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Auth) Revoke(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.contextManager.GetRecordIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
		return
	}

	var req revokeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.sessionService.Revoke(r.Context(), recordID, req.SessionID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
