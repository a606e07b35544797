package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
	"github.com/dtroode/keyhaven-identity/internal/service"
)

// MFAService drives authenticator enrollment and challenge requests.
type MFAService interface {
	StartRegisterAuthenticator(ctx context.Context, email string, typ model.AuthType, purposes []model.AuthPurpose, description string, params json.RawMessage) (service.RegistrationChallenge, error)
	CompleteRegisterAuthenticator(ctx context.Context, email, authenticatorID string, clientData json.RawMessage) error
	StartRequest(ctx context.Context, email string, purpose model.AuthPurpose, authenticatorID string) (service.Challenge, error)
	VerifyRequest(ctx context.Context, email, requestID string, proof json.RawMessage) (string, error)
	RemoveAuthenticator(ctx context.Context, email, authenticatorID string) error
	SetOrder(ctx context.Context, email string, order []string) error
}

// RecordService resolves records for authenticated requests.
type RecordService interface {
	GetRecordByID(ctx context.Context, id string) (model.AuthRecord, error)
}

// MFA handles authenticator enrollment and challenge endpoints. Enrollment
// and challenges are keyed by email so they work before the account has any
// session; management of enrolled factors requires an authenticated caller.
type MFA struct {
	mfaService     MFAService
	recordService  RecordService
	contextManager model.ContextManager
	logger         *logger.Logger
}

func NewMFA(mfaService MFAService, recordService RecordService, contextManager model.ContextManager, logger *logger.Logger) *MFA {
	return &MFA{
		mfaService:     mfaService,
		recordService:  recordService,
		contextManager: contextManager,
		logger:         logger,
	}
}

// authenticatedEmail resolves the caller's email from the bearer token.
func (h *MFA) authenticatedEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	recordID, ok := h.contextManager.GetRecordIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
		return "", false
	}

	record, err := h.recordService.GetRecordByID(r.Context(), recordID)
	if err != nil {
		handleError(w, err)
		return "", false
	}
	return record.Email, true
}

type registerAuthenticatorRequest struct {
	Email       string             `json:"email"`
	Type        model.AuthType     `json:"type"`
	Purposes    []model.AuthPurpose `json:"purposes"`
	Description string             `json:"description,omitempty"`
	Params      json.RawMessage    `json:"params,omitempty"`
}

func (h *MFA) RegisterAuthenticator(w http.ResponseWriter, r *http.Request) {
	var req registerAuthenticatorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	challenge, err := h.mfaService.StartRegisterAuthenticator(r.Context(), req.Email, req.Type, req.Purposes, req.Description, req.Params)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, challenge)
}

type completeAuthenticatorRequest struct {
	Email string          `json:"email"`
	Data  json.RawMessage `json:"data"`
}

func (h *MFA) CompleteAuthenticator(w http.ResponseWriter, r *http.Request) {
	var req completeAuthenticatorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.mfaService.CompleteRegisterAuthenticator(r.Context(), req.Email, r.PathValue("id"), req.Data); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MFA) RemoveAuthenticator(w http.ResponseWriter, r *http.Request) {
	email, ok := h.authenticatedEmail(w, r)
	if !ok {
		return
	}

	if err := h.mfaService.RemoveAuthenticator(r.Context(), email, r.PathValue("id")); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type setOrderRequest struct {
	Order []string `json:"order"`
}

func (h *MFA) SetOrder(w http.ResponseWriter, r *http.Request) {
	email, ok := h.authenticatedEmail(w, r)
	if !ok {
		return
	}

	var req setOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.mfaService.SetOrder(r.Context(), email, req.Order); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type startRequestRequest struct {
	Email           string            `json:"email"`
	Purpose         model.AuthPurpose `json:"purpose"`
	AuthenticatorID string            `json:"authenticator_id,omitempty"`
}

func (h *MFA) StartRequest(w http.ResponseWriter, r *http.Request) {
	var req startRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	challenge, err := h.mfaService.StartRequest(r.Context(), req.Email, req.Purpose, req.AuthenticatorID)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, challenge)
}

type verifyRequestRequest struct {
	Email string          `json:"email"`
	Proof json.RawMessage `json:"proof"`
}

type verifyRequestResponse struct {
	Token string `json:"token"`
}

func (h *MFA) VerifyRequest(w http.ResponseWriter, r *http.Request) {
	var req verifyRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.mfaService.VerifyRequest(r.Context(), req.Email, r.PathValue("id"), req.Proof)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyRequestResponse{Token: token})
}
