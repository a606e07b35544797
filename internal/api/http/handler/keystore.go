package handler

import (
	"context"
	"net/http"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// KeyStoreService manages server-held key store entries.
type KeyStoreService interface {
	Create(ctx context.Context, email, authenticatorID string, data []byte) (model.KeyStoreEntryInfo, error)
	Get(ctx context.Context, email, entryID, accessToken string) ([]byte, error)
	Delete(ctx context.Context, email, entryID string) error
}

// KeyStore handles key store entry endpoints. Every operation requires an
// authenticated caller; retrieval additionally burns a challenge token.
type KeyStore struct {
	keyStoreService KeyStoreService
	recordService   RecordService
	contextManager  model.ContextManager
	logger          *logger.Logger
}

func NewKeyStore(keyStoreService KeyStoreService, recordService RecordService, contextManager model.ContextManager, logger *logger.Logger) *KeyStore {
	return &KeyStore{
		keyStoreService: keyStoreService,
		recordService:   recordService,
		contextManager:  contextManager,
		logger:          logger,
	}
}

func (h *KeyStore) authenticatedEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
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

type createEntryRequest struct {
	AuthenticatorID string `json:"authenticator_id"`
	Data            []byte `json:"data"`
}

func (h *KeyStore) Create(w http.ResponseWriter, r *http.Request) {
	email, ok := h.authenticatedEmail(w, r)
	if !ok {
		return
	}

	var req createEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.keyStoreService.Create(r.Context(), email, req.AuthenticatorID, req.Data)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

type retrieveEntryRequest struct {
	AccessToken string `json:"access_token"`
}

type retrieveEntryResponse struct {
	Data []byte `json:"data"`
}

func (h *KeyStore) Retrieve(w http.ResponseWriter, r *http.Request) {
	email, ok := h.authenticatedEmail(w, r)
	if !ok {
		return
	}

	var req retrieveEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	data, err := h.keyStoreService.Get(r.Context(), email, r.PathValue("id"), req.AccessToken)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, retrieveEntryResponse{Data: data})
}

func (h *KeyStore) Delete(w http.ResponseWriter, r *http.Request) {
	email, ok := h.authenticatedEmail(w, r)
	if !ok {
		return
	}

	if err := h.keyStoreService.Delete(r.Context(), email, r.PathValue("id")); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
