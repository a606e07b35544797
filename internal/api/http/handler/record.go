package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// AccountService exposes record-level operations to the owner.
type AccountService interface {
	GetRecordByID(ctx context.Context, id string) (model.AuthRecord, error)
	MarkDeleted(ctx context.Context, email string) error
}

// Record serves the owner's view of their auth record.
type Record struct {
	accountService AccountService
	contextManager model.ContextManager
	logger         *logger.Logger
}

func NewRecord(accountService AccountService, contextManager model.ContextManager, logger *logger.Logger) *Record {
	return &Record{
		accountService: accountService,
		contextManager: contextManager,
		logger:         logger,
	}
}

type authenticatorView struct {
	ID          string              `json:"id"`
	Type        model.AuthType      `json:"type"`
	Description string              `json:"description,omitempty"`
	Status      model.AuthenticatorStatus `json:"status"`
	Purposes    []model.AuthPurpose `json:"purposes"`
	Created     time.Time           `json:"created"`
	LastUsed    time.Time           `json:"last_used,omitzero"`
}

type sessionView struct {
	ID       string           `json:"id"`
	Device   model.DeviceInfo `json:"device"`
	Created  time.Time        `json:"created"`
	Expires  time.Time        `json:"expires"`
	LastUsed time.Time        `json:"last_used"`
	Revoked  bool             `json:"revoked,omitempty"`
}

// recordView is the owner-facing projection: no verifier, no factor
// secrets, no refresh token hashes.
type recordView struct {
	Email           string                    `json:"email"`
	Status          model.AccountStatus       `json:"status"`
	Created         time.Time                 `json:"created"`
	Authenticators  []authenticatorView       `json:"authenticators"`
	MFAOrder        []string                  `json:"mfa_order"`
	Sessions        []sessionView             `json:"sessions"`
	TrustedDevices  []model.DeviceInfo        `json:"trusted_devices"`
	KeyStoreEntries []model.KeyStoreEntryInfo `json:"key_store_entries"`
	Invites         []model.InviteRef         `json:"invites"`
}

func makeRecordView(record model.AuthRecord) recordView {
	view := recordView{
		Email:           record.Email,
		Status:          record.Status,
		Created:         record.Created,
		MFAOrder:        record.MFAOrder,
		TrustedDevices:  record.TrustedDevices,
		KeyStoreEntries: record.KeyStoreEntries,
		Invites:         record.Invites,
	}
	for _, a := range record.Authenticators {
		view.Authenticators = append(view.Authenticators, authenticatorView{
			ID:          a.ID,
			Type:        a.Type,
			Description: a.Description,
			Status:      a.Status,
			Purposes:    a.Purposes,
			Created:     a.Created,
			LastUsed:    a.LastUsed,
		})
	}
	for _, s := range record.Sessions {
		view.Sessions = append(view.Sessions, sessionView{
			ID:       s.ID,
			Device:   s.Device,
			Created:  s.Created,
			Expires:  s.Expires,
			LastUsed: s.LastUsed,
			Revoked:  s.Revoked,
		})
	}
	return view
}

func (h *Record) Get(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.contextManager.GetRecordIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
		return
	}

	record, err := h.accountService.GetRecordByID(r.Context(), recordID)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, makeRecordView(record))
}

func (h *Record) Delete(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.contextManager.GetRecordIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
		return
	}

	record, err := h.accountService.GetRecordByID(r.Context(), recordID)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.accountService.MarkDeleted(r.Context(), record.Email); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
