package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

type errorResponse struct {
	Error       string `json:"error"`
	MFARequired bool   `json:"mfa_required,omitempty"`
}

// handleError maps service errors to HTTP statuses. Anything unrecognized
// collapses to a generic 500 so internals never leak.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, model.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict, retry from a fresh read"})
	case errors.Is(err, model.ErrMFARequired):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "multi-factor authentication required", MFARequired: true})
	case errors.Is(err, model.ErrVerificationFailed):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "verification failed"})
	case errors.Is(err, model.ErrInvalidState):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid state"})
	case errors.Is(err, model.ErrUnsupported):
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "unsupported operation"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a request body into dst, failing the request on
// malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}
