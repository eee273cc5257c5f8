package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

const (
	codeNotFound           = "not_found"
	codeMethodNotAllowed   = "method_not_allowed"
	codeInvalidRequestBody = "invalid_request_body"
	codeHolderRequired     = "holder_required"
	codeInvalidResource    = "invalid_resource"
	codeInvalidTTL         = "invalid_ttl"
	codeInvalidID          = "invalid_id"
	codeResourceHeld       = "resource_held"
	codeNotHolder          = "not_holder"
	codeLeaseExpired       = "lease_expired"
	codeLeaseNotFound      = "lease_not_found"
	codeSessionNotFound    = "session_not_found"
	codeSessionTerminal    = "session_terminal"
	codeCheckoutConflict   = "checkout_conflict"
	codeVersionConflict    = "version_conflict"
	codeForbidden          = "forbidden"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// RetryAfter is set on resource_held responses so clients can show
	// "available again after".
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already out; nothing useful left to do.
		return
	}
}

// writeDomainError maps engine errors onto the HTTP surface. Held resources
// are the one case with extra payload: the current holder's expiry, never
// their identity.
func writeDomainError(w http.ResponseWriter, err error) {
	var held *domain.AlreadyHeldError
	if errors.As(err, &held) {
		resp := errorResponse{Error: "resource unavailable", Code: codeResourceHeld}
		if !held.ExpiresAt.IsZero() {
			t := held.ExpiresAt
			resp.RetryAfter = &t
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	switch {
	case errors.Is(err, domain.ErrResourceHeld):
		writeError(w, http.StatusConflict, codeResourceHeld, "resource unavailable")
	case errors.Is(err, domain.ErrNotHolder):
		writeError(w, http.StatusForbidden, codeNotHolder, err.Error())
	case errors.Is(err, domain.ErrLeaseExpired):
		writeError(w, http.StatusConflict, codeLeaseExpired, "your reservation expired, please try again")
	case errors.Is(err, domain.ErrLeaseNotFound):
		writeError(w, http.StatusNotFound, codeLeaseNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, codeSessionNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionTerminal):
		writeError(w, http.StatusConflict, codeSessionTerminal, "your reservation expired, please try again")
	case errors.Is(err, domain.ErrCheckoutConflict):
		writeError(w, http.StatusConflict, codeCheckoutConflict, err.Error())
	case errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, codeVersionConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTTL):
		writeError(w, http.StatusBadRequest, codeInvalidTTL, err.Error())
	case errors.Is(err, domain.ErrInvalidResource):
		writeError(w, http.StatusBadRequest, codeInvalidResource, err.Error())
	case errors.Is(err, domain.ErrHolderRequired):
		writeError(w, http.StatusBadRequest, codeHolderRequired, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
