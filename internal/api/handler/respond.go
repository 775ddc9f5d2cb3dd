package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/notifyhub/notify-core/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrAlreadyTerminal),
		errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrResendCooldown):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrPayloadTooLarge):
		// The hard cap on total attachment bytes (§3); a per-attachment
		// overage is a plain validation error below.
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrInvalidType),
		errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrNoRecipients),
		errors.Is(err, domain.ErrMissingSubject),
		errors.Is(err, domain.ErrEmptyBody),
		errors.Is(err, domain.ErrAttachmentTooBig),
		errors.Is(err, domain.ErrBatchTooLarge),
		errors.Is(err, domain.ErrBatchEmpty),
		errors.Is(err, domain.ErrBadFilter):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
