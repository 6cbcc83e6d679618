package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"NudgeAgent/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDomainError maps service errors to responses. A queued intent is
// checked first because it also wraps the failure that caused it.
func WriteDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrQueued):
		WriteError(w, http.StatusAccepted, "queued", "saved and will be retried")
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "validation_error", Message: "invalid request", Fields: verr.Fields}})
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.Is(err, domain.ErrUserNotFound):
		WriteError(w, http.StatusNotFound, "user_not_found", "that user does not exist")
	case errors.Is(err, domain.ErrNotFriends):
		WriteError(w, http.StatusConflict, "not_friends", "you are not friends")
	case errors.Is(err, domain.ErrFriendExists):
		WriteError(w, http.StatusConflict, "friend_exists", "already friends")
	case errors.Is(err, domain.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, domain.ErrNoSession):
		WriteError(w, http.StatusUnauthorized, "no_session", "sign in first")
	case errors.Is(err, domain.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, "unauthenticated", "sign in again")
	case errors.Is(err, domain.ErrInvalidSignature):
		WriteError(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
	case errors.Is(err, domain.ErrMisrouted):
		WriteError(w, http.StatusConflict, "misrouted", "event addressed to another user")
	case errors.Is(err, domain.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrServer):
		WriteError(w, http.StatusBadGateway, "backend_unavailable", "remote service unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
