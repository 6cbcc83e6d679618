package httpapi

import (
	"errors"
	"io"
	"net/http"

	"NudgeAgent/internal/auth"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/push"
)

const maxPushBytes = 64 << 10

// handlePushWebhook accepts push events from the transport. The caller
// proves itself with an HMAC signature or, when an audience is set, a
// Google-signed bearer token.
func (a *api) handlePushWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		WriteError(w, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
		return
	}
	if !a.pushAuthorized(r, body) {
		WriteDomainError(w, domain.ErrInvalidSignature)
		return
	}

	ev, err := push.DecodeJSON(body)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	err = a.inbound.Handle(r.Context(), ev)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMisrouted):
		// Redelivery cannot fix these.
		a.logger.Warn("push: event rejected", "err", err, "action", ev.Action, "alert_id", ev.AlertID)
		WriteDomainError(w, err)
	default:
		a.logger.Error("push: event failed", "err", err, "action", ev.Action, "alert_id", ev.AlertID)
		WriteError(w, http.StatusServiceUnavailable, "retry", "try again later")
	}
}

func (a *api) pushAuthorized(r *http.Request, body []byte) bool {
	if a.pushAudience != "" {
		if token := auth.BearerToken(r); token != "" {
			if _, err := a.verifyIDToken(r.Context(), token, a.pushAudience); err != nil {
				a.logger.Warn("push: id token rejected", "err", err)
				return false
			}
			return true
		}
		if !a.webhook.Enabled() {
			return false
		}
	}
	return a.webhook.Verify(r.Header.Get(auth.SignatureHeader), body)
}
