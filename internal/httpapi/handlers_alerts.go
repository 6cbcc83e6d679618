package httpapi

import (
	"net/http"
	"strings"

	"NudgeAgent/internal/domain"
)

type sendAlertRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendAlertResponse struct {
	StartID string `json:"start_id"`
}

func (a *api) handleAlertsSend(w http.ResponseWriter, r *http.Request) {
	var req sendAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	startID, err := a.repo.SendAlert(r.Context(), req.To, req.Message)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, sendAlertResponse{StartID: startID})
}

func (a *api) handleAlertsJobs(w http.ResponseWriter, r *http.Request) {
	out, err := a.repo.ListJobs(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (a *api) handleAlertsCancel(w http.ResponseWriter, r *http.Request) {
	startID := strings.TrimSpace(r.PathValue("start_id"))
	if startID == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"start_id": "required"}))
		return
	}
	if err := a.sends.Cancel(r.Context(), startID); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAlertsAck(w http.ResponseWriter, r *http.Request) {
	if err := a.inbound.AcknowledgeAlert(r.Context(), r.PathValue("alert_id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
