package httpapi

import (
	"net/http"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
)

type popResponse struct {
	Active *dialog.Status `json:"active"`
}

func (a *api) handleDialogGet(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.dialog.Snapshot())
}

func (a *api) decodeStatus(w http.ResponseWriter, r *http.Request) (dialog.Status, bool) {
	var s dialog.Status
	if err := decodeJSON(w, r, &s); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return dialog.Status{}, false
	}
	if !s.Kind.Valid() {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"kind": "unknown prompt kind"}))
		return dialog.Status{}, false
	}
	return s, true
}

// handleDialogPush lets the shell queue prompts it owns, such as a deep link
// add or the overlay permission request.
func (a *api) handleDialogPush(w http.ResponseWriter, r *http.Request) {
	s, ok := a.decodeStatus(w, r)
	if !ok {
		return
	}
	a.dialog.Push(s)
	WriteJSON(w, http.StatusOK, a.dialog.Snapshot())
}

func (a *api) handleDialogPop(w http.ResponseWriter, r *http.Request) {
	// Finishing an alert prompt is an acknowledgement.
	if active, ok := a.dialog.Active(); ok && active.Kind == dialog.KindAlert && a.inbound != nil {
		if err := a.inbound.AcknowledgeAlert(r.Context(), active.AlertID); err != nil {
			WriteDomainError(w, err)
			return
		}
		next, ok := a.dialog.Active()
		if !ok {
			WriteJSON(w, http.StatusOK, popResponse{})
			return
		}
		WriteJSON(w, http.StatusOK, popResponse{Active: &next})
		return
	}

	next, ok := a.dialog.Pop()
	if !ok {
		WriteJSON(w, http.StatusOK, popResponse{})
		return
	}
	WriteJSON(w, http.StatusOK, popResponse{Active: &next})
}

func (a *api) handleDialogSwap(w http.ResponseWriter, r *http.Request) {
	s, ok := a.decodeStatus(w, r)
	if !ok {
		return
	}
	a.dialog.Swap(s)
	WriteJSON(w, http.StatusOK, a.dialog.Snapshot())
}
