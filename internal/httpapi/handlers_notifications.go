package httpapi

import (
	"net/http"
	"strings"
	"time"

	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/notifications"
)

type settingsPayload struct {
	Ring        notifications.ModeSet `json:"ring"`
	Vibrate     notifications.ModeSet `json:"vibrate"`
	SendDelayMS int64                 `json:"send_delay_ms"`
}

func settingsToPayload(s notifications.Settings) settingsPayload {
	return settingsPayload{Ring: s.Ring, Vibrate: s.Vibrate, SendDelayMS: s.SendDelay.Milliseconds()}
}

func (a *api) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.presenter.Posted())
}

func (a *api) handleNotificationsClear(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"id": "required"}))
		return
	}
	if err := a.presenter.Clear(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	s, err := a.repo.NotificationSettings(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, settingsToPayload(s))
}

func (a *api) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	s, err := a.repo.SetNotificationSettings(r.Context(), notifications.Settings{
		Ring:      req.Ring,
		Vibrate:   req.Vibrate,
		SendDelay: time.Duration(req.SendDelayMS) * time.Millisecond,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, settingsToPayload(s))
}

func (a *api) handleDeviceGet(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.device.State(r.Context()))
}

// handleDeviceReport records what the shell knows about the phone: ringer
// mode, lock and foreground state, and the permissions it holds.
func (a *api) handleDeviceReport(w http.ResponseWriter, r *http.Request) {
	var st notifications.DeviceState
	if err := decodeJSON(w, r, &st); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if st.Mode != "" && !st.Mode.Valid() {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"mode": "must be silent, vibrate or normal"}))
		return
	}
	WriteJSON(w, http.StatusOK, a.device.Report(st))
}
