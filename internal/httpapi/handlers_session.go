package httpapi

import (
	"net/http"
	"time"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
)

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

func (a *api) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.repo.SessionInfo())
}

func (a *api) handleSessionRegister(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientIP(r), time.Now()) {
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	info, err := a.repo.Register(r.Context(), req.Username, req.DisplayName, req.Password)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	a.clearSignInPrompt()
	WriteJSON(w, http.StatusCreated, info)
}

func (a *api) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientIP(r), time.Now()) {
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	info, err := a.repo.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	a.clearSignInPrompt()
	WriteJSON(w, http.StatusOK, info)
}

// clearSignInPrompt drops the sign-in prompt once a session exists again.
func (a *api) clearSignInPrompt() {
	if a.dialog == nil {
		return
	}
	isSignIn := func(s dialog.Status) bool { return s.Kind == dialog.KindSignIn }
	a.dialog.DismissIf(isSignIn)
	a.dialog.Remove(isSignIn)
}

func (a *api) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.Logout(r.Context()); err != nil {
		WriteDomainError(w, err)
		return
	}
	if a.inbound != nil {
		a.inbound.Reset(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSessionPushToken(w http.ResponseWriter, r *http.Request) {
	var req pushTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if err := a.repo.SetPushToken(r.Context(), req.Token); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.Sync(r.Context()); err != nil {
		WriteDomainError(w, err)
		return
	}
	friends, err := a.repo.ListFriends(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]domain.Friend{"friends": friends})
}
