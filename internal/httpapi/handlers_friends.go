package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"NudgeAgent/internal/domain"
)

const defaultTopFriends = 5

type addFriendRequest struct {
	Username string `json:"username"`
}

type renameFriendRequest struct {
	DisplayName string `json:"display_name"`
}

type respondRequest struct {
	Action domain.RequestAction `json:"action"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
}

func (a *api) handleFriendsList(w http.ResponseWriter, r *http.Request) {
	out, err := a.repo.ListFriends(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (a *api) handleFriendsAdd(w http.ResponseWriter, r *http.Request) {
	var req addFriendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	f, err := a.repo.AddFriend(r.Context(), req.Username)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, f)
}

func (a *api) handleFriendsTop(w http.ResponseWriter, r *http.Request) {
	k := defaultTopFriends
	if raw := strings.TrimSpace(r.URL.Query().Get("k")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			WriteDomainError(w, domain.NewValidationError(map[string]string{"k": "must be a number"}))
			return
		}
		k = n
	}

	out, err := a.repo.TopFriends(r.Context(), k)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (a *api) handleFriendsPending(w http.ResponseWriter, r *http.Request) {
	out, err := a.repo.ListPending(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (a *api) handleFriendsCached(w http.ResponseWriter, r *http.Request) {
	out, err := a.repo.ListCached(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (a *api) handleFriendsRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	id, err := a.actions.Submit(r.PathValue("username"), req.Action)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, taskResponse{TaskID: id})
}

func (a *api) handleFriendsRename(w http.ResponseWriter, r *http.Request) {
	var req renameFriendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	f, err := a.repo.RenameFriend(r.Context(), r.PathValue("username"), req.DisplayName)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, f)
}

func (a *api) handleFriendsRemove(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.RemoveFriend(r.Context(), r.PathValue("username")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleMessagesList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteDomainError(w, domain.NewValidationError(map[string]string{"limit": "must be a non-negative number"}))
			return
		}
		limit = n
	}

	out, err := a.repo.ListMessages(r.Context(), q.Get("peer"), limit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}
