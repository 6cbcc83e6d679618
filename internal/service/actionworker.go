package service

import (
	"context"
	"errors"
	"log/slog"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
)

// FriendActionWorker answers pending friend requests in the background.
type FriendActionWorker struct {
	Repo   *Repository
	Dialog *dialog.Queue
	Logger *slog.Logger

	scope *taskScope
}

func (w *FriendActionWorker) Start(ctx context.Context) {
	w.scope = newTaskScope(ctx, w.logger())
}

// Submit queues a response to username's request and returns the task id.
// The matching friend-request prompt is removed right away.
func (w *FriendActionWorker) Submit(username string, action domain.RequestAction) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}
	if !action.Valid() {
		return "", domain.NewValidationError(map[string]string{"action": "must be accept, ignore or block"})
	}
	if w.scope == nil {
		return "", errors.New("friend action worker not started")
	}

	if w.Dialog != nil {
		answered := func(s dialog.Status) bool {
			return s.Kind == dialog.KindFriendRequest && s.Username == username
		}
		w.Dialog.Remove(answered)
		w.Dialog.DismissIf(answered)
	}

	id := w.Repo.newID()
	if !w.scope.Go(id, func(ctx context.Context) { w.run(ctx, username, action) }) {
		return "", errors.New("friend action worker stopped")
	}
	return id, nil
}

func (w *FriendActionWorker) run(ctx context.Context, username string, action domain.RequestAction) {
	var err error
	switch action {
	case domain.RequestAccept:
		_, err = w.Repo.AcceptRequest(ctx, username)
	case domain.RequestIgnore:
		err = w.Repo.DeclineRequest(ctx, username, false)
	case domain.RequestBlock:
		err = w.Repo.DeclineRequest(ctx, username, true)
	}
	switch {
	case err == nil:
		w.logger().Info("friend action: done", "username", username, "action", action)
		return
	case errors.Is(err, domain.ErrQueued):
		w.logger().Info("friend action: queued for retry", "username", username, "action", action, "err", err)
	default:
		w.logger().Warn("friend action: failed", "username", username, "action", action, "err", err)
	}
	if domain.FailureFor(err) == domain.FailureAuth && w.Dialog != nil {
		w.Dialog.Push(dialog.SignInRequired())
	}
}

func (w *FriendActionWorker) Wait() {
	if w.scope != nil {
		w.scope.Wait()
	}
}

func (w *FriendActionWorker) Close() {
	if w.scope != nil {
		w.scope.Close()
	}
}

func (w *FriendActionWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
