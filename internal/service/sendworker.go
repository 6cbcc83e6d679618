package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/metrics"
	"NudgeAgent/internal/notifications"

	"golang.org/x/time/rate"
)

type AlertSender interface {
	SendAlert(ctx context.Context, to, body string) (string, error)
}

// SendWorker delivers persisted send jobs. Each job runs in its own task
// keyed by start id so it can be cancelled individually and survives the
// request that created it.
type SendWorker struct {
	Repo      *Repository
	Backend   AlertSender
	Limiter   *rate.Limiter
	Dialog    *dialog.Queue
	Presenter notifications.Presenter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time

	scope *taskScope
}

// Start binds the worker to the agent lifetime, fails jobs a previous
// process left behind and resumes parked ones when signed in.
func (w *SendWorker) Start(ctx context.Context) error {
	w.scope = newTaskScope(ctx, w.logger())

	jobs, err := w.Repo.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover send jobs: %w", err)
	}
	for _, job := range jobs {
		w.Metrics.AlertSent(string(domain.FailureInterrupted))
		w.report(ctx, job, domain.FailureInterrupted)
	}
	if w.Repo.Session != nil && w.Repo.Session.Active() {
		parked, err := w.Repo.ResumeParked(ctx)
		if err != nil {
			return fmt.Errorf("resume send jobs: %w", err)
		}
		for _, job := range parked {
			w.Dispatch(job)
		}
	}
	return nil
}

func (w *SendWorker) Dispatch(job domain.SendJob) {
	if w.scope == nil {
		w.logger().Error("send worker: dispatch before start", "start_id", job.StartID)
		return
	}
	if !w.scope.Go(job.StartID, func(ctx context.Context) { w.run(ctx, job) }) {
		w.logger().Debug("send worker: job already running or worker stopped", "start_id", job.StartID)
	}
}

// Cancel stops a running or parked send. The friend's status resolves to
// error.
func (w *SendWorker) Cancel(ctx context.Context, startID string) error {
	if w.scope != nil && w.scope.Cancel(startID) {
		return nil
	}
	return w.Repo.CancelParked(ctx, startID)
}

// Wait blocks until every dispatched job has finished.
func (w *SendWorker) Wait() {
	if w.scope != nil {
		w.scope.Wait()
	}
}

// Close cancels every running job and waits for them to resolve.
func (w *SendWorker) Close() {
	if w.scope != nil {
		w.scope.Close()
	}
}

func (w *SendWorker) run(ctx context.Context, job domain.SendJob) {
	// Resolution writes must land even when ctx is already cancelled.
	store := context.WithoutCancel(ctx)
	name := w.friendName(store, job.To)

	sendingID := notifications.NotificationID(domain.NotificationSending, job.StartID)
	w.post(store, domain.Notification{
		ID:     sendingID,
		Kind:   domain.NotificationSending,
		Friend: job.To,
		Title:  "Sending alert",
		Body:   "Sending to " + name + "...",
	})
	defer w.clear(store, sendingID)
	defer func() {
		if rec := recover(); rec != nil {
			w.logger().Error("send worker: send panicked", "panic", rec, "start_id", job.StartID, "stack", string(debug.Stack()))
			w.fail(store, job, domain.FailureGeneric, fmt.Errorf("send panicked: %v", rec))
		}
	}()

	if err := w.Repo.Jobs.SetJobState(store, job.StartID, domain.JobRunning); err != nil {
		w.logger().Warn("send worker: mark running failed", "err", err, "start_id", job.StartID)
	}

	alertID, err := w.send(ctx, job)
	if err == nil {
		if err := w.Repo.CompleteSend(store, job, alertID); err != nil {
			w.logger().Error("send worker: complete send failed", "err", err, "start_id", job.StartID)
		}
		w.Metrics.AlertSent("sent")
		w.logger().Info("send worker: alert sent", "to", job.To, "start_id", job.StartID, "alert_id", alertID)
		return
	}

	w.fail(store, job, domain.FailureFor(err), err)
}

// fail resolves a job that did not deliver. ctx must not be cancelled.
func (w *SendWorker) fail(ctx context.Context, job domain.SendJob, kind domain.FailureKind, cause error) {
	if err := w.Repo.FailSend(ctx, job, kind); err != nil {
		w.logger().Error("send worker: fail send failed", "err", err, "start_id", job.StartID)
	}
	w.Metrics.AlertSent(string(kind))
	w.logger().Info("send worker: alert failed", "to", job.To, "start_id", job.StartID, "failure", kind, "err", cause)
	w.report(ctx, job, kind)
}

func (w *SendWorker) send(ctx context.Context, job domain.SendJob) (string, error) {
	if d := w.Repo.SendDelay(ctx); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", fmt.Errorf("send delay: %w", domain.ErrCanceled)
		case <-t.C:
		}
	}
	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("send rate gate: %w", domain.ErrCanceled)
			}
			return "", fmt.Errorf("send rate gate: %w: %v", domain.ErrRateLimited, err)
		}
	}
	alertID, err := w.Backend.SendAlert(ctx, job.To, job.Body)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, domain.ErrCanceled) {
		return "", fmt.Errorf("%w: %w", domain.ErrCanceled, err)
	}
	return alertID, err
}

// report surfaces a failure to the user. Cancellation is user initiated and
// stays silent.
func (w *SendWorker) report(ctx context.Context, job domain.SendJob, kind domain.FailureKind) {
	friend := domain.Friend{Username: job.To}
	if f, err := w.Repo.Friends.GetFriend(ctx, job.To); err == nil {
		friend = f
	}
	text := kind.Message(friend.Name())

	switch kind {
	case domain.FailureCanceled:
		return
	case domain.FailureAuth:
		if w.Dialog != nil {
			w.Dialog.Push(dialog.SignInRequired())
		}
		w.post(ctx, domain.Notification{
			ID:     notifications.NotificationID(domain.NotificationSignIn, "session"),
			Kind:   domain.NotificationSignIn,
			Friend: job.To,
			Title:  "Sign in required",
			Body:   text,
		})
	case domain.FailureRateLimited:
		w.post(ctx, domain.Notification{
			ID:     notifications.NotificationID(domain.NotificationRateLimited, job.StartID),
			Kind:   domain.NotificationRateLimited,
			Friend: job.To,
			Title:  "Slow down",
			Body:   text,
		})
	default:
		if kind.Definitive() && w.Dialog != nil {
			w.Dialog.Push(dialog.SendFailed(friend, text))
		}
		w.post(ctx, domain.Notification{
			ID:     notifications.NotificationID(domain.NotificationSendFailed, job.StartID),
			Kind:   domain.NotificationSendFailed,
			Friend: job.To,
			Title:  "Alert not sent",
			Body:   text,
		})
	}
}

func (w *SendWorker) friendName(ctx context.Context, username string) string {
	if f, err := w.Repo.Friends.GetFriend(ctx, username); err == nil {
		return f.Name()
	}
	return username
}

func (w *SendWorker) post(ctx context.Context, n domain.Notification) {
	if w.Presenter == nil {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = w.now()
	}
	if err := w.Presenter.Post(ctx, n); err != nil {
		w.logger().Warn("send worker: post notification failed", "err", err, "id", n.ID)
	}
}

func (w *SendWorker) clear(ctx context.Context, id string) {
	if w.Presenter == nil {
		return
	}
	if err := w.Presenter.Clear(ctx, id); err != nil {
		w.logger().Warn("send worker: clear notification failed", "err", err, "id", id)
	}
}

func (w *SendWorker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

func (w *SendWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
