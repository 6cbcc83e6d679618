package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/events"
	"NudgeAgent/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const maxAlertBody = 512

// Backend is the remote API as the agent uses it.
type Backend interface {
	AddFriend(ctx context.Context, username string) (domain.RemoteFriend, error)
	DeleteFriend(ctx context.Context, username string, block bool) error
	EditFriendName(ctx context.Context, username, displayName string) error
	GetName(ctx context.Context, username string) (string, error)
	SendAlert(ctx context.Context, to, body string) (string, error)
	RegisterDevice(ctx context.Context, token string) error
	UnregisterDevice(ctx context.Context, token string) error
	AlertDelivered(ctx context.Context, alertID string) error
	AlertRead(ctx context.Context, alertID string) error
	GetUserInfo(ctx context.Context) (domain.UserInfo, error)
	RegisterUser(ctx context.Context, username, displayName, password string) (string, error)
	GetToken(ctx context.Context, username, password string) (string, error)
}

// SessionHolder is the in-memory signed-in identity.
type SessionHolder interface {
	Set(username, token string)
	Clear()
	Username() string
	Active() bool
}

type TokenSealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// Dispatcher runs a persisted send job.
type Dispatcher interface {
	Dispatch(job domain.SendJob)
}

// Repository is the only writer of the Local Store. It pairs each local
// mutation with the remote call it belongs to and publishes the change.
type Repository struct {
	Friends  FriendsStore
	Pending  PendingFriendsStore
	Cached   CachedFriendsStore
	Messages MessagesStore
	Jobs     SendJobsStore
	Prefs    PreferencesStore
	Wiper    LocalDataWiper
	Backend  Backend
	Session  SessionHolder
	Sealer   TokenSealer
	Sends    Dispatcher
	Dialog   *dialog.Queue
	Hub      *events.Hub
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string

	Weights        domain.ImportanceWeights
	HandledHistory int

	drains singleflight.Group
}

func (r *Repository) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Repository) newID() string {
	if r.NewID == nil {
		return uuid.NewString()
	}
	return r.NewID()
}

func (r *Repository) weights() domain.ImportanceWeights {
	w := r.Weights
	def := domain.DefaultImportanceWeights()
	if w.Decay <= 0 || w.Decay >= 1 {
		w.Decay = def.Decay
	}
	if w.Increment <= 0 {
		w.Increment = def.Increment
	}
	return w
}

func (r *Repository) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Repository) ListFriends(ctx context.Context) ([]domain.Friend, error) {
	return r.Friends.ListFriends(ctx)
}

func (r *Repository) GetFriend(ctx context.Context, username string) (domain.Friend, error) {
	return r.Friends.GetFriend(ctx, username)
}

func (r *Repository) ListPending(ctx context.Context) ([]domain.PendingFriend, error) {
	return r.Pending.ListPending(ctx)
}

func (r *Repository) ListCached(ctx context.Context) ([]domain.CachedFriend, error) {
	return r.Cached.ListCached(ctx)
}

func (r *Repository) ListMessages(ctx context.Context, peer string, limit int) ([]domain.Message, error) {
	return r.Messages.ListMessages(ctx, strings.TrimSpace(peer), limit)
}

func (r *Repository) ListJobs(ctx context.Context) ([]domain.SendJob, error) {
	return r.Jobs.ListJobs(ctx)
}

// SendAlert records an outgoing alert and hands it to the send worker. It
// returns the start id that identifies the send until the server assigns an
// alert id.
func (r *Repository) SendAlert(ctx context.Context, to, body string) (string, error) {
	to = strings.TrimSpace(to)
	body = strings.TrimSpace(body)
	fields := map[string]string{}
	if to == "" {
		fields["to"] = "required"
	}
	if utf8.RuneCountInString(body) > maxAlertBody {
		fields["message"] = fmt.Sprintf("must be at most %d characters", maxAlertBody)
	}
	if len(fields) > 0 {
		return "", domain.NewValidationError(fields)
	}

	startID := r.newID()
	f, msg, err := r.Friends.BeginSend(ctx, domain.OutgoingAlert{
		StartID: startID,
		To:      to,
		Body:    body,
		At:      r.now(),
		Weights: r.weights(),
	})
	if err != nil {
		return "", err
	}
	r.Hub.Publish(events.TopicFriendUpdated, f)
	r.Hub.Publish(events.TopicMessageAdded, msg)

	job := domain.SendJob{StartID: startID, To: to, Body: body, State: domain.JobPending, CreatedAt: msg.Timestamp}
	if r.Sends != nil {
		r.Sends.Dispatch(job)
	}
	return startID, nil
}

// ReceiveAlert records an incoming alert once. The bool is false for a
// replayed alert id.
func (r *Repository) ReceiveAlert(ctx context.Context, from, alertID, body string, ts time.Time) (domain.Message, bool, error) {
	if from == "" || alertID == "" {
		return domain.Message{}, false, domain.NewValidationError(map[string]string{"alert": "sender and alert id required"})
	}
	if ts.IsZero() {
		ts = r.now()
	}
	msg, created, err := r.Messages.RecordIncoming(ctx, domain.IncomingAlert{
		From:         from,
		AlertID:      alertID,
		Body:         body,
		Timestamp:    ts.UTC(),
		HistoryLimit: r.HandledHistory,
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	if !created {
		r.Metrics.DuplicateAlert()
		r.logger().Debug("repository: duplicate alert ignored", "from", from, "alert_id", alertID)
		return domain.Message{}, false, nil
	}
	r.Hub.Publish(events.TopicMessageAdded, msg)
	if f, err := r.Friends.GetFriend(ctx, from); err == nil {
		r.Hub.Publish(events.TopicFriendUpdated, f)
	}
	return msg, true, nil
}

func (r *Repository) AckDelivered(ctx context.Context, username, alertID string) error {
	return r.applyAck(ctx, username, alertID, domain.StatusDelivered)
}

func (r *Repository) AckRead(ctx context.Context, username, alertID string) error {
	return r.applyAck(ctx, username, alertID, domain.StatusRead)
}

func (r *Repository) applyAck(ctx context.Context, username, alertID string, status domain.MessageStatus) error {
	f, changed, err := r.Friends.ApplyStatus(ctx, username, alertID, status, r.now())
	if err != nil {
		return err
	}
	if !changed {
		r.Metrics.StaleUpdate(string(status))
		r.logger().Debug("repository: stale status update dropped",
			"username", username,
			"alert_id", alertID,
			"status", status,
			"current_id", f.LastMessageSentID,
			"current_status", f.LastMessageStatus,
		)
		return nil
	}
	r.Hub.Publish(events.TopicFriendUpdated, f)
	return nil
}

// ReconcileFriends makes the local lists match the server's.
func (r *Repository) ReconcileFriends(ctx context.Context, friends []domain.RemoteFriend, pending []domain.PendingFriend) error {
	before, err := r.Pending.ListPending(ctx)
	if err != nil {
		return err
	}
	if err := r.Friends.ReconcileFriends(ctx, friends, pending, r.now()); err != nil {
		return err
	}
	if after, err := r.Pending.ListPending(ctx); err != nil {
		r.logger().Warn("repository: list pending after reconcile failed", "err", err)
	} else {
		r.promptFriendRequests(before, after)
	}
	r.Hub.Publish(events.TopicFriendsReconciled, map[string]int{"friends": len(friends), "pending": len(pending)})
	r.Hub.Publish(events.TopicPendingChanged, nil)
	r.Hub.Publish(events.TopicCachedChanged, nil)
	return nil
}

// promptFriendRequests queues a prompt for each newly arrived request and
// drops waiting prompts for requests that are gone.
func (r *Repository) promptFriendRequests(before, after []domain.PendingFriend) {
	if r.Dialog == nil {
		return
	}
	known := make(map[string]bool, len(before))
	for _, p := range before {
		known[p.Username] = true
	}
	current := make(map[string]bool, len(after))
	for _, p := range after {
		current[p.Username] = true
		if !known[p.Username] {
			r.Dialog.Push(dialog.FriendRequest(p))
		}
	}
	r.Dialog.Remove(func(s dialog.Status) bool {
		return s.Kind == dialog.KindFriendRequest && !current[s.Username]
	})
	r.Dialog.DismissIf(func(s dialog.Status) bool {
		return s.Kind == dialog.KindFriendRequest && !current[s.Username]
	})
}

// CompleteSend records the server alert id for a finished job.
func (r *Repository) CompleteSend(ctx context.Context, job domain.SendJob, alertID string) error {
	f, applied, err := r.Friends.CompleteSend(ctx, job.To, job.StartID, alertID, r.now())
	if err != nil {
		return err
	}
	if !applied {
		r.logger().Debug("repository: completed send no longer current", "start_id", job.StartID, "alert_id", alertID)
		return nil
	}
	r.Hub.Publish(events.TopicFriendUpdated, f)
	return nil
}

// FailSend resolves a job to error. Auth failures park the job so it can
// resume after the next sign-in.
func (r *Repository) FailSend(ctx context.Context, job domain.SendJob, kind domain.FailureKind) error {
	park := kind == domain.FailureAuth
	f, applied, err := r.Friends.FailSend(ctx, job.To, job.StartID, string(kind), park, r.now())
	if err != nil {
		return err
	}
	if applied {
		r.Hub.Publish(events.TopicFriendUpdated, f)
	}
	return nil
}

// ResumeParked moves parked jobs back to sending and returns them. A parked
// job whose friend has moved on to another alert is dropped.
func (r *Repository) ResumeParked(ctx context.Context) ([]domain.SendJob, error) {
	jobs, err := r.Jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.SendJob
	for _, job := range jobs {
		if job.State != domain.JobParked {
			continue
		}
		f, applied, err := r.Friends.ApplyStatus(ctx, job.To, job.StartID, domain.StatusSending, r.now())
		if err != nil {
			return out, err
		}
		if !applied {
			if err := r.Jobs.DeleteJob(ctx, job.StartID); err != nil {
				return out, err
			}
			continue
		}
		if err := r.Jobs.SetJobState(ctx, job.StartID, domain.JobPending); err != nil {
			return out, err
		}
		r.Hub.Publish(events.TopicFriendUpdated, f)
		job.State = domain.JobPending
		out = append(out, job)
	}
	return out, nil
}

// RecoverInterrupted fails every job a previous process left pending or
// running and returns them.
func (r *Repository) RecoverInterrupted(ctx context.Context) ([]domain.SendJob, error) {
	jobs, err := r.Jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.SendJob
	for _, job := range jobs {
		if job.State == domain.JobParked {
			continue
		}
		if err := r.FailSend(ctx, job, domain.FailureInterrupted); err != nil {
			return out, err
		}
		out = append(out, job)
	}
	return out, nil
}

// CancelParked drops a parked job. Running jobs are cancelled by the worker.
func (r *Repository) CancelParked(ctx context.Context, startID string) error {
	job, err := r.Jobs.GetJob(ctx, startID)
	if err != nil {
		return err
	}
	if job.State != domain.JobParked {
		return domain.ErrNotFound
	}
	return r.FailSend(ctx, job, domain.FailureCanceled)
}

func (r *Repository) TopFriends(ctx context.Context, k int) ([]domain.Friend, error) {
	if k < 0 {
		return nil, domain.NewValidationError(map[string]string{"k": "must not be negative"})
	}
	return r.Friends.TopImportant(ctx, k)
}

// RunImportanceDecay applies the decay factor every interval until ctx ends.
func (r *Repository) RunImportanceDecay(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Friends.DecayImportance(ctx, r.weights().Decay); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				r.logger().Warn("repository: importance decay failed", "err", err)
			}
		}
	}
}
