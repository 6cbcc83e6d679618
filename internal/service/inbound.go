package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/metrics"
	"NudgeAgent/internal/notifications"
)

const nameLookupTimeout = 3 * time.Second

type ReceiptSender interface {
	GetName(ctx context.Context, username string) (string, error)
	AlertDelivered(ctx context.Context, alertID string) error
	AlertRead(ctx context.Context, alertID string) error
}

// InboundRouter applies decoded push events: it records alerts, advances
// acknowledgement status and decides how an alert is shown.
type InboundRouter struct {
	Repo      *Repository
	Backend   ReceiptSender
	Engine    *notifications.Engine
	Dialog    *dialog.Queue
	Presenter notifications.Presenter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time

	scope *taskScope
}

func (r *InboundRouter) Start(ctx context.Context) {
	r.scope = newTaskScope(ctx, r.logger())
}

func (r *InboundRouter) Close() {
	if r.scope != nil {
		r.scope.Close()
	}
	if r.Engine != nil {
		r.Engine.Close()
	}
}

// Wait blocks until outstanding receipts have been sent.
func (r *InboundRouter) Wait() {
	if r.scope != nil {
		r.scope.Wait()
	}
}

// Handle routes one push event. Replays and stale acknowledgements are
// absorbed; unknown actions are logged and ignored.
func (r *InboundRouter) Handle(ctx context.Context, ev domain.PushEvent) error {
	action := strings.ToLower(strings.TrimSpace(string(ev.Action)))
	switch domain.PushAction(action) {
	case domain.PushAlert:
		r.Metrics.InboundEvent(action)
		return r.handleAlert(ctx, ev)
	case domain.PushDelivered:
		r.Metrics.InboundEvent(action)
		if ev.From == "" || ev.AlertID == "" {
			return domain.NewValidationError(map[string]string{"event": "from and alert_id required"})
		}
		return r.Repo.AckDelivered(ctx, ev.From, ev.AlertID)
	case domain.PushRead:
		r.Metrics.InboundEvent(action)
		if ev.From == "" || ev.AlertID == "" {
			return domain.NewValidationError(map[string]string{"event": "from and alert_id required"})
		}
		if err := r.Repo.AckRead(ctx, ev.From, ev.AlertID); err != nil {
			return err
		}
		r.dismissAlert(ctx, ev.AlertID)
		return nil
	default:
		r.Metrics.InboundEvent("unknown")
		r.logger().Info("inbound: unknown action ignored", "action", ev.Action, "from", ev.From)
		return nil
	}
}

func (r *InboundRouter) handleAlert(ctx context.Context, ev domain.PushEvent) error {
	if ev.From == "" || ev.AlertID == "" {
		return domain.NewValidationError(map[string]string{"event": "from and alert_id required"})
	}
	if me := r.me(); ev.To != "" && me != "" && !strings.EqualFold(ev.To, me) {
		r.logger().Warn("inbound: alert for another identity dropped", "to", ev.To, "from", ev.From, "alert_id", ev.AlertID)
		return domain.ErrMisrouted
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	_, created, err := r.Repo.ReceiveAlert(ctx, ev.From, ev.AlertID, ev.Message, ts)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	r.receipt(ev.AlertID, "delivered", func(ctx context.Context) error {
		return r.Backend.AlertDelivered(ctx, ev.AlertID)
	})

	friend := r.resolveFriend(ctx, ev.From)
	r.present(ctx, friend, ev.AlertID, ev.Message)
	return nil
}

// present shows a blocking prompt when the user can act on it right away
// and a dismissible notification otherwise. Both carry the alert id.
func (r *InboundRouter) present(ctx context.Context, friend domain.Friend, alertID, body string) {
	mode := notifications.PresentNotification
	if r.Engine != nil && r.Engine.Device != nil {
		mode = r.Engine.Decide(r.Engine.Device.State(ctx))
	}

	if mode == notifications.PresentPrompt && r.Dialog != nil {
		prompt := dialog.AlertPrompt(friend, alertID, body)
		// A newer alert from the same friend supersedes the older one,
		// whether it is on screen or still waiting.
		if prev, ok := r.Dialog.Lookup(prompt.Key()); ok && prev.AlertID != alertID {
			r.silence(ctx, prev.AlertID)
		}
		prompt.Notice = r.start(ctx, alertID).Notice
		if active, ok := r.Dialog.Active(); ok && active.Key() == prompt.Key() {
			r.Dialog.Swap(prompt)
		} else {
			r.Dialog.Push(prompt)
		}
		return
	}

	effects := r.start(ctx, alertID)
	if r.Presenter == nil {
		return
	}
	text := body
	if text == "" {
		text = friend.Name() + " wants your attention."
	}
	if effects.Notice != "" {
		text += "\n" + effects.Notice
		if r.Dialog != nil {
			r.Dialog.Push(dialog.RingerNotice(effects.Notice))
		}
	}
	n := domain.Notification{
		ID:        notifications.NotificationID(domain.NotificationAlert, alertID),
		Kind:      domain.NotificationAlert,
		Friend:    friend.Username,
		AlertID:   alertID,
		Title:     friend.Name(),
		Body:      text,
		CreatedAt: r.now(),
	}
	if err := r.Presenter.Post(ctx, n); err != nil {
		r.logger().Warn("inbound: post notification failed", "err", err, "alert_id", alertID)
	}
}

// silence stops the ringer for a superseded alert and drops its notification.
func (r *InboundRouter) silence(ctx context.Context, alertID string) {
	if r.Engine != nil {
		r.Engine.Silence(alertID)
	}
	if r.Presenter == nil {
		return
	}
	if err := r.Presenter.Clear(ctx, notifications.NotificationID(domain.NotificationAlert, alertID)); err != nil {
		r.logger().Warn("inbound: clear superseded notification failed", "err", err, "alert_id", alertID)
	}
}

func (r *InboundRouter) start(ctx context.Context, alertID string) notifications.Effects {
	if r.Engine == nil {
		return notifications.Effects{}
	}
	return r.Engine.Start(ctx, alertID)
}

// AcknowledgeAlert is the local user dismissing a received alert. It stops
// the ringer, removes the prompt or notification and tells the sender it
// was read.
func (r *InboundRouter) AcknowledgeAlert(ctx context.Context, alertID string) error {
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return domain.NewValidationError(map[string]string{"alert_id": "required"})
	}
	r.dismissAlert(ctx, alertID)
	r.receipt(alertID, "read", func(ctx context.Context) error {
		return r.Backend.AlertRead(ctx, alertID)
	})
	return nil
}

func (r *InboundRouter) dismissAlert(ctx context.Context, alertID string) {
	if r.Engine != nil {
		r.Engine.Silence(alertID)
	}
	if r.Dialog != nil {
		isAlert := func(s dialog.Status) bool { return s.Kind == dialog.KindAlert && s.AlertID == alertID }
		r.Dialog.DismissIf(isAlert)
		r.Dialog.Remove(isAlert)
	}
	if r.Presenter != nil {
		if err := r.Presenter.Clear(ctx, notifications.NotificationID(domain.NotificationAlert, alertID)); err != nil {
			r.logger().Warn("inbound: clear notification failed", "err", err, "alert_id", alertID)
		}
	}
}

// Reset drops every prompt and visible notification, used on sign-out.
func (r *InboundRouter) Reset(ctx context.Context) {
	if r.Engine != nil {
		r.Engine.Close()
	}
	if r.Dialog != nil {
		r.Dialog.Clear()
	}
	if c, ok := r.Presenter.(interface{ ClearAll(context.Context) }); ok {
		c.ClearAll(ctx)
	}
}

// resolveFriend names the sender from the local row, then the server, then
// the raw username.
func (r *InboundRouter) resolveFriend(ctx context.Context, username string) domain.Friend {
	if f, err := r.Repo.GetFriend(ctx, username); err == nil && f.DisplayName != "" {
		return f
	}
	friend := domain.Friend{Username: username}
	if r.Backend == nil {
		return friend
	}
	lookupCtx, cancel := context.WithTimeout(ctx, nameLookupTimeout)
	defer cancel()
	name, err := r.Backend.GetName(lookupCtx, username)
	if err != nil {
		r.logger().Debug("inbound: name lookup failed", "err", err, "username", username)
		return friend
	}
	friend.DisplayName = name
	return friend
}

// receipt sends an acknowledgement in the background. Failures are logged
// only; the sender's status stays where it was.
func (r *InboundRouter) receipt(alertID, kind string, send func(ctx context.Context) error) {
	if r.Backend == nil {
		return
	}
	fn := func(ctx context.Context) {
		if err := send(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger().Warn("inbound: receipt failed", "err", err, "alert_id", alertID, "kind", kind)
		}
	}
	if r.scope == nil {
		go fn(context.Background())
		return
	}
	r.scope.Go(kind+":"+alertID, fn)
}

func (r *InboundRouter) me() string {
	if r.Repo == nil || r.Repo.Session == nil {
		return ""
	}
	return r.Repo.Session.Username()
}

func (r *InboundRouter) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *InboundRouter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
