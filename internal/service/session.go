package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/events"
	"NudgeAgent/internal/notifications"
)

const (
	prefSessionUser   = "session.username"
	prefSessionToken  = "session.token"
	prefPushToken     = "push.token"
	prefNotifications = "notifications.settings"
)

type SessionInfo struct {
	Username string `json:"username,omitempty"`
	Active   bool   `json:"active"`
}

func (r *Repository) SessionInfo() SessionInfo {
	if r.Session == nil {
		return SessionInfo{}
	}
	return SessionInfo{Username: r.Session.Username(), Active: r.Session.Active()}
}

func validateCredentials(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	fields := map[string]string{}
	if username == "" {
		fields["username"] = "required"
	}
	if password == "" {
		fields["password"] = "required"
	}
	if len(fields) > 0 {
		return "", domain.NewValidationError(fields)
	}
	return username, nil
}

func (r *Repository) Register(ctx context.Context, username, displayName, password string) (SessionInfo, error) {
	username, err := validateCredentials(username, password)
	if err != nil {
		return SessionInfo{}, err
	}
	token, err := r.Backend.RegisterUser(ctx, username, strings.TrimSpace(displayName), password)
	if err != nil {
		return SessionInfo{}, err
	}
	return r.establish(ctx, username, token)
}

func (r *Repository) Login(ctx context.Context, username, password string) (SessionInfo, error) {
	username, err := validateCredentials(username, password)
	if err != nil {
		return SessionInfo{}, err
	}
	token, err := r.Backend.GetToken(ctx, username, password)
	if err != nil {
		return SessionInfo{}, err
	}
	return r.establish(ctx, username, token)
}

// establish stores the new session and runs the sign-in follow-ups: push
// registration, cached intent drain, parked send resume and a friend sync.
// Follow-up failures are logged, not returned.
func (r *Repository) establish(ctx context.Context, username, token string) (SessionInfo, error) {
	prev, _, err := r.Prefs.GetPreference(ctx, prefSessionUser)
	if err != nil {
		return SessionInfo{}, err
	}
	if prev != "" && !strings.EqualFold(prev, username) {
		if err := r.Wiper.WipeLocalData(ctx); err != nil {
			return SessionInfo{}, err
		}
	}

	sealed := token
	if r.Sealer != nil {
		sealed, err = r.Sealer.Seal([]byte(token))
		if err != nil {
			return SessionInfo{}, fmt.Errorf("seal session token: %w", err)
		}
	}
	if err := r.Prefs.SetPreference(ctx, prefSessionUser, username); err != nil {
		return SessionInfo{}, err
	}
	if err := r.Prefs.SetPreference(ctx, prefSessionToken, sealed); err != nil {
		return SessionInfo{}, err
	}
	r.Session.Set(username, token)
	info := r.SessionInfo()
	r.Hub.Publish(events.TopicSessionChanged, info)

	if push, ok, err := r.Prefs.GetPreference(ctx, prefPushToken); err == nil && ok && push != "" {
		if err := r.Backend.RegisterDevice(ctx, push); err != nil {
			r.logger().Warn("repository: register push endpoint failed", "err", err)
		}
	}
	if err := r.DrainCached(ctx); err != nil {
		r.logger().Warn("repository: drain cached friends failed", "err", err)
	}
	jobs, err := r.ResumeParked(ctx)
	if err != nil {
		r.logger().Warn("repository: resume parked sends failed", "err", err)
	}
	for _, job := range jobs {
		if r.Sends != nil {
			r.Sends.Dispatch(job)
		}
	}
	if err := r.Sync(ctx); err != nil {
		r.logger().Warn("repository: sync after sign-in failed", "err", err)
	}
	return info, nil
}

// RestoreSession loads a stored session without touching the network.
func (r *Repository) RestoreSession(ctx context.Context) (SessionInfo, error) {
	username, ok, err := r.Prefs.GetPreference(ctx, prefSessionUser)
	if err != nil || !ok {
		return SessionInfo{}, err
	}
	sealed, ok, err := r.Prefs.GetPreference(ctx, prefSessionToken)
	if err != nil || !ok || sealed == "" {
		return SessionInfo{}, err
	}
	token := sealed
	if r.Sealer != nil {
		raw, err := r.Sealer.Open(sealed)
		if err != nil {
			r.logger().Warn("repository: stored session unreadable, sign in again", "err", err)
			_ = r.Prefs.DeletePreference(ctx, prefSessionToken)
			return SessionInfo{}, nil
		}
		token = string(raw)
	}
	r.Session.Set(username, token)
	info := r.SessionInfo()
	r.Hub.Publish(events.TopicSessionChanged, info)
	return info, nil
}

// Logout unregisters the push endpoint when possible and wipes every
// account-scoped local row.
func (r *Repository) Logout(ctx context.Context) error {
	if push, ok, err := r.Prefs.GetPreference(ctx, prefPushToken); err == nil && ok && push != "" && r.Session.Active() {
		if err := r.Backend.UnregisterDevice(ctx, push); err != nil {
			r.logger().Warn("repository: unregister push endpoint failed", "err", err)
		}
	}
	r.Session.Clear()
	for _, key := range []string{prefSessionToken, prefSessionUser} {
		if err := r.Prefs.DeletePreference(ctx, key); err != nil {
			return err
		}
	}
	if err := r.Wiper.WipeLocalData(ctx); err != nil {
		return err
	}
	r.Hub.Publish(events.TopicSessionChanged, r.SessionInfo())
	r.Hub.Publish(events.TopicFriendsReconciled, map[string]int{"friends": 0, "pending": 0})
	return nil
}

// SetPushToken records the endpoint the push transport delivers to and
// registers it when signed in.
func (r *Repository) SetPushToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.NewValidationError(map[string]string{"token": "required"})
	}
	old, _, err := r.Prefs.GetPreference(ctx, prefPushToken)
	if err != nil {
		return err
	}
	if err := r.Prefs.SetPreference(ctx, prefPushToken, token); err != nil {
		return err
	}
	if !r.Session.Active() {
		return nil
	}
	if old != "" && old != token {
		if err := r.Backend.UnregisterDevice(ctx, old); err != nil {
			r.logger().Warn("repository: unregister old push endpoint failed", "err", err)
		}
	}
	return r.Backend.RegisterDevice(ctx, token)
}

// NotificationSettings returns the stored settings or the defaults.
func (r *Repository) NotificationSettings(ctx context.Context) (notifications.Settings, error) {
	raw, ok, err := r.Prefs.GetPreference(ctx, prefNotifications)
	if err != nil {
		return notifications.Settings{}, err
	}
	if !ok || raw == "" {
		return notifications.DefaultSettings(), nil
	}
	var s notifications.Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		r.logger().Warn("repository: stored notification settings unreadable", "err", err)
		return notifications.DefaultSettings(), nil
	}
	return s, nil
}

func (r *Repository) SetNotificationSettings(ctx context.Context, s notifications.Settings) (notifications.Settings, error) {
	fields := map[string]string{}
	for _, m := range s.Ring {
		if !m.Valid() {
			fields["ring"] = "unknown interrupt mode " + string(m)
		}
	}
	for _, m := range s.Vibrate {
		if !m.Valid() {
			fields["vibrate"] = "unknown interrupt mode " + string(m)
		}
	}
	if s.SendDelay < 0 {
		fields["send_delay"] = "must not be negative"
	}
	if len(fields) > 0 {
		return notifications.Settings{}, domain.NewValidationError(fields)
	}
	if s.Ring == nil {
		s.Ring = notifications.ModeSet{}
	}
	if s.Vibrate == nil {
		s.Vibrate = notifications.ModeSet{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return notifications.Settings{}, fmt.Errorf("marshal notification settings: %w", err)
	}
	if err := r.Prefs.SetPreference(ctx, prefNotifications, string(raw)); err != nil {
		return notifications.Settings{}, err
	}
	return s, nil
}

// SendDelay is the window in which a new send can still be cancelled for free.
func (r *Repository) SendDelay(ctx context.Context) time.Duration {
	s, err := r.NotificationSettings(ctx)
	if err != nil {
		return 0
	}
	return s.SendDelay
}
