package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type InterruptMode string

const (
	ModeSilent  InterruptMode = "silent"
	ModeVibrate InterruptMode = "vibrate"
	ModeNormal  InterruptMode = "normal"
)

func (m InterruptMode) Valid() bool {
	switch m {
	case ModeSilent, ModeVibrate, ModeNormal:
		return true
	}
	return false
}

var ErrOverrideDenied = errors.New("interrupt_override_denied")

// OverrideDeniedNotice is shown inside the prompt when the ringer could not
// be forced to normal.
const OverrideDeniedNotice = "Your phone is muted and the ringer could not be turned on. Allow Do Not Disturb access to hear alerts."

// ModeSet is the set of interrupt modes in which an effect is allowed.
type ModeSet []InterruptMode

func (s ModeSet) Contains(m InterruptMode) bool {
	for _, v := range s {
		if v == m {
			return true
		}
	}
	return false
}

// Settings is the user's notification configuration.
type Settings struct {
	Ring      ModeSet       `json:"ring"`
	Vibrate   ModeSet       `json:"vibrate"`
	SendDelay time.Duration `json:"send_delay"`
}

func DefaultSettings() Settings {
	return Settings{
		Ring:    ModeSet{ModeNormal},
		Vibrate: ModeSet{ModeVibrate, ModeNormal},
	}
}

type DeviceState struct {
	Mode             InterruptMode `json:"mode"`
	Idle             bool          `json:"idle"`
	Locked           bool          `json:"locked"`
	Foreground       bool          `json:"foreground"`
	OverlayPermitted bool          `json:"overlay_permitted"`
	OverrideAllowed  bool          `json:"override_allowed"`
}

type Device interface {
	State(ctx context.Context) DeviceState
	SetInterruptMode(ctx context.Context, mode InterruptMode) error
	StartRinging(ctx context.Context) error
	StopRinging(ctx context.Context)
	Vibrate(ctx context.Context) error
}

type SettingsSource interface {
	NotificationSettings(ctx context.Context) (Settings, error)
}

type Presentation string

const (
	PresentPrompt       Presentation = "prompt"
	PresentNotification Presentation = "notification"
)

// Effects describes what Start actually did for an alert.
type Effects struct {
	Ringing   bool
	Vibrating bool
	Notice    string
}

type activeAlert struct {
	cancel     context.CancelFunc
	done       chan struct{}
	priorMode  InterruptMode
	overridden bool
	ringing    bool
}

const silencedHistory = 256

// Engine decides how an incoming alert is presented and drives the ringer
// and vibration for it.
type Engine struct {
	Device          Device
	Settings        SettingsSource
	Logger          *slog.Logger
	VibrateInterval time.Duration
	MaxDuration     time.Duration

	mu            sync.Mutex
	alerts        map[string]*activeAlert
	silenced      map[string]struct{}
	silencedOrder []string
}

// Decide picks a blocking prompt when the user will see it right away or an
// overlay may be drawn, and a dismissible notification otherwise.
func (e *Engine) Decide(st DeviceState) Presentation {
	if st.Idle || st.Locked || st.Foreground || st.OverlayPermitted {
		return PresentPrompt
	}
	return PresentNotification
}

func (e *Engine) ShouldRing(ctx context.Context, alertID string) bool {
	return e.allowed(ctx, alertID, func(s Settings) ModeSet { return s.Ring })
}

func (e *Engine) ShouldVibrate(ctx context.Context, alertID string) bool {
	return e.allowed(ctx, alertID, func(s Settings) ModeSet { return s.Vibrate })
}

func (e *Engine) allowed(ctx context.Context, alertID string, pick func(Settings) ModeSet) bool {
	if e.Device == nil || e.IsSilenced(alertID) {
		return false
	}
	return pick(e.settings(ctx)).Contains(e.Device.State(ctx).Mode)
}

func (e *Engine) IsSilenced(alertID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.silenced[alertID]
	return ok
}

// Start begins ringing and/or vibrating for alertID. It is a no-op for an
// alert that is already running or has been silenced.
func (e *Engine) Start(ctx context.Context, alertID string) Effects {
	var effects Effects
	if e.Device == nil {
		return effects
	}
	ring := e.ShouldRing(ctx, alertID)
	vibrate := e.ShouldVibrate(ctx, alertID)
	if !ring && !vibrate {
		return effects
	}

	e.mu.Lock()
	if e.alerts == nil {
		e.alerts = make(map[string]*activeAlert)
	}
	if _, running := e.alerts[alertID]; running {
		e.mu.Unlock()
		return effects
	}
	if _, silenced := e.silenced[alertID]; silenced {
		e.mu.Unlock()
		return effects
	}
	runCtx, cancel := context.WithTimeout(context.Background(), e.maxDuration())
	a := &activeAlert{cancel: cancel, done: make(chan struct{})}
	e.alerts[alertID] = a
	e.mu.Unlock()

	if ring {
		st := e.Device.State(ctx)
		if st.Mode != ModeNormal {
			if err := e.Device.SetInterruptMode(ctx, ModeNormal); err != nil {
				e.logger().Warn("notifications: interrupt override failed", "err", err, "alert_id", alertID)
				effects.Notice = OverrideDeniedNotice
			} else {
				a.priorMode = st.Mode
				a.overridden = true
			}
		}
		if err := e.Device.StartRinging(ctx); err != nil {
			e.logger().Warn("notifications: start ringing failed", "err", err, "alert_id", alertID)
		} else {
			a.ringing = true
			effects.Ringing = true
		}
	}
	effects.Vibrating = vibrate

	go e.run(runCtx, alertID, a, vibrate)
	return effects
}

func (e *Engine) run(ctx context.Context, alertID string, a *activeAlert, vibrate bool) {
	defer close(a.done)

	if vibrate {
		e.pulse(ctx, alertID)
		t := time.NewTicker(e.vibrateInterval())
		defer t.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-t.C:
				e.pulse(ctx, alertID)
			}
		}
	} else {
		<-ctx.Done()
	}

	cleanup := context.Background()
	if a.ringing {
		e.Device.StopRinging(cleanup)
	}
	if a.overridden {
		if err := e.Device.SetInterruptMode(cleanup, a.priorMode); err != nil {
			e.logger().Warn("notifications: restore interrupt mode failed", "err", err, "alert_id", alertID)
		}
	}

	e.mu.Lock()
	delete(e.alerts, alertID)
	e.markSilencedLocked(alertID)
	e.mu.Unlock()
}

func (e *Engine) pulse(ctx context.Context, alertID string) {
	if err := e.Device.Vibrate(ctx); err != nil && ctx.Err() == nil {
		e.logger().Debug("notifications: vibrate failed", "err", err, "alert_id", alertID)
	}
}

// Silence stops every effect of alertID and blocks further ring/vibrate
// attempts for it. It returns once the prior interrupt mode is restored.
func (e *Engine) Silence(alertID string) {
	e.mu.Lock()
	e.markSilencedLocked(alertID)
	a := e.alerts[alertID]
	e.mu.Unlock()

	if a == nil {
		return
	}
	a.cancel()
	<-a.done
}

// Close silences every running alert.
func (e *Engine) Close() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.alerts))
	for id := range e.alerts {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.Silence(id)
	}
}

func (e *Engine) markSilencedLocked(alertID string) {
	if e.silenced == nil {
		e.silenced = make(map[string]struct{})
	}
	if _, ok := e.silenced[alertID]; ok {
		return
	}
	e.silenced[alertID] = struct{}{}
	e.silencedOrder = append(e.silencedOrder, alertID)
	if len(e.silencedOrder) > silencedHistory {
		oldest := e.silencedOrder[0]
		e.silencedOrder = e.silencedOrder[1:]
		delete(e.silenced, oldest)
	}
}

func (e *Engine) settings(ctx context.Context) Settings {
	if e.Settings == nil {
		return DefaultSettings()
	}
	s, err := e.Settings.NotificationSettings(ctx)
	if err != nil {
		e.logger().Warn("notifications: load settings failed", "err", err)
		return DefaultSettings()
	}
	return s
}

func (e *Engine) vibrateInterval() time.Duration {
	if e.VibrateInterval > 0 {
		return e.VibrateInterval
	}
	return time.Second
}

func (e *Engine) maxDuration() time.Duration {
	if e.MaxDuration > 0 {
		return e.MaxDuration
	}
	return time.Minute
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
