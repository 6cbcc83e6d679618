package notifications

import (
	"context"
	"sync"

	"NudgeAgent/internal/events"
)

// EffectKind names a hardware effect the presentation shell must perform.
type EffectKind string

const (
	EffectSetMode   EffectKind = "set_mode"
	EffectRingStart EffectKind = "ring_start"
	EffectRingStop  EffectKind = "ring_stop"
	EffectVibrate   EffectKind = "vibrate"
)

type Effect struct {
	Kind EffectKind    `json:"kind"`
	Mode InterruptMode `json:"mode,omitempty"`
}

// ReportedDevice is a Device whose state is reported by the presentation
// shell and whose effects are published on the hub for the shell to carry
// out.
type ReportedDevice struct {
	Hub *events.Hub

	mu      sync.Mutex
	state   DeviceState
	ringing bool
}

func NewReportedDevice(hub *events.Hub) *ReportedDevice {
	return &ReportedDevice{
		Hub:   hub,
		state: DeviceState{Mode: ModeNormal},
	}
}

// Report replaces the known device state. An invalid mode keeps the
// previous one.
func (d *ReportedDevice) Report(st DeviceState) DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !st.Mode.Valid() {
		st.Mode = d.state.Mode
	}
	d.state = st
	return d.state
}

func (d *ReportedDevice) State(ctx context.Context) DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *ReportedDevice) SetInterruptMode(ctx context.Context, mode InterruptMode) error {
	d.mu.Lock()
	if !d.state.OverrideAllowed {
		d.mu.Unlock()
		return ErrOverrideDenied
	}
	d.state.Mode = mode
	d.mu.Unlock()
	d.Hub.Publish(events.TopicDeviceEffect, Effect{Kind: EffectSetMode, Mode: mode})
	return nil
}

func (d *ReportedDevice) StartRinging(ctx context.Context) error {
	d.mu.Lock()
	d.ringing = true
	d.mu.Unlock()
	d.Hub.Publish(events.TopicDeviceEffect, Effect{Kind: EffectRingStart})
	return nil
}

func (d *ReportedDevice) StopRinging(ctx context.Context) {
	d.mu.Lock()
	was := d.ringing
	d.ringing = false
	d.mu.Unlock()
	if was {
		d.Hub.Publish(events.TopicDeviceEffect, Effect{Kind: EffectRingStop})
	}
}

func (d *ReportedDevice) Vibrate(ctx context.Context) error {
	d.Hub.Publish(events.TopicDeviceEffect, Effect{Kind: EffectVibrate})
	return nil
}

func (d *ReportedDevice) Ringing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ringing
}
