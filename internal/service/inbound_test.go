package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/notifications"
)

func alertEvent(from, alertID string) domain.PushEvent {
	return domain.PushEvent{Action: domain.PushAlert, From: from, To: "me", AlertID: alertID, Message: "look", Timestamp: testNow}
}

func TestInboundAlertShowsPromptAndSendsDeliveredOnce(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "Amy")
	h.start(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.inbound.Handle(ctx, alertEvent("amy", "a-1")); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	h.inbound.Wait()

	active, ok := h.queue.Active()
	if !ok || active.Kind != dialog.KindAlert || active.AlertID != "a-1" || active.DisplayName != "Amy" {
		t.Fatalf("expected alert prompt from Amy, got %+v", active)
	}
	if n := h.backend.count("alert_delivered"); n != 1 {
		t.Fatalf("expected one delivered receipt, got %d", n)
	}
	if !h.device.isRinging() {
		t.Fatalf("expected device ringing")
	}
	msgs, _ := h.repo.ListMessages(ctx, "amy", 0)
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
}

func TestInboundAlertInBackgroundPostsNotification(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.device.state = notifications.DeviceState{Mode: notifications.ModeSilent}
	h.backend.getNameFunc = func(ctx context.Context, username string) (string, error) {
		return "Bobby", nil
	}
	h.start(t)

	if err := h.inbound.Handle(context.Background(), alertEvent("bob", "b-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := h.queue.Active(); ok {
		t.Fatalf("expected no prompt while in background")
	}
	posted := h.presenter.Posted()
	if len(posted) != 1 || posted[0].AlertID != "b-1" || posted[0].Title != "Bobby" {
		t.Fatalf("expected alert notification titled Bobby, got %+v", posted)
	}
	if !strings.Contains(posted[0].Body, "look") {
		t.Fatalf("expected body to carry the message, got %q", posted[0].Body)
	}
}

func TestInboundAlertForAnotherIdentityIsDropped(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.start(t)
	ev := alertEvent("amy", "a-1")
	ev.To = "someone-else"

	if err := h.inbound.Handle(context.Background(), ev); !errors.Is(err, domain.ErrMisrouted) {
		t.Fatalf("expected misrouted, got %v", err)
	}
	msgs, _ := h.repo.ListMessages(context.Background(), "amy", 0)
	if len(msgs) != 0 {
		t.Fatalf("expected nothing recorded, got %+v", msgs)
	}
}

func TestInboundNewerAlertFromSameFriendReplacesPrompt(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "Amy")
	h.start(t)
	ctx := context.Background()

	if err := h.inbound.Handle(ctx, alertEvent("amy", "a-1")); err != nil {
		t.Fatalf("handle a-1: %v", err)
	}
	if err := h.inbound.Handle(ctx, alertEvent("amy", "a-2")); err != nil {
		t.Fatalf("handle a-2: %v", err)
	}

	snap := h.queue.Snapshot()
	if snap.Active == nil || snap.Active.AlertID != "a-2" {
		t.Fatalf("expected a-2 active, got %+v", snap.Active)
	}
	if len(snap.Waiting) != 0 {
		t.Fatalf("expected old prompt dropped, got %+v", snap.Waiting)
	}
	if !h.inbound.Engine.IsSilenced("a-1") {
		t.Fatalf("expected a-1 silenced")
	}
	if !h.device.isRinging() {
		t.Fatalf("expected a-2 still ringing")
	}
}

func TestInboundNewerAlertSilencesWaitingPromptFromSameFriend(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "Amy")
	h.addFriend(t, "bob", "Bob")
	h.start(t)
	ctx := context.Background()

	for _, ev := range []domain.PushEvent{alertEvent("amy", "a-1"), alertEvent("bob", "b-1"), alertEvent("bob", "b-2")} {
		if err := h.inbound.Handle(ctx, ev); err != nil {
			t.Fatalf("handle %s: %v", ev.AlertID, err)
		}
	}

	snap := h.queue.Snapshot()
	if snap.Active == nil || snap.Active.AlertID != "a-1" {
		t.Fatalf("expected a-1 to stay active, got %+v", snap.Active)
	}
	if len(snap.Waiting) != 1 || snap.Waiting[0].AlertID != "b-2" {
		t.Fatalf("expected only b-2 waiting, got %+v", snap.Waiting)
	}
	if !h.inbound.Engine.IsSilenced("b-1") {
		t.Fatalf("expected superseded b-1 silenced")
	}
	if h.inbound.Engine.IsSilenced("a-1") || h.inbound.Engine.IsSilenced("b-2") {
		t.Fatalf("expected a-1 and b-2 left running")
	}
}

func TestInboundDeniedOverrideQueuesRingerNotice(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "Amy")
	ctx := context.Background()
	settings := notifications.DefaultSettings()
	settings.Ring = notifications.ModeSet{notifications.ModeVibrate, notifications.ModeNormal}
	if _, err := h.repo.SetNotificationSettings(ctx, settings); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	h.device.state = notifications.DeviceState{Mode: notifications.ModeVibrate}
	h.device.interruptErr = errors.New("permission denied")
	h.start(t)

	if err := h.inbound.Handle(ctx, alertEvent("amy", "a-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	active, ok := h.queue.Active()
	if !ok || active.Kind != dialog.KindRingerNotice || active.Text != notifications.OverrideDeniedNotice {
		t.Fatalf("expected ringer notice prompt, got %+v", active)
	}
	posted := h.presenter.Posted()
	if len(posted) != 1 || !strings.Contains(posted[0].Body, notifications.OverrideDeniedNotice) {
		t.Fatalf("expected notification carrying the notice, got %+v", posted)
	}
}

func TestInboundReadEventAdvancesStatusAndDismisses(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "Amy")
	h.start(t)
	ctx := context.Background()

	// Our own alert to amy, already sent.
	h.repo.Sends = nil
	startID, err := h.repo.SendAlert(ctx, "amy", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := h.repo.CompleteSend(ctx, domain.SendJob{StartID: startID, To: "amy"}, "out-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := h.inbound.Handle(ctx, domain.PushEvent{Action: domain.PushRead, From: "amy", AlertID: "out-1"}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := h.inbound.Handle(ctx, domain.PushEvent{Action: domain.PushDelivered, From: "amy", AlertID: "out-1"}); err != nil {
		t.Fatalf("late delivered: %v", err)
	}
	if f := h.friend(t, "amy"); f.LastMessageStatus != domain.StatusRead {
		t.Fatalf("expected read, got %s", f.LastMessageStatus)
	}
}

func TestAcknowledgeAlertSilencesAndSendsRead(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "Amy")
	h.start(t)
	ctx := context.Background()

	if err := h.inbound.Handle(ctx, alertEvent("amy", "a-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := h.inbound.AcknowledgeAlert(ctx, "a-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	h.inbound.Wait()

	if _, ok := h.queue.Active(); ok {
		t.Fatalf("expected prompt dismissed")
	}
	if h.device.isRinging() {
		t.Fatalf("expected ringing stopped")
	}
	if n := h.backend.count("alert_read"); n != 1 {
		t.Fatalf("expected one read receipt, got %d", n)
	}
	if err := h.inbound.AcknowledgeAlert(ctx, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInboundUnknownActionIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.inbound.Handle(context.Background(), domain.PushEvent{Action: "poke", From: "amy"}); err != nil {
		t.Fatalf("expected unknown action ignored, got %v", err)
	}
}
