package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
)

func TestSendAlertValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.repo.SendAlert(ctx, "  ", "hi"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty recipient, got %v", err)
	}
	h.addFriend(t, "amy", "Amy")
	if _, err := h.repo.SendAlert(ctx, "amy", strings.Repeat("x", maxAlertBody+1)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for long body, got %v", err)
	}
	if _, err := h.repo.SendAlert(ctx, "nobody", "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown friend, got %v", err)
	}
}

func TestSendAlertRecordsSendingBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	h.repo.Sends = nil
	h.addFriend(t, "amy", "Amy")

	startID, err := h.repo.SendAlert(context.Background(), "amy", "ping")
	if err != nil {
		t.Fatalf("send alert: %v", err)
	}
	f := h.friend(t, "amy")
	if f.LastMessageStatus != domain.StatusSending || f.LastMessageSentID != startID {
		t.Fatalf("expected sending/%s, got %s/%s", startID, f.LastMessageStatus, f.LastMessageSentID)
	}
	if f.Sent != 1 {
		t.Fatalf("expected sent counter 1, got %d", f.Sent)
	}
	jobs, err := h.repo.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].StartID != startID || jobs[0].State != domain.JobPending {
		t.Fatalf("expected one pending job, got %+v", jobs)
	}
	msgs, err := h.repo.ListMessages(context.Background(), "amy", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Direction != domain.DirectionOutgoing || msgs[0].Body != "ping" {
		t.Fatalf("expected one outgoing message, got %+v", msgs)
	}
}

func TestImportanceDecaysPerSend(t *testing.T) {
	h := newHarness(t)
	h.repo.Sends = nil
	h.repo.Weights = domain.ImportanceWeights{Decay: 0.5, Increment: 1}
	h.addFriend(t, "amy", "")
	h.addFriend(t, "bob", "")
	ctx := context.Background()

	if _, err := h.repo.SendAlert(ctx, "amy", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := h.repo.SendAlert(ctx, "bob", ""); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	amy := h.friend(t, "amy")
	if math.Abs(amy.Importance-0.125) > 1e-9 {
		t.Fatalf("expected amy importance 0.125, got %v", amy.Importance)
	}
	top, err := h.repo.TopFriends(ctx, 1)
	if err != nil {
		t.Fatalf("top friends: %v", err)
	}
	if len(top) != 1 || top[0].Username != "bob" {
		t.Fatalf("expected bob on top, got %+v", top)
	}
	if _, err := h.repo.TopFriends(ctx, -1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for negative k, got %v", err)
	}
}

func TestReceiveAlertRecordsReplayOnce(t *testing.T) {
	h := newHarness(t)
	h.addFriend(t, "amy", "Amy")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, created, err := h.repo.ReceiveAlert(ctx, "amy", "a-1", "hey", testNow)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if created != (i == 0) {
			t.Fatalf("delivery %d: created=%v", i, created)
		}
	}
	msgs, err := h.repo.ListMessages(ctx, "amy", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if f := h.friend(t, "amy"); f.Received != 1 {
		t.Fatalf("expected received 1, got %d", f.Received)
	}
}

func TestAcksAreMonotonicAndScopedToCurrentAlert(t *testing.T) {
	h := newHarness(t)
	h.repo.Sends = nil
	h.addFriend(t, "amy", "Amy")
	ctx := context.Background()

	startID, err := h.repo.SendAlert(ctx, "amy", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	job, err := h.store.GetJob(ctx, startID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	// An ack that arrives before the server id is known is stale.
	if err := h.repo.AckDelivered(ctx, "amy", "a-1"); err != nil {
		t.Fatalf("early ack: %v", err)
	}
	if f := h.friend(t, "amy"); f.LastMessageStatus != domain.StatusSending {
		t.Fatalf("expected sending after early ack, got %s", f.LastMessageStatus)
	}

	if err := h.repo.CompleteSend(ctx, job, "a-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := h.repo.AckRead(ctx, "amy", "a-1"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := h.repo.AckDelivered(ctx, "amy", "a-1"); err != nil {
		t.Fatalf("late delivered: %v", err)
	}
	if err := h.repo.AckDelivered(ctx, "amy", "a-0"); err != nil {
		t.Fatalf("old alert ack: %v", err)
	}

	f := h.friend(t, "amy")
	if f.LastMessageStatus != domain.StatusRead || f.LastMessageSentID != "a-1" {
		t.Fatalf("expected read/a-1, got %s/%s", f.LastMessageStatus, f.LastMessageSentID)
	}
}

func TestReconcileFriendsIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.addFriend(t, "gone", "")
	ctx := context.Background()
	friends := []domain.RemoteFriend{{Username: "amy", DisplayName: "Amy"}, {Username: "bob"}}
	pending := []domain.PendingFriend{{Username: "cat"}, {Username: "amy"}}

	for i := 0; i < 2; i++ {
		if err := h.repo.ReconcileFriends(ctx, friends, pending); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
	}
	got, err := h.repo.ListFriends(ctx)
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 friends, got %+v", got)
	}
	for _, f := range got {
		if f.Username == "gone" {
			t.Fatalf("expected pruned friend to be removed")
		}
	}
	p, err := h.repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(p) != 1 || p[0].Username != "cat" {
		t.Fatalf("expected only cat pending, got %+v", p)
	}
}

func TestReconcileFriendsPromptsNewRequestsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := []domain.PendingFriend{{Username: "cat", DisplayName: "Cat"}}
	for i := 0; i < 2; i++ {
		if err := h.repo.ReconcileFriends(ctx, nil, pending); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
		h.queue.Pop()
	}
	snap := h.queue.Snapshot()
	if snap.Active != nil || len(snap.Waiting) != 0 {
		t.Fatalf("expected a known request not to be prompted again, got %+v", snap)
	}

	h.queue.Push(dialog.SignInRequired())
	pending = append(pending, domain.PendingFriend{Username: "dan"})
	if err := h.repo.ReconcileFriends(ctx, nil, pending); err != nil {
		t.Fatalf("reconcile dan: %v", err)
	}
	waiting := h.queue.Snapshot().Waiting
	if len(waiting) != 1 || waiting[0].Kind != dialog.KindFriendRequest || waiting[0].Username != "dan" {
		t.Fatalf("expected dan's request waiting, got %+v", waiting)
	}

	if err := h.repo.ReconcileFriends(ctx, nil, pending[:1]); err != nil {
		t.Fatalf("reconcile without dan: %v", err)
	}
	if waiting := h.queue.Snapshot().Waiting; len(waiting) != 0 {
		t.Fatalf("expected withdrawn request prompt removed, got %+v", waiting)
	}
}

func TestRecoverInterruptedFailsLeftoverJobs(t *testing.T) {
	h := newHarness(t)
	h.repo.Sends = nil
	h.addFriend(t, "amy", "Amy")
	ctx := context.Background()

	startID, err := h.repo.SendAlert(ctx, "amy", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	h.repo.Sends = h.sends
	h.start(t)

	f := h.friend(t, "amy")
	if f.LastMessageStatus != domain.StatusError {
		t.Fatalf("expected error after restart, got %s", f.LastMessageStatus)
	}
	if _, err := h.store.GetJob(ctx, startID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected job removed, got %v", err)
	}
	var found bool
	for _, n := range h.presenter.Posted() {
		if n.Kind == domain.NotificationSendFailed && strings.Contains(n.Body, "Amy") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected send failed notification naming Amy, got %+v", h.presenter.Posted())
	}
}

func TestRunImportanceDecayStopsWithContext(t *testing.T) {
	h := newHarness(t)
	h.addFriend(t, "amy", "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.repo.RunImportanceDecay(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("decay loop did not stop")
	}
}
