package memory

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"NudgeAgent/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReconcileFriends_UpsertsPrunesAndPreservesCounters(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.UpsertFriend(ctx, domain.RemoteFriend{Username: "amy", DisplayName: "Amy"}, t0); err != nil {
		t.Fatalf("UpsertFriend: %v", err)
	}
	if _, err := s.UpsertFriend(ctx, domain.RemoteFriend{Username: "bob"}, t0); err != nil {
		t.Fatalf("UpsertFriend: %v", err)
	}
	if _, _, err := s.BeginSend(ctx, domain.OutgoingAlert{StartID: "s1", To: "amy", At: t0, Weights: domain.DefaultImportanceWeights()}); err != nil {
		t.Fatalf("BeginSend: %v", err)
	}
	if _, err := s.PutCached(ctx, "carol", domain.CachedActionAdd, t0); err != nil {
		t.Fatalf("PutCached: %v", err)
	}

	friends := []domain.RemoteFriend{{Username: "amy", DisplayName: "Amy R"}, {Username: "carol"}}
	pending := []domain.PendingFriend{{Username: "dave"}, {Username: "carol"}}
	for i := 0; i < 2; i++ {
		if err := s.ReconcileFriends(ctx, friends, pending, t0); err != nil {
			t.Fatalf("ReconcileFriends: %v", err)
		}
	}

	got, _ := s.ListFriends(ctx)
	if len(got) != 2 || got[0].Username != "amy" || got[1].Username != "carol" {
		t.Fatalf("unexpected friends: %+v", got)
	}
	if got[0].Sent != 1 || got[0].LastMessageStatus != domain.StatusSending || got[0].DisplayName != "Amy R" {
		t.Fatalf("local state not preserved: %+v", got[0])
	}
	p, _ := s.ListPending(ctx)
	if len(p) != 1 || p[0].Username != "dave" {
		t.Fatalf("unexpected pending: %+v", p)
	}
	c, _ := s.ListCached(ctx)
	if len(c) != 0 {
		t.Fatalf("cached intent for a friend should be dropped: %+v", c)
	}
}

func TestRecordIncoming_ReplayIsIgnoredAndHistoryBounded(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.UpsertFriend(ctx, domain.RemoteFriend{Username: "amy"}, t0)

	in := domain.IncomingAlert{From: "amy", AlertID: "a1", Timestamp: t0, HistoryLimit: 2}
	if _, ok, _ := s.RecordIncoming(ctx, in); !ok {
		t.Fatalf("first delivery should be recorded")
	}
	if _, ok, _ := s.RecordIncoming(ctx, in); ok {
		t.Fatalf("replay should be ignored")
	}
	f, _ := s.GetFriend(ctx, "amy")
	if f.Received != 1 {
		t.Fatalf("expected received=1, got %d", f.Received)
	}

	for i := 2; i <= 3; i++ {
		in.AlertID = fmt.Sprintf("a%d", i)
		_, _, _ = s.RecordIncoming(ctx, in)
	}
	if len(s.handled["amy"]) != 2 {
		t.Fatalf("expected bounded history, got %v", s.handled["amy"])
	}
	msgs, _ := s.ListMessages(ctx, "amy", 0)
	if len(msgs) != 3 || msgs[0].AlertID != "a3" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestApplyStatus_MonotonicAndMatchedByAlertID(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.UpsertFriend(ctx, domain.RemoteFriend{Username: "amy"}, t0)
	_, _, _ = s.BeginSend(ctx, domain.OutgoingAlert{StartID: "s1", To: "amy", At: t0, Weights: domain.DefaultImportanceWeights()})
	if _, ok, _ := s.CompleteSend(ctx, "amy", "s1", "x1", t0); !ok {
		t.Fatalf("CompleteSend should apply")
	}

	if _, ok, _ := s.ApplyStatus(ctx, "amy", "x0", domain.StatusDelivered, t0); ok {
		t.Fatalf("stale id must be ignored")
	}
	if _, ok, _ := s.ApplyStatus(ctx, "amy", "x1", domain.StatusRead, t0); !ok {
		t.Fatalf("read should apply")
	}
	if _, ok, _ := s.ApplyStatus(ctx, "amy", "x1", domain.StatusDelivered, t0); ok {
		t.Fatalf("delivered after read must be ignored")
	}
	f, _ := s.GetFriend(ctx, "amy")
	if f.LastMessageStatus != domain.StatusRead {
		t.Fatalf("expected read, got %s", f.LastMessageStatus)
	}
	if jobs, _ := s.ListJobs(ctx); len(jobs) != 0 {
		t.Fatalf("job should be removed on completion: %+v", jobs)
	}
}

func TestBeginSend_ImportanceDecays(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.UpsertFriend(ctx, domain.RemoteFriend{Username: "amy"}, t0)
	_, _ = s.UpsertFriend(ctx, domain.RemoteFriend{Username: "bob"}, t0)
	w := domain.ImportanceWeights{Decay: 0.5, Increment: 1}

	_, _, _ = s.BeginSend(ctx, domain.OutgoingAlert{StartID: "s1", To: "amy", At: t0, Weights: w})
	for i := 2; i <= 4; i++ {
		_, _, _ = s.BeginSend(ctx, domain.OutgoingAlert{StartID: fmt.Sprintf("s%d", i), To: "bob", At: t0, Weights: w})
	}

	amy, _ := s.GetFriend(ctx, "amy")
	if math.Abs(amy.Importance-1*math.Pow(0.5, 3)) > 1e-9 {
		t.Fatalf("unexpected amy importance %v", amy.Importance)
	}
	top, _ := s.TopImportant(ctx, 1)
	if len(top) != 1 || top[0].Username != "bob" {
		t.Fatalf("unexpected top: %+v", top)
	}
}

func TestFailSend_ParkKeepsJob(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.UpsertFriend(ctx, domain.RemoteFriend{Username: "amy"}, t0)
	_, _, _ = s.BeginSend(ctx, domain.OutgoingAlert{StartID: "s1", To: "amy", At: t0, Weights: domain.DefaultImportanceWeights()})

	f, ok, _ := s.FailSend(ctx, "amy", "s1", "unauthenticated", true, t0)
	if !ok || f.LastMessageStatus != domain.StatusError {
		t.Fatalf("expected error status, got %+v", f)
	}
	job, err := s.GetJob(ctx, "s1")
	if err != nil || job.State != domain.JobParked || job.Attempts != 1 {
		t.Fatalf("expected parked job, got %+v err=%v", job, err)
	}
}
