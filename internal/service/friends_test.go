package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
)

func TestAddFriendOfflineIsCachedThenDrainedOnLogin(t *testing.T) {
	h := newHarness(t)
	h.backend.addFriendFunc = func(ctx context.Context, username string) (domain.RemoteFriend, error) {
		if !h.session.Active() {
			return domain.RemoteFriend{}, domain.ErrNoSession
		}
		return domain.RemoteFriend{Username: username, DisplayName: "Amy"}, nil
	}
	ctx := context.Background()

	_, err := h.repo.AddFriend(ctx, "amy")
	if !errors.Is(err, domain.ErrQueued) {
		t.Fatalf("expected queued, got %v", err)
	}
	if domain.FailureFor(err) != domain.FailureAuth {
		t.Fatalf("expected queued error to keep its cause, got %v", err)
	}
	cached, err := h.repo.ListCached(ctx)
	if err != nil {
		t.Fatalf("list cached: %v", err)
	}
	if len(cached) != 1 || cached[0].Action != domain.CachedActionAdd {
		t.Fatalf("expected one cached add, got %+v", cached)
	}

	if _, err := h.repo.Login(ctx, "me", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if f := h.friend(t, "amy"); f.DisplayName != "Amy" {
		t.Fatalf("expected drained friend, got %+v", f)
	}
	cached, err = h.repo.ListCached(ctx)
	if err != nil {
		t.Fatalf("list cached: %v", err)
	}
	if len(cached) != 0 {
		t.Fatalf("expected cache drained, got %+v", cached)
	}
	if n := h.backend.count("add_friend"); n != 2 {
		t.Fatalf("expected one attempt offline and one on drain, got %d", n)
	}
}

func TestAddFriendRejectsSelfAndExisting(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "")
	ctx := context.Background()

	if _, err := h.repo.AddFriend(ctx, "Me"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error adding self, got %v", err)
	}
	if _, err := h.repo.AddFriend(ctx, "amy"); !errors.Is(err, domain.ErrFriendExists) {
		t.Fatalf("expected friend exists, got %v", err)
	}
	if n := h.backend.count("add_friend"); n != 0 {
		t.Fatalf("expected no network call, got %d", n)
	}
}

func TestAddFriendUnknownUserIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.backend.addFriendFunc = func(ctx context.Context, username string) (domain.RemoteFriend, error) {
		return domain.RemoteFriend{}, domain.ErrUserNotFound
	}
	ctx := context.Background()

	if _, err := h.repo.AddFriend(ctx, "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	cached, _ := h.repo.ListCached(ctx)
	if len(cached) != 0 {
		t.Fatalf("expected nothing cached, got %+v", cached)
	}
}

func TestDrainCachedSharesConcurrentPasses(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	ctx := context.Background()
	if _, err := h.store.PutCached(ctx, "amy", domain.CachedActionAdd, testNow); err != nil {
		t.Fatalf("put cached: %v", err)
	}

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.backend.addFriendFunc = func(ctx context.Context, username string) (domain.RemoteFriend, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return domain.RemoteFriend{Username: username}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := h.repo.DrainCached(ctx); err != nil {
			t.Errorf("drain: %v", err)
		}
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("drain did not start")
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.repo.DrainCached(ctx); err != nil {
				t.Errorf("drain: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := h.backend.count("add_friend"); n != 1 {
		t.Fatalf("expected a single network attempt, got %d", n)
	}
}

func TestDrainCachedStopsAtFirstDeferredFailure(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	ctx := context.Background()
	for _, u := range []string{"amy", "bob"} {
		if _, err := h.store.PutCached(ctx, u, domain.CachedActionAdd, testNow); err != nil {
			t.Fatalf("put cached: %v", err)
		}
	}
	h.backend.addFriendFunc = func(ctx context.Context, username string) (domain.RemoteFriend, error) {
		return domain.RemoteFriend{}, domain.ErrTransient
	}

	if err := h.repo.DrainCached(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n := h.backend.count("add_friend"); n != 1 {
		t.Fatalf("expected one attempt before pausing, got %d", n)
	}
	cached, _ := h.repo.ListCached(ctx)
	if len(cached) != 2 {
		t.Fatalf("expected both intents kept, got %+v", cached)
	}
}

func TestFriendActionAcceptCachesBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	ctx := context.Background()
	if err := h.repo.ReconcileFriends(ctx, nil, []domain.PendingFriend{{Username: "amy"}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	h.queue.Push(dialog.SignInRequired())
	h.queue.Push(dialog.FriendRequest(domain.PendingFriend{Username: "amy"}))

	h.backend.addFriendFunc = func(ctx context.Context, username string) (domain.RemoteFriend, error) {
		cached, err := h.store.ListCached(ctx)
		if err != nil || len(cached) != 1 || cached[0].Action != domain.CachedActionAccept {
			t.Errorf("expected accept intent cached before the call, got %+v (%v)", cached, err)
		}
		return domain.RemoteFriend{}, domain.ErrTransient
	}
	h.start(t)

	if _, err := h.actions.Submit("amy", domain.RequestAccept); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, s := range h.queue.Snapshot().Waiting {
		if s.Kind == dialog.KindFriendRequest {
			t.Fatalf("expected friend request prompt removed")
		}
	}
	h.actions.Wait()

	cached, _ := h.repo.ListCached(ctx)
	if len(cached) != 1 {
		t.Fatalf("expected accept intent kept for retry, got %+v", cached)
	}
}

func TestFriendActionBlockRemovesPending(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	ctx := context.Background()
	if err := h.repo.ReconcileFriends(ctx, nil, []domain.PendingFriend{{Username: "amy"}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	var blocked bool
	h.backend.deleteFriendFunc = func(ctx context.Context, username string, block bool) error {
		blocked = block
		return nil
	}
	h.start(t)

	if _, err := h.actions.Submit("amy", domain.RequestBlock); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.actions.Wait()

	if !blocked {
		t.Fatalf("expected block flag sent")
	}
	pending, _ := h.repo.ListPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected pending cleared, got %+v", pending)
	}
	if _, err := h.actions.Submit("amy", "wave"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown action, got %v", err)
	}
}

func TestRemoveFriendToleratesServerSideRemoval(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "")
	h.backend.deleteFriendFunc = func(ctx context.Context, username string, block bool) error {
		return domain.ErrNotFriends
	}
	ctx := context.Background()

	if err := h.repo.RemoveFriend(ctx, "amy"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := h.store.GetFriend(ctx, "amy"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected friend removed, got %v", err)
	}
}

func TestRenameFriendUpdatesLocalRow(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "amy", "Amy")
	ctx := context.Background()

	f, err := h.repo.RenameFriend(ctx, "amy", "  Amelia ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if f.DisplayName != "Amelia" || h.friend(t, "amy").DisplayName != "Amelia" {
		t.Fatalf("expected renamed friend, got %+v", f)
	}
	if n := h.backend.count("edit_friend_name"); n != 1 {
		t.Fatalf("expected one edit call, got %d", n)
	}

	if _, err := h.repo.RenameFriend(ctx, "amy", " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.repo.RenameFriend(ctx, "ghost", "Ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if n := h.backend.count("edit_friend_name"); n != 1 {
		t.Fatalf("rejected renames should not reach the server, got %d calls", n)
	}
}

func TestSyncReconcilesFromServer(t *testing.T) {
	h := newHarness(t)
	h.signIn("me")
	h.addFriend(t, "gone", "")
	h.backend.getUserInfoFunc = func(ctx context.Context) (domain.UserInfo, error) {
		return domain.UserInfo{
			Username: "me",
			Friends:  []domain.RemoteFriend{{Username: "amy", DisplayName: "Amy"}},
			Pending:  []domain.PendingFriend{{Username: "bob"}},
		}, nil
	}
	ctx := context.Background()

	if err := h.repo.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	friends, err := h.repo.ListFriends(ctx)
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 1 || friends[0].Username != "amy" {
		t.Fatalf("expected only amy, got %+v", friends)
	}
	pending, err := h.repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Username != "bob" || !pending[0].CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	h.backend.getUserInfoFunc = nil
	if err := h.repo.Sync(ctx); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if f := h.friend(t, "amy"); f.DisplayName != "Amy" {
		t.Fatalf("failed sync should keep local rows, got %+v", f)
	}
}
