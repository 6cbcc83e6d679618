package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/events"
)

const drainKey = "cached-friends"

func normalizeUsername(u string) (string, error) {
	u = strings.TrimSpace(u)
	if u == "" {
		return "", domain.NewValidationError(map[string]string{"username": "required"})
	}
	return u, nil
}

// deferrable reports whether a failed friend call should be kept for a
// later attempt instead of reported.
func deferrable(err error) bool {
	return errors.Is(err, domain.ErrNoSession) ||
		errors.Is(err, domain.ErrUnauthenticated) ||
		errors.Is(err, domain.ErrTransient) ||
		errors.Is(err, domain.ErrServer) ||
		errors.Is(err, domain.ErrRateLimited)
}

// AddFriend asks the server to add username. When the server cannot be
// reached or no one is signed in, the intent is cached and ErrQueued is
// returned; it is replayed by DrainCached.
func (r *Repository) AddFriend(ctx context.Context, username string) (domain.Friend, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return domain.Friend{}, err
	}
	if r.Session != nil && strings.EqualFold(username, r.Session.Username()) {
		return domain.Friend{}, domain.NewValidationError(map[string]string{"username": "cannot add yourself"})
	}
	if _, err := r.Friends.GetFriend(ctx, username); err == nil {
		return domain.Friend{}, domain.ErrFriendExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Friend{}, err
	}

	rf, err := r.Backend.AddFriend(ctx, username)
	if err != nil {
		if deferrable(err) {
			if _, cerr := r.Cached.PutCached(ctx, username, domain.CachedActionAdd, r.now()); cerr != nil {
				return domain.Friend{}, cerr
			}
			r.Hub.Publish(events.TopicCachedChanged, nil)
			r.logger().Info("repository: add friend queued", "username", username, "err", err)
			return domain.Friend{}, fmt.Errorf("add friend %s: %w: %w", username, domain.ErrQueued, err)
		}
		return domain.Friend{}, err
	}
	return r.storeFriend(ctx, rf, username)
}

func (r *Repository) storeFriend(ctx context.Context, rf domain.RemoteFriend, username string) (domain.Friend, error) {
	if rf.Username == "" {
		rf.Username = username
	}
	f, err := r.Friends.UpsertFriend(ctx, rf, r.now())
	if err != nil {
		return domain.Friend{}, err
	}
	r.Hub.Publish(events.TopicFriendUpdated, f)
	r.Hub.Publish(events.TopicPendingChanged, nil)
	r.Hub.Publish(events.TopicCachedChanged, nil)
	return f, nil
}

// AcceptRequest accepts a pending request. The intent is cached before the
// network call so a failure leaves it for DrainCached.
func (r *Repository) AcceptRequest(ctx context.Context, username string) (domain.Friend, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return domain.Friend{}, err
	}
	if _, err := r.Cached.PutCached(ctx, username, domain.CachedActionAccept, r.now()); err != nil {
		return domain.Friend{}, err
	}
	r.Hub.Publish(events.TopicCachedChanged, nil)

	rf, err := r.Backend.AddFriend(ctx, username)
	if err != nil {
		if deferrable(err) {
			return domain.Friend{}, fmt.Errorf("accept %s: %w: %w", username, domain.ErrQueued, err)
		}
		r.dropIntent(ctx, username)
		return domain.Friend{}, err
	}
	return r.storeFriend(ctx, rf, username)
}

// DeclineRequest ignores or blocks a pending request.
func (r *Repository) DeclineRequest(ctx context.Context, username string, block bool) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	if err := r.Backend.DeleteFriend(ctx, username, block); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	if err := r.Pending.DeletePending(ctx, username); err != nil {
		return err
	}
	r.Hub.Publish(events.TopicPendingChanged, nil)
	return nil
}

func (r *Repository) dropIntent(ctx context.Context, username string) {
	if err := r.Cached.DeleteCached(ctx, username); err != nil {
		r.logger().Warn("repository: delete cached friend failed", "err", err, "username", username)
	}
	if err := r.Pending.DeletePending(ctx, username); err != nil {
		r.logger().Warn("repository: delete pending friend failed", "err", err, "username", username)
	}
	r.Hub.Publish(events.TopicCachedChanged, nil)
	r.Hub.Publish(events.TopicPendingChanged, nil)
}

// DrainCached replays cached friend intents, one network attempt each.
// Concurrent callers share a single pass.
func (r *Repository) DrainCached(ctx context.Context) error {
	_, err, _ := r.drains.Do(drainKey, func() (any, error) {
		return nil, r.drainCached(ctx)
	})
	return err
}

func (r *Repository) drainCached(ctx context.Context) error {
	if r.Session != nil && !r.Session.Active() {
		return nil
	}
	cached, err := r.Cached.ListCached(ctx)
	if err != nil {
		return err
	}
	for _, c := range cached {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Cached.MarkCachedAttempt(ctx, c.Username); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		rf, err := r.Backend.AddFriend(ctx, c.Username)
		switch {
		case err == nil:
			r.Metrics.CachedAttempt("ok")
			if _, err := r.storeFriend(ctx, rf, c.Username); err != nil {
				return err
			}
		case deferrable(err):
			r.Metrics.CachedAttempt("deferred")
			r.logger().Info("repository: cached friend drain paused", "username", c.Username, "err", err)
			return nil
		default:
			r.Metrics.CachedAttempt("rejected")
			r.logger().Warn("repository: cached friend rejected", "username", c.Username, "action", c.Action, "err", err)
			r.dropIntent(ctx, c.Username)
		}
	}
	return nil
}

func (r *Repository) RemoveFriend(ctx context.Context, username string) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	if err := r.Backend.DeleteFriend(ctx, username, false); err != nil &&
		!errors.Is(err, domain.ErrNotFriends) && !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	if err := r.Friends.DeleteFriend(ctx, username); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err := r.Cached.DeleteCached(ctx, username); err != nil {
		return err
	}
	r.Hub.Publish(events.TopicFriendRemoved, map[string]string{"username": username})
	return nil
}

func (r *Repository) RenameFriend(ctx context.Context, username, displayName string) (domain.Friend, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return domain.Friend{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.Friend{}, domain.NewValidationError(map[string]string{"display_name": "required"})
	}
	if _, err := r.Friends.GetFriend(ctx, username); err != nil {
		return domain.Friend{}, err
	}
	if err := r.Backend.EditFriendName(ctx, username, displayName); err != nil {
		return domain.Friend{}, err
	}
	f, err := r.Friends.SetDisplayName(ctx, username, displayName, r.now())
	if err != nil {
		return domain.Friend{}, err
	}
	r.Hub.Publish(events.TopicFriendUpdated, f)
	return f, nil
}

// Sync pulls the server's friend and request lists and reconciles them.
func (r *Repository) Sync(ctx context.Context) error {
	info, err := r.Backend.GetUserInfo(ctx)
	if err != nil {
		return err
	}
	return r.ReconcileFriends(ctx, info.Friends, info.Pending)
}
