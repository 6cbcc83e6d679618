package service

import (
	"context"
	"time"

	"NudgeAgent/internal/domain"
)

// FriendsStore owns the friends table and the writes that must change it
// together with messages or send jobs.
type FriendsStore interface {
	ListFriends(ctx context.Context) ([]domain.Friend, error)
	GetFriend(ctx context.Context, username string) (domain.Friend, error)
	UpsertFriend(ctx context.Context, f domain.RemoteFriend, when time.Time) (domain.Friend, error)
	DeleteFriend(ctx context.Context, username string) error
	SetDisplayName(ctx context.Context, username, displayName string, when time.Time) (domain.Friend, error)
	// BeginSend records the outgoing message, marks the friend sending
	// under the start id, bumps counters and importance, and stores the job.
	BeginSend(ctx context.Context, a domain.OutgoingAlert) (domain.Friend, domain.Message, error)
	// CompleteSend swaps the start id for the server alert id and marks the
	// friend sent when the friend is still sending that start id. The job
	// is removed either way.
	CompleteSend(ctx context.Context, username, startID, alertID string, when time.Time) (domain.Friend, bool, error)
	// FailSend marks the start id errored and either parks or removes the job.
	FailSend(ctx context.Context, username, startID, reason string, park bool, when time.Time) (domain.Friend, bool, error)
	// ApplyStatus moves the friend to status when alertID is the current
	// id and the move is monotonic. It reports whether anything changed.
	ApplyStatus(ctx context.Context, username, alertID string, status domain.MessageStatus, when time.Time) (domain.Friend, bool, error)
	ReconcileFriends(ctx context.Context, friends []domain.RemoteFriend, pending []domain.PendingFriend, when time.Time) error
	DecayImportance(ctx context.Context, decay float64) error
	TopImportant(ctx context.Context, k int) ([]domain.Friend, error)
}

type PendingFriendsStore interface {
	ListPending(ctx context.Context) ([]domain.PendingFriend, error)
	DeletePending(ctx context.Context, username string) error
}

type CachedFriendsStore interface {
	ListCached(ctx context.Context) ([]domain.CachedFriend, error)
	PutCached(ctx context.Context, username string, action domain.CachedAction, when time.Time) (domain.CachedFriend, error)
	MarkCachedAttempt(ctx context.Context, username string) error
	DeleteCached(ctx context.Context, username string) error
}

type MessagesStore interface {
	// RecordIncoming stores a received alert once. A replayed alert id
	// returns false and changes nothing.
	RecordIncoming(ctx context.Context, in domain.IncomingAlert) (domain.Message, bool, error)
	ListMessages(ctx context.Context, peer string, limit int) ([]domain.Message, error)
}

type SendJobsStore interface {
	ListJobs(ctx context.Context) ([]domain.SendJob, error)
	GetJob(ctx context.Context, startID string) (domain.SendJob, error)
	SetJobState(ctx context.Context, startID string, state domain.JobState) error
	DeleteJob(ctx context.Context, startID string) error
}

type PreferencesStore interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
	DeletePreference(ctx context.Context, key string) error
}

// LocalDataWiper removes every friend, request, message and job.
type LocalDataWiper interface {
	WipeLocalData(ctx context.Context) error
}
