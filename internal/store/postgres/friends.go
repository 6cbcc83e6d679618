package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"NudgeAgent/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FriendsStore struct {
	pool *pgxpool.Pool
}

func NewFriendsStore(pool *pgxpool.Pool) *FriendsStore {
	return &FriendsStore{pool: pool}
}

func (s *FriendsStore) ListFriends(ctx context.Context) ([]domain.Friend, error) {
	const q = `SELECT ` + friendColumns + ` FROM friends ORDER BY username ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	out, err := collectFriends(rows)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return out, nil
}

func (s *FriendsStore) GetFriend(ctx context.Context, username string) (domain.Friend, error) {
	const q = `SELECT ` + friendColumns + ` FROM friends WHERE username = $1`
	f, err := scanFriend(s.pool.QueryRow(ctx, q, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Friend{}, domain.ErrNotFound
		}
		return domain.Friend{}, fmt.Errorf("get friend: %w", err)
	}
	return f, nil
}

const upsertFriendSQL = `
	INSERT INTO friends (username, display_name, photo_ref, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (username)
	DO UPDATE SET
		display_name = CASE WHEN EXCLUDED.display_name = '' THEN friends.display_name ELSE EXCLUDED.display_name END,
		photo_ref = COALESCE(EXCLUDED.photo_ref, friends.photo_ref),
		updated_at = EXCLUDED.updated_at
	RETURNING ` + friendColumns

// UpsertFriend creates the friend or refreshes its profile, keeping counters
// and status. Any pending request or cached intent for it is dropped.
func (s *FriendsStore) UpsertFriend(ctx context.Context, rf domain.RemoteFriend, when time.Time) (domain.Friend, error) {
	var f domain.Friend
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		f, err = scanFriend(tx.QueryRow(ctx, upsertFriendSQL, rf.Username, rf.DisplayName, nullIfEmpty(rf.PhotoRef), when))
		if err != nil {
			return fmt.Errorf("upsert friend: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM pending_friends WHERE username = $1`, rf.Username); err != nil {
			return fmt.Errorf("delete pending friend: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cached_friends WHERE username = $1`, rf.Username); err != nil {
			return fmt.Errorf("delete cached friend: %w", err)
		}
		return nil
	})
	return f, err
}

func (s *FriendsStore) DeleteFriend(ctx context.Context, username string) error {
	const q = `DELETE FROM friends WHERE username = $1`
	ct, err := s.pool.Exec(ctx, q, username)
	if err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *FriendsStore) SetDisplayName(ctx context.Context, username, displayName string, when time.Time) (domain.Friend, error) {
	const q = `
		UPDATE friends
		SET display_name = $2, updated_at = $3
		WHERE username = $1
		RETURNING ` + friendColumns
	f, err := scanFriend(s.pool.QueryRow(ctx, q, username, displayName, when))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Friend{}, domain.ErrNotFound
		}
		return domain.Friend{}, fmt.Errorf("set display name: %w", err)
	}
	return f, nil
}

func (s *FriendsStore) BeginSend(ctx context.Context, a domain.OutgoingAlert) (domain.Friend, domain.Message, error) {
	var (
		f   domain.Friend
		msg domain.Message
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := lockFriend(ctx, tx, a.To); err != nil {
			return err
		}

		scale, err := decayScale(ctx, tx, a.Weights.Decay)
		if err != nil {
			return err
		}

		// Only the target row and the scale row are written, so concurrent
		// sends to different friends never wait on each other's rows.
		const upd = `
			UPDATE friends
			SET importance_log = ln(friend_importance(importance_log) + $2) - $5,
				sent = sent + 1,
				last_message_sent_id = $3,
				last_message_status = 'sending',
				updated_at = $4
			WHERE username = $1
			RETURNING ` + friendColumns
		f, err = scanFriend(tx.QueryRow(ctx, upd, a.To, a.Weights.Increment, a.StartID, a.At, scale))
		if err != nil {
			return fmt.Errorf("mark friend sending: %w", err)
		}

		const insMsg = `
			INSERT INTO messages (ts, direction, peer, body)
			VALUES ($1, 'outgoing', $2, $3)
			RETURNING ` + messageColumns
		msg, err = scanMessage(tx.QueryRow(ctx, insMsg, a.At, a.To, nullIfEmpty(a.Body)))
		if err != nil {
			return fmt.Errorf("insert outgoing message: %w", err)
		}

		const insJob = `
			INSERT INTO send_jobs (start_id, recipient, body, state, created_at)
			VALUES ($1, $2, $3, 'pending', $4)
		`
		if _, err := tx.Exec(ctx, insJob, a.StartID, a.To, nullIfEmpty(a.Body), a.At); err != nil {
			return fmt.Errorf("insert send job: %w", err)
		}
		return nil
	})
	return f, msg, err
}

func (s *FriendsStore) CompleteSend(ctx context.Context, username, startID, alertID string, when time.Time) (domain.Friend, bool, error) {
	var (
		f       domain.Friend
		applied bool
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM send_jobs WHERE start_id = $1`, startID); err != nil {
			return fmt.Errorf("delete send job: %w", err)
		}
		const q = `
			UPDATE friends
			SET last_message_sent_id = $3, last_message_status = 'sent', updated_at = $4
			WHERE username = $1 AND last_message_sent_id = $2 AND last_message_status = 'sending'
			RETURNING ` + friendColumns
		var err error
		f, err = scanFriend(tx.QueryRow(ctx, q, username, startID, alertID, when))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete send: %w", err)
		}
		applied = true
		return nil
	})
	return f, applied, err
}

func (s *FriendsStore) FailSend(ctx context.Context, username, startID, reason string, park bool, when time.Time) (domain.Friend, bool, error) {
	var (
		f       domain.Friend
		applied bool
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if park {
			const q = `
				UPDATE send_jobs
				SET state = 'parked', attempts = attempts + 1, last_error = $2
				WHERE start_id = $1
			`
			if _, err := tx.Exec(ctx, q, startID, nullIfEmpty(reason)); err != nil {
				return fmt.Errorf("park send job: %w", err)
			}
		} else if _, err := tx.Exec(ctx, `DELETE FROM send_jobs WHERE start_id = $1`, startID); err != nil {
			return fmt.Errorf("delete send job: %w", err)
		}
		var err error
		f, applied, err = applyStatus(ctx, tx, username, startID, domain.StatusError, when)
		return err
	})
	return f, applied, err
}

func (s *FriendsStore) ApplyStatus(ctx context.Context, username, alertID string, status domain.MessageStatus, when time.Time) (domain.Friend, bool, error) {
	var (
		f       domain.Friend
		applied bool
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		f, applied, err = applyStatus(ctx, tx, username, alertID, status, when)
		return err
	})
	return f, applied, err
}

func lockFriend(ctx context.Context, tx pgx.Tx, username string) (domain.Friend, error) {
	const q = `SELECT ` + friendColumns + ` FROM friends WHERE username = $1 FOR UPDATE`
	f, err := scanFriend(tx.QueryRow(ctx, q, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Friend{}, domain.ErrNotFound
		}
		return domain.Friend{}, fmt.Errorf("lock friend: %w", err)
	}
	return f, nil
}

func applyStatus(ctx context.Context, tx pgx.Tx, username, alertID string, status domain.MessageStatus, when time.Time) (domain.Friend, bool, error) {
	f, err := lockFriend(ctx, tx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Friend{}, false, nil
	}
	if err != nil {
		return domain.Friend{}, false, err
	}
	if alertID == "" || f.LastMessageSentID != alertID || !f.LastMessageStatus.CanAdvanceTo(status) {
		return f, false, nil
	}

	const q = `
		UPDATE friends
		SET last_message_status = $2, updated_at = $3
		WHERE username = $1
		RETURNING ` + friendColumns
	f, err = scanFriend(tx.QueryRow(ctx, q, username, string(status), when))
	if err != nil {
		return domain.Friend{}, false, fmt.Errorf("apply status: %w", err)
	}
	return f, true, nil
}

// ReconcileFriends makes the local friend and pending lists match the
// server's in one transaction.
func (s *FriendsStore) ReconcileFriends(ctx context.Context, friends []domain.RemoteFriend, pending []domain.PendingFriend, when time.Time) error {
	names := make([]string, 0, len(friends))
	for _, rf := range friends {
		if rf.Username != "" {
			names = append(names, rf.Username)
		}
	}

	// Upserting in username order keeps row locks in a stable order.
	ordered := make([]domain.RemoteFriend, 0, len(friends))
	for _, rf := range friends {
		if rf.Username != "" {
			ordered = append(ordered, rf)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Username < ordered[j].Username })

	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rf := range ordered {
			batch.Queue(upsertFriendSQL, rf.Username, rf.DisplayName, nullIfEmpty(rf.PhotoRef), when)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("upsert friends: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM friends WHERE NOT (username = ANY($1))`, names); err != nil {
			return fmt.Errorf("prune friends: %w", err)
		}

		pendingNames := make([]string, 0, len(pending))
		for _, p := range pending {
			if p.Username == "" {
				continue
			}
			pendingNames = append(pendingNames, p.Username)
			created := p.CreatedAt
			if created.IsZero() {
				created = when
			}
			const q = `
				INSERT INTO pending_friends (username, display_name, created_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (username) DO UPDATE SET display_name = EXCLUDED.display_name
			`
			if _, err := tx.Exec(ctx, q, p.Username, nullIfEmpty(p.DisplayName), created); err != nil {
				return fmt.Errorf("upsert pending friend: %w", err)
			}
		}
		const prunePending = `
			DELETE FROM pending_friends
			WHERE NOT (username = ANY($1)) OR username = ANY($2)
		`
		if _, err := tx.Exec(ctx, prunePending, pendingNames, names); err != nil {
			return fmt.Errorf("prune pending friends: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cached_friends WHERE username = ANY($1)`, names); err != nil {
			return fmt.Errorf("prune cached friends: %w", err)
		}
		return nil
	})
}

func (s *FriendsStore) DecayImportance(ctx context.Context, decay float64) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := decayScale(ctx, tx, decay)
		return err
	})
}

// decayScale multiplies every friend's importance by decay by shifting the
// shared log scale, and returns the new scale.
func decayScale(ctx context.Context, tx pgx.Tx, decay float64) (float64, error) {
	if decay <= 0 || decay > 1 {
		return 0, domain.NewValidationError(map[string]string{"decay": "must be in (0, 1]"})
	}
	var scale float64
	const q = `UPDATE importance_scale SET log_scale = log_scale + $1 RETURNING log_scale`
	if err := tx.QueryRow(ctx, q, math.Log(decay)).Scan(&scale); err != nil {
		return 0, fmt.Errorf("decay importance: %w", err)
	}
	return scale, nil
}

func (s *FriendsStore) TopImportant(ctx context.Context, k int) ([]domain.Friend, error) {
	if k <= 0 {
		return []domain.Friend{}, nil
	}
	const q = `SELECT ` + friendColumns + ` FROM friends ORDER BY importance_log DESC NULLS LAST, username ASC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, k)
	if err != nil {
		return nil, fmt.Errorf("top friends: %w", err)
	}
	out, err := collectFriends(rows)
	if err != nil {
		return nil, fmt.Errorf("top friends: %w", err)
	}
	return out, nil
}
