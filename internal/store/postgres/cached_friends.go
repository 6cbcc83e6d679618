package postgres

import (
	"context"
	"fmt"
	"time"

	"NudgeAgent/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CachedFriendsStore struct {
	pool *pgxpool.Pool
}

func NewCachedFriendsStore(pool *pgxpool.Pool) *CachedFriendsStore {
	return &CachedFriendsStore{pool: pool}
}

func (s *CachedFriendsStore) ListCached(ctx context.Context) ([]domain.CachedFriend, error) {
	const q = `
		SELECT username, action, attempts, created_at
		FROM cached_friends
		ORDER BY created_at ASC, username ASC
	`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list cached friends: %w", err)
	}
	defer rows.Close()

	out := []domain.CachedFriend{}
	for rows.Next() {
		var (
			c      domain.CachedFriend
			action string
		)
		if err := rows.Scan(&c.Username, &action, &c.Attempts, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cached friend: %w", err)
		}
		c.Action = domain.CachedAction(action)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cached friends: %w", err)
	}
	return out, nil
}

func (s *CachedFriendsStore) PutCached(ctx context.Context, username string, action domain.CachedAction, when time.Time) (domain.CachedFriend, error) {
	const q = `
		INSERT INTO cached_friends (username, action, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET action = EXCLUDED.action
		RETURNING username, action, attempts, created_at
	`
	var (
		c   domain.CachedFriend
		act string
	)
	if err := s.pool.QueryRow(ctx, q, username, string(action), when).Scan(&c.Username, &act, &c.Attempts, &c.CreatedAt); err != nil {
		return domain.CachedFriend{}, fmt.Errorf("put cached friend: %w", err)
	}
	c.Action = domain.CachedAction(act)
	return c, nil
}

func (s *CachedFriendsStore) MarkCachedAttempt(ctx context.Context, username string) error {
	const q = `UPDATE cached_friends SET attempts = attempts + 1 WHERE username = $1`
	ct, err := s.pool.Exec(ctx, q, username)
	if err != nil {
		return fmt.Errorf("mark cached attempt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *CachedFriendsStore) DeleteCached(ctx context.Context, username string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cached_friends WHERE username = $1`, username); err != nil {
		return fmt.Errorf("delete cached friend: %w", err)
	}
	return nil
}
