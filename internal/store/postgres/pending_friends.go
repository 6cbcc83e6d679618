package postgres

import (
	"context"
	"fmt"

	"NudgeAgent/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PendingFriendsStore struct {
	pool *pgxpool.Pool
}

func NewPendingFriendsStore(pool *pgxpool.Pool) *PendingFriendsStore {
	return &PendingFriendsStore{pool: pool}
}

func (s *PendingFriendsStore) ListPending(ctx context.Context) ([]domain.PendingFriend, error) {
	const q = `
		SELECT username, display_name, created_at
		FROM pending_friends
		ORDER BY username ASC
	`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending friends: %w", err)
	}
	defer rows.Close()

	out := []domain.PendingFriend{}
	for rows.Next() {
		var (
			p    domain.PendingFriend
			name pgtype.Text
		)
		if err := rows.Scan(&p.Username, &name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending friend: %w", err)
		}
		p.DisplayName = textOrEmpty(name)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending friends: %w", err)
	}
	return out, nil
}

func (s *PendingFriendsStore) DeletePending(ctx context.Context, username string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pending_friends WHERE username = $1`, username); err != nil {
		return fmt.Errorf("delete pending friend: %w", err)
	}
	return nil
}
