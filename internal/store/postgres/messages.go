package postgres

import (
	"context"
	"fmt"

	"NudgeAgent/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultHandledHistory = 32

type MessagesStore struct {
	pool *pgxpool.Pool
}

func NewMessagesStore(pool *pgxpool.Pool) *MessagesStore {
	return &MessagesStore{pool: pool}
}

// RecordIncoming claims the alert id in handled_alerts and, only when the
// claim is new, stores the message and bumps the sender's received count.
func (s *MessagesStore) RecordIncoming(ctx context.Context, in domain.IncomingAlert) (domain.Message, bool, error) {
	limit := in.HistoryLimit
	if limit <= 0 {
		limit = defaultHandledHistory
	}

	var (
		msg     domain.Message
		created bool
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		const claim = `
			INSERT INTO handled_alerts (sender, alert_id, handled_at)
			VALUES ($1, $2, $3)
			ON CONFLICT ON CONSTRAINT handled_alerts_pk DO NOTHING
		`
		ct, err := tx.Exec(ctx, claim, in.From, in.AlertID, in.Timestamp)
		if err != nil {
			return fmt.Errorf("claim handled alert: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil
		}

		const prune = `
			DELETE FROM handled_alerts
			WHERE sender = $1 AND seq NOT IN (
				SELECT seq FROM handled_alerts WHERE sender = $1 ORDER BY seq DESC LIMIT $2
			)
		`
		if _, err := tx.Exec(ctx, prune, in.From, limit); err != nil {
			return fmt.Errorf("prune handled alerts: %w", err)
		}

		const ins = `
			INSERT INTO messages (ts, direction, peer, body, alert_id)
			VALUES ($1, 'incoming', $2, $3, $4)
			RETURNING ` + messageColumns
		msg, err = scanMessage(tx.QueryRow(ctx, ins, in.Timestamp, in.From, nullIfEmpty(in.Body), in.AlertID))
		if err != nil {
			return fmt.Errorf("insert incoming message: %w", err)
		}

		const bump = `UPDATE friends SET received = received + 1, updated_at = $2 WHERE username = $1`
		if _, err := tx.Exec(ctx, bump, in.From, in.Timestamp); err != nil {
			return fmt.Errorf("bump received: %w", err)
		}
		created = true
		return nil
	})
	return msg, created, err
}

func (s *MessagesStore) ListMessages(ctx context.Context, peer string, limit int) ([]domain.Message, error) {
	const q = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ($1 = '' OR peer = $1)
		ORDER BY id DESC
		LIMIT NULLIF($2, 0)
	`
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx, q, peer, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}
