package postgres

import (
	"time"

	"NudgeAgent/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func textOrEmpty(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

const friendColumns = `username, display_name, photo_ref, sent, received, friend_importance(importance_log), last_message_sent_id, last_message_status, updated_at`

func scanFriend(row pgx.Row) (domain.Friend, error) {
	var (
		f         domain.Friend
		photo     pgtype.Text
		lastID    pgtype.Text
		status    string
		updatedAt time.Time
	)
	if err := row.Scan(&f.Username, &f.DisplayName, &photo, &f.Sent, &f.Received, &f.Importance, &lastID, &status, &updatedAt); err != nil {
		return domain.Friend{}, err
	}
	f.PhotoRef = textOrEmpty(photo)
	f.LastMessageSentID = textOrEmpty(lastID)
	f.LastMessageStatus = domain.MessageStatus(status)
	f.UpdatedAt = updatedAt
	return f, nil
}

func collectFriends(rows pgx.Rows) ([]domain.Friend, error) {
	defer rows.Close()
	out := []domain.Friend{}
	for rows.Next() {
		f, err := scanFriend(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const messageColumns = `id, ts, direction, peer, body, alert_id`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m         domain.Message
		direction string
		body      pgtype.Text
		alertID   pgtype.Text
	)
	if err := row.Scan(&m.ID, &m.Timestamp, &direction, &m.Peer, &body, &alertID); err != nil {
		return domain.Message{}, err
	}
	m.Direction = domain.Direction(direction)
	m.Body = textOrEmpty(body)
	m.AlertID = textOrEmpty(alertID)
	return m, nil
}

const jobColumns = `start_id, recipient, body, state, attempts, last_error, created_at`

func scanJob(row pgx.Row) (domain.SendJob, error) {
	var (
		j       domain.SendJob
		body    pgtype.Text
		state   string
		lastErr pgtype.Text
	)
	if err := row.Scan(&j.StartID, &j.To, &body, &state, &j.Attempts, &lastErr, &j.CreatedAt); err != nil {
		return domain.SendJob{}, err
	}
	j.Body = textOrEmpty(body)
	j.State = domain.JobState(state)
	j.LastError = textOrEmpty(lastErr)
	return j, nil
}
