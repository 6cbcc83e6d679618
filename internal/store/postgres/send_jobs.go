package postgres

import (
	"context"
	"errors"
	"fmt"

	"NudgeAgent/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SendJobsStore struct {
	pool *pgxpool.Pool
}

func NewSendJobsStore(pool *pgxpool.Pool) *SendJobsStore {
	return &SendJobsStore{pool: pool}
}

func (s *SendJobsStore) ListJobs(ctx context.Context) ([]domain.SendJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM send_jobs ORDER BY created_at ASC, start_id ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list send jobs: %w", err)
	}
	defer rows.Close()

	out := []domain.SendJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan send job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list send jobs: %w", err)
	}
	return out, nil
}

func (s *SendJobsStore) GetJob(ctx context.Context, startID string) (domain.SendJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM send_jobs WHERE start_id = $1`
	j, err := scanJob(s.pool.QueryRow(ctx, q, startID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SendJob{}, domain.ErrNotFound
		}
		return domain.SendJob{}, fmt.Errorf("get send job: %w", err)
	}
	return j, nil
}

func (s *SendJobsStore) SetJobState(ctx context.Context, startID string, state domain.JobState) error {
	ct, err := s.pool.Exec(ctx, `UPDATE send_jobs SET state = $2 WHERE start_id = $1`, startID, string(state))
	if err != nil {
		return fmt.Errorf("set send job state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SendJobsStore) DeleteJob(ctx context.Context, startID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM send_jobs WHERE start_id = $1`, startID); err != nil {
		return fmt.Errorf("delete send job: %w", err)
	}
	return nil
}
