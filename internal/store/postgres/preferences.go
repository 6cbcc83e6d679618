package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PreferencesStore struct {
	pool *pgxpool.Pool
}

func NewPreferencesStore(pool *pgxpool.Pool) *PreferencesStore {
	return &PreferencesStore{pool: pool}
}

func (s *PreferencesStore) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM preferences WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return value, true, nil
}

func (s *PreferencesStore) SetPreference(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO preferences (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

func (s *PreferencesStore) DeletePreference(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM preferences WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}
