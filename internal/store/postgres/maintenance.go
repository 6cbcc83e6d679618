package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MaintenanceStore struct {
	pool *pgxpool.Pool
}

func NewMaintenanceStore(pool *pgxpool.Pool) *MaintenanceStore {
	return &MaintenanceStore{pool: pool}
}

// WipeLocalData empties every per-account table. Preferences survive.
func (s *MaintenanceStore) WipeLocalData(ctx context.Context) error {
	const q = `TRUNCATE friends, pending_friends, cached_friends, messages, handled_alerts, send_jobs RESTART IDENTITY`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("wipe local data: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `UPDATE importance_scale SET log_scale = 0`); err != nil {
		return fmt.Errorf("reset importance scale: %w", err)
	}
	return nil
}
