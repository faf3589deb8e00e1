package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SettingsRepo implements ports.SettingsRepository over platform_settings.
type SettingsRepo struct {
	pool Pool
}

// NewSettingsRepo creates a new SettingsRepo.
func NewSettingsRepo(pool Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// Get returns the stored value and whether the key exists.
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM platform_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a setting.
func (r *SettingsRepo) Set(ctx context.Context, key string, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO platform_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
