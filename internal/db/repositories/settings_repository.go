// settings_repository.go implements SettingsRepository, a small key/value
// table for process-independent values such as the trending cache key.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// SettingsRepository handles settings database operations
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the value for key and whether it exists
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now())
	return err
}

// SetIfAbsent stores value only if key is unset and returns whichever value
// is stored afterwards. Concurrent callers all observe the same winner.
func (r *SettingsRepository) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	var stored string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET key = settings.key
		RETURNING value`,
		key, value, time.Now()).Scan(&stored)
	if err != nil {
		return "", err
	}
	return stored, nil
}
