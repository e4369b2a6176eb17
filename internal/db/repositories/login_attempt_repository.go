// login_attempt_repository.go implements LoginAttemptRepository, the
// failed-login counters used to throttle password guessing.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// attemptGrace keeps a counter row a little past its window before pruning.
const attemptGrace = 60 * time.Second

// LoginAttemptRepository handles failed-login counter database operations
type LoginAttemptRepository struct {
	db *sqlx.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *sqlx.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// FailedAttempts returns the failures recorded for key inside the window
func (r *LoginAttemptRepository) FailedAttempts(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	var row struct {
		FailedAttempts int       `db:"failed_attempts"`
		WindowStart    time.Time `db:"window_start"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT failed_attempts, window_start FROM login_attempts WHERE client_key = $1`, key)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if now.Sub(row.WindowStart) > window {
		return 0, nil
	}
	return row.FailedAttempts, nil
}

// RecordFailure atomically increments the counter for key, restarting it
// when the stored window has passed, and returns the new count.
func (r *LoginAttemptRepository) RecordFailure(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	query := `
		INSERT INTO login_attempts (client_key, failed_attempts, window_start, expires_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (client_key) DO UPDATE SET
			failed_attempts = CASE WHEN login_attempts.window_start < $4
				THEN 1 ELSE login_attempts.failed_attempts + 1 END,
			window_start = CASE WHEN login_attempts.window_start < $4
				THEN EXCLUDED.window_start ELSE login_attempts.window_start END,
			expires_at = EXCLUDED.expires_at
		RETURNING failed_attempts
	`

	var count int
	err := r.db.QueryRowContext(ctx, query,
		key,
		now,
		now.Add(window+attemptGrace),
		now.Add(-window),
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ClearFailures deletes the counter for key
func (r *LoginAttemptRepository) ClearFailures(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE client_key = $1`, key)
	return err
}

// DeleteExpired removes counters whose expiry has passed
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
