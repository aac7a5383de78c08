package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StatusRepository is a small key-value table for process-wide markers,
// e.g. the login-failure cooldown timestamp.
type StatusRepository struct {
	db *sqlx.DB
}

// well-known status keys
const (
	StatusLoginFailure = "login_failure"
)

// NewStatusRepository creates a new status repository
func NewStatusRepository(database *sqlx.DB) *StatusRepository {
	return &StatusRepository{db: database}
}

// Set stores a status value under a key, replacing any previous value
func (r *StatusRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_status (status_key, status_value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(status_key) DO UPDATE SET status_value = excluded.status_value, updated_at = datetime('now')
	`, key, value)
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value for a key, empty string when unset
func (r *StatusRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT status_value FROM system_status WHERE status_key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get status %s: %w", key, err)
	}
	return value, nil
}
