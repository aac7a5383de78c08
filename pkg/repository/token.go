package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// TokenRepository persists the provider access token. Exactly one token is
// active at a time; saving a new one deactivates all previous rows, which
// are kept for audit rather than deleted.
type TokenRepository struct {
	db *sqlx.DB
}

type tokenSQL struct {
	ID           int64     `db:"id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(database *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: database}
}

// Save stores a new active token and deactivates all previous ones
func (r *TokenRepository) Save(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin token tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE auth_tokens SET is_active = 0`); err != nil {
		return fmt.Errorf("deactivate tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO auth_tokens (access_token, refresh_token, expires_at, is_active) VALUES (?, ?, ?, 1)`,
		accessToken, refreshToken, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	return tx.Commit()
}

// GetActive returns the most recent active, unexpired token or nil when
// none is available.
func (r *TokenRepository) GetActive(ctx context.Context) (*domain.AuthToken, error) {
	var row tokenSQL
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM auth_tokens
		WHERE is_active = 1 AND expires_at > datetime('now')
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active token: %w", err)
	}

	return &domain.AuthToken{
		Value:        row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
		IsActive:     row.IsActive,
		CreatedAt:    row.CreatedAt,
	}, nil
}

// Invalidate deactivates all stored tokens, forcing the next call through
// the login path.
func (r *TokenRepository) Invalidate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE auth_tokens SET is_active = 0`); err != nil {
		return fmt.Errorf("invalidate tokens: %w", err)
	}
	return nil
}

// CountActive returns the number of active tokens, used for stats
func (r *TokenRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM auth_tokens WHERE is_active = 1`); err != nil {
		return 0, fmt.Errorf("count active tokens: %w", err)
	}
	return n, nil
}
