package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRepository_SaveAndGetActive(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	tok, err := repos.Token.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok, "empty table has no active token")

	expires := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, repos.Token.Save(ctx, "token-1", "refresh-1", expires))

	tok, err = repos.Token.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "token-1", tok.Value)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.True(t, tok.IsActive)
}

func TestTokenRepository_SaveSupersedes(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	expires := time.Now().UTC().Add(24 * time.Hour)

	require.NoError(t, repos.Token.Save(ctx, "token-1", "", expires))
	require.NoError(t, repos.Token.Save(ctx, "token-2", "", expires))

	tok, err := repos.Token.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "token-2", tok.Value)

	n, err := repos.Token.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "superseded token must be deactivated, not deleted")
}

func TestTokenRepository_ExpiredNotReturned(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Token.Save(ctx, "expired", "", time.Now().UTC().Add(-time.Hour)))

	tok, err := repos.Token.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestTokenRepository_Invalidate(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Token.Save(ctx, "token-1", "", time.Now().UTC().Add(24*time.Hour)))
	require.NoError(t, repos.Token.Invalidate(ctx))

	tok, err := repos.Token.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	n, err := repos.Token.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
