package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mongardhq/mongard/internal/models"
)

// UpsertOAuthToken inserts or replaces a user's token for a provider.
// Reconnecting an account overwrites the previous grant.
func (db *DB) UpsertOAuthToken(ctx context.Context, t *models.OAuthToken) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO oauth_tokens (id, user_id, provider, account_email, encrypted_access_token, encrypted_refresh_token, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET account_email = EXCLUDED.account_email,
		    encrypted_access_token = EXCLUDED.encrypted_access_token,
		    encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`, t.ID, t.UserID, string(t.Provider), t.AccountEmail, t.EncryptedAccessToken,
		t.EncryptedRefreshToken, t.ExpiresAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

// GetOAuthToken returns a user's token for a provider.
func (db *DB) GetOAuthToken(ctx context.Context, userID uuid.UUID, provider models.OAuthProvider) (*models.OAuthToken, error) {
	var t models.OAuthToken
	var providerStr string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, provider, account_email, encrypted_access_token, encrypted_refresh_token, expires_at, created_at, updated_at
		FROM oauth_tokens
		WHERE user_id = $1 AND provider = $2
	`, userID, string(provider)).Scan(
		&t.ID, &t.UserID, &providerStr, &t.AccountEmail, &t.EncryptedAccessToken,
		&t.EncryptedRefreshToken, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("oauth token: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get oauth token: %w", err)
	}
	t.Provider = models.OAuthProvider(providerStr)
	return &t, nil
}

// UpdateOAuthTokenAccess replaces the access token after a refresh.
func (db *DB) UpdateOAuthTokenAccess(ctx context.Context, id uuid.UUID, encryptedAccess string, expiresAt time.Time) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE oauth_tokens
		SET encrypted_access_token = $2, expires_at = $3, updated_at = $4
		WHERE id = $1
	`, id, encryptedAccess, expiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("update oauth token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("oauth token %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteOAuthToken removes a user's token for a provider (disconnect).
func (db *DB) DeleteOAuthToken(ctx context.Context, userID uuid.UUID, provider models.OAuthProvider) error {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM oauth_tokens WHERE user_id = $1 AND provider = $2
	`, userID, string(provider))
	if err != nil {
		return fmt.Errorf("delete oauth token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("oauth token: %w", ErrNotFound)
	}
	return nil
}
