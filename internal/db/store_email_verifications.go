package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
)

// CreateEmailVerification inserts a pending verification token record.
func (db *DB) CreateEmailVerification(ctx context.Context, v *models.EmailVerification) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO email_verifications (id, user_id, token_hash, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.UserID, v.TokenHash, v.ExpiresAt, v.ConsumedAt, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create email verification: %w", err)
	}
	return nil
}

// GetEmailVerificationByTokenHash returns a verification record by the
// SHA-256 hash of its token.
func (db *DB) GetEmailVerificationByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerification, error) {
	var v models.EmailVerification
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, consumed_at, created_at
		FROM email_verifications
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&v.ID, &v.UserID, &v.TokenHash, &v.ExpiresAt, &v.ConsumedAt, &v.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, auth.ErrTokenNotFound
		}
		return nil, fmt.Errorf("get email verification: %w", err)
	}
	return &v, nil
}

// ConsumeEmailVerification marks the token consumed and flips the user's
// email_verified flag in one transaction. The conditional update is the
// race-safe gate against double use.
func (db *DB) ConsumeEmailVerification(ctx context.Context, id, userID uuid.UUID) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE email_verifications
			SET consumed_at = $2
			WHERE id = $1 AND consumed_at IS NULL
		`, id, time.Now())
		if err != nil {
			return fmt.Errorf("consume email verification: %w", err)
		}
		if result.RowsAffected() == 0 {
			return auth.ErrTokenAlreadyUsed
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET email_verified = TRUE, updated_at = $2
			WHERE id = $1
		`, userID, time.Now()); err != nil {
			return fmt.Errorf("mark user verified: %w", err)
		}
		return nil
	})
}

// DeleteExpiredEmailVerifications removes unconsumed tokens past expiry.
func (db *DB) DeleteExpiredEmailVerifications(ctx context.Context) (int64, error) {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM email_verifications
		WHERE consumed_at IS NULL AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("delete expired email verifications: %w", err)
	}
	return result.RowsAffected(), nil
}
