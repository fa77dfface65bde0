package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

// DefaultVerificationTTL is how long an email verification token stays valid.
const DefaultVerificationTTL = 24 * time.Hour

// VerificationStore defines the persistence operations for email
// verification. Satisfied by *db.DB.
type VerificationStore interface {
	CreateEmailVerification(ctx context.Context, v *models.EmailVerification) error
	GetEmailVerificationByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerification, error)
	ConsumeEmailVerification(ctx context.Context, id, userID uuid.UUID) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// VerificationService issues and consumes one-shot email verification tokens.
// The raw token is surfaced once for the mail side-channel; only its hash is
// stored.
type VerificationService struct {
	store    VerificationStore
	tokenTTL time.Duration
	logger   zerolog.Logger
}

// NewVerificationService creates a VerificationService. A non-positive
// tokenTTL falls back to DefaultVerificationTTL.
func NewVerificationService(store VerificationStore, tokenTTL time.Duration, logger zerolog.Logger) *VerificationService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultVerificationTTL
	}
	return &VerificationService{
		store:    store,
		tokenTTL: tokenTTL,
		logger:   logger.With().Str("component", "verification").Logger(),
	}
}

// IssueToken creates a verification token for an unverified user and returns
// the raw token for delivery.
func (s *VerificationService) IssueToken(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if user.EmailVerified {
		return "", ErrAlreadyVerified
	}

	rawToken, err := generateSessionToken()
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}

	record := models.NewEmailVerification(userID, HashToken(rawToken), s.tokenTTL)
	if err := s.store.CreateEmailVerification(ctx, record); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID.String()).
		Time("expires_at", record.ExpiresAt).
		Msg("issued email verification token")

	return rawToken, nil
}

// Verify consumes a raw token and flips the user's emailVerified flag. Each
// token works exactly once; expiry and re-use are distinct errors.
func (s *VerificationService) Verify(ctx context.Context, rawToken string) error {
	record, err := s.store.GetEmailVerificationByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return err
	}

	if record.IsConsumed() {
		return ErrTokenAlreadyUsed
	}
	if record.IsExpired() {
		return ErrTokenExpired
	}

	if err := s.store.ConsumeEmailVerification(ctx, record.ID, record.UserID); err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", record.UserID.String()).
		Msg("email verified")

	return nil
}
