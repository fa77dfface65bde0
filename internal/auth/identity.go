package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/mongardhq/mongard/internal/models"
)

// MinPasswordLength is the minimum accepted login password length.
const MinPasswordLength = 6

// DefaultSessionTTL is the session lifetime when none is configured.
const DefaultSessionTTL = 7 * 24 * time.Hour

// PasswordHasher hashes and verifies login passwords. Satisfied by
// *crypto.Vault.
type PasswordHasher interface {
	HashPassword(plaintext string) (string, error)
	VerifyPassword(plaintext, encoded string) bool
}

// IdentityStore defines the persistence operations the identity service
// needs. Satisfied by *db.DB.
type IdentityStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

// IdentityService manages accounts and bearer-token login sessions.
type IdentityService struct {
	store      IdentityStore
	hasher     PasswordHasher
	sessionTTL time.Duration
	logger     zerolog.Logger
}

// NewIdentityService creates an IdentityService. A non-positive sessionTTL
// falls back to DefaultSessionTTL.
func NewIdentityService(store IdentityStore, hasher PasswordHasher, sessionTTL time.Duration, logger zerolog.Logger) *IdentityService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &IdentityService{
		store:      store,
		hasher:     hasher,
		sessionTTL: sessionTTL,
		logger:     logger.With().Str("component", "identity").Logger(),
	}
}

// NormalizeEmail canonicalizes an email address for storage and lookup:
// NFC-normalized, trimmed and lowercased. Lookups must use the same form or
// case-insensitive matching silently breaks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(email)))
}

// ValidateEmail checks that the address parses per RFC 5322.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// HashToken returns the hex SHA-256 digest of a raw bearer token. Only the
// digest is ever persisted.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// generateSessionToken returns a URL-safe random bearer token.
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Register creates a new unverified account. The email is stored lowercased
// and NFC-normalized; the username is optional but unique when present.
// Duplicate email or username surfaces the store's duplicate error.
func (s *IdentityService) Register(ctx context.Context, email, username, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)

	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.NewUser(email, username, passwordHash)
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("email", user.Email).
		Msg("user registered")

	return user, nil
}

// Login verifies credentials and mints a fresh session. The raw token is
// returned exactly once; only its hash is stored. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = NormalizeEmail(email)

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		// Hash anyway so response timing does not reveal whether the
		// account exists.
		s.hasher.VerifyPassword(password, "")
		return nil, "", ErrAuthFailed
	}

	if !s.hasher.VerifyPassword(password, user.PasswordHash) {
		return nil, "", ErrAuthFailed
	}

	if !user.EmailVerified {
		return nil, "", ErrEmailNotVerified
	}

	rawToken, err := generateSessionToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate session token: %w", err)
	}

	session := models.NewSession(user.ID, HashToken(rawToken), s.sessionTTL)
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Time("expires_at", session.ExpiresAt).
		Msg("user logged in")

	return user, rawToken, nil
}

// CurrentUser resolves a raw bearer token to its user. Expired sessions are
// deleted on sight and reported as ErrSessionExpired.
func (s *IdentityService) CurrentUser(ctx context.Context, rawToken string) (*models.User, error) {
	if rawToken == "" {
		return nil, ErrSessionExpired
	}

	tokenHash := HashToken(rawToken)
	session, err := s.store.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, ErrSessionExpired
	}

	if session.IsExpired() {
		if delErr := s.store.DeleteSession(ctx, tokenHash); delErr != nil {
			s.logger.Warn().Err(delErr).Msg("failed to delete expired session")
		}
		return nil, ErrSessionExpired
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, ErrSessionExpired
	}
	return user, nil
}

// Logout deletes the session for the given raw token. Unknown tokens are
// ignored.
func (s *IdentityService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, HashToken(rawToken)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to delete session on logout")
	}
	return nil
}
