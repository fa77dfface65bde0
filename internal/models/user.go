package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account. Emails are stored lowercased and
// NFC-normalized; the password hash is produced by the credential vault.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username,omitempty"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewUser creates a new unverified User with the given details.
func NewUser(email, username, passwordHash string) *User {
	now := time.Now()
	return &User{
		ID:            uuid.New(),
		Email:         email,
		Username:      username,
		PasswordHash:  passwordHash,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Session is a bearer login session. Only the SHA-256 hash of the token is
// persisted; the raw token is returned once at login.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSession creates a Session for the user with the given lifetime.
func NewSession(userID uuid.UUID, tokenHash string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// EmailVerification is a one-shot token that flips a user's emailVerified
// flag. Tokens are stored hashed, like sessions.
type EmailVerification struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	TokenHash  string     `json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewEmailVerification creates a pending verification token record.
func NewEmailVerification(userID uuid.UUID, tokenHash string, ttl time.Duration) *EmailVerification {
	now := time.Now()
	return &EmailVerification{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// IsExpired returns true if the token has expired.
func (v *EmailVerification) IsExpired() bool {
	return time.Now().After(v.ExpiresAt)
}

// IsConsumed reports whether the token has already been used.
func (v *EmailVerification) IsConsumed() bool {
	return v.ConsumedAt != nil
}
