package models

import (
	"time"

	"github.com/google/uuid"
)

// OAuthProvider identifies an external OAuth identity provider.
type OAuthProvider string

const (
	// OAuthProviderGoogle is Google, used for the Drive destination.
	OAuthProviderGoogle OAuthProvider = "google"
)

// OAuthToken stores a user's OAuth credentials for an external provider.
// Access and refresh tokens are encrypted by the vault before persistence.
type OAuthToken struct {
	ID                    uuid.UUID     `json:"id"`
	UserID                uuid.UUID     `json:"user_id"`
	Provider              OAuthProvider `json:"provider"`
	AccountEmail          string        `json:"account_email,omitempty"`
	EncryptedAccessToken  string        `json:"-"`
	EncryptedRefreshToken string        `json:"-"`
	ExpiresAt             time.Time     `json:"expires_at"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// NewOAuthToken creates an OAuthToken with encrypted credentials.
func NewOAuthToken(userID uuid.UUID, provider OAuthProvider, accountEmail, encryptedAccess, encryptedRefresh string, expiresAt time.Time) *OAuthToken {
	now := time.Now()
	return &OAuthToken{
		ID:                    uuid.New(),
		UserID:                userID,
		Provider:              provider,
		AccountEmail:          accountEmail,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ExpiresAt:             expiresAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// IsExpired returns true if the access token has expired.
func (t *OAuthToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
