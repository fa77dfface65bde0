// Package models defines the domain models for Mongard.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MemberRole is a user's role within an organization.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// ValidMemberRoles returns all valid membership roles.
func ValidMemberRoles() []MemberRole {
	return []MemberRole{RoleAdmin, RoleMember}
}

// IsValidMemberRole checks if the given role is valid.
func IsValidMemberRole(r MemberRole) bool {
	return r == RoleAdmin || r == RoleMember
}

// Organization is a tenant. All connections, schedules and backup logs hang
// off an organization, and every access check resolves through it.
type Organization struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	// BackupPasswordHash is the vault hash of the org-wide backup password.
	// Empty until an admin sets one; backups are refused while empty.
	BackupPasswordHash string    `json:"-"`
	TelegramBotToken   string    `json:"-"`
	TelegramChatID     string    `json:"telegram_chat_id,omitempty"`
	CreatedBy          uuid.UUID `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewOrganization creates a new organization owned by the given user.
func NewOrganization(name string, createdBy uuid.UUID) *Organization {
	now := time.Now()
	return &Organization{
		ID:        uuid.New(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasBackupPassword reports whether an org backup password has been set.
func (o *Organization) HasBackupPassword() bool {
	return o.BackupPasswordHash != ""
}

// HasTelegram reports whether Telegram notifications are configured.
func (o *Organization) HasTelegram() bool {
	return o.TelegramBotToken != "" && o.TelegramChatID != ""
}

// Membership links a user to an organization with a role.
type Membership struct {
	OrganizationID uuid.UUID  `json:"organization_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Role           MemberRole `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
}

// NewMembership creates a membership record.
func NewMembership(orgID, userID uuid.UUID, role MemberRole) *Membership {
	return &Membership{
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       time.Now(),
	}
}

// IsAdmin checks if the membership carries the admin role.
func (m *Membership) IsAdmin() bool {
	return m.Role == RoleAdmin
}

// OrganizationWithRole is an organization joined with the caller's
// membership, for list display.
type OrganizationWithRole struct {
	Organization
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Member is a membership joined with the user's identity, for list display.
type Member struct {
	UserID   uuid.UUID  `json:"user_id"`
	Email    string     `json:"email"`
	Username string     `json:"username,omitempty"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
)

// Invitation invites an email address into an organization. The raw token is
// embedded in the invitation link; only its hash is stored.
type Invitation struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	Email          string           `json:"email"`
	Role           MemberRole       `json:"role"`
	TokenHash      string           `json:"-"`
	InvitedBy      uuid.UUID        `json:"invited_by"`
	Status         InvitationStatus `json:"status"`
	ExpiresAt      time.Time        `json:"expires_at"`
	AcceptedAt     *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewInvitation creates a pending invitation for the given email.
func NewInvitation(orgID uuid.UUID, email string, role MemberRole, tokenHash string, invitedBy uuid.UUID, ttl time.Duration) *Invitation {
	now := time.Now()
	return &Invitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		TokenHash:      tokenHash,
		InvitedBy:      invitedBy,
		Status:         InvitationPending,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
}

// IsExpired returns true if the invitation has expired.
func (i *Invitation) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// Accept marks the invitation accepted. No-op unless pending.
func (i *Invitation) Accept() {
	if i.Status != InvitationPending {
		return
	}
	now := time.Now()
	i.Status = InvitationAccepted
	i.AcceptedAt = &now
}

// Revoke marks the invitation revoked. No-op unless pending.
func (i *Invitation) Revoke() {
	if i.Status != InvitationPending {
		return
	}
	i.Status = InvitationRevoked
}
