package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

// DefaultInvitationTTL is how long an invitation link stays valid.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// TenancyStore defines the persistence operations the tenancy layer needs.
// Satisfied by *db.DB.
type TenancyStore interface {
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID uuid.UUID) ([]*models.OrganizationWithRole, error)
	UpdateOrganizationBackupPassword(ctx context.Context, orgID uuid.UUID, passwordHash string) error
	UpdateOrganizationTelegram(ctx context.Context, orgID uuid.UUID, botToken, chatID string) error
	DeleteOrganization(ctx context.Context, id uuid.UUID) error

	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error)
	ListOrganizationMembers(ctx context.Context, orgID uuid.UUID) ([]*models.Member, error)
	UpdateMembershipRole(ctx context.Context, orgID, userID uuid.UUID, role models.MemberRole) error
	RemoveMembership(ctx context.Context, orgID, userID uuid.UUID) error
	CountOrganizationAdmins(ctx context.Context, orgID uuid.UUID) (int, error)

	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error)
	ListInvitationsByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID uuid.UUID, m *models.Membership) error
	RevokeInvitation(ctx context.Context, invitationID, orgID uuid.UUID) error

	GetConnectionByID(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	HasConnectionPermission(ctx context.Context, userID, connectionID uuid.UUID) (bool, error)
	GrantConnectionPermission(ctx context.Context, p *models.ConnectionPermission) error
	RevokeConnectionPermission(ctx context.Context, connectionID, userID uuid.UUID) error

	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Tenancy owns organizations, memberships, invitations, per-connection
// grants and the org backup password. Its predicates are the single trust
// boundary: every externally triggered operation runs exactly one of them
// before touching data, and callers must not pre-filter.
type Tenancy struct {
	store         TenancyStore
	hasher        PasswordHasher
	invitationTTL time.Duration
	logger        zerolog.Logger
}

// NewTenancy creates a Tenancy service. A non-positive invitationTTL falls
// back to DefaultInvitationTTL.
func NewTenancy(store TenancyStore, hasher PasswordHasher, invitationTTL time.Duration, logger zerolog.Logger) *Tenancy {
	if invitationTTL <= 0 {
		invitationTTL = DefaultInvitationTTL
	}
	return &Tenancy{
		store:         store,
		hasher:        hasher,
		invitationTTL: invitationTTL,
		logger:        logger.With().Str("component", "tenancy").Logger(),
	}
}

// IsMember reports whether the user has any membership in the organization.
func (t *Tenancy) IsMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	_, err := t.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsAdmin reports whether the user holds the admin role in the organization.
func (t *Tenancy) IsAdmin(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	m, err := t.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return false, nil
		}
		return false, err
	}
	return m.IsAdmin(), nil
}

// CanAccessConnection reports whether the user may read through the
// connection: admins always, members only with an explicit grant.
func (t *Tenancy) CanAccessConnection(ctx context.Context, userID, connectionID, orgID uuid.UUID) (bool, error) {
	admin, err := t.IsAdmin(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}

	member, err := t.IsMember(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	if !member {
		return false, nil
	}

	return t.store.HasConnectionPermission(ctx, userID, connectionID)
}

// CanManageConnections reports whether the user may create, update, delete
// or share connections. Admin only.
func (t *Tenancy) CanManageConnections(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	return t.IsAdmin(ctx, userID, orgID)
}

// CanBackup reports whether the user may trigger a backup: admin role plus
// a correct org backup password, checked at the call site.
func (t *Tenancy) CanBackup(ctx context.Context, userID, orgID uuid.UUID, backupPassword string) (bool, error) {
	admin, err := t.IsAdmin(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	if !admin {
		return false, nil
	}
	return t.VerifyBackupPassword(ctx, orgID, backupPassword)
}

// RequireMember returns ErrPermissionDenied unless the user is a member.
func (t *Tenancy) RequireMember(ctx context.Context, userID, orgID uuid.UUID) error {
	ok, err := t.IsMember(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// RequireAdmin returns ErrPermissionDenied unless the user is an admin.
func (t *Tenancy) RequireAdmin(ctx context.Context, userID, orgID uuid.UUID) error {
	ok, err := t.IsAdmin(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// RequireConnectionAccess returns ErrPermissionDenied unless the user may
// read through the connection. The error never reveals whether the
// connection exists.
func (t *Tenancy) RequireConnectionAccess(ctx context.Context, userID, connectionID, orgID uuid.UUID) error {
	ok, err := t.CanAccessConnection(ctx, userID, connectionID, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// CreateOrganization inserts an organization with the creator as its first
// admin, both rows in one transaction. The backup password is mandatory; its
// hash gates every backup and export for the organization from the start.
func (t *Tenancy) CreateOrganization(ctx context.Context, userID uuid.UUID, name, backupPassword string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("organization name is required")
	}
	if err := ValidatePassword(backupPassword); err != nil {
		return nil, fmt.Errorf("backup password: %w", err)
	}

	hash, err := t.hasher.HashPassword(backupPassword)
	if err != nil {
		return nil, fmt.Errorf("hash backup password: %w", err)
	}
	org := models.NewOrganization(name, userID)
	org.BackupPasswordHash = hash

	if err := t.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("org_id", org.ID.String()).
		Str("created_by", userID.String()).
		Msg("organization created")

	return org, nil
}

// GetOrganization returns the organization if the caller is a member.
func (t *Tenancy) GetOrganization(ctx context.Context, userID, orgID uuid.UUID) (*models.Organization, error) {
	if err := t.RequireMember(ctx, userID, orgID); err != nil {
		return nil, err
	}
	return t.store.GetOrganizationByID(ctx, orgID)
}

// ListOrganizations returns the caller's organizations with their roles.
func (t *Tenancy) ListOrganizations(ctx context.Context, userID uuid.UUID) ([]*models.OrganizationWithRole, error) {
	return t.store.ListOrganizationsForUser(ctx, userID)
}

// ListMembers returns the organization's members. Member visibility.
func (t *Tenancy) ListMembers(ctx context.Context, userID, orgID uuid.UUID) ([]*models.Member, error) {
	if err := t.RequireMember(ctx, userID, orgID); err != nil {
		return nil, err
	}
	return t.store.ListOrganizationMembers(ctx, orgID)
}

// Invite creates a pending invitation and returns it together with the raw
// token for the invitation link. Admin only.
func (t *Tenancy) Invite(ctx context.Context, adminID, orgID uuid.UUID, email string, role models.MemberRole) (*models.Invitation, string, error) {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return nil, "", err
	}

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, "", err
	}
	if role == "" {
		role = models.RoleMember
	}
	if !models.IsValidMemberRole(role) {
		return nil, "", fmt.Errorf("invalid role %q", role)
	}

	rawToken, err := generateSessionToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate invitation token: %w", err)
	}

	inv := models.NewInvitation(orgID, email, role, HashToken(rawToken), adminID, t.invitationTTL)
	if err := t.store.CreateInvitation(ctx, inv); err != nil {
		return nil, "", err
	}

	t.logger.Info().
		Str("org_id", orgID.String()).
		Str("email", email).
		Str("role", string(role)).
		Msg("invitation created")

	return inv, rawToken, nil
}

// ListInvitations returns the organization's invitations. Admin only.
func (t *Tenancy) ListInvitations(ctx context.Context, adminID, orgID uuid.UUID) ([]*models.Invitation, error) {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return nil, err
	}
	return t.store.ListInvitationsByOrganization(ctx, orgID)
}

// AcceptInvitation redeems an invitation token for the calling user. The
// user's verified email must match the invited address case-insensitively;
// the membership is created with the invited role.
func (t *Tenancy) AcceptInvitation(ctx context.Context, userID uuid.UUID, rawToken string) error {
	inv, err := t.store.GetInvitationByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return err
	}

	if inv.Status != models.InvitationPending || inv.IsExpired() {
		return ErrInvitationInvalid
	}

	user, err := t.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.EmailVerified {
		return ErrEmailNotVerified
	}
	if NormalizeEmail(user.Email) != NormalizeEmail(inv.Email) {
		return ErrEmailMismatch
	}

	m := models.NewMembership(inv.OrganizationID, userID, inv.Role)
	if err := t.store.AcceptInvitation(ctx, inv.ID, m); err != nil {
		return err
	}

	t.logger.Info().
		Str("org_id", inv.OrganizationID.String()).
		Str("user_id", userID.String()).
		Msg("invitation accepted")

	return nil
}

// RevokeInvitation cancels a pending invitation. Admin only.
func (t *Tenancy) RevokeInvitation(ctx context.Context, adminID, orgID, invitationID uuid.UUID) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	return t.store.RevokeInvitation(ctx, invitationID, orgID)
}

// SetRole changes a member's role. Demoting the last admin is refused so
// the organization never ends up unmanageable.
func (t *Tenancy) SetRole(ctx context.Context, adminID, orgID, targetUserID uuid.UUID, role models.MemberRole) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	if !models.IsValidMemberRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}

	target, err := t.store.GetMembership(ctx, orgID, targetUserID)
	if err != nil {
		return err
	}

	if target.IsAdmin() && role != models.RoleAdmin {
		admins, err := t.store.CountOrganizationAdmins(ctx, orgID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	if err := t.store.UpdateMembershipRole(ctx, orgID, targetUserID, role); err != nil {
		return err
	}

	t.logger.Info().
		Str("org_id", orgID.String()).
		Str("user_id", targetUserID.String()).
		Str("role", string(role)).
		Msg("member role changed")

	return nil
}

// RemoveMember removes a member and their connection grants. Removing the
// last admin is refused.
func (t *Tenancy) RemoveMember(ctx context.Context, adminID, orgID, targetUserID uuid.UUID) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}

	target, err := t.store.GetMembership(ctx, orgID, targetUserID)
	if err != nil {
		return err
	}

	if target.IsAdmin() {
		admins, err := t.store.CountOrganizationAdmins(ctx, orgID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	if err := t.store.RemoveMembership(ctx, orgID, targetUserID); err != nil {
		return err
	}

	t.logger.Info().
		Str("org_id", orgID.String()).
		Str("user_id", targetUserID.String()).
		Msg("member removed")

	return nil
}

// ResetBackupPassword replaces the org backup password hash. Admin only.
func (t *Tenancy) ResetBackupPassword(ctx context.Context, adminID, orgID uuid.UUID, newPassword string) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := t.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash backup password: %w", err)
	}
	if err := t.store.UpdateOrganizationBackupPassword(ctx, orgID, hash); err != nil {
		return err
	}

	t.logger.Info().Str("org_id", orgID.String()).Msg("backup password reset")
	return nil
}

// VerifyBackupPassword checks a plaintext against the org backup password
// hash. False while no password has been set: backups are refused until an
// admin configures one.
func (t *Tenancy) VerifyBackupPassword(ctx context.Context, orgID uuid.UUID, plaintext string) (bool, error) {
	org, err := t.store.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return false, err
	}
	if !org.HasBackupPassword() {
		return false, nil
	}
	return t.hasher.VerifyPassword(plaintext, org.BackupPasswordHash), nil
}

// UpdateTelegram sets the org's Telegram notification settings. Admin only.
// Empty values clear the configuration.
func (t *Tenancy) UpdateTelegram(ctx context.Context, adminID, orgID uuid.UUID, botToken, chatID string) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	return t.store.UpdateOrganizationTelegram(ctx, orgID, botToken, chatID)
}

// DeleteOrganization removes the organization and everything it owns:
// memberships, invitations, connections, grants, schedules and logs cascade
// at the storage layer. Admin only.
func (t *Tenancy) DeleteOrganization(ctx context.Context, adminID, orgID uuid.UUID) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}

	if err := t.store.DeleteOrganization(ctx, orgID); err != nil {
		return err
	}

	t.logger.Info().
		Str("org_id", orgID.String()).
		Str("deleted_by", adminID.String()).
		Msg("organization deleted")

	return nil
}

// GrantConnection shares a connection with a member. Admin only; the target
// must already be a member and the connection must belong to the org.
func (t *Tenancy) GrantConnection(ctx context.Context, adminID, orgID, memberID, connectionID uuid.UUID) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}

	conn, err := t.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.OrganizationID != orgID {
		return ErrPermissionDenied
	}

	if _, err := t.store.GetMembership(ctx, orgID, memberID); err != nil {
		return err
	}

	p := models.NewConnectionPermission(connectionID, memberID, orgID, adminID)
	if err := t.store.GrantConnectionPermission(ctx, p); err != nil {
		return err
	}

	t.logger.Info().
		Str("connection_id", connectionID.String()).
		Str("user_id", memberID.String()).
		Msg("connection access granted")

	return nil
}

// RevokeConnection removes a member's grant on a connection. Admin only.
func (t *Tenancy) RevokeConnection(ctx context.Context, adminID, orgID, memberID, connectionID uuid.UUID) error {
	if err := t.RequireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}

	conn, err := t.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.OrganizationID != orgID {
		return ErrPermissionDenied
	}

	if err := t.store.RevokeConnectionPermission(ctx, connectionID, memberID); err != nil {
		return err
	}

	t.logger.Info().
		Str("connection_id", connectionID.String()).
		Str("user_id", memberID.String()).
		Msg("connection access revoked")

	return nil
}
