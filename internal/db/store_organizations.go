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

// CreateOrganization inserts an organization together with the creator's
// admin membership. The membership must exist before any org-scoped
// operation succeeds, so both rows commit atomically.
func (db *DB) CreateOrganization(ctx context.Context, org *models.Organization) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO organizations (id, name, backup_password_hash, telegram_bot_token, telegram_chat_id, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, org.ID, org.Name, org.BackupPasswordHash, org.TelegramBotToken, org.TelegramChatID,
			org.CreatedBy, org.CreatedAt, org.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}

		m := models.NewMembership(org.ID, org.CreatedBy, models.RoleAdmin)
		_, err = tx.Exec(ctx, `
			INSERT INTO organization_members (organization_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
		`, m.OrganizationID, m.UserID, string(m.Role), m.JoinedAt)
		if err != nil {
			return fmt.Errorf("insert admin membership: %w", err)
		}
		return nil
	})
}

// GetOrganizationByID returns an organization by its ID.
func (db *DB) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, backup_password_hash, telegram_bot_token, telegram_chat_id, created_by, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(
		&org.ID, &org.Name, &org.BackupPasswordHash, &org.TelegramBotToken,
		&org.TelegramChatID, &org.CreatedBy, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// ListOrganizationsForUser returns the organizations the user belongs to,
// with the user's role joined in.
func (db *DB) ListOrganizationsForUser(ctx context.Context, userID uuid.UUID) ([]*models.OrganizationWithRole, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT o.id, o.name, o.backup_password_hash, o.telegram_bot_token, o.telegram_chat_id,
		       o.created_by, o.created_at, o.updated_at, m.role, m.joined_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations for user: %w", err)
	}
	defer rows.Close()

	var orgs []*models.OrganizationWithRole
	for rows.Next() {
		var org models.OrganizationWithRole
		var roleStr string
		err := rows.Scan(
			&org.ID, &org.Name, &org.BackupPasswordHash, &org.TelegramBotToken,
			&org.TelegramChatID, &org.CreatedBy, &org.CreatedAt, &org.UpdatedAt,
			&roleStr, &org.JoinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		org.Role = models.MemberRole(roleStr)
		orgs = append(orgs, &org)
	}
	return orgs, rows.Err()
}

// UpdateOrganizationBackupPassword replaces the org backup password hash.
func (db *DB) UpdateOrganizationBackupPassword(ctx context.Context, orgID uuid.UUID, passwordHash string) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE organizations
		SET backup_password_hash = $2, updated_at = $3
		WHERE id = $1
	`, orgID, passwordHash, time.Now())
	if err != nil {
		return fmt.Errorf("update backup password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	return nil
}

// UpdateOrganizationTelegram sets the Telegram notification channel.
func (db *DB) UpdateOrganizationTelegram(ctx context.Context, orgID uuid.UUID, botToken, chatID string) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE organizations
		SET telegram_bot_token = $2, telegram_chat_id = $3, updated_at = $4
		WHERE id = $1
	`, orgID, botToken, chatID, time.Now())
	if err != nil {
		return fmt.Errorf("update telegram settings: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	return nil
}

// DeleteOrganization removes an organization. Owned rows cascade.
func (db *DB) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM organizations WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	return nil
}

// Membership methods

// GetMembership returns the membership row for a user in an organization.
func (db *DB) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	var roleStr string
	err := db.Pool.QueryRow(ctx, `
		SELECT organization_id, user_id, role, joined_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&m.OrganizationID, &m.UserID, &roleStr, &m.JoinedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, auth.ErrNotMember
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	m.Role = models.MemberRole(roleStr)
	return &m, nil
}

// CreateMembership inserts a membership row. Returns ErrDuplicate when the
// user already belongs to the organization.
func (db *DB) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, m.OrganizationID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("membership: %w", ErrDuplicate)
		}
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

// ListOrganizationMembers returns the members of an organization with their
// identities joined in.
func (db *DB) ListOrganizationMembers(ctx context.Context, orgID uuid.UUID) ([]*models.Member, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT u.id, u.email, u.username, m.role, m.joined_at
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.joined_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list organization members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		var member models.Member
		var roleStr string
		if err := rows.Scan(&member.UserID, &member.Email, &member.Username, &roleStr, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.Role = models.MemberRole(roleStr)
		members = append(members, &member)
	}
	return members, rows.Err()
}

// UpdateMembershipRole changes a member's role.
func (db *DB) UpdateMembershipRole(ctx context.Context, orgID, userID uuid.UUID, role models.MemberRole) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE organization_members
		SET role = $3
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID, string(role))
	if err != nil {
		return fmt.Errorf("update membership role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	return nil
}

// RemoveMembership removes a member and their connection grants in the
// organization.
func (db *DB) RemoveMembership(ctx context.Context, orgID, userID uuid.UUID) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			DELETE FROM organization_members
			WHERE organization_id = $1 AND user_id = $2
		`, orgID, userID)
		if err != nil {
			return fmt.Errorf("remove membership: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("membership: %w", ErrNotFound)
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM connection_permissions
			WHERE organization_id = $1 AND user_id = $2
		`, orgID, userID); err != nil {
			return fmt.Errorf("remove connection permissions: %w", err)
		}
		return nil
	})
}

// CountOrganizationAdmins returns the number of admins in an organization.
func (db *DB) CountOrganizationAdmins(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1 AND role = 'admin'
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count organization admins: %w", err)
	}
	return count, nil
}
