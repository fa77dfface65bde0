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

// CreateInvitation inserts a pending invitation.
func (db *DB) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO organization_invitations (id, organization_id, email, role, token_hash, invited_by, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID, inv.OrganizationID, inv.Email, string(inv.Role), inv.TokenHash,
		inv.InvitedBy, string(inv.Status), inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

// GetInvitationByTokenHash returns an invitation by the SHA-256 hash of its
// token.
func (db *DB) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	var inv models.Invitation
	var roleStr, statusStr string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, organization_id, email, role, token_hash, invited_by, status, expires_at, accepted_at, created_at
		FROM organization_invitations
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &roleStr, &inv.TokenHash,
		&inv.InvitedBy, &statusStr, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, auth.ErrInvitationInvalid
		}
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	inv.Role = models.MemberRole(roleStr)
	inv.Status = models.InvitationStatus(statusStr)
	return &inv, nil
}

// ListInvitationsByOrganization returns all invitations for an organization,
// newest first.
func (db *DB) ListInvitationsByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Invitation, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, organization_id, email, role, token_hash, invited_by, status, expires_at, accepted_at, created_at
		FROM organization_invitations
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*models.Invitation
	for rows.Next() {
		var inv models.Invitation
		var roleStr, statusStr string
		err := rows.Scan(
			&inv.ID, &inv.OrganizationID, &inv.Email, &roleStr, &inv.TokenHash,
			&inv.InvitedBy, &statusStr, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		inv.Role = models.MemberRole(roleStr)
		inv.Status = models.InvitationStatus(statusStr)
		invitations = append(invitations, &inv)
	}
	return invitations, rows.Err()
}

// AcceptInvitation transitions a pending invitation to accepted and inserts
// the membership in one transaction. The conditional update guards against
// concurrent acceptance.
func (db *DB) AcceptInvitation(ctx context.Context, invitationID uuid.UUID, m *models.Membership) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE organization_invitations
			SET status = 'accepted', accepted_at = $2
			WHERE id = $1 AND status = 'pending' AND expires_at > NOW()
		`, invitationID, time.Now())
		if err != nil {
			return fmt.Errorf("accept invitation: %w", err)
		}
		if result.RowsAffected() == 0 {
			return auth.ErrInvitationInvalid
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO organization_members (organization_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (organization_id, user_id) DO NOTHING
		`, m.OrganizationID, m.UserID, string(m.Role), m.JoinedAt)
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
}

// RevokeInvitation transitions a pending invitation to revoked.
func (db *DB) RevokeInvitation(ctx context.Context, invitationID, orgID uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE organization_invitations
		SET status = 'revoked'
		WHERE id = $1 AND organization_id = $2 AND status = 'pending'
	`, invitationID, orgID)
	if err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrInvitationInvalid
	}
	return nil
}

// DeleteExpiredInvitations removes pending invitations past expiry.
func (db *DB) DeleteExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM organization_invitations
		WHERE status = 'pending' AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("delete expired invitations: %w", err)
	}
	return result.RowsAffected(), nil
}
