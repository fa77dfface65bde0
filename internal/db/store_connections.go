package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mongardhq/mongard/internal/models"
)

// CreateConnection inserts a saved connection. Returns ErrDuplicate when the
// name is already taken within the organization.
func (db *DB) CreateConnection(ctx context.Context, conn *models.Connection) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO connections (id, organization_id, name, encrypted_uri, health_status, last_ping_at, last_ping_error, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, conn.ID, conn.OrganizationID, conn.Name, conn.EncryptedURI, string(conn.HealthStatus),
		conn.LastPingAt, conn.LastPingError, conn.CreatedBy, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("connection %q: %w", conn.Name, ErrDuplicate)
		}
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

// GetConnectionByID returns a connection by its ID. Tenancy checks belong to
// the caller.
func (db *DB) GetConnectionByID(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	var conn models.Connection
	var statusStr string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, organization_id, name, encrypted_uri, health_status, last_ping_at, last_ping_error, created_by, created_at, updated_at
		FROM connections
		WHERE id = $1
	`, id).Scan(
		&conn.ID, &conn.OrganizationID, &conn.Name, &conn.EncryptedURI, &statusStr,
		&conn.LastPingAt, &conn.LastPingError, &conn.CreatedBy, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	conn.HealthStatus = models.ConnectionHealthStatus(statusStr)
	return &conn, nil
}

// ListConnectionsByOrganization returns every connection in an organization.
// This is the admin view.
func (db *DB) ListConnectionsByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Connection, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, organization_id, name, encrypted_uri, health_status, last_ping_at, last_ping_error, created_by, created_at, updated_at
		FROM connections
		WHERE organization_id = $1
		ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// ListConnectionsForUser returns the connections in an organization the user
// has an explicit permission row for. This is the member view; admins use
// ListConnectionsByOrganization.
func (db *DB) ListConnectionsForUser(ctx context.Context, orgID, userID uuid.UUID) ([]*models.Connection, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT c.id, c.organization_id, c.name, c.encrypted_uri, c.health_status, c.last_ping_at, c.last_ping_error, c.created_by, c.created_at, c.updated_at
		FROM connections c
		JOIN connection_permissions p ON p.connection_id = c.id AND p.user_id = $2
		WHERE c.organization_id = $1
		ORDER BY c.name
	`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections for user: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

func scanConnections(rows pgx.Rows) ([]*models.Connection, error) {
	var conns []*models.Connection
	for rows.Next() {
		var conn models.Connection
		var statusStr string
		err := rows.Scan(
			&conn.ID, &conn.OrganizationID, &conn.Name, &conn.EncryptedURI, &statusStr,
			&conn.LastPingAt, &conn.LastPingError, &conn.CreatedBy, &conn.CreatedAt, &conn.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conn.HealthStatus = models.ConnectionHealthStatus(statusStr)
		conns = append(conns, &conn)
	}
	return conns, rows.Err()
}

// UpdateConnection replaces a connection's name and encrypted URI.
func (db *DB) UpdateConnection(ctx context.Context, conn *models.Connection) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE connections
		SET name = $3, encrypted_uri = $4, updated_at = $5
		WHERE id = $1 AND organization_id = $2
	`, conn.ID, conn.OrganizationID, conn.Name, conn.EncryptedURI, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("connection %q: %w", conn.Name, ErrDuplicate)
		}
		return fmt.Errorf("update connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", conn.ID, ErrNotFound)
	}
	return nil
}

// UpdateConnectionHealth records the outcome of a liveness probe.
func (db *DB) UpdateConnectionHealth(ctx context.Context, conn *models.Connection) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE connections
		SET health_status = $2, last_ping_at = $3, last_ping_error = $4, updated_at = $5
		WHERE id = $1
	`, conn.ID, string(conn.HealthStatus), conn.LastPingAt, conn.LastPingError, conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update connection health: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection. Schedules cascade; logs keep their
// denormalized connection name.
func (db *DB) DeleteConnection(ctx context.Context, id, orgID uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM connections WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

// Connection permission methods

// GrantConnectionPermission inserts a permission row. Granting twice is not
// an error.
func (db *DB) GrantConnectionPermission(ctx context.Context, p *models.ConnectionPermission) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO connection_permissions (connection_id, user_id, organization_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connection_id, user_id) DO NOTHING
	`, p.ConnectionID, p.UserID, p.OrganizationID, p.GrantedBy, p.GrantedAt)
	if err != nil {
		return fmt.Errorf("grant connection permission: %w", err)
	}
	return nil
}

// RevokeConnectionPermission removes a permission row.
func (db *DB) RevokeConnectionPermission(ctx context.Context, connectionID, userID uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM connection_permissions
		WHERE connection_id = $1 AND user_id = $2
	`, connectionID, userID)
	if err != nil {
		return fmt.Errorf("revoke connection permission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection permission: %w", ErrNotFound)
	}
	return nil
}

// HasConnectionPermission reports whether an explicit permission row exists.
func (db *DB) HasConnectionPermission(ctx context.Context, userID, connectionID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM connection_permissions
			WHERE user_id = $1 AND connection_id = $2
		)
	`, userID, connectionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check connection permission: %w", err)
	}
	return exists, nil
}

// ListConnectionPermissions returns the permission rows for a connection.
func (db *DB) ListConnectionPermissions(ctx context.Context, connectionID uuid.UUID) ([]*models.ConnectionPermission, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT connection_id, user_id, organization_id, granted_by, granted_at
		FROM connection_permissions
		WHERE connection_id = $1
		ORDER BY granted_at
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list connection permissions: %w", err)
	}
	defer rows.Close()

	var perms []*models.ConnectionPermission
	for rows.Next() {
		var p models.ConnectionPermission
		if err := rows.Scan(&p.ConnectionID, &p.UserID, &p.OrganizationID, &p.GrantedBy, &p.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan connection permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}
