package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionHealthStatus defines the health status of a saved connection.
type ConnectionHealthStatus string

const (
	// ConnectionHealthHealthy indicates the last ping succeeded.
	ConnectionHealthHealthy ConnectionHealthStatus = "healthy"
	// ConnectionHealthUnhealthy indicates the last ping failed.
	ConnectionHealthUnhealthy ConnectionHealthStatus = "unhealthy"
	// ConnectionHealthUnknown indicates the connection has not been pinged yet.
	ConnectionHealthUnknown ConnectionHealthStatus = "unknown"
)

// Connection is a saved MongoDB connection belonging to an organization.
// The connection string is encrypted by the vault before it is persisted
// and is never exposed over the API.
type Connection struct {
	ID             uuid.UUID              `json:"id"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	Name           string                 `json:"name"`
	EncryptedURI   string                 `json:"-"`
	HealthStatus   ConnectionHealthStatus `json:"health_status"`
	LastPingAt     *time.Time             `json:"last_ping_at,omitempty"`
	LastPingError  *string                `json:"last_ping_error,omitempty"`
	CreatedBy      uuid.UUID              `json:"created_by"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewConnection creates a new Connection with the given details.
func NewConnection(orgID uuid.UUID, name, encryptedURI string, createdBy uuid.UUID) *Connection {
	now := time.Now()
	return &Connection{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           name,
		EncryptedURI:   encryptedURI,
		HealthStatus:   ConnectionHealthUnknown,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MarkHealthy records a successful ping.
func (c *Connection) MarkHealthy() {
	now := time.Now()
	c.HealthStatus = ConnectionHealthHealthy
	c.LastPingAt = &now
	c.LastPingError = nil
	c.UpdatedAt = now
}

// MarkUnhealthy records a failed ping with the error message.
func (c *Connection) MarkUnhealthy(errMsg string) {
	now := time.Now()
	c.HealthStatus = ConnectionHealthUnhealthy
	c.LastPingAt = &now
	c.LastPingError = &errMsg
	c.UpdatedAt = now
}

// ConnectionPermission grants a member access to a single connection.
// Admins bypass permission rows entirely.
type ConnectionPermission struct {
	ConnectionID   uuid.UUID `json:"connection_id"`
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	GrantedBy      uuid.UUID `json:"granted_by"`
	GrantedAt      time.Time `json:"granted_at"`
}

// NewConnectionPermission creates a permission grant.
func NewConnectionPermission(connectionID, userID, orgID, grantedBy uuid.UUID) *ConnectionPermission {
	return &ConnectionPermission{
		ConnectionID:   connectionID,
		UserID:         userID,
		OrganizationID: orgID,
		GrantedBy:      grantedBy,
		GrantedAt:      time.Now(),
	}
}

// ConnectionTestResult contains the result of a connectivity test.
type ConnectionTestResult struct {
	Success      bool          `json:"success"`
	ConnectionID uuid.UUID     `json:"connection_id"`
	ResponseTime time.Duration `json:"response_time"`
	Databases    []string      `json:"databases,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
