package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/models"
)

// ConnectionStore is the persistence surface the connections handler needs.
// Satisfied by *db.DB.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *models.Connection) error
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	ListConnectionsByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Connection, error)
	ListConnectionsForUser(ctx context.Context, orgID, userID uuid.UUID) ([]*models.Connection, error)
	UpdateConnection(ctx context.Context, conn *models.Connection) error
	DeleteConnection(ctx context.Context, id, orgID uuid.UUID) error
	ListConnectionPermissions(ctx context.Context, connectionID uuid.UUID) ([]*models.ConnectionPermission, error)
}

// ConnectionAccess is the tenancy surface the connections handler needs.
// Satisfied by *auth.Tenancy.
type ConnectionAccess interface {
	IsAdmin(ctx context.Context, userID, orgID uuid.UUID) (bool, error)
	RequireMember(ctx context.Context, userID, orgID uuid.UUID) error
	RequireAdmin(ctx context.Context, userID, orgID uuid.UUID) error
	RequireConnectionAccess(ctx context.Context, userID, connectionID, orgID uuid.UUID) error
	GrantConnection(ctx context.Context, adminID, orgID, memberID, connectionID uuid.UUID) error
	RevokeConnection(ctx context.Context, adminID, orgID, memberID, connectionID uuid.UUID) error
}

// URIEncrypter encrypts connection strings before they are stored.
// Satisfied by *crypto.Vault.
type URIEncrypter interface {
	Encrypt(plaintext string) (string, error)
}

// ConnectionTester probes a saved connection. Satisfied by
// *mongoconn.Registry.
type ConnectionTester interface {
	Test(ctx context.Context, userID, orgID, connectionID uuid.UUID) (*models.ConnectionTestResult, error)
}

// ConnectionsHandler serves saved MongoDB connection management. Connection
// strings go through the vault on the way in and never come back out.
type ConnectionsHandler struct {
	store  ConnectionStore
	access ConnectionAccess
	vault  URIEncrypter
	tester ConnectionTester
	logger zerolog.Logger
}

// NewConnectionsHandler creates a ConnectionsHandler.
func NewConnectionsHandler(store ConnectionStore, access ConnectionAccess, vault URIEncrypter, tester ConnectionTester, logger zerolog.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{
		store:  store,
		access: access,
		vault:  vault,
		tester: tester,
		logger: logger.With().Str("component", "api.connections").Logger(),
	}
}

// RegisterRoutes mounts the connection endpoints on an authenticated group.
func (h *ConnectionsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/connections", h.Create)
	r.GET("/connections", h.List)
	r.GET("/connections/:id", h.Get)
	r.PUT("/connections/:id", h.Update)
	r.DELETE("/connections/:id", h.Delete)
	r.POST("/connections/:id/test", h.Test)

	r.GET("/connections/:id/permissions", h.ListPermissions)
	r.POST("/connections/:id/permissions", h.Grant)
	r.DELETE("/connections/:id/permissions/:user_id", h.Revoke)
}

func validConnectionString(uri string) bool {
	return strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://")
}

type createConnectionRequest struct {
	OrganizationID   uuid.UUID `json:"organization_id" binding:"required"`
	Name             string    `json:"name" binding:"required"`
	ConnectionString string    `json:"connection_string" binding:"required"`
}

// Create saves a connection with its string encrypted at rest. Admin only.
//
//	@Summary	Save a MongoDB connection
//	@Tags		connections
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.createConnectionRequest	true	"Connection details"
//	@Success	201	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/connections [post]
//	@Security	BearerAuth
func (h *ConnectionsHandler) Create(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	var req createConnectionRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondValidation(c, "connection name is required")
		return
	}
	if !validConnectionString(req.ConnectionString) {
		respondValidation(c, "connection string must start with mongodb:// or mongodb+srv://")
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, req.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	encrypted, err := h.vault.Encrypt(req.ConnectionString)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	conn := models.NewConnection(req.OrganizationID, strings.TrimSpace(req.Name), encrypted, user.ID)
	if err := h.store.CreateConnection(c.Request.Context(), conn); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"connection": conn})
}

// List returns the connections the caller may use in the organization.
// Admins see all of them, members only the ones they were granted.
//
//	@Summary	List connections
//	@Tags		connections
//	@Produce	json
//	@Param		organization_id	query	string	true	"Organization ID"
//	@Success	200	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/connections [get]
//	@Security	BearerAuth
func (h *ConnectionsHandler) List(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, err := uuid.Parse(c.Query("organization_id"))
	if err != nil {
		respondValidation(c, "invalid organization_id")
		return
	}
	if err := h.access.RequireMember(c.Request.Context(), user.ID, orgID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	admin, err := h.access.IsAdmin(c.Request.Context(), user.ID, orgID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var conns []*models.Connection
	if admin {
		conns, err = h.store.ListConnectionsByOrganization(c.Request.Context(), orgID)
	} else {
		conns, err = h.store.ListConnectionsForUser(c.Request.Context(), orgID, user.ID)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"connections": conns})
}

// Get returns one connection. Requires connection access.
func (h *ConnectionsHandler) Get(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	connID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	conn, err := h.store.GetConnectionByID(c.Request.Context(), connID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireConnectionAccess(c.Request.Context(), user.ID, conn.ID, conn.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"connection": conn})
}

type updateConnectionRequest struct {
	Name             string `json:"name"`
	ConnectionString string `json:"connection_string"`
}

// Update renames a connection and optionally swaps its connection string.
// Admin only.
func (h *ConnectionsHandler) Update(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	connID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req updateConnectionRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ConnectionString != "" && !validConnectionString(req.ConnectionString) {
		respondValidation(c, "connection string must start with mongodb:// or mongodb+srv://")
		return
	}

	conn, err := h.store.GetConnectionByID(c.Request.Context(), connID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, conn.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		conn.Name = name
	}
	if req.ConnectionString != "" {
		encrypted, err := h.vault.Encrypt(req.ConnectionString)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		conn.EncryptedURI = encrypted
		// The stored health verdict described the old URI.
		conn.HealthStatus = models.ConnectionHealthUnknown
		conn.LastPingAt = nil
		conn.LastPingError = nil
	}
	if err := h.store.UpdateConnection(c.Request.Context(), conn); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"connection": conn})
}

// Delete removes a saved connection. Admin only.
func (h *ConnectionsHandler) Delete(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	connID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	conn, err := h.store.GetConnectionByID(c.Request.Context(), connID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, conn.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.store.DeleteConnection(c.Request.Context(), conn.ID, conn.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "connection deleted"})
}

// Test pings the saved deployment and records the health verdict.
//
//	@Summary	Test a connection
//	@Tags		connections
//	@Produce	json
//	@Param		id	path	string	true	"Connection ID"
//	@Success	200	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/connections/{id}/test [post]
//	@Security	BearerAuth
func (h *ConnectionsHandler) Test(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	connID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	conn, err := h.store.GetConnectionByID(c.Request.Context(), connID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	result, err := h.tester.Test(c.Request.Context(), user.ID, conn.OrganizationID, conn.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"result": result})
}

// ListPermissions returns the per-member grants on a connection. Admin only.
func (h *ConnectionsHandler) ListPermissions(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	connID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	conn, err := h.store.GetConnectionByID(c.Request.Context(), connID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, conn.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	perms, err := h.store.ListConnectionPermissions(c.Request.Context(), conn.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"permissions": perms})
}

type grantRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// Grant gives a member access to this connection. Admin only.
func (h *ConnectionsHandler) Grant(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	connID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !bindJSON(c, &req) {
		return
	}
	conn, err := h.store.GetConnectionByID(c.Request.Context(), connID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.GrantConnection(c.Request.Context(), user.ID, conn.OrganizationID, req.UserID, conn.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"message": "permission granted"})
}

// Revoke removes a member's access to this connection. Admin only.
func (h *ConnectionsHandler) Revoke(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	connID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	conn, err := h.store.GetConnectionByID(c.Request.Context(), connID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RevokeConnection(c.Request.Context(), user.ID, conn.OrganizationID, targetID, conn.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "permission revoked"})
}
