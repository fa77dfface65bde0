package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/models"
)

// BackupLogStore is the persistence surface the logs handler needs.
// Satisfied by *db.DB.
type BackupLogStore interface {
	ListBackupLogs(ctx context.Context, filter models.BackupLogFilter) ([]*models.BackupLog, int, error)
	GetBackupLogByID(ctx context.Context, id uuid.UUID) (*models.BackupLog, error)
}

// memberGate is the tenancy check shared by read-only org endpoints.
// Satisfied by *auth.Tenancy.
type memberGate interface {
	RequireMember(ctx context.Context, userID, orgID uuid.UUID) error
}

// BackupLogsHandler serves the backup audit trail.
type BackupLogsHandler struct {
	store  BackupLogStore
	access memberGate
	logger zerolog.Logger
}

// NewBackupLogsHandler creates a BackupLogsHandler.
func NewBackupLogsHandler(store BackupLogStore, access memberGate, logger zerolog.Logger) *BackupLogsHandler {
	return &BackupLogsHandler{
		store:  store,
		access: access,
		logger: logger.With().Str("component", "api.backup_logs").Logger(),
	}
}

// RegisterRoutes mounts the log endpoints on an authenticated group.
func (h *BackupLogsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/backup-logs", h.List)
	r.GET("/backup-logs/:id", h.Get)
}

// List returns backup logs, newest first, filtered by the query string.
//
//	@Summary	List backup logs
//	@Tags		backups
//	@Produce	json
//	@Param		organization_id	query	string	true	"Organization ID"
//	@Param		schedule_id		query	string	false	"Schedule ID"
//	@Param		connection_id	query	string	false	"Connection ID"
//	@Param		status			query	string	false	"running, success, error or deleted"
//	@Param		limit			query	int		false	"Page size"
//	@Param		offset			query	int		false	"Page offset"
//	@Success	200	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/backup-logs [get]
//	@Security	BearerAuth
func (h *BackupLogsHandler) List(c *gin.Context) {
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

	filter := models.BackupLogFilter{OrganizationID: orgID}
	if raw := c.Query("schedule_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondValidation(c, "invalid schedule_id")
			return
		}
		filter.ScheduleID = &id
	}
	if raw := c.Query("connection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondValidation(c, "invalid connection_id")
			return
		}
		filter.ConnectionID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := models.BackupLogStatus(raw)
		switch status {
		case models.BackupLogRunning, models.BackupLogSuccess, models.BackupLogError, models.BackupLogDeleted:
			filter.Status = &status
		default:
			respondValidation(c, "invalid status")
			return
		}
	}
	filter.Limit = intQuery(c, "limit", 50)
	filter.Offset = intQuery(c, "offset", 0)
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}

	logs, total, err := h.store.ListBackupLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if logs == nil {
		logs = []*models.BackupLog{}
	}
	respond(c, http.StatusOK, gin.H{"logs": logs, "total": total})
}

// Get returns one backup log. Member visibility.
func (h *BackupLogsHandler) Get(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	log, err := h.store.GetBackupLogByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireMember(c.Request.Context(), user.ID, log.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"log": log})
}

// intQuery parses a non-negative integer query parameter with a default.
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
