package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/backup"
	"github.com/mongardhq/mongard/internal/models"
)

// BackupRunner executes backups. Satisfied by *backup.Executor.
type BackupRunner interface {
	ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID) (*models.BackupLog, error)
	ExecuteAdHoc(ctx context.Context, req backup.AdHocRequest) (*models.BackupLog, error)
}

// scheduleReader loads schedules for the pre-execution admin gate.
// Satisfied by *db.DB.
type scheduleReader interface {
	GetBackupScheduleByID(ctx context.Context, id uuid.UUID) (*models.BackupSchedule, error)
}

// adminGate is the tenancy check the backups handler needs. Satisfied by
// *auth.Tenancy.
type adminGate interface {
	RequireAdmin(ctx context.Context, userID, orgID uuid.UUID) error
}

// BackupsHandler triggers backup executions over HTTP. The scheduler drives
// the same executor; this is the manual path.
type BackupsHandler struct {
	runner    BackupRunner
	schedules scheduleReader
	access    adminGate
	logger    zerolog.Logger
}

// NewBackupsHandler creates a BackupsHandler.
func NewBackupsHandler(runner BackupRunner, schedules scheduleReader, access adminGate, logger zerolog.Logger) *BackupsHandler {
	return &BackupsHandler{
		runner:    runner,
		schedules: schedules,
		access:    access,
		logger:    logger.With().Str("component", "api.backups").Logger(),
	}
}

// RegisterRoutes mounts the execution endpoint on an authenticated group.
func (h *BackupsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/backup/execute", h.Execute)
}

type executeRequest struct {
	ScheduleID uuid.UUID `json:"schedule_id"`

	// Ad-hoc form, used when schedule_id is absent.
	OrganizationID uuid.UUID          `json:"organization_id"`
	ConnectionID   uuid.UUID          `json:"connection_id"`
	Database       string             `json:"database"`
	Collections    []string           `json:"collections"`
	Destination    models.Destination `json:"destination"`
	BackupPassword string             `json:"backup_password"`
}

// Execute runs one backup now and waits for it. With schedule_id the run
// uses the schedule's stored settings and credentials; otherwise the body
// must describe an ad-hoc run including the org backup password. Admin
// only either way.
//
//	@Summary	Execute a backup now
//	@Tags		backups
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.executeRequest	true	"Schedule reference or ad-hoc run"
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/backup/execute [post]
//	@Security	BearerAuth
func (h *BackupsHandler) Execute(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	var req executeRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.ScheduleID != uuid.Nil {
		h.executeSchedule(c, user.ID, req.ScheduleID)
		return
	}
	h.executeAdHoc(c, user.ID, req)
}

func (h *BackupsHandler) executeSchedule(c *gin.Context, userID, scheduleID uuid.UUID) {
	schedule, err := h.schedules.GetBackupScheduleByID(c.Request.Context(), scheduleID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), userID, schedule.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	log, err := h.runner.ExecuteSchedule(c.Request.Context(), scheduleID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"log": log})
}

func (h *BackupsHandler) executeAdHoc(c *gin.Context, userID uuid.UUID, req executeRequest) {
	if req.OrganizationID == uuid.Nil || req.ConnectionID == uuid.Nil {
		respondValidation(c, "schedule_id or organization_id and connection_id required")
		return
	}
	if req.Database == "" {
		respondValidation(c, "database is required")
		return
	}
	if req.BackupPassword == "" {
		respondValidation(c, "backup_password is required")
		return
	}
	destination := req.Destination
	if destination.Type == "" {
		destination.Type = models.DestinationLocal
	}
	if !models.IsValidDestinationType(destination.Type) {
		respondValidation(c, "invalid destination type")
		return
	}

	log, err := h.runner.ExecuteAdHoc(c.Request.Context(), backup.AdHocRequest{
		UserID:         userID,
		OrganizationID: req.OrganizationID,
		ConnectionID:   req.ConnectionID,
		DatabaseName:   req.Database,
		Collections:    req.Collections,
		Destination:    destination,
		BackupPassword: req.BackupPassword,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"log": log})
}
