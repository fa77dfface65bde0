package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
)

// ScheduleStore is the persistence surface the schedules handler needs.
// Satisfied by *db.DB.
type ScheduleStore interface {
	CreateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error
	GetBackupScheduleByID(ctx context.Context, id uuid.UUID) (*models.BackupSchedule, error)
	ListBackupSchedulesByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.ScheduleWithLastRun, error)
	UpdateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error
	SetBackupScheduleEnabled(ctx context.Context, id, orgID uuid.UUID, enabled bool, nextRunAt *time.Time) error
	DeleteBackupSchedule(ctx context.Context, id, orgID uuid.UUID) error
}

// scheduleTenancy is the tenancy surface the schedules handler needs.
// Satisfied by *auth.Tenancy.
type scheduleTenancy interface {
	RequireMember(ctx context.Context, userID, orgID uuid.UUID) error
	RequireAdmin(ctx context.Context, userID, orgID uuid.UUID) error
	VerifyBackupPassword(ctx context.Context, orgID uuid.UUID, plaintext string) (bool, error)
}

// SchedulesHandler serves backup schedule management. Saving a schedule
// captures a vault-encrypted copy of the org backup password so unattended
// runs can pass the backup gate later.
type SchedulesHandler struct {
	store            ScheduleStore
	access           scheduleTenancy
	vault            URIEncrypter
	defaultRetention int
	logger           zerolog.Logger
}

// NewSchedulesHandler creates a SchedulesHandler. defaultRetention applies
// when a create request does not name a retention count.
func NewSchedulesHandler(store ScheduleStore, access scheduleTenancy, vault URIEncrypter, defaultRetention int, logger zerolog.Logger) *SchedulesHandler {
	if defaultRetention < 1 {
		defaultRetention = 1
	}
	return &SchedulesHandler{
		store:            store,
		access:           access,
		vault:            vault,
		defaultRetention: defaultRetention,
		logger:           logger.With().Str("component", "api.schedules").Logger(),
	}
}

// RegisterRoutes mounts the schedule endpoints on an authenticated group.
func (h *SchedulesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/backup-schedules", h.Create)
	r.GET("/backup-schedules", h.List)
	r.GET("/backup-schedules/:id", h.Get)
	r.PUT("/backup-schedules/:id", h.Update)
	r.POST("/backup-schedules/:id/toggle", h.Toggle)
	r.DELETE("/backup-schedules/:id", h.Delete)
}

type createScheduleRequest struct {
	OrganizationID uuid.UUID          `json:"organization_id" binding:"required"`
	ConnectionID   uuid.UUID          `json:"connection_id" binding:"required"`
	Name           string             `json:"name" binding:"required"`
	Database       string             `json:"database" binding:"required"`
	Collections    []string           `json:"collections"`
	Days           []int              `json:"days" binding:"required"`
	Times          []string           `json:"times" binding:"required"`
	Timezone       string             `json:"timezone"`
	Destination    models.Destination `json:"destination"`
	RetentionCount int                `json:"retention_count"`
	BackupPassword string             `json:"backup_password" binding:"required"`
}

// Create saves a backup schedule. Admin only, and the org backup password
// must check out; a vault-encrypted copy of it is stored with the schedule.
//
//	@Summary	Create a backup schedule
//	@Tags		schedules
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.createScheduleRequest	true	"Schedule"
//	@Success	201	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/backup-schedules [post]
//	@Security	BearerAuth
func (h *SchedulesHandler) Create(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	var req createScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, req.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok, err := h.access.VerifyBackupPassword(c.Request.Context(), req.OrganizationID, req.BackupPassword)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !ok {
		respondError(c, h.logger, auth.ErrPermissionDenied)
		return
	}

	schedule := models.NewBackupSchedule(req.OrganizationID, req.ConnectionID, req.Name, req.Database, req.Days, req.Times, user.ID)
	schedule.Collections = req.Collections
	schedule.Timezone = req.Timezone
	schedule.Destination = req.Destination
	if schedule.Destination.Type == "" {
		schedule.Destination.Type = models.DestinationLocal
	}
	schedule.RetentionCount = req.RetentionCount
	if schedule.RetentionCount == 0 {
		schedule.RetentionCount = h.defaultRetention
	}
	if err := schedule.Validate(); err != nil {
		respondValidation(c, err.Error())
		return
	}

	encrypted, err := h.vault.Encrypt(req.BackupPassword)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	schedule.EncryptedBackupPassword = encrypted
	schedule.NextRunAt = schedule.NextRunAfter(time.Now())

	if err := h.store.CreateBackupSchedule(c.Request.Context(), schedule); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"schedule": schedule})
}

// List returns the organization's schedules with their last runs.
func (h *SchedulesHandler) List(c *gin.Context) {
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
	schedules, err := h.store.ListBackupSchedulesByOrganization(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"schedules": schedules})
}

// Get returns one schedule. Member visibility.
func (h *SchedulesHandler) Get(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	schedule, err := h.store.GetBackupScheduleByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireMember(c.Request.Context(), user.ID, schedule.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"schedule": schedule})
}

type updateScheduleRequest struct {
	ConnectionID   *uuid.UUID          `json:"connection_id"`
	Name           *string             `json:"name"`
	Database       *string             `json:"database"`
	Collections    *[]string           `json:"collections"`
	Days           *[]int              `json:"days"`
	Times          *[]string           `json:"times"`
	Timezone       *string             `json:"timezone"`
	Destination    *models.Destination `json:"destination"`
	RetentionCount *int                `json:"retention_count"`
	BackupPassword *string             `json:"backup_password"`
}

// Update changes a schedule. Admin only. Absent fields keep their values;
// a new backup password is verified before it replaces the stored copy.
func (h *SchedulesHandler) Update(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req updateScheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	schedule, err := h.store.GetBackupScheduleByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, schedule.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if req.ConnectionID != nil {
		schedule.ConnectionID = *req.ConnectionID
	}
	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.Database != nil {
		schedule.DatabaseName = *req.Database
	}
	if req.Collections != nil {
		schedule.Collections = *req.Collections
	}
	if req.Days != nil {
		schedule.Days = *req.Days
	}
	if req.Times != nil {
		schedule.Times = *req.Times
	}
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
	}
	if req.Destination != nil {
		schedule.Destination = *req.Destination
	}
	if req.RetentionCount != nil {
		schedule.RetentionCount = *req.RetentionCount
	}
	if err := schedule.Validate(); err != nil {
		respondValidation(c, err.Error())
		return
	}

	if req.BackupPassword != nil {
		ok, err := h.access.VerifyBackupPassword(c.Request.Context(), schedule.OrganizationID, *req.BackupPassword)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if !ok {
			respondError(c, h.logger, auth.ErrPermissionDenied)
			return
		}
		encrypted, err := h.vault.Encrypt(*req.BackupPassword)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		schedule.EncryptedBackupPassword = encrypted
	}

	schedule.NextRunAt = nil
	if schedule.Enabled {
		schedule.NextRunAt = schedule.NextRunAfter(time.Now())
	}
	if err := h.store.UpdateBackupSchedule(c.Request.Context(), schedule); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"schedule": schedule})
}

type toggleScheduleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Toggle enables or disables a schedule. Admin only. Enabling recomputes
// the next firing; disabling clears it.
func (h *SchedulesHandler) Toggle(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req toggleScheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	schedule, err := h.store.GetBackupScheduleByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, schedule.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	enabled := *req.Enabled
	var nextRunAt *time.Time
	if enabled {
		nextRunAt = schedule.NextRunAfter(time.Now())
	}
	if err := h.store.SetBackupScheduleEnabled(c.Request.Context(), schedule.ID, schedule.OrganizationID, enabled, nextRunAt); err != nil {
		respondError(c, h.logger, err)
		return
	}
	schedule.Enabled = enabled
	schedule.NextRunAt = nextRunAt
	respond(c, http.StatusOK, gin.H{"schedule": schedule})
}

// Delete removes a schedule. Admin only. Its logs keep their rows.
func (h *SchedulesHandler) Delete(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	schedule, err := h.store.GetBackupScheduleByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.access.RequireAdmin(c.Request.Context(), user.ID, schedule.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.store.DeleteBackupSchedule(c.Request.Context(), schedule.ID, schedule.OrganizationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "schedule deleted"})
}
