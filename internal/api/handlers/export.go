package handlers

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/backup"
)

// Exporter stages one-off backup archives. Satisfied by *backup.Executor.
type Exporter interface {
	Export(ctx context.Context, req backup.ExportRequest) (*backup.ExportResult, error)
}

// ExportHandler streams ad-hoc database exports as ZIP downloads.
type ExportHandler struct {
	exporter Exporter
	logger   zerolog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(exporter Exporter, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		exporter: exporter,
		logger:   logger.With().Str("component", "api.export").Logger(),
	}
}

// RegisterRoutes mounts the export endpoint on an authenticated group.
func (h *ExportHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/export", h.Export)
}

type exportRequest struct {
	OrganizationID uuid.UUID `json:"organization_id" binding:"required"`
	ConnectionID   uuid.UUID `json:"connection_id" binding:"required"`
	Database       string    `json:"database" binding:"required"`
	Collections    []string  `json:"collections"`
	BackupPassword string    `json:"backup_password" binding:"required"`
}

// Export archives the database and streams the ZIP back. The artifact is
// deleted from staging after the response; nothing is uploaded and no
// backup log is recorded.
//
//	@Summary	Export a database as a ZIP download
//	@Tags		backups
//	@Accept		json
//	@Produce	application/zip
//	@Param		request	body	handlers.exportRequest	true	"Export selection"
//	@Success	200	{file}		binary
//	@Failure	400	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/export [post]
//	@Security	BearerAuth
func (h *ExportHandler) Export(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	var req exportRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.exporter.Export(c.Request.Context(), backup.ExportRequest{
		UserID:         user.ID,
		OrganizationID: req.OrganizationID,
		ConnectionID:   req.ConnectionID,
		DatabaseName:   req.Database,
		Collections:    req.Collections,
		BackupPassword: req.BackupPassword,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.FileAttachment(result.Path, result.FileName)
	if err := os.Remove(result.Path); err != nil {
		h.logger.Warn().Err(err).Str("path", result.Path).Msg("failed to remove staged export")
	}
}
