package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
)

// DriveService is the Google Drive surface the storage handler needs.
// Satisfied by *storage.Drive.
type DriveService interface {
	AuthCodeURL(state string) string
	FinishOAuth(ctx context.Context, userID uuid.UUID, code string) error
	Connection(ctx context.Context, userID uuid.UUID) (*models.OAuthToken, error)
	IsConnected(ctx context.Context, userID uuid.UUID) bool
	Disconnect(ctx context.Context, userID uuid.UUID) error
}

// OAuthStateStore round-trips the OAuth state parameter through a signed
// cookie. Satisfied by *auth.StateStore.
type OAuthStateStore interface {
	SetPending(r *http.Request, w http.ResponseWriter, state string, userID uuid.UUID) error
	ConsumePending(r *http.Request, w http.ResponseWriter) (string, uuid.UUID, error)
}

// StorageHandler serves the Google Drive account linkage. A connected Drive
// is a per-user credential: schedules with a drive destination upload under
// the schedule creator's account.
type StorageHandler struct {
	drive  DriveService
	states OAuthStateStore
	logger zerolog.Logger
}

// NewStorageHandler creates a StorageHandler. A nil drive disables the
// endpoints with a stable error, for installs without OAuth credentials.
func NewStorageHandler(drive DriveService, states OAuthStateStore, logger zerolog.Logger) *StorageHandler {
	return &StorageHandler{
		drive:  drive,
		states: states,
		logger: logger.With().Str("component", "api.storage").Logger(),
	}
}

// RegisterRoutes mounts the authenticated storage endpoints.
func (h *StorageHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/storage/drive/connect", h.Connect)
	r.GET("/storage/drive/status", h.Status)
	r.DELETE("/storage/drive", h.Disconnect)
}

// RegisterCallbackRoutes mounts the OAuth callback. It is public: the
// browser arrives here from the provider without our Authorization header,
// and the state cookie identifies the flow.
func (h *StorageHandler) RegisterCallbackRoutes(r *gin.RouterGroup) {
	r.GET("/storage/drive/callback", h.Callback)
}

func (h *StorageHandler) driveConfigured(c *gin.Context) bool {
	if h.drive == nil || h.states == nil {
		respondValidation(c, "drive storage is not configured")
		return false
	}
	return true
}

// Connect starts the OAuth flow and returns the provider URL to open.
//
//	@Summary	Start connecting a Google Drive account
//	@Tags		storage
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Router		/storage/drive/connect [get]
//	@Security	BearerAuth
func (h *StorageHandler) Connect(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	if !h.driveConfigured(c) {
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.states.SetPending(c.Request, c.Writer, state, user.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"auth_url": h.drive.AuthCodeURL(state)})
}

// Callback finishes the OAuth flow: the returned state must match the
// cookie, then the code is exchanged and the tokens stored encrypted.
func (h *StorageHandler) Callback(c *gin.Context) {
	if !h.driveConfigured(c) {
		return
	}
	if errParam := c.Query("error"); errParam != "" {
		respondValidation(c, "provider declined: "+errParam)
		return
	}
	code := c.Query("code")
	if code == "" {
		respondValidation(c, "missing code")
		return
	}

	state, userID, err := h.states.ConsumePending(c.Request, c.Writer)
	if err != nil {
		h.logger.Warn().Err(err).Msg("drive callback without pending state")
		respondValidation(c, "invalid or expired oauth state")
		return
	}
	if c.Query("state") != state {
		respondValidation(c, "oauth state mismatch")
		return
	}

	if err := h.drive.FinishOAuth(c.Request.Context(), userID, code); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "drive connected"})
}

// Status reports whether the caller has a connected Drive account.
func (h *StorageHandler) Status(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	if h.drive == nil {
		respond(c, http.StatusOK, gin.H{"configured": false, "connected": false})
		return
	}

	if !h.drive.IsConnected(c.Request.Context(), user.ID) {
		respond(c, http.StatusOK, gin.H{"configured": true, "connected": false})
		return
	}
	token, err := h.drive.Connection(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"configured":    true,
		"connected":     true,
		"account_email": token.AccountEmail,
		"connected_at":  token.CreatedAt,
	})
}

// Disconnect revokes and forgets the caller's Drive tokens. Schedules that
// upload there will fail until the account is reconnected.
func (h *StorageHandler) Disconnect(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	if !h.driveConfigured(c) {
		return
	}
	if err := h.drive.Disconnect(c.Request.Context(), user.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "drive disconnected"})
}
