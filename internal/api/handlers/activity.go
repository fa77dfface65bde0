package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/models"
)

// ActivityFeed fans backup lifecycle events out to websocket clients.
// Satisfied by *activity.Feed.
type ActivityFeed interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, orgID, userID uuid.UUID)
	GetClientCount(orgID uuid.UUID) int
}

// ActivityStore reads the persisted event history. Satisfied by *db.DB.
type ActivityStore interface {
	GetActivityEvents(ctx context.Context, orgID uuid.UUID, filter models.ActivityEventFilter) ([]*models.ActivityEvent, error)
}

// ActivityHandler serves the org activity history and its live websocket
// stream.
type ActivityHandler struct {
	feed     ActivityFeed
	store    ActivityStore
	sessions middleware.SessionReader
	access   memberGate
	logger   zerolog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(feed ActivityFeed, store ActivityStore, sessions middleware.SessionReader, access memberGate, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		feed:     feed,
		store:    store,
		sessions: sessions,
		access:   access,
		logger:   logger.With().Str("component", "api.activity").Logger(),
	}
}

// RegisterRoutes mounts the history endpoint on an authenticated group.
func (h *ActivityHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/activity", h.List)
}

// RegisterStreamRoutes mounts the websocket endpoint. It lives outside the
// bearer middleware because browser websocket clients cannot set an
// Authorization header; the handler accepts the token from the query
// string instead.
func (h *ActivityHandler) RegisterStreamRoutes(r *gin.RouterGroup) {
	r.GET("/backup-logs/stream", h.Stream)
}

// List returns persisted activity events for an organization, newest first.
func (h *ActivityHandler) List(c *gin.Context) {
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

	filter := models.ActivityEventFilter{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	if raw := c.Query("category"); raw != "" {
		category := models.ActivityEventCategory(raw)
		filter.Category = &category
	}
	if raw := c.Query("type"); raw != "" {
		eventType := models.ActivityEventType(raw)
		filter.Type = &eventType
	}

	events, err := h.store.GetActivityEvents(c.Request.Context(), orgID, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.ActivityEvent{}
	}
	respond(c, http.StatusOK, gin.H{"events": events, "connected_clients": h.feed.GetClientCount(orgID)})
}

// Stream upgrades to a websocket that receives the organization's backup
// lifecycle events as they happen. The bearer token may ride the
// Authorization header or, for browser clients, the token query parameter.
//
//	@Summary	Stream backup events over a websocket
//	@Tags		backups
//	@Param		organization_id	query	string	true	"Organization ID"
//	@Param		token			query	string	false	"Bearer token for browser clients"
//	@Success	101	{string}	string	"switching protocols"
//	@Failure	401	{object}	map[string]any
//	@Router		/backup-logs/stream [get]
func (h *ActivityHandler) Stream(c *gin.Context) {
	token := middleware.ExtractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	user, err := h.sessions.CurrentUser(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
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

	h.feed.HandleWebSocket(c.Writer, c.Request, orgID, user.ID)
}
