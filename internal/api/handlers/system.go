package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/health"
	"github.com/mongardhq/mongard/internal/shutdown"
)

// HealthStatus is the health verdict of one component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the outcome of one component check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
}

// DatabaseHealthChecker pings the application database. Satisfied by *db.DB.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// SystemMonitor reports host resources. Satisfied by *health.Monitor.
type SystemMonitor interface {
	Report(ctx context.Context) (*health.Metrics, *health.CheckResult)
}

// ShutdownReporter reports the drain state. Satisfied by *shutdown.Manager.
type ShutdownReporter interface {
	GetStatus() shutdown.Status
}

// VersionInfo is the build identity stamped in at link time.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// SystemHandler serves liveness, system health and version endpoints. All
// of them are public: they carry no tenant data and load balancers need
// them before auth exists.
type SystemHandler struct {
	db      DatabaseHealthChecker
	monitor SystemMonitor
	drain   ShutdownReporter
	info    VersionInfo
	logger  zerolog.Logger
}

// NewSystemHandler creates a SystemHandler. monitor and drain may be nil;
// the system endpoint then omits those sections.
func NewSystemHandler(db DatabaseHealthChecker, monitor SystemMonitor, drain ShutdownReporter, info VersionInfo, logger zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:      db,
		monitor: monitor,
		drain:   drain,
		info:    info,
		logger:  logger.With().Str("component", "api.system").Logger(),
	}
}

// RegisterPublicRoutes mounts the endpoints on the engine root.
func (h *SystemHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/health", h.Overall)
	r.GET("/health/system", h.System)
	r.GET("/version", h.Version)
}

// Overall reports whether the server can do useful work right now.
//
//	@Summary	Liveness and database health
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	handlers.HealthResponse
//	@Failure	503	{object}	handlers.HealthResponse
//	@Router		/health [get]
func (h *SystemHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: map[string]*HealthCheckResult{
			"database": h.checkDatabase(ctx),
		},
	}
	for _, check := range response.Checks {
		if check.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}
	c.JSON(http.StatusOK, response)
}

// System reports host resources, the staging volume verdict and the drain
// state. Degraded hosts still answer 200; the verdict is in the body.
//
//	@Summary	Host resource health
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Router		/health/system [get]
func (h *SystemHandler) System(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	payload := gin.H{"host": health.HostInfo()}
	if h.monitor != nil {
		metrics, result := h.monitor.Report(ctx)
		payload["metrics"] = metrics
		payload["check"] = result
	}
	if h.drain != nil {
		payload["shutdown"] = h.drain.GetStatus()
	}
	respond(c, http.StatusOK, payload)
}

// Version returns the build identity.
//
//	@Summary	Server version
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	handlers.VersionInfo
//	@Router		/version [get]
func (h *SystemHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}

func (h *SystemHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Status: HealthStatusHealthy}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	result.Details = h.db.Health()
	return result
}
