// Package api provides the HTTP API for the Mongard server.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/mongardhq/mongard/internal/activity"
	"github.com/mongardhq/mongard/internal/api/handlers"
	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/backup"
	"github.com/mongardhq/mongard/internal/crypto"
	"github.com/mongardhq/mongard/internal/db"
	"github.com/mongardhq/mongard/internal/health"
	"github.com/mongardhq/mongard/internal/metrics"
	"github.com/mongardhq/mongard/internal/mongoconn"
	"github.com/mongardhq/mongard/internal/shutdown"
	"github.com/mongardhq/mongard/internal/storage"

	_ "github.com/mongardhq/mongard/docs/api"
)

// Config holds configuration for the API router.
type Config struct {
	// AllowedOrigins for CORS. Empty refuses every cross-origin caller.
	AllowedOrigins []string
	// RateLimitRequests per RateLimitPeriod, per client IP.
	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	// RedisURL backs the rate limiter with a shared store when set.
	RedisURL string
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
	// DefaultRetentionCount applies to schedules created without one.
	DefaultRetentionCount int
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests:     300,
		RateLimitPeriod:       time.Minute,
		MaxBodyBytes:          1 << 20,
		DefaultRetentionCount: 7,
		Version:               "dev",
		Commit:                "unknown",
		BuildDate:             "unknown",
	}
}

// Deps carries the services the router wires into handlers. Optional
// entries may be nil; their endpoints degrade with stable errors.
type Deps struct {
	DB           *db.DB
	Identity     *auth.IdentityService
	Verification *auth.VerificationService
	Tenancy      *auth.Tenancy
	Vault        *crypto.Vault
	Registry     *mongoconn.Registry
	Executor     *backup.Executor
	Feed         *activity.Feed

	// Drive and States enable the Google Drive linkage endpoints.
	Drive  *storage.Drive
	States *auth.StateStore
	// Monitor and Drain enrich the system health endpoint.
	Monitor *health.Monitor
	Drain   *shutdown.Manager
	// Metrics instruments requests; Gatherer exposes /metrics.
	Metrics  *metrics.PrometheusMetrics
	Gatherer prometheus.Gatherer
	// Translator enables /sql-query.
	Translator handlers.QueryTranslator
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a Router with every endpoint mounted.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware.
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Engine.Use(middleware.SecurityHeaders())
	if cfg.MaxBodyBytes > 0 {
		r.Engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)
	if deps.Metrics != nil {
		r.Engine.Use(middleware.Metrics(deps.Metrics))
	}

	// Interface-typed locals keep optional deps from becoming typed nils.
	var monitor handlers.SystemMonitor
	if deps.Monitor != nil {
		monitor = deps.Monitor
	}
	var drain handlers.ShutdownReporter
	if deps.Drain != nil {
		drain = deps.Drain
	}
	var drive handlers.DriveService
	if deps.Drive != nil {
		drive = deps.Drive
	}
	var states handlers.OAuthStateStore
	if deps.States != nil {
		states = deps.States
	}

	// Health and version endpoints, no auth required.
	systemHandler := handlers.NewSystemHandler(deps.DB, monitor, drain, handlers.VersionInfo{
		Version:   cfg.Version,
		Commit:    cfg.Commit,
		BuildDate: cfg.BuildDate,
	}, logger)
	systemHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint, no auth required.
	if deps.Gatherer != nil {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Swagger API documentation, no auth required.
	r.Engine.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.URL("/api/docs/doc.json"),
		ginSwagger.DefaultModelsExpandDepth(-1),
	))

	// Auth endpoints, no auth required.
	authHandler := handlers.NewAuthHandler(deps.Identity, deps.Verification, logger)
	authHandler.RegisterPublicRoutes(&r.Engine.RouterGroup)

	// Drive OAuth handler. The callback is public; the rest is bearer-bound.
	storageHandler := handlers.NewStorageHandler(drive, states, logger)
	storageHandler.RegisterCallbackRoutes(r.Engine.Group("/api/v1"))

	// The websocket stream authenticates inside the handler: browser
	// websocket clients cannot send an Authorization header.
	activityHandler := handlers.NewActivityHandler(deps.Feed, deps.DB, deps.Identity, deps.Tenancy, logger)
	activityHandler.RegisterStreamRoutes(r.Engine.Group("/api/v1"))

	// API v1 routes, bearer auth required.
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.BearerAuth(deps.Identity, logger))

	authHandler.RegisterRoutes(apiV1)
	activityHandler.RegisterRoutes(apiV1)

	orgsHandler := handlers.NewOrganizationsHandler(deps.Tenancy, logger)
	orgsHandler.RegisterRoutes(apiV1)

	connectionsHandler := handlers.NewConnectionsHandler(deps.DB, deps.Tenancy, deps.Vault, deps.Registry, logger)
	connectionsHandler.RegisterRoutes(apiV1)

	browseHandler := handlers.NewBrowseHandler(deps.Registry, deps.Translator, logger)
	browseHandler.RegisterRoutes(apiV1)

	exportHandler := handlers.NewExportHandler(deps.Executor, logger)
	exportHandler.RegisterRoutes(apiV1)

	backupsHandler := handlers.NewBackupsHandler(deps.Executor, deps.DB, deps.Tenancy, logger)
	backupsHandler.RegisterRoutes(apiV1)

	schedulesHandler := handlers.NewSchedulesHandler(deps.DB, deps.Tenancy, deps.Vault, cfg.DefaultRetentionCount, logger)
	schedulesHandler.RegisterRoutes(apiV1)

	logsHandler := handlers.NewBackupLogsHandler(deps.DB, deps.Tenancy, logger)
	logsHandler.RegisterRoutes(apiV1)

	storageHandler.RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
