// Package main is the entrypoint for the Mongard server.
//
// @title           Mongard API
// @version         1.0
// @description     Multi-tenant scheduled MongoDB backups with retention, audit logging and notifications.
//
// @contact.name   Mongard Support
// @contact.url    https://github.com/mongardhq/mongard
//
// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT
//
// @host      localhost:8080
// @BasePath  /
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Session token authentication. Use format: Bearer <token>
//
// @tag.name auth
// @tag.description Registration, login and email verification
// @tag.name organizations
// @tag.description Multi-tenant organization management
// @tag.name connections
// @tag.description Saved MongoDB connections and per-member grants
// @tag.name schedules
// @tag.description Backup schedule configuration
// @tag.name backups
// @tag.description Backup execution and run history
// @tag.name browse
// @tag.description Live MongoDB browsing and queries
// @tag.name activity
// @tag.description Activity feed and live event stream
// @tag.name storage
// @tag.description Google Drive linkage
// @tag.name system
// @tag.description Health, metrics and version
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/activity"
	"github.com/mongardhq/mongard/internal/api"
	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/backup"
	"github.com/mongardhq/mongard/internal/config"
	"github.com/mongardhq/mongard/internal/crypto"
	"github.com/mongardhq/mongard/internal/db"
	"github.com/mongardhq/mongard/internal/health"
	"github.com/mongardhq/mongard/internal/httpclient"
	"github.com/mongardhq/mongard/internal/maintenance"
	"github.com/mongardhq/mongard/internal/metrics"
	"github.com/mongardhq/mongard/internal/mongoconn"
	"github.com/mongardhq/mongard/internal/notifications"
	"github.com/mongardhq/mongard/internal/shutdown"
	"github.com/mongardhq/mongard/internal/storage"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENVIRONMENT") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Mongard server")

	// Load configuration
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
		return 1
	}
	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database and run migrations
	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Initialize the credential vault
	vault, err := crypto.NewVault(cfg.MasterKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize vault")
		return 1
	}

	// Auth services
	identity := auth.NewIdentityService(database, vault, cfg.SessionTTL, logger)
	verification := auth.NewVerificationService(database, 0, logger)
	tenancy := auth.NewTenancy(database, vault, 0, logger)

	// MongoDB client registry
	mongoCfg := mongoconn.DefaultConfig()
	if cfg.MongoPoolSize > 0 {
		mongoCfg.MaxPoolSize = uint64(cfg.MongoPoolSize)
	}
	registry := mongoconn.NewRegistry(database, tenancy, vault, mongoCfg, logger)

	// Outbound HTTP honors the deployment proxy
	egress, err := httpclient.New(httpclient.Options{Proxy: &cfg.Proxy})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build egress HTTP client")
		return 1
	}
	notifyClient, err := httpclient.New(httpclient.Options{Timeout: cfg.NotifyTimeout, Proxy: &cfg.Proxy})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build notification HTTP client")
		return 1
	}

	// Storage backends. Drive and S3 mount when configured; local needs a
	// directory.
	var drive *storage.Drive
	if cfg.DriveClientID != "" && cfg.DriveClientSecret != "" && cfg.DriveRedirectURL != "" {
		provider, perr := oidc.NewProvider(ctx, "https://accounts.google.com")
		if perr != nil {
			logger.Warn().Err(perr).Msg("Google OIDC discovery failed, using published endpoints")
			provider = nil
		}
		drive = storage.NewDrive(storage.DriveConfig{
			ClientID:     cfg.DriveClientID,
			ClientSecret: cfg.DriveClientSecret,
			RedirectURL:  cfg.DriveRedirectURL,
		}, provider, database, vault, egress, logger)
		logger.Info().Msg("Google Drive destination enabled")
	}

	var s3Store *storage.S3
	if cfg.S3Bucket != "" {
		s3Store, err = storage.NewS3(ctx, storage.S3Settings{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize S3 storage")
			return 1
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("S3 destination enabled")
	}

	var local *storage.Local
	if cfg.LocalStorageDir != "" {
		local, err = storage.NewLocal(cfg.LocalStorageDir, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize local storage")
			return 1
		}
		defer local.Close()
		logger.Info().Str("dir", cfg.LocalStorageDir).Msg("Local destination enabled")
	}

	stores := storage.NewRouter(drive, s3Store, local)

	// Metrics
	promRegistry := prometheus.NewRegistry()
	prom, err := metrics.NewPrometheusMetrics(promRegistry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to register metrics")
		return 1
	}

	// Notifications
	telegram := notifications.NewTelegramService(notifyClient, logger)
	notifier := notifications.NewService(database, telegram, logger)
	notifier.SetInstrumentation(prom)

	// Staging disk monitor
	monitor, err := health.NewMonitor(cfg.StagingDir, cfg.StagingMinFreeBytes, health.NewCheckerWithDefaults())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize health monitor")
		return 1
	}

	// Activity feed
	feedCfg := activity.DefaultConfig()
	feedCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	feed := activity.NewFeed(database, feedCfg, logger)
	feed.Start()
	defer feed.Stop()

	if err := prom.TrackWebsocketClients(feed.GetTotalClientCount); err != nil {
		logger.Error().Err(err).Msg("Failed to register websocket client gauge")
	}

	// Backup executor
	executor := backup.NewExecutor(backup.ExecutorConfig{
		StagingDir:           cfg.StagingDir,
		MaxExecutionDuration: cfg.MaxExecutionDuration,
		UploadTimeout:        cfg.UploadTimeout,
		OrphanGrace:          cfg.OrphanedRunningGrace,
	}, database, tenancy, vault, registry, stores, notifier, logger)
	executor.SetEventPublisher(feed)
	executor.SetInstrumentation(prom)
	executor.SetStagingChecker(monitor)

	// Mark runs stranded by an unclean stop before the scheduler starts.
	if err := executor.RecoverOrphans(ctx); err != nil {
		logger.Error().Err(err).Msg("Orphaned run recovery failed")
	}

	// Scheduler
	evaluator := backup.NewEvaluator(backup.EvaluatorConfig{CarryoverYesterday: cfg.CarryoverYesterday}, logger)
	scheduler := backup.NewScheduler(database, evaluator, executor, backup.SchedulerConfig{
		TickInterval: cfg.TickInterval,
		WorkerCount:  cfg.WorkerPoolSize,
	}, logger)
	scheduler.SetInstrumentation(prom)

	// Janitor
	janitor := maintenance.NewJanitor(database, maintenance.JanitorConfig{
		OrphanGrace:        cfg.OrphanedRunningGrace,
		LogHardDeleteAfter: cfg.LogHardDeleteAfter,
		ActivityRetention:  cfg.ActivityRetention,
	}, logger)

	// Shutdown coordinator
	drainCfg := shutdown.DefaultConfig()
	if cfg.ShutdownGrace > 0 {
		drainCfg.Timeout = cfg.ShutdownGrace
	}
	drain := shutdown.NewManager(drainCfg, executor, logger)

	// OAuth state cookies for the Drive linkage flow
	var states *auth.StateStore
	if cfg.SessionCookieSecret != "" {
		states, err = auth.NewStateStore([]byte(cfg.SessionCookieSecret), cfg.Environment == config.EnvProduction, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize OAuth state store")
			return 1
		}
	}

	// Build API router
	routerCfg := api.DefaultConfig()
	routerCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	if cfg.RateLimitRequests > 0 {
		routerCfg.RateLimitRequests = cfg.RateLimitRequests
	}
	if cfg.RateLimitPeriod > 0 {
		routerCfg.RateLimitPeriod = cfg.RateLimitPeriod
	}
	routerCfg.RedisURL = cfg.RedisURL
	if cfg.DefaultRetentionCount > 0 {
		routerCfg.DefaultRetentionCount = cfg.DefaultRetentionCount
	}
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate

	router, err := api.NewRouter(routerCfg, api.Deps{
		DB:           database,
		Identity:     identity,
		Verification: verification,
		Tenancy:      tenancy,
		Vault:        vault,
		Registry:     registry,
		Executor:     executor,
		Feed:         feed,
		Drive:        drive,
		States:       states,
		Monitor:      monitor,
		Drain:        drain,
		Metrics:      prom,
		Gatherer:     promRegistry,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	// Start HTTP server
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start background loops
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start scheduler")
	}
	if err := janitor.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start janitor")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	// Budget covers the drain manager's phases plus the HTTP drain that
	// runs ahead of them.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainCfg.Timeout+10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	if err := drain.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Drain error")
	}

	// Runs are finished or cancelled by now; the loops wind down fast.
	scheduler.Stop(5 * time.Second)
	<-janitor.Stop().Done()
	registry.Close(shutdownCtx)

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
