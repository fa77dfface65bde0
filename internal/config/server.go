// Package config provides configuration management for Mongard.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server configuration assembled from environment
// variables and an optional YAML file pointed to by MONGARD_CONFIG.
// Environment variables take precedence over file values.
type ServerConfig struct {
	Environment Environment
	Port        int

	// DatabaseURL is the Postgres connection string for the application
	// database. Required.
	DatabaseURL string
	// MasterKey protects every credential at rest. Required.
	MasterKey string

	SessionTTL          time.Duration
	SessionCookieSecret string

	// Scheduler tunables.
	TickInterval          time.Duration
	WorkerPoolSize        int
	MaxExecutionDuration  time.Duration
	OrphanedRunningGrace  time.Duration
	DefaultRetentionCount int
	CarryoverYesterday    bool

	// MongoPoolSize caps the connection pool of each managed MongoDB client.
	MongoPoolSize int

	StagingDir string
	// StagingMinFreeBytes is the disk headroom required on the staging
	// volume before another backup run is admitted.
	StagingMinFreeBytes int64
	UploadTimeout       time.Duration
	NotifyTimeout       time.Duration
	ShutdownGrace       time.Duration

	// LogHardDeleteAfter is how long soft-deleted backup logs are retained
	// before the janitor removes the rows entirely.
	LogHardDeleteAfter time.Duration
	// ActivityRetention is how long activity feed events are kept.
	ActivityRetention time.Duration

	CORSAllowedOrigins []string
	RateLimitRequests  int64
	RateLimitPeriod    time.Duration
	RedisURL           string

	DriveClientID     string
	DriveClientSecret string
	DriveRedirectURL  string

	// S3 object storage. When the access key is empty the AWS SDK default
	// credential chain applies. Endpoint is only needed for S3-compatible
	// stores (MinIO, R2).
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// LocalStorageDir enables the local filesystem destination when set.
	LocalStorageDir string

	// Proxy applies to outbound HTTP traffic (notifications, Drive).
	Proxy ProxyConfig
}

// LoadServerConfig reads server configuration from the environment, applying
// the MONGARD_CONFIG YAML overlay underneath it when present.
func LoadServerConfig() (ServerConfig, error) {
	overlay, err := loadOverlay(os.Getenv("MONGARD_CONFIG"))
	if err != nil {
		return ServerConfig{}, err
	}
	src := source{overlay: overlay}

	env := Environment(src.str("ENVIRONMENT", string(EnvDevelopment)))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	cfg := ServerConfig{
		Environment: env,
		Port:        src.integer("PORT", 8080),

		DatabaseURL: src.str("DATABASE_URL", ""),
		MasterKey:   src.str("MASTER_KEY", ""),

		SessionTTL:          src.duration("SESSION_TTL", 168*time.Hour),
		SessionCookieSecret: src.str("SESSION_COOKIE_SECRET", ""),

		TickInterval:          src.duration("TICK_INTERVAL", time.Minute),
		WorkerPoolSize:        src.integer("WORKER_POOL_SIZE", 4),
		MaxExecutionDuration:  src.duration("MAX_EXECUTION_DURATION", time.Hour),
		DefaultRetentionCount: src.integer("DEFAULT_RETENTION_COUNT", 7),
		CarryoverYesterday:    src.boolean("CARRYOVER_YESTERDAY", false),

		MongoPoolSize: src.integer("MONGO_POOL_SIZE", 10),

		StagingDir:          src.str("STAGING_DIR", filepath.Join(os.TempDir(), "mongard")),
		StagingMinFreeBytes: int64(src.integer("STAGING_MIN_FREE_MB", 512)) * 1024 * 1024,
		UploadTimeout:       src.duration("UPLOAD_TIMEOUT", 10*time.Minute),
		NotifyTimeout:       src.duration("NOTIFY_TIMEOUT", 5*time.Second),
		ShutdownGrace:       src.duration("SHUTDOWN_GRACE", 30*time.Second),

		LogHardDeleteAfter: src.duration("LOG_HARD_DELETE_AFTER", 2160*time.Hour),
		ActivityRetention:  src.duration("ACTIVITY_RETENTION", 720*time.Hour),

		RateLimitRequests: int64(src.integer("RATE_LIMIT_REQUESTS", 300)),
		RateLimitPeriod:   src.duration("RATE_LIMIT_PERIOD", time.Minute),
		RedisURL:          src.str("REDIS_URL", ""),

		DriveClientID:     src.str("DRIVE_CLIENT_ID", ""),
		DriveClientSecret: src.str("DRIVE_CLIENT_SECRET", ""),
		DriveRedirectURL:  src.str("DRIVE_REDIRECT_URL", ""),

		S3Endpoint:        src.str("S3_ENDPOINT", ""),
		S3Region:          src.str("S3_REGION", ""),
		S3Bucket:          src.str("S3_BUCKET", ""),
		S3AccessKeyID:     src.str("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: src.str("S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:    src.boolean("S3_USE_PATH_STYLE", false),

		LocalStorageDir: src.str("LOCAL_STORAGE_DIR", ""),

		Proxy: loadProxyConfig(src),
	}

	if v := src.str("CORS_ALLOWED_ORIGINS", ""); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	// The orphan grace defaults to twice the execution ceiling so a run that
	// survives to the deadline is never reaped while still alive.
	cfg.OrphanedRunningGrace = src.duration("ORPHANED_RUNNING_GRACE", 2*cfg.MaxExecutionDuration)

	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 1
	}
	if cfg.DefaultRetentionCount < 1 {
		cfg.DefaultRetentionCount = 7
	}
	if cfg.MongoPoolSize < 1 {
		cfg.MongoPoolSize = 10
	}

	return cfg, nil
}

// Validate reports the first missing required setting.
func (c ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.MasterKey == "" {
		return errors.New("MASTER_KEY is required")
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// source resolves configuration keys against the environment first, then the
// YAML overlay.
type source struct {
	overlay map[string]string
}

func (s source) lookup(key string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	if v, ok := s.overlay[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s source) str(key, defaultVal string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return defaultVal
}

func (s source) integer(key string, defaultVal int) int {
	v, ok := s.lookup(key)
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func (s source) boolean(key string, defaultVal bool) bool {
	v, ok := s.lookup(key)
	if !ok {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// duration accepts Go duration syntax ("90s", "10m") or a bare integer
// interpreted as seconds.
func (s source) duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := s.lookup(key)
	if !ok {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
