// Package maintenance runs the background sweeps that keep the application
// database tidy: expired auth artifacts, orphaned running logs, and aged
// soft-deleted rows.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// sweepTimeout bounds a single sweep pass.
const sweepTimeout = 5 * time.Minute

// JanitorStore defines the cleanup operations the janitor runs.
type JanitorStore interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
	DeleteExpiredInvitations(ctx context.Context) (int64, error)
	DeleteExpiredEmailVerifications(ctx context.Context) (int64, error)
	MarkOrphanedBackupLogs(ctx context.Context, cutoff time.Time) (int64, error)
	HardDeleteBackupLogs(ctx context.Context, cutoff time.Time) (int64, error)
	CleanupActivityEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// JanitorConfig tunes sweep cutoffs.
type JanitorConfig struct {
	// OrphanGrace is how old a running log must be before the hourly sweep
	// declares it orphaned. This backstops the startup recovery pass on
	// deployments that run for months between restarts.
	OrphanGrace time.Duration
	// LogHardDeleteAfter is how long soft-deleted backup logs keep their rows.
	LogHardDeleteAfter time.Duration
	// ActivityRetention is how long activity events are kept.
	ActivityRetention time.Duration
}

// Janitor schedules periodic database cleanup.
type Janitor struct {
	store   JanitorStore
	config  JanitorConfig
	cron    *cron.Cron
	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor. Zero config values fall back to defaults.
func NewJanitor(store JanitorStore, config JanitorConfig, logger zerolog.Logger) *Janitor {
	if config.OrphanGrace <= 0 {
		config.OrphanGrace = 2 * time.Hour
	}
	if config.LogHardDeleteAfter <= 0 {
		config.LogHardDeleteAfter = 90 * 24 * time.Hour
	}
	if config.ActivityRetention <= 0 {
		config.ActivityRetention = 30 * 24 * time.Hour
	}
	return &Janitor{
		store:  store,
		config: config,
		cron:   cron.New(),
		logger: logger.With().Str("component", "janitor").Logger(),
	}
}

// Start begins the sweep schedule: expiry sweeps hourly, aged-row cleanup
// daily at 03:30 UTC.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return errors.New("janitor already running")
	}

	if _, err := j.cron.AddFunc("@hourly", j.sweepExpired); err != nil {
		return err
	}
	if _, err := j.cron.AddFunc("30 3 * * *", j.sweepAged); err != nil {
		return err
	}

	j.cron.Start()
	j.running = true

	j.logger.Info().
		Dur("orphan_grace", j.config.OrphanGrace).
		Dur("log_hard_delete_after", j.config.LogHardDeleteAfter).
		Msg("janitor started")
	return nil
}

// Stop stops the janitor. The returned context is done once any in-flight
// sweep has finished.
func (j *Janitor) Stop() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	j.running = false
	j.logger.Info().Msg("stopping janitor")
	return j.cron.Stop()
}

// RunNow triggers every sweep immediately. Used at startup and by the
// prune-logs CLI command.
func (j *Janitor) RunNow() {
	j.sweepExpired()
	j.sweepAged()
}

// sweepExpired clears expired auth artifacts and flags stuck running logs.
func (j *Janitor) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	j.run(ctx, "expired_sessions", j.store.DeleteExpiredSessions)
	j.run(ctx, "expired_invitations", j.store.DeleteExpiredInvitations)
	j.run(ctx, "expired_email_verifications", j.store.DeleteExpiredEmailVerifications)

	orphaned, err := j.store.MarkOrphanedBackupLogs(ctx, time.Now().Add(-j.config.OrphanGrace))
	if err != nil {
		j.logger.Error().Err(err).Msg("orphaned backup sweep failed")
		return
	}
	if orphaned > 0 {
		j.logger.Warn().Int64("count", orphaned).Msg("marked stuck running backups as orphaned")
	}
}

// sweepAged removes rows past their retention.
func (j *Janitor) sweepAged() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	deleted, err := j.store.HardDeleteBackupLogs(ctx, time.Now().Add(-j.config.LogHardDeleteAfter))
	if err != nil {
		j.logger.Error().Err(err).Msg("backup log hard delete failed")
	} else if deleted > 0 {
		j.logger.Info().Int64("count", deleted).Msg("hard deleted aged backup logs")
	}

	events, err := j.store.CleanupActivityEvents(ctx, j.config.ActivityRetention)
	if err != nil {
		j.logger.Error().Err(err).Msg("activity event cleanup failed")
	} else if events > 0 {
		j.logger.Info().Int64("count", events).Msg("removed aged activity events")
	}
}

func (j *Janitor) run(ctx context.Context, name string, sweep func(context.Context) (int64, error)) {
	n, err := sweep(ctx)
	if err != nil {
		j.logger.Error().Err(err).Str("sweep", name).Msg("janitor sweep failed")
		return
	}
	if n > 0 {
		j.logger.Info().Str("sweep", name).Int64("deleted", n).Msg("janitor sweep completed")
	}
}
