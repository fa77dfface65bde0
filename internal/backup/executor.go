package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
	"github.com/mongardhq/mongard/internal/storage"
)

// ErrScheduleDisabled is returned when an execution is requested for a
// disabled schedule.
var ErrScheduleDisabled = errors.New("schedule is disabled")

// retentionReason is written on logs whose artifacts retention pruned.
const retentionReason = "Retention policy - exceeded retention count"

const archiveMimeType = "application/zip"

// ExecutorStore is the database surface the executor needs. *db.DB
// satisfies it.
type ExecutorStore interface {
	GetBackupScheduleByID(ctx context.Context, id uuid.UUID) (*models.BackupSchedule, error)
	CreateBackupLog(ctx context.Context, log *models.BackupLog) error
	UpdateBackupLog(ctx context.Context, log *models.BackupLog) error
	ListPrunableBackupLogs(ctx context.Context, scheduleID uuid.UUID) ([]*models.BackupLog, error)
	MarkBackupLogDeleted(ctx context.Context, id uuid.UUID, reason string) error
	MarkOrphanedBackupLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// PermissionGate authorizes backup execution.
type PermissionGate interface {
	CanBackup(ctx context.Context, userID, orgID uuid.UUID, backupPassword string) (bool, error)
}

// Decrypter opens vault ciphertexts, here the backup password a schedule
// captured at save time.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// ConnectionResolver produces live clients for registered connections.
// *mongoconn.Registry satisfies it.
type ConnectionResolver interface {
	Resolve(ctx context.Context, userID, orgID, connectionID uuid.UUID) (*mongo.Client, *models.Connection, error)
}

// Notifier announces finished executions. Implementations swallow their own
// errors; a broken channel never fails a backup.
type Notifier interface {
	BackupFinished(ctx context.Context, log *models.BackupLog, schedule *models.BackupSchedule)
}

// EventPublisher receives lifecycle events for the live activity feed.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.ActivityEvent)
}

// Instrumentation receives execution measurements. Every ExecutionStarted
// is followed by exactly one ExecutionFinished, so implementations may keep
// a running gauge balanced across the pair.
type Instrumentation interface {
	ExecutionStarted()
	ExecutionFinished(status models.BackupLogStatus, duration time.Duration)
}

// StagingChecker verifies the staging area has headroom for another
// archive before dumping begins.
type StagingChecker interface {
	CheckStaging(ctx context.Context) error
}

// ExecutorConfig holds executor tunables.
type ExecutorConfig struct {
	// StagingDir is where collection dumps and archives are staged.
	StagingDir string

	// MaxExecutionDuration is the hard ceiling for a single run.
	MaxExecutionDuration time.Duration

	// UploadTimeout bounds the object-store upload.
	UploadTimeout time.Duration

	// OrphanGrace is how old a running log must be before crash recovery
	// declares it orphaned. Zero means 2x MaxExecutionDuration.
	OrphanGrace time.Duration
}

// DefaultExecutorConfig returns an ExecutorConfig with production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		StagingDir:           os.TempDir(),
		MaxExecutionDuration: 60 * time.Minute,
		UploadTimeout:        10 * time.Minute,
	}
}

// Executor runs backups: dump, archive, upload, record, prune, notify.
// Scheduled runs act on behalf of the schedule's creator; ad-hoc runs act
// as the caller. Both paths pass the canBackup gate.
type Executor struct {
	config   ExecutorConfig
	store    ExecutorStore
	gate     PermissionGate
	vault    Decrypter
	registry ConnectionResolver
	stores   storage.Resolver
	notifier Notifier
	logger   zerolog.Logger

	events  EventPublisher
	metrics Instrumentation
	staging StagingChecker

	// newSource is swapped in tests to dump without a live server.
	newSource func(client *mongo.Client, database string) documentSource

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

// NewExecutor creates a backup executor.
func NewExecutor(config ExecutorConfig, store ExecutorStore, gate PermissionGate, vault Decrypter, registry ConnectionResolver, stores storage.Resolver, notifier Notifier, logger zerolog.Logger) *Executor {
	if config.StagingDir == "" {
		config.StagingDir = os.TempDir()
	}
	return &Executor{
		config:   config,
		store:    store,
		gate:     gate,
		vault:    vault,
		registry: registry,
		stores:   stores,
		notifier: notifier,
		logger:   logger.With().Str("component", "backup_executor").Logger(),
		newSource: func(client *mongo.Client, database string) documentSource {
			return newMongoSource(client.Database(database))
		},
		active: make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetEventPublisher wires the live activity feed. Optional.
func (e *Executor) SetEventPublisher(events EventPublisher) {
	e.events = events
}

// SetInstrumentation wires execution metrics. Optional.
func (e *Executor) SetInstrumentation(metrics Instrumentation) {
	e.metrics = metrics
}

// SetStagingChecker wires the staging headroom gate. Optional.
func (e *Executor) SetStagingChecker(staging StagingChecker) {
	e.staging = staging
}

// AdHocRequest describes a caller-initiated backup outside any schedule.
type AdHocRequest struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	ConnectionID   uuid.UUID
	DatabaseName   string
	Collections    []string
	Destination    models.Destination
	BackupPassword string
}

// runSpec is the normalized input both execution paths reduce to.
type runSpec struct {
	schedule     *models.BackupSchedule // nil for ad-hoc
	userID       uuid.UUID
	orgID        uuid.UUID
	connectionID uuid.UUID
	databaseName string
	collections  []string
	destination  models.Destination
	password     string
}

func (r *runSpec) scheduleID() *uuid.UUID {
	if r.schedule == nil {
		return nil
	}
	return &r.schedule.ID
}

// ExecuteSchedule runs one backup for a schedule, acting on behalf of its
// creator with the backup password captured at save time. It returns the
// execution's log; the log's status carries the outcome. An error return
// means no log was produced, including losing the per-schedule lock to a
// concurrent run.
func (e *Executor) ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID) (*models.BackupLog, error) {
	s, err := e.store.GetBackupScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if !s.Enabled {
		return nil, ErrScheduleDisabled
	}

	spec := runSpec{
		schedule:     s,
		userID:       s.CreatedBy,
		orgID:        s.OrganizationID,
		connectionID: s.ConnectionID,
		databaseName: s.DatabaseName,
		collections:  s.Collections,
		destination:  s.Destination,
	}

	password, err := e.vault.Decrypt(s.EncryptedBackupPassword)
	if err != nil {
		// A durable failure: the stored password can no longer be
		// opened, so record the outcome instead of refiring all day.
		return e.recordRejection(spec, fmt.Sprintf("open stored backup password: %v", err)), nil
	}
	spec.password = password

	return e.execute(ctx, spec)
}

// ExecuteAdHoc runs one backup for the caller, outside any schedule.
// Permission failures reject without producing a log.
func (e *Executor) ExecuteAdHoc(ctx context.Context, req AdHocRequest) (*models.BackupLog, error) {
	if req.DatabaseName == "" {
		return nil, errors.New("database name is required")
	}
	spec := runSpec{
		userID:       req.UserID,
		orgID:        req.OrganizationID,
		connectionID: req.ConnectionID,
		databaseName: req.DatabaseName,
		collections:  req.Collections,
		destination:  req.Destination,
		password:     req.BackupPassword,
	}
	return e.execute(ctx, spec)
}

func (e *Executor) execute(ctx context.Context, spec runSpec) (*models.BackupLog, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.config.MaxExecutionDuration)
	defer cancel()

	ok, err := e.gate.CanBackup(runCtx, spec.userID, spec.orgID, spec.password)
	if err != nil {
		if spec.schedule != nil {
			return e.recordRejection(spec, fmt.Sprintf("backup permission check: %v", err)), nil
		}
		return nil, fmt.Errorf("backup permission check: %w", err)
	}
	if !ok {
		if spec.schedule != nil {
			return e.recordRejection(spec, "backup password verification failed"), nil
		}
		return nil, auth.ErrPermissionDenied
	}

	client, conn, err := e.registry.Resolve(runCtx, spec.userID, spec.orgID, spec.connectionID)
	if err != nil {
		return e.recordConnectFailure(spec, err), nil
	}

	src := e.newSource(client, spec.databaseName)
	targets, err := targetCollections(runCtx, src, spec.collections)
	if err != nil {
		return e.recordFailure(spec, conn.Name, fmt.Sprintf("determine target collections: %v", err)), nil
	}

	// The durable running log. For scheduled runs the insert is also the
	// cluster-wide per-schedule lock.
	log := models.NewBackupLog(spec.orgID, spec.scheduleID(), spec.connectionID, spec.userID, conn.Name, spec.databaseName)
	if err := e.store.CreateBackupLog(runCtx, log); err != nil {
		return nil, fmt.Errorf("create backup log: %w", err)
	}
	e.track(log.ID, cancel)
	defer e.untrack(log.ID)

	e.logger.Info().
		Str("log_id", log.ID.String()).
		Str("connection", conn.Name).
		Str("database", spec.databaseName).
		Int("collections", len(targets)).
		Msg("Backup started")
	if e.metrics != nil {
		e.metrics.ExecutionStarted()
	}
	e.publishStarted(log)

	e.runToCompletion(runCtx, spec, log, src, targets)

	if e.metrics != nil {
		e.metrics.ExecutionFinished(log.Status, log.Duration())
	}
	e.publishOutcome(log)
	e.notify(log, spec.schedule)
	return log, nil
}

// runToCompletion drives the log from running to a terminal status. Every
// exit path finalizes the log.
func (e *Executor) runToCompletion(ctx context.Context, spec runSpec, log *models.BackupLog, src documentSource, targets []string) {
	if e.staging != nil {
		if err := e.staging.CheckStaging(ctx); err != nil {
			e.fail(log, fmt.Sprintf("staging area check: %v", err))
			return
		}
	}

	result, err := assembleArchive(ctx, src, targets, e.config.StagingDir, e.logger)
	if err != nil {
		e.failOrCancel(ctx, log, fmt.Sprintf("assemble archive: %v", err))
		return
	}
	defer os.Remove(result.path)

	if !result.ok() {
		e.fail(log, "no collections archived successfully")
		return
	}

	objectStore, err := e.stores.For(spec.destination)
	if err != nil {
		e.fail(log, fmt.Sprintf("resolve destination: %v", err))
		return
	}

	objectPath := archiveObjectPath(log.ConnectionName, spec.databaseName, log.StartedAt)
	upload, err := e.upload(ctx, objectStore, spec.userID, result, objectPath)
	if err != nil {
		e.failOrCancel(ctx, log, fmt.Sprintf("upload archive: %v", err))
		return
	}

	log.Complete(result.clean, result.sizeBytes, upload.FileID, upload.WebViewLink)
	e.finalize(log)
	e.logger.Info().
		Str("log_id", log.ID.String()).
		Int64("size_bytes", result.sizeBytes).
		Int("collections", len(result.clean)).
		Int("failed_collections", len(result.failed)).
		Dur("duration", log.Duration()).
		Msg("Backup succeeded")

	if spec.schedule != nil {
		e.enforceRetention(ctx, spec.schedule, objectStore, spec.userID)
	}
}

func (e *Executor) upload(ctx context.Context, objectStore storage.ObjectStore, userID uuid.UUID, result *archiveResult, objectPath string) (*storage.UploadResult, error) {
	f, err := os.Open(result.path)
	if err != nil {
		return nil, fmt.Errorf("open staged archive: %w", err)
	}
	defer f.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, e.config.UploadTimeout)
	defer cancel()
	return objectStore.UploadFile(uploadCtx, userID, f, result.sizeBytes, path.Base(objectPath), archiveMimeType, path.Dir(objectPath))
}

// enforceRetention prunes artifacts beyond the schedule's retention count.
// It runs inside the owning execution after success committed, so the log
// table already contains the just-finished run. Failures are logged and
// never fail the executor.
func (e *Executor) enforceRetention(ctx context.Context, s *models.BackupSchedule, objectStore storage.ObjectStore, userID uuid.UUID) {
	logs, err := e.store.ListPrunableBackupLogs(ctx, s.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("schedule_id", s.ID.String()).Msg("Retention list failed")
		return
	}

	for i, l := range logs {
		if i < s.RetentionCount {
			continue
		}
		if l.FilePath != nil {
			if err := objectStore.DeleteFile(ctx, userID, *l.FilePath); err != nil {
				e.logger.Warn().
					Err(err).
					Str("log_id", l.ID.String()).
					Msg("Retention could not delete artifact")
			}
		}
		if err := e.store.MarkBackupLogDeleted(ctx, l.ID, retentionReason); err != nil {
			e.logger.Warn().
				Err(err).
				Str("log_id", l.ID.String()).
				Msg("Retention could not mark log deleted")
			continue
		}
		e.logger.Info().
			Str("log_id", l.ID.String()).
			Str("schedule_id", s.ID.String()).
			Msg("Retention pruned backup")
		e.publishPruned(l)
	}
}

// RecoverOrphans transitions running logs older than the grace window to
// error with reason "orphaned". Called once at startup so history left by
// a crashed process does not wedge the evaluator.
func (e *Executor) RecoverOrphans(ctx context.Context) error {
	grace := e.config.OrphanGrace
	if grace <= 0 {
		grace = 2 * e.config.MaxExecutionDuration
	}
	n, err := e.store.MarkOrphanedBackupLogs(ctx, time.Now().Add(-grace))
	if err != nil {
		return fmt.Errorf("recover orphaned backups: %w", err)
	}
	if n > 0 {
		e.logger.Warn().Int64("count", n).Msg("Recovered orphaned backup logs")
	}
	return nil
}

// CancelAll cancels every in-flight execution. Each one finalizes its own
// log as cancelled.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.active {
		cancel()
	}
}

// ActiveRuns returns the number of in-flight executions.
func (e *Executor) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Executor) track(logID uuid.UUID, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[logID] = cancel
}

func (e *Executor) untrack(logID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, logID)
}

// fail finalizes the log as error with the given message.
func (e *Executor) fail(log *models.BackupLog, msg string) {
	log.Fail(msg)
	e.finalize(log)
	e.logger.Error().
		Str("log_id", log.ID.String()).
		Str("error", msg).
		Msg("Backup failed")
}

// failOrCancel finalizes the log, reporting cancellation when the run's
// context ended rather than the step itself failing.
func (e *Executor) failOrCancel(ctx context.Context, log *models.BackupLog, msg string) {
	switch ctx.Err() {
	case context.Canceled:
		log.Cancel()
		e.finalize(log)
		e.logger.Warn().Str("log_id", log.ID.String()).Msg("Backup cancelled")
	case context.DeadlineExceeded:
		log.Fail("execution deadline exceeded")
		e.finalize(log)
		e.logger.Error().Str("log_id", log.ID.String()).Msg("Backup hit execution deadline")
	default:
		e.fail(log, msg)
	}
}

// finalize persists a terminal log. It uses a detached context because the
// run's own context may already be cancelled.
func (e *Executor) finalize(log *models.BackupLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.UpdateBackupLog(ctx, log); err != nil {
		e.logger.Error().
			Err(err).
			Str("log_id", log.ID.String()).
			Msg("Failed to persist backup outcome")
	}
}

// recordRejection writes a terminal error log for a scheduled run refused
// before it started, so the evaluator sees the slot as served instead of
// refiring it every tick.
func (e *Executor) recordRejection(spec runSpec, msg string) *models.BackupLog {
	return e.recordFailure(spec, "", msg)
}

// recordConnectFailure writes a terminal error log for a run whose
// connection could not be resolved.
func (e *Executor) recordConnectFailure(spec runSpec, err error) *models.BackupLog {
	return e.recordFailure(spec, "", fmt.Sprintf("resolve connection: %v", err))
}

// recordFailure inserts a log directly in error state. The partial unique
// index only guards running logs, so this insert cannot conflict.
func (e *Executor) recordFailure(spec runSpec, connectionName, msg string) *models.BackupLog {
	log := models.NewBackupLog(spec.orgID, spec.scheduleID(), spec.connectionID, spec.userID, connectionName, spec.databaseName)
	log.Fail(msg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.CreateBackupLog(ctx, log); err != nil {
		e.logger.Error().
			Err(err).
			Str("schedule_id", uuidString(spec.scheduleID())).
			Msg("Failed to record backup rejection")
	}
	e.logger.Error().
		Str("log_id", log.ID.String()).
		Str("error", msg).
		Msg("Backup failed")
	if e.metrics != nil {
		// A rejected run still counts as a started-and-finished execution.
		e.metrics.ExecutionStarted()
		e.metrics.ExecutionFinished(log.Status, log.Duration())
	}
	e.publishOutcome(log)
	e.notify(log, spec.schedule)
	return log
}

func (e *Executor) notify(log *models.BackupLog, schedule *models.BackupSchedule) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.notifier.BackupFinished(ctx, log, schedule)
}

func (e *Executor) publishStarted(log *models.BackupLog) {
	if e.events == nil {
		return
	}
	ev := models.NewActivityEvent(log.OrganizationID, models.ActivityEventBackupStarted,
		"Backup started",
		fmt.Sprintf("Backup of %s on %s started", log.DatabaseName, log.ConnectionName))
	ev.SetResource("backup_log", log.ID, log.DatabaseName)
	e.publish(ev)
}

func (e *Executor) publishOutcome(log *models.BackupLog) {
	if e.events == nil {
		return
	}
	var ev *models.ActivityEvent
	if log.Status == models.BackupLogSuccess {
		ev = models.NewActivityEvent(log.OrganizationID, models.ActivityEventBackupCompleted,
			"Backup completed",
			fmt.Sprintf("Backup of %s on %s completed", log.DatabaseName, log.ConnectionName))
	} else {
		ev = models.NewActivityEvent(log.OrganizationID, models.ActivityEventBackupFailed,
			"Backup failed",
			fmt.Sprintf("Backup of %s on %s failed: %s", log.DatabaseName, log.ConnectionName, log.ErrorMessage))
	}
	ev.SetResource("backup_log", log.ID, log.DatabaseName)
	e.publish(ev)
}

func (e *Executor) publishPruned(log *models.BackupLog) {
	if e.events == nil {
		return
	}
	ev := models.NewActivityEvent(log.OrganizationID, models.ActivityEventBackupPruned,
		"Backup pruned",
		fmt.Sprintf("Backup of %s on %s pruned by retention", log.DatabaseName, log.ConnectionName))
	ev.SetResource("backup_log", log.ID, log.DatabaseName)
	e.publish(ev)
}

func (e *Executor) publish(ev *models.ActivityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.events.Publish(ctx, ev)
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
