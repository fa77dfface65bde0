package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mongardhq/mongard/internal/models"
)

const backupLogColumns = `id, organization_id, schedule_id, connection_id, user_id, connection_name, database_name, status, started_at, completed_at, duration_ms, collections_backed_up, file_size_bytes, file_path, file_link, error_message, deleted_at, deleted_reason, created_at`

// CreateBackupLog durably records an execution log. Running scheduled logs
// hit the partial unique index on (schedule_id) WHERE status='running',
// which makes the insert the per-schedule lock: a second contender gets
// ErrBackupAlreadyRunning and must step away.
func (db *DB) CreateBackupLog(ctx context.Context, log *models.BackupLog) error {
	collectionsJSON, err := log.CollectionsBackedUpJSON()
	if err != nil {
		return fmt.Errorf("encode collections: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO backup_logs (`+backupLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, log.ID, log.OrganizationID, log.ScheduleID, log.ConnectionID, log.UserID,
		log.ConnectionName, log.DatabaseName, string(log.Status), log.StartedAt,
		log.CompletedAt, log.DurationMs, collectionsJSON, log.FileSizeBytes,
		log.FilePath, log.FileLink, log.ErrorMessage, log.DeletedAt, log.DeletedReason, log.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBackupAlreadyRunning
		}
		return fmt.Errorf("create backup log: %w", err)
	}
	return nil
}

// UpdateBackupLog writes the outcome fields of an execution.
func (db *DB) UpdateBackupLog(ctx context.Context, log *models.BackupLog) error {
	collectionsJSON, err := log.CollectionsBackedUpJSON()
	if err != nil {
		return fmt.Errorf("encode collections: %w", err)
	}

	result, err := db.Pool.Exec(ctx, `
		UPDATE backup_logs
		SET status = $2, completed_at = $3, duration_ms = $4, collections_backed_up = $5,
		    file_size_bytes = $6, file_path = $7, file_link = $8, error_message = $9,
		    deleted_at = $10, deleted_reason = $11
		WHERE id = $1
	`, log.ID, string(log.Status), log.CompletedAt, log.DurationMs, collectionsJSON,
		log.FileSizeBytes, log.FilePath, log.FileLink, log.ErrorMessage,
		log.DeletedAt, log.DeletedReason)
	if err != nil {
		return fmt.Errorf("update backup log: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backup log %s: %w", log.ID, ErrNotFound)
	}
	return nil
}

// GetBackupLogByID returns a backup log by its ID.
func (db *DB) GetBackupLogByID(ctx context.Context, id uuid.UUID) (*models.BackupLog, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+backupLogColumns+`
		FROM backup_logs
		WHERE id = $1
	`, id)

	log, err := scanBackupLog(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("backup log %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get backup log: %w", err)
	}
	return log, nil
}

// ListBackupLogs returns logs matching the filter, newest first, with the
// total match count for pagination.
func (db *DB) ListBackupLogs(ctx context.Context, filter models.BackupLogFilter) ([]*models.BackupLog, int, error) {
	where := "WHERE organization_id = $1"
	args := []any{filter.OrganizationID}

	if filter.ScheduleID != nil {
		args = append(args, *filter.ScheduleID)
		where += fmt.Sprintf(" AND schedule_id = $%d", len(args))
	}
	if filter.ConnectionID != nil {
		args = append(args, *filter.ConnectionID)
		where += fmt.Sprintf(" AND connection_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM backup_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count backup logs: %w", err)
	}

	query := `SELECT ` + backupLogColumns + ` FROM backup_logs ` + where + ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list backup logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.BackupLog
	for rows.Next() {
		log, err := scanBackupLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan backup log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, total, rows.Err()
}

// ListTerminalBackupLogs returns success and error logs for a schedule with
// started_at in [from, until). The evaluator's history check reads these.
func (db *DB) ListTerminalBackupLogs(ctx context.Context, scheduleID uuid.UUID, from, until time.Time) ([]*models.BackupLog, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupLogColumns+`
		FROM backup_logs
		WHERE schedule_id = $1
		  AND status IN ('success', 'error')
		  AND started_at >= $2 AND started_at < $3
		ORDER BY started_at DESC
	`, scheduleID, from, until)
	if err != nil {
		return nil, fmt.Errorf("list terminal backup logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.BackupLog
	for rows.Next() {
		log, err := scanBackupLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListPrunableBackupLogs returns a schedule's success logs that still hold a
// live artifact, newest first. Retention keeps the first retentionCount and
// prunes the rest.
func (db *DB) ListPrunableBackupLogs(ctx context.Context, scheduleID uuid.UUID) ([]*models.BackupLog, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupLogColumns+`
		FROM backup_logs
		WHERE schedule_id = $1
		  AND status = 'success'
		  AND file_path IS NOT NULL
		ORDER BY started_at DESC
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list prunable backup logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.BackupLog
	for rows.Next() {
		log, err := scanBackupLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// MarkBackupLogDeleted transitions a success log to deleted after retention
// pruned its artifact.
func (db *DB) MarkBackupLogDeleted(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE backup_logs
		SET status = 'deleted', deleted_at = $2, deleted_reason = $3
		WHERE id = $1 AND status = 'success'
	`, id, time.Now(), reason)
	if err != nil {
		return fmt.Errorf("mark backup log deleted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backup log %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkOrphanedBackupLogs transitions running logs started before the cutoff
// to error with reason "orphaned". Crash recovery calls this at startup so
// the evaluator's history check stays valid.
func (db *DB) MarkOrphanedBackupLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.Pool.Exec(ctx, `
		UPDATE backup_logs
		SET status = 'error', error_message = 'orphaned', completed_at = NOW()
		WHERE status = 'running' AND started_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned backup logs: %w", err)
	}
	return result.RowsAffected(), nil
}

// HardDeleteBackupLogs removes deleted logs whose artifacts were pruned
// before the cutoff. The janitor calls this.
func (db *DB) HardDeleteBackupLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM backup_logs
		WHERE status = 'deleted' AND deleted_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("hard delete backup logs: %w", err)
	}
	return result.RowsAffected(), nil
}

// CountRunningBackupLogs returns the number of executions currently
// in flight.
func (db *DB) CountRunningBackupLogs(ctx context.Context) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM backup_logs WHERE status = 'running'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running backup logs: %w", err)
	}
	return count, nil
}

// scanBackupLog scans a single log row in backupLogColumns order.
func scanBackupLog(row pgx.Row) (*models.BackupLog, error) {
	var log models.BackupLog
	var statusStr string
	var collectionsJSON []byte
	err := row.Scan(
		&log.ID, &log.OrganizationID, &log.ScheduleID, &log.ConnectionID, &log.UserID,
		&log.ConnectionName, &log.DatabaseName, &statusStr, &log.StartedAt,
		&log.CompletedAt, &log.DurationMs, &collectionsJSON, &log.FileSizeBytes,
		&log.FilePath, &log.FileLink, &log.ErrorMessage, &log.DeletedAt,
		&log.DeletedReason, &log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	log.Status = models.BackupLogStatus(statusStr)
	if err := log.SetCollectionsBackedUp(collectionsJSON); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}
	return &log, nil
}
