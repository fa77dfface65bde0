package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mongardhq/mongard/internal/models"
)

const scheduleColumns = `id, organization_id, connection_id, name, database_name, collections, days, times, timezone, destination, retention_count, enabled, encrypted_backup_password, created_by, next_run_at, created_at, updated_at`

// CreateBackupSchedule inserts a schedule.
func (db *DB) CreateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error {
	daysJSON, err := s.DaysJSON()
	if err != nil {
		return fmt.Errorf("encode days: %w", err)
	}
	timesJSON, err := s.TimesJSON()
	if err != nil {
		return fmt.Errorf("encode times: %w", err)
	}
	collectionsJSON, err := s.CollectionsJSON()
	if err != nil {
		return fmt.Errorf("encode collections: %w", err)
	}
	destJSON, err := s.DestinationJSON()
	if err != nil {
		return fmt.Errorf("encode destination: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO backup_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, s.ID, s.OrganizationID, s.ConnectionID, s.Name, s.DatabaseName, collectionsJSON,
		daysJSON, timesJSON, s.Timezone, destJSON, s.RetentionCount, s.Enabled,
		s.EncryptedBackupPassword, s.CreatedBy, s.NextRunAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create backup schedule: %w", err)
	}
	return nil
}

// GetBackupScheduleByID returns a schedule by its ID.
func (db *DB) GetBackupScheduleByID(ctx context.Context, id uuid.UUID) (*models.BackupSchedule, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM backup_schedules
		WHERE id = $1
	`, id)

	s, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("backup schedule %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get backup schedule: %w", err)
	}
	return s, nil
}

// ListBackupSchedulesByOrganization returns the organization's schedules
// with the most recent execution joined in for display.
func (db *DB) ListBackupSchedulesByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.ScheduleWithLastRun, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT s.id, s.organization_id, s.connection_id, s.name, s.database_name, s.collections,
		       s.days, s.times, s.timezone, s.destination, s.retention_count, s.enabled,
		       s.encrypted_backup_password, s.created_by, s.next_run_at, s.created_at, s.updated_at,
		       l.started_at, l.status
		FROM backup_schedules s
		LEFT JOIN LATERAL (
			SELECT started_at, status
			FROM backup_logs
			WHERE schedule_id = s.id
			ORDER BY started_at DESC
			LIMIT 1
		) l ON TRUE
		WHERE s.organization_id = $1
		ORDER BY s.name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list backup schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.ScheduleWithLastRun
	for rows.Next() {
		var item models.ScheduleWithLastRun
		var collectionsJSON, daysJSON, timesJSON, destJSON []byte
		var lastStarted *time.Time
		var lastStatus *string
		err := rows.Scan(
			&item.ID, &item.OrganizationID, &item.ConnectionID, &item.Name, &item.DatabaseName,
			&collectionsJSON, &daysJSON, &timesJSON, &item.Timezone, &destJSON,
			&item.RetentionCount, &item.Enabled, &item.EncryptedBackupPassword,
			&item.CreatedBy, &item.NextRunAt, &item.CreatedAt, &item.UpdatedAt,
			&lastStarted, &lastStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("scan backup schedule: %w", err)
		}
		if err := decodeScheduleJSON(&item.BackupSchedule, collectionsJSON, daysJSON, timesJSON, destJSON); err != nil {
			return nil, err
		}
		if lastStarted != nil && lastStatus != nil {
			item.LastRun = &models.ScheduleLastRun{
				StartedAt: *lastStarted,
				Status:    models.BackupLogStatus(*lastStatus),
			}
		}
		schedules = append(schedules, &item)
	}
	return schedules, rows.Err()
}

// ListEnabledBackupSchedules returns every enabled schedule across all
// organizations. The scheduler loop feeds these to the evaluator each tick.
func (db *DB) ListEnabledBackupSchedules(ctx context.Context) ([]*models.BackupSchedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM backup_schedules
		WHERE enabled
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list enabled backup schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.BackupSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// UpdateBackupSchedule replaces a schedule's mutable fields. The
// organization can never change.
func (db *DB) UpdateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error {
	daysJSON, err := s.DaysJSON()
	if err != nil {
		return fmt.Errorf("encode days: %w", err)
	}
	timesJSON, err := s.TimesJSON()
	if err != nil {
		return fmt.Errorf("encode times: %w", err)
	}
	collectionsJSON, err := s.CollectionsJSON()
	if err != nil {
		return fmt.Errorf("encode collections: %w", err)
	}
	destJSON, err := s.DestinationJSON()
	if err != nil {
		return fmt.Errorf("encode destination: %w", err)
	}

	result, err := db.Pool.Exec(ctx, `
		UPDATE backup_schedules
		SET connection_id = $3, name = $4, database_name = $5, collections = $6,
		    days = $7, times = $8, timezone = $9, destination = $10,
		    retention_count = $11, enabled = $12, encrypted_backup_password = $13,
		    next_run_at = $14, updated_at = $15
		WHERE id = $1 AND organization_id = $2
	`, s.ID, s.OrganizationID, s.ConnectionID, s.Name, s.DatabaseName, collectionsJSON,
		daysJSON, timesJSON, s.Timezone, destJSON, s.RetentionCount, s.Enabled,
		s.EncryptedBackupPassword, s.NextRunAt, time.Now())
	if err != nil {
		return fmt.Errorf("update backup schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backup schedule %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// SetBackupScheduleEnabled toggles a schedule. nextRunAt is the recomputed
// next firing when enabling, nil when disabling.
func (db *DB) SetBackupScheduleEnabled(ctx context.Context, id, orgID uuid.UUID, enabled bool, nextRunAt *time.Time) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE backup_schedules
		SET enabled = $3, next_run_at = $4, updated_at = $5
		WHERE id = $1 AND organization_id = $2
	`, id, orgID, enabled, nextRunAt, time.Now())
	if err != nil {
		return fmt.Errorf("toggle backup schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backup schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateBackupScheduleNextRun records the next computed firing time.
func (db *DB) UpdateBackupScheduleNextRun(ctx context.Context, id uuid.UUID, nextRunAt *time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE backup_schedules
		SET next_run_at = $2
		WHERE id = $1
	`, id, nextRunAt)
	if err != nil {
		return fmt.Errorf("update schedule next run: %w", err)
	}
	return nil
}

// DeleteBackupSchedule removes a schedule. Logs keep their rows with a
// nulled schedule reference.
func (db *DB) DeleteBackupSchedule(ctx context.Context, id, orgID uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM backup_schedules WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete backup schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backup schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanSchedule scans a single schedule row in scheduleColumns order.
func scanSchedule(row pgx.Row) (*models.BackupSchedule, error) {
	var s models.BackupSchedule
	var collectionsJSON, daysJSON, timesJSON, destJSON []byte
	err := row.Scan(
		&s.ID, &s.OrganizationID, &s.ConnectionID, &s.Name, &s.DatabaseName,
		&collectionsJSON, &daysJSON, &timesJSON, &s.Timezone, &destJSON,
		&s.RetentionCount, &s.Enabled, &s.EncryptedBackupPassword,
		&s.CreatedBy, &s.NextRunAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeScheduleJSON(&s, collectionsJSON, daysJSON, timesJSON, destJSON); err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeScheduleJSON(s *models.BackupSchedule, collections, days, times, dest []byte) error {
	if err := s.SetCollections(collections); err != nil {
		return fmt.Errorf("decode collections: %w", err)
	}
	if err := s.SetDays(days); err != nil {
		return fmt.Errorf("decode days: %w", err)
	}
	if err := s.SetTimes(times); err != nil {
		return fmt.Errorf("decode times: %w", err)
	}
	if err := s.SetDestination(dest); err != nil {
		return fmt.Errorf("decode destination: %w", err)
	}
	return nil
}
