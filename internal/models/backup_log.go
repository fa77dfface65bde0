package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BackupLogStatus is the lifecycle state of a backup execution.
type BackupLogStatus string

const (
	// BackupLogRunning indicates the backup is currently executing.
	BackupLogRunning BackupLogStatus = "running"
	// BackupLogSuccess indicates the archive was uploaded.
	BackupLogSuccess BackupLogStatus = "success"
	// BackupLogError indicates the backup failed, was cancelled or orphaned.
	BackupLogError BackupLogStatus = "error"
	// BackupLogDeleted indicates the archive was pruned by retention.
	BackupLogDeleted BackupLogStatus = "deleted"
)

// BackupLog records a single backup execution. It is created in the running
// state before any side effects, and its terminal states never transition
// back, except success to deleted when retention prunes the archive.
type BackupLog struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ScheduleID     *uuid.UUID      `json:"schedule_id,omitempty"` // nil for ad-hoc runs
	ConnectionID   uuid.UUID       `json:"connection_id"`
	UserID         uuid.UUID       `json:"user_id"`
	ConnectionName string          `json:"connection_name"`
	DatabaseName   string          `json:"database_name"`
	Status         BackupLogStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	DurationMs     *int64          `json:"duration_ms,omitempty"`
	// CollectionsBackedUp lists collections archived without error.
	CollectionsBackedUp []string   `json:"collections_backed_up,omitempty"`
	FileSizeBytes       *int64     `json:"file_size_bytes,omitempty"`
	FilePath            *string    `json:"file_path,omitempty"`
	FileLink            *string    `json:"file_link,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
	DeletedReason       *string    `json:"deleted_reason,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// NewBackupLog creates a running BackupLog for the given execution.
// scheduleID is nil for ad-hoc runs.
func NewBackupLog(orgID uuid.UUID, scheduleID *uuid.UUID, connectionID, userID uuid.UUID, connectionName, databaseName string) *BackupLog {
	now := time.Now()
	return &BackupLog{
		ID:             uuid.New(),
		OrganizationID: orgID,
		ScheduleID:     scheduleID,
		ConnectionID:   connectionID,
		UserID:         userID,
		ConnectionName: connectionName,
		DatabaseName:   databaseName,
		Status:         BackupLogRunning,
		StartedAt:      now,
		CreatedAt:      now,
	}
}

// Complete marks the backup as successful with the upload results.
// No-op if the log is already terminal.
func (l *BackupLog) Complete(collections []string, sizeBytes int64, filePath, fileLink string) {
	if l.IsTerminal() {
		return
	}
	now := time.Now()
	ms := now.Sub(l.StartedAt).Milliseconds()
	l.Status = BackupLogSuccess
	l.CompletedAt = &now
	l.DurationMs = &ms
	l.CollectionsBackedUp = collections
	l.FileSizeBytes = &sizeBytes
	l.FilePath = &filePath
	l.FileLink = &fileLink
}

// Fail marks the backup as failed with the given error message.
// No-op if the log is already terminal.
func (l *BackupLog) Fail(errMsg string) {
	if l.IsTerminal() {
		return
	}
	now := time.Now()
	ms := now.Sub(l.StartedAt).Milliseconds()
	l.Status = BackupLogError
	l.CompletedAt = &now
	l.DurationMs = &ms
	l.ErrorMessage = errMsg
}

// Cancel marks the backup as failed due to cancellation.
func (l *BackupLog) Cancel() {
	l.Fail("cancelled")
}

// MarkDeleted transitions a successful backup to deleted after its archive
// was pruned. Only success logs can be deleted.
func (l *BackupLog) MarkDeleted(reason string) {
	if l.Status != BackupLogSuccess {
		return
	}
	now := time.Now()
	l.Status = BackupLogDeleted
	l.DeletedAt = &now
	l.DeletedReason = &reason
}

// IsTerminal returns true if the log has reached a terminal status.
func (l *BackupLog) IsTerminal() bool {
	return l.Status == BackupLogSuccess || l.Status == BackupLogError || l.Status == BackupLogDeleted
}

// Duration returns the duration of the backup, or 0 if not completed.
func (l *BackupLog) Duration() time.Duration {
	if l.CompletedAt == nil {
		return 0
	}
	return l.CompletedAt.Sub(l.StartedAt)
}

// SetCollectionsBackedUp sets the archived collections from JSON bytes.
func (l *BackupLog) SetCollectionsBackedUp(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &l.CollectionsBackedUp)
}

// CollectionsBackedUpJSON returns the archived collections as JSON bytes for
// database storage.
func (l *BackupLog) CollectionsBackedUpJSON() ([]byte, error) {
	if l.CollectionsBackedUp == nil {
		return nil, nil
	}
	return json.Marshal(l.CollectionsBackedUp)
}

// BackupLogFilter holds filter options for listing backup logs.
type BackupLogFilter struct {
	OrganizationID uuid.UUID        `json:"organization_id"`
	ScheduleID     *uuid.UUID       `json:"schedule_id,omitempty"`
	ConnectionID   *uuid.UUID       `json:"connection_id,omitempty"`
	Status         *BackupLogStatus `json:"status,omitempty"`
	Limit          int              `json:"limit,omitempty"`
	Offset         int              `json:"offset,omitempty"`
}
