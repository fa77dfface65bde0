package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DestinationType defines where backup archives are uploaded.
type DestinationType string

const (
	// DestinationDrive uploads to the creator's connected Google Drive.
	DestinationDrive DestinationType = "drive"
	// DestinationS3 uploads to an S3-compatible bucket.
	DestinationS3 DestinationType = "s3"
	// DestinationLocal writes to a directory on the server.
	DestinationLocal DestinationType = "local"
)

// ValidDestinationTypes returns all valid destination types.
func ValidDestinationTypes() []DestinationType {
	return []DestinationType{DestinationDrive, DestinationS3, DestinationLocal}
}

// IsValidDestinationType checks if the destination type is valid.
func IsValidDestinationType(t DestinationType) bool {
	for _, valid := range ValidDestinationTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// Destination selects a backup target and carries backend-specific settings.
type Destination struct {
	Type   DestinationType `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// timePattern matches schedule times in HH:MM form, 00:00 through 23:59.
// A single-digit hour is accepted ("9:30").
var timePattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// IsValidScheduleTime checks if the string is a valid HH:MM schedule time.
func IsValidScheduleTime(t string) bool {
	return timePattern.MatchString(t)
}

// MinutesOfTime converts an HH:MM string to minutes since midnight.
func MinutesOfTime(t string) (int, error) {
	if !timePattern.MatchString(t) {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", t)
	}
	parts := strings.SplitN(t, ":", 2)
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", t, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", t, err)
	}
	return hours*60 + minutes, nil
}

// BackupSchedule configures recurring backups of one database on one
// connection. Days use Go's weekday numbering, 0=Sunday through 6=Saturday.
// Times have minute resolution in the schedule's timezone.
type BackupSchedule struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	ConnectionID   uuid.UUID   `json:"connection_id"`
	Name           string      `json:"name"`
	DatabaseName   string      `json:"database_name"`
	Collections    []string    `json:"collections,omitempty"` // empty means all non-system collections
	Days           []int       `json:"days"`
	Times          []string    `json:"times"`
	Timezone       string      `json:"timezone,omitempty"` // IANA name; empty means UTC
	Destination    Destination `json:"destination"`
	RetentionCount int         `json:"retention_count"`
	Enabled        bool        `json:"enabled"`
	// EncryptedBackupPassword is a vault-encrypted copy of the org backup
	// password, captured when the schedule is saved so unattended runs can
	// pass the backup permission gate.
	EncryptedBackupPassword string     `json:"-"`
	CreatedBy               uuid.UUID  `json:"created_by"`
	NextRunAt               *time.Time `json:"next_run_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// NewBackupSchedule creates an enabled BackupSchedule with the given details.
// Destination and retention are set by the caller before saving.
func NewBackupSchedule(orgID, connectionID uuid.UUID, name, databaseName string, days []int, times []string, createdBy uuid.UUID) *BackupSchedule {
	now := time.Now()
	return &BackupSchedule{
		ID:             uuid.New(),
		OrganizationID: orgID,
		ConnectionID:   connectionID,
		Name:           name,
		DatabaseName:   databaseName,
		Days:           days,
		Times:          times,
		Enabled:        true,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks the schedule's fields and returns the first problem found.
func (s *BackupSchedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.DatabaseName == "" {
		return fmt.Errorf("database_name is required")
	}
	if len(s.Days) == 0 {
		return fmt.Errorf("at least one day is required")
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("invalid day %d, expected 0 (Sunday) through 6 (Saturday)", d)
		}
	}
	if len(s.Times) == 0 {
		return fmt.Errorf("at least one time is required")
	}
	for _, t := range s.Times {
		if !IsValidScheduleTime(t) {
			return fmt.Errorf("invalid time %q, expected HH:MM", t)
		}
	}
	if s.RetentionCount < 1 {
		return fmt.Errorf("retention_count must be at least 1")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q", s.Timezone)
		}
	}
	if !IsValidDestinationType(s.Destination.Type) {
		return fmt.Errorf("invalid destination type %q", s.Destination.Type)
	}
	return nil
}

// Location returns the schedule's timezone, falling back to UTC when the
// field is empty or unloadable. Validity is enforced at save time.
func (s *BackupSchedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ContainsDay checks if the given weekday (0=Sunday) is scheduled.
func (s *BackupSchedule) ContainsDay(day int) bool {
	for _, d := range s.Days {
		if d == day {
			return true
		}
	}
	return false
}

// NextRunAfter returns the earliest scheduled (day, time) strictly after now
// in the schedule's timezone, or nil if days or times are empty.
func (s *BackupSchedule) NextRunAfter(now time.Time) *time.Time {
	if len(s.Days) == 0 || len(s.Times) == 0 {
		return nil
	}
	loc := s.Location()
	local := now.In(loc)

	var next *time.Time
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		if !s.ContainsDay(int(day.Weekday())) {
			continue
		}
		for _, t := range s.Times {
			tm, err := MinutesOfTime(t)
			if err != nil {
				continue
			}
			candidate := time.Date(day.Year(), day.Month(), day.Day(), tm/60, tm%60, 0, 0, loc)
			if !candidate.After(now) {
				continue
			}
			if next == nil || candidate.Before(*next) {
				c := candidate
				next = &c
			}
		}
	}
	return next
}

// SetDays sets the days from JSON bytes.
func (s *BackupSchedule) SetDays(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.Days)
}

// DaysJSON returns the days as JSON bytes for database storage.
func (s *BackupSchedule) DaysJSON() ([]byte, error) {
	if s.Days == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Days)
}

// SetTimes sets the times from JSON bytes.
func (s *BackupSchedule) SetTimes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.Times)
}

// TimesJSON returns the times as JSON bytes for database storage.
func (s *BackupSchedule) TimesJSON() ([]byte, error) {
	if s.Times == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Times)
}

// SetCollections sets the collection subset from JSON bytes.
func (s *BackupSchedule) SetCollections(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.Collections)
}

// CollectionsJSON returns the collection subset as JSON bytes for database
// storage, or nil when all collections are backed up.
func (s *BackupSchedule) CollectionsJSON() ([]byte, error) {
	if s.Collections == nil {
		return nil, nil
	}
	return json.Marshal(s.Collections)
}

// SetDestination sets the destination from JSON bytes.
func (s *BackupSchedule) SetDestination(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.Destination)
}

// DestinationJSON returns the destination as JSON bytes for database storage.
func (s *BackupSchedule) DestinationJSON() ([]byte, error) {
	return json.Marshal(s.Destination)
}

// ScheduleLastRun is the most recent execution of a schedule, joined in for
// list display.
type ScheduleLastRun struct {
	StartedAt time.Time       `json:"started_at"`
	Status    BackupLogStatus `json:"status"`
}

// ScheduleWithLastRun includes the most recent backup log for display.
type ScheduleWithLastRun struct {
	BackupSchedule
	LastRun *ScheduleLastRun `json:"last_run,omitempty"`
}
