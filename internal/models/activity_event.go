package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityEventType represents the type of activity event.
type ActivityEventType string

const (
	// Backup events
	ActivityEventBackupStarted   ActivityEventType = "backup_started"
	ActivityEventBackupCompleted ActivityEventType = "backup_completed"
	ActivityEventBackupFailed    ActivityEventType = "backup_failed"
	ActivityEventBackupPruned    ActivityEventType = "backup_pruned"

	// Schedule events
	ActivityEventScheduleCreated  ActivityEventType = "schedule_created"
	ActivityEventScheduleUpdated  ActivityEventType = "schedule_updated"
	ActivityEventScheduleDeleted  ActivityEventType = "schedule_deleted"
	ActivityEventScheduleEnabled  ActivityEventType = "schedule_enabled"
	ActivityEventScheduleDisabled ActivityEventType = "schedule_disabled"

	// Connection events
	ActivityEventConnectionCreated ActivityEventType = "connection_created"
	ActivityEventConnectionUpdated ActivityEventType = "connection_updated"
	ActivityEventConnectionDeleted ActivityEventType = "connection_deleted"

	// Organization events
	ActivityEventMemberJoined   ActivityEventType = "member_joined"
	ActivityEventMemberRemoved  ActivityEventType = "member_removed"
	ActivityEventInvitationSent ActivityEventType = "invitation_sent"
	ActivityEventRoleChanged    ActivityEventType = "role_changed"

	// User events
	ActivityEventUserLogin  ActivityEventType = "user_login"
	ActivityEventUserLogout ActivityEventType = "user_logout"

	// System events
	ActivityEventSystemStartup  ActivityEventType = "system_startup"
	ActivityEventSystemShutdown ActivityEventType = "system_shutdown"
)

// ActivityEventCategory categorizes activity events for filtering.
type ActivityEventCategory string

const (
	ActivityCategoryBackup       ActivityEventCategory = "backup"
	ActivityCategorySchedule     ActivityEventCategory = "schedule"
	ActivityCategoryConnection   ActivityEventCategory = "connection"
	ActivityCategoryOrganization ActivityEventCategory = "organization"
	ActivityCategoryUser         ActivityEventCategory = "user"
	ActivityCategorySystem       ActivityEventCategory = "system"
)

// GetCategory returns the category for an event type.
func (t ActivityEventType) GetCategory() ActivityEventCategory {
	switch t {
	case ActivityEventBackupStarted, ActivityEventBackupCompleted, ActivityEventBackupFailed, ActivityEventBackupPruned:
		return ActivityCategoryBackup
	case ActivityEventScheduleCreated, ActivityEventScheduleUpdated, ActivityEventScheduleDeleted, ActivityEventScheduleEnabled, ActivityEventScheduleDisabled:
		return ActivityCategorySchedule
	case ActivityEventConnectionCreated, ActivityEventConnectionUpdated, ActivityEventConnectionDeleted:
		return ActivityCategoryConnection
	case ActivityEventMemberJoined, ActivityEventMemberRemoved, ActivityEventInvitationSent, ActivityEventRoleChanged:
		return ActivityCategoryOrganization
	case ActivityEventUserLogin, ActivityEventUserLogout:
		return ActivityCategoryUser
	case ActivityEventSystemStartup, ActivityEventSystemShutdown:
		return ActivityCategorySystem
	default:
		return ActivityCategorySystem
	}
}

// ActivityEvent represents a system activity event.
type ActivityEvent struct {
	ID             uuid.UUID             `json:"id"`
	OrganizationID uuid.UUID             `json:"organization_id"`
	Type           ActivityEventType     `json:"type"`
	Category       ActivityEventCategory `json:"category"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	UserID         *uuid.UUID            `json:"user_id,omitempty"`
	UserName       *string               `json:"user_name,omitempty"`
	ResourceType   *string               `json:"resource_type,omitempty"`
	ResourceID     *uuid.UUID            `json:"resource_id,omitempty"`
	ResourceName   *string               `json:"resource_name,omitempty"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// NewActivityEvent creates a new ActivityEvent with the given details.
func NewActivityEvent(orgID uuid.UUID, eventType ActivityEventType, title, description string) *ActivityEvent {
	return &ActivityEvent{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Type:           eventType,
		Category:       eventType.GetCategory(),
		Title:          title,
		Description:    description,
		CreatedAt:      time.Now(),
	}
}

// SetUser sets the user associated with this event.
func (e *ActivityEvent) SetUser(userID uuid.UUID, userName string) {
	e.UserID = &userID
	e.UserName = &userName
}

// SetResource sets the resource associated with this event.
func (e *ActivityEvent) SetResource(resourceType string, resourceID uuid.UUID, resourceName string) {
	e.ResourceType = &resourceType
	e.ResourceID = &resourceID
	e.ResourceName = &resourceName
}

// SetMetadata sets the metadata from a map.
func (e *ActivityEvent) SetMetadata(metadata map[string]any) {
	e.Metadata = metadata
}

// MetadataJSON returns the metadata as JSON bytes for database storage.
func (e *ActivityEvent) MetadataJSON() ([]byte, error) {
	if e.Metadata == nil {
		return nil, nil
	}
	return json.Marshal(e.Metadata)
}

// ParseMetadata sets the metadata from JSON bytes.
func (e *ActivityEvent) ParseMetadata(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	e.Metadata = metadata
	return nil
}

// ActivityEventFilter holds filter options for listing activity events.
type ActivityEventFilter struct {
	Category  *ActivityEventCategory `json:"category,omitempty"`
	Type      *ActivityEventType     `json:"type,omitempty"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	StartTime *time.Time             `json:"start_time,omitempty"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
	Limit     int                    `json:"limit,omitempty"`
	Offset    int                    `json:"offset,omitempty"`
}
