package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mongardhq/mongard/internal/models"
)

// CreateActivityEvent creates a new activity event.
func (db *DB) CreateActivityEvent(ctx context.Context, event *models.ActivityEvent) error {
	metadataBytes, err := event.MetadataJSON()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO activity_events (id, organization_id, event_type, category, title, description,
		                             user_id, user_name, resource_type, resource_id, resource_name,
		                             metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, event.ID, event.OrganizationID, string(event.Type), string(event.Category),
		event.Title, event.Description, event.UserID, event.UserName,
		event.ResourceType, event.ResourceID, event.ResourceName,
		metadataBytes, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("create activity event: %w", err)
	}
	return nil
}

// GetActivityEvents returns activity events for an organization with
// optional filtering, newest first.
func (db *DB) GetActivityEvents(ctx context.Context, orgID uuid.UUID, filter models.ActivityEventFilter) ([]*models.ActivityEvent, error) {
	query := `
		SELECT id, organization_id, event_type, category, title, description,
		       user_id, user_name, resource_type, resource_id, resource_name,
		       metadata, created_at
		FROM activity_events
		WHERE organization_id = $1
	`
	args := []any{orgID}

	if filter.Category != nil {
		args = append(args, string(*filter.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.StartTime != nil {
		args = append(args, *filter.StartTime)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.EndTime != nil {
		args = append(args, *filter.EndTime)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get activity events: %w", err)
	}
	defer rows.Close()

	var events []*models.ActivityEvent
	for rows.Next() {
		event, err := scanActivityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CleanupActivityEvents removes events older than the cutoff.
func (db *DB) CleanupActivityEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM activity_events WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup activity events: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanActivityEvent(row pgx.Row) (*models.ActivityEvent, error) {
	var event models.ActivityEvent
	var typeStr, categoryStr string
	var metadataBytes []byte
	err := row.Scan(
		&event.ID, &event.OrganizationID, &typeStr, &categoryStr,
		&event.Title, &event.Description, &event.UserID, &event.UserName,
		&event.ResourceType, &event.ResourceID, &event.ResourceName,
		&metadataBytes, &event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Type = models.ActivityEventType(typeStr)
	event.Category = models.ActivityEventCategory(categoryStr)
	if err := event.ParseMetadata(metadataBytes); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &event, nil
}
