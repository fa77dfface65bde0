// Package notifications delivers backup outcome messages to organization
// channels. Delivery is strictly best effort: every failure is logged and
// swallowed so a broken channel can never fail a backup.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

// NotificationStore defines the interface for notification data access.
type NotificationStore interface {
	GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// Instrumentation counts failed delivery attempts.
type Instrumentation interface {
	NotificationFailed()
}

// Service resolves an organization's channel settings and fans a backup
// outcome out to them. It implements the executor's notifier hook.
type Service struct {
	store    NotificationStore
	telegram *TelegramService
	metrics  Instrumentation
	logger   zerolog.Logger
}

// NewService creates a new notification service.
func NewService(store NotificationStore, telegram *TelegramService, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		telegram: telegram,
		logger:   logger.With().Str("component", "notification_service").Logger(),
	}
}

// SetInstrumentation wires delivery failure metrics. Optional.
func (s *Service) SetInstrumentation(metrics Instrumentation) {
	s.metrics = metrics
}

// BackupFinished sends notifications for a finished backup. schedule is nil
// for ad-hoc runs. Errors are logged, never returned: notification delivery
// must not affect the recorded outcome of a backup.
func (s *Service) BackupFinished(ctx context.Context, log *models.BackupLog, schedule *models.BackupSchedule) {
	org, err := s.store.GetOrganizationByID(ctx, log.OrganizationID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("org_id", log.OrganizationID.String()).
			Str("backup_log_id", log.ID.String()).
			Msg("failed to load organization for notification")
		return
	}

	if !org.HasTelegram() {
		s.logger.Debug().
			Str("org_id", org.ID.String()).
			Msg("no notification channel configured for organization")
		return
	}

	config := TelegramConfig{BotToken: org.TelegramBotToken, ChatID: org.TelegramChatID}
	scheduleName := ""
	if schedule != nil {
		scheduleName = schedule.Name
	}

	switch log.Status {
	case models.BackupLogSuccess:
		err = s.telegram.SendBackupSuccess(ctx, config, BackupSuccessData{
			OrgName:        org.Name,
			ConnectionName: log.ConnectionName,
			DatabaseName:   log.DatabaseName,
			ScheduleName:   scheduleName,
			Duration:       durationOf(log),
			SizeBytes:      sizeOf(log),
			Collections:    len(log.CollectionsBackedUp),
			FileLink:       linkOf(log),
		})
	case models.BackupLogError:
		err = s.telegram.SendBackupFailed(ctx, config, BackupFailedData{
			OrgName:        org.Name,
			ConnectionName: log.ConnectionName,
			DatabaseName:   log.DatabaseName,
			ScheduleName:   scheduleName,
			StartedAt:      log.StartedAt,
			ErrorMessage:   log.ErrorMessage,
		})
	default:
		return
	}

	if err != nil {
		s.logger.Error().Err(err).
			Str("org_id", org.ID.String()).
			Str("backup_log_id", log.ID.String()).
			Str("status", string(log.Status)).
			Msg("failed to send backup notification")
		if s.metrics != nil {
			s.metrics.NotificationFailed()
		}
		return
	}

	s.logger.Info().
		Str("org_id", org.ID.String()).
		Str("backup_log_id", log.ID.String()).
		Str("status", string(log.Status)).
		Msg("backup notification sent")
}

func durationOf(log *models.BackupLog) string {
	if log.DurationMs == nil {
		return "unknown"
	}
	return formatDuration(time.Duration(*log.DurationMs) * time.Millisecond)
}

func sizeOf(log *models.BackupLog) int64 {
	if log.FileSizeBytes == nil {
		return 0
	}
	return *log.FileSizeBytes
}

func linkOf(log *models.BackupLog) string {
	if log.FileLink == nil {
		return ""
	}
	return *log.FileLink
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		if seconds > 0 {
			return fmt.Sprintf("%d min %d sec", minutes, seconds)
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes > 0 {
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	return fmt.Sprintf("%d hours", hours)
}
