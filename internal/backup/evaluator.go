package backup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

// carryoverThresholdMinutes is how far in the future (local minutes) a
// scheduled time must be before it is treated as a possible leftover from
// yesterday rather than an upcoming run today.
const carryoverThresholdMinutes = 720

// LogReader provides the execution history the evaluator consults to decide
// whether an overdue time was already served. *db.DB satisfies it.
type LogReader interface {
	// ListTerminalBackupLogs returns success and error logs for a schedule
	// with startedAt in [from, until).
	ListTerminalBackupLogs(ctx context.Context, scheduleID uuid.UUID, from, until time.Time) ([]*models.BackupLog, error)
}

// EvaluatorConfig holds evaluator policy flags.
type EvaluatorConfig struct {
	// CarryoverYesterday lets a schedule fire for a time that was missed
	// late yesterday, as long as nothing ran for it in that window.
	CarryoverYesterday bool
}

// Evaluator decides which schedules are due at a given instant. It is a
// discrete-minute matcher, not a cron engine: times have minute resolution
// and overdue recovery is bounded by today (or yesterday under carryover).
type Evaluator struct {
	config EvaluatorConfig
	logger zerolog.Logger
}

// NewEvaluator creates a schedule evaluator.
func NewEvaluator(config EvaluatorConfig, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		config: config,
		logger: logger.With().Str("component", "schedule_evaluator").Logger(),
	}
}

// DueNow returns the IDs of enabled schedules that should fire at now.
// It is deterministic given its inputs and has no side effects beyond
// reading history. Each schedule appears at most once. A schedule whose
// history cannot be read is excluded from this tick rather than failing
// the whole evaluation.
func (e *Evaluator) DueNow(ctx context.Context, now time.Time, schedules []*models.BackupSchedule, history LogReader) []uuid.UUID {
	var due []uuid.UUID
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		isDue, err := e.scheduleDue(ctx, now, s, history)
		if err != nil {
			e.logger.Error().
				Err(err).
				Str("schedule_id", s.ID.String()).
				Msg("Excluding schedule from tick, history read failed")
			continue
		}
		if isDue {
			due = append(due, s.ID)
		}
	}
	return due
}

// scheduleDue evaluates a single schedule against now, projected into the
// schedule's timezone. The first matching time wins.
func (e *Evaluator) scheduleDue(ctx context.Context, now time.Time, s *models.BackupSchedule, history LogReader) (bool, error) {
	loc := s.Location()
	local := now.In(loc)

	if !s.ContainsDay(int(local.Weekday())) {
		return false, nil
	}

	nowMinute := local.Hour()*60 + local.Minute()
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	endOfDay := startOfDay.AddDate(0, 0, 1)

	// History for today is shared across the schedule's times and only
	// fetched when some time actually needs it.
	var today []*models.BackupLog
	todayLoaded := false

	for _, t := range s.Times {
		tm, err := models.MinutesOfTime(t)
		if err != nil {
			// Save-time validation rejects malformed times; skip
			// rather than poison the whole schedule.
			continue
		}

		delta := nowMinute - tm
		switch {
		case delta == 0:
			return true, nil

		case delta > 0:
			// The time already passed today. Fire unless some
			// terminal run today started at or after it.
			if !todayLoaded {
				today, err = history.ListTerminalBackupLogs(ctx, s.ID, startOfDay, endOfDay)
				if err != nil {
					return false, err
				}
				todayLoaded = true
			}
			if !ranAtOrAfter(today, loc, tm) {
				return true, nil
			}

		case e.config.CarryoverYesterday && delta < -carryoverThresholdMinutes:
			// The time is far in the future today, which means it
			// may have been missed late yesterday. Fire only if
			// nothing at all ran for this schedule yesterday.
			prev, err := history.ListTerminalBackupLogs(ctx, s.ID, startOfDay.AddDate(0, 0, -1), startOfDay)
			if err != nil {
				return false, err
			}
			if len(prev) == 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

// ranAtOrAfter reports whether any log started at or after the given
// minute-of-day in the schedule's timezone.
func ranAtOrAfter(logs []*models.BackupLog, loc *time.Location, tm int) bool {
	for _, l := range logs {
		started := l.StartedAt.In(loc)
		if started.Hour()*60+started.Minute() >= tm {
			return true
		}
	}
	return false
}
