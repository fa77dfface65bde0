package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/db"
	"github.com/mongardhq/mongard/internal/models"
)

// SchedulerStore is the database surface the loop needs. *db.DB satisfies
// it; the embedded LogReader feeds the evaluator's history checks.
type SchedulerStore interface {
	ListEnabledBackupSchedules(ctx context.Context) ([]*models.BackupSchedule, error)
	LogReader
}

// ScheduleExecutor runs one scheduled backup. *Executor satisfies it.
type ScheduleExecutor interface {
	ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID) (*models.BackupLog, error)
}

// SchedulerInstrumentation receives loop measurements.
type SchedulerInstrumentation interface {
	TickCompleted(duration time.Duration, due int)
}

// SchedulerConfig holds loop tunables.
type SchedulerConfig struct {
	// TickInterval is how often schedules are evaluated.
	TickInterval time.Duration

	// WorkerCount bounds concurrent executions.
	WorkerCount int
}

// DefaultSchedulerConfig returns a SchedulerConfig with production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval: 60 * time.Second,
		WorkerCount:  4,
	}
}

// Scheduler is the engine's only periodic driver: every tick it evaluates
// all enabled schedules and dispatches the due ones onto a bounded worker
// pool. Dispatch is fire-and-track; the loop never blocks on executions.
//
// The inflight map is the process-local half of the per-schedule lock. The
// durable half is the executor's conditional running insert, which keeps
// multi-node deployments correct.
type Scheduler struct {
	store     SchedulerStore
	evaluator *Evaluator
	executor  ScheduleExecutor
	config    SchedulerConfig
	logger    zerolog.Logger
	metrics   SchedulerInstrumentation

	runCtx context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	inflight map[uuid.UUID]bool
	stopCh   chan struct{}
	dispatch chan uuid.UUID
	wg       sync.WaitGroup
}

// NewScheduler creates the scheduling loop.
func NewScheduler(store SchedulerStore, evaluator *Evaluator, executor ScheduleExecutor, config SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 60 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	return &Scheduler{
		store:     store,
		evaluator: evaluator,
		executor:  executor,
		config:    config,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		inflight:  make(map[uuid.UUID]bool),
	}
}

// SetInstrumentation wires loop metrics. Optional.
func (s *Scheduler) SetInstrumentation(metrics SchedulerInstrumentation) {
	s.metrics = metrics
}

// Start launches the tick loop and the worker pool. The first evaluation
// happens immediately so overdue schedules recover without waiting a full
// tick after a restart.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.dispatch = make(chan uuid.UUID, s.config.WorkerCount*2)
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.logger.Info().
		Dur("tick_interval", s.config.TickInterval).
		Int("workers", s.config.WorkerCount).
		Msg("Starting scheduler")

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop stops dispatching, cancels in-flight executions and waits up to
// grace for them to finalize their logs.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping scheduler")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
	case <-time.After(grace):
		s.logger.Warn().Msg("Stop grace elapsed, abandoning in-flight executions")
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick evaluates every enabled schedule once and dispatches the due ones.
func (s *Scheduler) tick() {
	started := time.Now()

	ctx, cancel := context.WithTimeout(s.runCtx, s.config.TickInterval)
	defer cancel()

	schedules, err := s.store.ListEnabledBackupSchedules(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Tick could not list schedules")
		return
	}

	due := s.evaluator.DueNow(ctx, time.Now(), schedules, s.store)
	for _, id := range due {
		s.dispatchDue(id)
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(time.Since(started), len(due))
	}
	if len(due) > 0 {
		s.logger.Debug().
			Int("due", len(due)).
			Int("schedules", len(schedules)).
			Msg("Tick dispatched due schedules")
	}
}

// dispatchDue hands a due schedule to the pool unless a run is already in
// flight here. A saturated pool defers the schedule; it stays due and the
// next tick retries.
func (s *Scheduler) dispatchDue(id uuid.UUID) {
	s.mu.Lock()
	if s.inflight[id] {
		s.mu.Unlock()
		return
	}
	s.inflight[id] = true
	s.mu.Unlock()

	select {
	case s.dispatch <- id:
	default:
		s.clearInflight(id)
		s.logger.Warn().
			Str("schedule_id", id.String()).
			Msg("Worker pool saturated, deferring schedule")
	}
}

func (s *Scheduler) clearInflight(id uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Scheduler) worker(workerID int) {
	defer s.wg.Done()

	logger := s.logger.With().Int("worker_id", workerID).Logger()
	for {
		select {
		case <-s.stopCh:
			return
		case id := <-s.dispatch:
			s.run(logger, id)
		}
	}
}

func (s *Scheduler) run(logger zerolog.Logger, id uuid.UUID) {
	defer s.clearInflight(id)

	// Dispatches racing a shutdown are dropped, not executed against a
	// dead context.
	if s.runCtx.Err() != nil {
		return
	}

	log, err := s.executor.ExecuteSchedule(s.runCtx, id)
	switch {
	case errors.Is(err, db.ErrBackupAlreadyRunning):
		logger.Debug().Str("schedule_id", id.String()).Msg("Another run owns this schedule")
	case errors.Is(err, ErrScheduleDisabled):
		logger.Debug().Str("schedule_id", id.String()).Msg("Schedule disabled before dispatch")
	case err != nil:
		logger.Error().Err(err).Str("schedule_id", id.String()).Msg("Scheduled backup could not run")
	default:
		logger.Info().
			Str("schedule_id", id.String()).
			Str("log_id", log.ID.String()).
			Str("status", string(log.Status)).
			Msg("Scheduled backup finished")
	}
}

// InflightCount returns how many schedules this process is executing.
func (s *Scheduler) InflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
