// Package shutdown coordinates graceful shutdown of the Mongard server: stop
// admitting work, wait for in-flight backup runs, then cancel whatever is
// left inside a bounded budget.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the server is running normally.
	StateRunning State = "running"
	// StateDraining indicates the server is letting in-flight work finish
	// and not admitting new backup runs.
	StateDraining State = "draining"
	// StateCancelling indicates remaining backup runs are being cancelled.
	StateCancelling State = "cancelling"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// RunTracker exposes the executor's in-flight run accounting.
type RunTracker interface {
	// ActiveRuns returns the number of in-flight backup executions.
	ActiveRuns() int
	// CancelAll cancels every in-flight execution. Each run finalizes its
	// own log as cancelled.
	CancelAll()
}

// Status represents the current shutdown status.
type Status struct {
	State            State         `json:"state"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	TimeRemaining    time.Duration `json:"time_remaining,omitempty"`
	ActiveRuns       int           `json:"active_runs"`
	CancelledRuns    int           `json:"cancelled_runs"`
	AcceptingNewJobs bool          `json:"accepting_new_jobs"`
	Message          string        `json:"message,omitempty"`
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// Timeout is the total budget for graceful shutdown.
	Timeout time.Duration

	// DrainTimeout is how long in-flight HTTP requests get before the
	// manager starts waiting on backup runs.
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DrainTimeout: 5 * time.Second,
	}
}

// Manager coordinates graceful shutdown of the Mongard server.
type Manager struct {
	config        Config
	tracker       RunTracker
	logger        zerolog.Logger
	mu            sync.RWMutex
	state         State
	startedAt     *time.Time
	cancelled     int32
	acceptingJobs atomic.Bool
	doneCh        chan struct{}
	shutdownOnce  sync.Once
}

// NewManager creates a new shutdown manager.
func NewManager(config Config, tracker RunTracker, logger zerolog.Logger) *Manager {
	m := &Manager{
		config:  config,
		tracker: tracker,
		logger:  logger.With().Str("component", "shutdown_manager").Logger(),
		state:   StateRunning,
		doneCh:  make(chan struct{}),
	}
	m.acceptingJobs.Store(true)
	return m
}

// IsAcceptingJobs returns true if the server is admitting new backup runs.
func (m *Manager) IsAcceptingJobs() bool {
	return m.acceptingJobs.Load()
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetStatus returns the current shutdown status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		State:            m.state,
		StartedAt:        m.startedAt,
		CancelledRuns:    int(atomic.LoadInt32(&m.cancelled)),
		AcceptingNewJobs: m.acceptingJobs.Load(),
	}

	if m.tracker != nil {
		status.ActiveRuns = m.tracker.ActiveRuns()
	}

	if m.startedAt != nil {
		elapsed := time.Since(*m.startedAt)
		if remaining := m.config.Timeout - elapsed; remaining > 0 {
			status.TimeRemaining = remaining
		}
	}

	switch m.state {
	case StateRunning:
		status.Message = "Server is running normally"
	case StateDraining:
		status.Message = "Server is draining, not admitting new backup runs"
	case StateCancelling:
		status.Message = "Cancelling in-flight backup runs"
	case StateComplete:
		status.Message = "Shutdown complete"
	}

	return status
}

// Shutdown initiates graceful shutdown and blocks until complete or timeout.
// Calling it more than once is safe; later calls return immediately.
func (m *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error
	m.shutdownOnce.Do(func() {
		shutdownErr = m.doShutdown(ctx)
	})
	return shutdownErr
}

func (m *Manager) doShutdown(ctx context.Context) error {
	m.logger.Info().
		Dur("timeout", m.config.Timeout).
		Dur("drain_timeout", m.config.DrainTimeout).
		Msg("initiating graceful shutdown")

	now := time.Now()
	m.mu.Lock()
	m.startedAt = &now
	m.state = StateDraining
	m.mu.Unlock()

	m.acceptingJobs.Store(false)
	m.logger.Info().Msg("stopped admitting new backup runs")

	// Reserve a slice of the post-drain budget for the cancel phase so
	// cancelled runs get time to finalize their logs. Bounded to 1-10
	// seconds and never more than half the remaining budget.
	remainingAfterDrain := m.config.Timeout - m.config.DrainTimeout
	cancelReserve := remainingAfterDrain / 5
	if cancelReserve < time.Second {
		cancelReserve = time.Second
	}
	if cancelReserve > 10*time.Second {
		cancelReserve = 10 * time.Second
	}
	if cancelReserve > remainingAfterDrain/2 {
		cancelReserve = remainingAfterDrain / 2
	}
	waitTimeout := remainingAfterDrain - cancelReserve
	if waitTimeout < 0 {
		waitTimeout = 0
	}

	// Phase 1: let in-flight HTTP work drain.
	m.logger.Info().Dur("drain_timeout", m.config.DrainTimeout).Msg("draining connections")
	drainCtx, drainCancel := context.WithTimeout(ctx, m.config.DrainTimeout)
	<-drainCtx.Done()
	drainCancel()

	if ctx.Err() != nil {
		m.logger.Warn().Msg("shutdown cancelled during drain phase")
		return m.forceShutdown()
	}

	// Phase 2: wait for running backups to finish on their own.
	if m.tracker != nil {
		waitCtx, waitCancel := context.WithTimeout(ctx, waitTimeout)
		m.waitForRuns(waitCtx)
		waitCancel()
	}

	if ctx.Err() != nil {
		m.logger.Warn().Msg("shutdown cancelled during wait phase")
		return m.forceShutdown()
	}

	// Phase 3: cancel whatever is still running and give it the reserve
	// to finalize.
	if m.tracker != nil {
		if remaining := m.tracker.ActiveRuns(); remaining > 0 {
			m.mu.Lock()
			m.state = StateCancelling
			m.mu.Unlock()

			atomic.StoreInt32(&m.cancelled, int32(remaining))
			m.logger.Warn().Int("count", remaining).Msg("cancelling in-flight backup runs")
			m.tracker.CancelAll()

			cancelCtx, cancelCancel := context.WithTimeout(ctx, cancelReserve)
			m.waitForRuns(cancelCtx)
			cancelCancel()

			if left := m.tracker.ActiveRuns(); left > 0 {
				m.logger.Warn().Int("count", left).Msg("abandoning runs that did not finalize in time")
			}
		}
	}

	m.mu.Lock()
	m.state = StateComplete
	m.mu.Unlock()
	close(m.doneCh)

	m.logger.Info().
		Dur("duration", time.Since(now)).
		Int("cancelled", int(atomic.LoadInt32(&m.cancelled))).
		Msg("graceful shutdown complete")

	return nil
}

// waitForRuns polls the tracker until no runs remain or the context expires.
func (m *Manager) waitForRuns(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		active := m.tracker.ActiveRuns()
		if active == 0 {
			m.logger.Info().Msg("no backup runs in flight")
			return
		}

		m.logger.Info().Int("active_runs", active).Msg("waiting for backup runs to finish")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// forceShutdown cancels everything and completes without waiting.
func (m *Manager) forceShutdown() error {
	m.logger.Warn().Msg("forcing immediate shutdown")

	if m.tracker != nil {
		if remaining := m.tracker.ActiveRuns(); remaining > 0 {
			atomic.StoreInt32(&m.cancelled, int32(remaining))
		}
		m.tracker.CancelAll()
	}

	m.mu.Lock()
	m.state = StateComplete
	m.mu.Unlock()
	close(m.doneCh)

	return nil
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// WaitForShutdown blocks until shutdown is complete.
func (m *Manager) WaitForShutdown() {
	<-m.doneCh
}
