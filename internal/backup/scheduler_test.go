package backup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/db"
	"github.com/mongardhq/mongard/internal/models"
)

type mockSchedulerStore struct {
	mu        sync.Mutex
	schedules []*models.BackupSchedule
	history   *mockLogReader
}

func newMockSchedulerStore(schedules ...*models.BackupSchedule) *mockSchedulerStore {
	return &mockSchedulerStore{schedules: schedules, history: newMockLogReader()}
}

func (m *mockSchedulerStore) ListEnabledBackupSchedules(_ context.Context) ([]*models.BackupSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var enabled []*models.BackupSchedule
	for _, s := range m.schedules {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	return enabled, nil
}

func (m *mockSchedulerStore) ListTerminalBackupLogs(ctx context.Context, scheduleID uuid.UUID, from, until time.Time) ([]*models.BackupLog, error) {
	return m.history.ListTerminalBackupLogs(ctx, scheduleID, from, until)
}

type mockScheduleExecutor struct {
	mu       sync.Mutex
	calls    map[uuid.UUID]int
	executed chan uuid.UUID

	block     chan struct{} // when set, executions wait here
	err       error
	sawCancel bool
}

func newMockScheduleExecutor() *mockScheduleExecutor {
	return &mockScheduleExecutor{
		calls:    make(map[uuid.UUID]int),
		executed: make(chan uuid.UUID, 16),
	}
}

func (m *mockScheduleExecutor) ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID) (*models.BackupLog, error) {
	m.mu.Lock()
	m.calls[scheduleID]++
	block := m.block
	err := m.err
	m.mu.Unlock()

	m.executed <- scheduleID

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			m.mu.Lock()
			m.sawCancel = true
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	log := models.NewBackupLog(uuid.New(), &scheduleID, uuid.New(), uuid.New(), "conn", "db")
	log.Complete([]string{"users"}, 1, "file", "link")
	return log, nil
}

func (m *mockScheduleExecutor) callCount(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// alwaysDueSchedule is overdue from 00:00 on every weekday, so any tick
// with empty history dispatches it.
func alwaysDueSchedule() *models.BackupSchedule {
	return testSchedule([]int{0, 1, 2, 3, 4, 5, 6}, []string{"00:00"}, "")
}

func newTestScheduler(store *mockSchedulerStore, exec *mockScheduleExecutor) *Scheduler {
	return NewScheduler(
		store,
		NewEvaluator(EvaluatorConfig{}, zerolog.Nop()),
		exec,
		SchedulerConfig{TickInterval: 50 * time.Millisecond, WorkerCount: 2},
		zerolog.Nop(),
	)
}

func waitExecuted(t *testing.T, exec *mockScheduleExecutor, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-exec.executed:
		if got != want {
			t.Fatalf("executed %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	if cfg.TickInterval != 60*time.Second {
		t.Errorf("unexpected tick interval %v", cfg.TickInterval)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("unexpected worker count %d", cfg.WorkerCount)
	}
}

func TestScheduler_DispatchesDueSchedule(t *testing.T) {
	s := alwaysDueSchedule()
	exec := newMockScheduleExecutor()
	sched := newTestScheduler(newMockSchedulerStore(s), exec)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(time.Second)

	waitExecuted(t, exec, s.ID)
}

func TestScheduler_StartTwice(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), newMockScheduleExecutor())
	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(time.Second)

	if err := sched.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), newMockScheduleExecutor())
	sched.Stop(time.Second) // must not panic or hang
}

func TestScheduler_InflightSuppressesRedispatch(t *testing.T) {
	s := alwaysDueSchedule()
	exec := newMockScheduleExecutor()
	exec.block = make(chan struct{})
	sched := newTestScheduler(newMockSchedulerStore(s), exec)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(time.Second)

	waitExecuted(t, exec, s.ID)

	// Several ticks pass while the run is still in flight.
	time.Sleep(200 * time.Millisecond)
	if n := exec.callCount(s.ID); n != 1 {
		t.Fatalf("expected a single dispatch while in flight, got %d", n)
	}

	close(exec.block)
}

func TestScheduler_RedispatchesAfterRunFinishes(t *testing.T) {
	s := alwaysDueSchedule()
	exec := newMockScheduleExecutor()
	sched := newTestScheduler(newMockSchedulerStore(s), exec)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(time.Second)

	// With empty history every tick finds the schedule due again once the
	// previous run cleared the inflight mark.
	waitExecuted(t, exec, s.ID)
	waitExecuted(t, exec, s.ID)
}

func TestScheduler_StopCancelsInFlight(t *testing.T) {
	s := alwaysDueSchedule()
	exec := newMockScheduleExecutor()
	exec.block = make(chan struct{}) // never closed; only cancellation releases
	sched := newTestScheduler(newMockSchedulerStore(s), exec)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExecuted(t, exec, s.ID)

	done := make(chan struct{})
	go func() {
		sched.Stop(2 * time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	exec.mu.Lock()
	sawCancel := exec.sawCancel
	exec.mu.Unlock()
	if !sawCancel {
		t.Error("expected in-flight execution to observe cancellation")
	}
}

func TestScheduler_LockLossClearsInflight(t *testing.T) {
	s := alwaysDueSchedule()
	exec := newMockScheduleExecutor()
	exec.err = db.ErrBackupAlreadyRunning
	sched := newTestScheduler(newMockSchedulerStore(s), exec)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(time.Second)

	waitExecuted(t, exec, s.ID)

	// The schedule must be redispatchable after losing the durable lock.
	waitExecuted(t, exec, s.ID)
}
