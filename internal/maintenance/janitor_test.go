package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockJanitorStore struct {
	mu sync.Mutex

	sweeps []string

	sessionsErr error

	orphanCutoff     time.Time
	hardDeleteCutoff time.Time
	activityOlder    time.Duration
}

func (m *mockJanitorStore) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps = append(m.sweeps, name)
}

func (m *mockJanitorStore) DeleteExpiredSessions(_ context.Context) (int64, error) {
	m.record("sessions")
	return 2, m.sessionsErr
}

func (m *mockJanitorStore) DeleteExpiredInvitations(_ context.Context) (int64, error) {
	m.record("invitations")
	return 1, nil
}

func (m *mockJanitorStore) DeleteExpiredEmailVerifications(_ context.Context) (int64, error) {
	m.record("verifications")
	return 0, nil
}

func (m *mockJanitorStore) MarkOrphanedBackupLogs(_ context.Context, cutoff time.Time) (int64, error) {
	m.record("orphans")
	m.mu.Lock()
	m.orphanCutoff = cutoff
	m.mu.Unlock()
	return 1, nil
}

func (m *mockJanitorStore) HardDeleteBackupLogs(_ context.Context, cutoff time.Time) (int64, error) {
	m.record("hard_delete")
	m.mu.Lock()
	m.hardDeleteCutoff = cutoff
	m.mu.Unlock()
	return 4, nil
}

func (m *mockJanitorStore) CleanupActivityEvents(_ context.Context, olderThan time.Duration) (int64, error) {
	m.record("activity")
	m.mu.Lock()
	m.activityOlder = olderThan
	m.mu.Unlock()
	return 3, nil
}

func (m *mockJanitorStore) ran(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sweeps {
		if s == name {
			return true
		}
	}
	return false
}

func TestJanitorRunNow(t *testing.T) {
	store := &mockJanitorStore{}
	janitor := NewJanitor(store, JanitorConfig{
		OrphanGrace:        2 * time.Hour,
		LogHardDeleteAfter: 90 * 24 * time.Hour,
		ActivityRetention:  30 * 24 * time.Hour,
	}, zerolog.Nop())

	janitor.RunNow()

	for _, sweep := range []string{"sessions", "invitations", "verifications", "orphans", "hard_delete", "activity"} {
		if !store.ran(sweep) {
			t.Errorf("expected sweep %q to run", sweep)
		}
	}

	wantOrphan := time.Now().Add(-2 * time.Hour)
	if diff := store.orphanCutoff.Sub(wantOrphan); diff < -time.Minute || diff > time.Minute {
		t.Errorf("unexpected orphan cutoff %v", store.orphanCutoff)
	}

	wantHard := time.Now().Add(-90 * 24 * time.Hour)
	if diff := store.hardDeleteCutoff.Sub(wantHard); diff < -time.Minute || diff > time.Minute {
		t.Errorf("unexpected hard delete cutoff %v", store.hardDeleteCutoff)
	}

	if store.activityOlder != 30*24*time.Hour {
		t.Errorf("unexpected activity retention %v", store.activityOlder)
	}
}

func TestJanitorSweepErrorDoesNotAbortPass(t *testing.T) {
	store := &mockJanitorStore{sessionsErr: errors.New("db down")}
	janitor := NewJanitor(store, JanitorConfig{}, zerolog.Nop())

	janitor.RunNow()

	for _, sweep := range []string{"invitations", "verifications", "orphans"} {
		if !store.ran(sweep) {
			t.Errorf("expected sweep %q to run after an earlier failure", sweep)
		}
	}
}

func TestJanitorDefaults(t *testing.T) {
	janitor := NewJanitor(&mockJanitorStore{}, JanitorConfig{}, zerolog.Nop())

	if janitor.config.OrphanGrace != 2*time.Hour {
		t.Errorf("unexpected orphan grace default %v", janitor.config.OrphanGrace)
	}
	if janitor.config.LogHardDeleteAfter != 90*24*time.Hour {
		t.Errorf("unexpected hard delete default %v", janitor.config.LogHardDeleteAfter)
	}
	if janitor.config.ActivityRetention != 30*24*time.Hour {
		t.Errorf("unexpected activity retention default %v", janitor.config.ActivityRetention)
	}
}

func TestJanitorStartStop(t *testing.T) {
	janitor := NewJanitor(&mockJanitorStore{}, JanitorConfig{}, zerolog.Nop())

	if err := janitor.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := janitor.Start(); err == nil {
		t.Error("expected error starting twice")
	}

	select {
	case <-janitor.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop in time")
	}

	// Stopping an already stopped janitor is a no-op.
	select {
	case <-janitor.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("second stop did not complete")
	}
}
