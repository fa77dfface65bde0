package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

type mockNotificationStore struct {
	orgs map[uuid.UUID]*models.Organization
	err  error
}

func (m *mockNotificationStore) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	if m.err != nil {
		return nil, m.err
	}
	org, ok := m.orgs[id]
	if !ok {
		return nil, errors.New("organization not found")
	}
	return org, nil
}

type serviceFixture struct {
	service  *Service
	store    *mockNotificationStore
	org      *models.Organization
	calls    *atomic.Int64
	received *TelegramMessage
}

func newServiceFixture(t *testing.T, status int) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		calls:    &atomic.Int64{},
		received: &TelegramMessage{},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, f.received)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	telegram := NewTelegramService(&http.Client{}, zerolog.Nop())
	telegram.apiBase = server.URL

	f.org = models.NewOrganization("Acme", uuid.New())
	f.org.TelegramBotToken = "12345:abc"
	f.org.TelegramChatID = "-100200300"

	f.store = &mockNotificationStore{orgs: map[uuid.UUID]*models.Organization{f.org.ID: f.org}}
	f.service = NewService(f.store, telegram, zerolog.Nop())
	return f
}

func finishedLog(orgID uuid.UUID, scheduleID *uuid.UUID) *models.BackupLog {
	log := models.NewBackupLog(orgID, scheduleID, uuid.New(), uuid.New(), "prod-cluster", "appdb")
	return log
}

func TestService_BackupFinished_Success(t *testing.T) {
	f := newServiceFixture(t, http.StatusOK)

	schedule := models.NewBackupSchedule(f.org.ID, uuid.New(), "nightly", "appdb", []int{1}, []string{"02:30"}, uuid.New())
	log := finishedLog(f.org.ID, &schedule.ID)
	log.Complete([]string{"accounts", "users"}, 2048, "backup/prod-cluster/appdb/x.zip", "https://files.example.com/abc")

	f.service.BackupFinished(context.Background(), log, schedule)

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected 1 telegram call, got %d", got)
	}
	if f.received.ChatID != "-100200300" {
		t.Errorf("expected chat_id -100200300, got %s", f.received.ChatID)
	}
	for _, want := range []string{
		"✅ Backup successful: prod-cluster/appdb",
		"Organization: Acme",
		"Schedule: nightly",
		"Collections: 2",
		"Archive: https://files.example.com/abc",
	} {
		if !strings.Contains(f.received.Text, want) {
			t.Errorf("message missing %q:\n%s", want, f.received.Text)
		}
	}
}

func TestService_BackupFinished_Failure(t *testing.T) {
	f := newServiceFixture(t, http.StatusOK)

	log := finishedLog(f.org.ID, nil)
	log.Fail("no collections archived successfully")

	f.service.BackupFinished(context.Background(), log, nil)

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected 1 telegram call, got %d", got)
	}
	for _, want := range []string{
		"❌ Backup failed: prod-cluster/appdb",
		"Error: no collections archived successfully",
	} {
		if !strings.Contains(f.received.Text, want) {
			t.Errorf("message missing %q:\n%s", want, f.received.Text)
		}
	}
	if strings.Contains(f.received.Text, "Schedule:") {
		t.Errorf("ad-hoc failure should not carry a schedule line:\n%s", f.received.Text)
	}
}

func TestService_BackupFinished_NoChannelConfigured(t *testing.T) {
	f := newServiceFixture(t, http.StatusOK)
	f.org.TelegramBotToken = ""

	log := finishedLog(f.org.ID, nil)
	log.Complete(nil, 0, "", "")

	f.service.BackupFinished(context.Background(), log, nil)

	if got := f.calls.Load(); got != 0 {
		t.Errorf("expected no telegram calls without channel settings, got %d", got)
	}
}

func TestService_BackupFinished_OrgLookupError(t *testing.T) {
	f := newServiceFixture(t, http.StatusOK)
	f.store.err = errors.New("connection refused")

	log := finishedLog(f.org.ID, nil)
	log.Fail("boom")

	f.service.BackupFinished(context.Background(), log, nil)

	if got := f.calls.Load(); got != 0 {
		t.Errorf("expected no telegram calls when org lookup fails, got %d", got)
	}
}

func TestService_BackupFinished_RunningLogIgnored(t *testing.T) {
	f := newServiceFixture(t, http.StatusOK)

	log := finishedLog(f.org.ID, nil)

	f.service.BackupFinished(context.Background(), log, nil)

	if got := f.calls.Load(); got != 0 {
		t.Errorf("expected no telegram calls for a running log, got %d", got)
	}
}

type countingNotifyMetrics struct {
	failures int
}

func (c *countingNotifyMetrics) NotificationFailed() { c.failures++ }

func TestService_BackupFinished_SendErrorSwallowed(t *testing.T) {
	f := newServiceFixture(t, http.StatusBadGateway)
	metrics := &countingNotifyMetrics{}
	f.service.SetInstrumentation(metrics)

	log := finishedLog(f.org.ID, nil)
	log.Fail("boom")

	// Must not panic or propagate.
	f.service.BackupFinished(context.Background(), log, nil)

	if got := f.calls.Load(); got != 1 {
		t.Errorf("expected the send to have been attempted, got %d calls", got)
	}
	if metrics.failures != 1 {
		t.Errorf("expected 1 failure counted, got %d", metrics.failures)
	}
}

func TestService_BackupFinished_SuccessNotCounted(t *testing.T) {
	f := newServiceFixture(t, http.StatusOK)
	metrics := &countingNotifyMetrics{}
	f.service.SetInstrumentation(metrics)

	log := finishedLog(f.org.ID, nil)
	log.Complete(nil, 0, "", "")

	f.service.BackupFinished(context.Background(), log, nil)

	if metrics.failures != 0 {
		t.Errorf("expected no failures counted, got %d", metrics.failures)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{45 * time.Second, "45 seconds"},
		{2*time.Minute + 13*time.Second, "2 min 13 sec"},
		{5 * time.Minute, "5 minutes"},
		{time.Hour + 30*time.Minute, "1 hr 30 min"},
		{2 * time.Hour, "2 hours"},
	}
	for _, tt := range tests {
		got := formatDuration(tt.input)
		if got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
