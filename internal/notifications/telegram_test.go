package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) (*TelegramService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc := NewTelegramService(&http.Client{}, zerolog.Nop())
	svc.apiBase = server.URL
	return svc, server
}

func TestTelegramService_Send(t *testing.T) {
	var gotPath string
	var received TelegramMessage

	svc, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("failed to unmarshal body: %v", err)
		}

		w.WriteHeader(http.StatusOK)
	})

	config := TelegramConfig{BotToken: "12345:abc", ChatID: "-100200300"}
	if err := svc.Send(context.Background(), config, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/bot12345:abc/sendMessage" {
		t.Errorf("expected path /bot12345:abc/sendMessage, got %s", gotPath)
	}
	if received.ChatID != "-100200300" {
		t.Errorf("expected chat_id -100200300, got %s", received.ChatID)
	}
	if received.Text != "hello" {
		t.Errorf("expected text hello, got %q", received.Text)
	}
	if !received.DisableWebPagePreview {
		t.Error("expected disable_web_page_preview to be set")
	}
}

func TestTelegramService_SendError(t *testing.T) {
	svc, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	})

	config := TelegramConfig{BotToken: "12345:abc", ChatID: "nope"}
	err := svc.Send(context.Background(), config, "hello")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected error to carry response body, got %v", err)
	}
}

func TestTelegramService_SendInvalidConfig(t *testing.T) {
	calls := 0
	svc, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	tests := []struct {
		name   string
		config TelegramConfig
	}{
		{"missing token", TelegramConfig{ChatID: "-1"}},
		{"missing chat", TelegramConfig{BotToken: "12345:abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Send(context.Background(), tt.config, "hello"); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if calls != 0 {
		t.Errorf("expected no HTTP calls for invalid config, got %d", calls)
	}
}

func TestTelegramService_SendBackupSuccess(t *testing.T) {
	var received TelegramMessage
	svc, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	})

	config := TelegramConfig{BotToken: "12345:abc", ChatID: "-1"}
	err := svc.SendBackupSuccess(context.Background(), config, BackupSuccessData{
		OrgName:        "Acme",
		ConnectionName: "prod-cluster",
		DatabaseName:   "appdb",
		ScheduleName:   "nightly",
		Duration:       "2 min 13 sec",
		SizeBytes:      14 * 1024 * 1024,
		Collections:    12,
		FileLink:       "https://files.example.com/abc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"✅ Backup successful: prod-cluster/appdb",
		"Organization: Acme",
		"Schedule: nightly",
		"Duration: 2 min 13 sec",
		"Size: 14.0 MB",
		"Collections: 12",
		"Archive: https://files.example.com/abc",
	} {
		if !strings.Contains(received.Text, want) {
			t.Errorf("message missing %q:\n%s", want, received.Text)
		}
	}
}

func TestTelegramService_SendBackupSuccessAdHoc(t *testing.T) {
	var received TelegramMessage
	svc, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	})

	config := TelegramConfig{BotToken: "12345:abc", ChatID: "-1"}
	err := svc.SendBackupSuccess(context.Background(), config, BackupSuccessData{
		OrgName:        "Acme",
		ConnectionName: "prod-cluster",
		DatabaseName:   "appdb",
		Duration:       "45 seconds",
		SizeBytes:      2048,
		Collections:    3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(received.Text, "Schedule:") {
		t.Errorf("ad-hoc message should not carry a schedule line:\n%s", received.Text)
	}
	if strings.Contains(received.Text, "Archive:") {
		t.Errorf("message without link should not carry an archive line:\n%s", received.Text)
	}
}

func TestTelegramService_SendBackupFailed(t *testing.T) {
	var received TelegramMessage
	svc, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	})

	config := TelegramConfig{BotToken: "12345:abc", ChatID: "-1"}
	err := svc.SendBackupFailed(context.Background(), config, BackupFailedData{
		OrgName:        "Acme",
		ConnectionName: "prod-cluster",
		DatabaseName:   "appdb",
		ScheduleName:   "nightly",
		StartedAt:      time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC),
		ErrorMessage:   "resolve connection: server selection timeout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"❌ Backup failed: prod-cluster/appdb",
		"Organization: Acme",
		"Schedule: nightly",
		"Error: resolve connection: server selection timeout",
	} {
		if !strings.Contains(received.Text, want) {
			t.Errorf("message missing %q:\n%s", want, received.Text)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		got := FormatBytes(tt.input)
		if got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
