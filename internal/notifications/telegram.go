package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// telegramAPIBase is the Telegram Bot API endpoint. Overridable in tests.
const telegramAPIBase = "https://api.telegram.org"

// TelegramConfig holds an organization's Telegram settings.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// ValidateTelegramConfig validates the Telegram configuration.
func ValidateTelegramConfig(config *TelegramConfig) error {
	if config.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if config.ChatID == "" {
		return fmt.Errorf("telegram chat ID is required")
	}
	return nil
}

// TelegramService sends notifications via the Telegram Bot API. Bot tokens
// are per organization, so one service serves every tenant and the token is
// passed with each send. The token only ever appears in the request URL and
// must never be logged.
type TelegramService struct {
	client  *http.Client
	apiBase string
	logger  zerolog.Logger
}

// NewTelegramService creates a new Telegram notification service.
func NewTelegramService(client *http.Client, logger zerolog.Logger) *TelegramService {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &TelegramService{
		client:  client,
		apiBase: telegramAPIBase,
		logger:  logger.With().Str("component", "telegram_service").Logger(),
	}
}

// TelegramMessage represents a sendMessage payload.
type TelegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// Send sends a text message to the configured chat.
func (s *TelegramService) Send(ctx context.Context, config TelegramConfig, text string) error {
	if err := ValidateTelegramConfig(&config); err != nil {
		return err
	}

	payload, err := json.Marshal(&TelegramMessage{
		ChatID:                config.ChatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// BackupSuccessData holds data for a backup success notification.
type BackupSuccessData struct {
	OrgName        string
	ConnectionName string
	DatabaseName   string
	ScheduleName   string // empty for ad-hoc runs
	Duration       string
	SizeBytes      int64
	Collections    int
	FileLink       string
}

// BackupFailedData holds data for a backup failed notification.
type BackupFailedData struct {
	OrgName        string
	ConnectionName string
	DatabaseName   string
	ScheduleName   string // empty for ad-hoc runs
	StartedAt      time.Time
	ErrorMessage   string
}

// SendBackupSuccess sends a backup success notification.
func (s *TelegramService) SendBackupSuccess(ctx context.Context, config TelegramConfig, data BackupSuccessData) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "✅ Backup successful: %s/%s\n", data.ConnectionName, data.DatabaseName)
	fmt.Fprintf(&b, "Organization: %s\n", data.OrgName)
	if data.ScheduleName != "" {
		fmt.Fprintf(&b, "Schedule: %s\n", data.ScheduleName)
	}
	fmt.Fprintf(&b, "Duration: %s\n", data.Duration)
	fmt.Fprintf(&b, "Size: %s\n", FormatBytes(data.SizeBytes))
	fmt.Fprintf(&b, "Collections: %d", data.Collections)
	if data.FileLink != "" {
		fmt.Fprintf(&b, "\nArchive: %s", data.FileLink)
	}

	s.logger.Debug().
		Str("connection", data.ConnectionName).
		Str("database", data.DatabaseName).
		Msg("sending backup success notification to Telegram")

	return s.Send(ctx, config, b.String())
}

// SendBackupFailed sends a backup failed notification.
func (s *TelegramService) SendBackupFailed(ctx context.Context, config TelegramConfig, data BackupFailedData) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "❌ Backup failed: %s/%s\n", data.ConnectionName, data.DatabaseName)
	fmt.Fprintf(&b, "Organization: %s\n", data.OrgName)
	if data.ScheduleName != "" {
		fmt.Fprintf(&b, "Schedule: %s\n", data.ScheduleName)
	}
	fmt.Fprintf(&b, "Started: %s\n", data.StartedAt.Format(time.RFC822))
	fmt.Fprintf(&b, "Error: %s", data.ErrorMessage)

	s.logger.Debug().
		Str("connection", data.ConnectionName).
		Str("database", data.DatabaseName).
		Str("error", data.ErrorMessage).
		Msg("sending backup failed notification to Telegram")

	return s.Send(ctx, config, b.String())
}

// FormatBytes formats a byte count into a human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
