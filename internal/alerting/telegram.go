package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration
	// APIBase overrides DefaultTelegramAPI.
	APIBase string
}

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg    TelegramConfig
	client *http.Client
	now    func() time.Time
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultTelegramAPI
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")

	return &TelegramAlerter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return t.send(ctx, t.formatMessage(severity, message, fields...))
}

// SendDailySummary sends the end-of-day ledger summary.
func (t *TelegramAlerter) SendDailySummary(ctx context.Context, summary DailySummary) error {
	return t.send(ctx, formatDailySummary(summary))
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBase, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(respBody, &telegramResp); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}
	return nil
}

func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	text := fmt.Sprintf("%s <b>[%s]</b>\n%s", severity.Emoji(), severity.String(), html.EscapeString(message))

	if fieldsStr := FormatFields(fields...); fieldsStr != "" {
		text += "\n\n<b>Details:</b>\n" + html.EscapeString(fieldsStr)
	}

	text += fmt.Sprintf("\n\n<i>%s</i>", t.now().UTC().Format("2006-01-02 15:04:05 MST"))
	return text
}

func formatDailySummary(s DailySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Daily Risk Summary</b>\n<b>Date:</b> %s\n\n", s.Date.Format("2006-01-02"))

	b.WriteString("<b>Loss:</b>\n")
	fmt.Fprintf(&b, "• Daily loss: %s\n", s.DailyLoss.StringFixed(2))
	if s.DailyLossLimit.IsPositive() {
		fmt.Fprintf(&b, "• Limit: %s (%s%% used)\n", s.DailyLossLimit.StringFixed(2), s.LimitUtilization.StringFixed(1))
	}

	fmt.Fprintf(&b, "\n<b>Open reservations:</b> %d\n", s.OpenReservations)

	b.WriteString("\n<b>Positions:</b>\n")
	if len(s.Positions) == 0 {
		b.WriteString("• flat\n")
	}
	for _, p := range s.Positions {
		fmt.Fprintf(&b, "• %s: %s (%d open)\n", html.EscapeString(p.Symbol), p.Position.String(), p.OpenOrders)
	}
	return strings.TrimRight(b.String(), "\n")
}
