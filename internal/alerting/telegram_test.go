package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tathienbao/riskflow/internal/risk"
)

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}

func newTelegramServer(t *testing.T, reply string) (*httptest.Server, *[]telegramMessage) {
	t.Helper()
	var got []telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var msg telegramMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, msg)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestTelegramAlerter_Alert(t *testing.T) {
	srv, got := newTelegramServer(t, `{"ok":true}`)
	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "TOKEN", ChatID: "42", APIBase: srv.URL + "/"})
	alerter.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

	err := alerter.Alert(context.Background(), SeverityHigh, "fill <unknown>", "order_id", "o-1")
	if err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("requests = %d, want 1", len(*got))
	}
	msg := (*got)[0]
	if msg.ChatID != "42" || msg.ParseMode != "HTML" {
		t.Errorf("msg = %+v", msg)
	}
	for _, want := range []string{"[HIGH]", "fill &lt;unknown&gt;", "order_id: o-1", "2024-03-01 09:30:00 UTC"} {
		if !contains(msg.Text, want) {
			t.Errorf("text missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestTelegramAlerter_APIError(t *testing.T) {
	srv, _ := newTelegramServer(t, `{"ok":false,"description":"chat not found"}`)
	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "TOKEN", ChatID: "42", APIBase: srv.URL})

	err := alerter.Alert(context.Background(), SeverityInfo, "hello")
	if err == nil || !contains(err.Error(), "chat not found") {
		t.Fatalf("Alert() error = %v, want chat not found", err)
	}
}

func TestTelegramAlerter_SendDailySummary(t *testing.T) {
	srv, got := newTelegramServer(t, `{"ok":true}`)
	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "TOKEN", ChatID: "42", APIBase: srv.URL})

	summary := NewDailySummary(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), risk.Snapshot{DailyLoss: d("5")}, d("100"))
	if err := alerter.SendDailySummary(context.Background(), summary); err != nil {
		t.Fatalf("SendDailySummary() error = %v", err)
	}
	if len(*got) != 1 || !contains((*got)[0].Text, "Daily Risk Summary") {
		t.Fatalf("unexpected requests: %+v", *got)
	}
	if !contains((*got)[0].Text, "• flat") {
		t.Errorf("expected flat book:\n%s", (*got)[0].Text)
	}
}

func TestNewTelegramAlerter_Defaults(t *testing.T) {
	alerter := NewTelegramAlerter(TelegramConfig{})
	if alerter.cfg.APIBase != DefaultTelegramAPI {
		t.Errorf("APIBase = %q", alerter.cfg.APIBase)
	}
	if alerter.client.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", alerter.client.Timeout)
	}
}
