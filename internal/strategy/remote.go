package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
	"golang.org/x/time/rate"
)

// RemoteConfig holds configuration for an HTTP strategy service.
type RemoteConfig struct {
	URL                  string
	APIKey               string
	Timeout              time.Duration
	MaxRequestsPerSecond int
}

// DefaultRemoteConfig returns default remote strategy settings.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		URL:                  "http://127.0.0.1:8788/evaluate",
		Timeout:              2 * time.Second,
		MaxRequestsPerSecond: 50,
	}
}

type eventPayload struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

type evaluateResponse struct {
	Intent *types.OrderIntent `json:"intent"`
}

// Remote delegates evaluation to a strategy service:
//
//	POST <url> {event} -> {"intent": OrderIntent|null}
//
// A 204 answer means no trade.
type Remote struct {
	cfg     RemoteConfig
	hc      *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRemote creates a remote strategy client.
func NewRemote(cfg RemoteConfig, logger *slog.Logger) (*Remote, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if _, err := url.ParseRequestURI(cfg.URL); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("%w: invalid strategy url %q", types.ErrInvalidConfig, cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteConfig().Timeout
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultRemoteConfig().MaxRequestsPerSecond
	}

	return &Remote{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		logger:  logger.With("strategy", "remote"),
	}, nil
}

// Evaluate posts the event to the strategy service. Transport and protocol
// failures are wrapped with types.ErrPortUnavailable.
func (r *Remote) Evaluate(ctx context.Context, event types.MarketEvent) (*types.OrderIntent, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(eventPayload{
		Symbol:    event.Symbol,
		Timestamp: event.Timestamp,
		Open:      event.Open,
		High:      event.High,
		Low:       event.Low,
		Close:     event.Close,
		Volume:    event.Volume,
	})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", r.cfg.APIKey)
	}

	res, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: strategy service: %w", types.ErrPortUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read strategy response: %w", types.ErrPortUnavailable, err)
	}

	switch {
	case res.StatusCode == http.StatusNoContent:
		return nil, nil
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: strategy service", types.ErrRateLimitExceeded)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: strategy service http %d", types.ErrPortUnavailable, res.StatusCode)
	}

	var out evaluateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode strategy response: %w", types.ErrPortUnavailable, err)
	}
	if out.Intent == nil {
		return nil, nil
	}

	intent := *out.Intent
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.StrategyID == "" {
		intent.StrategyID = r.Name()
	}
	if intent.Symbol == "" {
		intent.Symbol = event.Symbol
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = event.Timestamp
	}
	if err := intent.Validate(); err != nil {
		r.logger.Warn("strategy service returned invalid intent", "symbol", event.Symbol, "err", err)
		return nil, err
	}
	return &intent, nil
}

// Name returns the strategy identifier.
func (r *Remote) Name() string {
	return "remote"
}
