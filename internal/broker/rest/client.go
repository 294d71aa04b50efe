package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/types"
	"golang.org/x/time/rate"
)

// Client implements broker.Exchange over a JSON HTTP gateway:
//
//	POST /orders       OrderIntent -> ExecutionResult
//	GET  /balances     -> []Balance
//	GET  /positions    -> []Position
//	GET  /orders/open  -> []OpenOrder
//	GET  /fills?cursor -> {fills, cursor}
type Client struct {
	cfg     Config
	base    string
	hc      *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	state atomic.Int32

	fills     chan types.Fill
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a REST exchange client and starts the fill poller when
// FillPollInterval is set.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", types.ErrInvalidConfig, cfg.BaseURL)
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultConfig().MaxRequestsPerSecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.FillBuffer <= 0 {
		cfg.FillBuffer = DefaultConfig().FillBuffer
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		hc:      &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		logger:  logger.With("exchange", "rest"),
		fills:   make(chan types.Fill, cfg.FillBuffer),
		done:    make(chan struct{}),
	}
	c.state.Store(int32(broker.StateConnected))

	if cfg.FillPollInterval > 0 {
		c.wg.Add(1)
		go c.pollFills()
	}
	return c, nil
}

// Name returns the adapter name.
func (c *Client) Name() string {
	return "rest"
}

// State returns the connection state as last observed by a request.
func (c *Client) State() broker.ConnectionState {
	return broker.ConnectionState(c.state.Load())
}

// Fills returns the polled fill stream.
func (c *Client) Fills() <-chan types.Fill {
	return c.fills
}

type errorBody struct {
	Error string `json:"error"`
}

// Execute posts the intent. A 4xx answer other than 429 is an exchange
// rejection, reported as a result rather than an error. For an accepted
// order, filled_quantity is informational: every slice must also be
// published on /fills, which is where it is applied.
func (c *Client) Execute(ctx context.Context, intent types.OrderIntent) (types.ExecutionResult, error) {
	body, err := json.Marshal(intent)
	if err != nil {
		return types.ExecutionResult{}, fmt.Errorf("encode intent: %w", err)
	}

	var result types.ExecutionResult
	status, raw, err := c.do(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return types.ExecutionResult{}, err
	}

	if status >= 400 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		if eb.Error == "" {
			eb.Error = http.StatusText(status)
		}
		return types.ExecutionResult{
			OrderID: intent.ID,
			Symbol:  intent.Symbol,
			Success: false,
			Error:   eb.Error,
			Status:  types.ExecutionRejected,
		}, nil
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return types.ExecutionResult{}, fmt.Errorf("%w: decode order response: %w", broker.ErrInvalidResponse, err)
	}
	if result.OrderID == "" {
		result.OrderID = intent.ID
	}
	if result.Symbol == "" {
		result.Symbol = intent.Symbol
	}
	if result.Status == "" {
		result.Status = types.ExecutionAccepted
		if !result.Success {
			result.Status = types.ExecutionRejected
		}
	}
	return result, nil
}

// Balances fetches asset balances.
func (c *Client) Balances(ctx context.Context) ([]types.Balance, error) {
	var out []types.Balance
	if err := c.getJSON(ctx, "/balances", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Positions fetches open positions.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	var out []types.Position
	if err := c.getJSON(ctx, "/positions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenOrders fetches orders that have not reached a final state.
func (c *Client) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	var out []types.OpenOrder
	if err := c.getJSON(ctx, "/orders/open", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: GET %s: http %d: %s", broker.ErrInvalidResponse, path, status, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", broker.ErrInvalidResponse, path, err)
	}
	return nil
}

// do sends a rate-limited request and returns the status and body. 429 and
// 5xx answers and transport failures are returned as errors.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("new request %s %s: %w", method, path, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		c.setState(broker.StateError)
		return 0, nil, fmt.Errorf("%w: %s %s: %w", broker.ErrNotConnected, method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		c.setState(broker.StateError)
		return 0, nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return res.StatusCode, raw, fmt.Errorf("%w: %s %s", broker.ErrRateLimited, method, path)
	case res.StatusCode >= 500:
		c.setState(broker.StateError)
		return res.StatusCode, raw, fmt.Errorf("%w: %s %s: http %d", broker.ErrInvalidResponse, method, path, res.StatusCode)
	}

	c.setState(broker.StateConnected)
	return res.StatusCode, raw, nil
}

func (c *Client) setState(s broker.ConnectionState) {
	prev := broker.ConnectionState(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Info("exchange connection state changed", "from", prev.String(), "to", s.String())
	}
}

type fillsPage struct {
	Fills  []types.Fill `json:"fills"`
	Cursor string       `json:"cursor"`
}

// pollFills pages through GET /fills until Close.
func (c *Client) pollFills() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FillPollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	cursor := ""
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		path := "/fills"
		if cursor != "" {
			path += "?cursor=" + url.QueryEscape(cursor)
		}

		var page fillsPage
		if err := c.getJSON(ctx, path, &page); err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Warn("fill poll failed", "err", err)
			}
			continue
		}
		if page.Cursor != "" {
			cursor = page.Cursor
		}

		for _, f := range page.Fills {
			select {
			case c.fills <- f:
			case <-c.done:
				return
			}
		}
	}
}

// Close stops the fill poller and closes the fill stream.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		close(c.fills)
		c.state.Store(int32(broker.StateDisconnected))
	})
	return nil
}

// Ensure Client implements broker.Exchange
var _ broker.Exchange = (*Client)(nil)
