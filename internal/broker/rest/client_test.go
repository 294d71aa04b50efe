package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/types"
)

func newTestClient(t *testing.T, h http.Handler, mutate func(*Config)) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "secret"
	cfg.FillPollInterval = 0
	cfg.MaxRequestsPerSecond = 1000
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testIntent() types.OrderIntent {
	return types.OrderIntent{
		ID:       "o1",
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Quantity: decimal.RequireFromString("0.6"),
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: ""}, nil)
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = NewClient(Config{BaseURL: "not a url"}, nil)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestClient_ExecuteFilled(t *testing.T) {
	var gotKey string
	var gotIntent types.OrderIntent

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotIntent)

		_ = json.NewEncoder(w).Encode(types.ExecutionResult{
			OrderID:        "o1",
			Success:        true,
			Status:         types.ExecutionFilled,
			FilledQuantity: decimal.RequireFromString("0.6"),
			AvgPrice:       decimal.RequireFromString("43000.5"),
		})
	}), nil)

	res, err := c.Execute(context.Background(), testIntent())
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, types.SideBuy, gotIntent.Side)
	assert.True(t, gotIntent.Quantity.Equal(decimal.RequireFromString("0.6")))

	assert.True(t, res.Success)
	assert.Equal(t, types.ExecutionFilled, res.Status)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.True(t, res.AvgPrice.Equal(decimal.RequireFromString("43000.5")))
}

func TestClient_ExecuteRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient balance"}`))
	}), nil)

	res, err := c.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, types.ExecutionRejected, res.Status)
	assert.Equal(t, "insufficient balance", res.Error)
	assert.Equal(t, "o1", res.OrderID)
}

func TestClient_ExecuteTransportErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, broker.ErrRateLimited},
		{"server error", http.StatusBadGateway, broker.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}), nil)

			_, err := c.Execute(context.Background(), testIntent())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ExecuteBadJSON(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}), nil)

	_, err := c.Execute(context.Background(), testIntent())
	require.ErrorIs(t, err, broker.ErrInvalidResponse)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, FillPollInterval: 0}, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Balances(context.Background())
	require.ErrorIs(t, err, broker.ErrNotConnected)
	assert.Equal(t, broker.StateError, c.State())
}

func TestClient_AccountQueries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/balances", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"asset":"usdt","free":"1000","locked":"50"}]`))
	})
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","quantity":"-0.25","entry_price":"41000"}]`))
	})
	mux.HandleFunc("/orders/open", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"order_id":"x1","symbol":"ETHUSDT","side":"SELL","quantity":"2","filled_quantity":"0.5","status":"PARTIALLY_FILLED"}]`))
	})
	c := newTestClient(t, mux, nil)
	ctx := context.Background()

	balances, err := c.Balances(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Total().Equal(decimal.NewFromInt(1050)))

	positions, err := c.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.RequireFromString("-0.25")))

	orders, err := c.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, types.SideSell, orders[0].Side)
	assert.Equal(t, types.OrderStatusPartiallyFilled, orders[0].Status)
	assert.True(t, orders[0].Remaining().Equal(decimal.RequireFromString("1.5")))
}

func TestClient_QueryHTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), nil)

	_, err := c.Positions(context.Background())
	require.ErrorIs(t, err, broker.ErrInvalidResponse)
}

func TestClient_PollsFillsWithCursor(t *testing.T) {
	var calls atomic.Int32
	var sawCursor atomic.Bool

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fills" {
			http.NotFound(w, r)
			return
		}
		n := calls.Add(1)
		if r.URL.Query().Get("cursor") == "c1" {
			sawCursor.Store(true)
		}
		if n == 1 {
			_, _ = w.Write([]byte(`{"fills":[{"order_id":"o1","symbol":"BTCUSDT","side":"BUY","quantity":"0.6","price":"100","is_final":true}],"cursor":"c1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"fills":[],"cursor":""}`))
	}), func(cfg *Config) {
		cfg.FillPollInterval = 5 * time.Millisecond
	})

	select {
	case f := <-c.Fills():
		assert.Equal(t, "o1", f.OrderID)
		assert.True(t, f.IsFinal)
		assert.True(t, f.SignedQuantity().Equal(decimal.RequireFromString("0.6")))
	case <-time.After(2 * time.Second):
		t.Fatal("no fill received")
	}

	assert.Eventually(t, sawCursor.Load, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	_, ok := <-c.Fills()
	assert.False(t, ok, "fills channel should be closed")
}

func TestClient_RateLimiterHonorsContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}), func(cfg *Config) {
		cfg.MaxRequestsPerSecond = 1
	})

	_, err := c.Balances(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Balances(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, broker.ErrInvalidResponse))
}
