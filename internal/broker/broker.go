// Package broker defines the exchange-facing ports consumed by the pipeline.
package broker

import (
	"context"
	"errors"

	"github.com/tathienbao/riskflow/internal/types"
)

// Common broker errors.
var (
	ErrNotConnected    = errors.New("exchange not connected")
	ErrOrderRejected   = errors.New("order rejected by exchange")
	ErrUnknownOrder    = errors.New("unknown order")
	ErrRateLimited     = errors.New("rate limited by exchange")
	ErrInvalidResponse = errors.New("invalid exchange response")
)

// Executor dispatches an order intent to the exchange.
//
// A non-nil error means the outcome is a transport failure; a result with
// Success=false means the exchange answered and refused the order.
type Executor interface {
	Execute(ctx context.Context, intent types.OrderIntent) (types.ExecutionResult, error)
}

// ExchangeQuery fetches authoritative account data. It is used only to
// rebuild risk state.
type ExchangeQuery interface {
	Balances(ctx context.Context) ([]types.Balance, error)
	Positions(ctx context.Context) ([]types.Position, error)
	OpenOrders(ctx context.Context) ([]types.OpenOrder, error)
}

// FillSource streams fill notifications for orders accepted asynchronously.
// The channel is closed when the source shuts down.
type FillSource interface {
	Fills() <-chan types.Fill
}

// Exchange is an adapter that serves every exchange-facing port.
type Exchange interface {
	Executor
	ExchangeQuery
	FillSource
	Name() string
	State() ConnectionState
	Close() error
}

// ReconnectNotifier is implemented by adapters whose stream can drop and
// recover. Handlers run after the connection is restored.
type ReconnectNotifier interface {
	OnReconnect(fn func())
}

// MarketObserver is implemented by adapters that price orders from the
// market data the pipeline sees.
type MarketObserver interface {
	ObserveMarket(event types.MarketEvent)
}

// ConnectionState represents the exchange connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateError
)

// String returns a readable form of the ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
