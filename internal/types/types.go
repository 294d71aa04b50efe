// Package types defines shared types used across the pipeline.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

// String returns a readable form of the Side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// IsValid reports whether s is buy or sell.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide parses "buy"/"sell" case-insensitively.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("%w: side %q", ErrInvalidIntent, v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: side %d", ErrInvalidIntent, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// OrderStatus is the exchange-reported state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// IsOpen returns true if the order still holds capacity on the exchange.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// MarketEvent represents a market data update.
type MarketEvent struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// OrderIntent is a strategy-proposed trade, not yet risk-checked or executed.
// It is immutable once produced.
type OrderIntent struct {
	ID         string           `json:"id"`
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      *decimal.Decimal `json:"price,omitempty"` // nil for market orders
	Confidence float64          `json:"confidence"`
	CreatedAt  time.Time        `json:"created_at"`
}

// SignedQuantity returns the position delta the intent would produce.
func (i OrderIntent) SignedQuantity() decimal.Decimal {
	return i.Quantity.Mul(i.Side.Sign())
}

// Notional returns price * quantity, or zero for market orders.
func (i OrderIntent) Notional() decimal.Decimal {
	if i.Price == nil {
		return decimal.Zero
	}
	return i.Price.Mul(i.Quantity)
}

// Validate checks the intent is well formed.
func (i OrderIntent) Validate() error {
	switch {
	case i.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidIntent)
	case i.Symbol == "":
		return fmt.Errorf("%w: missing symbol", ErrInvalidIntent)
	case !i.Side.IsValid():
		return fmt.Errorf("%w: invalid side", ErrInvalidIntent)
	case !i.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidIntent)
	case i.Price != nil && !i.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive", ErrInvalidIntent)
	}
	return nil
}

// ExecutionStatus describes how the exchange answered an order.
type ExecutionStatus string

const (
	// ExecutionFilled means the order filled completely in the response.
	ExecutionFilled ExecutionStatus = "filled"
	// ExecutionAccepted means the order was acknowledged; fills arrive later.
	ExecutionAccepted ExecutionStatus = "accepted"
	// ExecutionRejected means the order was refused.
	ExecutionRejected ExecutionStatus = "rejected"
)

// ExecutionResult is produced by the execution adapter.
type ExecutionResult struct {
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	Status         ExecutionStatus `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
}

// Fill is an execution notification from the exchange.
type Fill struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	IsFinal   bool            `json:"is_final"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignedQuantity returns the position delta of the fill.
func (f Fill) SignedQuantity() decimal.Decimal {
	return f.Quantity.Mul(f.Side.Sign())
}

// Balance is an exchange asset balance.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free + locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Position is an exchange-reported position. Quantity is signed.
type Position struct {
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// OpenOrder is an exchange-reported order that has not reached a final state.
type OpenOrder struct {
	OrderID        string           `json:"order_id"`
	Symbol         string           `json:"symbol"`
	Side           Side             `json:"side"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Status         OrderStatus      `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Remaining returns the unfilled quantity.
func (o OpenOrder) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}
