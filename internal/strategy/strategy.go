// Package strategy implements the strategy port: market events in, order
// intents out.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
)

// Strategy turns market events into order intents.
// Strategies do NOT handle risk limits or execution.
type Strategy interface {
	// Evaluate processes a market event. It returns a nil intent when the
	// event produces no trade.
	Evaluate(ctx context.Context, event types.MarketEvent) (*types.OrderIntent, error)

	// Name returns the strategy identifier.
	Name() string
}

// IntentBuilder helps construct intents with consistent defaults.
type IntentBuilder struct {
	intent types.OrderIntent
}

// NewIntentBuilder creates a builder with a fresh intent id.
func NewIntentBuilder(strategyName string, event types.MarketEvent) *IntentBuilder {
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &IntentBuilder{
		intent: types.OrderIntent{
			ID:         uuid.New().String(),
			StrategyID: strategyName,
			Symbol:     event.Symbol,
			CreatedAt:  createdAt,
		},
	}
}

// Buy sets the intent side to buy.
func (b *IntentBuilder) Buy() *IntentBuilder {
	b.intent.Side = types.SideBuy
	return b
}

// Sell sets the intent side to sell.
func (b *IntentBuilder) Sell() *IntentBuilder {
	b.intent.Side = types.SideSell
	return b
}

// WithQuantity sets the order quantity.
func (b *IntentBuilder) WithQuantity(qty decimal.Decimal) *IntentBuilder {
	b.intent.Quantity = qty
	return b
}

// WithLimitPrice makes the intent a limit order.
func (b *IntentBuilder) WithLimitPrice(price decimal.Decimal) *IntentBuilder {
	p := price
	b.intent.Price = &p
	return b
}

// WithConfidence sets the signal confidence, clamped to [0, 1].
func (b *IntentBuilder) WithConfidence(c float64) *IntentBuilder {
	switch {
	case c < 0:
		c = 0
	case c > 1:
		c = 1
	}
	b.intent.Confidence = c
	return b
}

// Build validates and returns the constructed intent.
func (b *IntentBuilder) Build() (types.OrderIntent, error) {
	if err := b.intent.Validate(); err != nil {
		return types.OrderIntent{}, fmt.Errorf("build intent: %w", err)
	}
	return b.intent, nil
}

// MultiStrategy asks sub-strategies in order and returns the first intent.
type MultiStrategy struct {
	strategies []Strategy
	name       string
}

// NewMultiStrategy creates a strategy that runs multiple sub-strategies.
func NewMultiStrategy(name string, strategies ...Strategy) *MultiStrategy {
	return &MultiStrategy{
		strategies: strategies,
		name:       name,
	}
}

// Evaluate returns the first intent produced. An error from one
// sub-strategy stops the evaluation.
func (m *MultiStrategy) Evaluate(ctx context.Context, event types.MarketEvent) (*types.OrderIntent, error) {
	for _, s := range m.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		intent, err := s.Evaluate(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		if intent != nil {
			return intent, nil
		}
	}
	return nil, nil
}

// Name returns the multi-strategy name.
func (m *MultiStrategy) Name() string {
	return m.name
}
