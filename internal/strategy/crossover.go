package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
	"github.com/tathienbao/riskflow/pkg/indicator"
)

// CrossoverConfig holds configuration for the moving-average crossover.
type CrossoverConfig struct {
	FastPeriod int
	SlowPeriod int
	Quantity   decimal.Decimal
	// UseLimitPrice sends the bar close as a limit price instead of a
	// market order.
	UseLimitPrice bool
}

// DefaultCrossoverConfig returns sensible defaults.
func DefaultCrossoverConfig() CrossoverConfig {
	return CrossoverConfig{
		FastPeriod:    5,
		SlowPeriod:    20,
		Quantity:      decimal.RequireFromString("0.01"),
		UseLimitPrice: true,
	}
}

// Validate checks the configuration.
func (c CrossoverConfig) Validate() error {
	switch {
	case c.FastPeriod < 1 || c.SlowPeriod < 1:
		return fmt.Errorf("%w: crossover periods must be positive", types.ErrInvalidConfig)
	case c.FastPeriod >= c.SlowPeriod:
		return fmt.Errorf("%w: fast period %d must be below slow period %d", types.ErrInvalidConfig, c.FastPeriod, c.SlowPeriod)
	case !c.Quantity.IsPositive():
		return fmt.Errorf("%w: crossover quantity must be positive", types.ErrInvalidConfig)
	}
	return nil
}

type crossState struct {
	fast *indicator.SMA
	slow *indicator.SMA
	sign int // sign of fast - slow at the last ready bar
}

// Crossover buys when the fast SMA of closes crosses above the slow SMA and
// sells when it crosses below. State is kept per symbol.
type Crossover struct {
	cfg CrossoverConfig

	mu      sync.Mutex
	symbols map[string]*crossState
}

// NewCrossover creates a crossover strategy.
func NewCrossover(cfg CrossoverConfig) (*Crossover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Crossover{
		cfg:     cfg,
		symbols: make(map[string]*crossState),
	}, nil
}

// Evaluate updates the averages for the event's symbol and emits an intent
// on a cross.
func (c *Crossover) Evaluate(_ context.Context, event types.MarketEvent) (*types.OrderIntent, error) {
	if !event.Close.IsPositive() {
		return nil, fmt.Errorf("%w: %s close %s", types.ErrInvalidData, event.Symbol, event.Close)
	}

	c.mu.Lock()
	st, ok := c.symbols[event.Symbol]
	if !ok {
		st = &crossState{
			fast: indicator.NewSMA(c.cfg.FastPeriod),
			slow: indicator.NewSMA(c.cfg.SlowPeriod),
		}
		c.symbols[event.Symbol] = st
	}

	fast := st.fast.Update(event.Close)
	slow := st.slow.Update(event.Close)
	if !st.slow.Ready() {
		c.mu.Unlock()
		return nil, nil
	}

	sign := fast.Cmp(slow)
	prev := st.sign
	if sign != 0 {
		st.sign = sign
	}
	c.mu.Unlock()

	if prev == 0 || sign == 0 || sign == prev {
		return nil, nil
	}

	b := NewIntentBuilder(c.Name(), event).WithQuantity(c.cfg.Quantity)
	if sign > 0 {
		b.Buy()
	} else {
		b.Sell()
	}
	if c.cfg.UseLimitPrice {
		b.WithLimitPrice(event.Close)
	}
	b.WithConfidence(confidence(fast, slow))

	intent, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// confidence grows with the relative gap between the averages, saturating
// at a 1% spread.
func confidence(fast, slow decimal.Decimal) float64 {
	if slow.IsZero() {
		return 0
	}
	gap := fast.Sub(slow).Abs().Div(slow).Mul(decimal.NewFromInt(100))
	f, _ := gap.Float64()
	if f > 1 {
		return 1
	}
	return f
}

// Name returns the strategy identifier.
func (c *Crossover) Name() string {
	return "crossover"
}

// Reset clears all per-symbol state.
func (c *Crossover) Reset() {
	c.mu.Lock()
	c.symbols = make(map[string]*crossState)
	c.mu.Unlock()
}
