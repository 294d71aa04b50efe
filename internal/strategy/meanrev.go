package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
	"github.com/tathienbao/riskflow/pkg/indicator"
)

// MeanRevConfig holds configuration for the mean reversion strategy.
type MeanRevConfig struct {
	Period      int             // closes in the mean and deviation window
	EntryStdDev decimal.Decimal // band width in standard deviations
	MinStdDev   decimal.Decimal // no signal while the deviation is below this
	Quantity    decimal.Decimal
	// UseLimitPrice sends the bar close as a limit price instead of a
	// market order.
	UseLimitPrice bool
}

// DefaultMeanRevConfig returns sensible defaults.
func DefaultMeanRevConfig() MeanRevConfig {
	return MeanRevConfig{
		Period:        20,
		EntryStdDev:   decimal.RequireFromString("2.0"),
		MinStdDev:     decimal.Zero,
		Quantity:      decimal.RequireFromString("0.01"),
		UseLimitPrice: true,
	}
}

// Validate checks the configuration.
func (c MeanRevConfig) Validate() error {
	switch {
	case c.Period < 2:
		return fmt.Errorf("%w: mean reversion period must be at least 2", types.ErrInvalidConfig)
	case !c.EntryStdDev.IsPositive():
		return fmt.Errorf("%w: entry band must be positive", types.ErrInvalidConfig)
	case c.MinStdDev.IsNegative():
		return fmt.Errorf("%w: minimum deviation must not be negative", types.ErrInvalidConfig)
	case !c.Quantity.IsPositive():
		return fmt.Errorf("%w: mean reversion quantity must be positive", types.ErrInvalidConfig)
	}
	return nil
}

type bandState struct {
	stddev *indicator.StdDev
	// armed is -1 after a buy below the band, +1 after a sell above it,
	// and 0 once price is back inside.
	armed int
}

// MeanReversion buys when the close falls below mean - k*stddev and sells
// when it rises above mean + k*stddev. The bands come from the window
// before the current bar. One intent is emitted per excursion.
type MeanReversion struct {
	cfg MeanRevConfig

	mu      sync.Mutex
	symbols map[string]*bandState
}

// NewMeanReversion creates a mean reversion strategy.
func NewMeanReversion(cfg MeanRevConfig) (*MeanReversion, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MeanReversion{
		cfg:     cfg,
		symbols: make(map[string]*bandState),
	}, nil
}

// Evaluate updates the window for the event's symbol and emits an intent
// when the close leaves the bands.
func (m *MeanReversion) Evaluate(_ context.Context, event types.MarketEvent) (*types.OrderIntent, error) {
	if !event.Close.IsPositive() {
		return nil, fmt.Errorf("%w: %s close %s", types.ErrInvalidData, event.Symbol, event.Close)
	}

	m.mu.Lock()
	st, ok := m.symbols[event.Symbol]
	if !ok {
		st = &bandState{stddev: indicator.NewStdDev(m.cfg.Period)}
		m.symbols[event.Symbol] = st
	}

	band, ready := st.stddev.Band(m.cfg.EntryStdDev)
	st.stddev.Update(event.Close)

	if !ready || (!m.cfg.MinStdDev.IsZero() && band.StdDev.LessThan(m.cfg.MinStdDev)) {
		m.mu.Unlock()
		return nil, nil
	}

	var side types.Side
	switch {
	case band.Below(event.Close) && st.armed != -1:
		side = types.SideBuy
		st.armed = -1
	case band.Above(event.Close) && st.armed != 1:
		side = types.SideSell
		st.armed = 1
	case band.Inside(event.Close):
		st.armed = 0
	}
	m.mu.Unlock()

	if side == 0 {
		return nil, nil
	}

	b := NewIntentBuilder(m.Name(), event).WithQuantity(m.cfg.Quantity)
	if side == types.SideBuy {
		b.Buy()
	} else {
		b.Sell()
	}
	if m.cfg.UseLimitPrice {
		b.WithLimitPrice(event.Close)
	}
	b.WithConfidence(bandConfidence(event.Close, band))

	intent, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// bandConfidence is the distance past the band relative to the band width,
// capped at 1.
func bandConfidence(price decimal.Decimal, band indicator.Band) float64 {
	width := band.Width()
	if width.IsZero() {
		return 1
	}
	excess := price.Sub(band.Mean).Abs().Sub(width).Div(width)
	f, _ := excess.Float64()
	if f > 1 {
		return 1
	}
	return f
}

// Name returns the strategy identifier.
func (m *MeanReversion) Name() string {
	return "meanrev"
}

// Reset empties every symbol's window and re-arms both bands.
func (m *MeanReversion) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.symbols {
		st.stddev.Reset()
		st.armed = 0
	}
}
