// Package report aggregates realized results for operator summaries.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Realization is PnL booked when a fill reduced an open position.
type Realization struct {
	OrderID string
	Symbol  string
	PnL     decimal.Decimal
	At      time.Time
}

// PnLTracker collects realizations. Safe for concurrent use.
type PnLTracker struct {
	mu      sync.Mutex
	entries []Realization
}

// NewPnLTracker creates an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{entries: make([]Realization, 0)}
}

// Record adds a realization. Zero PnL is ignored.
func (t *PnLTracker) Record(r Realization) {
	if r.PnL.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, r)
}

// Stats computes statistics over everything recorded so far.
func (t *PnLTracker) Stats() Stats {
	t.mu.Lock()
	entries := make([]Realization, len(t.entries))
	copy(entries, t.entries)
	t.mu.Unlock()
	return ComputeStats(entries)
}

// Stats summarizes realized PnL.
type Stats struct {
	Count        int
	Wins         int
	Losses       int
	NetPnL       decimal.Decimal
	GrossProfit  decimal.Decimal
	GrossLoss    decimal.Decimal // positive
	WinRate      decimal.Decimal // ratio
	ProfitFactor decimal.Decimal
	AverageWin   decimal.Decimal
	AverageLoss  decimal.Decimal // negative
	Expectancy   decimal.Decimal
	MaxDrawdown  decimal.Decimal // largest drop of cumulative PnL from its peak
	BySymbol     map[string]decimal.Decimal
}

// Symbols returns the symbols with realized PnL, sorted.
func (s Stats) Symbols() []string {
	out := make([]string, 0, len(s.BySymbol))
	for sym := range s.BySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ComputeStats computes statistics over realizations in order.
func ComputeStats(entries []Realization) Stats {
	s := Stats{
		Count:    len(entries),
		BySymbol: make(map[string]decimal.Decimal),
	}

	cumulative := decimal.Zero
	peak := decimal.Zero
	for _, e := range entries {
		switch {
		case e.PnL.IsPositive():
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(e.PnL)
		case e.PnL.IsNegative():
			s.Losses++
			s.GrossLoss = s.GrossLoss.Add(e.PnL.Abs())
		}
		s.BySymbol[e.Symbol] = s.BySymbol[e.Symbol].Add(e.PnL)

		cumulative = cumulative.Add(e.PnL)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		if dd := peak.Sub(cumulative); dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
		}
	}
	s.NetPnL = cumulative

	if s.Count == 0 {
		return s
	}

	s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(s.Count)))
	if !s.GrossLoss.IsZero() {
		s.ProfitFactor = s.GrossProfit.Div(s.GrossLoss)
	}
	if s.Wins > 0 {
		s.AverageWin = s.GrossProfit.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AverageLoss = s.GrossLoss.Neg().Div(decimal.NewFromInt(int64(s.Losses)))
	}

	// Expectancy = WinRate * AvgWin + (1 - WinRate) * AvgLoss
	s.Expectancy = s.WinRate.Mul(s.AverageWin).Add(decimal.NewFromInt(1).Sub(s.WinRate).Mul(s.AverageLoss))
	return s
}
