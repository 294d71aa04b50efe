// Package indicator provides technical indicator calculations.
package indicator

import (
	"github.com/shopspring/decimal"
)

// SMA calculates a Simple Moving Average over a fixed window.
type SMA struct {
	period int
	window []decimal.Decimal // ring buffer
	next   int
	count  int
	sum    decimal.Decimal
}

// NewSMA creates a new SMA calculator with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		window: make([]decimal.Decimal, period),
		sum:    decimal.Zero,
	}
}

// Update adds a new value and returns the current SMA.
// Returns zero if not enough data points yet.
func (s *SMA) Update(value decimal.Decimal) decimal.Decimal {
	if s.count == s.period {
		s.sum = s.sum.Sub(s.window[s.next])
	} else {
		s.count++
	}
	s.window[s.next] = value
	s.sum = s.sum.Add(value)
	s.next = (s.next + 1) % s.period

	return s.Current()
}

// Current returns the current SMA value without adding new data.
func (s *SMA) Current() decimal.Decimal {
	if s.count < s.period {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(s.period)))
}

// Ready returns true if enough data points have been collected.
func (s *SMA) Ready() bool {
	return s.count >= s.period
}

// Period returns the SMA period.
func (s *SMA) Period() int {
	return s.period
}

// Reset clears all data.
func (s *SMA) Reset() {
	for i := range s.window {
		s.window[i] = decimal.Zero
	}
	s.next = 0
	s.count = 0
	s.sum = decimal.Zero
}

// Count returns the number of values currently stored.
func (s *SMA) Count() int {
	return s.count
}
