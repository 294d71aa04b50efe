package indicator

import (
	"github.com/shopspring/decimal"
)

// Band is an envelope of K standard deviations around a rolling mean.
type Band struct {
	Mean   decimal.Decimal
	StdDev decimal.Decimal
	Lower  decimal.Decimal
	Upper  decimal.Decimal
}

// Width returns the distance from the mean to either edge.
func (b Band) Width() decimal.Decimal {
	return b.Upper.Sub(b.Mean)
}

// Below reports whether price is strictly under the lower edge.
func (b Band) Below(price decimal.Decimal) bool {
	return price.LessThan(b.Lower)
}

// Above reports whether price is strictly over the upper edge.
func (b Band) Above(price decimal.Decimal) bool {
	return price.GreaterThan(b.Upper)
}

// Inside reports whether price is strictly between the edges.
func (b Band) Inside(price decimal.Decimal) bool {
	return price.GreaterThan(b.Lower) && price.LessThan(b.Upper)
}

// StdDev is a rolling population standard deviation. It reads the window
// of its own SMA, so mean and deviation always cover the same values.
type StdDev struct {
	sma *SMA
}

// NewStdDev creates a StdDev over the last period values.
func NewStdDev(period int) *StdDev {
	return &StdDev{sma: NewSMA(period)}
}

// Update adds a value and returns the deviation of the window, or zero
// until the window is full.
func (s *StdDev) Update(value decimal.Decimal) decimal.Decimal {
	s.sma.Update(value)
	return s.Current()
}

// Current returns the deviation of the window without adding data.
func (s *StdDev) Current() decimal.Decimal {
	if !s.sma.Ready() {
		return decimal.Zero
	}
	mean := s.sma.Current()

	var sumSquares decimal.Decimal
	for _, v := range s.sma.window {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	return sqrt(sumSquares.Div(decimal.NewFromInt(int64(s.sma.period))))
}

// Band returns the envelope k deviations around the window mean. ok is
// false until the window is full.
func (s *StdDev) Band(k decimal.Decimal) (band Band, ok bool) {
	if !s.sma.Ready() {
		return Band{}, false
	}
	mean := s.sma.Current()
	dev := s.Current()
	width := dev.Mul(k)
	return Band{
		Mean:   mean,
		StdDev: dev,
		Lower:  mean.Sub(width),
		Upper:  mean.Add(width),
	}, true
}

// Ready reports whether the window is full.
func (s *StdDev) Ready() bool {
	return s.sma.Ready()
}

// Period returns the window length.
func (s *StdDev) Period() int {
	return s.sma.Period()
}

// Reset empties the window.
func (s *StdDev) Reset() {
	s.sma.Reset()
}

// Mean returns the window mean, or zero until the window is full.
func (s *StdDev) Mean() decimal.Decimal {
	return s.sma.Current()
}

var (
	sqrtTwo       = decimal.NewFromInt(2)
	sqrtTolerance = decimal.New(1, -8)
)

// sqrt is Newton's method rounded to 8 places. Non-positive input gives 0.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}

	x := d.Div(sqrtTwo)
	if x.IsZero() {
		x = decimal.NewFromInt(1)
	}
	for i := 0; i < 100; i++ {
		next := x.Add(d.Div(x)).Div(sqrtTwo)
		if next.Sub(x).Abs().LessThan(sqrtTolerance) {
			return next.Round(8)
		}
		x = next
	}
	return x.Round(8)
}
