package report

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func pnls(values ...int64) []Realization {
	out := make([]Realization, len(values))
	for i, v := range values {
		out[i] = Realization{Symbol: "BTCUSDT", PnL: decimal.NewFromInt(v)}
	}
	return out
}

func TestComputeStats_WinRate(t *testing.T) {
	s := ComputeStats(pnls(100, -50, 75, -25, 50))

	expected := decimal.RequireFromString("0.6") // 3 wins out of 5
	if !s.WinRate.Equal(expected) {
		t.Errorf("WinRate = %s, want %s", s.WinRate, expected)
	}
	if s.Wins != 3 || s.Losses != 2 {
		t.Errorf("Wins/Losses = %d/%d, want 3/2", s.Wins, s.Losses)
	}
	if !s.NetPnL.Equal(decimal.NewFromInt(150)) {
		t.Errorf("NetPnL = %s, want 150", s.NetPnL)
	}
}

func TestComputeStats_ProfitFactor(t *testing.T) {
	s := ComputeStats(pnls(100, -50, 100, -50))

	if !s.ProfitFactor.Equal(decimal.NewFromInt(2)) {
		t.Errorf("ProfitFactor = %s, want 2", s.ProfitFactor)
	}
}

func TestComputeStats_AverageWinLoss(t *testing.T) {
	s := ComputeStats(pnls(100, -50, 200, -100))

	if !s.AverageWin.Equal(decimal.NewFromInt(150)) {
		t.Errorf("AverageWin = %s, want 150", s.AverageWin)
	}
	if !s.AverageLoss.Equal(decimal.NewFromInt(-75)) {
		t.Errorf("AverageLoss = %s, want -75", s.AverageLoss)
	}
}

func TestComputeStats_Expectancy(t *testing.T) {
	// 0.5 * 200 + 0.5 * (-100) = 50
	s := ComputeStats(pnls(200, -100))

	if !s.Expectancy.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expectancy = %s, want 50", s.Expectancy)
	}
}

func TestComputeStats_MaxDrawdown(t *testing.T) {
	// Cumulative: 100, 40, 90, 240, 150, 120
	s := ComputeStats(pnls(100, -60, 50, 150, -90, -30))

	if !s.MaxDrawdown.Equal(decimal.NewFromInt(120)) {
		t.Errorf("MaxDrawdown = %s, want 120", s.MaxDrawdown)
	}
}

func TestComputeStats_LosingFromStart(t *testing.T) {
	s := ComputeStats(pnls(-30, -20))

	if !s.MaxDrawdown.Equal(decimal.NewFromInt(50)) {
		t.Errorf("MaxDrawdown = %s, want 50", s.MaxDrawdown)
	}
	if !s.ProfitFactor.IsZero() {
		t.Errorf("ProfitFactor = %s, want 0", s.ProfitFactor)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)

	if s.Count != 0 || !s.WinRate.IsZero() || !s.Expectancy.IsZero() || !s.MaxDrawdown.IsZero() {
		t.Errorf("stats = %+v, want zero", s)
	}
	if len(s.Symbols()) != 0 {
		t.Errorf("Symbols() = %v, want none", s.Symbols())
	}
}

func TestComputeStats_OnlyWinning(t *testing.T) {
	s := ComputeStats(pnls(100, 200))

	if !s.WinRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("WinRate = %s, want 1", s.WinRate)
	}
	// No losses: profit factor stays zero instead of dividing by zero.
	if !s.ProfitFactor.IsZero() {
		t.Errorf("ProfitFactor = %s, want 0", s.ProfitFactor)
	}
	if !s.AverageLoss.IsZero() {
		t.Errorf("AverageLoss = %s, want 0", s.AverageLoss)
	}
}

func TestPnLTracker(t *testing.T) {
	tracker := NewPnLTracker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := "BTCUSDT"
			if i%2 == 0 {
				sym = "ETHUSDT"
			}
			tracker.Record(Realization{Symbol: sym, PnL: decimal.NewFromInt(10)})
		}(i)
	}
	wg.Wait()

	tracker.Record(Realization{Symbol: "SOLUSDT", PnL: decimal.Zero})

	s := tracker.Stats()
	if s.Count != 20 {
		t.Fatalf("Count = %d, want 20", s.Count)
	}
	if got := s.Symbols(); len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("Symbols() = %v", got)
	}
	if !s.BySymbol["ETHUSDT"].Equal(decimal.NewFromInt(100)) {
		t.Errorf("ETHUSDT = %s, want 100", s.BySymbol["ETHUSDT"])
	}
}
