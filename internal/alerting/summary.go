package alerting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/risk"
)

// PositionLine is one symbol's state at the end of the day.
type PositionLine struct {
	Symbol     string
	Position   decimal.Decimal
	OpenOrders int
}

// DailySummary describes the risk ledger when the trading day closes.
type DailySummary struct {
	Date             time.Time
	DailyLoss        decimal.Decimal
	DailyLossLimit   decimal.Decimal
	LimitUtilization decimal.Decimal // percent of the limit used
	OpenReservations int
	Positions        []PositionLine
}

// NewDailySummary builds a summary from a ledger snapshot. A zero limit
// leaves LimitUtilization at zero.
func NewDailySummary(date time.Time, snap risk.Snapshot, dailyLossLimit decimal.Decimal) DailySummary {
	var utilization decimal.Decimal
	if dailyLossLimit.IsPositive() {
		utilization = snap.DailyLoss.Div(dailyLossLimit).Mul(decimal.NewFromInt(100))
	}

	symbols := make(map[string]struct{}, len(snap.Positions))
	for s, q := range snap.Positions {
		if !q.IsZero() {
			symbols[s] = struct{}{}
		}
	}
	for s, n := range snap.OpenOrderCount {
		if n > 0 {
			symbols[s] = struct{}{}
		}
	}

	lines := make([]PositionLine, 0, len(symbols))
	for s := range symbols {
		lines = append(lines, PositionLine{
			Symbol:     s,
			Position:   snap.Positions[s],
			OpenOrders: snap.OpenOrderCount[s],
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Symbol < lines[j].Symbol })

	return DailySummary{
		Date:             date.UTC(),
		DailyLoss:        snap.DailyLoss,
		DailyLossLimit:   dailyLossLimit,
		LimitUtilization: utilization,
		OpenReservations: snap.TotalOpenOrders,
		Positions:        lines,
	}
}

// Fields returns the summary as alert fields.
func (s DailySummary) Fields() []any {
	fields := []any{
		"date", s.Date.Format("2006-01-02"),
		"daily_loss", s.DailyLoss.StringFixed(2),
		"loss_limit_used_pct", s.LimitUtilization.StringFixed(1),
		"open_reservations", s.OpenReservations,
	}
	for _, p := range s.Positions {
		fields = append(fields, "position_"+p.Symbol, p.Position.String())
	}
	return fields
}
