package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
)

// FuzzMaxPositionRule checks that an approved intent never projects past
// the limit in its own direction.
func FuzzMaxPositionRule(f *testing.F) {
	f.Add("0", "0", "0", "0.6", true, "1.0")
	f.Add("0.5", "0.4", "0", "0.2", true, "1.0")
	f.Add("-0.9", "0", "0.05", "0.1", false, "1.0")
	f.Add("3", "0", "0", "0.5", false, "2")
	f.Add("0", "0", "0", "0", true, "0.0001")

	f.Fuzz(func(t *testing.T, posStr, buyStr, sellStr, qtyStr string, isBuy bool, limitStr string) {
		pos, err := decimal.NewFromString(posStr)
		if err != nil {
			return
		}
		reservedBuy, err := decimal.NewFromString(buyStr)
		if err != nil || reservedBuy.IsNegative() {
			return
		}
		reservedSell, err := decimal.NewFromString(sellStr)
		if err != nil || reservedSell.IsNegative() {
			return
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil || !qty.IsPositive() {
			return
		}
		limit, err := decimal.NewFromString(limitStr)
		if err != nil || !limit.IsPositive() {
			return
		}
		if !sane(pos, reservedBuy, reservedSell, qty, limit) {
			return
		}

		side := types.SideSell
		if isBuy {
			side = types.SideBuy
		}
		intent := types.OrderIntent{ID: "f", Symbol: "X", Side: side, Quantity: qty}

		snap := emptySnapshot()
		snap.Positions["X"] = pos
		snap.ReservedBuy["X"] = reservedBuy
		snap.ReservedSell["X"] = reservedSell

		// Should never panic
		reason := MaxPositionRule{Default: limit}.Check(snap, intent)
		if reason != nil {
			return
		}

		if isBuy {
			if worst := pos.Add(reservedBuy).Add(qty); worst.GreaterThan(limit) {
				t.Errorf("approved buy projects %s past limit %s", worst, limit)
			}
		} else {
			if worst := pos.Sub(reservedSell).Sub(qty); worst.LessThan(limit.Neg()) {
				t.Errorf("approved sell projects %s past limit -%s", worst, limit)
			}
		}
	})
}

// FuzzApplyFill checks position bookkeeping never panics and daily loss
// never decreases.
func FuzzApplyFill(f *testing.F) {
	f.Add("1", "100", "-1", "90")
	f.Add("0", "0", "0.5", "100")
	f.Add("-2", "50", "5", "40")
	f.Add("1", "100", "-0.9999999999999", "100")

	f.Fuzz(func(t *testing.T, q1Str, p1Str, q2Str, p2Str string) {
		q1, err1 := decimal.NewFromString(q1Str)
		p1, err2 := decimal.NewFromString(p1Str)
		q2, err3 := decimal.NewFromString(q2Str)
		p2, err4 := decimal.NewFromString(p2Str)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return
		}
		if p1.IsNegative() || p2.IsNegative() || q1.Abs().LessThan(dustThreshold) {
			return
		}
		if !sane(q1, p1, q2, p2) {
			return
		}

		s := NewState()
		s.applyFill("X", q1, p1)
		before := s.dailyLoss
		s.applyFill("X", q2, p2)

		if s.dailyLoss.LessThan(before) {
			t.Errorf("daily loss decreased from %s to %s", before, s.dailyLoss)
		}
		if pos, ok := s.positions["X"]; ok && pos.Abs().LessThan(dustThreshold) {
			t.Errorf("dust position kept: %s", pos)
		}
		want := q1.Add(q2)
		if want.Abs().GreaterThanOrEqual(dustThreshold) && !s.positions["X"].Equal(want) {
			t.Errorf("position = %s, want %s", s.positions["X"], want)
		}
	})
}

// sane keeps fuzz inputs to exponents a real exchange would send.
func sane(values ...decimal.Decimal) bool {
	for _, v := range values {
		if e := v.Exponent(); e < -30 || e > 30 {
			return false
		}
	}
	return true
}
