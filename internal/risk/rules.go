package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
)

// Rule is a single pure risk check. Check returns nil to pass.
// Rules must not mutate the snapshot and must not perform I/O.
type Rule interface {
	Name() string
	Check(snap Snapshot, intent types.OrderIntent) *RejectReason
}

// Rule names accepted in configuration.
const (
	RuleDailyLossLimit  = "daily_loss_limit"
	RuleMaxPosition     = "max_position"
	RuleMaxOpenOrders   = "max_open_orders"
	RuleOrderQuantity   = "order_quantity"
	RuleMaxNotional     = "max_notional"
	RuleSymbolWhitelist = "symbol_whitelist"
	RuleCooldown        = "cooldown"
)

// MaxPositionRule caps the absolute projected position per symbol. The
// projection is worst case in the intent's direction: confirmed position
// plus every outstanding reservation on the same side, so releasing or
// filling any subset of reservations cannot breach the limit.
type MaxPositionRule struct {
	Default  decimal.Decimal
	BySymbol map[string]decimal.Decimal
}

// Name returns the rule identifier.
func (r MaxPositionRule) Name() string { return RuleMaxPosition }

func (r MaxPositionRule) limit(symbol string) decimal.Decimal {
	if l, ok := r.BySymbol[symbol]; ok {
		return l
	}
	return r.Default
}

// Check implements Rule.
func (r MaxPositionRule) Check(snap Snapshot, intent types.OrderIntent) *RejectReason {
	current := snap.Positions[intent.Symbol]
	max := r.limit(intent.Symbol)

	var reserved, projected decimal.Decimal
	if intent.Side == types.SideBuy {
		reserved = snap.ReservedBuy[intent.Symbol]
		projected = current.Add(reserved).Add(intent.Quantity)
	} else {
		reserved = snap.ReservedSell[intent.Symbol].Neg()
		projected = current.Add(reserved).Sub(intent.Quantity)
	}

	if projected.Abs().GreaterThan(max) && projected.Sign() == intent.Side.Sign().Sign() {
		return &RejectReason{
			Code: RejectMaxPositionExceeded,
			Rule: r.Name(),
			Message: fmt.Sprintf("position %s + reserved %s + requested %s exceeds %s",
				current, reserved, intent.SignedQuantity(), max),
		}
	}
	return nil
}

// MaxOpenOrdersRule caps unresolved orders per symbol and, optionally,
// across all symbols. A zero Global disables the global check.
type MaxOpenOrdersRule struct {
	PerSymbol int
	Global    int
}

// Name returns the rule identifier.
func (r MaxOpenOrdersRule) Name() string { return RuleMaxOpenOrders }

// Check implements Rule.
func (r MaxOpenOrdersRule) Check(snap Snapshot, intent types.OrderIntent) *RejectReason {
	if n := snap.OpenOrderCount[intent.Symbol]; n >= r.PerSymbol {
		return &RejectReason{
			Code:    RejectMaxOpenOrdersExceeded,
			Rule:    r.Name(),
			Message: fmt.Sprintf("%d open orders on %s, max %d", n, intent.Symbol, r.PerSymbol),
		}
	}
	if r.Global > 0 && snap.TotalOpenOrders >= r.Global {
		return &RejectReason{
			Code:    RejectMaxOpenOrdersExceeded,
			Rule:    r.Name(),
			Message: fmt.Sprintf("%d open orders in total, max %d", snap.TotalOpenOrders, r.Global),
		}
	}
	return nil
}

// DailyLossLimitRule blocks new orders once the realized loss for the day
// reaches Limit.
type DailyLossLimitRule struct {
	Limit decimal.Decimal
}

// Name returns the rule identifier.
func (r DailyLossLimitRule) Name() string { return RuleDailyLossLimit }

// Check implements Rule.
func (r DailyLossLimitRule) Check(snap Snapshot, _ types.OrderIntent) *RejectReason {
	if snap.DailyLoss.GreaterThanOrEqual(r.Limit) {
		return &RejectReason{
			Code:    RejectDailyLossLimitExceeded,
			Rule:    r.Name(),
			Message: fmt.Sprintf("daily loss %s reached limit %s", snap.DailyLoss, r.Limit),
		}
	}
	return nil
}

// OrderQuantityRule bounds the size of a single order. Zero bounds are
// not enforced.
type OrderQuantityRule struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Name returns the rule identifier.
func (r OrderQuantityRule) Name() string { return RuleOrderQuantity }

// Check implements Rule.
func (r OrderQuantityRule) Check(_ Snapshot, intent types.OrderIntent) *RejectReason {
	if r.Min.IsPositive() && intent.Quantity.LessThan(r.Min) {
		return &RejectReason{
			Code:    RejectOrderQuantityTooSmall,
			Rule:    r.Name(),
			Message: fmt.Sprintf("quantity %s below minimum %s", intent.Quantity, r.Min),
		}
	}
	if r.Max.IsPositive() && intent.Quantity.GreaterThan(r.Max) {
		return &RejectReason{
			Code:    RejectOrderQuantityExceeded,
			Rule:    r.Name(),
			Message: fmt.Sprintf("quantity %s above maximum %s", intent.Quantity, r.Max),
		}
	}
	return nil
}

// MaxNotionalRule caps price * quantity. Market orders carry no price
// and pass.
type MaxNotionalRule struct {
	Limit decimal.Decimal
}

// Name returns the rule identifier.
func (r MaxNotionalRule) Name() string { return RuleMaxNotional }

// Check implements Rule.
func (r MaxNotionalRule) Check(_ Snapshot, intent types.OrderIntent) *RejectReason {
	if intent.Price == nil {
		return nil
	}
	if n := intent.Notional(); n.GreaterThan(r.Limit) {
		return &RejectReason{
			Code:    RejectNotionalValueExceeded,
			Rule:    r.Name(),
			Message: fmt.Sprintf("notional %s exceeds %s", n, r.Limit),
		}
	}
	return nil
}

// SymbolWhitelistRule only allows listed symbols.
type SymbolWhitelistRule struct {
	allowed map[string]struct{}
}

// NewSymbolWhitelistRule builds a whitelist; symbols are matched upper-case.
func NewSymbolWhitelistRule(symbols []string) SymbolWhitelistRule {
	allowed := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		allowed[strings.ToUpper(s)] = struct{}{}
	}
	return SymbolWhitelistRule{allowed: allowed}
}

// Name returns the rule identifier.
func (r SymbolWhitelistRule) Name() string { return RuleSymbolWhitelist }

// Check implements Rule.
func (r SymbolWhitelistRule) Check(_ Snapshot, intent types.OrderIntent) *RejectReason {
	if _, ok := r.allowed[strings.ToUpper(intent.Symbol)]; !ok {
		return &RejectReason{
			Code:    RejectSymbolNotAllowed,
			Rule:    r.Name(),
			Message: fmt.Sprintf("symbol %s is not allowed", intent.Symbol),
		}
	}
	return nil
}

// CooldownRule enforces a minimum gap between orders on one symbol.
type CooldownRule struct {
	Interval time.Duration
}

// Name returns the rule identifier.
func (r CooldownRule) Name() string { return RuleCooldown }

// Check implements Rule.
func (r CooldownRule) Check(snap Snapshot, intent types.OrderIntent) *RejectReason {
	last, ok := snap.LastOrderTime[intent.Symbol]
	if !ok {
		return nil
	}
	if elapsed := snap.AsOf.Sub(last); elapsed < r.Interval {
		return &RejectReason{
			Code:    RejectCooldownNotExpired,
			Rule:    r.Name(),
			Message: fmt.Sprintf("last order on %s %s ago, cooldown %s", intent.Symbol, elapsed, r.Interval),
		}
	}
	return nil
}
