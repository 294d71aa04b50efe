package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
)

// Config holds the risk engine configuration.
type Config struct {
	// RuleOrder lists rule names in evaluation order. Rules not listed
	// are not evaluated.
	RuleOrder []string

	DailyLossLimit         decimal.Decimal
	MaxPosition            decimal.Decimal
	MaxPositionBySymbol    map[string]decimal.Decimal
	MaxOpenOrdersPerSymbol int
	MaxOpenOrdersGlobal    int
	MinOrderQuantity       decimal.Decimal
	MaxOrderQuantity       decimal.Decimal
	MaxNotional            decimal.Decimal
	AllowedSymbols         []string
	Cooldown               time.Duration
}

// DefaultRuleOrder puts the loss limit ahead of exposure checks.
var DefaultRuleOrder = []string{
	RuleDailyLossLimit,
	RuleMaxPosition,
	RuleMaxOpenOrders,
	RuleOrderQuantity,
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	order := make([]string, len(DefaultRuleOrder))
	copy(order, DefaultRuleOrder)

	return Config{
		RuleOrder:              order,
		DailyLossLimit:         decimal.NewFromInt(1000),
		MaxPosition:            decimal.NewFromInt(1),
		MaxOpenOrdersPerSymbol: 10,
		MaxOpenOrdersGlobal:    50,
		MinOrderQuantity:       decimal.RequireFromString("0.0001"),
		MaxOrderQuantity:       decimal.NewFromInt(10),
	}
}

// Engine evaluates an ordered list of rules, stopping at the first
// rejection. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine from cfg.RuleOrder.
func NewEngine(cfg Config) (*Engine, error) {
	rules, err := BuildRules(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{rules: rules}, nil
}

// NewEngineWithRules builds an engine from explicit rules, in order.
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs the rules in order against snap.
func (e *Engine) Evaluate(snap Snapshot, intent types.OrderIntent) CheckResult {
	for _, rule := range e.rules {
		if reason := rule.Check(snap, intent); reason != nil {
			if reason.Rule == "" {
				reason.Rule = rule.Name()
			}
			return Rejected(*reason)
		}
	}
	return Approved()
}

// RuleNames returns the configured evaluation order.
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// BuildRules instantiates rules named in cfg.RuleOrder.
func BuildRules(cfg Config) ([]Rule, error) {
	var (
		rules []Rule
		errs  []string
	)
	seen := make(map[string]bool, len(cfg.RuleOrder))

	for _, raw := range cfg.RuleOrder {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			errs = append(errs, fmt.Sprintf("rule %q listed twice", name))
			continue
		}
		seen[name] = true

		switch name {
		case RuleDailyLossLimit:
			if !cfg.DailyLossLimit.IsPositive() {
				errs = append(errs, "daily_loss_limit must be positive")
				continue
			}
			rules = append(rules, DailyLossLimitRule{Limit: cfg.DailyLossLimit})
		case RuleMaxPosition:
			if !cfg.MaxPosition.IsPositive() {
				errs = append(errs, "max_position must be positive")
				continue
			}
			rules = append(rules, MaxPositionRule{Default: cfg.MaxPosition, BySymbol: cfg.MaxPositionBySymbol})
		case RuleMaxOpenOrders:
			if cfg.MaxOpenOrdersPerSymbol <= 0 {
				errs = append(errs, "max_open_orders_per_symbol must be positive")
				continue
			}
			rules = append(rules, MaxOpenOrdersRule{PerSymbol: cfg.MaxOpenOrdersPerSymbol, Global: cfg.MaxOpenOrdersGlobal})
		case RuleOrderQuantity:
			if cfg.MaxOrderQuantity.IsPositive() && cfg.MinOrderQuantity.GreaterThan(cfg.MaxOrderQuantity) {
				errs = append(errs, "min_order_quantity exceeds max_order_quantity")
				continue
			}
			rules = append(rules, OrderQuantityRule{Min: cfg.MinOrderQuantity, Max: cfg.MaxOrderQuantity})
		case RuleMaxNotional:
			if !cfg.MaxNotional.IsPositive() {
				errs = append(errs, "max_notional must be positive")
				continue
			}
			rules = append(rules, MaxNotionalRule{Limit: cfg.MaxNotional})
		case RuleSymbolWhitelist:
			if len(cfg.AllowedSymbols) == 0 {
				errs = append(errs, "symbol_whitelist needs allowed_symbols")
				continue
			}
			rules = append(rules, NewSymbolWhitelistRule(cfg.AllowedSymbols))
		case RuleCooldown:
			if cfg.Cooldown <= 0 {
				errs = append(errs, "cooldown must be positive")
				continue
			}
			rules = append(rules, CooldownRule{Interval: cfg.Cooldown})
		default:
			errs = append(errs, fmt.Sprintf("unknown rule %q", raw))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return rules, nil
}
