package risk

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
)

// dustThreshold is the absolute quantity below which a position is flat.
var dustThreshold = decimal.New(1, -10)

// Reservation is a provisional hold on risk capacity between approval and
// a known outcome.
type Reservation struct {
	OrderID   string
	Symbol    string
	Side      types.Side
	Quantity  decimal.Decimal
	Remaining decimal.Decimal
	Price     *decimal.Decimal
	CreatedAt time.Time
	TTL       time.Duration
}

// Age returns how long the reservation has been held at now.
func (r Reservation) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Expired reports whether the reservation has outlived its TTL.
func (r Reservation) Expired(now time.Time) bool {
	return r.Age(now) > r.TTL
}

// SignedRemaining returns the outstanding position delta.
func (r Reservation) SignedRemaining() decimal.Decimal {
	return r.Remaining.Mul(r.Side.Sign())
}

// Snapshot is the immutable view of exposure a rule evaluates against.
type Snapshot struct {
	Positions       map[string]decimal.Decimal
	Reserved        map[string]decimal.Decimal // signed net outstanding delta
	ReservedBuy     map[string]decimal.Decimal // gross outstanding buy quantity
	ReservedSell    map[string]decimal.Decimal // gross outstanding sell quantity
	OpenOrderCount  map[string]int
	TotalOpenOrders int
	DailyLoss       decimal.Decimal
	LastOrderTime   map[string]time.Time
	AsOf            time.Time
}

// StateView is a comparable copy of the full ledger.
type StateView struct {
	Positions     map[string]decimal.Decimal
	EntryPrices   map[string]decimal.Decimal
	Reservations  []Reservation // sorted by order id
	DailyLoss     decimal.Decimal
	LastOrderTime map[string]time.Time
	Balances      map[string]types.Balance
}

// State is the live exposure ledger. It is not safe for concurrent use;
// the Coordinator serializes every access.
type State struct {
	positions     map[string]decimal.Decimal
	entryPrices   map[string]decimal.Decimal
	reservations  map[string]*Reservation
	dailyLoss     decimal.Decimal
	lastOrderTime map[string]time.Time
	balances      map[string]types.Balance
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{
		positions:     make(map[string]decimal.Decimal),
		entryPrices:   make(map[string]decimal.Decimal),
		reservations:  make(map[string]*Reservation),
		lastOrderTime: make(map[string]time.Time),
		balances:      make(map[string]types.Balance),
	}
}

func (s *State) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Positions:      make(map[string]decimal.Decimal, len(s.positions)),
		Reserved:       make(map[string]decimal.Decimal),
		ReservedBuy:    make(map[string]decimal.Decimal),
		ReservedSell:   make(map[string]decimal.Decimal),
		OpenOrderCount: make(map[string]int),
		DailyLoss:      s.dailyLoss,
		LastOrderTime:  make(map[string]time.Time, len(s.lastOrderTime)),
		AsOf:           now,
	}
	for sym, qty := range s.positions {
		snap.Positions[sym] = qty
	}
	for sym, t := range s.lastOrderTime {
		snap.LastOrderTime[sym] = t
	}
	for _, r := range s.reservations {
		snap.Reserved[r.Symbol] = snap.Reserved[r.Symbol].Add(r.SignedRemaining())
		if r.Side == types.SideBuy {
			snap.ReservedBuy[r.Symbol] = snap.ReservedBuy[r.Symbol].Add(r.Remaining)
		} else {
			snap.ReservedSell[r.Symbol] = snap.ReservedSell[r.Symbol].Add(r.Remaining)
		}
		snap.OpenOrderCount[r.Symbol]++
		snap.TotalOpenOrders++
	}
	return snap
}

func (s *State) view() StateView {
	v := StateView{
		Positions:     make(map[string]decimal.Decimal, len(s.positions)),
		EntryPrices:   make(map[string]decimal.Decimal, len(s.entryPrices)),
		Reservations:  make([]Reservation, 0, len(s.reservations)),
		DailyLoss:     s.dailyLoss,
		LastOrderTime: make(map[string]time.Time, len(s.lastOrderTime)),
		Balances:      make(map[string]types.Balance, len(s.balances)),
	}
	for k, q := range s.positions {
		v.Positions[k] = q
	}
	for k, p := range s.entryPrices {
		v.EntryPrices[k] = p
	}
	for k, t := range s.lastOrderTime {
		v.LastOrderTime[k] = t
	}
	for k, b := range s.balances {
		v.Balances[k] = b
	}
	v.Reservations = s.sortedReservations()
	return v
}

func (s *State) sortedReservations() []Reservation {
	out := make([]Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (s *State) reserve(intent types.OrderIntent, now time.Time, ttl time.Duration) {
	s.reservations[intent.ID] = &Reservation{
		OrderID:   intent.ID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Quantity:  intent.Quantity,
		Remaining: intent.Quantity,
		Price:     intent.Price,
		CreatedAt: now,
		TTL:       ttl,
	}
	s.lastOrderTime[intent.Symbol] = now
}

// applyFill moves the position for symbol by delta at price and returns the
// realized PnL of any reduced exposure. Adding to a position keeps a
// weighted average entry price.
func (s *State) applyFill(symbol string, delta, price decimal.Decimal) decimal.Decimal {
	current := s.positions[symbol]
	entry := s.entryPrices[symbol]
	next := current.Add(delta)
	realized := decimal.Zero

	switch {
	case current.IsZero() || current.Sign() == delta.Sign():
		if next.IsZero() {
			break
		}
		cost := current.Abs().Mul(entry).Add(delta.Abs().Mul(price))
		s.entryPrices[symbol] = cost.Div(next.Abs())
	default:
		closed := decimal.Min(current.Abs(), delta.Abs())
		if price.IsPositive() && entry.IsPositive() {
			realized = price.Sub(entry).Mul(closed).Mul(decimal.NewFromInt(int64(current.Sign())))
		}
		if next.Sign() != 0 && next.Sign() != current.Sign() {
			s.entryPrices[symbol] = price
		}
	}

	if next.Abs().LessThan(dustThreshold) {
		delete(s.positions, symbol)
		delete(s.entryPrices, symbol)
	} else {
		s.positions[symbol] = next
	}

	if realized.IsNegative() {
		s.dailyLoss = s.dailyLoss.Add(realized.Neg())
	}
	return realized
}

// buildState constructs a ledger from exchange data. dailyLoss and
// lastOrderTime are not reported by exchanges and are carried over.
func buildState(
	balances []types.Balance,
	positions []types.Position,
	orders []types.OpenOrder,
	ttl time.Duration,
	now time.Time,
	prev *State,
) (*State, []string) {
	next := NewState()
	var problems []string

	for _, b := range balances {
		asset := strings.ToUpper(b.Asset)
		if asset == "" {
			problems = append(problems, "balance with empty asset")
			continue
		}
		next.balances[asset] = types.Balance{Asset: asset, Free: b.Free, Locked: b.Locked}
	}

	for _, p := range positions {
		if p.Symbol == "" {
			problems = append(problems, "position with empty symbol")
			continue
		}
		if _, dup := next.positions[p.Symbol]; dup {
			problems = append(problems, "duplicate position for "+p.Symbol)
			continue
		}
		if p.Quantity.Abs().LessThan(dustThreshold) {
			continue
		}
		next.positions[p.Symbol] = p.Quantity
		next.entryPrices[p.Symbol] = p.EntryPrice
	}

	for _, o := range orders {
		if !o.Status.IsOpen() && o.Status != "" {
			continue
		}
		if o.OrderID == "" || !o.Side.IsValid() {
			problems = append(problems, "malformed open order "+o.OrderID)
			continue
		}
		if _, dup := next.reservations[o.OrderID]; dup {
			problems = append(problems, "duplicate open order "+o.OrderID)
			continue
		}
		remaining := o.Remaining()
		if !remaining.IsPositive() {
			continue
		}
		created := o.CreatedAt
		if created.IsZero() {
			// Without an exchange timestamp the TTL starts at the rebuild.
			created = now
		}
		next.reservations[o.OrderID] = &Reservation{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Quantity:  o.Quantity,
			Remaining: remaining,
			Price:     o.Price,
			CreatedAt: created,
			TTL:       ttl,
		}
	}

	if prev != nil {
		next.dailyLoss = prev.dailyLoss
		for sym, t := range prev.lastOrderTime {
			next.lastOrderTime[sym] = t
		}
	}

	return next, problems
}
