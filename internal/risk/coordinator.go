package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/types"
)

// RebuildReason says why the ledger is being rebuilt.
type RebuildReason string

const (
	RebuildStartup RebuildReason = "startup"
	RebuildResync  RebuildReason = "resync"
	RebuildManual  RebuildReason = "manual"
)

// ReleaseReason says why a reservation was dropped without a fill.
type ReleaseReason string

const (
	ReleaseExecutionFailed ReleaseReason = "execution_failed"
	ReleaseCanceled        ReleaseReason = "canceled"
	ReleaseTimeout         ReleaseReason = "timeout"
	ReleaseShutdown        ReleaseReason = "shutdown"
)

// maxRebuildPasses bounds how often Rebuild refetches because fills or
// releases landed while the exchange was being queried.
const maxRebuildPasses = 3

// FillDelta is a realized execution applied through Confirm.
type FillDelta struct {
	Symbol   string
	Quantity decimal.Decimal // signed position delta
	Price    decimal.Decimal
	Final    bool
}

// ConfirmOutcome describes what Confirm did.
type ConfirmOutcome int

const (
	// ConfirmApplied means a final fill resolved the reservation.
	ConfirmApplied ConfirmOutcome = iota
	// ConfirmPartial means the reservation was reduced and kept.
	ConfirmPartial
	// ConfirmUnknown means no reservation existed; the delta was still applied.
	ConfirmUnknown
	// ConfirmDuplicate means the order was already settled; nothing changed.
	ConfirmDuplicate
)

// String returns a readable form of the ConfirmOutcome.
func (o ConfirmOutcome) String() string {
	switch o {
	case ConfirmApplied:
		return "applied"
	case ConfirmPartial:
		return "partial"
	case ConfirmUnknown:
		return "unknown"
	case ConfirmDuplicate:
		return "duplicate"
	default:
		return "invalid"
	}
}

// ConfirmResult reports the effect of a Confirm call.
type ConfirmResult struct {
	Outcome     ConfirmOutcome
	RealizedPnL decimal.Decimal
}

// CoordinatorConfig holds coordinator settings.
type CoordinatorConfig struct {
	// DefaultTTL is attached to every reservation.
	DefaultTTL time.Duration
	// SettledRetention bounds how long settled order ids are remembered
	// for duplicate-fill detection.
	SettledRetention time.Duration
}

// DefaultCoordinatorConfig returns default coordinator settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DefaultTTL:       5 * time.Minute,
		SettledRetention: 24 * time.Hour,
	}
}

// Coordinator is the sole owner of the risk ledger. Every operation runs
// under one mutex; no I/O happens while it is held.
type Coordinator struct {
	cfg      CoordinatorConfig
	engine   *Engine
	exchange broker.ExchangeQuery
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       *State
	settled     map[string]time.Time
	settledLog  []settledEntry // settled ids in insertion order
	rebuilding  chan struct{} // non-nil while a rebuild is running
	dirty       bool          // ledger changed since the current fetch began
	initialized bool

	rebuildMu sync.Mutex
}

// NewCoordinator creates a coordinator with an empty ledger. exchange may
// be nil, in which case Rebuild is a no-op.
func NewCoordinator(cfg CoordinatorConfig, engine *Engine, exchange broker.ExchangeQuery, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultCoordinatorConfig().DefaultTTL
	}
	if cfg.SettledRetention <= 0 {
		cfg.SettledRetention = DefaultCoordinatorConfig().SettledRetention
	}

	return &Coordinator{
		cfg:      cfg,
		engine:   engine,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
		state:    NewState(),
		settled:  make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// CheckAndReserve snapshots the ledger, evaluates the rules and, if
// approved, records a reservation, all in one critical section. It waits
// while a rebuild is in progress.
func (c *Coordinator) CheckAndReserve(ctx context.Context, intent types.OrderIntent) (CheckResult, error) {
	if err := intent.Validate(); err != nil {
		return CheckResult{}, err
	}

	if err := c.lockOutsideRebuild(ctx); err != nil {
		return CheckResult{}, err
	}
	defer c.mu.Unlock()

	if _, exists := c.state.reservations[intent.ID]; exists {
		return CheckResult{}, fmt.Errorf("%w: %s", types.ErrDuplicateOrder, intent.ID)
	}
	if _, exists := c.settled[intent.ID]; exists {
		return CheckResult{}, fmt.Errorf("%w: %s already settled", types.ErrDuplicateOrder, intent.ID)
	}

	now := c.now()
	result := c.engine.Evaluate(c.state.snapshot(now), intent)
	if !result.IsApproved() {
		return result, nil
	}

	c.state.reserve(intent, now, c.cfg.DefaultTTL)
	return result, nil
}

// lockOutsideRebuild acquires mu once no rebuild is running.
func (c *Coordinator) lockOutsideRebuild(ctx context.Context) error {
	for {
		c.mu.Lock()
		gate := c.rebuilding
		if gate == nil {
			return nil
		}
		c.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", types.ErrRebuildInProgress, ctx.Err())
		}
	}
}

// Confirm applies a realized fill. A final fill removes the reservation;
// a partial fill reduces it. A fill for an unknown order is still applied
// and reported as ConfirmUnknown. A final confirm for an already settled
// order is a no-op.
func (c *Coordinator) Confirm(orderID string, delta FillDelta) ConfirmResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneSettledLocked(now)

	if _, done := c.settled[orderID]; done {
		return ConfirmResult{Outcome: ConfirmDuplicate}
	}

	res, ok := c.state.reservations[orderID]
	symbol := delta.Symbol
	if ok && symbol == "" {
		symbol = res.Symbol
	}
	if symbol == "" {
		c.logger.Warn("fill without symbol for unknown order dropped", "order_id", orderID)
		return ConfirmResult{Outcome: ConfirmUnknown}
	}

	realized := c.state.applyFill(symbol, delta.Quantity, delta.Price)
	c.markDirtyLocked()

	switch {
	case !ok:
		if delta.Final {
			c.markSettledLocked(orderID, now)
		}
		return ConfirmResult{Outcome: ConfirmUnknown, RealizedPnL: realized}
	case delta.Final:
		delete(c.state.reservations, orderID)
		c.markSettledLocked(orderID, now)
		return ConfirmResult{Outcome: ConfirmApplied, RealizedPnL: realized}
	default:
		remaining := res.Remaining.Sub(delta.Quantity.Abs())
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		res.Remaining = remaining
		return ConfirmResult{Outcome: ConfirmPartial, RealizedPnL: realized}
	}
}

// Release drops a reservation without touching positions. It returns false
// if the order had no reservation.
func (c *Coordinator) Release(orderID string, reason ReleaseReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.state.reservations[orderID]
	if !ok {
		return false
	}
	delete(c.state.reservations, orderID)
	c.markDirtyLocked()

	c.logger.Debug("reservation released",
		"order_id", orderID,
		"symbol", res.Symbol,
		"reason", reason,
	)
	return true
}

// Rebuild replaces the ledger with the exchange's account data. The fetch
// runs outside the lock; the swap is atomic. If a fill or release lands
// while the exchange is being queried, the fetched data may predate it, so
// the fetch is repeated. On error the previous ledger is kept.
func (c *Coordinator) Rebuild(ctx context.Context, reason RebuildReason) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	if c.exchange == nil {
		c.logger.Info("risk state rebuild skipped: no exchange configured", "reason", reason)
		c.mu.Lock()
		c.initialized = true
		c.mu.Unlock()
		return nil
	}

	gate := make(chan struct{})
	c.mu.Lock()
	c.rebuilding = gate
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.rebuilding = nil
		c.dirty = false
		c.mu.Unlock()
		close(gate)
	}()

	c.logger.Info("risk state rebuild started", "reason", reason)

	for pass := 1; pass <= maxRebuildPasses; pass++ {
		c.mu.Lock()
		c.dirty = false
		c.mu.Unlock()

		acct, err := c.fetchAccount(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		if c.dirty {
			c.mu.Unlock()
			c.logger.Info("ledger changed during rebuild fetch, refetching", "reason", reason, "pass", pass)
			continue
		}
		next, problems := buildState(acct.balances, acct.positions, acct.orders, c.cfg.DefaultTTL, c.now(), c.state)
		c.state = next
		c.initialized = true
		c.mu.Unlock()

		for _, p := range problems {
			c.logger.Warn("reconciliation warning during rebuild",
				"reason", reason,
				"err", fmt.Errorf("%w: %s", types.ErrStateInconsistency, p),
			)
		}

		c.logger.Info("risk state rebuild complete",
			"reason", reason,
			"passes", pass,
			"positions", len(next.positions),
			"reservations", len(next.reservations),
			"balances", len(next.balances),
		)
		return nil
	}

	return fmt.Errorf("%w: ledger kept changing during %d rebuild passes", types.ErrStateInconsistency, maxRebuildPasses)
}

type account struct {
	balances  []types.Balance
	positions []types.Position
	orders    []types.OpenOrder
}

func (c *Coordinator) fetchAccount(ctx context.Context) (account, error) {
	var (
		acct account
		err  error
	)
	if acct.balances, err = c.exchange.Balances(ctx); err != nil {
		return account{}, fmt.Errorf("%w: fetch balances: %w", types.ErrPortUnavailable, err)
	}
	if acct.positions, err = c.exchange.Positions(ctx); err != nil {
		return account{}, fmt.Errorf("%w: fetch positions: %w", types.ErrPortUnavailable, err)
	}
	if acct.orders, err = c.exchange.OpenOrders(ctx); err != nil {
		return account{}, fmt.Errorf("%w: fetch open orders: %w", types.ErrPortUnavailable, err)
	}
	return acct, nil
}

func (c *Coordinator) markDirtyLocked() {
	if c.rebuilding != nil {
		c.dirty = true
	}
}

// NotifyReconnect rebuilds after the exchange stream reconnects.
func (c *Coordinator) NotifyReconnect(ctx context.Context) error {
	return c.Rebuild(ctx, RebuildResync)
}

// IsInitialized reports whether a rebuild has completed.
func (c *Coordinator) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// IsRebuilding reports whether a rebuild is running.
func (c *Coordinator) IsRebuilding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilding != nil
}

// Snapshot returns the current rule-evaluation view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshot(c.now())
}

// View returns a full copy of the ledger.
func (c *Coordinator) View() StateView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.view()
}

// Reservations returns all outstanding reservations sorted by order id.
func (c *Coordinator) Reservations() []Reservation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.sortedReservations()
}

// Reservation returns the reservation for orderID.
func (c *Coordinator) Reservation(orderID string) (Reservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.state.reservations[orderID]
	if !ok {
		return Reservation{}, false
	}
	return *r, true
}

// Expired returns reservations older than their TTL at now.
func (c *Coordinator) Expired(now time.Time) []Reservation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Reservation
	for _, r := range c.state.sortedReservations() {
		if r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

// DailyLoss returns the realized loss accumulated today.
func (c *Coordinator) DailyLoss() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.dailyLoss
}

// ResetDailyLoss zeroes the daily loss counter.
func (c *Coordinator) ResetDailyLoss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("daily loss reset", "previous", c.state.dailyLoss)
	c.state.dailyLoss = decimal.Zero
}

// RestoreDailyLoss seeds the daily loss counter, typically from a
// persisted checkpoint. Losses are never lowered by a restore.
func (c *Coordinator) RestoreDailyLoss(loss decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loss.GreaterThan(c.state.dailyLoss) {
		c.state.dailyLoss = loss
	}
}

type settledEntry struct {
	orderID string
	at      time.Time
}

func (c *Coordinator) markSettledLocked(orderID string, now time.Time) {
	c.settled[orderID] = now
	c.settledLog = append(c.settledLog, settledEntry{orderID: orderID, at: now})
}

// pruneSettledLocked forgets settled ids older than the retention window.
// Only the expired prefix of settledLog is visited.
func (c *Coordinator) pruneSettledLocked(now time.Time) {
	n := 0
	for n < len(c.settledLog) && now.Sub(c.settledLog[n].at) > c.cfg.SettledRetention {
		delete(c.settled, c.settledLog[n].orderID)
		n++
	}
	if n > 0 {
		c.settledLog = c.settledLog[n:]
	}
}

// SettledCount returns how many settled order ids are remembered for
// duplicate detection.
func (c *Coordinator) SettledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.settled)
}
