// Package paper provides a simulated exchange for paper trading and tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/types"
)

// AckMode controls how the simulated exchange answers orders.
type AckMode string

const (
	// AckSync fills the whole order in the Execute response.
	AckSync AckMode = "sync"
	// AckAsync acknowledges the order and streams fills later.
	AckAsync AckMode = "async"
	// AckNone acknowledges the order and never fills it.
	AckNone AckMode = "none"
)

// Config holds paper exchange configuration.
type Config struct {
	Mode AckMode
	// FillDelay is the wait before each async fill slice.
	FillDelay time.Duration
	// FillSlices splits async fills into this many partial fills.
	FillSlices int
	// SlippageBps moves the fill price against the order.
	SlippageBps decimal.Decimal
	// FeeRate is charged on notional in the quote asset.
	FeeRate    decimal.Decimal
	QuoteAsset string
	// InitialBalances keyed by asset.
	InitialBalances map[string]decimal.Decimal
	FillBuffer      int
}

// DefaultConfig returns default paper exchange config.
func DefaultConfig() Config {
	return Config{
		Mode:        AckSync,
		FillDelay:   50 * time.Millisecond,
		FillSlices:  1,
		SlippageBps: decimal.NewFromInt(1),
		FeeRate:     decimal.RequireFromString("0.001"),
		QuoteAsset:  "USDT",
		InitialBalances: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(10000),
		},
		FillBuffer: 256,
	}
}

type position struct {
	quantity decimal.Decimal // signed
	entry    decimal.Decimal
}

// Exchange implements broker.Exchange against in-memory state.
type Exchange struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	positions map[string]*position
	orders    map[string]*types.OpenOrder
	prices    map[string]decimal.Decimal
	rejects   map[string]string
	execErr   error
	queryErr  error

	handlersMu sync.Mutex
	handlers   []func()

	fills     chan types.Fill
	done      chan struct{}
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a connected paper exchange.
func New(cfg Config, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = AckSync
	}
	if cfg.FillSlices < 1 {
		cfg.FillSlices = 1
	}
	if cfg.FillBuffer <= 0 {
		cfg.FillBuffer = 256
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}

	e := &Exchange{
		cfg:       cfg,
		logger:    logger.With("exchange", "paper"),
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[string]*position),
		orders:    make(map[string]*types.OpenOrder),
		prices:    make(map[string]decimal.Decimal),
		rejects:   make(map[string]string),
		fills:     make(chan types.Fill, cfg.FillBuffer),
		done:      make(chan struct{}),
	}
	for asset, amt := range cfg.InitialBalances {
		e.balances[strings.ToUpper(asset)] = amt
	}
	e.state.Store(int32(broker.StateConnected))
	return e
}

// Name returns the adapter name.
func (e *Exchange) Name() string {
	return "paper"
}

// State returns connection state.
func (e *Exchange) State() broker.ConnectionState {
	return broker.ConnectionState(e.state.Load())
}

// IsConnected returns true if connected.
func (e *Exchange) IsConnected() bool {
	return e.State() == broker.StateConnected
}

// Disconnect simulates a dropped connection.
func (e *Exchange) Disconnect() {
	e.state.Store(int32(broker.StateDisconnected))
	e.logger.Warn("paper exchange disconnected")
}

// Reconnect restores the connection and runs reconnect handlers.
func (e *Exchange) Reconnect() {
	e.state.Store(int32(broker.StateConnected))
	e.logger.Info("paper exchange reconnected")

	e.handlersMu.Lock()
	handlers := make([]func(), len(e.handlers))
	copy(handlers, e.handlers)
	e.handlersMu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// OnReconnect registers fn to run after Reconnect.
func (e *Exchange) OnReconnect(fn func()) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers = append(e.handlers, fn)
}

// ObserveMarket records the last close as the symbol's price.
func (e *Exchange) ObserveMarket(event types.MarketEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[event.Symbol] = event.Close
}

// SetPrice sets the price used for market orders on symbol.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// RejectSymbol makes the exchange refuse orders on symbol with reason.
// An empty reason clears the rejection.
func (e *Exchange) RejectSymbol(symbol, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reason == "" {
		delete(e.rejects, symbol)
		return
	}
	e.rejects[symbol] = reason
}

// FailExecute makes Execute return err as a transport failure. nil clears.
func (e *Exchange) FailExecute(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execErr = err
}

// FailQueries makes account queries return err. nil clears.
func (e *Exchange) FailQueries(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryErr = err
}

// Fills returns the fill stream for asynchronously acknowledged orders.
func (e *Exchange) Fills() <-chan types.Fill {
	return e.fills
}

// Execute simulates order placement.
func (e *Exchange) Execute(ctx context.Context, intent types.OrderIntent) (types.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return types.ExecutionResult{}, err
	}
	if !e.IsConnected() {
		return types.ExecutionResult{}, broker.ErrNotConnected
	}

	e.mu.Lock()
	if e.execErr != nil {
		err := e.execErr
		e.mu.Unlock()
		return types.ExecutionResult{}, err
	}
	if reason, ok := e.rejects[intent.Symbol]; ok {
		e.mu.Unlock()
		return e.rejected(intent, reason), nil
	}
	price, ok := e.priceLocked(intent)
	if !ok {
		e.mu.Unlock()
		return e.rejected(intent, "no market price"), nil
	}

	if e.cfg.Mode == AckSync {
		e.applyFillLocked(intent.Symbol, intent.SignedQuantity(), price)
		e.mu.Unlock()

		e.logger.Info("paper order filled",
			"order_id", intent.ID,
			"symbol", intent.Symbol,
			"side", intent.Side.String(),
			"quantity", intent.Quantity,
			"price", price,
		)
		return types.ExecutionResult{
			OrderID:        intent.ID,
			Symbol:         intent.Symbol,
			Success:        true,
			Status:         types.ExecutionFilled,
			FilledQuantity: intent.Quantity,
			AvgPrice:       price,
		}, nil
	}

	order := &types.OpenOrder{
		OrderID:   intent.ID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Quantity:  intent.Quantity,
		Price:     intent.Price,
		Status:    types.OrderStatusNew,
		CreatedAt: time.Now(),
	}
	e.orders[intent.ID] = order
	e.mu.Unlock()

	e.logger.Info("paper order accepted",
		"order_id", intent.ID,
		"symbol", intent.Symbol,
		"side", intent.Side.String(),
		"quantity", intent.Quantity,
		"mode", string(e.cfg.Mode),
	)

	if e.cfg.Mode == AckAsync {
		e.closeMu.RLock()
		if e.closed {
			e.closeMu.RUnlock()
			return types.ExecutionResult{}, broker.ErrNotConnected
		}
		e.wg.Add(1)
		e.closeMu.RUnlock()

		go func() {
			defer e.wg.Done()
			e.simulateFills(intent, price)
		}()
	}

	return types.ExecutionResult{
		OrderID: intent.ID,
		Symbol:  intent.Symbol,
		Success: true,
		Status:  types.ExecutionAccepted,
	}, nil
}

func (e *Exchange) rejected(intent types.OrderIntent, reason string) types.ExecutionResult {
	e.logger.Warn("paper order rejected",
		"order_id", intent.ID,
		"symbol", intent.Symbol,
		"reason", reason,
	)
	return types.ExecutionResult{
		OrderID: intent.ID,
		Symbol:  intent.Symbol,
		Success: false,
		Error:   reason,
		Status:  types.ExecutionRejected,
	}
}

// priceLocked returns the fill price including slippage.
func (e *Exchange) priceLocked(intent types.OrderIntent) (decimal.Decimal, bool) {
	var price decimal.Decimal
	switch {
	case intent.Price != nil:
		price = *intent.Price
	default:
		p, ok := e.prices[intent.Symbol]
		if !ok || !p.IsPositive() {
			return decimal.Zero, false
		}
		price = p
	}

	slip := price.Mul(e.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	if intent.Side == types.SideBuy {
		return price.Add(slip), true
	}
	return price.Sub(slip), true
}

// simulateFills streams the order in FillSlices partial fills.
func (e *Exchange) simulateFills(intent types.OrderIntent, price decimal.Decimal) {
	slices := int64(e.cfg.FillSlices)
	slice := intent.Quantity.Div(decimal.NewFromInt(slices)).Truncate(8)
	filled := decimal.Zero

	for i := int64(1); i <= slices; i++ {
		select {
		case <-e.done:
			return
		case <-time.After(e.cfg.FillDelay):
		}

		qty := slice
		final := i == slices
		if final {
			qty = intent.Quantity.Sub(filled)
		}
		if !qty.IsPositive() {
			continue
		}

		e.mu.Lock()
		order, ok := e.orders[intent.ID]
		if !ok {
			// Canceled while waiting.
			e.mu.Unlock()
			return
		}
		e.applyFillLocked(intent.Symbol, qty.Mul(intent.Side.Sign()), price)
		filled = filled.Add(qty)
		order.FilledQuantity = filled
		order.Status = types.OrderStatusPartiallyFilled
		if final {
			order.Status = types.OrderStatusFilled
			delete(e.orders, intent.ID)
		}
		e.mu.Unlock()

		fill := types.Fill{
			OrderID:   intent.ID,
			Symbol:    intent.Symbol,
			Side:      intent.Side,
			Quantity:  qty,
			Price:     price,
			IsFinal:   final,
			Timestamp: time.Now(),
		}
		if !e.publish(fill) {
			return
		}
	}
}

// InjectFill publishes a fill that did not originate from Execute, such as
// a trade placed outside the pipeline.
func (e *Exchange) InjectFill(fill types.Fill) bool {
	e.mu.Lock()
	e.applyFillLocked(fill.Symbol, fill.SignedQuantity(), fill.Price)
	e.mu.Unlock()
	return e.publish(fill)
}

func (e *Exchange) publish(fill types.Fill) bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.fills <- fill:
		return true
	case <-e.done:
		return false
	}
}

// applyFillLocked updates positions and balances for a signed delta.
func (e *Exchange) applyFillLocked(symbol string, delta, price decimal.Decimal) {
	notional := delta.Abs().Mul(price)
	fee := notional.Mul(e.cfg.FeeRate)

	quote := e.cfg.QuoteAsset
	base := baseAsset(symbol, quote)
	if delta.IsPositive() {
		e.balances[quote] = e.balances[quote].Sub(notional).Sub(fee)
	} else {
		e.balances[quote] = e.balances[quote].Add(notional).Sub(fee)
	}
	e.balances[base] = e.balances[base].Add(delta)
	if e.balances[base].IsZero() {
		delete(e.balances, base)
	}

	pos, ok := e.positions[symbol]
	if !ok {
		e.positions[symbol] = &position{quantity: delta, entry: price}
		return
	}

	next := pos.quantity.Add(delta)
	switch {
	case next.IsZero():
		delete(e.positions, symbol)
	case pos.quantity.Sign() == delta.Sign():
		cost := pos.quantity.Abs().Mul(pos.entry).Add(delta.Abs().Mul(price))
		pos.entry = cost.Div(next.Abs())
		pos.quantity = next
	case next.Sign() != pos.quantity.Sign():
		pos.entry = price
		pos.quantity = next
	default:
		pos.quantity = next
	}
}

func baseAsset(symbol, quote string) string {
	s := strings.ToUpper(symbol)
	if b, ok := strings.CutSuffix(s, quote); ok && b != "" {
		return b
	}
	return s
}

// Cancel cancels an open order. It returns broker.ErrUnknownOrder if the
// order is not open.
func (e *Exchange) Cancel(_ context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.orders[orderID]; !ok {
		return fmt.Errorf("%w: %s", broker.ErrUnknownOrder, orderID)
	}
	delete(e.orders, orderID)
	e.logger.Info("paper order canceled", "order_id", orderID)
	return nil
}

// Balances returns asset balances sorted by asset.
func (e *Exchange) Balances(ctx context.Context) ([]types.Balance, error) {
	if err := e.queryCheck(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Balance, 0, len(e.balances))
	for asset, amt := range e.balances {
		out = append(out, types.Balance{Asset: asset, Free: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// Positions returns open positions sorted by symbol.
func (e *Exchange) Positions(ctx context.Context) ([]types.Position, error) {
	if err := e.queryCheck(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Position, 0, len(e.positions))
	for symbol, p := range e.positions {
		out = append(out, types.Position{Symbol: symbol, Quantity: p.quantity, EntryPrice: p.entry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// OpenOrders returns orders that have not reached a final state.
func (e *Exchange) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	if err := e.queryCheck(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.OpenOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (e *Exchange) queryCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.IsConnected() {
		return broker.ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryErr
}

// Close stops fill simulation and closes the fill stream.
func (e *Exchange) Close() error {
	e.closeOnce.Do(func() {
		e.state.Store(int32(broker.StateDisconnected))
		close(e.done)

		e.closeMu.Lock()
		e.closed = true
		e.closeMu.Unlock()

		e.wg.Wait()
		close(e.fills)
		e.logger.Info("paper exchange closed")
	})
	return nil
}

// Ensure Exchange implements the broker ports.
var (
	_ broker.Exchange          = (*Exchange)(nil)
	_ broker.ReconnectNotifier = (*Exchange)(nil)
	_ broker.MarketObserver    = (*Exchange)(nil)
)
