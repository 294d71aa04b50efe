package paper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buy(id, symbol, qty string) types.OrderIntent {
	return types.OrderIntent{ID: id, Symbol: symbol, Side: types.SideBuy, Quantity: d(qty)}
}

func sell(id, symbol, qty string) types.OrderIntent {
	return types.OrderIntent{ID: id, Symbol: symbol, Side: types.SideSell, Quantity: d(qty)}
}

func testConfig(mode AckMode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.SlippageBps = decimal.Zero
	cfg.FeeRate = decimal.Zero
	cfg.FillDelay = time.Millisecond
	return cfg
}

func TestExchange_SyncFill(t *testing.T) {
	ex := New(testConfig(AckSync), nil)
	defer ex.Close()
	ex.SetPrice("BTCUSDT", d("40000"))

	res, err := ex.Execute(context.Background(), buy("o1", "BTCUSDT", "0.1"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.Status != types.ExecutionFilled {
		t.Fatalf("result = %+v, want filled", res)
	}
	if !res.FilledQuantity.Equal(d("0.1")) || !res.AvgPrice.Equal(d("40000")) {
		t.Errorf("filled %s @ %s, want 0.1 @ 40000", res.FilledQuantity, res.AvgPrice)
	}
	if res.OrderID != "o1" {
		t.Errorf("OrderID = %s, want o1", res.OrderID)
	}

	positions, _ := ex.Positions(context.Background())
	if len(positions) != 1 || !positions[0].Quantity.Equal(d("0.1")) {
		t.Errorf("positions = %+v, want BTCUSDT 0.1", positions)
	}

	balances, _ := ex.Balances(context.Background())
	want := map[string]string{"BTC": "0.1", "USDT": "6000"}
	for _, b := range balances {
		if w, ok := want[b.Asset]; ok && !b.Free.Equal(d(w)) {
			t.Errorf("balance %s = %s, want %s", b.Asset, b.Free, w)
		}
	}
}

func TestExchange_SlippageAgainstOrder(t *testing.T) {
	cfg := testConfig(AckSync)
	cfg.SlippageBps = d("10")
	ex := New(cfg, nil)
	defer ex.Close()
	ex.SetPrice("BTCUSDT", d("10000"))

	b, _ := ex.Execute(context.Background(), buy("o1", "BTCUSDT", "1"))
	s, _ := ex.Execute(context.Background(), sell("o2", "BTCUSDT", "1"))

	if !b.AvgPrice.Equal(d("10010")) {
		t.Errorf("buy price = %s, want 10010", b.AvgPrice)
	}
	if !s.AvgPrice.Equal(d("9990")) {
		t.Errorf("sell price = %s, want 9990", s.AvgPrice)
	}
}

func TestExchange_LimitPriceUsed(t *testing.T) {
	ex := New(testConfig(AckSync), nil)
	defer ex.Close()

	intent := buy("o1", "ETHUSDT", "2")
	price := d("2500")
	intent.Price = &price

	res, err := ex.Execute(context.Background(), intent)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.AvgPrice.Equal(price) {
		t.Errorf("AvgPrice = %s, want 2500", res.AvgPrice)
	}
}

func TestExchange_Rejections(t *testing.T) {
	ex := New(testConfig(AckSync), nil)
	defer ex.Close()

	res, err := ex.Execute(context.Background(), buy("o1", "BTCUSDT", "1"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Success || res.Status != types.ExecutionRejected || res.Error != "no market price" {
		t.Errorf("result = %+v, want rejected for missing price", res)
	}

	ex.SetPrice("BTCUSDT", d("1"))
	ex.RejectSymbol("BTCUSDT", "insufficient balance")
	res, _ = ex.Execute(context.Background(), buy("o2", "BTCUSDT", "1"))
	if res.Success || res.Error != "insufficient balance" {
		t.Errorf("result = %+v, want rejected", res)
	}

	ex.RejectSymbol("BTCUSDT", "")
	res, _ = ex.Execute(context.Background(), buy("o3", "BTCUSDT", "1"))
	if !res.Success {
		t.Errorf("result = %+v, want success after clearing rejection", res)
	}
}

func TestExchange_TransportFailure(t *testing.T) {
	ex := New(testConfig(AckSync), nil)
	defer ex.Close()
	ex.SetPrice("BTCUSDT", d("1"))

	boom := errors.New("connection reset")
	ex.FailExecute(boom)
	if _, err := ex.Execute(context.Background(), buy("o1", "BTCUSDT", "1")); !errors.Is(err, boom) {
		t.Errorf("Execute() error = %v, want %v", err, boom)
	}

	ex.FailExecute(nil)
	ex.Disconnect()
	if _, err := ex.Execute(context.Background(), buy("o2", "BTCUSDT", "1")); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("Execute() error = %v, want ErrNotConnected", err)
	}
	if _, err := ex.Balances(context.Background()); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("Balances() error = %v, want ErrNotConnected", err)
	}
}

func TestExchange_AsyncPartialFills(t *testing.T) {
	cfg := testConfig(AckAsync)
	cfg.FillSlices = 3
	ex := New(cfg, nil)
	defer ex.Close()
	ex.SetPrice("BTCUSDT", d("100"))

	res, err := ex.Execute(context.Background(), buy("o1", "BTCUSDT", "1"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != types.ExecutionAccepted || !res.FilledQuantity.IsZero() {
		t.Fatalf("result = %+v, want accepted with nothing filled", res)
	}

	total := decimal.Zero
	var finals int
	timeout := time.After(2 * time.Second)
	for finals == 0 {
		select {
		case f := <-ex.Fills():
			if f.OrderID != "o1" {
				t.Errorf("fill order = %s, want o1", f.OrderID)
			}
			total = total.Add(f.Quantity)
			if f.IsFinal {
				finals++
			}
		case <-timeout:
			t.Fatal("timed out waiting for fills")
		}
	}

	if !total.Equal(d("1")) {
		t.Errorf("total filled = %s, want 1", total)
	}
	orders, _ := ex.OpenOrders(context.Background())
	if len(orders) != 0 {
		t.Errorf("open orders after final fill = %d, want 0", len(orders))
	}
}

func TestExchange_AckNoneStaysOpen(t *testing.T) {
	ex := New(testConfig(AckNone), nil)
	defer ex.Close()
	ex.SetPrice("BTCUSDT", d("100"))

	if _, err := ex.Execute(context.Background(), buy("o1", "BTCUSDT", "0.5")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	orders, err := ex.OpenOrders(context.Background())
	if err != nil {
		t.Fatalf("OpenOrders() error = %v", err)
	}
	if len(orders) != 1 || orders[0].Status != types.OrderStatusNew {
		t.Fatalf("open orders = %+v, want one NEW order", orders)
	}

	if err := ex.Cancel(context.Background(), "o1"); err != nil {
		t.Errorf("Cancel() error = %v", err)
	}
	if err := ex.Cancel(context.Background(), "o1"); !errors.Is(err, broker.ErrUnknownOrder) {
		t.Errorf("second Cancel() error = %v, want ErrUnknownOrder", err)
	}
}

func TestExchange_PositionFlipAndClose(t *testing.T) {
	ex := New(testConfig(AckSync), nil)
	defer ex.Close()
	ctx := context.Background()

	ex.SetPrice("BTCUSDT", d("100"))
	_, _ = ex.Execute(ctx, buy("o1", "BTCUSDT", "1"))
	ex.SetPrice("BTCUSDT", d("200"))
	_, _ = ex.Execute(ctx, buy("o2", "BTCUSDT", "1"))

	positions, _ := ex.Positions(ctx)
	if !positions[0].EntryPrice.Equal(d("150")) {
		t.Errorf("entry = %s, want 150", positions[0].EntryPrice)
	}

	_, _ = ex.Execute(ctx, sell("o3", "BTCUSDT", "3"))
	positions, _ = ex.Positions(ctx)
	if !positions[0].Quantity.Equal(d("-1")) || !positions[0].EntryPrice.Equal(d("200")) {
		t.Errorf("position = %+v, want -1 @ 200", positions[0])
	}

	_, _ = ex.Execute(ctx, buy("o4", "BTCUSDT", "1"))
	positions, _ = ex.Positions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions = %+v, want flat", positions)
	}
}

func TestExchange_ReconnectHandlers(t *testing.T) {
	ex := New(testConfig(AckSync), nil)
	defer ex.Close()

	var calls atomic.Int32
	ex.OnReconnect(func() { calls.Add(1) })

	ex.Disconnect()
	if ex.IsConnected() {
		t.Error("expected disconnected")
	}
	ex.Reconnect()

	if calls.Load() != 1 {
		t.Errorf("reconnect handler calls = %d, want 1", calls.Load())
	}
	if ex.State() != broker.StateConnected {
		t.Errorf("State() = %v, want connected", ex.State())
	}
}

func TestExchange_QueryFailure(t *testing.T) {
	ex := New(testConfig(AckSync), nil)
	defer ex.Close()

	ex.FailQueries(errors.New("maintenance"))
	if _, err := ex.Positions(context.Background()); err == nil {
		t.Error("expected query error")
	}
	ex.FailQueries(nil)
	if _, err := ex.Positions(context.Background()); err != nil {
		t.Errorf("Positions() error = %v", err)
	}
}

func TestExchange_CloseStopsFills(t *testing.T) {
	cfg := testConfig(AckAsync)
	cfg.FillDelay = time.Hour
	ex := New(cfg, nil)
	ex.SetPrice("BTCUSDT", d("100"))

	if _, err := ex.Execute(context.Background(), buy("o1", "BTCUSDT", "1")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = ex.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}

	if _, ok := <-ex.Fills(); ok {
		t.Error("fill channel should be closed")
	}
	if ex.InjectFill(types.Fill{OrderID: "x", Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d("1"), Price: d("1")}) {
		t.Error("InjectFill after Close should report false")
	}
	// Idempotent
	if err := ex.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestBaseAsset(t *testing.T) {
	tests := []struct {
		symbol, quote, want string
	}{
		{"BTCUSDT", "USDT", "BTC"},
		{"ethusdt", "USDT", "ETH"},
		{"USDT", "USDT", "USDT"},
		{"BTCEUR", "USDT", "BTCEUR"},
	}
	for _, tt := range tests {
		if got := baseAsset(tt.symbol, tt.quote); got != tt.want {
			t.Errorf("baseAsset(%s) = %s, want %s", tt.symbol, got, tt.want)
		}
	}
}
