package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestSide_String tests Side string conversion.
func TestSide_String(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideBuy, "BUY"},
		{SideSell, "SELL"},
		{Side(0), "UNKNOWN"},
		{Side(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.side.String()
		if got != tt.want {
			t.Errorf("Side(%d).String() = %s, want %s", tt.side, got, tt.want)
		}
	}
}

func TestSide_Sign(t *testing.T) {
	if got := SideBuy.Sign(); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("SideBuy.Sign() = %s, want 1", got)
	}
	if got := SideSell.Sign(); !got.Equal(decimal.NewFromInt(-1)) {
		t.Errorf("SideSell.Sign() = %s, want -1", got)
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite() did not flip side")
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"buy", SideBuy, false},
		{" SELL ", SideSell, false},
		{"Buy", SideBuy, false},
		{"long", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSide(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidIntent) {
			t.Errorf("ParseSide(%q) err = %v, want ErrInvalidIntent", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseSide(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSide_JSONRoundTrip(t *testing.T) {
	price := decimal.RequireFromString("65000.5")
	intent := OrderIntent{
		ID:         "ord-1",
		StrategyID: "crossover",
		Symbol:     "BTCUSDT",
		Side:       SideSell,
		Quantity:   decimal.RequireFromString("0.25"),
		Price:      &price,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got OrderIntent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Side != SideSell {
		t.Errorf("Side = %v, want SELL", got.Side)
	}
	if got.Price == nil || !got.Price.Equal(price) {
		t.Errorf("Price = %v, want %s", got.Price, price)
	}
}

// TestOrderStatus_IsFinal tests terminal state detection.
func TestOrderStatus_IsFinal(t *testing.T) {
	tests := []struct {
		status    OrderStatus
		wantFinal bool
		wantOpen  bool
	}{
		{OrderStatusNew, false, true},
		{OrderStatusPartiallyFilled, false, true},
		{OrderStatusFilled, true, false},
		{OrderStatusCanceled, true, false},
		{OrderStatusRejected, true, false},
		{OrderStatusExpired, true, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsFinal(); got != tt.wantFinal {
			t.Errorf("%s.IsFinal() = %v, want %v", tt.status, got, tt.wantFinal)
		}
		if got := tt.status.IsOpen(); got != tt.wantOpen {
			t.Errorf("%s.IsOpen() = %v, want %v", tt.status, got, tt.wantOpen)
		}
	}
}

func TestOrderIntent_Validate(t *testing.T) {
	negative := decimal.NewFromInt(-1)
	valid := OrderIntent{
		ID:       "a",
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Quantity: decimal.RequireFromString("0.1"),
	}

	tests := []struct {
		name    string
		mutate  func(i *OrderIntent)
		wantErr bool
	}{
		{"valid", func(i *OrderIntent) {}, false},
		{"missing id", func(i *OrderIntent) { i.ID = "" }, true},
		{"missing symbol", func(i *OrderIntent) { i.Symbol = "" }, true},
		{"bad side", func(i *OrderIntent) { i.Side = 0 }, true},
		{"zero quantity", func(i *OrderIntent) { i.Quantity = decimal.Zero }, true},
		{"negative price", func(i *OrderIntent) { i.Price = &negative }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := valid
			tt.mutate(&intent)
			err := intent.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidIntent) {
				t.Errorf("Validate() error = %v, want ErrInvalidIntent", err)
			}
		})
	}
}

func TestOrderIntent_SignedQuantityAndNotional(t *testing.T) {
	price := decimal.NewFromInt(100)
	intent := OrderIntent{Side: SideSell, Quantity: decimal.RequireFromString("1.5"), Price: &price}

	if got := intent.SignedQuantity(); !got.Equal(decimal.RequireFromString("-1.5")) {
		t.Errorf("SignedQuantity() = %s, want -1.5", got)
	}
	if got := intent.Notional(); !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Notional() = %s, want 150", got)
	}

	intent.Price = nil
	if got := intent.Notional(); !got.IsZero() {
		t.Errorf("Notional() without price = %s, want 0", got)
	}
}

func TestOpenOrder_Remaining(t *testing.T) {
	o := OpenOrder{Quantity: decimal.NewFromInt(2), FilledQuantity: decimal.RequireFromString("0.5")}
	if got := o.Remaining(); !got.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Remaining() = %s, want 1.5", got)
	}

	o.FilledQuantity = decimal.NewFromInt(3)
	if got := o.Remaining(); !got.IsZero() {
		t.Errorf("Remaining() overfilled = %s, want 0", got)
	}
}
