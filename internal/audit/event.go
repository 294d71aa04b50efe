package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Event is the flat, storable form of any audit record.
type Event struct {
	ID         string
	Kind       Kind
	OrderID    string
	Symbol     string
	Side       string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Code       string
	Message    string
	Detail     string // JSON
	OccurredAt time.Time
}

// NewEventID returns a time-sortable event id for at.
func NewEventID(at time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(at.UTC()), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	return id.String(), nil
}

func newEvent(kind Kind, at time.Time, detail any) (Event, error) {
	if at.IsZero() {
		at = time.Now()
	}
	id, err := NewEventID(at)
	if err != nil {
		return Event{}, err
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s detail: %w", kind, err)
	}
	return Event{ID: id, Kind: kind, OccurredAt: at.UTC(), Detail: string(raw)}, nil
}

// EventFromRiskRejected flattens a rejection.
func EventFromRiskRejected(r RiskRejected) (Event, error) {
	ev, err := newEvent(KindRiskRejected, r.At, map[string]any{
		"rule":        r.Rule,
		"strategy_id": r.Intent.StrategyID,
		"confidence":  r.Intent.Confidence,
	})
	if err != nil {
		return Event{}, err
	}
	ev.OrderID = r.Intent.ID
	ev.Symbol = r.Intent.Symbol
	ev.Side = r.Intent.Side.String()
	ev.Quantity = r.Intent.Quantity
	if r.Intent.Price != nil {
		ev.Price = *r.Intent.Price
	}
	ev.Code = r.Code
	ev.Message = r.Message
	return ev, nil
}

// EventFromExecution flattens an execution outcome.
func EventFromExecution(r ExecutionRecord) (Event, error) {
	ev, err := newEvent(KindExecutionResult, r.At, map[string]any{
		"exchange_order_id": r.Result.OrderID,
		"status":            r.Result.Status,
		"success":           r.Succeeded(),
		"requested":         r.Intent.Quantity.String(),
	})
	if err != nil {
		return Event{}, err
	}
	ev.OrderID = r.Intent.ID
	ev.Symbol = r.Intent.Symbol
	ev.Side = r.Intent.Side.String()
	ev.Quantity = r.Result.FilledQuantity
	ev.Price = r.Result.AvgPrice
	ev.Code = string(r.Result.Status)
	switch {
	case r.Err != "":
		ev.Message = r.Err
	case r.Result.Error != "":
		ev.Message = r.Result.Error
	}
	return ev, nil
}

// EventFromExpired flattens a TTL release.
func EventFromExpired(r ExpiredOrder) (Event, error) {
	ev, err := newEvent(KindReservationExpired, r.ExpiredAt, map[string]any{
		"created_at": r.CreatedAt.UTC(),
		"age_ms":     r.ExpiredAt.Sub(r.CreatedAt).Milliseconds(),
	})
	if err != nil {
		return Event{}, err
	}
	ev.OrderID = r.OrderID
	ev.Symbol = r.Symbol
	ev.Side = r.Side.String()
	ev.Quantity = r.Quantity
	ev.Code = "timeout"
	return ev, nil
}

// EventFromReconciliation flattens a reconciliation warning.
func EventFromReconciliation(r ReconciliationWarning) (Event, error) {
	ev, err := newEvent(KindReconciliationWarning, r.At, map[string]any{
		"signed_quantity": r.Quantity.String(),
	})
	if err != nil {
		return Event{}, err
	}
	ev.OrderID = r.OrderID
	ev.Symbol = r.Symbol
	if r.Quantity.IsNegative() {
		ev.Side = "SELL"
	} else {
		ev.Side = "BUY"
	}
	ev.Quantity = r.Quantity.Abs()
	ev.Price = r.Price
	ev.Code = "reconciliation"
	ev.Message = r.Reason
	return ev, nil
}
