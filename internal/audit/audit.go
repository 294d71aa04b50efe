// Package audit records risk and execution outcomes for later review.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
)

// Kind identifies an audit record type.
type Kind string

const (
	KindRiskRejected          Kind = "risk_rejected"
	KindExecutionResult       Kind = "execution_result"
	KindReservationExpired    Kind = "reservation_expired"
	KindReconciliationWarning Kind = "reconciliation_warning"
)

// Level returns the log level a record of this kind is written at.
func (k Kind) Level() slog.Level {
	switch k {
	case KindReconciliationWarning, KindReservationExpired:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Recorder receives audit records. Implementations may fail; callers in
// the pipeline go through Safe so failures never reach the trading path.
type Recorder interface {
	RecordRiskRejected(ctx context.Context, r RiskRejected) error
	RecordExecutionResult(ctx context.Context, r ExecutionRecord) error
	RecordReservationExpired(ctx context.Context, r ExpiredOrder) error
	RecordReconciliationWarning(ctx context.Context, r ReconciliationWarning) error
	// Name identifies the sink in logs and metrics.
	Name() string
}

// RiskRejected is an intent the risk engine refused.
type RiskRejected struct {
	Intent  types.OrderIntent
	Code    string
	Rule    string
	Message string
	At      time.Time
}

// ExecutionRecord is the outcome of sending an approved intent.
type ExecutionRecord struct {
	Intent types.OrderIntent
	Result types.ExecutionResult
	// Err is set when the executor itself failed.
	Err string
	At  time.Time
}

// Succeeded reports whether the exchange took the order.
func (r ExecutionRecord) Succeeded() bool {
	return r.Err == "" && r.Result.Success
}

// ExpiredOrder is a reservation released by the TTL sweeper.
type ExpiredOrder struct {
	OrderID   string
	Symbol    string
	Side      types.Side
	Quantity  decimal.Decimal
	CreatedAt time.Time
	ExpiredAt time.Time
}

// ReconciliationWarning flags data that did not match the ledger, such as
// a fill for an order with no reservation.
type ReconciliationWarning struct {
	OrderID  string
	Symbol   string
	Quantity decimal.Decimal // signed
	Price    decimal.Decimal
	Reason   string
	At       time.Time
}
