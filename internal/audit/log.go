package audit

import (
	"context"
	"log/slog"
)

// LogRecorder writes audit records to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a logging recorder.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger.With("component", "audit")}
}

// Name returns the name of the recorder.
func (l *LogRecorder) Name() string {
	return "log"
}

// RecordRiskRejected implements Recorder.
func (l *LogRecorder) RecordRiskRejected(ctx context.Context, r RiskRejected) error {
	l.logger.Log(ctx, KindRiskRejected.Level(), "[AUDIT] risk rejected",
		"order_id", r.Intent.ID,
		"symbol", r.Intent.Symbol,
		"side", r.Intent.Side.String(),
		"quantity", r.Intent.Quantity.String(),
		"code", r.Code,
		"rule", r.Rule,
		"message", r.Message,
	)
	return nil
}

// RecordExecutionResult implements Recorder.
func (l *LogRecorder) RecordExecutionResult(ctx context.Context, r ExecutionRecord) error {
	level := KindExecutionResult.Level()
	if !r.Succeeded() {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "[AUDIT] execution result",
		"order_id", r.Intent.ID,
		"exchange_order_id", r.Result.OrderID,
		"symbol", r.Intent.Symbol,
		"side", r.Intent.Side.String(),
		"status", string(r.Result.Status),
		"filled", r.Result.FilledQuantity.String(),
		"avg_price", r.Result.AvgPrice.String(),
		"success", r.Succeeded(),
		"err", r.Err,
	)
	return nil
}

// RecordReservationExpired implements Recorder.
func (l *LogRecorder) RecordReservationExpired(ctx context.Context, r ExpiredOrder) error {
	l.logger.Log(ctx, KindReservationExpired.Level(), "[AUDIT] reservation expired",
		"order_id", r.OrderID,
		"symbol", r.Symbol,
		"side", r.Side.String(),
		"quantity", r.Quantity.String(),
		"age", r.ExpiredAt.Sub(r.CreatedAt).String(),
	)
	return nil
}

// RecordReconciliationWarning implements Recorder.
func (l *LogRecorder) RecordReconciliationWarning(ctx context.Context, r ReconciliationWarning) error {
	l.logger.Log(ctx, KindReconciliationWarning.Level(), "[AUDIT] reconciliation warning",
		"order_id", r.OrderID,
		"symbol", r.Symbol,
		"quantity", r.Quantity.String(),
		"price", r.Price.String(),
		"reason", r.Reason,
	)
	return nil
}
