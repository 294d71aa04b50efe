package alerting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/audit"
	"github.com/tathienbao/riskflow/internal/risk"
)

// AuditRecorder is an audit sink that raises alerts. Records below
// MinSeverity are dropped. Successful executions never alert.
type AuditRecorder struct {
	alerter        Alerter
	minSeverity    Severity
	dailyLossLimit decimal.Decimal
}

// NewAuditRecorder creates an audit sink that forwards to alerter.
func NewAuditRecorder(alerter Alerter, minSeverity Severity, dailyLossLimit decimal.Decimal) *AuditRecorder {
	return &AuditRecorder{
		alerter:        alerter,
		minSeverity:    minSeverity,
		dailyLossLimit: dailyLossLimit,
	}
}

var _ audit.Recorder = (*AuditRecorder)(nil)

// Name returns the sink name.
func (r *AuditRecorder) Name() string {
	return "alerts:" + r.alerter.Name()
}

func (r *AuditRecorder) raise(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	severity := EventSeverity(event)
	if severity < r.minSeverity {
		return nil
	}
	fields = append([]any{"event", string(event)}, fields...)
	return r.alerter.Alert(ctx, severity, message, fields...)
}

// RecordRiskRejected implements audit.Recorder.
func (r *AuditRecorder) RecordRiskRejected(ctx context.Context, rec audit.RiskRejected) error {
	return r.raise(ctx, EventRiskRejected, "order intent rejected by risk",
		"order_id", rec.Intent.ID,
		"symbol", rec.Intent.Symbol,
		"code", rec.Code,
		"reason", rec.Message,
	)
}

// RecordExecutionResult implements audit.Recorder.
func (r *AuditRecorder) RecordExecutionResult(ctx context.Context, rec audit.ExecutionRecord) error {
	switch {
	case rec.Err != "":
		return r.raise(ctx, EventExecutionFailed, "order could not be sent",
			"order_id", rec.Intent.ID,
			"symbol", rec.Intent.Symbol,
			"err", rec.Err,
		)
	case !rec.Result.Success:
		return r.raise(ctx, EventOrderRejected, "exchange rejected order",
			"order_id", rec.Intent.ID,
			"symbol", rec.Intent.Symbol,
			"reason", rec.Result.Error,
		)
	default:
		return nil
	}
}

// RecordReservationExpired implements audit.Recorder.
func (r *AuditRecorder) RecordReservationExpired(ctx context.Context, rec audit.ExpiredOrder) error {
	return r.raise(ctx, EventReservationExpired, "reservation expired without a final fill",
		"order_id", rec.OrderID,
		"symbol", rec.Symbol,
		"side", rec.Side.String(),
		"quantity", rec.Quantity.String(),
		"age", rec.ExpiredAt.Sub(rec.CreatedAt).Round(time.Millisecond).String(),
	)
}

// RecordReconciliationWarning implements audit.Recorder.
func (r *AuditRecorder) RecordReconciliationWarning(ctx context.Context, rec audit.ReconciliationWarning) error {
	return r.raise(ctx, EventReconciliation, "fill does not match the risk ledger",
		"order_id", rec.OrderID,
		"symbol", rec.Symbol,
		"quantity", rec.Quantity.String(),
		"reason", rec.Reason,
	)
}

// DailyClose sends the summary for the day that just ended. It ignores
// MinSeverity.
func (r *AuditRecorder) DailyClose(ctx context.Context, date time.Time, snap risk.Snapshot) error {
	summary := NewDailySummary(date, snap, r.dailyLossLimit)
	if s, ok := r.alerter.(SummarySender); ok {
		return s.SendDailySummary(ctx, summary)
	}
	return r.alerter.Alert(ctx, SeverityInfo, "daily risk summary", summary.Fields()...)
}
