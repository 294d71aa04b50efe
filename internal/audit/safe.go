package audit

import (
	"context"
	"log/slog"
)

// FailureCounter counts sink failures.
type FailureCounter interface {
	RecordAuditFailure(sink string)
}

// Safe wraps a Recorder so that failures are logged and counted, never
// returned. A nil Safe or nil inner recorder discards records.
type Safe struct {
	inner   Recorder
	logger  *slog.Logger
	counter FailureCounter
}

// NewSafe wraps r. counter may be nil.
func NewSafe(r Recorder, logger *slog.Logger, counter FailureCounter) *Safe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{inner: r, logger: logger, counter: counter}
}

func (s *Safe) handle(kind Kind, orderID string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("audit record failed",
		"sink", s.inner.Name(),
		"kind", kind,
		"order_id", orderID,
		"err", err,
	)
	if s.counter != nil {
		s.counter.RecordAuditFailure(s.inner.Name())
	}
}

// RiskRejected records a risk rejection.
func (s *Safe) RiskRejected(ctx context.Context, r RiskRejected) {
	if s == nil || s.inner == nil {
		return
	}
	s.handle(KindRiskRejected, r.Intent.ID, s.inner.RecordRiskRejected(ctx, r))
}

// ExecutionResult records an exchange answer or transport failure.
func (s *Safe) ExecutionResult(ctx context.Context, r ExecutionRecord) {
	if s == nil || s.inner == nil {
		return
	}
	s.handle(KindExecutionResult, r.Intent.ID, s.inner.RecordExecutionResult(ctx, r))
}

// ReservationExpired records a reservation released by the TTL sweeper.
func (s *Safe) ReservationExpired(ctx context.Context, r ExpiredOrder) {
	if s == nil || s.inner == nil {
		return
	}
	s.handle(KindReservationExpired, r.OrderID, s.inner.RecordReservationExpired(ctx, r))
}

// ReconciliationWarning records a fill that did not match the ledger.
func (s *Safe) ReconciliationWarning(ctx context.Context, r ReconciliationWarning) {
	if s == nil || s.inner == nil {
		return
	}
	s.handle(KindReconciliationWarning, r.OrderID, s.inner.RecordReconciliationWarning(ctx, r))
}
