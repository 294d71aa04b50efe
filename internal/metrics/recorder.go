package metrics

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordRiskApproved records an approved risk check.
func (r *Recorder) RecordRiskApproved() {
	RiskChecksTotal.WithLabelValues("approved", "").Inc()
}

// RecordRiskRejected records a rejected risk check.
func (r *Recorder) RecordRiskRejected(code string) {
	RiskChecksTotal.WithLabelValues("rejected", code).Inc()
}

// RecordReservations sets the outstanding reservation count.
func (r *Recorder) RecordReservations(n int) {
	ReservationsActive.Set(float64(n))
}

// RecordRelease records a reservation released without a fill.
func (r *Recorder) RecordRelease(reason string) {
	ReservationsReleasedTotal.WithLabelValues(reason).Inc()
}

// RecordDailyLoss records the daily realized loss.
func (r *Recorder) RecordDailyLoss(loss decimal.Decimal) {
	DailyLoss.Set(loss.InexactFloat64())
}

// RecordPositions replaces the per-symbol position gauges.
func (r *Recorder) RecordPositions(positions map[string]decimal.Decimal) {
	PositionQuantity.Reset()
	for symbol, qty := range positions {
		PositionQuantity.WithLabelValues(symbol).Set(qty.InexactFloat64())
	}
}

// RecordRebuild records a rebuild attempt.
func (r *Recorder) RecordRebuild(reason string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	} else {
		RiskStateInitialized.Set(1)
	}
	RebuildsTotal.WithLabelValues(reason, result).Inc()
}

// RecordExecution records an execution outcome.
func (r *Recorder) RecordExecution(symbol, side, status string) {
	ExecutionsTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordFill records a processed fill.
func (r *Recorder) RecordFill(outcome string) {
	FillsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconciliationWarning records a ledger mismatch.
func (r *Recorder) RecordReconciliationWarning() {
	ReconciliationWarningsTotal.Inc()
}

// RecordEvent records a processed market event on a shard.
func (r *Recorder) RecordEvent(shard int) {
	EventsProcessedTotal.WithLabelValues(strconv.Itoa(shard)).Inc()
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordAuditFailure records an audit sink failure.
func (r *Recorder) RecordAuditFailure(sink string) {
	AuditFailuresTotal.WithLabelValues(sink).Inc()
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveStage observes the elapsed time as latency of a pipeline stage.
func (t *Timer) ObserveStage(stage string) {
	StageLatency.WithLabelValues(stage).Observe(t.Elapsed().Seconds())
}
