package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MultiRecorder fans records out to several sinks concurrently.
type MultiRecorder struct {
	mu        sync.RWMutex
	recorders []Recorder
	logger    *slog.Logger
}

// NewMultiRecorder creates a fan-out recorder.
func NewMultiRecorder(logger *slog.Logger, recorders ...Recorder) *MultiRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiRecorder{
		recorders: recorders,
		logger:    logger,
	}
}

// Name returns the name of the recorder.
func (m *MultiRecorder) Name() string {
	return "multi"
}

// Add adds a sink.
func (m *MultiRecorder) Add(r Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorders = append(m.recorders, r)
}

// Len returns the number of sinks.
func (m *MultiRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recorders)
}

// fanOut calls fn on every sink and joins the errors.
func (m *MultiRecorder) fanOut(kind Kind, fn func(Recorder) error) error {
	m.mu.RLock()
	recorders := make([]Recorder, len(m.recorders))
	copy(recorders, m.recorders)
	m.mu.RUnlock()

	if len(recorders) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(recorders))

	for _, rec := range recorders {
		wg.Add(1)
		go func(r Recorder) {
			defer wg.Done()
			if err := fn(r); err != nil {
				m.logger.Error("audit sink failed",
					"sink", r.Name(),
					"kind", kind,
					"err", err,
				)
				errCh <- err
			}
		}(rec)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RecordRiskRejected implements Recorder.
func (m *MultiRecorder) RecordRiskRejected(ctx context.Context, r RiskRejected) error {
	return m.fanOut(KindRiskRejected, func(rec Recorder) error { return rec.RecordRiskRejected(ctx, r) })
}

// RecordExecutionResult implements Recorder.
func (m *MultiRecorder) RecordExecutionResult(ctx context.Context, r ExecutionRecord) error {
	return m.fanOut(KindExecutionResult, func(rec Recorder) error { return rec.RecordExecutionResult(ctx, r) })
}

// RecordReservationExpired implements Recorder.
func (m *MultiRecorder) RecordReservationExpired(ctx context.Context, r ExpiredOrder) error {
	return m.fanOut(KindReservationExpired, func(rec Recorder) error { return rec.RecordReservationExpired(ctx, r) })
}

// RecordReconciliationWarning implements Recorder.
func (m *MultiRecorder) RecordReconciliationWarning(ctx context.Context, r ReconciliationWarning) error {
	return m.fanOut(KindReconciliationWarning, func(rec Recorder) error { return rec.RecordReconciliationWarning(ctx, r) })
}
