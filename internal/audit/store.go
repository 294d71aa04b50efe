package audit

import (
	"context"
	"time"
)

// Filter narrows a store query. Zero values match everything.
type Filter struct {
	Kind    Kind
	OrderID string
	Symbol  string
	Since   time.Time
	Limit   int
}

// Store persists flattened audit events.
type Store interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
	Close() error
}

// StoreRecorder flattens records into events and appends them to a Store.
type StoreRecorder struct {
	store Store
	name  string
}

// NewStoreRecorder creates a recorder backed by store. name labels the
// sink, e.g. "sqlite".
func NewStoreRecorder(store Store, name string) *StoreRecorder {
	if name == "" {
		name = "store"
	}
	return &StoreRecorder{store: store, name: name}
}

// Name returns the name of the recorder.
func (s *StoreRecorder) Name() string {
	return s.name
}

func (s *StoreRecorder) append(ctx context.Context, ev Event, err error) error {
	if err != nil {
		return err
	}
	return s.store.Append(ctx, ev)
}

// RecordRiskRejected implements Recorder.
func (s *StoreRecorder) RecordRiskRejected(ctx context.Context, r RiskRejected) error {
	ev, err := EventFromRiskRejected(r)
	return s.append(ctx, ev, err)
}

// RecordExecutionResult implements Recorder.
func (s *StoreRecorder) RecordExecutionResult(ctx context.Context, r ExecutionRecord) error {
	ev, err := EventFromExecution(r)
	return s.append(ctx, ev, err)
}

// RecordReservationExpired implements Recorder.
func (s *StoreRecorder) RecordReservationExpired(ctx context.Context, r ExpiredOrder) error {
	ev, err := EventFromExpired(r)
	return s.append(ctx, ev, err)
}

// RecordReconciliationWarning implements Recorder.
func (s *StoreRecorder) RecordReconciliationWarning(ctx context.Context, r ReconciliationWarning) error {
	ev, err := EventFromReconciliation(r)
	return s.append(ctx, ev, err)
}
