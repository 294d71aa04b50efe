package audit

import (
	"context"
	"sync"
)

// MockRecord is a captured audit record.
type MockRecord struct {
	Kind    Kind
	OrderID string
	Symbol  string
	Record  any
}

// MockRecorder captures records for tests. Setting Err makes every call
// fail after capturing.
type MockRecorder struct {
	mu      sync.Mutex
	records []MockRecord
	err     error
}

// NewMockRecorder creates a new mock recorder.
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{records: make([]MockRecord, 0)}
}

// Name returns the name of the recorder.
func (m *MockRecorder) Name() string {
	return "mock"
}

// FailWith makes subsequent calls return err.
func (m *MockRecorder) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockRecorder) capture(rec MockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

// RecordRiskRejected implements Recorder.
func (m *MockRecorder) RecordRiskRejected(_ context.Context, r RiskRejected) error {
	return m.capture(MockRecord{Kind: KindRiskRejected, OrderID: r.Intent.ID, Symbol: r.Intent.Symbol, Record: r})
}

// RecordExecutionResult implements Recorder.
func (m *MockRecorder) RecordExecutionResult(_ context.Context, r ExecutionRecord) error {
	return m.capture(MockRecord{Kind: KindExecutionResult, OrderID: r.Intent.ID, Symbol: r.Intent.Symbol, Record: r})
}

// RecordReservationExpired implements Recorder.
func (m *MockRecorder) RecordReservationExpired(_ context.Context, r ExpiredOrder) error {
	return m.capture(MockRecord{Kind: KindReservationExpired, OrderID: r.OrderID, Symbol: r.Symbol, Record: r})
}

// RecordReconciliationWarning implements Recorder.
func (m *MockRecorder) RecordReconciliationWarning(_ context.Context, r ReconciliationWarning) error {
	return m.capture(MockRecord{Kind: KindReconciliationWarning, OrderID: r.OrderID, Symbol: r.Symbol, Record: r})
}

// Records returns all captured records.
func (m *MockRecorder) Records() []MockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Count returns the number of captured records.
func (m *MockRecorder) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// CountKind returns the number of captured records of kind.
func (m *MockRecorder) CountKind(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// ByKind returns the captured records of kind in order.
func (m *MockRecorder) ByKind(kind Kind) []MockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockRecord
	for _, r := range m.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Last returns the last captured record, or nil if none.
func (m *MockRecorder) Last() *MockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil
	}
	last := m.records[len(m.records)-1]
	return &last
}

// Clear drops all captured records.
func (m *MockRecorder) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = m.records[:0]
}
