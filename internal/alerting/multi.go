package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// SummarySender is implemented by alerters with a dedicated layout for
// the daily summary.
type SummarySender interface {
	SendDailySummary(ctx context.Context, summary DailySummary) error
}

// MultiAlerter sends alerts to multiple channels.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a new multi-channel alerter.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		logger:   logger,
	}
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter adds a new alerter to the multi-alerter.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Len returns the number of channels.
func (m *MultiAlerter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerters)
}

// Alert sends an alert to all configured channels.
// Returns an error if any channel fails (errors are joined).
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return m.fanOut(severity, func(a Alerter) error {
		return a.Alert(ctx, severity, message, fields...)
	})
}

// AlertEvent sends an alert for a predefined event type.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	fields = append([]any{"event", string(event)}, fields...)
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}

// SendDailySummary sends the summary to every channel. Channels without a
// summary layout get it as an info alert.
func (m *MultiAlerter) SendDailySummary(ctx context.Context, summary DailySummary) error {
	return m.fanOut(SeverityInfo, func(a Alerter) error {
		if s, ok := a.(SummarySender); ok {
			return s.SendDailySummary(ctx, summary)
		}
		return a.Alert(ctx, SeverityInfo, "daily risk summary", summary.Fields()...)
	})
}

func (m *MultiAlerter) fanOut(severity Severity, send func(Alerter) error) error {
	m.mu.RLock()
	alerters := make([]Alerter, len(m.alerters))
	copy(alerters, m.alerters)
	m.mu.RUnlock()

	if len(alerters) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(alerters))

	for _, alerter := range alerters {
		wg.Add(1)
		go func(a Alerter) {
			defer wg.Done()
			if err := send(a); err != nil {
				m.logger.Error("alerter failed",
					"alerter", a.Name(),
					"severity", severity.String(),
					"err", err,
				)
				errCh <- err
			}
		}(alerter)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
