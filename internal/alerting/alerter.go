// Package alerting sends operator notifications for pipeline conditions.
package alerting

import (
	"context"
	"fmt"
	"strings"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Field represents a key-value pair for structured alert data.
type Field struct {
	Key   string
	Value any
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent identifies a pipeline condition worth notifying about.
type AlertEvent string

const (
	// EventReconciliation is sent when exchange data disagrees with the ledger.
	EventReconciliation AlertEvent = "reconciliation_warning"
	// EventReservationExpired is sent when a reservation times out.
	EventReservationExpired AlertEvent = "reservation_expired"
	// EventExecutionFailed is sent when an order could not be delivered.
	EventExecutionFailed AlertEvent = "execution_failed"
	// EventOrderRejected is sent when the exchange refuses an order.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventRiskRejected is sent when the risk engine refuses an intent.
	EventRiskRejected AlertEvent = "risk_rejected"
	// EventDailySummary is sent when the trading day rolls over.
	EventDailySummary AlertEvent = "daily_summary"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventReconciliation:
		return SeverityHigh
	case EventExecutionFailed, EventReservationExpired, EventOrderRejected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO", "":
		return SeverityInfo, nil
	case "WARNING", "WARN":
		return SeverityWarning, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}
