package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to the log. It is the default channel when
// no external service is configured.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a new console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("component", "alerts")}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs the alert at a level matching its severity.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, "severity", severity.String())
	attrs = append(attrs, fields...)

	level := slog.LevelInfo
	switch {
	case severity >= SeverityCritical:
		level = slog.LevelError
	case severity >= SeverityWarning:
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "[ALERT] "+message, attrs...)
	return nil
}
