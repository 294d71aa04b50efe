// Package persistence stores audit events and risk checkpoints.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/audit"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is an audit store that can also checkpoint the parts of the
// risk ledger an exchange cannot report back on rebuild.
type Repository interface {
	audit.Store

	// Checkpoint operations
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context) (*Checkpoint, error)

	// Lifecycle
	Migrate(ctx context.Context) error
}

// Checkpoint is the persisted daily loss counter. Day is the UTC trading
// day it belongs to, formatted as YYYY-MM-DD.
type Checkpoint struct {
	Day       string
	DailyLoss decimal.Decimal
	UpdatedAt time.Time
}

// DayKey returns the checkpoint day for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Current reports whether the checkpoint belongs to the day containing now.
func (c Checkpoint) Current(now time.Time) bool {
	return c.Day == DayKey(now)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
