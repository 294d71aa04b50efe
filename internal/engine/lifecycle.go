package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tathienbao/riskflow/internal/audit"
	"github.com/tathienbao/riskflow/internal/metrics"
	"github.com/tathienbao/riskflow/internal/risk"
	"github.com/tathienbao/riskflow/internal/types"
)

// LifecycleConfig holds reservation sweeper settings. The TTL itself is
// attached to each reservation by the coordinator.
type LifecycleConfig struct {
	Enabled       bool
	CheckInterval time.Duration
	// ResyncOnTimeout rebuilds the ledger from the exchange after a sweep
	// that released anything.
	ResyncOnTimeout bool
}

// DefaultLifecycleConfig returns default sweeper settings.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Enabled:       true,
		CheckInterval: 30 * time.Second,
	}
}

// LifecycleService releases reservations that outlive their TTL.
type LifecycleService struct {
	cfg      LifecycleConfig
	coord    *risk.Coordinator
	audit    *audit.Safe
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewLifecycleService creates a sweeper.
func NewLifecycleService(cfg LifecycleConfig, coord *risk.Coordinator, auditor *audit.Safe, recorder *metrics.Recorder, logger *slog.Logger) *LifecycleService {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultLifecycleConfig().CheckInterval
	}
	return &LifecycleService{
		cfg:      cfg,
		coord:    coord,
		audit:    auditor,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *LifecycleService) SetClock(now func() time.Time) {
	l.now = now
}

// Enabled reports whether the sweeper runs.
func (l *LifecycleService) Enabled() bool {
	return l.cfg.Enabled
}

// Run sweeps on every tick until ctx is done. It returns immediately when
// the service is disabled.
func (l *LifecycleService) Run(ctx context.Context) error {
	if !l.cfg.Enabled {
		l.logger.Info("order lifecycle sweeper disabled")
		return nil
	}

	l.logger.Info("order lifecycle sweeper started", "check_interval", l.cfg.CheckInterval)

	ticker := time.NewTicker(l.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("order lifecycle sweeper stopped")
			return nil
		case <-ticker.C:
			l.SweepOnce(ctx, l.now())
		}
	}
}

// SweepOnce releases every reservation expired at now and returns how many
// were released.
func (l *LifecycleService) SweepOnce(ctx context.Context, now time.Time) int {
	released := 0
	for _, r := range l.coord.Expired(now) {
		if !l.coord.Release(r.OrderID, risk.ReleaseTimeout) {
			continue // resolved concurrently
		}
		released++

		l.recorder.RecordRelease(string(risk.ReleaseTimeout))
		l.logger.Warn("reservation expired",
			"order_id", r.OrderID,
			"symbol", r.Symbol,
			"side", r.Side.String(),
			"remaining", r.Remaining,
			"age", r.Age(now),
			"ttl", r.TTL,
			"err", fmt.Errorf("%w: %s", types.ErrReservationTimeout, r.OrderID),
		)
		l.audit.ReservationExpired(ctx, audit.ExpiredOrder{
			OrderID:   r.OrderID,
			Symbol:    r.Symbol,
			Side:      r.Side,
			Quantity:  r.Remaining,
			CreatedAt: r.CreatedAt,
			ExpiredAt: now,
		})
	}

	if released > 0 && l.cfg.ResyncOnTimeout {
		err := l.coord.Rebuild(ctx, risk.RebuildResync)
		l.recorder.RecordRebuild(string(risk.RebuildResync), err)
		if err != nil {
			l.logger.Error("resync after timeout failed", "err", err)
		}
	}

	recordLedger(l.coord, l.recorder)
	return released
}

// recordLedger publishes the ledger gauges.
func recordLedger(coord *risk.Coordinator, recorder *metrics.Recorder) {
	snap := coord.Snapshot()
	recorder.RecordReservations(snap.TotalOpenOrders)
	recorder.RecordDailyLoss(snap.DailyLoss)
	recorder.RecordPositions(snap.Positions)
}
