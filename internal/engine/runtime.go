package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/metrics"
	"github.com/tathienbao/riskflow/internal/persistence"
	"github.com/tathienbao/riskflow/internal/risk"
)

// Checkpointer persists the daily loss counter across restarts.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp persistence.Checkpoint) error
	LoadCheckpoint(ctx context.Context) (*persistence.Checkpoint, error)
}

// RuntimeConfig holds runtime settings.
type RuntimeConfig struct {
	// RebuildOnStart rebuilds the ledger from the exchange before any
	// event is consumed. Start retries until the rebuild succeeds or its
	// context ends.
	RebuildOnStart bool
	// RebuildTimeout bounds one rebuild attempt.
	RebuildTimeout time.Duration
	// RebuildRetryBackoff is the wait after the first failed attempt. It
	// doubles per failure up to RebuildRetryMaxBackoff.
	RebuildRetryBackoff    time.Duration
	RebuildRetryMaxBackoff time.Duration
	// DailyReset zeroes the daily loss at UTC midnight.
	DailyReset bool
	// CheckpointInterval is how often the daily loss is saved. Zero saves
	// only on reset and shutdown.
	CheckpointInterval time.Duration
	// ShutdownTimeout bounds how long Stop waits for loops to exit.
	ShutdownTimeout time.Duration
}

// DefaultRuntimeConfig returns default runtime settings.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		RebuildOnStart:         true,
		RebuildTimeout:         30 * time.Second,
		RebuildRetryBackoff:    time.Second,
		RebuildRetryMaxBackoff: 30 * time.Second,
		DailyReset:             true,
		CheckpointInterval:     time.Minute,
		ShutdownTimeout:        10 * time.Second,
	}
}

// DailyCloseFunc is called with the ledger just before the daily loss is
// reset. day is the UTC date that ended.
type DailyCloseFunc func(ctx context.Context, day time.Time, snap risk.Snapshot) error

// Components are the services a Runtime runs. Fills, Reconnects,
// Checkpoints and DailyClose are optional.
type Components struct {
	Coordinator *risk.Coordinator
	Consumer    *Consumer
	Lifecycle   *LifecycleService
	Fills       *FillProcessor
	FillSource  broker.FillSource
	Reconnects  broker.ReconnectNotifier
	Checkpoints Checkpointer
	DailyClose  DailyCloseFunc
	Recorder    *metrics.Recorder
}

// Runtime wires the pipeline services and owns their goroutines.
type Runtime struct {
	cfg    RuntimeConfig
	c      Components
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	started bool

	done         chan struct{}
	cancel       context.CancelFunc
	consumerDone chan struct{}
	reconnect    chan struct{}
	wg           sync.WaitGroup
}

// NewRuntime creates a runtime.
func NewRuntime(cfg RuntimeConfig, c Components, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Recorder == nil {
		c.Recorder = metrics.NewRecorder()
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = DefaultRuntimeConfig().RebuildTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultRuntimeConfig().ShutdownTimeout
	}
	if cfg.RebuildRetryBackoff <= 0 {
		cfg.RebuildRetryBackoff = DefaultRuntimeConfig().RebuildRetryBackoff
	}
	if cfg.RebuildRetryMaxBackoff < cfg.RebuildRetryBackoff {
		cfg.RebuildRetryMaxBackoff = cfg.RebuildRetryBackoff
	}
	return &Runtime{
		cfg:          cfg,
		c:            c,
		logger:       logger,
		now:          time.Now,
		done:         make(chan struct{}),
		consumerDone: make(chan struct{}),
		reconnect:    make(chan struct{}, 1),
	}
}

// Start restores the checkpoint, rebuilds the ledger and starts the
// consumer, sweeper, fill processor and housekeeping loops. A failing
// startup rebuild is retried with backoff; Start only gives up when ctx
// ends.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("runtime already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.started = true
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	r.restoreCheckpoint(ctx)

	if r.cfg.RebuildOnStart {
		if err := r.rebuildWithRetry(runCtx, risk.RebuildStartup); err != nil {
			cancel()
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return fmt.Errorf("startup rebuild: %w", err)
		}
	}
	recordLedger(r.c.Coordinator, r.c.Recorder)

	if r.c.Reconnects != nil {
		r.c.Reconnects.OnReconnect(r.requestResync)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.consumerDone)
		if err := r.c.Consumer.Run(runCtx); err != nil {
			r.logger.Error("consumer exited", "err", err)
		}
	}()

	if r.c.Lifecycle != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = r.c.Lifecycle.Run(runCtx)
		}()
	}

	if r.c.Fills != nil && r.c.FillSource != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = r.c.Fills.Run(runCtx, r.c.FillSource.Fills())
		}()
	}

	r.wg.Add(1)
	go r.resyncLoop(runCtx)

	if r.cfg.DailyReset {
		r.wg.Add(1)
		go r.dailyResetLoop(runCtx)
	}

	if r.c.Checkpoints != nil && r.cfg.CheckpointInterval > 0 {
		r.wg.Add(1)
		go r.checkpointLoop(runCtx)
	}

	r.logger.Info("runtime started",
		"reservations", len(r.c.Coordinator.Reservations()),
		"daily_loss", r.c.Coordinator.DailyLoss(),
	)
	return nil
}

// SetClock overrides the time source used for checkpoints and the daily
// reset. Call before Start.
func (r *Runtime) SetClock(now func() time.Time) {
	r.now = now
}

// ConsumerDone is closed when the consumer stops, e.g. because a replay
// source is exhausted.
func (r *Runtime) ConsumerDone() <-chan struct{} {
	return r.consumerDone
}

// Stop stops all loops and saves a final checkpoint. Outstanding
// reservations are left to the next startup rebuild.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.logger.Info("stopping runtime")

	close(r.done)
	r.cancel()

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()

	timeout := time.NewTimer(r.cfg.ShutdownTimeout)
	defer timeout.Stop()

	var err error
	select {
	case <-waited:
	case <-timeout.C:
		err = errors.New("runtime stop timed out")
	case <-ctx.Done():
		err = fmt.Errorf("runtime stop: %w", ctx.Err())
	}

	r.saveCheckpoint(context.WithoutCancel(ctx))
	recordLedger(r.c.Coordinator, r.c.Recorder)

	r.logger.Info("runtime stopped",
		"reservations_left", len(r.c.Coordinator.Reservations()),
		"daily_loss", r.c.Coordinator.DailyLoss(),
	)
	return err
}

// IsRunning returns true if the runtime is running.
func (r *Runtime) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runtime) rebuild(ctx context.Context, reason risk.RebuildReason) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RebuildTimeout)
	defer cancel()

	err := r.c.Coordinator.Rebuild(ctx, reason)
	r.c.Recorder.RecordRebuild(string(reason), err)
	return err
}

// rebuildWithRetry runs rebuild until it succeeds. It returns an error
// only when ctx ends or Stop is called.
func (r *Runtime) rebuildWithRetry(ctx context.Context, reason risk.RebuildReason) error {
	backoff := r.cfg.RebuildRetryBackoff
	for attempt := 1; ; attempt++ {
		err := r.rebuild(ctx, reason)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("risk state rebuild recovered", "reason", reason, "attempts", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		r.logger.Warn("risk state rebuild failed, retrying",
			"reason", reason,
			"attempt", attempt,
			"backoff", backoff,
			"err", err,
		)
		select {
		case <-r.done:
			return err
		default:
		}
		if !sleepCtx(ctx, backoff) {
			return err
		}
		backoff = min(backoff*2, r.cfg.RebuildRetryMaxBackoff)
	}
}

// requestResync is the reconnect callback. It never blocks the adapter.
func (r *Runtime) requestResync() {
	select {
	case r.reconnect <- struct{}{}:
	default:
	}
}

func (r *Runtime) resyncLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.reconnect:
			r.logger.Info("exchange reconnected, resyncing risk state")
			if err := r.rebuildWithRetry(ctx, risk.RebuildResync); err != nil {
				r.logger.Error("resync after reconnect abandoned", "err", err)
			}
		}
	}
}

func (r *Runtime) dailyResetLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		timer := time.NewTimer(untilNextUTCMidnight(r.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.done:
			timer.Stop()
			return
		case <-timer.C:
			r.closeDay(ctx)
			r.c.Coordinator.ResetDailyLoss()
			r.c.Recorder.RecordDailyLoss(r.c.Coordinator.DailyLoss())
			r.saveCheckpoint(ctx)
		}
	}
}

func (r *Runtime) closeDay(ctx context.Context) {
	if r.c.DailyClose == nil {
		return
	}
	day := r.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	if err := r.c.DailyClose(ctx, day, r.c.Coordinator.Snapshot()); err != nil {
		r.logger.Warn("daily close hook failed", "day", day.Format("2006-01-02"), "err", err)
	}
}

func (r *Runtime) checkpointLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.saveCheckpoint(ctx)
		}
	}
}

// restoreCheckpoint seeds the daily loss from today's checkpoint.
func (r *Runtime) restoreCheckpoint(ctx context.Context) {
	if r.c.Checkpoints == nil {
		return
	}
	cp, err := r.c.Checkpoints.LoadCheckpoint(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		return
	}
	if err != nil {
		r.logger.Warn("failed to load risk checkpoint", "err", err)
		return
	}
	if !cp.Current(r.now()) {
		r.logger.Info("ignoring stale risk checkpoint", "day", cp.Day)
		return
	}
	r.c.Coordinator.RestoreDailyLoss(cp.DailyLoss)
	r.logger.Info("daily loss restored from checkpoint", "day", cp.Day, "daily_loss", cp.DailyLoss)
}

func (r *Runtime) saveCheckpoint(ctx context.Context) {
	if r.c.Checkpoints == nil {
		return
	}
	now := r.now()
	cp := persistence.Checkpoint{
		Day:       persistence.DayKey(now),
		DailyLoss: r.c.Coordinator.DailyLoss(),
		UpdatedAt: now.UTC(),
	}
	if err := r.c.Checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		r.logger.Warn("failed to save risk checkpoint", "err", err)
		r.c.Recorder.RecordError("checkpoint")
	}
}

// untilNextUTCMidnight returns the wait from now to the next UTC day.
func untilNextUTCMidnight(now time.Time) time.Duration {
	utc := now.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(utc)
}
