package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tathienbao/riskflow/internal/broker/paper"
	"github.com/tathienbao/riskflow/internal/observer"
	"github.com/tathienbao/riskflow/internal/persistence"
	"github.com/tathienbao/riskflow/internal/risk"
	"github.com/tathienbao/riskflow/internal/types"
)

// memCheckpoints is an in-memory Checkpointer.
type memCheckpoints struct {
	mu    sync.Mutex
	cp    *persistence.Checkpoint
	saves int
}

func (m *memCheckpoints) SaveCheckpoint(_ context.Context, cp persistence.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = &cp
	m.saves++
	return nil
}

func (m *memCheckpoints) LoadCheckpoint(context.Context) (*persistence.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return nil, persistence.ErrNotFound
	}
	cp := *m.cp
	return &cp, nil
}

func (m *memCheckpoints) Last() (persistence.Checkpoint, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return persistence.Checkpoint{}, m.saves
	}
	return *m.cp, m.saves
}

type runtimeFixture struct {
	rt    *Runtime
	coord *risk.Coordinator
	ex    *paper.Exchange
	cps   *memCheckpoints
}

func newRuntimeFixture(t *testing.T, mode paper.AckMode, strat *mockStrategy, src observer.Source) runtimeFixture {
	t.Helper()
	ex := newPaper(t, mode)
	coord := newTestCoordinator(t, testRiskConfig(), 0, ex)
	exec := NewExecutionService(strat, coord, ex, nil, nil, nil)
	cps := &memCheckpoints{}

	cfg := DefaultRuntimeConfig()
	cfg.CheckpointInterval = 0
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.RebuildRetryBackoff = 10 * time.Millisecond
	cfg.RebuildRetryMaxBackoff = 40 * time.Millisecond

	rt := NewRuntime(cfg, Components{
		Coordinator: coord,
		Consumer:    NewConsumer(DefaultConsumerConfig(), src, exec, nil, nil),
		Lifecycle:   NewLifecycleService(DefaultLifecycleConfig(), coord, nil, nil, nil),
		Fills:       NewFillProcessor(coord, nil, nil, nil),
		FillSource:  ex,
		Reconnects:  ex,
		Checkpoints: cps,
	}, nil)
	return runtimeFixture{rt: rt, coord: coord, ex: ex, cps: cps}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRuntime_ReplayWithAsyncFills(t *testing.T) {
	strat := &mockStrategy{}
	strat.Add(buyIntent("o1", "BTCUSDT", "0.5"))
	src := observer.NewReplaySource([]types.MarketEvent{btcEvent("42000"), btcEvent("42010")}, 0)

	f := newRuntimeFixture(t, paper.AckAsync, strat, src)
	ctx := context.Background()

	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !f.rt.IsRunning() || !f.coord.IsInitialized() {
		t.Fatal("runtime should be running with an initialized ledger")
	}

	select {
	case <-f.rt.ConsumerDone():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish the replay")
	}

	waitFor(t, "fill to settle the reservation", func() bool {
		return len(f.coord.Reservations()) == 0
	})
	if pos := f.coord.Snapshot().Positions["BTCUSDT"]; !pos.Equal(d("0.5")) {
		t.Errorf("position = %s, want 0.5", pos)
	}

	if err := f.rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if f.rt.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if _, saves := f.cps.Last(); saves == 0 {
		t.Error("Stop() should save a checkpoint")
	}
}

func TestRuntime_StartTwice(t *testing.T) {
	f := newRuntimeFixture(t, paper.AckSync, &mockStrategy{}, observer.NewReplaySource(nil, 0))
	ctx := context.Background()

	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = f.rt.Stop(ctx) }()

	if err := f.rt.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestRuntime_StartupRebuildRetriesUntilExchangeRecovers(t *testing.T) {
	f := newRuntimeFixture(t, paper.AckSync, &mockStrategy{}, observer.NewReplaySource(nil, 0))
	f.ex.FailQueries(errors.New("exchange briefly down"))
	time.AfterFunc(50*time.Millisecond, func() { f.ex.FailQueries(nil) })

	ctx := context.Background()
	started := time.Now()
	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v, want retry until success", err)
	}
	defer func() { _ = f.rt.Stop(ctx) }()

	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Errorf("Start() returned after %s, before the exchange recovered", elapsed)
	}
	if !f.rt.IsRunning() {
		t.Error("runtime should run after the rebuild recovered")
	}
	if !f.coord.IsInitialized() {
		t.Error("ledger should be initialized after the rebuild recovered")
	}
}

func TestRuntime_StartupRebuildGivesUpWhenCanceled(t *testing.T) {
	f := newRuntimeFixture(t, paper.AckSync, &mockStrategy{}, observer.NewReplaySource(nil, 0))
	f.ex.FailQueries(errors.New("exchange down"))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := f.rt.Start(ctx)
	if err == nil {
		t.Fatal("Start() error = nil, want failure once the context ends")
	}
	if f.rt.IsRunning() {
		t.Error("runtime must not run after a failed startup rebuild")
	}
	if f.coord.IsInitialized() {
		t.Error("ledger must not be marked initialized")
	}
}

func TestRuntime_ResyncRetriesAfterFailure(t *testing.T) {
	feed := make(chan types.MarketEvent)
	f := newRuntimeFixture(t, paper.AckNone, &mockStrategy{}, observer.NewChannelSource("live", feed))
	f.ex.SetPrice("BTCUSDT", d("100"))
	ctx := context.Background()

	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = f.rt.Stop(ctx) }()

	if _, err := f.ex.Execute(ctx, buyIntent("offline", "BTCUSDT", "0.2")); err != nil {
		t.Fatal(err)
	}
	f.ex.FailQueries(errors.New("account endpoint down"))
	f.ex.Disconnect()
	f.ex.Reconnect()

	time.Sleep(30 * time.Millisecond)
	if _, ok := f.coord.Reservation("offline"); ok {
		t.Fatal("resync cannot succeed while queries fail")
	}

	f.ex.FailQueries(nil)
	waitFor(t, "a later resync attempt to adopt the open order", func() bool {
		_, ok := f.coord.Reservation("offline")
		return ok
	})
}

func TestRuntime_ReconnectTriggersResync(t *testing.T) {
	feed := make(chan types.MarketEvent)
	f := newRuntimeFixture(t, paper.AckNone, &mockStrategy{}, observer.NewChannelSource("live", feed))
	f.ex.SetPrice("BTCUSDT", d("100"))
	ctx := context.Background()

	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = f.rt.Stop(ctx) }()

	// An order the ledger never saw, then a stream drop.
	if _, err := f.ex.Execute(ctx, buyIntent("offline", "BTCUSDT", "0.2")); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.coord.Reservation("offline"); ok {
		t.Fatal("unexpected reservation before resync")
	}
	f.ex.Disconnect()
	f.ex.Reconnect()

	waitFor(t, "resync to adopt the open order", func() bool {
		_, ok := f.coord.Reservation("offline")
		return ok
	})
}

func TestRuntime_RestoresCurrentCheckpoint(t *testing.T) {
	clock := newManualClock()
	f := newRuntimeFixture(t, paper.AckSync, &mockStrategy{}, observer.NewReplaySource(nil, 0))
	f.rt.SetClock(clock.Now)
	_ = f.cps.SaveCheckpoint(context.Background(), persistence.Checkpoint{
		Day:       persistence.DayKey(clock.Now()),
		DailyLoss: d("250"),
	})

	ctx := context.Background()
	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if loss := f.coord.DailyLoss(); !loss.Equal(d("250")) {
		t.Errorf("DailyLoss() = %s, want 250", loss)
	}
	if err := f.rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	cp, _ := f.cps.Last()
	if cp.Day != "2024-03-01" || !cp.DailyLoss.Equal(d("250")) {
		t.Errorf("saved checkpoint = %+v", cp)
	}
}

func TestRuntime_IgnoresStaleCheckpoint(t *testing.T) {
	clock := newManualClock()
	f := newRuntimeFixture(t, paper.AckSync, &mockStrategy{}, observer.NewReplaySource(nil, 0))
	f.rt.SetClock(clock.Now)
	_ = f.cps.SaveCheckpoint(context.Background(), persistence.Checkpoint{
		Day:       "2024-02-29",
		DailyLoss: d("250"),
	})

	ctx := context.Background()
	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = f.rt.Stop(ctx) }()

	if loss := f.coord.DailyLoss(); !loss.IsZero() {
		t.Errorf("DailyLoss() = %s, want 0 from a stale checkpoint", loss)
	}
}

func TestRuntime_CloseDayReportsEndedDay(t *testing.T) {
	clock := newManualClock()
	f := newRuntimeFixture(t, paper.AckSync, &mockStrategy{}, observer.NewReplaySource(nil, 0))
	f.rt.SetClock(clock.Now)
	f.coord.RestoreDailyLoss(d("75"))

	var (
		gotDay  time.Time
		gotSnap risk.Snapshot
	)
	f.rt.c.DailyClose = func(_ context.Context, day time.Time, snap risk.Snapshot) error {
		gotDay, gotSnap = day, snap
		return errors.New("channel down")
	}

	clock.Advance(12*time.Hour + time.Millisecond)
	f.rt.closeDay(context.Background())

	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !gotDay.Equal(want) {
		t.Errorf("day = %v, want %v", gotDay, want)
	}
	if !gotSnap.DailyLoss.Equal(d("75")) {
		t.Errorf("snapshot daily loss = %s, want 75", gotSnap.DailyLoss)
	}
}

func TestUntilNextUTCMidnight(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"noon", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 12 * time.Hour},
		{"midnight", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 24 * time.Hour},
		{"last second", time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC), time.Second},
		{"month end", time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC), 6 * time.Hour},
		{"non-UTC input", time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("UTC+2", 2*3600)), 14 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := untilNextUTCMidnight(tt.now); got != tt.want {
				t.Errorf("untilNextUTCMidnight() = %v, want %v", got, tt.want)
			}
		})
	}
}
