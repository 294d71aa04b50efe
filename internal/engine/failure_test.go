package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tathienbao/riskflow/internal/audit"
	"github.com/tathienbao/riskflow/internal/risk"
	"github.com/tathienbao/riskflow/internal/types"
)

func TestFailure_ConcurrentIntentsCannotOvershootLimit(t *testing.T) {
	for run := 0; run < 50; run++ {
		coord := newTestCoordinator(t, testRiskConfig(), 0, nil)
		mock := audit.NewMockRecorder()
		exec := &scriptedExecutor{result: types.ExecutionResult{Success: true, Status: types.ExecutionAccepted}}

		var seq atomic.Int32
		strat := intentStrategy{intent: func() types.OrderIntent {
			return buyIntent(fmt.Sprintf("o%d", seq.Add(1)), "BTCUSDT", "0.6")
		}}
		svc := NewExecutionService(strat, coord, exec, audit.NewSafe(mock, nil, nil), nil, nil)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if err := svc.OnMarketEvent(context.Background(), btcEvent("100")); err != nil {
					t.Errorf("OnMarketEvent() error = %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if got := len(coord.Reservations()); got != 1 {
			t.Fatalf("run %d: reservations = %d, want exactly 1", run, got)
		}
		if exec.Calls() != 1 {
			t.Fatalf("run %d: executor calls = %d, want 1", run, exec.Calls())
		}

		rejected := mock.ByKind(audit.KindRiskRejected)
		if len(rejected) != 1 {
			t.Fatalf("run %d: rejection records = %d, want 1", run, len(rejected))
		}
		rec := rejected[0].Record.(audit.RiskRejected)
		if rec.Code != string(risk.RejectMaxPositionExceeded) {
			t.Errorf("run %d: rejection code = %s, want %s", run, rec.Code, risk.RejectMaxPositionExceeded)
		}
	}
}

// TestFailure_NoReservationOutlivesTTL drives every execution outcome and
// checks that one sweep past the TTL leaves the ledger clean.
func TestFailure_NoReservationOutlivesTTL(t *testing.T) {
	const ttl = 5 * time.Second

	clock := newManualClock()
	cfg := testRiskConfig()
	cfg.MaxPosition = d("10")
	coord := newTestCoordinator(t, cfg, ttl, nil)
	coord.SetClock(clock.Now)
	ctx := context.Background()

	outcomes := []struct {
		name string
		exec *scriptedExecutor
	}{
		{"filled", &scriptedExecutor{result: types.ExecutionResult{Success: true, Status: types.ExecutionFilled}}},
		{"accepted", &scriptedExecutor{result: types.ExecutionResult{Success: true, Status: types.ExecutionAccepted}}},
		{"partial", &scriptedExecutor{result: types.ExecutionResult{Success: true, Status: types.ExecutionAccepted, FilledQuantity: d("0.1")}}},
		{"exchange rejected", &scriptedExecutor{result: types.ExecutionResult{Success: false, Status: types.ExecutionRejected, Error: "insufficient margin"}}},
		{"transport failure", &scriptedExecutor{err: errors.New("connection reset")}},
	}

	for i, o := range outcomes {
		strat := &mockStrategy{}
		strat.Add(buyIntent(fmt.Sprintf("o%d", i), "BTCUSDT", "0.5"))
		svc := NewExecutionService(strat, coord, o.exec, nil, nil, nil)
		_ = svc.OnMarketEvent(ctx, btcEvent("100"))
	}

	// A risk rejection never reserves.
	big := &mockStrategy{}
	big.Add(buyIntent("too-big", "BTCUSDT", "50"))
	_ = NewExecutionService(big, coord, &scriptedExecutor{}, nil, nil, nil).OnMarketEvent(ctx, btcEvent("100"))

	if got := len(coord.Reservations()); got != 2 {
		t.Fatalf("reservations before sweep = %d, want 2 (accepted and partial)", got)
	}

	sweeper := NewLifecycleService(DefaultLifecycleConfig(), coord, nil, nil, nil)
	sweeper.SweepOnce(ctx, clock.Now().Add(ttl+time.Millisecond))

	if got := len(coord.Reservations()); got != 0 {
		t.Errorf("reservations after sweep = %d, want 0", got)
	}
	snap := coord.Snapshot()
	if snap.TotalOpenOrders != 0 {
		t.Errorf("open orders = %d, want 0", snap.TotalOpenOrders)
	}
	if pos := snap.Positions["BTCUSDT"]; !pos.Equal(d("0.6")) {
		t.Errorf("position = %s, want 0.6 (filled plus partial)", pos)
	}
}
