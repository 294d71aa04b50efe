// Package engine runs the order pipeline: market events through strategy,
// risk reservation and execution, with fills and timeouts reconciled back
// into the risk ledger.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/audit"
	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/metrics"
	"github.com/tathienbao/riskflow/internal/report"
	"github.com/tathienbao/riskflow/internal/risk"
	"github.com/tathienbao/riskflow/internal/strategy"
	"github.com/tathienbao/riskflow/internal/types"
)

// ExecutionService handles one market event end to end.
type ExecutionService struct {
	strategy strategy.Strategy
	coord    *risk.Coordinator
	executor broker.Executor
	audit    *audit.Safe
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	onRealized func(report.Realization)
}

// NewExecutionService creates an execution service. auditor and recorder
// may be nil.
func NewExecutionService(
	strat strategy.Strategy,
	coord *risk.Coordinator,
	executor broker.Executor,
	auditor *audit.Safe,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *ExecutionService {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &ExecutionService{
		strategy: strat,
		coord:    coord,
		executor: executor,
		audit:    auditor,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// OnRealized registers fn to receive PnL booked by synchronous fills.
// Call before the consumer starts.
func (s *ExecutionService) OnRealized(fn func(report.Realization)) {
	s.onRealized = fn
}

// OnMarketEvent asks the strategy for an intent, reserves risk capacity for
// it and sends it to the exchange.
//
// A risk rejection or an exchange refusal is a normal outcome and returns
// nil. A strategy, reservation or transport failure returns an error; on a
// transport failure the reservation has already been released.
func (s *ExecutionService) OnMarketEvent(ctx context.Context, event types.MarketEvent) error {
	if obs, ok := s.executor.(broker.MarketObserver); ok {
		obs.ObserveMarket(event)
	}

	timer := metrics.NewTimer()
	intent, err := s.strategy.Evaluate(ctx, event)
	timer.ObserveStage("strategy")
	if err != nil {
		return fmt.Errorf("strategy %s: %w", s.strategy.Name(), err)
	}
	if intent == nil {
		return nil
	}

	timer = metrics.NewTimer()
	verdict, err := s.coord.CheckAndReserve(ctx, *intent)
	timer.ObserveStage("risk")
	if err != nil {
		s.recorder.RecordError("risk_check")
		return fmt.Errorf("check and reserve %s: %w", intent.ID, err)
	}

	if reason, rejected := verdict.Reason(); rejected {
		s.recorder.RecordRiskRejected(string(reason.Code))
		s.logger.Info("intent rejected by risk",
			"order_id", intent.ID,
			"symbol", intent.Symbol,
			"side", intent.Side.String(),
			"quantity", intent.Quantity,
			"code", reason.Code,
			"rule", reason.Rule,
			"reason", reason.Message,
		)
		s.audit.RiskRejected(ctx, audit.RiskRejected{
			Intent:  *intent,
			Code:    string(reason.Code),
			Rule:    reason.Rule,
			Message: reason.Message,
			At:      s.now(),
		})
		return nil
	}
	s.recorder.RecordRiskApproved()

	return s.execute(ctx, *intent)
}

func (s *ExecutionService) execute(ctx context.Context, intent types.OrderIntent) error {
	timer := metrics.NewTimer()
	result, err := s.executor.Execute(ctx, intent)
	timer.ObserveStage("execute")

	if err != nil {
		s.coord.Release(intent.ID, risk.ReleaseExecutionFailed)
		s.recorder.RecordRelease(string(risk.ReleaseExecutionFailed))
		s.recorder.RecordExecution(intent.Symbol, intent.Side.String(), "error")
		s.audit.ExecutionResult(ctx, audit.ExecutionRecord{
			Intent: intent,
			Err:    err.Error(),
			At:     s.now(),
		})
		return fmt.Errorf("%w: %s: %w", types.ErrExecutionFailed, intent.ID, err)
	}

	s.audit.ExecutionResult(ctx, audit.ExecutionRecord{
		Intent: intent,
		Result: result,
		At:     s.now(),
	})

	if !result.Success {
		s.coord.Release(intent.ID, risk.ReleaseExecutionFailed)
		s.recorder.RecordRelease(string(risk.ReleaseExecutionFailed))
		s.recorder.RecordExecution(intent.Symbol, intent.Side.String(), string(types.ExecutionRejected))
		s.logger.Warn("order rejected by exchange",
			"order_id", intent.ID,
			"symbol", intent.Symbol,
			"reason", result.Error,
		)
		return nil
	}

	status := result.Status
	if status == "" {
		status = types.ExecutionAccepted
	}
	s.recorder.RecordExecution(intent.Symbol, intent.Side.String(), string(status))

	// An acknowledged order is resolved by the fill stream or the TTL
	// sweeper. Slices reported as filled in the ack also arrive on the
	// stream, so they are not applied here.
	if status == types.ExecutionFilled {
		qty := result.FilledQuantity
		if !qty.IsPositive() {
			qty = intent.Quantity
		}
		s.confirmFinal(intent, qty, fillPrice(intent, result))
	}

	s.logger.Info("order executed",
		"order_id", intent.ID,
		"symbol", intent.Symbol,
		"side", intent.Side.String(),
		"quantity", intent.Quantity,
		"status", status,
		"filled", result.FilledQuantity,
		"avg_price", result.AvgPrice,
	)
	return nil
}

func (s *ExecutionService) confirmFinal(intent types.OrderIntent, qty, price decimal.Decimal) {
	res := s.coord.Confirm(intent.ID, risk.FillDelta{
		Symbol:   intent.Symbol,
		Quantity: qty.Mul(intent.Side.Sign()),
		Price:    price,
		Final:    true,
	})
	s.recorder.RecordFill(res.Outcome.String())
	if res.RealizedPnL.IsNegative() {
		s.logger.Info("realized loss", "order_id", intent.ID, "symbol", intent.Symbol, "pnl", res.RealizedPnL)
	}
	if s.onRealized != nil && res.Outcome != risk.ConfirmDuplicate && !res.RealizedPnL.IsZero() {
		s.onRealized(report.Realization{
			OrderID: intent.ID,
			Symbol:  intent.Symbol,
			PnL:     res.RealizedPnL,
			At:      s.now(),
		})
	}
}

func fillPrice(intent types.OrderIntent, result types.ExecutionResult) decimal.Decimal {
	if result.AvgPrice.IsPositive() {
		return result.AvgPrice
	}
	if intent.Price != nil {
		return *intent.Price
	}
	return decimal.Zero
}
