package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tathienbao/riskflow/internal/audit"
	"github.com/tathienbao/riskflow/internal/metrics"
	"github.com/tathienbao/riskflow/internal/report"
	"github.com/tathienbao/riskflow/internal/risk"
	"github.com/tathienbao/riskflow/internal/types"
)

// FillProcessor applies exchange fills to the risk ledger.
type FillProcessor struct {
	coord    *risk.Coordinator
	audit    *audit.Safe
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	onRealized func(report.Realization)
}

// NewFillProcessor creates a fill processor.
func NewFillProcessor(coord *risk.Coordinator, auditor *audit.Safe, recorder *metrics.Recorder, logger *slog.Logger) *FillProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &FillProcessor{
		coord:    coord,
		audit:    auditor,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// OnRealized registers fn to receive PnL booked by fills. Call before Run.
func (p *FillProcessor) OnRealized(fn func(report.Realization)) {
	p.onRealized = fn
}

// Process confirms one fill. A partial fill reduces the reservation; a
// final fill resolves it. A fill for an order without a reservation is
// still applied and raises a reconciliation warning. A repeated final fill
// is ignored.
func (p *FillProcessor) Process(ctx context.Context, fill types.Fill) risk.ConfirmOutcome {
	res := p.coord.Confirm(fill.OrderID, risk.FillDelta{
		Symbol:   fill.Symbol,
		Quantity: fill.SignedQuantity(),
		Price:    fill.Price,
		Final:    fill.IsFinal,
	})
	p.recorder.RecordFill(res.Outcome.String())

	if p.onRealized != nil && res.Outcome != risk.ConfirmDuplicate && !res.RealizedPnL.IsZero() {
		at := fill.Timestamp
		if at.IsZero() {
			at = p.now()
		}
		p.onRealized(report.Realization{
			OrderID: fill.OrderID,
			Symbol:  fill.Symbol,
			PnL:     res.RealizedPnL,
			At:      at,
		})
	}

	switch res.Outcome {
	case risk.ConfirmUnknown:
		err := fmt.Errorf("%w: fill for unknown order %s", types.ErrStateInconsistency, fill.OrderID)
		p.logger.Warn("reconciliation warning",
			"order_id", fill.OrderID,
			"symbol", fill.Symbol,
			"side", fill.Side.String(),
			"quantity", fill.Quantity,
			"price", fill.Price,
			"err", err,
		)
		p.recorder.RecordReconciliationWarning()
		at := fill.Timestamp
		if at.IsZero() {
			at = p.now()
		}
		p.audit.ReconciliationWarning(ctx, audit.ReconciliationWarning{
			OrderID:  fill.OrderID,
			Symbol:   fill.Symbol,
			Quantity: fill.SignedQuantity(),
			Price:    fill.Price,
			Reason:   err.Error(),
			At:       at,
		})
	case risk.ConfirmDuplicate:
		p.logger.Debug("duplicate fill ignored", "order_id", fill.OrderID, "final", fill.IsFinal)
	case risk.ConfirmApplied:
		p.logger.Info("order filled",
			"order_id", fill.OrderID,
			"symbol", fill.Symbol,
			"quantity", fill.Quantity,
			"price", fill.Price,
			"realized_pnl", res.RealizedPnL,
		)
	case risk.ConfirmPartial:
		p.logger.Debug("partial fill",
			"order_id", fill.OrderID,
			"symbol", fill.Symbol,
			"quantity", fill.Quantity,
			"price", fill.Price,
		)
	}
	return res.Outcome
}

// Run processes fills until ctx is done or the channel is closed.
func (p *FillProcessor) Run(ctx context.Context, fills <-chan types.Fill) error {
	p.logger.Info("fill processor started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("fill processor stopped: context cancelled")
			return nil
		case fill, ok := <-fills:
			if !ok {
				p.logger.Warn("fill stream closed")
				return nil
			}
			p.Process(ctx, fill)
		}
	}
}
