package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tathienbao/riskflow/internal/config"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until interrupted",
		Long: `Run the pipeline with the configured backends. Market events are read
from --data or consumer.replay_path at consumer.replay_pace_ms. The process
keeps sweeping reservations and applying fills until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Stdout, true, opts.verbose)

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				logger.Error("failed to load config", "err", err)
				return err
			}

			source, err := newSource(cfg, dataPath, cfg.ReplayPace())
			if err != nil {
				return err
			}

			// Setup signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(cfg, source, logger)
			if err != nil {
				logger.Error("failed to build pipeline", "err", err)
				return err
			}

			logger.Info("riskflow starting",
				"version", Version,
				"strategy", cfg.Backend.Strategy,
				"exchange", cfg.Backend.Exchange,
				"order_ttl", cfg.OrderTTL(),
				"lifecycle_enabled", cfg.Lifecycle.Enabled,
			)

			if err := a.start(ctx); err != nil {
				a.close(context.Background())
				if ctx.Err() != nil {
					logger.Info("shutdown signal received before startup completed", "err", err)
					return nil
				}
				logger.Error("failed to start pipeline", "err", err)
				return err
			}

			<-ctx.Done()
			logger.Info("shutdown signal received")

			// Graceful shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer cancel()

			if err := a.shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "err", err)
				return err
			}
			logger.Info("riskflow shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "path to CSV market data")
	return cmd
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var (
		dataPath string
		pace     time.Duration
		drain    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a CSV file through the pipeline and print a summary",
		Long: `Replay pushes every event of a CSV file through the pipeline, waits
for outstanding fills to drain and prints the resulting risk ledger.

Example:
  riskflow replay --config config.yaml --data data/BTCUSDT_1m.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Stderr, false, opts.verbose)

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				logger.Error("failed to load config", "err", err)
				return err
			}

			source, err := newSource(cfg, dataPath, pace)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(cfg, source, logger)
			if err != nil {
				logger.Error("failed to build pipeline", "err", err)
				return err
			}

			started := time.Now()
			if err := a.start(ctx); err != nil {
				logger.Error("failed to start pipeline", "err", err)
				a.close(context.Background())
				return err
			}

			select {
			case <-a.runtime.ConsumerDone():
				logger.Info("replay finished, draining fills", "drain", drain)
				select {
				case <-time.After(drain):
				case <-ctx.Done():
				}
			case <-ctx.Done():
				logger.Info("replay interrupted")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer cancel()
			if err := a.shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "err", err)
			}

			printReplaySummary(cmd.OutOrStdout(), a, time.Since(started))
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "path to CSV market data")
	cmd.Flags().DurationVar(&pace, "pace", 0, "delay between replayed events")
	cmd.Flags().DurationVar(&drain, "drain", time.Second, "wait for fills after the last event")
	return cmd
}

func printReplaySummary(w io.Writer, a *app, elapsed time.Duration) {
	snap := a.coord.Snapshot()

	fmt.Fprintln(w, "\n=== REPLAY SUMMARY ===")
	fmt.Fprintf(w, "Elapsed:             %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Events processed:    %d\n", a.consumer.Processed())
	fmt.Fprintf(w, "Events failed:       %d\n", a.consumer.Failed())
	fmt.Fprintf(w, "Open reservations:   %d\n", snap.TotalOpenOrders)
	fmt.Fprintf(w, "Daily loss:          %s\n", snap.DailyLoss.StringFixed(2))

	symbols := make([]string, 0, len(snap.Positions))
	for s := range snap.Positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fmt.Fprintln(w, "\n=== POSITIONS ===")
	if len(symbols) == 0 {
		fmt.Fprintln(w, "(flat)")
	}
	for _, s := range symbols {
		fmt.Fprintf(w, "%-12s %s\n", s, snap.Positions[s].String())
	}

	stats := a.pnl.Stats()
	fmt.Fprintln(w, "\n=== REALIZED PNL ===")
	fmt.Fprintf(w, "Closing fills:       %d (%d wins, %d losses)\n", stats.Count, stats.Wins, stats.Losses)
	fmt.Fprintf(w, "Net PnL:             %s\n", stats.NetPnL.StringFixed(2))
	fmt.Fprintf(w, "Win rate:            %s%%\n", stats.WinRate.Mul(decimal.NewFromInt(100)).StringFixed(1))
	fmt.Fprintf(w, "Profit factor:       %s\n", stats.ProfitFactor.StringFixed(2))
	fmt.Fprintf(w, "Expectancy:          %s\n", stats.Expectancy.StringFixed(2))
	fmt.Fprintf(w, "Max drawdown:        %s\n", stats.MaxDrawdown.StringFixed(2))
	for _, s := range stats.Symbols() {
		fmt.Fprintf(w, "%-12s %s\n", s, stats.BySymbol[s].StringFixed(2))
	}
}
