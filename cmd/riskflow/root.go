package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tathienbao/riskflow/internal/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "riskflow",
		Short: "Risk-checked order execution pipeline",
		Long: `riskflow consumes market events, asks a strategy for order intents,
reserves capacity against account risk limits and sends approved orders to an
exchange. Fills and timeouts are reconciled back into the risk ledger.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newRunCmd(opts),
		newReplayCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// newLogger builds the process logger. JSON is used for long-running
// processes, text for interactive commands.
func newLogger(w io.Writer, jsonFormat, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var logger *slog.Logger
	if jsonFormat {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, opts))
	}
	slog.SetDefault(logger)
	return logger
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid!")
			fmt.Fprintf(out, "  Strategy backend: %s\n", cfg.Backend.Strategy)
			fmt.Fprintf(out, "  Exchange backend: %s\n", cfg.Backend.Exchange)
			fmt.Fprintf(out, "  Risk rules:       %v\n", cfg.Risk.RuleOrder)
			fmt.Fprintf(out, "  Order TTL:        %s\n", cfg.OrderTTL())
			fmt.Fprintf(out, "  Lifecycle:        enabled=%t interval=%s\n", cfg.Lifecycle.Enabled, cfg.LifecycleCheckInterval())
			fmt.Fprintf(out, "  Audit store:      %s\n", cfg.Audit.Store)
			fmt.Fprintf(out, "  Strategy kind:    %s\n", cfg.Strategy.Kind)
			fmt.Fprintf(out, "  Alerting:         enabled=%t min_severity=%s\n", cfg.Alerting.Enabled, cfg.Alerting.MinSeverity)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "riskflow version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
