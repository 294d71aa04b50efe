package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/alerting"
	"github.com/tathienbao/riskflow/internal/audit"
	"github.com/tathienbao/riskflow/internal/broker"
	"github.com/tathienbao/riskflow/internal/broker/paper"
	"github.com/tathienbao/riskflow/internal/broker/rest"
	"github.com/tathienbao/riskflow/internal/config"
	"github.com/tathienbao/riskflow/internal/engine"
	"github.com/tathienbao/riskflow/internal/metrics"
	"github.com/tathienbao/riskflow/internal/observer"
	"github.com/tathienbao/riskflow/internal/persistence"
	"github.com/tathienbao/riskflow/internal/report"
	"github.com/tathienbao/riskflow/internal/risk"
	"github.com/tathienbao/riskflow/internal/strategy"
	"github.com/tathienbao/riskflow/internal/types"
)

// app holds the wired pipeline and the resources it owns.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder

	coord    *risk.Coordinator
	consumer *engine.Consumer
	runtime  *engine.Runtime
	exchange broker.Exchange
	repo     persistence.Repository
	server   *metrics.Server
	profiler *pyroscope.Profiler
	pnl      *report.PnLTracker
}

// buildApp wires every component from cfg. On error, anything already
// opened is closed.
func buildApp(cfg *config.Config, source observer.Source, logger *slog.Logger) (a *app, err error) {
	a = &app{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		pnl:      report.NewPnLTracker(),
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	if cfg.Profiling.Enabled {
		a.profiler, err = startProfiler(cfg.Profiling, logger)
		if err != nil {
			return nil, err
		}
	}

	a.repo, err = openRepository(cfg.Audit)
	if err != nil {
		return nil, err
	}

	a.exchange, err = newExchange(cfg, logger)
	if err != nil {
		return nil, err
	}

	strat, err := newStrategy(cfg, logger)
	if err != nil {
		return nil, err
	}

	riskEngine, err := risk.NewEngine(cfg.ToRiskEngineConfig())
	if err != nil {
		return nil, fmt.Errorf("risk engine: %w", err)
	}
	a.coord = risk.NewCoordinator(cfg.ToCoordinatorConfig(), riskEngine, a.exchange, logger)

	alerts := newAlertRecorder(cfg, logger)
	auditor := audit.NewSafe(newAuditRecorder(cfg.Audit, a.repo, alerts, logger), logger, a.recorder)

	execSvc := engine.NewExecutionService(strat, a.coord, a.exchange, auditor, a.recorder, logger)
	execSvc.OnRealized(a.pnl.Record)
	a.consumer = engine.NewConsumer(cfg.ToConsumerConfig(), source, execSvc, a.recorder, logger)

	fills := engine.NewFillProcessor(a.coord, auditor, a.recorder, logger)
	fills.OnRealized(a.pnl.Record)

	comps := engine.Components{
		Coordinator: a.coord,
		Consumer:    a.consumer,
		Lifecycle:   engine.NewLifecycleService(cfg.ToLifecycleConfig(), a.coord, auditor, a.recorder, logger),
		Fills:       fills,
		FillSource:  a.exchange,
		Recorder:    a.recorder,
	}
	if rn, ok := a.exchange.(broker.ReconnectNotifier); ok {
		comps.Reconnects = rn
	}
	if a.repo != nil {
		comps.Checkpoints = a.repo
	}
	if alerts != nil {
		comps.DailyClose = alerts.DailyClose
	}
	a.runtime = engine.NewRuntime(cfg.ToRuntimeConfig(), comps, logger)

	if cfg.Metrics.Enabled {
		a.server = metrics.NewServer(cfg.ToServerConfig(), logger)
		a.server.RegisterHealthCheck("exchange", func() metrics.Check {
			if state := a.exchange.State(); state != broker.StateConnected {
				return metrics.Check{Status: metrics.StatusUnhealthy, Message: state.String()}
			}
			return metrics.Check{Status: metrics.StatusHealthy}
		})
		a.server.RegisterReadinessCheck("risk_ledger", func() metrics.Check {
			if !a.coord.IsInitialized() {
				return metrics.Check{Status: metrics.StatusUnhealthy, Message: types.ErrNotInitialized.Error()}
			}
			return metrics.Check{Status: metrics.StatusHealthy}
		})
	}

	return a, nil
}

// start brings up the metrics server and the runtime.
func (a *app) start(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	if err := a.runtime.Start(ctx); err != nil {
		return err
	}
	return nil
}

// shutdown stops the runtime and releases every resource.
func (a *app) shutdown(ctx context.Context) error {
	a.logger.Info("starting graceful shutdown", "timeout", a.cfg.ShutdownTimeout())

	err := a.runtime.Stop(ctx)
	a.close(ctx)
	return err
}

func (a *app) close(ctx context.Context) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop metrics server", func() error {
			if a.server == nil {
				return nil
			}
			return a.server.Shutdown(ctx)
		}},
		{"close exchange", func() error {
			if a.exchange == nil {
				return nil
			}
			return a.exchange.Close()
		}},
		{"close audit store", func() error {
			if a.repo == nil {
				return nil
			}
			return a.repo.Close()
		}},
		{"stop profiler", func() error {
			if a.profiler == nil {
				return nil
			}
			return a.profiler.Stop()
		}},
	}

	for _, step := range steps {
		a.logger.Debug("shutdown step", "step", step.name)
		if err := step.fn(); err != nil {
			a.logger.Warn("shutdown step failed", "step", step.name, "err", err)
		}
	}
}

func openRepository(cfg config.AuditConfig) (persistence.Repository, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		repo, err := persistence.NewSQLiteRepository(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite audit store: %w", err)
		}
		return repo, nil
	case config.StorePostgres:
		repo, err := persistence.NewPostgresRepository(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres audit store: %w", err)
		}
		return repo, nil
	default:
		return nil, nil
	}
}

func newAuditRecorder(cfg config.AuditConfig, repo persistence.Repository, alerts *alerting.AuditRecorder, logger *slog.Logger) audit.Recorder {
	multi := audit.NewMultiRecorder(logger)
	if cfg.Log {
		multi.Add(audit.NewLogRecorder(logger))
	}
	if repo != nil {
		multi.Add(audit.NewStoreRecorder(repo, cfg.Store))
	}
	if alerts != nil {
		multi.Add(alerts)
	}
	if multi.Len() == 0 {
		return nil
	}
	return multi
}

// newAlertRecorder returns nil when alerting is off or has no channel.
func newAlertRecorder(cfg *config.Config, logger *slog.Logger) *alerting.AuditRecorder {
	if !cfg.Alerting.Enabled {
		return nil
	}
	channels := alerting.NewMultiAlerter(logger)
	if cfg.Alerting.Console {
		channels.AddAlerter(alerting.NewConsoleAlerter(logger))
	}
	if cfg.Alerting.Telegram.Enabled {
		channels.AddAlerter(alerting.NewTelegramAlerter(cfg.ToTelegramConfig()))
	}
	if channels.Len() == 0 {
		logger.Warn("alerting enabled without any channel")
		return nil
	}
	return alerting.NewAuditRecorder(channels, cfg.AlertMinSeverity(), decimal.NewFromFloat(cfg.Risk.DailyLossLimit))
}

func newExchange(cfg *config.Config, logger *slog.Logger) (broker.Exchange, error) {
	switch cfg.Backend.Exchange {
	case config.BackendRemote:
		c, err := rest.NewClient(cfg.ToRESTConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("rest exchange: %w", err)
		}
		return c, nil
	default:
		return paper.New(cfg.ToPaperConfig(), logger), nil
	}
}

func newStrategy(cfg *config.Config, logger *slog.Logger) (strategy.Strategy, error) {
	switch cfg.Backend.Strategy {
	case config.BackendRemote:
		s, err := strategy.NewRemote(cfg.ToRemoteConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("remote strategy: %w", err)
		}
		return s, nil
	}

	switch cfg.Strategy.Kind {
	case config.StrategyMeanRev:
		s, err := strategy.NewMeanReversion(cfg.ToMeanRevConfig())
		if err != nil {
			return nil, fmt.Errorf("mean reversion strategy: %w", err)
		}
		return s, nil
	default:
		s, err := strategy.NewCrossover(cfg.ToCrossoverConfig())
		if err != nil {
			return nil, fmt.Errorf("crossover strategy: %w", err)
		}
		return s, nil
	}
}

// newSource opens the replay file given on the command line, falling back
// to consumer.replay_path.
func newSource(cfg *config.Config, dataPath string, pace time.Duration) (observer.Source, error) {
	if dataPath == "" {
		dataPath = cfg.Consumer.ReplayPath
	}
	if dataPath == "" {
		return nil, errors.New("no market data: pass --data or set consumer.replay_path")
	}
	src, err := observer.LoadReplaySource(dataPath, cfg.Consumer.Symbol, pace)
	if err != nil {
		return nil, fmt.Errorf("load market data: %w", err)
	}
	return src, nil
}

func startProfiler(cfg config.ProfilingConfig, logger *slog.Logger) (*pyroscope.Profiler, error) {
	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          pyroscopeLogger{logger.With("component", "pyroscope")},
		Tags: map[string]string{
			"version": Version,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start profiler: %w", err)
	}
	logger.Info("continuous profiling enabled", "server", cfg.ServerAddress, "app", cfg.AppName)
	return p, nil
}

// pyroscopeLogger routes profiler logs to slog.
type pyroscopeLogger struct {
	l *slog.Logger
}

// Infof implements pyroscope.Logger.
func (p pyroscopeLogger) Infof(format string, args ...any) {
	p.l.Info(fmt.Sprintf(format, args...))
}

// Debugf implements pyroscope.Logger.
func (p pyroscopeLogger) Debugf(format string, args ...any) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

// Errorf implements pyroscope.Logger.
func (p pyroscopeLogger) Errorf(format string, args ...any) {
	p.l.Error(fmt.Sprintf(format, args...))
}
