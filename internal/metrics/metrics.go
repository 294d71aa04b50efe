// Package metrics exposes Prometheus metrics and health endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "riskflow"

var (
	// Risk checks

	RiskChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "risk_checks_total",
		Help:      "Risk checks by outcome and reject code.",
	}, []string{"outcome", "code"})

	ReservationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reservations_active",
		Help:      "Outstanding risk reservations.",
	})

	ReservationsReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_released_total",
		Help:      "Reservations released without a fill, by reason.",
	}, []string{"reason"})

	DailyLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_loss",
		Help:      "Realized loss accumulated today.",
	})

	PositionQuantity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_quantity",
		Help:      "Signed position per symbol.",
	}, []string{"symbol"})

	RiskStateInitialized = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "risk_state_initialized",
		Help:      "1 once the risk state has been rebuilt from the exchange.",
	})

	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rebuilds_total",
		Help:      "Risk state rebuilds by reason and result.",
	}, []string{"reason", "result"})

	// Execution

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Order executions by symbol, side and status.",
	}, []string{"symbol", "side", "status"})

	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_total",
		Help:      "Fills processed by confirm outcome.",
	}, []string{"outcome"})

	ReconciliationWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_warnings_total",
		Help:      "Fills or rebuild data that did not match the ledger.",
	})

	// Pipeline

	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Market events processed per shard.",
	}, []string{"shard"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_latency_seconds",
		Help:      "Latency of pipeline stages.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"stage"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last processed market event.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	AuditFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_failures_total",
		Help:      "Audit records that could not be written, by sink.",
	}, []string{"sink"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo publishes build metadata.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
