// Package telemetry centralizes structured logging and prometheus metrics
// construction, generalized from SynapseStrike/metrics/metrics.go's
// per-trader gauge registry into per-tenant, per-symbol risk-engine metrics.
package telemetry

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Registry is the custom prometheus registry for the risk engine.
var Registry = prometheus.NewRegistry()

var (
	// GateDecisions counts entry-gate outcomes per gate and verdict.
	GateDecisions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Subsystem: "entrygate",
			Name:      "decisions_total",
			Help:      "Entry gate check decisions",
		},
		[]string{"gate", "passed"},
	)

	// IntentTransitions counts Intent Pipeline state transitions.
	IntentTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Subsystem: "intent",
			Name:      "transitions_total",
			Help:      "TradingIntent status transitions",
		},
		[]string{"from", "to"},
	)

	// StopEvents counts StopEvent writes per event type.
	StopEvents = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Subsystem: "stopmonitor",
			Name:      "events_total",
			Help:      "StopEvent writes by event_type",
		},
		[]string{"event_type", "symbol"},
	)

	// CircuitBreakerState reports the current circuit breaker state as a
	// gauge: 0=CLOSED, 1=HALF_OPEN, 2=OPEN.
	CircuitBreakerState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "riskforge",
			Subsystem: "stopmonitor",
			Name:      "circuit_breaker_state",
			Help:      "0=closed 1=half_open 2=open",
		},
		[]string{"symbol"},
	)

	// OutboxUnpublished tracks the unpublished outbox backlog.
	OutboxUnpublished = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskforge",
			Subsystem: "outbox",
			Name:      "unpublished_rows",
			Help:      "Rows in the outbox awaiting publication",
		},
	)

	// PatternAlerts counts pattern lifecycle alerts emitted.
	PatternAlerts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Subsystem: "pattern",
			Name:      "alerts_total",
			Help:      "Pattern lifecycle alerts by type",
		},
		[]string{"pattern_code", "alert_type"},
	)

	// ExecutionLatency observes exchange execution call durations.
	ExecutionLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskforge",
			Subsystem: "execution",
			Name:      "latency_seconds",
			Help:      "Execution port call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
)

// NewLogger builds the component-scoped zerolog.Logger used across the
// engine, mirroring the console-friendly setup the teacher's binaries use
// in development (ConsoleWriter) while defaulting to JSON in production.
func NewLogger(component string) zerolog.Logger {
	var w = os.Stderr
	level := zerolog.InfoLevel
	if os.Getenv("RISKFORGE_DEBUG") == "1" {
		level = zerolog.DebugLevel
	}
	var logger zerolog.Logger
	if os.Getenv("RISKFORGE_LOG_FORMAT") == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level)
	} else {
		logger = zerolog.New(w).Level(level)
	}
	return logger.With().Timestamp().Str("component", component).Logger()
}
