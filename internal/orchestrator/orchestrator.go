// Package orchestrator wires every component into one running engine
// (spec §4.4-§4.8, component C12): config/store/ports construction,
// worker supervision via errgroup (the same group-of-goroutines shape
// internal/stopmonitor uses internally, one level up), startup recovery,
// and cooperative shutdown.
package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/riskforge/engine/internal/audit"
	"github.com/riskforge/engine/internal/circuitbreaker"
	"github.com/riskforge/engine/internal/config"
	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/execution"
	"github.com/riskforge/engine/internal/intent"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/outbox"
	"github.com/riskforge/engine/internal/pattern"
	"github.com/riskforge/engine/internal/portfolio"
	"github.com/riskforge/engine/internal/ratelimit"
	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/stopmonitor"
	"github.com/riskforge/engine/internal/telemetry"
)

// PatternScanInterval is how often the Pattern Engine re-scans its
// configured symbol/timeframe pairs (§4.7 names no fixed cadence; this
// mirrors the Stop Monitor's backstop poll order of magnitude).
const PatternScanInterval = 30 * time.Second

// ReconcileInterval is how often the audit reconciliation sweep runs
// (§6 "a periodic job").
const ReconcileInterval = 5 * time.Minute

// ScanTarget is one symbol/timeframe/candle-limit the pattern scanner polls.
type ScanTarget struct {
	Symbol    string
	Timeframe string
	Limit     int
}

// Options assembles everything an Engine needs, already constructed —
// the CLI entrypoint is responsible for reading env vars / flags and
// handing over live Registry/Port values rather than this package
// reaching into the environment itself.
type Options struct {
	DB         *store.DB
	Configs    *config.Registry
	Market     marketdata.Port
	Exec       execution.Port
	Breakers   *circuitbreaker.Registry
	RateLimit  *ratelimit.Registry
	RedisAddr  string
	Symbols    []string // Stop Monitor's watch list
	ScanTargets []ScanTarget
	PatternBridgeConfigs []pattern.StrategyPatternConfig
	ReconcileSymbols []audit.Symbol
	Detectors  []pattern.Detector
}

// Engine holds the fully-wired component graph and supervises its
// background workers.
type Engine struct {
	DB        *store.DB
	Configs   *config.Registry
	Pipeline  *intent.Pipeline
	Monitor   *stopmonitor.Monitor
	Publisher *outbox.Publisher
	Scanner   *pattern.Scanner
	Bridge    *pattern.Bridge
	Reconciler *portfolio.Projector
	audit     *audit.Reconciler
	market    marketdata.Port

	scanTargets      []ScanTarget
	reconcileSymbols []audit.Symbol
}

// New assembles an Engine from Options, wiring the outbox writer into the
// Stop Monitor through the narrow OutboxWriter interface so stopmonitor
// never imports the redis-backed outbox package directly.
func New(opts Options) *Engine {
	if persisted, err := opts.DB.CircuitBreakers.ListAll(); err == nil {
		opts.Breakers.Seed(persisted)
	} else {
		telemetry.NewLogger("orchestrator").Warn().Err(err).Msg("failed to seed circuit breaker registry from store")
	}

	writer := outbox.NewWriter(opts.DB)
	pipeline := intent.New(opts.DB, opts.Configs, opts.Market, opts.Exec, opts.Breakers, opts.RateLimit)
	monitor := stopmonitor.New(opts.DB, opts.Configs, opts.Market, opts.Exec, opts.Breakers, writer, opts.Symbols)
	monitor.Feeder = stopmonitor.BinanceBookTickerFeeder{}
	publisher := outbox.NewPublisher(opts.DB, opts.RedisAddr)
	scanner := pattern.NewScanner(opts.DB.Patterns, opts.Detectors...)
	bridge := &pattern.Bridge{DB: opts.DB.Patterns, Pipeline: pipeline, Configs: opts.PatternBridgeConfigs}
	projector := portfolio.NewProjector(opts.DB, opts.Market)

	var reconciler *audit.Reconciler
	if bp, ok := opts.Exec.(*execution.BinancePort); ok {
		reconciler = audit.NewReconciler(opts.DB, audit.BinanceHistory{Port: bp})
	}

	return &Engine{
		DB:               opts.DB,
		Configs:          opts.Configs,
		Pipeline:         pipeline,
		Monitor:          monitor,
		Publisher:        publisher,
		Scanner:          scanner,
		Bridge:           bridge,
		Reconciler:       projector,
		audit:            reconciler,
		market:           opts.Market,
		scanTargets:      opts.ScanTargets,
		reconcileSymbols: opts.ReconcileSymbols,
	}
}

// Recover replays every intent left PENDING by a prior process (§5: "No
// intent is left in PENDING on process exit; startup replays intents left
// in PENDING by re-running VALIDATE"). The replay re-reads the tenant's
// active-operation count from the store; it passes a zero monthly P&L and
// no latest stop-out time to VALIDATE.
func (e *Engine) Recover(ctx context.Context) error {
	log := telemetry.NewLogger("orchestrator")
	pending, err := e.DB.Intents.ListPending()
	if err != nil {
		return err
	}
	for _, in := range pending {
		activeCount, err := e.DB.Operations.CountActive(in.TenantID)
		if err != nil {
			log.Error().Err(err).Str("intent_id", in.ID).Msg("recovery: count active operations failed")
			continue
		}
		_, err = e.Pipeline.Validate(ctx, in.ID, intent.ValidateRequest{
			IntendedMode:    domain.ModeDryRun,
			MonthlyPnL:      decimal.Zero,
			ActivePositions: activeCount,
		})
		if err != nil {
			log.Warn().Err(err).Str("intent_id", in.ID).Msg("recovery: re-running VALIDATE failed, left PENDING for next restart")
			continue
		}
		log.Info().Str("intent_id", in.ID).Msg("recovery: replayed PENDING intent")
	}
	return nil
}

// Run starts every background worker (Stop Monitor, outbox publisher,
// pattern scanner, audit reconciliation) under one errgroup and blocks
// until ctx is cancelled or any worker returns an error. Cancelling ctx
// is the cooperative shutdown signal (§5): the Stop Monitor finishes its
// current trigger evaluation and exits, it does not abandon mid-flight work.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.Monitor.Run(ctx) })
	g.Go(func() error { return e.Publisher.Run(ctx) })
	g.Go(func() error { return e.runPatternScans(ctx) })
	if e.audit != nil {
		g.Go(func() error { return e.runReconciliation(ctx) })
	}

	return g.Wait()
}

// Shutdown cancels the running Engine's context (via the caller-owned
// cancel func) and waits up to deadline for Run to return, giving workers
// a bounded window to finish in-flight work before the process exits.
func Shutdown(cancel context.CancelFunc, done <-chan struct{}, deadline time.Duration) bool {
	cancel()
	select {
	case <-done:
		return true
	case <-time.After(deadline):
		return false
	}
}

func (e *Engine) runPatternScans(ctx context.Context) error {
	log := telemetry.NewLogger("orchestrator.pattern")
	ticker := time.NewTicker(PatternScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, t := range e.scanTargets {
				window, err := e.marketWindow(ctx, t)
				if err != nil {
					log.Warn().Err(err).Str("symbol", t.Symbol).Msg("pattern scan: klines fetch failed")
					continue
				}
				if err := e.Scanner.Scan(t.Symbol, t.Timeframe, window); err != nil {
					log.Error().Err(err).Str("symbol", t.Symbol).Msg("pattern scan failed")
				}
			}
		}
	}
}

func (e *Engine) marketWindow(ctx context.Context, t ScanTarget) ([]domain.Candle, error) {
	return e.market.Klines(ctx, t.Symbol, t.Timeframe, t.Limit)
}

func (e *Engine) runReconciliation(ctx context.Context) error {
	log := telemetry.NewLogger("orchestrator.reconcile")
	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := e.audit.Sweep(ctx, e.reconcileSymbols)
			if err != nil {
				log.Error().Err(err).Msg("reconciliation sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("created", n).Msg("reconciliation: backfilled missing audit transactions")
			}
		}
	}
}
