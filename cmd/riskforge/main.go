// Command riskforge is the operator entrypoint: migrate the sqlite
// schema, serve the engine (Stop Monitor + outbox publisher + pattern
// scanner + reconciliation), or run a one-shot reconcile/scan-patterns
// pass, the way NimbleMarkets-dbn-go's cobra root command dispatches to
// independent subcommands backed by package-level flag variables.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/riskforge/engine/internal/audit"
	"github.com/riskforge/engine/internal/circuitbreaker"
	"github.com/riskforge/engine/internal/config"
	"github.com/riskforge/engine/internal/execution"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/orchestrator"
	"github.com/riskforge/engine/internal/pattern"
	"github.com/riskforge/engine/internal/ratelimit"
	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/telemetry"
)

var (
	dbPath       string
	redisAddr    string
	metricsAddr  string
	symbolsFlag  string
	tenantID     string
	tenantCapital string
	shutdownDeadline time.Duration
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "riskforge",
	Short: "riskforge runs the trading risk engine core",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOr("RISKFORGE_DB_PATH", "riskforge.db"), "sqlite database path")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", envOr("RISKFORGE_REDIS_ADDR", "localhost:6379"), "redis address for the outbox publisher")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", envOr("RISKFORGE_METRICS_ADDR", ":9090"), "prometheus /metrics listen address")
	rootCmd.PersistentFlags().StringVar(&symbolsFlag, "symbols", envOr("RISKFORGE_SYMBOLS", "BTCUSDT"), "comma-separated symbols to watch")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", envOr("RISKFORGE_TENANT_ID", "default"), "tenant id to load config for")
	rootCmd.PersistentFlags().StringVar(&tenantCapital, "capital", envOr("RISKFORGE_TENANT_CAPITAL", "10000"), "tenant capital, used to seed TenantConfig defaults")

	serveCmd.Flags().DurationVar(&shutdownDeadline, "shutdown-deadline", 30*time.Second, "how long workers get to finish in-flight work on SIGTERM")

	rootCmd.AddCommand(migrateCmd, serveCmd, reconcileCmd, scanPatternsCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "creates/updates the sqlite schema and exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintf(os.Stdout, "migrated %s\n", dbPath)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "runs the Stop Monitor, outbox publisher, and pattern scanner until signalled",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		cfgs := config.NewRegistry()
		capital, _ := decimal.NewFromString(tenantCapital)
		cfgs.Put(config.Defaults(tenantID, capital))

		market := marketdata.NewBinancePort(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
		exec := execution.NewBinancePort(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
		breakers := circuitbreaker.NewRegistry()
		rl := ratelimit.NewRegistry(5, 10)

		symbols := splitSymbols(symbolsFlag)
		scanTargets := make([]orchestrator.ScanTarget, 0, len(symbols))
		reconcileSymbols := make([]audit.Symbol, 0, len(symbols))
		for _, sym := range symbols {
			scanTargets = append(scanTargets, orchestrator.ScanTarget{Symbol: sym, Timeframe: "15m", Limit: 100})
			reconcileSymbols = append(reconcileSymbols, audit.Symbol{TenantID: tenantID, Symbol: sym})
		}

		engine := orchestrator.New(orchestrator.Options{
			DB:               db,
			Configs:          cfgs,
			Market:           market,
			Exec:             exec,
			Breakers:         breakers,
			RateLimit:        rl,
			RedisAddr:        redisAddr,
			Symbols:          symbols,
			ScanTargets:      scanTargets,
			ReconcileSymbols: reconcileSymbols,
			Detectors:        pattern.CanonicalDetectors(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		if err := engine.Recover(ctx); err != nil {
			cancel()
			return fmt.Errorf("startup recovery: %w", err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := engine.Run(ctx); err != nil {
				telemetry.NewLogger("cmd.serve").Error().Err(err).Msg("engine run exited with error")
			}
		}()

		go serveMetrics(metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		if !orchestrator.Shutdown(cancel, done, shutdownDeadline) {
			return fmt.Errorf("shutdown deadline of %s exceeded, workers did not finish", shutdownDeadline)
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile-audit",
	Short: "runs one exchange reconciliation sweep and exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		exec := execution.NewBinancePort(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
		reconciler := audit.NewReconciler(db, audit.BinanceHistory{Port: exec})

		var symbols []audit.Symbol
		for _, sym := range splitSymbols(symbolsFlag) {
			symbols = append(symbols, audit.Symbol{TenantID: tenantID, Symbol: sym})
		}

		n, err := reconciler.Sweep(context.Background(), symbols)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "reconciliation backfilled %d audit transactions\n", n)
		return nil
	},
}

var scanPatternsCmd = &cobra.Command{
	Use:   "scan-patterns",
	Short: "runs one pattern scan pass over the configured symbols and exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		market := marketdata.NewBinancePort(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
		scanner := pattern.NewScanner(db.Patterns, pattern.CanonicalDetectors()...)

		ctx := context.Background()
		for _, sym := range splitSymbols(symbolsFlag) {
			window, err := market.Klines(ctx, sym, "15m", 100)
			if err != nil {
				fmt.Fprintf(os.Stderr, "klines %s: %v\n", sym, err)
				continue
			}
			if err := scanner.Scan(sym, "15m", window); err != nil {
				fmt.Fprintf(os.Stderr, "scan %s: %v\n", sym, err)
			}
		}
		return nil
	},
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{}))
	_ = http.ListenAndServe(addr, mux)
}
