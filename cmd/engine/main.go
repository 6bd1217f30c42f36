// Perp Trading Engine — a single-symbol perpetual-futures trading engine
// that runs the same Strategy in one of three modes (spec.md §4):
//
//	main.go                 — entry point: loads config, dispatches on trading mode
//	internal/mode           — validates config per mode and forbids unsafe transitions
//	internal/backtest       — deterministic bar-by-bar replay over historical OHLCV
//	internal/paper          — simulated fills driven by a live market data stream
//	internal/live           — real order submission against a venue, circuit-breaker guarded
//	internal/strategy       — SMA crossover / funding-rate arbitrage signal generators
//	internal/risk           — position sizing, exposure, drawdown and emergency-stop limits
//	internal/historical     — REST client for OHLCV + funding-rate bar history
//	internal/stream         — WebSocket market data feed
//	internal/venue          — REST client + EIP-712/HMAC auth for order submission
//	internal/store          — JSON file persistence for positions (survives restarts)
//	internal/monitor        — WebSocket dashboard server for paper/live sessions
//
// Which mode runs is selected by trading.params.mode in config (default
// "backtest"). Backtest runs once and exits; paper and live run until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/backtest"
	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/internal/historical"
	"github.com/xsa-dev/perp-trading-engine/internal/live"
	"github.com/xsa-dev/perp-trading-engine/internal/mode"
	"github.com/xsa-dev/perp-trading-engine/internal/monitor"
	"github.com/xsa-dev/perp-trading-engine/internal/paper"
	"github.com/xsa-dev/perp-trading-engine/internal/risk"
	"github.com/xsa-dev/perp-trading-engine/internal/store"
	"github.com/xsa-dev/perp-trading-engine/internal/strategy"
	"github.com/xsa-dev/perp-trading-engine/internal/stream"
	"github.com/xsa-dev/perp-trading-engine/internal/venue"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PERP_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	tradingMode := parseTradingMode(param(cfg, "mode", "backtest"))
	mgr, err := mode.NewManager(tradingMode, cfg, logger)
	if err != nil {
		logger.Error("config rejected for mode", "mode", tradingMode, "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("perp trading engine starting", "mode", mgr.Mode(), "symbol", param(cfg, "symbol", "BTC-PERP"), "dry_run", cfg.DryRun)

	switch mgr.Mode() {
	case types.ModeBacktest:
		err = runBacktest(cfg, logger)
	case types.ModePaperTrade:
		err = runPaper(cfg, logger)
	case types.ModeLiveTrade:
		err = runLive(cfg, logger)
	}
	if err != nil {
		logger.Error("run failed", "mode", mgr.Mode(), "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseTradingMode(s string) types.TradingMode {
	switch strings.ToLower(s) {
	case "paper", "paper_trade", "papertrade":
		return types.ModePaperTrade
	case "live", "live_trade", "livetrade":
		return types.ModeLiveTrade
	default:
		return types.ModeBacktest
	}
}

// param reads a free-form trading.params value, falling back to def when
// unset or when Params itself is nil.
func param(cfg *config.Config, key, def string) string {
	if cfg.Trading.Params == nil {
		return def
	}
	if v, ok := cfg.Trading.Params[key]; ok && v != "" {
		return v
	}
	return def
}

func paramInt(cfg *config.Config, key string, def int) int {
	v := param(cfg, key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func paramFloat(cfg *config.Config, key string, def float64) float64 {
	v := param(cfg, key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// buildStrategy selects the signal generator named by trading.params.strategy
// (default "sma-cross"). Both strategies are symmetric choices for the same
// Strategy interface, so every execution mode can drive either one.
func buildStrategy(cfg *config.Config, symbol string) strategy.Strategy {
	quantity := paramFloat(cfg, "quantity", 0.01)
	switch param(cfg, "strategy", "sma-cross") {
	case "funding-arbitrage":
		lookback := paramInt(cfg, "funding_lookback_periods", 8)
		return strategy.NewFundingArbitrage(symbol, quantity, lookback)
	default:
		fast := paramInt(cfg, "fast_period", 10)
		slow := paramInt(cfg, "slow_period", 30)
		return strategy.NewSMACross(symbol, fast, slow, quantity)
	}
}

func runBacktest(cfg *config.Config, logger *slog.Logger) error {
	symbol := param(cfg, "symbol", "BTC-PERP")
	interval := historical.Interval(param(cfg, "interval", "1h"))
	lookbackDays := paramInt(cfg, "lookback_days", 30)

	end := time.Now().UTC()
	start := end.Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	client := historical.NewClient(cfg.Venue, logger)
	bars, err := client.FetchBars(context.Background(), symbol, interval, start, end)
	if err != nil {
		return fmt.Errorf("fetch historical bars: %w", err)
	}

	strat := buildStrategy(cfg, symbol)
	eng := backtest.New(cfg.Trading.Commission, logger)

	var result *backtest.Result
	if cfg.Trading.Commission.FundingEnabled {
		result, err = eng.CalculateWithFunding(bars, strat, cfg.Trading.InitialBalance)
	} else {
		result, err = eng.Calculate(bars, strat, cfg.Trading.InitialBalance)
	}
	if err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}

	outPath := filepath.Join(cfg.Store.DataDir, "backtest_results.csv")
	if err := backtest.WriteResultsCSV(outPath, result.BarRecords); err != nil {
		return fmt.Errorf("write results csv: %w", err)
	}

	logger.Info("backtest complete",
		"symbol", symbol,
		"strategy", strat.Name(),
		"bars", bars.Len(),
		"final_equity", result.Report.FinalEquity,
		"net_profit_pct", result.Report.NetProfitPct,
		"max_drawdown", result.Report.MaxDrawdown,
		"sharpe_ratio", result.Report.SharpeRatio,
		"results_csv", outPath,
	)
	return nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, together
// with its CancelFunc so callers can also cancel it directly.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()
	return ctx, cancel
}

// logKnownPositions surfaces every position persisted by a prior session,
// so an operator restarting the engine can see at a glance what book it is
// about to resume trading against.
func logKnownPositions(posStore *store.Store, logger *slog.Logger) {
	positions, err := posStore.LoadAll()
	if err != nil {
		logger.Error("failed to load persisted positions", "error", err)
		return
	}
	for sym, pos := range positions {
		logger.Info("found persisted position from prior session", "symbol", sym, "size", pos.Size, "entry_price", pos.EntryPrice)
	}
}

func runPaper(cfg *config.Config, logger *slog.Logger) error {
	symbol := param(cfg, "symbol", "BTC-PERP")

	posStore, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open position store: %w", err)
	}
	defer posStore.Close()
	logKnownPositions(posStore, logger)

	var riskMgr *risk.Manager
	if cfg.Trading.Risk != nil {
		riskMgr = risk.NewManager(*cfg.Trading.Risk, logger)
	}

	strat := buildStrategy(cfg, symbol)
	eng := paper.New(paper.Config{
		Symbol:         symbol,
		InitialCapital: cfg.Trading.InitialBalance,
		Commission:     cfg.Trading.Commission,
		Slippage:       *cfg.Trading.Slippage,
		RiskManager:    riskMgr,
		Store:          posStore,
		Strategy:       strat,
		Logger:         logger,
	})

	feed := stream.NewFeed(cfg.Venue.StreamURL, logger)
	ctx, cancel := signalContext(logger)
	defer cancel()

	dataCh, err := feed.Subscribe(ctx, []string{symbol})
	if err != nil {
		return fmt.Errorf("subscribe market data: %w", err)
	}

	sessionStart := time.Now()
	var srv *monitor.Server
	if cfg.Monitor.Enabled {
		srv = monitor.NewServer(cfg.Monitor, monitor.SnapshotProviderFunc(func() mode.DashboardSnapshot {
			return paperSnapshot(cfg, eng, sessionStart)
		}), logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
	}

	eng.Run(ctx, dataCh)

	eng.StopSimulation()
	if srv != nil {
		if err := srv.Stop(); err != nil {
			logger.Error("failed to stop monitor server", "error", err)
		}
	}

	pos := eng.Position()
	logger.Info("paper trading session ended", "symbol", symbol, "equity", eng.Equity(), "position_size", pos.Size)
	return nil
}

func paperSnapshot(cfg *config.Config, eng *paper.Engine, sessionStart time.Time) mode.DashboardSnapshot {
	pos := eng.Position()
	equity := eng.Equity()
	perf := mode.BuildPerformanceReport(mode.PerformanceInputs{
		InitialCapital: cfg.Trading.InitialBalance,
		FinalEquity:    equity,
		TradingPnL:     pos.RealizedPnL,
		FundingPnL:     pos.FundingPnL,
	})
	return mode.DashboardSnapshot{
		Timestamp: time.Now(),
		Mode:      types.ModePaperTrade,
		Account:   mode.AccountSummary{Equity: equity, InitialBalance: cfg.Trading.InitialBalance},
		Position: mode.PositionSummary{
			Symbol:        pos.Symbol,
			Size:          pos.Size,
			EntryPrice:    pos.EntryPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		},
		Performance: perf,
	}
}

func runLive(cfg *config.Config, logger *slog.Logger) error {
	symbol := param(cfg, "symbol", "BTC-PERP")

	auth, err := venue.NewAuth(*cfg.Trading.Api)
	if err != nil {
		return fmt.Errorf("build venue auth: %w", err)
	}
	client := venue.NewClient(*cfg.Trading.Api, auth, cfg.DryRun, logger)
	feed := stream.NewFeed(cfg.Venue.StreamURL, logger)

	riskMgr := risk.NewManager(*cfg.Trading.Risk, logger)
	breakers := risk.NewBreakerBank(risk.SafetyCircuitBreakerConfig{
		MaxConsecutiveFailedOrders: 5,
		MaxOrderFailureRate:        0.5,
		OrderFailureRateWindow:     5 * time.Minute,
		MaxPositionDrawdownPct:     cfg.Trading.Risk.MaxDrawdownPct,
		MaxAccountDrawdownPct:      cfg.Trading.Risk.MaxDrawdownPct,
		MaxPriceDeviationPct:       cfg.Trading.Risk.MaxVolatilityPct,
		PriceDeviationWindowSec:    60,
		MaxCriticalAlerts:          3,
		CriticalAlertsWindow:       10 * time.Minute,
	})

	posStore, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open position store: %w", err)
	}
	defer posStore.Close()
	logKnownPositions(posStore, logger)

	strat := buildStrategy(cfg, symbol)
	eng := live.New(live.Config{
		Symbol:         symbol,
		Client:         client,
		Feed:           feed,
		RiskManager:    riskMgr,
		Breakers:       breakers,
		Strategy:       strat,
		PositionStore:  posStore,
		InitialCapital: cfg.Trading.InitialBalance,
		Logger:         logger,
	})

	sessionStart := time.Now()
	var srv *monitor.Server
	if cfg.Monitor.Enabled {
		srv = monitor.NewServer(cfg.Monitor, monitor.SnapshotProviderFunc(func() mode.DashboardSnapshot {
			return liveSnapshot(cfg, eng, riskMgr, sessionStart)
		}), logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	runErr := eng.Run(ctx)

	eng.Stop()
	if srv != nil {
		if err := srv.Stop(); err != nil {
			logger.Error("failed to stop monitor server", "error", err)
		}
	}
	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("live engine run: %w", runErr)
	}

	pos := eng.Position()
	logger.Info("live trading session ended", "symbol", symbol, "position_size", pos.Size, "disconnects", eng.DisconnectCount())
	return nil
}

func liveSnapshot(cfg *config.Config, eng *live.Engine, riskMgr *risk.Manager, sessionStart time.Time) mode.DashboardSnapshot {
	pos := eng.Position()
	equity := cfg.Trading.InitialBalance + pos.RealizedPnL + pos.UnrealizedPnL + pos.FundingPnL
	perf := mode.BuildPerformanceReport(mode.PerformanceInputs{
		InitialCapital: cfg.Trading.InitialBalance,
		FinalEquity:    equity,
		TradingPnL:     pos.RealizedPnL,
		FundingPnL:     pos.FundingPnL,
	})
	riskMetrics := mode.BuildRiskMetrics(pos, equity, nil, riskMgr)
	connMetrics := mode.BuildConnectionMetrics(eng, sessionStart, time.Now())

	return mode.DashboardSnapshot{
		Timestamp:  time.Now(),
		Mode:       types.ModeLiveTrade,
		Account:    mode.AccountSummary{Equity: equity, InitialBalance: cfg.Trading.InitialBalance},
		Position: mode.PositionSummary{
			Symbol:        pos.Symbol,
			Size:          pos.Size,
			EntryPrice:    pos.EntryPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		},
		Risk:         &riskMetrics,
		Connection:   &connMetrics,
		Performance:  perf,
		RecentAlerts: eng.Alerts(),
	}
}
