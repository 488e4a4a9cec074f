package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mky2266/mats/api"
	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/notify"
	"github.com/mky2266/mats/rotation"
	"github.com/mky2266/mats/store"
	"github.com/mky2266/mats/trader"
	"github.com/mky2266/mats/trader/types"
)

func main() {
	// Load environment variables from .env file if present (for local/dev runs)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("❌ Invalid configuration: %v", err)
	}
	if err := logger.Init(&cfg.Log); err != nil {
		logger.Fatalf("❌ Failed to initialize logger: %v", err)
	}

	logger.Info("╔════════════════════════════════════════════╗")
	logger.Info("║     📈 MATS grid bot - perpetual futures    ║")
	logger.Info("╚════════════════════════════════════════════╝")
	logger.Infof("📋 %s: investment %.2f, %d levels, %dx, stop %.0f%% / daily %.0f%% / drawdown %.0f%%",
		cfg.Grid.Symbol, cfg.Grid.Investment, cfg.Grid.GridCount, cfg.Grid.Leverage,
		cfg.Risk.StopLossPercent*100, cfg.Risk.DailyLossLimit*100, cfg.Risk.MaxDrawdownPercent*100)

	os.Exit(run(cfg))
}

// run wires and runs the grid engine; the return value is the exit status
func run(cfg config.Config) int {
	defer logger.Shutdown()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		logger.Errorf("❌ Failed to open store: %v", err)
		return 1
	}
	defer st.Close()

	notifier := notify.FromConfig(cfg.Notify)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := notifier.Close(closeCtx); err != nil {
			logger.Warnf("⚠️ Notifications not flushed: %v", err)
		}
	}()

	gw, _ := trader.NewGateway(ctx, cfg.Exchange)

	var history rotation.PerformanceSource
	if cfg.Rotation.UseBacktestHistory {
		history = backtestHistory(st.Backtest())
	}
	var selector trader.RotationEvaluator
	if cfg.Rotation.Enabled {
		selector = rotation.NewSelector(cfg.Rotation, gw, history)
	}

	engine := trader.NewGridEngine(cfg, trader.GridEngineDeps{
		Gateway:  gw,
		Selector: selector,
		Notifier: notifier,
		Journal:  st.Grid(),
		Equity:   st.Equity(),
	})
	if err := engine.Restore(); err != nil {
		logger.Errorf("❌ Refusing to start: %v", err)
		return 1
	}

	if cfg.Status.Addr != "" {
		srv := api.NewServer(cfg.Status.Addr, map[string]api.StatusFunc{
			"grid": func() any { return engine.Status() },
		}, st.Equity(), st.Backtest())
		go func() {
			if err := srv.Start(); err != nil {
				logger.Errorf("❌ Status server error: %v", err)
			}
		}()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.Warnf("⚠️ Status server shutdown: %v", err)
			}
		}()
	}

	if err := engine.Run(ctx); err != nil {
		if errors.Is(err, types.ErrRiskLimitBreached) {
			logger.Errorf("🛑 Trading halted: %v", err)
		} else {
			logger.Errorf("❌ Engine failed: %v", err)
		}
		return 1
	}
	logger.Info("👋 Grid bot stopped")
	return 0
}

// backtestHistory feeds rotation scoring from stored sweep results
func backtestHistory(runs *store.BacktestStore) rotation.PerformanceSource {
	return rotation.PerformanceFunc(func(ctx context.Context, symbol string) (*rotation.History, error) {
		agg, err := runs.Aggregate(ctx, symbol)
		if err != nil || agg == nil {
			return nil, err
		}
		return &rotation.History{
			Runs:           agg.Runs,
			AvgPnlPct:      agg.AvgPnLPct,
			AvgDrawdownPct: agg.AvgDrawdownPct,
		}, nil
	})
}
