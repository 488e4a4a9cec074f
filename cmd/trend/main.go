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
	"github.com/mky2266/mats/store"
	"github.com/mky2266/mats/trader"
	"github.com/mky2266/mats/trader/types"
	"github.com/mky2266/mats/trend"
	"github.com/spf13/cobra"
)

var symbol string

var rootCmd = &cobra.Command{
	Use:           "trend",
	Short:         "Run the EMA crossover trend bot",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Init(&cfg.Log); err != nil {
			return err
		}
		defer logger.Shutdown()
		if symbol != "" {
			cfg.Trend.Symbol = symbol
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := store.New(cfg.Store.Path)
		if err != nil {
			return err
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
		engine := trend.NewEngine(cfg, trend.Deps{
			Gateway:  gw,
			Notifier: notifier,
			Equity:   st.Equity(),
		})
		if err := engine.Restore(); err != nil {
			return err
		}

		if cfg.Status.Addr != "" {
			srv := api.NewServer(cfg.Status.Addr, map[string]api.StatusFunc{
				"trend": func() any { return engine.Status() },
			}, st.Equity(), nil)
			go func() {
				if err := srv.Start(); err != nil {
					logger.Errorf("❌ Status server error: %v", err)
				}
			}()
			defer srv.Shutdown()
		}

		if err := engine.Run(ctx); err != nil {
			if errors.Is(err, types.ErrRiskLimitBreached) {
				logger.Errorf("🛑 Trading halted")
			}
			return err
		}
		logger.Info("👋 Trend bot stopped")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&symbol, "symbol", "", "symbol to trade (default: most volatile pool candidate)")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Errorf("❌ %v", err)
		os.Exit(1)
	}
}
