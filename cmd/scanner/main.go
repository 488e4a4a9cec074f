package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/pool"
	"github.com/mky2266/mats/trader"
	"github.com/spf13/cobra"
)

var (
	once bool
	topN int
)

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Rank perpetuals by volume and volatility into the candidate pool file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Init(&cfg.Log); err != nil {
			return err
		}
		defer logger.Shutdown()
		if topN > 0 {
			cfg.Scanner.TopN = topN
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		venue := trader.NewFuturesTrader(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Testnet)
		scanner := pool.NewScanner(cfg.Scanner, venue, cfg.Rotation.CandidateFile)
		if once {
			return scanner.ScanAndSave(ctx)
		}
		logger.Infof("🔍 [Scanner] Refreshing %s every %s", cfg.Rotation.CandidateFile, cfg.Scanner.Interval)
		return scanner.Run(ctx)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&once, "once", false, "scan a single time and exit")
	rootCmd.Flags().IntVar(&topN, "top", 0, "number of symbols to scan (default from config)")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
