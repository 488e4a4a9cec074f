package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/mky2266/mats/backtest"
	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/pool"
	"github.com/mky2266/mats/store"
	"github.com/mky2266/mats/trader"
	"github.com/spf13/cobra"
)

var (
	saveAll   bool
	timeframe string
)

var rootCmd = &cobra.Command{
	Use:   "backtest [SYMBOL] [DAYS]",
	Short: "Sweep grid parameters over historical candles",
	Long: `Downloads history for SYMBOL, simulates every ATR multiplier / grid count
combination and stores the best one (or all with --save-all) for rotation scoring.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Init(&cfg.Log); err != nil {
			return err
		}
		defer logger.Shutdown()

		symbol := cfg.Grid.Symbol
		days := cfg.Backtest.Days
		if len(args) > 0 {
			symbol = pool.NormalizeSymbol(args[0])
		}
		if len(args) > 1 {
			days, err = strconv.Atoi(args[1])
			if err != nil || days <= 0 {
				return fmt.Errorf("DAYS must be a positive integer, got %q", args[1])
			}
		}
		if timeframe != "" {
			cfg.Backtest.Timeframe = timeframe
		}

		st, err := store.New(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		venue := trader.NewFuturesTrader(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Testnet)
		runner := backtest.NewRunner(cfg.Backtest, venue, st.Backtest())
		rep, err := runner.Run(cmd.Context(), symbol, days, saveAll)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n%s %s, %d days, %d candles, sideways %.1f%%\n\n",
			rep.Symbol, rep.Timeframe, rep.Days, rep.Candles, rep.SidewaysScore)
		fmt.Fprint(out, backtest.Table(rep))
		fmt.Fprintln(out)
		for _, line := range backtest.Advice(rep) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "\n💾 %d run(s) saved to %s\n", rep.Saved, cfg.Store.Path)
		return nil
	},
}

func init() {
	rootCmd.Flags().BoolVar(&saveAll, "save-all", false, "store every combination instead of the best one")
	rootCmd.Flags().StringVar(&timeframe, "timeframe", "", "candle timeframe (default from config)")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
