package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides cfg with any environment variables that are set
func applyEnv(cfg *Config) {
	envString("EXCHANGE", &cfg.Exchange.Name)
	envString("BINANCE_API_KEY", &cfg.Exchange.APIKey)
	envString("BINANCE_SECRET_KEY", &cfg.Exchange.SecretKey)
	envBool("BINANCE_TESTNET", &cfg.Exchange.Testnet)
	envBool("SIM_MODE", &cfg.Exchange.SimMode)
	envFloat("SIM_BALANCE", &cfg.Exchange.SimBalance)
	envFloat("SIM_FEE_RATE", &cfg.Exchange.SimFeeRate)

	envString("GRID_SYMBOL", &cfg.Grid.Symbol)
	envFloat("GRID_INVESTMENT", &cfg.Grid.Investment)
	envInt("GRID_COUNT", &cfg.Grid.GridCount)
	envInt("GRID_LEVERAGE", &cfg.Grid.Leverage)
	envDuration("CHECK_INTERVAL", &cfg.Grid.CheckInterval)
	envInt("ATR_PERIOD", &cfg.Grid.ATRPeriod)
	envString("ATR_TIMEFRAME", &cfg.Grid.ATRTimeframe)
	envFloat("ATR_MULTIPLIER", &cfg.Grid.ATRMultiplier)
	envBool("DYNAMIC_ATR_MULTIPLIER", &cfg.Grid.DynamicMultiplier)
	envBool("AUTO_REBALANCE", &cfg.Grid.AutoRebalance)
	envDuration("REBALANCE_COOLDOWN", &cfg.Grid.RebalanceCooldown)
	envDuration("PLACEMENT_DELAY", &cfg.Grid.PlacementDelay)
	envBool("POST_ONLY", &cfg.Grid.PostOnly)
	envString("STATE_FILE", &cfg.Grid.StateFile)
	envBool("DAILY_REPORT", &cfg.Grid.DailyReport)

	envBool("RISK_ENABLED", &cfg.Risk.Enabled)
	envFloat("STOP_LOSS_PERCENT", &cfg.Risk.StopLossPercent)
	envFloat("DAILY_LOSS_LIMIT", &cfg.Risk.DailyLossLimit)
	envFloat("MAX_DRAWDOWN_PERCENT", &cfg.Risk.MaxDrawdownPercent)

	envBool("ENABLE_ROTATION", &cfg.Rotation.Enabled)
	envDuration("ROTATION_INTERVAL", &cfg.Rotation.Interval)
	envFloat("ROTATION_THRESHOLD", &cfg.Rotation.ImprovementThreshold)
	envFloat("MIN_VOLUME", &cfg.Rotation.MinVolume)
	envDuration("ROTATION_COOLDOWN", &cfg.Rotation.Cooldown)
	envString("CANDIDATE_FILE", &cfg.Rotation.CandidateFile)

	envString("BACKTEST_TIMEFRAME", &cfg.Backtest.Timeframe)
	envInt("BACKTEST_DAYS", &cfg.Backtest.Days)
	envFloat("BACKTEST_INVESTMENT", &cfg.Backtest.Investment)
	envInt("BACKTEST_LEVERAGE", &cfg.Backtest.Leverage)
	envFloat("BACKTEST_FEE_RATE", &cfg.Backtest.FeeRate)

	envInt("SCANNER_TOP_N", &cfg.Scanner.TopN)
	envDuration("SCANNER_INTERVAL", &cfg.Scanner.Interval)

	envString("TREND_SYMBOL", &cfg.Trend.Symbol)
	envFloat("TREND_INVESTMENT", &cfg.Trend.Investment)
	envInt("TREND_LEVERAGE", &cfg.Trend.Leverage)
	envDuration("TREND_CHECK_INTERVAL", &cfg.Trend.CheckInterval)
	envString("TREND_STATE_FILE", &cfg.Trend.StateFile)

	envString("TELEGRAM_BOT_TOKEN", &cfg.Notify.TelegramToken)
	envInt64("TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)

	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FILE", &cfg.Log.File)

	envString("DB_PATH", &cfg.Store.Path)
	envString("STATUS_ADDR", &cfg.Status.Addr)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// envDuration accepts Go durations ("30s", "4h") or a bare number of seconds
func envDuration(key string, dst *time.Duration) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}
