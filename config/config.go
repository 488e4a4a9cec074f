package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mky2266/mats/logger"
	"gopkg.in/yaml.v3"
)

// Config is the complete bot configuration.
// It is built once at startup by Load and passed by value; components receive
// only the sub-struct they need and never mutate it.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Grid     GridConfig     `yaml:"grid"`
	Risk     RiskConfig     `yaml:"risk"`
	Rotation RotationConfig `yaml:"rotation"`
	Backtest BacktestConfig `yaml:"backtest"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Trend    TrendConfig    `yaml:"trend"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      logger.Config  `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Status   StatusConfig   `yaml:"status"`
}

// ExchangeConfig venue credentials and mode
type ExchangeConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
	// SimMode keeps synthetic orders locally instead of sending them to the venue
	SimMode bool `yaml:"sim_mode"`
	// Paper account used in sim mode
	SimBalance float64 `yaml:"sim_balance"`
	SimFeeRate float64 `yaml:"sim_fee_rate"`
}

// GridConfig live grid parameters
type GridConfig struct {
	Symbol            string        `yaml:"symbol"`
	Investment        float64       `yaml:"investment"`
	GridCount         int           `yaml:"grid_count"`
	Leverage          int           `yaml:"leverage"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	ATRPeriod         int           `yaml:"atr_period"`
	ATRTimeframe      string        `yaml:"atr_timeframe"`
	ATRMultiplier     float64       `yaml:"atr_multiplier"`     // Used when DynamicMultiplier is off
	DynamicMultiplier bool          `yaml:"dynamic_multiplier"` // Pick the multiplier from ATR/price
	AutoRebalance     bool          `yaml:"auto_rebalance"`
	RebalanceCooldown time.Duration `yaml:"rebalance_cooldown"`
	PlacementDelay    time.Duration `yaml:"placement_delay"`
	PostOnly          bool          `yaml:"post_only"`
	StateFile         string        `yaml:"state_file"`
	DailyReport       bool          `yaml:"daily_report"`
}

// RiskConfig loss limits as fractions of the investment
type RiskConfig struct {
	Enabled            bool    `yaml:"enabled"`
	StopLossPercent    float64 `yaml:"stop_loss_percent"`
	DailyLossLimit     float64 `yaml:"daily_loss_limit"`
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent"`
}

// RotationConfig symbol rotation parameters
type RotationConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	ImprovementThreshold float64       `yaml:"improvement_threshold"`
	MinVolume            float64       `yaml:"min_volume"`
	Cooldown             time.Duration `yaml:"cooldown"`
	CandidateFile        string        `yaml:"candidate_file"`
	UseBacktestHistory   bool          `yaml:"use_backtest_history"`
}

// BacktestConfig simulator and sweep parameters
type BacktestConfig struct {
	Timeframe     string        `yaml:"timeframe"`
	Days          int           `yaml:"days"`
	Investment    float64       `yaml:"investment"`
	Leverage      int           `yaml:"leverage"`
	FeeRate       float64       `yaml:"fee_rate"`
	ATRPeriod     int           `yaml:"atr_period"`
	MAPeriod      int           `yaml:"ma_period"`
	MAThreshold   float64       `yaml:"ma_threshold"`
	MinCandles    int           `yaml:"min_candles"`
	Multipliers   []float64     `yaml:"multipliers"`
	GridCounts    []int         `yaml:"grid_counts"`
	RequestPacing time.Duration `yaml:"request_pacing"`
	SidewaysFrame string        `yaml:"sideways_timeframe"`
}

// ScannerConfig market scanner parameters
type ScannerConfig struct {
	TopN          int           `yaml:"top_n"`
	Interval      time.Duration `yaml:"interval"`
	Timeframe     string        `yaml:"timeframe"`
	ATRPeriod     int           `yaml:"atr_period"`
	RequestPacing time.Duration `yaml:"request_pacing"`
}

// TrendConfig EMA-crossover sibling strategy
type TrendConfig struct {
	Symbol            string        `yaml:"symbol"` // Empty: pick from the candidate pool
	Investment        float64       `yaml:"investment"`
	Leverage          int           `yaml:"leverage"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	Timeframe         string        `yaml:"timeframe"`
	EMAFast           int           `yaml:"ema_fast"`
	EMASlow           int           `yaml:"ema_slow"`
	ATRPeriod         int           `yaml:"atr_period"`
	ATRStopMultiplier float64       `yaml:"atr_stop_multiplier"`
	ATRTakeProfitMult float64       `yaml:"atr_take_profit_multiplier"`
	TrailStartATR     float64       `yaml:"trail_start_atr"`
	StateFile         string        `yaml:"state_file"`
}

// NotifyConfig notification delivery
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	QueueSize      int    `yaml:"queue_size"`
}

// StoreConfig persistence
type StoreConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig optional read-only HTTP status endpoint
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{Name: "binance", SimBalance: 1000, SimFeeRate: 0.0004},
		Grid: GridConfig{
			Symbol:            "DUSKUSDT",
			Investment:        180,
			GridCount:         10,
			Leverage:          1,
			CheckInterval:     30 * time.Second,
			ATRPeriod:         14,
			ATRTimeframe:      "1h",
			ATRMultiplier:     1.2,
			DynamicMultiplier: true,
			AutoRebalance:     true,
			RebalanceCooldown: 5 * time.Minute,
			PlacementDelay:    500 * time.Millisecond,
			PostOnly:          true,
			StateFile:         "grid_state.json",
			DailyReport:       true,
		},
		Risk: RiskConfig{
			Enabled:            true,
			StopLossPercent:    0.15,
			DailyLossLimit:     0.20,
			MaxDrawdownPercent: 0.30,
		},
		Rotation: RotationConfig{
			Enabled:              true,
			Interval:             4 * time.Hour,
			ImprovementThreshold: 1.15,
			MinVolume:            1_000_000,
			Cooldown:             2 * time.Hour,
			CandidateFile:        "market_data.json",
			UseBacktestHistory:   true,
		},
		Backtest: BacktestConfig{
			Timeframe:     "1h",
			Days:          90,
			Investment:    180,
			Leverage:      1,
			FeeRate:       0.0004,
			ATRPeriod:     14,
			MAPeriod:      20,
			MAThreshold:   0.03,
			MinCandles:    200,
			Multipliers:   []float64{0.5, 0.8, 1.0, 1.2, 1.5, 2.0},
			GridCounts:    []int{5, 8, 10, 15, 20},
			RequestPacing: 150 * time.Millisecond,
			SidewaysFrame: "4h",
		},
		Scanner: ScannerConfig{
			TopN:          20,
			Interval:      12 * time.Hour,
			Timeframe:     "4h",
			ATRPeriod:     14,
			RequestPacing: 250 * time.Millisecond,
		},
		Trend: TrendConfig{
			Investment:        90,
			Leverage:          2,
			CheckInterval:     5 * time.Minute,
			Timeframe:         "4h",
			EMAFast:           20,
			EMASlow:           50,
			ATRPeriod:         14,
			ATRStopMultiplier: 2.0,
			ATRTakeProfitMult: 3.0,
			TrailStartATR:     1.0,
			StateFile:         "trend_state.json",
		},
		Notify: NotifyConfig{QueueSize: 64},
		Log:    logger.Config{Level: "info"},
		Store:  StoreConfig{Path: "data/backtest.db"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// MATS_CONFIG (if any), then environment variables. The result is validated.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("MATS_CONFIG")); path != "" {
		if err := mergeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile decodes a YAML file over cfg
func mergeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks invariants the components rely on
func (c Config) Validate() error {
	g := c.Grid
	switch {
	case strings.TrimSpace(g.Symbol) == "":
		return fmt.Errorf("grid.symbol is required")
	case g.Investment <= 0:
		return fmt.Errorf("grid.investment must be > 0, got %v", g.Investment)
	case g.GridCount < 2:
		return fmt.Errorf("grid.grid_count must be >= 2, got %d", g.GridCount)
	case g.Leverage < 1:
		return fmt.Errorf("grid.leverage must be >= 1, got %d", g.Leverage)
	case g.CheckInterval <= 0:
		return fmt.Errorf("grid.check_interval must be > 0")
	case g.ATRPeriod < 1:
		return fmt.Errorf("grid.atr_period must be >= 1")
	case !g.DynamicMultiplier && g.ATRMultiplier <= 0:
		return fmt.Errorf("grid.atr_multiplier must be > 0 when dynamic_multiplier is off")
	}

	r := c.Risk
	if r.Enabled {
		for name, v := range map[string]float64{
			"risk.stop_loss_percent":    r.StopLossPercent,
			"risk.daily_loss_limit":     r.DailyLossLimit,
			"risk.max_drawdown_percent": r.MaxDrawdownPercent,
		} {
			if v <= 0 || v > 1 {
				return fmt.Errorf("%s must be in (0, 1], got %v", name, v)
			}
		}
	}

	rot := c.Rotation
	if rot.Enabled {
		if rot.Interval <= 0 {
			return fmt.Errorf("rotation.interval must be > 0")
		}
		if rot.ImprovementThreshold <= 0 {
			return fmt.Errorf("rotation.improvement_threshold must be > 0")
		}
		if rot.CandidateFile == "" {
			return fmt.Errorf("rotation.candidate_file is required when rotation is enabled")
		}
	}

	b := c.Backtest
	switch {
	case len(b.Multipliers) == 0 || len(b.GridCounts) == 0:
		return fmt.Errorf("backtest.multipliers and backtest.grid_counts must not be empty")
	case b.Investment <= 0:
		return fmt.Errorf("backtest.investment must be > 0")
	case b.FeeRate < 0:
		return fmt.Errorf("backtest.fee_rate must be >= 0")
	}
	for _, n := range b.GridCounts {
		if n < 2 {
			return fmt.Errorf("backtest.grid_counts entries must be >= 2, got %d", n)
		}
	}
	for _, m := range b.Multipliers {
		if m <= 0 {
			return fmt.Errorf("backtest.multipliers entries must be > 0, got %v", m)
		}
	}

	t := c.Trend
	if t.EMAFast >= t.EMASlow {
		return fmt.Errorf("trend.ema_fast (%d) must be below trend.ema_slow (%d)", t.EMAFast, t.EMASlow)
	}

	if c.Exchange.SimMode && c.Exchange.SimBalance <= 0 {
		return fmt.Errorf("exchange.sim_balance must be > 0 in sim mode, got %v", c.Exchange.SimBalance)
	}
	if !c.Exchange.SimMode && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("exchange api_key/secret_key are required unless sim_mode is on")
	}
	return nil
}
