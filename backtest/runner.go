package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/market"
	"github.com/mky2266/mats/store"
	"github.com/mky2266/mats/trader/types"
)

// RunStore persists backtest runs
type RunStore interface {
	Save(run *store.BacktestRun) error
}

// Runner downloads history for a symbol, sweeps the parameter grid and
// persists the outcome
type Runner struct {
	cfg        config.BacktestConfig
	downloader *Downloader
	runs       RunStore
	now        func() time.Time
}

// NewRunner creates a runner. runs may be nil to skip persistence.
func NewRunner(cfg config.BacktestConfig, src types.HistorySource, runs RunStore) *Runner {
	return &Runner{
		cfg:        cfg,
		downloader: &Downloader{Source: src, Pacing: cfg.RequestPacing},
		runs:       runs,
		now:        time.Now,
	}
}

// Report is the outcome of a symbol sweep
type Report struct {
	Symbol        string
	Timeframe     string
	Days          int
	Candles       int
	SidewaysScore float64
	Outcomes      []Outcome // Sweep order
	Best          Outcome
	Saved         int
}

// Run sweeps symbol over the last days of history. With saveAll every
// combination is persisted, otherwise only the best one.
func (r *Runner) Run(ctx context.Context, symbol string, days int, saveAll bool) (*Report, error) {
	if days <= 0 {
		days = r.cfg.Days
	}
	end := r.now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	logger.Infof("📥 [Backtest] downloading %d days of %s %s candles", days, symbol, r.cfg.Timeframe)
	candles, err := r.downloader.Download(ctx, symbol, r.cfg.Timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if len(candles) < r.cfg.MinCandles {
		return nil, types.InsufficientData("%s: %d candles, need at least %d", symbol, len(candles), r.cfg.MinCandles)
	}

	report := &Report{Symbol: symbol, Timeframe: r.cfg.Timeframe, Days: days, Candles: len(candles)}
	report.SidewaysScore = r.sideways(ctx, symbol, start, end)

	base := Params{
		Investment: r.cfg.Investment,
		Leverage:   r.cfg.Leverage,
		ATRPeriod:  r.cfg.ATRPeriod,
		FeeRate:    r.cfg.FeeRate,
	}
	report.Outcomes, err = Sweep(candles, base, r.cfg.Multipliers, r.cfg.GridCounts)
	if err != nil {
		return nil, err
	}
	report.Best, _ = Best(report.Outcomes)

	if r.runs != nil {
		toSave := []Outcome{report.Best}
		if saveAll {
			toSave = report.Outcomes
		}
		runAt := r.now().UTC()
		for _, o := range toSave {
			if err := r.runs.Save(r.record(report, o, runAt)); err != nil {
				return report, fmt.Errorf("persist backtest run: %w", err)
			}
			report.Saved++
		}
	}

	b := report.Best.Result
	logger.Infof("🏆 [Backtest] %s best ATR×%g N=%d: pnl %.2f%% dd %.2f%% score %.2f",
		symbol, b.Params.ATRMultiplier, b.Params.GridCount, b.TotalPnLPct, b.MaxDrawdownPct, report.Best.Score)
	return report, nil
}

// sideways computes the sideways score on the coarser frame; failures yield 0
func (r *Runner) sideways(ctx context.Context, symbol string, start, end time.Time) float64 {
	frame := r.cfg.SidewaysFrame
	if frame == "" {
		frame = r.cfg.Timeframe
	}
	candles, err := r.downloader.Download(ctx, symbol, frame, start, end)
	if err != nil {
		logger.Warnf("⚠️ [Backtest] sideways score of %s unavailable: %v", symbol, err)
		return 0
	}
	return market.SidewaysScore(market.Closes(candles), r.cfg.MAPeriod, r.cfg.MAThreshold)
}

func (r *Runner) record(rep *Report, o Outcome, runAt time.Time) *store.BacktestRun {
	res := o.Result
	return &store.BacktestRun{
		Strategy:       store.GridStrategyName(res.Params.ATRMultiplier, res.Params.GridCount, rep.Timeframe),
		RunAt:          runAt,
		Symbol:         rep.Symbol,
		Timeframe:      rep.Timeframe,
		DaysBack:       rep.Days,
		ATRMultiplier:  res.Params.ATRMultiplier,
		GridCount:      res.Params.GridCount,
		Leverage:       res.Params.Leverage,
		Investment:     res.Params.Investment,
		FinalEquity:    res.FinalEquity,
		TotalPnL:       res.TotalPnL,
		TotalPnLPct:    res.TotalPnLPct,
		MaxDrawdownPct: res.MaxDrawdownPct,
		FilledLevels:   res.FilledLevels,
		BreakoutResets: res.BreakoutResets,
		SidewaysScore:  rep.SidewaysScore,
		Score:          o.Score,
	}
}

// Advice turns the best outcome and the sideways score into operator hints
func Advice(rep *Report) []string {
	var out []string
	switch {
	case rep.SidewaysScore >= 50:
		out = append(out, fmt.Sprintf("✅ sideways score %.1f%%: ranging market, suitable for grid trading", rep.SidewaysScore))
	case rep.SidewaysScore >= 30:
		out = append(out, fmt.Sprintf("⚠️ sideways score %.1f%%: mixed market, grid results are average", rep.SidewaysScore))
	default:
		out = append(out, fmt.Sprintf("❌ sideways score %.1f%%: trending market, prefer a trend strategy", rep.SidewaysScore))
	}
	if b := rep.Best.Result; b != nil {
		if b.MaxDrawdownPct > 30 {
			out = append(out, fmt.Sprintf("⚠️ max drawdown %.1f%% is high, lower the leverage", b.MaxDrawdownPct))
		}
		if b.BreakoutResets > 50 {
			out = append(out, fmt.Sprintf("⚠️ %d breakout resets, widen the ATR multiplier", b.BreakoutResets))
		}
	}
	return out
}

// Table renders the outcomes best first
func Table(rep *Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s %-4s %10s %9s %8s %7s %7s %8s\n", "ATR×", "N", "equity", "pnl%", "dd%", "fills", "resets", "score")
	for _, o := range Ranked(rep.Outcomes) {
		r := o.Result
		fmt.Fprintf(&sb, "%-6g %-4d %10.2f %9.2f %8.2f %7d %7d %8.2f\n",
			r.Params.ATRMultiplier, r.Params.GridCount, r.FinalEquity, r.TotalPnLPct,
			r.MaxDrawdownPct, r.FilledLevels, r.BreakoutResets, o.Score)
	}
	return sb.String()
}
