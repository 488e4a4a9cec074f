package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/market"
	"github.com/mky2266/mats/pool"
	"github.com/mky2266/mats/trader/types"
)

// PerformanceSource returns backtest aggregates for a symbol, nil when none exist
type PerformanceSource interface {
	Performance(ctx context.Context, symbol string) (*History, error)
}

// PerformanceFunc adapts a function to PerformanceSource
type PerformanceFunc func(ctx context.Context, symbol string) (*History, error)

func (f PerformanceFunc) Performance(ctx context.Context, symbol string) (*History, error) {
	return f(ctx, symbol)
}

// Selector ranks the candidate pool against the current symbol
type Selector struct {
	cfg       config.RotationConfig
	prices    types.PriceSource
	history   PerformanceSource
	timeframe string
	atrPeriod int
}

// NewSelector builds a selector. history may be nil.
func NewSelector(cfg config.RotationConfig, prices types.PriceSource, history PerformanceSource) *Selector {
	return &Selector{
		cfg:       cfg,
		prices:    prices,
		history:   history,
		timeframe: "1h",
		atrPeriod: 14,
	}
}

// Candidates loads the pool, drops illiquid symbols, computes missing
// volatility live and attaches backtest history
func (s *Selector) Candidates(ctx context.Context) ([]Candidate, error) {
	cache, err := pool.Load(s.cfg.CandidateFile)
	if err != nil {
		return nil, err
	}

	cs := make([]Candidate, 0, len(cache.Coins))
	for _, coin := range cache.Coins {
		if coin.Symbol == "" {
			continue
		}
		cs = append(cs, Candidate{Symbol: coin.Symbol, VolatilityScore: coin.VolatilityScore, Volume: coin.Volume4h})
	}
	cs = FilterLiquid(cs, s.cfg.MinVolume)

	for i := range cs {
		c := &cs[i]
		if c.VolatilityScore <= 0 {
			v, err := market.LiveVolatility(ctx, s.prices, c.Symbol, s.timeframe, s.atrPeriod)
			if err != nil {
				logger.Warnf("⚠️ [Rotation] volatility of %s unavailable: %v", c.Symbol, err)
			}
			c.VolatilityScore = v
		}
		c.History = s.performance(ctx, c.Symbol)
	}
	return cs, nil
}

func (s *Selector) performance(ctx context.Context, symbol string) *History {
	if s.history == nil || !s.cfg.UseBacktestHistory {
		return nil
	}
	h, err := s.history.Performance(ctx, symbol)
	if err != nil {
		logger.Warnf("⚠️ [Rotation] backtest history of %s unavailable: %v", symbol, err)
		return nil
	}
	return h
}

// Evaluate scores the pool and the current symbol and applies the gate
func (s *Selector) Evaluate(ctx context.Context, current string, lastRotation, now time.Time) (Decision, error) {
	cs, err := s.Candidates(ctx)
	if err != nil {
		return Decision{From: current, Reason: "candidate pool unavailable"}, err
	}

	best, bestScore, ok := Best(cs)
	if !ok {
		return Decision{From: current, Reason: "no eligible candidates"}, nil
	}
	if best.Symbol == current {
		return Decision{From: current, To: current, BestScore: bestScore, CurrentScore: bestScore,
			Reason: "current symbol is already the best candidate"}, nil
	}

	vol, err := market.LiveVolatility(ctx, s.prices, current, s.timeframe, s.atrPeriod)
	if err != nil {
		logger.Warnf("⚠️ [Rotation] volatility of current symbol %s unavailable: %v", current, err)
	}
	currentScore := Score(Candidate{Symbol: current, VolatilityScore: vol, History: s.performance(ctx, current)})

	d := Decide(currentScore, bestScore, s.cfg.ImprovementThreshold, lastRotation, now, s.cfg.Cooldown)
	d.From, d.To = current, best.Symbol
	logger.Infof("📊 [Rotation] %s score %.4f vs %s score %.4f: %s", current, currentScore, best.Symbol, bestScore, d.Reason)
	return d, nil
}

// String renders a decision for alerts
func (d Decision) String() string {
	return fmt.Sprintf("%s → %s (%.4f vs %.4f, %s)", d.From, d.To, d.CurrentScore, d.BestScore, d.Reason)
}
