// Package backtest replays historical candles through the grid fill model
// to search ATR multiplier and grid count combinations.
package backtest

import (
	"fmt"
	"math"

	"github.com/mky2266/mats/grid"
	"github.com/mky2266/mats/market"
	"github.com/mky2266/mats/position"
	"github.com/mky2266/mats/trader/types"
)

// Params of one simulation
type Params struct {
	Investment    float64
	Leverage      int
	GridCount     int
	ATRMultiplier float64
	ATRPeriod     int
	FeeRate       float64 // Per side, e.g. 0.0004
}

// Validate checks the parameters
func (p Params) Validate() error {
	switch {
	case p.Investment <= 0:
		return fmt.Errorf("investment must be positive, got %v", p.Investment)
	case p.Leverage < 1:
		return fmt.Errorf("leverage must be >= 1, got %d", p.Leverage)
	case p.GridCount < 2:
		return fmt.Errorf("grid count must be >= 2, got %d", p.GridCount)
	case p.ATRMultiplier <= 0:
		return fmt.Errorf("ATR multiplier must be positive, got %v", p.ATRMultiplier)
	case p.ATRPeriod <= 0:
		return fmt.Errorf("ATR period must be positive, got %d", p.ATRPeriod)
	case p.FeeRate < 0:
		return fmt.Errorf("fee rate must not be negative, got %v", p.FeeRate)
	}
	return nil
}

// PositionPerLevel is the average notional per level, investment × leverage / N
func (p Params) PositionPerLevel() float64 {
	return p.Investment * float64(p.Leverage) / float64(p.GridCount)
}

// Result of one simulation
type Result struct {
	Params         Params        `json:"params"`
	FinalEquity    float64       `json:"final_equity"`
	TotalPnL       float64       `json:"total_pnl"`
	TotalPnLPct    float64       `json:"total_pnl_pct"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	FilledLevels   int           `json:"filled_levels"`
	BreakoutResets int           `json:"breakout_resets"`
	Candles        int           `json:"candles"` // Candles replayed after the ATR warm-up
	Curve          []EquityPoint `json:"curve,omitempty"`
}

type simGrid struct {
	active bool
	upper  float64
	lower  float64
	step   float64
}

func (g *simGrid) seed(price, atr, multiplier float64, n int) {
	g.step = atr * multiplier
	g.lower, g.upper = grid.Bounds(price, g.step, n)
	g.active = true
}

// Simulate replays candles (ascending) through the grid fill model.
//
// The first candle with an ATR value seeds nothing; each later candle either
// seeds an inactive grid at its close, resets the grid on a breakout and books
// the estimated directional loss, or credits the round trips its range allows.
func Simulate(candles []types.Candle, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	atr, err := market.ATRSeries(candles, p.ATRPeriod)
	if err != nil {
		return nil, err
	}
	offset := market.Offset(p.ATRPeriod)

	perLevel := p.PositionPerLevel()
	half := float64(p.GridCount) / 2
	res := &Result{Params: p}
	equity := p.Investment
	peak := equity
	maxDD := 0.0
	var g simGrid

	for i := 1; i < len(atr); i++ {
		c := candles[i+offset]
		a := atr[i]
		if a <= 0 || math.IsNaN(a) || c.Close <= 0 {
			continue
		}
		res.Candles++

		switch {
		case !g.active:
			g.seed(c.Close, a, p.ATRMultiplier, p.GridCount)

		case c.High > g.upper || c.Low < g.lower:
			// Approximation: the ladder is treated as having accumulated half of
			// its levels against the move, entered at the breached bound
			amount := perLevel * half / c.Close
			var exposure *position.Position
			var mark float64
			if c.High > g.upper {
				exposure = position.Open("", types.PositionShort, g.upper, amount, a, position.Params{}, c.OpenTime)
				mark = c.High
			} else {
				exposure = position.Open("", types.PositionLong, g.lower, amount, a, position.Params{}, c.OpenTime)
				mark = c.Low
			}
			equity -= exposure.AdverseLoss(mark)
			res.BreakoutResets++
			g.seed(c.Close, a, p.ATRMultiplier, p.GridCount)

		default:
			fills := int(math.Floor((c.High - c.Low) / g.step))
			if fills > p.GridCount-1 {
				fills = p.GridCount - 1
			}
			if fills > 0 {
				profit := perLevel * (g.step / c.Close)
				fee := perLevel * p.FeeRate * 2
				equity += float64(fills) * (profit - fee)
				res.FilledLevels += fills
			}
		}

		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
		res.Curve = append(res.Curve, EquityPoint{
			Time:           c.OpenTime.UnixMilli(),
			Equity:         equity,
			Peak:           peak,
			MaxDrawdownPct: maxDD,
		})
	}

	res.FinalEquity = equity
	res.TotalPnL = equity - p.Investment
	res.TotalPnLPct = res.TotalPnL / p.Investment * 100
	res.MaxDrawdownPct = maxDD
	return res, nil
}
