package backtest

import (
	"fmt"
	"sort"

	"github.com/mky2266/mats/trader/types"
)

// Outcome is one scored combination of a sweep
type Outcome struct {
	Result *Result
	Score  float64
}

// Score ranks a result: 0.6 × pnl% − 0.4 × max drawdown%
func Score(r *Result) float64 {
	return r.TotalPnLPct*0.6 - r.MaxDrawdownPct*0.4
}

// Sweep simulates every (multiplier, grid count) pair over the same candles.
// Outcomes keep the sweep order: multipliers outer, grid counts inner.
func Sweep(candles []types.Candle, base Params, multipliers []float64, counts []int) ([]Outcome, error) {
	if len(multipliers) == 0 || len(counts) == 0 {
		return nil, fmt.Errorf("sweep needs at least one multiplier and one grid count")
	}
	outcomes := make([]Outcome, 0, len(multipliers)*len(counts))
	for _, m := range multipliers {
		for _, n := range counts {
			p := base
			p.ATRMultiplier = m
			p.GridCount = n
			res, err := Simulate(candles, p)
			if err != nil {
				return nil, fmt.Errorf("simulate ATR×%g N=%d: %w", m, n, err)
			}
			outcomes = append(outcomes, Outcome{Result: res, Score: Score(res)})
		}
	}
	return outcomes, nil
}

// Best returns the highest-scoring outcome; ties keep the earlier one
func Best(outcomes []Outcome) (Outcome, bool) {
	if len(outcomes) == 0 {
		return Outcome{}, false
	}
	best := outcomes[0]
	for _, o := range outcomes[1:] {
		if o.Score > best.Score {
			best = o
		}
	}
	return best, true
}

// Ranked returns a copy of outcomes sorted by score, best first
func Ranked(outcomes []Outcome) []Outcome {
	out := append([]Outcome(nil), outcomes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
