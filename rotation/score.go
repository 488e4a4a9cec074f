package rotation

import (
	"fmt"
	"time"
)

// History aggregates persisted backtest runs of one symbol
type History struct {
	Runs           int
	AvgPnlPct      float64
	AvgDrawdownPct float64
}

// Candidate is one symbol under evaluation
type Candidate struct {
	Symbol          string
	VolatilityScore float64  // ATR/price
	Volume          float64  // Recent quote volume, 0 if unknown
	History         *History // nil without backtest runs
}

// Score combines volatility with backtest performance when that performance
// is positive; otherwise the score is the volatility alone
func Score(c Candidate) float64 {
	if h := c.History; h != nil && h.Runs > 0 && h.AvgPnlPct > 0 {
		return c.VolatilityScore*0.5 + (h.AvgPnlPct/100)*0.3 - (h.AvgDrawdownPct/100)*0.2
	}
	return c.VolatilityScore
}

// FilterLiquid drops candidates whose known volume is at or below minVolume.
// Unknown volume (0) is kept.
func FilterLiquid(cs []Candidate, minVolume float64) []Candidate {
	if minVolume <= 0 {
		return cs
	}
	out := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if c.Volume > 0 && c.Volume <= minVolume {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Best returns the highest-scoring candidate; ties keep the earlier one
func Best(cs []Candidate) (Candidate, float64, bool) {
	if len(cs) == 0 {
		return Candidate{}, 0, false
	}
	best, bestScore := cs[0], Score(cs[0])
	for _, c := range cs[1:] {
		if s := Score(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore, true
}

// Decision is the outcome of a rotation check
type Decision struct {
	Rotate       bool
	From         string
	To           string
	CurrentScore float64
	BestScore    float64
	Ratio        float64 // BestScore / CurrentScore, 0 when undefined
	Reason       string
}

// Decide applies the ratio gate and the rotation cooldown.
// A non-positive current score rotates to any positive best score.
func Decide(currentScore, bestScore, threshold float64, lastRotation, now time.Time, cooldown time.Duration) Decision {
	d := Decision{CurrentScore: currentScore, BestScore: bestScore}

	switch {
	case currentScore > 0:
		d.Ratio = bestScore / currentScore
		if d.Ratio <= threshold {
			d.Reason = fmt.Sprintf("improvement %.2fx does not exceed %.2fx", d.Ratio, threshold)
			return d
		}
	case bestScore <= 0:
		d.Reason = "no candidate has a positive score"
		return d
	}

	if !lastRotation.IsZero() {
		if since := now.Sub(lastRotation); since < cooldown {
			d.Reason = fmt.Sprintf("rotation cooldown, %s remaining", (cooldown - since).Round(time.Minute))
			return d
		}
	}

	d.Rotate = true
	if d.Ratio > 0 {
		d.Reason = fmt.Sprintf("improvement %.2fx exceeds %.2fx", d.Ratio, threshold)
	} else {
		d.Reason = "current symbol has no usable score"
	}
	return d
}
