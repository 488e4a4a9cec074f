package backtest

import (
	"math"
)

// EquityPoint is the simulated equity after one candle
type EquityPoint struct {
	Time           int64   `json:"ts"` // Candle open time, unix millis
	Equity         float64 `json:"equity"`
	Peak           float64 `json:"peak"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"` // Running maximum up to this point
}

// Metrics summarizes an equity curve
type Metrics struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	ProfitFactor   float64 `json:"profit_factor"`
	WinningBars    int     `json:"winning_bars"`
	LosingBars     int     `json:"losing_bars"`
}

// CalculateMetrics derives summary metrics from an equity curve
func CalculateMetrics(initial float64, points []EquityPoint) Metrics {
	var m Metrics
	if initial <= 0 {
		initial = 1
	}

	last := initial
	if len(points) > 0 && points[len(points)-1].Equity > 0 {
		last = points[len(points)-1].Equity
	}
	m.TotalReturnPct = (last - initial) / initial * 100
	m.MaxDrawdownPct = MaxDrawdown(initial, points)
	m.SharpeRatio = sharpeRatio(points)
	fillBarMetrics(&m, initial, points)
	return m
}

// MaxDrawdown is the largest (peak - equity) / peak over the curve, in percent.
// The peak starts at initial.
func MaxDrawdown(initial float64, points []EquityPoint) float64 {
	peak := initial
	if peak <= 0 {
		peak = 1
	}
	maxDD := 0.0
	for _, pt := range points {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - pt.Equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio calculates the Sharpe ratio from equity points.
// Uses sample standard deviation (n-1) and annualizes assuming ~252 periods.
func sharpeRatio(points []EquityPoint) float64 {
	// Need at least 10 data points for meaningful Sharpe calculation
	const minDataPoints = 10
	if len(points) < minDataPoints {
		return 0
	}

	returns := make([]float64, 0, len(points)-1)
	prev := points[0].Equity
	for i := 1; i < len(points); i++ {
		curr := points[i].Equity
		if prev <= 0 {
			prev = curr
			continue
		}
		returns = append(returns, (curr-prev)/prev)
		prev = curr
	}
	if len(returns) < minDataPoints-1 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std < 1e-10 {
		return 0
	}
	return (mean / std) * math.Sqrt(252)
}

func fillBarMetrics(m *Metrics, initial float64, points []EquityPoint) {
	prev := initial
	gains, losses := 0.0, 0.0
	for _, pt := range points {
		switch d := pt.Equity - prev; {
		case d > 0:
			m.WinningBars++
			gains += d
		case d < 0:
			m.LosingBars++
			losses -= d
		}
		prev = pt.Equity
	}
	if losses > 0 {
		m.ProfitFactor = gains / losses
	} else if gains > 0 {
		// No losses but have wins - use a high but reasonable cap
		m.ProfitFactor = 100.0
	}
}
