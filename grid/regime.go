package grid

// ============================================================================
// Volatility regime and dynamic ATR multiplier
// ============================================================================

// Regime is the volatility class of a market, measured by ATR as a fraction of price
type Regime int

const (
	RegimeCalm     Regime = iota // ATR <= 1.5%
	RegimeNormal                 // 1.5% < ATR <= 3%
	RegimeActive                 // 3% < ATR <= 5%
	RegimeVolatile               // ATR > 5%
)

func (r Regime) String() string {
	switch r {
	case RegimeCalm:
		return "calm"
	case RegimeNormal:
		return "normal"
	case RegimeActive:
		return "active"
	case RegimeVolatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// ClassifyRegime maps ATR/price to a regime
func ClassifyRegime(atrRatio float64) Regime {
	switch {
	case atrRatio > 0.05:
		return RegimeVolatile
	case atrRatio > 0.03:
		return RegimeActive
	case atrRatio > 0.015:
		return RegimeNormal
	default:
		return RegimeCalm
	}
}

// Multiplier returns the ATR multiplier for the regime.
// Calm markets get wider steps, volatile ones tighter steps.
func (r Regime) Multiplier() float64 {
	switch r {
	case RegimeVolatile:
		return 0.8
	case RegimeActive:
		return 1.0
	case RegimeNormal:
		return 1.2
	default:
		return 1.5
	}
}

// DynamicMultiplier picks the multiplier for the given ATR and price
func DynamicMultiplier(atr, price float64) (float64, Regime) {
	ratio := 0.0
	if price > 0 {
		ratio = atr / price
	}
	r := ClassifyRegime(ratio)
	return r.Multiplier(), r
}
