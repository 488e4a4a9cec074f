package trend

import (
	"math"

	"github.com/mky2266/mats/market"
	"github.com/mky2266/mats/trader/types"
)

// Signal is an EMA crossover
type Signal string

const (
	SignalNone        Signal = ""
	SignalGoldenCross Signal = "golden_cross" // fast crosses above slow: go long
	SignalDeathCross  Signal = "death_cross"  // fast crosses below slow: go short
)

// Side returns the position side a signal opens
func (s Signal) Side() types.PositionSide {
	if s == SignalDeathCross {
		return types.PositionShort
	}
	return types.PositionLong
}

// Indicators are the values of the last two closed bars
type Indicators struct {
	Price       float64
	EMAFast     float64
	EMAFastPrev float64
	EMASlow     float64
	EMASlowPrev float64
	ATR         float64
}

// Compute derives the crossover inputs. It needs at least slow+2 candles.
func Compute(candles []types.Candle, fast, slow, atrPeriod int) (Indicators, error) {
	if fast <= 0 || slow <= fast {
		return Indicators{}, types.InsufficientData("EMA periods %d/%d are not usable", fast, slow)
	}
	if len(candles) < slow+2 {
		return Indicators{}, types.InsufficientData("EMA%d needs %d candles, got %d", slow, slow+2, len(candles))
	}
	closes := market.Closes(candles)
	f := market.EMASeries(closes, fast)
	s := market.EMASeries(closes, slow)
	atr, err := market.ATR(candles, atrPeriod)
	if err != nil {
		return Indicators{}, err
	}

	n := len(closes)
	ind := Indicators{
		Price:       closes[n-1],
		EMAFast:     f[n-1],
		EMAFastPrev: f[n-2],
		EMASlow:     s[n-1],
		EMASlowPrev: s[n-2],
		ATR:         atr,
	}
	for _, v := range []float64{ind.EMAFast, ind.EMAFastPrev, ind.EMASlow, ind.EMASlowPrev} {
		if math.IsNaN(v) {
			return Indicators{}, types.InsufficientData("EMA is not defined yet")
		}
	}
	return ind, nil
}

// Detect returns the crossover between the previous and the last bar
func Detect(ind Indicators) Signal {
	switch {
	case ind.EMAFastPrev <= ind.EMASlowPrev && ind.EMAFast > ind.EMASlow:
		return SignalGoldenCross
	case ind.EMAFastPrev >= ind.EMASlowPrev && ind.EMAFast < ind.EMASlow:
		return SignalDeathCross
	}
	return SignalNone
}
