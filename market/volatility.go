package market

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mky2266/mats/trader/types"
)

// VolatilityScore is ATR divided by price. Zero when either input is unusable.
func VolatilityScore(atr, price float64) float64 {
	if atr <= 0 || price <= 0 || math.IsNaN(atr) || math.IsNaN(price) {
		return 0
	}
	return atr / price
}

// LiveVolatility fetches period+10 candles of the given timeframe and the last
// price, and returns ATR(period)/price
func LiveVolatility(ctx context.Context, src types.PriceSource, symbol, timeframe string, period int) (float64, error) {
	candles, err := src.Candles(ctx, symbol, timeframe, period+10)
	if err != nil {
		return 0, fmt.Errorf("fetch %s candles for %s: %w", timeframe, symbol, err)
	}
	atr, err := ATR(candles, period)
	if err != nil {
		return 0, err
	}
	price, err := src.LastPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}
	score := VolatilityScore(atr, price)
	if score == 0 {
		return 0, types.InsufficientData("volatility of %s is not computable (atr=%v price=%v)", symbol, atr, price)
	}
	return score, nil
}

// SidewaysScore is the percentage (0-100) of bars whose close lies within
// threshold (a fraction) of the maPeriod SMA. Bars are counted from index
// maPeriod on. Fewer than maPeriod+1 closes yields 0.
func SidewaysScore(closes []float64, maPeriod int, threshold float64) float64 {
	if maPeriod <= 0 || len(closes) < maPeriod+1 {
		return 0
	}
	sma := SMASeries(closes, maPeriod)

	inside, total := 0, 0
	for i := maPeriod; i < len(closes); i++ {
		if math.IsNaN(sma[i]) || sma[i] == 0 {
			continue
		}
		if math.Abs(closes[i]-sma[i])/sma[i] <= threshold {
			inside++
		}
		total++
	}
	if total == 0 {
		return 0
	}
	return float64(inside) / float64(total) * 100
}

// TimeframeDuration parses "15m", "1h", "4h", "1d", "1w"
func TimeframeDuration(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	unit := time.Duration(0)
	switch tf[len(tf)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return time.Duration(n) * unit, nil
}
