package market

import (
	"math"

	"github.com/mky2266/mats/trader/types"
)

// TrueRange of a candle given the previous close
func TrueRange(c types.Candle, prevClose float64) float64 {
	highLow := c.High - c.Low
	highClose := math.Abs(c.High - prevClose)
	lowClose := math.Abs(c.Low - prevClose)
	return math.Max(highLow, math.Max(highClose, lowClose))
}

// ATRSeries computes Wilder-smoothed Average True Range values.
// The first value is the mean of the first period true ranges (which need a
// previous close, so period+1 candles), each later value is
// (prev*(period-1) + tr) / period.
// result[i] belongs to candles[i+period]; Offset(period) returns that shift.
func ATRSeries(candles []types.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, types.InsufficientData("ATR period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return nil, types.InsufficientData("ATR(%d) needs %d candles, got %d", period, period+1, len(candles))
	}

	out := make([]float64, 0, len(candles)-period)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += TrueRange(candles[i], candles[i-1].Close)
	}
	atr := sum / float64(period)
	out = append(out, atr)

	for i := period + 1; i < len(candles); i++ {
		tr := TrueRange(candles[i], candles[i-1].Close)
		atr = (atr*float64(period-1) + tr) / float64(period)
		out = append(out, atr)
	}
	return out, nil
}

// Offset is the candle index of ATRSeries(...)[0]
func Offset(period int) int {
	return period
}

// ATR returns the latest ATR value
func ATR(candles []types.Candle, period int) (float64, error) {
	series, err := ATRSeries(candles, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// SMASeries returns the simple moving average aligned with values.
// Entries before index period-1 are NaN.
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if period <= 0 || i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMASeries returns the exponential moving average aligned with values.
// It is seeded with the SMA of the first period values; earlier entries are NaN.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)
	out[period-1] = ema

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// Closes extracts close prices
func Closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
