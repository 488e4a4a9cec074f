package grid

import (
	"fmt"
	"math"

	"github.com/mky2266/mats/trader/types"
	"github.com/shopspring/decimal"
)

const (
	// NearPriceSkip drops levels this close (fraction of price) to the market;
	// post-only orders there would be rejected as takers
	NearPriceSkip = 0.002
	// MarginHaircut is the share of leveraged capital spread over the levels
	MarginHaircut = 0.8
)

// Params sizes a ladder
type Params struct {
	Investment float64
	Leverage   int
	GridCount  int
}

// NotionalPerLevel is (investment × leverage × 0.8) / N
func (p Params) NotionalPerLevel() float64 {
	if p.GridCount <= 0 {
		return 0
	}
	return p.Investment * float64(p.Leverage) * MarginHaircut / float64(p.GridCount)
}

// NotionalCap is the total exposure above which refills stop
func (p Params) NotionalCap() float64 {
	return p.Investment * float64(p.Leverage)
}

// Level is one ladder order to place
type Level struct {
	Index    int
	Price    float64
	Side     types.Side
	Quantity float64
}

// SkippedLevel records why a level was not placed
type SkippedLevel struct {
	Index  int
	Price  float64
	Reason string
}

// Ladder is the output of Build
type Ladder struct {
	Price      float64 // Market price the ladder is centered on
	ATR        float64
	Multiplier float64
	Step       float64
	Lower      float64
	Upper      float64
	Levels     []Level
	Skipped    []SkippedLevel
}

// Step returns atr × multiplier
func Step(atr, multiplier float64) (float64, error) {
	if atr <= 0 || math.IsNaN(atr) {
		return 0, types.InsufficientData("ATR must be positive, got %v", atr)
	}
	if multiplier <= 0 {
		return 0, fmt.Errorf("ATR multiplier must be positive, got %v", multiplier)
	}
	return atr * multiplier, nil
}

// Bounds centers N steps on price
func Bounds(price, step float64, n int) (lower, upper float64) {
	half := step * float64(n) / 2
	return price - half, price + half
}

// LevelPrices returns lower + i×step for i in [0, n)
func LevelPrices(lower, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lower + float64(i)*step
	}
	return out
}

// SizeFor converts a notional budget to an order quantity at price, floored to
// the venue quantity step. ok is false when the result is below the venue minimums.
func SizeFor(notional, price float64, rules *types.MarketRules) (qty float64, ok bool) {
	if notional <= 0 || price <= 0 {
		return 0, false
	}
	q := decimal.NewFromFloat(notional).Div(decimal.NewFromFloat(price))
	if rules != nil && rules.QtyStep > 0 {
		q = FloorToStep(q, rules.QtyStep)
	}
	qty = q.InexactFloat64()
	if qty <= 0 {
		return 0, false
	}
	if rules != nil {
		if rules.MinQty > 0 && qty < rules.MinQty {
			return qty, false
		}
		if rules.MinNotional > 0 && qty*price < rules.MinNotional {
			return qty, false
		}
	}
	return qty, true
}

// FloorToStep rounds v down to a multiple of step
func FloorToStep(v decimal.Decimal, step float64) decimal.Decimal {
	s := decimal.NewFromFloat(step)
	if s.Sign() <= 0 {
		return v
	}
	return v.Div(s).Floor().Mul(s)
}

// RoundToStep rounds v to the nearest multiple of step
func RoundToStep(v float64, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Round(0).Mul(s).InexactFloat64()
}

// Build derives the ladder for the current price and ATR.
// A non-positive ATR fails with ErrInsufficientData.
func Build(price, atr, multiplier float64, p Params, rules *types.MarketRules) (*Ladder, error) {
	if price <= 0 {
		return nil, types.InsufficientData("price must be positive, got %v", price)
	}
	if p.GridCount < 2 {
		return nil, fmt.Errorf("grid count must be >= 2, got %d", p.GridCount)
	}
	step, err := Step(atr, multiplier)
	if err != nil {
		return nil, err
	}

	lower, upper := Bounds(price, step, p.GridCount)
	l := &Ladder{
		Price:      price,
		ATR:        atr,
		Multiplier: multiplier,
		Step:       step,
		Lower:      lower,
		Upper:      upper,
	}

	notional := p.NotionalPerLevel()
	for i, lp := range LevelPrices(lower, step, p.GridCount) {
		if lp <= 0 {
			l.Skipped = append(l.Skipped, SkippedLevel{Index: i, Price: lp, Reason: "non-positive price"})
			continue
		}
		if math.Abs(lp-price)/price < NearPriceSkip {
			l.Skipped = append(l.Skipped, SkippedLevel{Index: i, Price: lp, Reason: "too close to market"})
			continue
		}
		side := types.SideSell
		if lp < price {
			side = types.SideBuy
		}
		qty, ok := SizeFor(notional, lp, rules)
		if !ok {
			l.Skipped = append(l.Skipped, SkippedLevel{Index: i, Price: lp, Reason: fmt.Sprintf("quantity %v below venue minimum", qty)})
			continue
		}
		l.Levels = append(l.Levels, Level{Index: i, Price: lp, Side: side, Quantity: qty})
	}
	return l, nil
}
