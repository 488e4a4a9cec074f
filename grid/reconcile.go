package grid

import (
	"fmt"
	"time"

	"github.com/mky2266/mats/trader/types"
)

// HasFills reports whether DetectFills would find a fill, without marking any
func (s *State) HasFills(open map[string]struct{}) bool {
	for _, o := range s.Orders {
		if o.Status != OrderOpen {
			continue
		}
		if _, ok := open[o.ID]; !ok {
			return true
		}
	}
	return false
}

// DetectFills marks every tracked open order missing from the venue's open set
// as filled and returns those orders in ladder order
func (s *State) DetectFills(open map[string]struct{}, now time.Time) ([]Order, []Event) {
	var filled []Order
	var events []Event
	for i := range s.Orders {
		o := &s.Orders[i]
		if o.Status != OrderOpen {
			continue
		}
		if _, ok := open[o.ID]; ok {
			continue
		}
		o.Status = OrderFilled
		filled = append(filled, *o)
		events = append(events, Event{
			Kind:     EventFill,
			Symbol:   s.Symbol,
			At:       now,
			Side:     o.Side,
			Price:    o.Price,
			Quantity: o.Quantity,
			OrderID:  o.ID,
		})
	}
	return filled, events
}

// Track appends a newly placed order
func (s *State) Track(o Order) {
	o.Status = OrderOpen
	s.Orders = append(s.Orders, o)
}

// Prune drops filled orders from the tracked list
func (s *State) Prune() {
	kept := s.Orders[:0]
	for _, o := range s.Orders {
		if o.Status == OrderOpen {
			kept = append(kept, o)
		}
	}
	s.Orders = kept
}

// Refill is the replacement decided for one filled order
type Refill struct {
	Filled   Order
	Side     types.Side
	Price    float64
	Quantity float64
	Skip     bool
	Reason   string
}

// ReplacementFor returns the opposite side one step further out:
// a filled buy becomes a sell at price+step, a filled sell a buy at price-step
func ReplacementFor(filled Order, step float64) (types.Side, float64) {
	if filled.Side == types.SideBuy {
		return types.SideSell, filled.Price + step
	}
	return types.SideBuy, filled.Price - step
}

// PlanRefill decides the replacement for a fill given the current total
// position notional. Exposure at or above the cap skips the refill.
func PlanRefill(filled Order, step, exposure float64, p Params, rules *types.MarketRules) Refill {
	side, price := ReplacementFor(filled, step)
	r := Refill{Filled: filled, Side: side, Price: price}

	if limit := p.NotionalCap(); exposure >= limit {
		r.Skip = true
		r.Reason = fmt.Sprintf("total notional %.2f reached cap %.2f", exposure, limit)
		return r
	}
	if price <= 0 {
		r.Skip = true
		r.Reason = "replacement price is not positive"
		return r
	}
	qty, ok := SizeFor(p.NotionalPerLevel(), price, rules)
	if !ok {
		r.Skip = true
		r.Reason = fmt.Sprintf("quantity %v below venue minimum", qty)
		return r
	}
	r.Quantity = qty
	return r
}

// BreakoutKind tells which bound price escaped
type BreakoutKind int

const (
	BreakoutNone BreakoutKind = iota
	BreakoutUpper
	BreakoutLower
)

func (b BreakoutKind) String() string {
	switch b {
	case BreakoutUpper:
		return "upper"
	case BreakoutLower:
		return "lower"
	default:
		return "none"
	}
}

// CheckBreakout compares price to the ladder bounds. Inactive ladders never break out.
func (s *State) CheckBreakout(price float64) BreakoutKind {
	if !s.Active() {
		return BreakoutNone
	}
	switch {
	case price > s.UpperPrice:
		return BreakoutUpper
	case price < s.LowerPrice:
		return BreakoutLower
	}
	return BreakoutNone
}

// CooldownElapsed reports whether at least cooldown has passed since last.
// A zero last time counts as elapsed.
func CooldownElapsed(last, now time.Time, cooldown time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= cooldown
}
