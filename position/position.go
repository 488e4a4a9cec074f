package position

import (
	"fmt"
	"time"

	"github.com/mky2266/mats/trader/types"
)

// StopState of an open position's protective stop
type StopState int

const (
	// StopFixed is the initial ATR stop
	StopFixed StopState = iota
	// StopTrailing follows the best price since entry at a fixed ATR distance
	StopTrailing
)

func (s StopState) String() string {
	if s == StopTrailing {
		return "trailing"
	}
	return "fixed"
}

// MarshalText encodes the stop state by name
func (s StopState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stop state name
func (s *StopState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fixed", "":
		*s = StopFixed
	case "trailing":
		*s = StopTrailing
	default:
		return fmt.Errorf("invalid stop state %q", string(b))
	}
	return nil
}

// Params are the ATR distances of the stops. Zero TakeProfitATR disables take-profit,
// zero TrailStartATR disables trailing.
type Params struct {
	StopATR       float64
	TakeProfitATR float64
	TrailStartATR float64
}

// Position is a directional position. A nil *Position means flat.
type Position struct {
	Symbol     string             `json:"symbol"`
	Side       types.PositionSide `json:"side"`
	EntryPrice float64            `json:"entry_price"`
	Amount     float64            `json:"amount"`
	ATR        float64            `json:"atr"`
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit,omitempty"`
	Stop       StopState          `json:"stop_state"`
	Extreme    float64            `json:"extreme"` // Best price since entry
	OpenedAt   time.Time          `json:"opened_at"`
}

// Open builds a position with its initial stops
func Open(symbol string, side types.PositionSide, price, amount, atr float64, p Params, now time.Time) *Position {
	pos := &Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: price,
		Amount:     amount,
		ATR:        atr,
		Extreme:    price,
		OpenedAt:   now,
	}
	dist := atr * p.StopATR
	tp := atr * p.TakeProfitATR
	if side == types.PositionLong {
		pos.StopLoss = price - dist
		if tp > 0 {
			pos.TakeProfit = price + tp
		}
	} else {
		pos.StopLoss = price + dist
		if tp > 0 {
			pos.TakeProfit = price - tp
		}
	}
	return pos
}

// PnL at price, in quote currency
func (p *Position) PnL(price float64) float64 {
	if p.Side == types.PositionLong {
		return (price - p.EntryPrice) * p.Amount
	}
	return (p.EntryPrice - price) * p.Amount
}

// PnLPercent relative to entry, unlevered
func (p *Position) PnLPercent(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == types.PositionShort {
		return -move
	}
	return move
}

// AdverseLoss is the loss at price, zero when in profit
func (p *Position) AdverseLoss(price float64) float64 {
	if pnl := p.PnL(price); pnl < 0 {
		return -pnl
	}
	return 0
}

// Notional at price
func (p *Position) Notional(price float64) float64 {
	return p.Amount * price
}

// Exit tells why a position must close
type Exit int

const (
	ExitNone Exit = iota
	ExitStopLoss
	ExitTakeProfit
)

func (e Exit) String() string {
	switch e {
	case ExitStopLoss:
		return "stop_loss"
	case ExitTakeProfit:
		return "take_profit"
	default:
		return "none"
	}
}

// Update is the outcome of Mark
type Update struct {
	Exit          Exit
	TrailStarted  bool    // Stop moved to breakeven and started trailing
	StopMoved     bool    // Trailing stop ratcheted
	PreviousStop  float64 // Stop before this mark
	CurrentStop   float64
	ExtremeMarked float64
}

// Mark applies a new price: records the extreme, checks stop and take-profit,
// then moves the stop to breakeven once price is TrailStartATR in favor and
// ratchets it behind the extreme afterwards
func (p *Position) Mark(price float64, params Params) Update {
	u := Update{PreviousStop: p.StopLoss}
	long := p.Side == types.PositionLong

	if (long && price > p.Extreme) || (!long && price < p.Extreme) {
		p.Extreme = price
	}
	u.ExtremeMarked = p.Extreme

	switch {
	case long && price <= p.StopLoss, !long && price >= p.StopLoss:
		u.Exit = ExitStopLoss
	case p.TakeProfit > 0 && long && price >= p.TakeProfit,
		p.TakeProfit > 0 && !long && price <= p.TakeProfit:
		u.Exit = ExitTakeProfit
	}
	if u.Exit != ExitNone {
		u.CurrentStop = p.StopLoss
		return u
	}

	switch p.Stop {
	case StopFixed:
		if params.TrailStartATR <= 0 {
			break
		}
		trigger := p.ATR * params.TrailStartATR
		if (long && price >= p.EntryPrice+trigger) || (!long && price <= p.EntryPrice-trigger) {
			p.StopLoss = p.EntryPrice
			p.Stop = StopTrailing
			u.TrailStarted = true
		}
	case StopTrailing:
		dist := p.ATR * params.StopATR
		if long {
			if next := p.Extreme - dist; next > p.StopLoss {
				p.StopLoss = next
				u.StopMoved = true
			}
		} else {
			if next := p.Extreme + dist; next < p.StopLoss {
				p.StopLoss = next
				u.StopMoved = true
			}
		}
	}
	u.CurrentStop = p.StopLoss
	return u
}
