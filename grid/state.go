package grid

import (
	"fmt"
	"time"

	"github.com/mky2266/mats/trader/types"
)

// Phase of a grid lifecycle
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name for the state file
func (p Phase) MarshalText() ([]byte, error) {
	switch p {
	case PhaseUninitialized, PhaseActive:
		return []byte(p.String()), nil
	}
	return nil, fmt.Errorf("invalid grid phase %d", int(p))
}

// UnmarshalText decodes a phase name
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized", "":
		*p = PhaseUninitialized
	case "active":
		*p = PhaseActive
	default:
		return fmt.Errorf("invalid grid phase %q", string(b))
	}
	return nil
}

// OrderStatus of a ladder order
type OrderStatus int

const (
	OrderOpen OrderStatus = iota
	OrderFilled
)

func (s OrderStatus) String() string {
	if s == OrderFilled {
		return "filled"
	}
	return "open"
}

// MarshalText encodes the status by name
func (s OrderStatus) MarshalText() ([]byte, error) {
	switch s {
	case OrderOpen, OrderFilled:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid order status %d", int(s))
}

// UnmarshalText decodes a status name
func (s *OrderStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open", "":
		*s = OrderOpen
	case "filled":
		*s = OrderFilled
	default:
		return fmt.Errorf("invalid order status %q", string(b))
	}
	return nil
}

// Order is one tracked ladder level
type Order struct {
	ID       string      `json:"id"`
	ClientID string      `json:"client_id,omitempty"`
	Price    float64     `json:"price"`
	Quantity float64     `json:"quantity"`
	Side     types.Side  `json:"side"`
	Status   OrderStatus `json:"status"`
}

// State is the live ladder. It is owned by a single engine and replaced
// wholesale on reset or rotation.
type State struct {
	Phase               Phase     `json:"phase"`
	Symbol              string    `json:"symbol"`
	UpperPrice          float64   `json:"upper_price"`
	LowerPrice          float64   `json:"lower_price"`
	GridStep            float64   `json:"grid_step"`
	Orders              []Order   `json:"orders"`
	LastRebalanceAt     time.Time `json:"last_rebalance_at"`
	LastRotationAt      time.Time `json:"last_rotation_at"`
	LastRotationCheckAt time.Time `json:"last_rotation_check_at"`
}

// Active reports whether a ladder is live
func (s *State) Active() bool {
	return s.Phase == PhaseActive
}

// Validate checks the bounds invariant of an active ladder
func (s *State) Validate() error {
	if !s.Active() {
		return nil
	}
	if s.GridStep <= 0 {
		return fmt.Errorf("active grid has non-positive step %v", s.GridStep)
	}
	if s.LowerPrice >= s.UpperPrice {
		return fmt.Errorf("active grid has lower %v >= upper %v", s.LowerPrice, s.UpperPrice)
	}
	return nil
}

// Activate replaces the ladder with a freshly built one
func (s *State) Activate(symbol string, l *Ladder, orders []Order, now time.Time) {
	s.Phase = PhaseActive
	s.Symbol = symbol
	s.UpperPrice = l.Upper
	s.LowerPrice = l.Lower
	s.GridStep = l.Step
	s.Orders = orders
	s.LastRebalanceAt = now
}

// Deactivate drops the ladder. Rotation timestamps survive.
func (s *State) Deactivate() {
	s.Phase = PhaseUninitialized
	s.UpperPrice = 0
	s.LowerPrice = 0
	s.GridStep = 0
	s.Orders = nil
}

// OpenOrders returns the tracked orders still resting
func (s *State) OpenOrders() []Order {
	out := make([]Order, 0, len(s.Orders))
	for _, o := range s.Orders {
		if o.Status == OrderOpen {
			out = append(out, o)
		}
	}
	return out
}
