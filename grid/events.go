package grid

import (
	"fmt"
	"time"

	"github.com/mky2266/mats/trader/types"
)

// EventKind names an engine state transition
type EventKind string

const (
	EventInit            EventKind = "init"
	EventPlacement       EventKind = "placement"
	EventPlacementFailed EventKind = "placement_failed"
	EventFill            EventKind = "fill"
	EventRefill          EventKind = "refill"
	EventRefillSkipped   EventKind = "refill_skipped"
	EventRefillFailed    EventKind = "refill_failed"
	EventBreakoutReset   EventKind = "breakout_reset"
	EventRotation        EventKind = "rotation"
	EventRiskStop        EventKind = "risk_stop"
	EventDailyReport     EventKind = "daily_report"
)

// Event is emitted by pure transitions and applied by the engine
// (log, journal, notification)
type Event struct {
	Kind     EventKind  `json:"kind"`
	Symbol   string     `json:"symbol"`
	At       time.Time  `json:"at"`
	Side     types.Side `json:"side,omitempty"`
	Price    float64    `json:"price,omitempty"`
	Quantity float64    `json:"quantity,omitempty"`
	OrderID  string     `json:"order_id,omitempty"`
	Detail   string     `json:"detail,omitempty"`
}

// Notify reports whether the event is user-facing
func (e Event) Notify() bool {
	switch e.Kind {
	case EventInit, EventRefill, EventBreakoutReset, EventRotation, EventRiskStop, EventDailyReport:
		return true
	}
	return false
}

// Message renders the event as a single line
func (e Event) Message() string {
	switch e.Kind {
	case EventInit:
		return fmt.Sprintf("🕸️ Grid started [%s] %s", e.Symbol, e.Detail)
	case EventPlacement:
		return fmt.Sprintf("✅ Order placed [%s] %s @ %.6g (qty %v)", e.Symbol, e.Side, e.Price, e.Quantity)
	case EventPlacementFailed:
		return fmt.Sprintf("❌ Order failed [%s] %s @ %.6g: %s", e.Symbol, e.Side, e.Price, e.Detail)
	case EventFill:
		return fmt.Sprintf("✅ Filled [%s] %s @ %.6g", e.Symbol, e.Side, e.Price)
	case EventRefill:
		return fmt.Sprintf("💰 Grid fill, refilled [%s] %s @ %.6g (qty %v) %s", e.Symbol, e.Side, e.Price, e.Quantity, e.Detail)
	case EventRefillSkipped:
		return fmt.Sprintf("⚠️ Refill skipped [%s] %s @ %.6g: %s", e.Symbol, e.Side, e.Price, e.Detail)
	case EventRefillFailed:
		return fmt.Sprintf("❌ Refill failed [%s] %s @ %.6g: %s", e.Symbol, e.Side, e.Price, e.Detail)
	case EventBreakoutReset:
		return fmt.Sprintf("🔄 Breakout reset [%s] price %.6g %s", e.Symbol, e.Price, e.Detail)
	case EventRotation:
		return fmt.Sprintf("🔄 Grid rotation: %s", e.Detail)
	case EventRiskStop:
		return fmt.Sprintf("🚨 Risk stop [%s]: %s", e.Symbol, e.Detail)
	case EventDailyReport:
		return fmt.Sprintf("📊 Daily report [%s] %s", e.Symbol, e.Detail)
	}
	return fmt.Sprintf("[%s] %s %s", e.Kind, e.Symbol, e.Detail)
}
