package types

import (
	"fmt"
	"strings"
	"time"
)

// Candle is one OHLCV bar
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide accepts buy/sell in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// OrderType is the venue order type
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// PositionSide is the direction of an open position
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// CloseSide returns the order side that reduces a position
func (p PositionSide) CloseSide() Side {
	if p == PositionLong {
		return SideSell
	}
	return SideBuy
}

// OrderRequest describes one order submission
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price,omitempty"` // Ignored for market orders
	PostOnly   bool      `json:"post_only"`       // Maker only (GTX)
	ReduceOnly bool      `json:"reduce_only"`
	ClientID   string    `json:"client_id"`
}

// OrderResult is the venue acknowledgement of a placed order
type OrderResult struct {
	OrderID  string  `json:"order_id"`
	ClientID string  `json:"client_id"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Status   string  `json:"status"` // NEW, FILLED, ...
}

// OpenOrder represents a resting order on the venue
type OpenOrder struct {
	OrderID  string  `json:"order_id"`
	ClientID string  `json:"client_id"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Position is an open futures position. Quantity is always positive.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Quantity      float64      `json:"quantity"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	Notional      float64      `json:"notional"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
}

// Balance of the settlement asset. Total includes unrealized pnl.
type Balance struct {
	Total float64 `json:"total"`
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
}

// MarketRules holds venue granularity and minimums for a symbol
type MarketRules struct {
	Symbol      string  `json:"symbol"`
	MinQty      float64 `json:"min_qty"`
	QtyStep     float64 `json:"qty_step"`
	TickSize    float64 `json:"tick_size"`
	MinNotional float64 `json:"min_notional"`
}
