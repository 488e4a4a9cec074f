package types

import (
	"context"
	"time"
)

// PriceSource supplies last trade prices and OHLCV candles for a symbol.
// Candles are returned in ascending open-time order and always describe the
// freshest window the venue has.
type PriceSource interface {
	// LastPrice returns the last traded price
	LastPrice(ctx context.Context, symbol string) (float64, error)

	// Candles returns up to limit candles for the given timeframe (e.g. "1h", "4h")
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// HistorySource pages through historical candles starting at a point in time.
// Used by the backtest downloader, which needs more bars than a single request returns.
type HistorySource interface {
	CandlesSince(ctx context.Context, symbol, timeframe string, start time.Time, limit int) ([]Candle, error)
}

// Gateway is the order-side capability of a perpetual-futures venue.
// Every failure is returned as a *GatewayError so callers can branch with errors.Is
// on ErrMarginInsufficient, ErrTransientNetwork or ErrGateway.
type Gateway interface {
	PriceSource

	// SetLeverage sets the leverage multiplier for a symbol
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceOrder submits a single order and returns the venue-assigned id
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)

	// CancelAllOrders cancels every resting order for the symbol.
	// Having nothing to cancel is not an error.
	CancelAllOrders(ctx context.Context, symbol string) error

	// ListOpenOrders returns the resting orders for the symbol
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// ListPositions returns non-empty positions. An empty symbol means all symbols.
	ListPositions(ctx context.Context, symbol string) ([]Position, error)

	// GetBalance returns the account balance in the settlement asset
	GetBalance(ctx context.Context) (*Balance, error)

	// MarketRules returns quantity/price granularity for the symbol
	MarketRules(ctx context.Context, symbol string) (*MarketRules, error)
}

// OpenOrderIDs collects the ids of open orders into a set
func OpenOrderIDs(orders []OpenOrder) map[string]struct{} {
	ids := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		ids[o.OrderID] = struct{}{}
	}
	return ids
}
