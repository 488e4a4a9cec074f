package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/trader/types"
)

// MarketData is the read side the paper gateway needs from a real venue
type MarketData interface {
	types.PriceSource
	MarketRules(ctx context.Context, symbol string) (*types.MarketRules, error)
}

type paperOrder struct {
	types.OpenOrder
	reduceOnly bool
	seq        int
}

type paperPosition struct {
	qty   float64 // Signed: positive long, negative short
	entry float64
}

// PaperGateway simulates order handling against real prices (sim mode).
// Resting limit orders fill when the last price reaches them; nothing is
// sent to the venue.
type PaperGateway struct {
	market MarketData

	mu        sync.Mutex
	cash      float64 // Wallet balance including realized pnl
	feeRate   float64
	leverage  map[string]int
	orders    map[string]*paperOrder
	positions map[string]*paperPosition
	lastPrice map[string]float64
	seq       int
}

// NewPaperGateway starts with the given wallet balance
func NewPaperGateway(market MarketData, balance, feeRate float64) *PaperGateway {
	return &PaperGateway{
		market:    market,
		cash:      balance,
		feeRate:   feeRate,
		leverage:  make(map[string]int),
		orders:    make(map[string]*paperOrder),
		positions: make(map[string]*paperPosition),
		lastPrice: make(map[string]float64),
	}
}

func (g *PaperGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return g.market.LastPrice(ctx, symbol)
}

func (g *PaperGateway) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	return g.market.Candles(ctx, symbol, timeframe, limit)
}

func (g *PaperGateway) MarketRules(ctx context.Context, symbol string) (*types.MarketRules, error) {
	return g.market.MarketRules(ctx, symbol)
}

func (g *PaperGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return types.NewGatewayError("SetLeverage", nil, -4028, fmt.Errorf("leverage %d is not valid", leverage))
	}
	g.mu.Lock()
	g.leverage[symbol] = leverage
	g.mu.Unlock()
	return nil
}

// refresh reads the last price of symbol and fills every resting order it crossed
func (g *PaperGateway) refresh(ctx context.Context, symbol string) error {
	price, err := g.market.LastPrice(ctx, symbol)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPrice[symbol] = price

	var crossed []*paperOrder
	for _, o := range g.orders {
		if o.Symbol != symbol {
			continue
		}
		if (o.Side == types.SideBuy && price <= o.Price) || (o.Side == types.SideSell && price >= o.Price) {
			crossed = append(crossed, o)
		}
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].seq < crossed[j].seq })
	for _, o := range crossed {
		delete(g.orders, o.OrderID)
		qty := o.Quantity
		if o.reduceOnly {
			qty = g.reducible(symbol, o.Side, qty)
		}
		if qty > 0 {
			g.fill(symbol, o.Side, qty, o.Price)
			logger.Infof("🧪 [Paper] filled %s %s %.6f @ %.6f", symbol, o.Side, qty, o.Price)
		}
	}
	return nil
}

// reducible caps qty to what closes the current position without flipping it
func (g *PaperGateway) reducible(symbol string, side types.Side, qty float64) float64 {
	pos := g.positions[symbol]
	if pos == nil || pos.qty == 0 {
		return 0
	}
	if (side == types.SideSell && pos.qty < 0) || (side == types.SideBuy && pos.qty > 0) {
		return 0
	}
	return math.Min(qty, math.Abs(pos.qty))
}

// fill applies a trade to the position, realizing pnl on the reduced part
func (g *PaperGateway) fill(symbol string, side types.Side, qty, price float64) {
	signed := qty
	if side == types.SideSell {
		signed = -qty
	}
	g.cash -= qty * price * g.feeRate

	pos := g.positions[symbol]
	if pos == nil {
		pos = &paperPosition{}
		g.positions[symbol] = pos
	}

	switch {
	case pos.qty == 0 || (pos.qty > 0) == (signed > 0):
		total := pos.qty + signed
		pos.entry = (pos.entry*math.Abs(pos.qty) + price*qty) / math.Abs(total)
		pos.qty = total
	default:
		closing := math.Min(qty, math.Abs(pos.qty))
		if pos.qty > 0 {
			g.cash += (price - pos.entry) * closing
		} else {
			g.cash += (pos.entry - price) * closing
		}
		pos.qty += signed
		if math.Abs(pos.qty) < 1e-12 {
			pos.qty, pos.entry = 0, 0
		} else if closing < qty {
			// flipped through zero: the remainder opens at price
			pos.entry = price
		}
	}
}

// exposure is the notional of positions plus resting non-reduce orders
func (g *PaperGateway) exposure() float64 {
	total := 0.0
	for sym, p := range g.positions {
		total += math.Abs(p.qty) * g.lastPrice[sym]
	}
	for _, o := range g.orders {
		if !o.reduceOnly {
			total += o.Quantity * o.Price
		}
	}
	return total
}

func (g *PaperGateway) equity() float64 {
	eq := g.cash
	for sym, p := range g.positions {
		if p.qty != 0 {
			eq += (g.lastPrice[sym] - p.entry) * p.qty
		}
	}
	return eq
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, types.NewGatewayError("PlaceOrder", nil, -4003, errors.New("quantity less than or equal to zero"))
	}
	if err := g.refresh(ctx, req.Symbol); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	price := g.lastPrice[req.Symbol]
	lev := g.leverage[req.Symbol]
	if lev < 1 {
		lev = 1
	}

	id := uuid.NewString()
	res := &types.OrderResult{OrderID: id, ClientID: req.ClientID, Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity}

	if req.Type == types.OrderTypeMarket {
		qty := req.Quantity
		if req.ReduceOnly {
			if qty = g.reducible(req.Symbol, req.Side, qty); qty == 0 {
				return nil, types.NewGatewayError("PlaceOrder", nil, -2022, errors.New("ReduceOnly Order is rejected."))
			}
		}
		g.fill(req.Symbol, req.Side, qty, price)
		res.Price, res.Quantity, res.Status = price, qty, "FILLED"
		return res, nil
	}

	crosses := (req.Side == types.SideBuy && req.Price >= price) || (req.Side == types.SideSell && req.Price <= price)
	if req.PostOnly && crosses {
		return nil, types.NewGatewayError("PlaceOrder", nil, -5022, errors.New("Due to the order could not be executed as maker, the Post Only order will be rejected."))
	}
	if !req.ReduceOnly {
		needed := (g.exposure() + req.Quantity*req.Price) / float64(lev)
		if needed > g.equity() {
			return nil, types.NewGatewayError("PlaceOrder", types.ErrMarginInsufficient, -2019, errors.New("Margin is insufficient."))
		}
	}

	g.seq++
	g.orders[id] = &paperOrder{
		OpenOrder: types.OpenOrder{
			OrderID: id, ClientID: req.ClientID, Symbol: req.Symbol,
			Side: req.Side, Price: req.Price, Quantity: req.Quantity,
		},
		reduceOnly: req.ReduceOnly,
		seq:        g.seq,
	}
	res.Price, res.Status = req.Price, "NEW"
	return res, nil
}

func (g *PaperGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, o := range g.orders {
		if o.Symbol == symbol {
			delete(g.orders, id)
		}
	}
	return nil
}

func (g *PaperGateway) ListOpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	if err := g.refresh(ctx, symbol); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*paperOrder
	for _, o := range g.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	orders := make([]types.OpenOrder, len(out))
	for i, o := range out {
		orders[i] = o.OpenOrder
	}
	return orders, nil
}

func (g *PaperGateway) ListPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	if symbol != "" {
		if err := g.refresh(ctx, symbol); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []types.Position
	for sym, p := range g.positions {
		if p.qty == 0 || (symbol != "" && sym != symbol) {
			continue
		}
		side := types.PositionLong
		if p.qty < 0 {
			side = types.PositionShort
		}
		mark := g.lastPrice[sym]
		qty := math.Abs(p.qty)
		out = append(out, types.Position{
			Symbol:        sym,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    p.entry,
			MarkPrice:     mark,
			Notional:      qty * mark,
			UnrealizedPnL: (mark - p.entry) * p.qty,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (g *PaperGateway) GetBalance(ctx context.Context) (*types.Balance, error) {
	g.mu.Lock()
	var symbols []string
	for sym := range g.positions {
		symbols = append(symbols, sym)
	}
	g.mu.Unlock()
	for _, sym := range symbols {
		if err := g.refresh(ctx, sym); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	total := g.equity()
	used := 0.0
	for sym, p := range g.positions {
		lev := g.leverage[sym]
		if lev < 1 {
			lev = 1
		}
		used += math.Abs(p.qty) * g.lastPrice[sym] / float64(lev)
	}
	return &types.Balance{Total: total, Free: total - used, Used: used}, nil
}
