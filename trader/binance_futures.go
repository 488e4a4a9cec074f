package trader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/mky2266/mats/grid"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/trader/types"
	"github.com/shopspring/decimal"
)

// Binance error codes with special handling
const (
	codeMarginInsufficient = -2019
	codeUnknown            = -1000
	codeDisconnected       = -1001
	codeTooManyRequests    = -1003
	codeTimeout            = -1007
)

// FuturesTrader is the Binance USDT-M futures gateway
type FuturesTrader struct {
	client *futures.Client

	// Exchange rules cache
	rules         map[string]*types.MarketRules
	rulesLoadedAt time.Time
	cacheDuration time.Duration
	rulesMutex    sync.RWMutex
}

// NewFuturesTrader creates the gateway. Keys may be empty for read-only use.
func NewFuturesTrader(apiKey, secretKey string, testnet bool) *FuturesTrader {
	futures.UseTestnet = testnet
	client := futures.NewClient(apiKey, secretKey)
	return &FuturesTrader{
		client:        client,
		rules:         make(map[string]*types.MarketRules),
		cacheDuration: time.Hour,
	}
}

// SyncTime aligns request timestamps with the server clock
func (t *FuturesTrader) SyncTime(ctx context.Context) error {
	if _, err := t.client.NewSetServerTimeService().Do(ctx); err != nil {
		return classify("SyncTime", err)
	}
	return nil
}

// classify maps a go-binance failure onto the error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeMarginInsufficient:
			return types.NewGatewayError(op, types.ErrMarginInsufficient, apiErr.Code, err)
		case codeUnknown, codeDisconnected, codeTooManyRequests, codeTimeout:
			return types.NewGatewayError(op, types.ErrTransientNetwork, apiErr.Code, err)
		}
		return types.NewGatewayError(op, types.ErrGateway, apiErr.Code, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewGatewayError(op, types.ErrTransientNetwork, 0, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "margin is insufficient") {
		return types.NewGatewayError(op, types.ErrMarginInsufficient, 0, err)
	}
	return types.NewGatewayError(op, types.ErrGateway, 0, err)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// ==================== Market data ====================

// LastPrice returns the last traded price
func (t *FuturesTrader) LastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := t.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classify("LastPrice", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol || len(prices) == 1 {
			price := parseFloat(p.Price)
			if price <= 0 {
				return 0, types.NewGatewayError("LastPrice", nil, 0, fmt.Errorf("invalid price %q for %s", p.Price, symbol))
			}
			return price, nil
		}
	}
	return 0, types.NewGatewayError("LastPrice", nil, 0, fmt.Errorf("no price for %s", symbol))
}

// Candles returns the freshest limit candles
func (t *FuturesTrader) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	klines, err := t.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("Candles", err)
	}
	return convertKlines(klines), nil
}

// CandlesSince returns up to limit candles opening at or after start
func (t *FuturesTrader) CandlesSince(ctx context.Context, symbol, timeframe string, start time.Time, limit int) ([]types.Candle, error) {
	klines, err := t.client.NewKlinesService().Symbol(symbol).Interval(timeframe).
		StartTime(start.UnixMilli()).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("CandlesSince", err)
	}
	return convertKlines(klines), nil
}

func convertKlines(klines []*futures.Kline) []types.Candle {
	out := make([]types.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, types.Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.QuoteAssetVolume),
		})
	}
	return out
}

// PerpetualSymbols lists trading USDT-margined perpetual contracts
func (t *FuturesTrader) PerpetualSymbols(ctx context.Context) ([]string, error) {
	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classify("PerpetualSymbols", err)
	}
	t.storeRules(info)

	var out []string
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" || s.ContractType != futures.ContractTypePerpetual {
			continue
		}
		out = append(out, s.Symbol)
	}
	return out, nil
}

// QuoteVolumes24h returns the rolling 24h quote volume of every symbol
func (t *FuturesTrader) QuoteVolumes24h(ctx context.Context) (map[string]float64, error) {
	stats, err := t.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, classify("QuoteVolumes24h", err)
	}
	out := make(map[string]float64, len(stats))
	for _, s := range stats {
		out[s.Symbol] = parseFloat(s.QuoteVolume)
	}
	return out, nil
}

// MarketRules returns the lot and tick rules of a symbol
func (t *FuturesTrader) MarketRules(ctx context.Context, symbol string) (*types.MarketRules, error) {
	t.rulesMutex.RLock()
	r, ok := t.rules[symbol]
	fresh := time.Since(t.rulesLoadedAt) < t.cacheDuration
	t.rulesMutex.RUnlock()
	if ok && fresh {
		return r, nil
	}

	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classify("MarketRules", err)
	}
	t.storeRules(info)

	t.rulesMutex.RLock()
	defer t.rulesMutex.RUnlock()
	if r, ok := t.rules[symbol]; ok {
		return r, nil
	}
	return nil, types.NewGatewayError("MarketRules", nil, 0, fmt.Errorf("unknown symbol %s", symbol))
}

func (t *FuturesTrader) storeRules(info *futures.ExchangeInfo) {
	rules := make(map[string]*types.MarketRules, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		r := &types.MarketRules{Symbol: s.Symbol}
		if lot := s.LotSizeFilter(); lot != nil {
			r.MinQty = parseFloat(lot.MinQuantity)
			r.QtyStep = parseFloat(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			r.TickSize = parseFloat(pf.TickSize)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			r.MinNotional = parseFloat(mn.Notional)
		}
		rules[s.Symbol] = r
	}

	t.rulesMutex.Lock()
	t.rules = rules
	t.rulesLoadedAt = time.Now()
	t.rulesMutex.Unlock()
}

// ==================== Trading ====================

// SetLeverage sets the leverage of a symbol
func (t *FuturesTrader) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := t.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return classify("SetLeverage", err)
	}
	return nil
}

// PlaceOrder submits one order. Quantity is floored to the lot step and the
// price rounded to the tick size.
func (t *FuturesTrader) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	rules, err := t.MarketRules(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	qty := grid.FloorToStep(decimal.NewFromFloat(req.Quantity), rules.QtyStep)
	if !qty.IsPositive() {
		return nil, types.NewGatewayError("PlaceOrder", nil, 0, fmt.Errorf("quantity %v rounds to zero (step %v)", req.Quantity, rules.QtyStep))
	}

	side := futures.SideTypeBuy
	if req.Side == types.SideSell {
		side = futures.SideTypeSell
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = newClientOrderID()
	}

	svc := t.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(qty.String()).
		NewClientOrderID(clientID)

	switch req.Type {
	case types.OrderTypeMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	default:
		price := decimal.NewFromFloat(grid.RoundToStep(req.Price, rules.TickSize))
		tif := futures.TimeInForceTypeGTC
		if req.PostOnly {
			tif = futures.TimeInForceTypeGTX
		}
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(tif).Price(price.String())
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("PlaceOrder", err)
	}

	logger.Debugf("[Binance] order %d %s %s %s @ %s", resp.OrderID, resp.Side, resp.OrigQuantity, resp.Symbol, resp.Price)
	return &types.OrderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Symbol:   resp.Symbol,
		Side:     req.Side,
		Price:    parseFloat(resp.Price),
		Quantity: parseFloat(resp.OrigQuantity),
		Status:   string(resp.Status),
	}, nil
}

// CancelAllOrders cancels every resting order of the symbol
func (t *FuturesTrader) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := t.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return classify("CancelAllOrders", err)
	}
	return nil
}

// ListOpenOrders returns the resting orders of the symbol
func (t *FuturesTrader) ListOpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	orders, err := t.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classify("ListOpenOrders", err)
	}
	out := make([]types.OpenOrder, 0, len(orders))
	for _, o := range orders {
		side := types.SideBuy
		if o.Side == futures.SideTypeSell {
			side = types.SideSell
		}
		out = append(out, types.OpenOrder{
			OrderID:  strconv.FormatInt(o.OrderID, 10),
			ClientID: o.ClientOrderID,
			Symbol:   o.Symbol,
			Side:     side,
			Price:    parseFloat(o.Price),
			Quantity: parseFloat(o.OrigQuantity),
		})
	}
	return out, nil
}

// ListPositions returns non-empty positions. An empty symbol lists all.
func (t *FuturesTrader) ListPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	svc := t.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("ListPositions", err)
	}

	var out []types.Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := types.PositionLong
		if amt < 0 {
			side = types.PositionShort
			amt = -amt
		}
		mark := parseFloat(r.MarkPrice)
		out = append(out, types.Position{
			Symbol:        r.Symbol,
			Side:          side,
			Quantity:      amt,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     mark,
			Notional:      amt * mark,
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		})
	}
	return out, nil
}

// GetBalance returns the USDT balance; Total includes unrealized pnl
func (t *FuturesTrader) GetBalance(ctx context.Context) (*types.Balance, error) {
	balances, err := t.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, classify("GetBalance", err)
	}
	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		total := parseFloat(b.Balance) + parseFloat(b.CrossUnPnl)
		free := parseFloat(b.AvailableBalance)
		return &types.Balance{Total: total, Free: free, Used: total - free}, nil
	}
	return nil, types.NewGatewayError("GetBalance", nil, 0, errors.New("no USDT balance"))
}

// newClientOrderID returns a unique id within Binance's 36 character limit
func newClientOrderID() string {
	return "mats-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
