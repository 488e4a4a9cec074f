package trader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/mky2266/mats/trader/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// BinanceFuturesTestSuite runs the gateway against a mocked /fapi server
type BinanceFuturesTestSuite struct {
	suite.Suite
	mockServer *httptest.Server
	trader     *FuturesTrader

	mu         sync.Mutex
	orderForms []map[string]string
	cancelled  []string
}

func TestBinanceFutures(t *testing.T) {
	suite.Run(t, new(BinanceFuturesTestSuite))
}

func (s *BinanceFuturesTestSuite) SetupTest() {
	s.orderForms = nil
	s.cancelled = nil
	s.mockServer = httptest.NewServer(http.HandlerFunc(s.handle))

	client := futures.NewClient("test_api_key", "test_secret_key")
	client.BaseURL = s.mockServer.URL
	client.HTTPClient = s.mockServer.Client()

	s.trader = &FuturesTrader{
		client:        client,
		rules:         make(map[string]*types.MarketRules),
		cacheDuration: time.Hour,
	}
}

func (s *BinanceFuturesTestSuite) TearDownTest() {
	s.mockServer.Close()
}

func writeAPIError(w http.ResponseWriter, status int, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"code": code, "msg": msg})
}

func (s *BinanceFuturesTestSuite) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	var respBody interface{}

	switch {
	case strings.HasSuffix(path, "/ticker/price"):
		symbol := r.URL.Query().Get("symbol")
		if symbol == "INVALIDUSDT" {
			writeAPIError(w, http.StatusBadRequest, -1121, "Invalid symbol.")
			return
		}
		if symbol == "BUSYUSDT" {
			writeAPIError(w, http.StatusServiceUnavailable, -1001, "Internal error; unable to process your request. Please try again.")
			return
		}
		respBody = map[string]interface{}{"symbol": symbol, "price": "100.50", "time": 1234567890}
		if strings.Contains(path, "/v1/") {
			respBody = []interface{}{respBody}
		}

	case path == "/fapi/v1/klines":
		start := int64(1_700_000_000_000)
		rows := make([]interface{}, 0, 3)
		for i := int64(0); i < 3; i++ {
			open := start + i*3_600_000
			rows = append(rows, []interface{}{
				open, "100.0", "101.0", "99.0", "100.5", "10", open + 3_599_999, "1005.0", 12, "5", "502.5", "0",
			})
		}
		respBody = rows

	case path == "/fapi/v1/exchangeInfo":
		respBody = map[string]interface{}{
			"symbols": []map[string]interface{}{
				{
					"symbol": "DUSKUSDT", "status": "TRADING", "contractType": "PERPETUAL",
					"baseAsset": "DUSK", "quoteAsset": "USDT",
					"filters": []map[string]interface{}{
						{"filterType": "PRICE_FILTER", "minPrice": "0.0001", "maxPrice": "1000", "tickSize": "0.01"},
						{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "100000", "stepSize": "0.001"},
						{"filterType": "MIN_NOTIONAL", "notional": "5"},
					},
				},
				{
					"symbol": "BTCUSDT_260327", "status": "TRADING", "contractType": "CURRENT_QUARTER",
					"baseAsset": "BTC", "quoteAsset": "USDT",
				},
				{
					"symbol": "OLDUSDT", "status": "SETTLING", "contractType": "PERPETUAL",
					"baseAsset": "OLD", "quoteAsset": "USDT",
				},
			},
		}

	case path == "/fapi/v1/ticker/24hr":
		respBody = []map[string]interface{}{
			{"symbol": "DUSKUSDT", "quoteVolume": "123456.5", "lastPrice": "100.5"},
			{"symbol": "BTCUSDT", "quoteVolume": "999999999", "lastPrice": "60000"},
		}

	case path == "/fapi/v1/order" && r.Method == http.MethodPost:
		r.ParseForm()
		form := map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		s.mu.Lock()
		s.orderForms = append(s.orderForms, form)
		s.mu.Unlock()

		if form["quantity"] == "999" {
			writeAPIError(w, http.StatusBadRequest, -2019, "Margin is insufficient.")
			return
		}
		respBody = map[string]interface{}{
			"orderId":       123456,
			"symbol":        form["symbol"],
			"status":        "NEW",
			"clientOrderId": form["newClientOrderId"],
			"price":         form["price"],
			"origQty":       form["quantity"],
			"side":          form["side"],
			"type":          form["type"],
			"timeInForce":   form["timeInForce"],
		}

	case path == "/fapi/v1/allOpenOrders" && r.Method == http.MethodDelete:
		s.mu.Lock()
		s.cancelled = append(s.cancelled, r.URL.Query().Get("symbol"))
		s.mu.Unlock()
		respBody = map[string]interface{}{"code": 200, "msg": "The operation of cancel all open order is done."}

	case path == "/fapi/v1/openOrders":
		respBody = []map[string]interface{}{
			{"orderId": 11, "symbol": "DUSKUSDT", "price": "95.12", "origQty": "0.151", "side": "BUY", "clientOrderId": "a"},
			{"orderId": 12, "symbol": "DUSKUSDT", "price": "104.88", "origQty": "0.137", "side": "SELL", "clientOrderId": "b"},
		}

	case strings.HasSuffix(path, "/positionRisk"):
		respBody = []map[string]interface{}{
			{"symbol": "DUSKUSDT", "positionAmt": "-2.5", "entryPrice": "100", "markPrice": "102", "unRealizedProfit": "-5"},
			{"symbol": "ARUSDT", "positionAmt": "0", "entryPrice": "0", "markPrice": "7", "unRealizedProfit": "0"},
		}

	case strings.HasSuffix(path, "/balance"):
		respBody = []map[string]interface{}{
			{"asset": "BNB", "balance": "1", "crossUnPnl": "0", "availableBalance": "1"},
			{"asset": "USDT", "balance": "180.00", "crossUnPnl": "-5.00", "availableBalance": "120.00"},
		}

	case path == "/fapi/v1/leverage":
		respBody = map[string]interface{}{"leverage": 3, "maxNotionalValue": "1000000", "symbol": r.FormValue("symbol")}

	case path == "/fapi/v1/time":
		respBody = map[string]interface{}{"serverTime": time.Now().UnixMilli()}

	default:
		respBody = map[string]interface{}{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(respBody)
}

func (s *BinanceFuturesTestSuite) TestInterfaceCompliance() {
	var _ types.Gateway = (*FuturesTrader)(nil)
	var _ types.HistorySource = (*FuturesTrader)(nil)
}

func (s *BinanceFuturesTestSuite) TestLastPrice() {
	price, err := s.trader.LastPrice(context.Background(), "DUSKUSDT")
	s.Require().NoError(err)
	s.Equal(100.5, price)
}

func (s *BinanceFuturesTestSuite) TestErrorClassification() {
	_, err := s.trader.LastPrice(context.Background(), "INVALIDUSDT")
	s.Require().Error(err)
	s.True(errors.Is(err, types.ErrGateway))
	s.False(types.IsRetriable(err))
	var gwErr *types.GatewayError
	s.Require().True(errors.As(err, &gwErr))
	s.Equal(int64(-1121), gwErr.Code)

	_, err = s.trader.LastPrice(context.Background(), "BUSYUSDT")
	s.True(errors.Is(err, types.ErrTransientNetwork))
	s.True(types.IsRetriable(err))

	_, err = s.trader.PlaceOrder(context.Background(), &types.OrderRequest{
		Symbol: "DUSKUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 999, Price: 95,
	})
	s.True(errors.Is(err, types.ErrMarginInsufficient))
}

func (s *BinanceFuturesTestSuite) TestNetworkFailureIsTransient() {
	s.mockServer.Close()
	_, err := s.trader.LastPrice(context.Background(), "DUSKUSDT")
	s.Require().Error(err)
	s.True(errors.Is(err, types.ErrTransientNetwork))
}

func (s *BinanceFuturesTestSuite) TestCandles() {
	candles, err := s.trader.Candles(context.Background(), "DUSKUSDT", "1h", 3)
	s.Require().NoError(err)
	s.Require().Len(candles, 3)
	s.Equal(101.0, candles[0].High)
	s.Equal(99.0, candles[0].Low)
	s.Equal(100.5, candles[0].Close)
	s.Equal(1005.0, candles[0].Volume)
	s.Equal(time.Hour, candles[1].OpenTime.Sub(candles[0].OpenTime))

	since, err := s.trader.CandlesSince(context.Background(), "DUSKUSDT", "1h", time.UnixMilli(1_700_000_000_000), 1000)
	s.Require().NoError(err)
	s.Len(since, 3)
}

func (s *BinanceFuturesTestSuite) TestMarketRulesAndSymbols() {
	rules, err := s.trader.MarketRules(context.Background(), "DUSKUSDT")
	s.Require().NoError(err)
	s.Equal(0.001, rules.MinQty)
	s.Equal(0.001, rules.QtyStep)
	s.Equal(0.01, rules.TickSize)
	s.Equal(5.0, rules.MinNotional)

	_, err = s.trader.MarketRules(context.Background(), "NOPEUSDT")
	s.Error(err)

	symbols, err := s.trader.PerpetualSymbols(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"DUSKUSDT"}, symbols)

	vols, err := s.trader.QuoteVolumes24h(context.Background())
	s.Require().NoError(err)
	s.Equal(123456.5, vols["DUSKUSDT"])
}

func (s *BinanceFuturesTestSuite) TestPlaceOrderRoundsAndPostOnly() {
	res, err := s.trader.PlaceOrder(context.Background(), &types.OrderRequest{
		Symbol: "DUSKUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Quantity: 0.15194, Price: 95.1234, PostOnly: true,
	})
	s.Require().NoError(err)
	s.Equal("123456", res.OrderID)
	s.Equal(0.151, res.Quantity)
	s.Equal(95.12, res.Price)

	s.Require().Len(s.orderForms, 1)
	form := s.orderForms[0]
	s.Equal("0.151", form["quantity"])
	s.Equal("95.12", form["price"])
	s.Equal("GTX", form["timeInForce"])
	s.Equal("LIMIT", form["type"])
	s.Equal("BUY", form["side"])
	s.True(strings.HasPrefix(form["newClientOrderId"], "mats-"))
	s.LessOrEqual(len(form["newClientOrderId"]), 36)
}

func (s *BinanceFuturesTestSuite) TestPlaceReduceOnlyMarket() {
	_, err := s.trader.PlaceOrder(context.Background(), &types.OrderRequest{
		Symbol: "DUSKUSDT", Side: types.SideSell, Type: types.OrderTypeMarket, Quantity: 2.5, ReduceOnly: true,
	})
	s.Require().NoError(err)
	form := s.orderForms[0]
	s.Equal("MARKET", form["type"])
	s.Equal("true", form["reduceOnly"])
	s.Empty(form["price"])
}

func (s *BinanceFuturesTestSuite) TestPlaceOrderRejectsDust() {
	_, err := s.trader.PlaceOrder(context.Background(), &types.OrderRequest{
		Symbol: "DUSKUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 0.0004, Price: 95,
	})
	s.Error(err)
	s.Empty(s.orderForms)
}

func (s *BinanceFuturesTestSuite) TestOrdersPositionsBalance() {
	ctx := context.Background()
	s.Require().NoError(s.trader.CancelAllOrders(ctx, "DUSKUSDT"))
	s.Equal([]string{"DUSKUSDT"}, s.cancelled)

	open, err := s.trader.ListOpenOrders(ctx, "DUSKUSDT")
	s.Require().NoError(err)
	s.Require().Len(open, 2)
	s.Equal("11", open[0].OrderID)
	s.Equal(types.SideSell, open[1].Side)
	s.Contains(types.OpenOrderIDs(open), "12")

	positions, err := s.trader.ListPositions(ctx, "")
	s.Require().NoError(err)
	s.Require().Len(positions, 1)
	s.Equal(types.PositionShort, positions[0].Side)
	s.Equal(2.5, positions[0].Quantity)
	s.Equal(255.0, positions[0].Notional)

	bal, err := s.trader.GetBalance(ctx)
	s.Require().NoError(err)
	s.Equal(175.0, bal.Total)
	s.Equal(120.0, bal.Free)
	s.Equal(55.0, bal.Used)

	s.NoError(s.trader.SetLeverage(ctx, "DUSKUSDT", 3))
	s.NoError(s.trader.SyncTime(ctx))
}

func TestNewFuturesTrader(t *testing.T) {
	tr := NewFuturesTrader("", "", false)
	require.NotNil(t, tr.client)
	assert.Equal(t, time.Hour, tr.cacheDuration)
}

func TestNewClientOrderID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id := newClientOrderID()
		assert.True(t, strings.HasPrefix(id, "mats-"))
		assert.LessOrEqual(t, len(id), 36)
		assert.False(t, ids[id])
		ids[id] = true
	}
}
