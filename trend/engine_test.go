package trend

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/pool"
	"github.com/mky2266/mats/position"
	"github.com/mky2266/mats/trader"
	"github.com/mky2266/mats/trader/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	goldenCloses = []float64{10, 10, 10, 10, 9, 12}
	deathCloses  = []float64{10, 10, 10, 10, 11, 8}
)

// candlesFrom builds bars with high/low half a unit around each close
func candlesFrom(closes ...float64) []types.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{OpenTime: start.Add(time.Duration(i) * 4 * time.Hour),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100}
	}
	return out
}

func flat(price float64) []float64 {
	return []float64{price, price, price, price, price, price}
}

type fakeGateway struct {
	mu        sync.Mutex
	closes    []float64
	equity    float64
	placed    []types.OrderRequest
	leverages []int
	symbols   []string
	failPlace int // upcoming PlaceOrder calls rejected for margin
}

func (g *fakeGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closes[len(g.closes)-1], nil
}

func (g *fakeGateway) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.symbols = append(g.symbols, symbol)
	return candlesFrom(g.closes...), nil
}

func (g *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	g.leverages = append(g.leverages, leverage)
	return nil
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed = append(g.placed, *req)
	if g.failPlace > 0 {
		g.failPlace--
		return nil, types.NewGatewayError("PlaceOrder", types.ErrMarginInsufficient, -2019, errors.New("Margin is insufficient."))
	}
	return &types.OrderResult{OrderID: "m", Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity, Status: "FILLED"}, nil
}

func (g *fakeGateway) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (g *fakeGateway) ListOpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	return nil, nil
}

func (g *fakeGateway) ListPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	return nil, nil
}

func (g *fakeGateway) GetBalance(ctx context.Context) (*types.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &types.Balance{Total: g.equity, Free: g.equity}, nil
}

func (g *fakeGateway) MarketRules(ctx context.Context, symbol string) (*types.MarketRules, error) {
	return &types.MarketRules{Symbol: symbol, MinQty: 0.001, QtyStep: 0.001, TickSize: 0.001, MinNotional: 5}, nil
}

func (g *fakeGateway) set(closes []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes = closes
}

type recordingNotifier struct {
	mu    sync.Mutex
	async []string
	sync  []string
}

func (n *recordingNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.async = append(n.async, text)
}

func (n *recordingNotifier) NotifySync(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sync = append(n.sync, text)
	return nil
}

type fixture struct {
	gw     *fakeGateway
	notes  *recordingNotifier
	now    time.Time
	engine *Engine
	cfg    config.Config
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Trend.Symbol = "dusk/usdt"
	cfg.Trend.EMAFast = 2
	cfg.Trend.EMASlow = 3
	cfg.Trend.ATRPeriod = 2
	cfg.Trend.StateFile = filepath.Join(t.TempDir(), "trend_state.json")
	cfg.Rotation.CandidateFile = filepath.Join(t.TempDir(), "market_data.json")
	return cfg
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		gw:    &fakeGateway{closes: flat(10), equity: 1000},
		notes: &recordingNotifier{},
		now:   time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		cfg:   cfg,
	}
	f.engine = f.build()
	return f
}

func (f *fixture) build() *Engine {
	noSleep := trader.ReadRetry{Attempts: 1, Sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	return NewEngine(f.cfg, Deps{
		Gateway:  f.gw,
		Notifier: f.notes,
		Retry:    &noSleep,
		Clock:    func() time.Time { return f.now },
	})
}

func (f *fixture) cycle(t *testing.T, closes []float64) {
	t.Helper()
	f.gw.set(closes)
	f.now = f.now.Add(4 * time.Hour)
	require.NoError(t, f.engine.RunCycle(context.Background()))
}

func TestComputeAndDetect(t *testing.T) {
	ind, err := Compute(candlesFrom(goldenCloses...), 2, 3, 2)
	require.NoError(t, err)
	assert.InDelta(t, 12, ind.Price, 1e-12)
	assert.InDelta(t, 9.0+1.0/3, ind.EMAFastPrev, 1e-9)
	assert.InDelta(t, 11.0+1.0/9, ind.EMAFast, 1e-9)
	assert.InDelta(t, 9.5, ind.EMASlowPrev, 1e-9)
	assert.InDelta(t, 10.75, ind.EMASlow, 1e-9)
	assert.InDelta(t, 2.375, ind.ATR, 1e-9)
	assert.Equal(t, SignalGoldenCross, Detect(ind))

	ind, err = Compute(candlesFrom(deathCloses...), 2, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, SignalDeathCross, Detect(ind))
	assert.Equal(t, types.PositionShort, Detect(ind).Side())

	ind, err = Compute(candlesFrom(flat(10)...), 2, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, SignalNone, Detect(ind))
}

func TestComputeRejectsShortHistory(t *testing.T) {
	_, err := Compute(candlesFrom(10, 10, 10, 10), 2, 3, 2)
	assert.ErrorIs(t, err, types.ErrInsufficientData)

	_, err = Compute(candlesFrom(goldenCloses...), 3, 3, 2)
	assert.ErrorIs(t, err, types.ErrInsufficientData)
}

func TestGoldenCrossOpensLong(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle(t, goldenCloses)

	require.Len(t, f.gw.placed, 1)
	order := f.gw.placed[0]
	assert.Equal(t, "DUSKUSDT", order.Symbol)
	assert.Equal(t, types.SideBuy, order.Side)
	assert.Equal(t, types.OrderTypeMarket, order.Type)
	assert.InDelta(t, 15, order.Quantity, 1e-9)
	assert.Equal(t, []int{2}, f.gw.leverages)

	st := f.engine.Status()
	require.NotNil(t, st.Position)
	assert.Equal(t, types.PositionLong, st.Position.Side)
	assert.InDelta(t, 7.25, st.Position.StopLoss, 1e-9)
	assert.InDelta(t, 19.125, st.Position.TakeProfit, 1e-9)
	assert.Equal(t, SignalGoldenCross, st.LastSignal)
	require.Len(t, f.notes.async, 1)
	assert.Contains(t, f.notes.async[0], "Opened DUSKUSDT long")

	// The same crossover seen again does not trade
	f.cycle(t, goldenCloses)
	assert.Len(t, f.gw.placed, 1)
}

func TestFailedOpenRetriesNextCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.failPlace = 1
	f.cycle(t, goldenCloses)

	require.Len(t, f.gw.placed, 1)
	st := f.engine.Status()
	assert.Nil(t, st.Position)
	assert.Equal(t, SignalNone, st.LastSignal)

	f.cycle(t, goldenCloses)
	require.Len(t, f.gw.placed, 2)
	st = f.engine.Status()
	require.NotNil(t, st.Position)
	assert.Equal(t, types.PositionLong, st.Position.Side)
	assert.Equal(t, SignalGoldenCross, st.LastSignal)
}

func TestDeathCrossFlipsPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle(t, goldenCloses)
	f.cycle(t, deathCloses)

	require.Len(t, f.gw.placed, 3)
	closeOrder := f.gw.placed[1]
	assert.Equal(t, types.SideSell, closeOrder.Side)
	assert.True(t, closeOrder.ReduceOnly)
	assert.InDelta(t, 15, closeOrder.Quantity, 1e-9)

	open := f.gw.placed[2]
	assert.Equal(t, types.SideSell, open.Side)
	assert.False(t, open.ReduceOnly)
	assert.InDelta(t, 22.5, open.Quantity, 1e-9)

	st := f.engine.Status()
	require.NotNil(t, st.Position)
	assert.Equal(t, types.PositionShort, st.Position.Side)
	assert.InDelta(t, 12.75, st.Position.StopLoss, 1e-9)
	assert.Equal(t, 1, st.Trades)
}

func TestTrailingStopThenTakeProfit(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle(t, goldenCloses)

	f.cycle(t, flat(15))
	st := f.engine.Status()
	require.NotNil(t, st.Position)
	assert.Equal(t, position.StopTrailing, st.Position.Stop)
	assert.InDelta(t, 12, st.Position.StopLoss, 1e-9)
	assert.Contains(t, f.notes.async[len(f.notes.async)-1], "breakeven")

	f.cycle(t, flat(20))
	st = f.engine.Status()
	assert.Nil(t, st.Position)
	assert.Equal(t, 1, st.Trades)
	require.Len(t, f.gw.placed, 2)
	assert.True(t, f.gw.placed[1].ReduceOnly)
	assert.Contains(t, f.notes.async[len(f.notes.async)-1], "take_profit")
}

func TestStopLossCloses(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle(t, goldenCloses)
	f.cycle(t, flat(7))

	assert.Nil(t, f.engine.Status().Position)
	require.Len(t, f.gw.placed, 2)
	assert.Contains(t, f.notes.async[len(f.notes.async)-1], "stop_loss")
}

func TestRiskStopClosesAndAlerts(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle(t, goldenCloses)

	// Investment 90 × 15% = 13.5
	f.gw.equity = 986
	f.gw.set(goldenCloses)
	err := f.engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRiskLimitBreached)

	require.Len(t, f.gw.placed, 2)
	assert.True(t, f.gw.placed[1].ReduceOnly)
	assert.Nil(t, f.engine.Status().Position)
	require.Len(t, f.notes.sync, 1)
	assert.Contains(t, f.notes.sync[0], "stop_loss")
}

func TestSymbolFromPool(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Trend.Symbol = "" })
	err := f.engine.RunCycle(context.Background())
	require.Error(t, err, "no pool file yet")

	require.NoError(t, pool.Save(f.cfg.Rotation.CandidateFile, []pool.CoinInfo{
		{Symbol: "AAAUSDT", VolatilityScore: 0.02, Volume4h: 10},
		{Symbol: "BBBUSDT", VolatilityScore: 0.05, Volume4h: 5},
	}, f.now))
	f.cycle(t, goldenCloses)
	assert.Equal(t, "BBBUSDT", f.engine.Status().Symbol)
	require.Len(t, f.gw.placed, 1)
	assert.Equal(t, "BBBUSDT", f.gw.placed[0].Symbol)

	// A new leader closes the open position before switching
	require.NoError(t, pool.Save(f.cfg.Rotation.CandidateFile, []pool.CoinInfo{
		{Symbol: "AAAUSDT", VolatilityScore: 0.09, Volume4h: 10},
	}, f.now))
	f.cycle(t, flat(12))
	assert.Equal(t, "AAAUSDT", f.engine.Status().Symbol)
	require.Len(t, f.gw.placed, 2)
	assert.Equal(t, "BBBUSDT", f.gw.placed[1].Symbol)
	assert.True(t, f.gw.placed[1].ReduceOnly)
	assert.Nil(t, f.engine.Status().Position)
}

func TestRestoreResumesPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle(t, goldenCloses)

	restored := f.build()
	require.NoError(t, restored.Restore())
	st := restored.Status()
	require.NotNil(t, st.Position)
	assert.Equal(t, "DUSKUSDT", st.Symbol)
	assert.InDelta(t, 7.25, st.Position.StopLoss, 1e-9)
	assert.Equal(t, SignalGoldenCross, st.LastSignal)

	// Known signal: nothing new is placed after the restart
	f.engine = restored
	f.cycle(t, goldenCloses)
	assert.Len(t, f.gw.placed, 1)
}

func TestRestoreWithoutStateFile(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Restore())
	assert.Nil(t, f.engine.Status().Position)
}

func TestDailyReportOnNewDay(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle(t, flat(10))
	assert.Empty(t, f.notes.async)

	f.now = f.now.Add(20 * time.Hour)
	f.cycle(t, flat(10))
	require.NotEmpty(t, f.notes.async)
	assert.True(t, strings.HasPrefix(f.notes.async[0], "📊 [Trend] Daily report"))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Trend.CheckInterval = time.Hour })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.engine.Run(ctx))
	assert.FileExists(t, f.cfg.Trend.StateFile)
}

func TestRunReturnsRiskStop(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Trend.CheckInterval = time.Hour })
	require.NoError(t, f.engine.RunCycle(context.Background()))
	f.gw.equity = 900
	err := f.engine.Run(context.Background())
	assert.True(t, errors.Is(err, types.ErrRiskLimitBreached))
}
