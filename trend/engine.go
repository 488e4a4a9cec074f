package trend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/grid"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/pool"
	"github.com/mky2266/mats/position"
	"github.com/mky2266/mats/risk"
	"github.com/mky2266/mats/state"
	"github.com/mky2266/mats/store"
	"github.com/mky2266/mats/trader"
	"github.com/mky2266/mats/trader/types"
)

// Snapshot is the trend bot state file content
type Snapshot struct {
	Symbol        string             `json:"symbol"`
	Position      *position.Position `json:"position,omitempty"`
	LastSignal    Signal             `json:"last_signal,omitempty"`
	Risk          risk.State         `json:"risk"`
	LastReportDay string             `json:"last_report_day,omitempty"`
	Trades        int                `json:"trades"`
}

// Status is the read-only view served by the status endpoint
type Status struct {
	Symbol     string             `json:"symbol"`
	Position   *position.Position `json:"position,omitempty"`
	LastSignal Signal             `json:"last_signal,omitempty"`
	Trades     int                `json:"trades"`
	Risk       risk.State         `json:"risk"`
}

// Deps are the collaborators of the engine. Only Gateway is required.
type Deps struct {
	Gateway  types.Gateway
	Notifier trader.Notifier
	Equity   trader.EquityRecorder
	Retry    *trader.ReadRetry
	Clock    func() time.Time
}

// Engine trades one symbol on EMA crossovers with ATR stops
type Engine struct {
	cfg           config.TrendConfig
	candidateFile string
	limits        risk.Limits
	params        position.Params

	gw        types.Gateway
	retry     trader.ReadRetry
	prices    types.PriceSource
	notifier  trader.Notifier
	equity    trader.EquityRecorder
	stateFile *state.File[Snapshot]
	now       func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// NewEngine wires a trend engine. Its risk limits are bound to the trend investment.
func NewEngine(cfg config.Config, deps Deps) *Engine {
	retry := trader.DefaultReadRetry()
	if deps.Retry != nil {
		retry = *deps.Retry
	}
	e := &Engine{
		cfg:           cfg.Trend,
		candidateFile: cfg.Rotation.CandidateFile,
		limits:        risk.NewLimits(cfg.Risk, cfg.Trend.Investment),
		params: position.Params{
			StopATR:       cfg.Trend.ATRStopMultiplier,
			TakeProfitATR: cfg.Trend.ATRTakeProfitMult,
			TrailStartATR: cfg.Trend.TrailStartATR,
		},
		gw:        deps.Gateway,
		retry:     retry,
		prices:    &trader.RetryingPrices{Source: deps.Gateway, Retry: retry},
		notifier:  deps.Notifier,
		equity:    deps.Equity,
		stateFile: state.NewFile[Snapshot](cfg.Trend.StateFile),
		now:       deps.Clock,
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Restore loads the state file; a corrupt file is returned as an error
func (e *Engine) Restore() error {
	snap, _, err := e.stateFile.Load()
	if errors.Is(err, state.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
	if snap.Position != nil {
		logger.Infof("📂 [Trend] Restored %s %s position @ %.6g, stop %.6g (%s)",
			snap.Symbol, snap.Position.Side, snap.Position.EntryPrice, snap.Position.StopLoss, snap.Position.Stop)
	}
	return nil
}

// Status returns a copy of the engine state
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var pos *position.Position
	if e.snap.Position != nil {
		p := *e.snap.Position
		pos = &p
	}
	return Status{Symbol: e.snap.Symbol, Position: pos, LastSignal: e.snap.LastSignal, Trades: e.snap.Trades, Risk: e.snap.Risk}
}

// Run polls until ctx is cancelled or a risk stop fires
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("🚀 [Trend] Engine started: EMA%d/%d on %s, every %s", e.cfg.EMAFast, e.cfg.EMASlow, e.cfg.Timeframe, e.cfg.CheckInterval)
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		if err := e.RunCycle(context.WithoutCancel(ctx)); err != nil {
			if errors.Is(err, types.ErrRiskLimitBreached) {
				return err
			}
			if errors.Is(err, types.ErrInsufficientData) {
				logger.Warnf("⚠️ [Trend] Cycle skipped: %v", err)
			} else {
				logger.Errorf("❌ [Trend] Cycle failed: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.persist()
			e.mu.Unlock()
			logger.Infof("⏹ [Trend] Engine stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle: risk gate, symbol selection, stop checks, then signal handling
func (e *Engine) RunCycle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	if err := e.checkRisk(ctx, now); err != nil {
		return err
	}

	symbol, err := e.selectSymbol()
	if err != nil {
		return err
	}
	if e.snap.Symbol != symbol {
		if e.snap.Position != nil {
			if err := e.close(ctx, "switching to "+symbol); err != nil {
				return err
			}
		}
		logger.Infof("📥 [Trend] Trading %s", symbol)
		e.snap.Symbol = symbol
		e.snap.LastSignal = SignalNone
	}

	candles, err := e.prices.Candles(ctx, symbol, e.cfg.Timeframe, e.cfg.EMASlow+20)
	if err != nil {
		return fmt.Errorf("failed to get %s candles of %s: %w", e.cfg.Timeframe, symbol, err)
	}
	ind, err := Compute(candles, e.cfg.EMAFast, e.cfg.EMASlow, e.cfg.ATRPeriod)
	if err != nil {
		return err
	}
	logger.Infof("📊 [Trend] %s price %.6g EMA%d %.6g EMA%d %.6g ATR %.6g",
		symbol, ind.Price, e.cfg.EMAFast, ind.EMAFast, e.cfg.EMASlow, ind.EMASlow, ind.ATR)

	if pos := e.snap.Position; pos != nil {
		u := pos.Mark(ind.Price, e.params)
		switch {
		case u.Exit != position.ExitNone:
			if err := e.close(ctx, fmt.Sprintf("%s hit at %.6g (stop %.6g, take profit %.6g)", u.Exit, ind.Price, pos.StopLoss, pos.TakeProfit)); err != nil {
				return err
			}
		case u.TrailStarted:
			e.notify(fmt.Sprintf("🛡️ [Trend] %s stop moved to breakeven %.6g, trailing", symbol, u.CurrentStop))
		case u.StopMoved:
			logger.Infof("📈 [Trend] %s trailing stop %.6g → %.6g", symbol, u.PreviousStop, u.CurrentStop)
		}
	}

	// a signal counts as handled once the position is on its side; a failed
	// open is retried on the next cycle
	if sig := Detect(ind); sig != SignalNone && sig != e.snap.LastSignal {
		logger.Infof("🔔 [Trend] %s %s", symbol, sig)
		side := sig.Side()
		if pos := e.snap.Position; pos != nil && pos.Side != side {
			if err := e.close(ctx, "opposite signal "+string(sig)); err != nil {
				return err
			}
		}
		if e.snap.Position == nil {
			if err := e.open(ctx, symbol, side, ind, now); err != nil {
				logger.Errorf("❌ [Trend] Open %s %s failed: %v", symbol, side, err)
			}
		}
		if e.snap.Position != nil {
			e.snap.LastSignal = sig
		}
	}

	e.persist()
	return nil
}

// selectSymbol uses the configured symbol or the most volatile pool candidate
func (e *Engine) selectSymbol() (string, error) {
	if e.cfg.Symbol != "" {
		return pool.NormalizeSymbol(e.cfg.Symbol), nil
	}
	cache, err := pool.Load(e.candidateFile)
	if err != nil {
		if e.snap.Symbol != "" {
			logger.Warnf("⚠️ [Trend] %v, keeping %s", err, e.snap.Symbol)
			return e.snap.Symbol, nil
		}
		return "", err
	}
	best, ok := cache.HighestVolatility()
	if !ok {
		return "", types.InsufficientData("candidate pool %s is empty", e.candidateFile)
	}
	return best.Symbol, nil
}

func (e *Engine) open(ctx context.Context, symbol string, side types.PositionSide, ind Indicators, now time.Time) error {
	if err := e.gw.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
		logger.Warnf("⚠️ [Trend] Failed to set leverage %dx on %s: %v", e.cfg.Leverage, symbol, err)
	}
	rules, err := e.gw.MarketRules(ctx, symbol)
	if err != nil {
		return err
	}
	qty, ok := grid.SizeFor(e.cfg.Investment*float64(e.cfg.Leverage), ind.Price, rules)
	if !ok {
		return fmt.Errorf("quantity %v below venue minimum", qty)
	}
	orderSide := types.SideBuy
	if side == types.PositionShort {
		orderSide = types.SideSell
	}
	if _, err := e.gw.PlaceOrder(ctx, &types.OrderRequest{
		Symbol:   symbol,
		Side:     orderSide,
		Type:     types.OrderTypeMarket,
		Quantity: qty,
	}); err != nil {
		return err
	}

	pos := position.Open(symbol, side, ind.Price, qty, ind.ATR, e.params, now)
	e.snap.Position = pos
	e.notify(fmt.Sprintf("✅ [Trend] Opened %s %s %.6g @ %.6g, stop %.6g, take profit %.6g",
		symbol, side, qty, pos.EntryPrice, pos.StopLoss, pos.TakeProfit))
	return nil
}

// close flattens the tracked position with a reduce-only market order
func (e *Engine) close(ctx context.Context, reason string) error {
	pos := e.snap.Position
	if pos == nil {
		return nil
	}
	if _, err := e.gw.PlaceOrder(ctx, &types.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.CloseSide(),
		Type:       types.OrderTypeMarket,
		Quantity:   pos.Amount,
		ReduceOnly: true,
	}); err != nil {
		return fmt.Errorf("failed to close %s %s: %w", pos.Symbol, pos.Side, err)
	}
	e.snap.Position = nil
	e.snap.Trades++
	e.notify(fmt.Sprintf("🔄 [Trend] Closed %s %s: %s", pos.Symbol, pos.Side, reason))
	return nil
}

// checkRisk evaluates the stops against account equity and liquidates on a trip
func (e *Engine) checkRisk(ctx context.Context, now time.Time) error {
	var bal *types.Balance
	if err := e.retry.Do(ctx, "GetBalance", func() error {
		var err error
		bal, err = e.gw.GetBalance(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	if !e.snap.Risk.Started() {
		e.snap.Risk = risk.Start(bal.Total, now)
	}
	next, v := risk.Evaluate(e.snap.Risk, bal.Total, now, e.limits)
	e.snap.Risk = next
	e.recordEquity(now, bal.Total)
	e.dailyReport(now, bal.Total)
	if !v.Tripped() {
		return nil
	}

	logger.Errorf("🚨 [Risk] Trend %s tripped: %s", v.Trip, v.Describe())
	if err := e.close(ctx, "risk stop"); err != nil {
		logger.Errorf("❌ [Risk] %v", err)
	}
	e.persist()
	if e.notifier != nil {
		if err := e.notifier.NotifySync(ctx, fmt.Sprintf("🚨 [Trend] Risk stop %s: %s", v.Trip, v.Describe())); err != nil {
			logger.Errorf("❌ [Risk] Stop alert not delivered: %v", err)
		}
	}
	return v.Err()
}

func (e *Engine) dailyReport(now time.Time, equity float64) {
	today := now.UTC().Format(time.DateOnly)
	if e.snap.LastReportDay == today {
		return
	}
	first := e.snap.LastReportDay == ""
	e.snap.LastReportDay = today
	if first {
		return
	}
	pnl := equity - e.snap.Risk.EntryEquity
	holding := "flat"
	if p := e.snap.Position; p != nil {
		holding = fmt.Sprintf("%s @ %.6g", p.Side, p.EntryPrice)
	}
	e.notify(fmt.Sprintf("📊 [Trend] Daily report %s: equity %.2f, pnl %+.2f, trades %d, %s",
		e.snap.Symbol, equity, pnl, e.snap.Trades, holding))
}

func (e *Engine) recordEquity(now time.Time, equity float64) {
	if e.equity == nil {
		return
	}
	err := e.equity.Save(&store.EquitySnapshot{
		Bot:         "trend",
		Symbol:      e.snap.Symbol,
		Timestamp:   now,
		Equity:      equity,
		EntryEquity: e.snap.Risk.EntryEquity,
		PeakEquity:  e.snap.Risk.PeakEquity,
		DailyLoss:   e.snap.Risk.DailyLoss,
	})
	if err != nil {
		logger.Warnf("⚠️ [Trend] Failed to save equity snapshot: %v", err)
	}
}

func (e *Engine) notify(text string) {
	logger.Infof("%s", text)
	if e.notifier != nil {
		e.notifier.Notify(text)
	}
}

func (e *Engine) persist() {
	if err := e.stateFile.Save(e.snap, e.now()); err != nil {
		logger.Errorf("❌ [Trend] Failed to save state file %s: %v", e.stateFile.Path(), err)
	}
}
