package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/grid"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/market"
	"github.com/mky2266/mats/risk"
	"github.com/mky2266/mats/rotation"
	"github.com/mky2266/mats/state"
	"github.com/mky2266/mats/store"
	"github.com/mky2266/mats/trader/types"
)

// Notifier delivers user-facing alerts. Notify must never block trading.
type Notifier interface {
	Notify(text string)
	NotifySync(ctx context.Context, text string) error
}

// Journal records ladder lifetimes and their events
type Journal interface {
	SaveGridInstance(instance *store.GridInstanceModel) error
	StopGridInstance(id, cause string, at time.Time) error
	SaveGridEvent(event *store.GridEventModel) error
}

// EquityRecorder appends equity snapshots
type EquityRecorder interface {
	Save(snapshot *store.EquitySnapshot) error
}

// RotationEvaluator decides whether to switch the traded symbol
type RotationEvaluator interface {
	Evaluate(ctx context.Context, current string, lastRotation, now time.Time) (rotation.Decision, error)
}

// GridSnapshot is the process state file content of the grid bot
type GridSnapshot struct {
	Grid          grid.State `json:"grid"`
	Risk          risk.State `json:"risk"`
	InstanceID    string     `json:"instance_id,omitempty"`
	LastReportDay string     `json:"last_report_day,omitempty"`
}

// GridStatus is the read-only view served by the status endpoint
type GridStatus struct {
	Symbol     string     `json:"symbol"`
	Phase      string     `json:"phase"`
	UpperPrice float64    `json:"upper_price"`
	LowerPrice float64    `json:"lower_price"`
	GridStep   float64    `json:"grid_step"`
	OpenOrders int        `json:"open_orders"`
	InstanceID string     `json:"instance_id,omitempty"`
	Risk       risk.State `json:"risk"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// GridEngineDeps are the collaborators of the engine. Only Gateway is required.
type GridEngineDeps struct {
	Gateway  types.Gateway
	Selector RotationEvaluator // nil disables rotation
	Notifier Notifier
	Journal  Journal
	Equity   EquityRecorder
	Retry    *ReadRetry
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// GridEngine runs the live grid: it owns the ladder, the risk window and the
// state file, and is driven by a single polling loop
type GridEngine struct {
	cfg      config.GridConfig
	rotation config.RotationConfig
	limits   risk.Limits
	params   grid.Params

	gw        types.Gateway
	prices    types.PriceSource
	retry     ReadRetry
	selector  RotationEvaluator
	notifier  Notifier
	journal   Journal
	equity    EquityRecorder
	stateFile *state.File[GridSnapshot]
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu            sync.RWMutex
	symbol        string
	grid          grid.State
	risk          risk.State
	instanceID    string
	lastReportDay string
	updatedAt     time.Time
}

// NewGridEngine wires an engine from the configuration
func NewGridEngine(cfg config.Config, deps GridEngineDeps) *GridEngine {
	retry := DefaultReadRetry()
	if deps.Retry != nil {
		retry = *deps.Retry
	}
	if deps.Sleep != nil && retry.Sleep == nil {
		retry.Sleep = deps.Sleep
	}
	e := &GridEngine{
		cfg:      cfg.Grid,
		rotation: cfg.Rotation,
		limits:   risk.NewLimits(cfg.Risk, cfg.Grid.Investment),
		params: grid.Params{
			Investment: cfg.Grid.Investment,
			Leverage:   cfg.Grid.Leverage,
			GridCount:  cfg.Grid.GridCount,
		},
		gw:        deps.Gateway,
		prices:    &RetryingPrices{Source: deps.Gateway, Retry: retry},
		retry:     retry,
		selector:  deps.Selector,
		notifier:  deps.Notifier,
		journal:   deps.Journal,
		equity:    deps.Equity,
		stateFile: state.NewFile[GridSnapshot](cfg.Grid.StateFile),
		now:       deps.Clock,
		sleep:     deps.Sleep,
		symbol:    cfg.Grid.Symbol,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	return e
}

// Restore loads the state file. A missing file is a fresh start; a corrupt
// one is returned as an error and must abort startup.
func (e *GridEngine) Restore() error {
	snap, savedAt, err := e.stateFile.Load()
	if errors.Is(err, state.ErrNotExist) {
		logger.Infof("📂 [Grid] No state file at %s, starting fresh on %s", e.stateFile.Path(), e.symbol)
		return nil
	}
	if err != nil {
		return err
	}
	if err := snap.Grid.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", state.ErrCorrupt, e.stateFile.Path(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.grid = snap.Grid
	e.risk = snap.Risk
	e.instanceID = snap.InstanceID
	e.lastReportDay = snap.LastReportDay
	if snap.Grid.Symbol != "" {
		e.symbol = snap.Grid.Symbol
	}
	logger.Infof("📂 [Grid] Restored %s state saved at %s: %s, %d open orders, entry equity %.2f",
		e.symbol, savedAt.Format(time.RFC3339), e.grid.Phase, len(e.grid.OpenOrders()), e.risk.EntryEquity)
	return nil
}

// Symbol currently traded
func (e *GridEngine) Symbol() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.symbol
}

// Status returns a copy of the engine state
func (e *GridEngine) Status() GridStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return GridStatus{
		Symbol:     e.symbol,
		Phase:      e.grid.Phase.String(),
		UpperPrice: e.grid.UpperPrice,
		LowerPrice: e.grid.LowerPrice,
		GridStep:   e.grid.GridStep,
		OpenOrders: len(e.grid.OpenOrders()),
		InstanceID: e.instanceID,
		Risk:       e.risk,
		UpdatedAt:  e.updatedAt,
	}
}

// Run polls until ctx is cancelled or a risk stop fires. A cycle in progress
// is finished before shutdown; resting orders are left for the next start.
func (e *GridEngine) Run(ctx context.Context) error {
	logger.Infof("🚀 [Grid] Engine started: %s, every %s", e.Symbol(), e.cfg.CheckInterval)
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if err := e.RunCycle(context.WithoutCancel(ctx)); err != nil {
			if errors.Is(err, types.ErrRiskLimitBreached) {
				return err
			}
			if errors.Is(err, types.ErrInsufficientData) {
				logger.Warnf("⚠️ [Grid] Cycle skipped: %v", err)
			} else {
				logger.Errorf("❌ [Grid] Cycle failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.persist()
			e.mu.Unlock()
			logger.Infof("⏹ [Grid] Engine stopped, state saved to %s", e.stateFile.Path())
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one pass: risk gate, breakout, rotation, then fill
// reconciliation. An initialization, reset or rotation ends the pass.
func (e *GridEngine) RunCycle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	if err := e.checkRisk(ctx, now); err != nil {
		return err
	}

	if !e.grid.Active() {
		return e.initialize(ctx, now, "init")
	}

	price, err := e.prices.LastPrice(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("failed to get price of %s: %w", e.symbol, err)
	}
	if kind := e.grid.CheckBreakout(price); kind != grid.BreakoutNone {
		switch {
		case !e.cfg.AutoRebalance:
			logger.Warnf("⚠️ [Grid] Price %.6g broke %s bound, auto rebalance is off", price, kind)
		case !grid.CooldownElapsed(e.grid.LastRebalanceAt, now, e.cfg.RebalanceCooldown):
			logger.Infof("⏳ [Grid] Price %.6g broke %s bound, rebalance cooldown until %s",
				price, kind, e.grid.LastRebalanceAt.Add(e.cfg.RebalanceCooldown).Format(time.TimeOnly))
		default:
			e.apply(grid.Event{Kind: grid.EventBreakoutReset, Symbol: e.symbol, At: now, Price: price,
				Detail: fmt.Sprintf("(%s bound %.6g-%.6g)", kind, e.grid.LowerPrice, e.grid.UpperPrice)})
			return e.initialize(ctx, now, "breakout_"+kind.String())
		}
	}

	if rotated, err := e.checkRotation(ctx, now); rotated || err != nil {
		return err
	}

	err = e.reconcile(ctx, now)
	e.persist()
	return err
}

// Initialize rebuilds the ladder on the current symbol
func (e *GridEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialize(ctx, e.now(), "manual")
}

func (e *GridEngine) initialize(ctx context.Context, now time.Time, cause string) error {
	symbol := e.symbol
	if err := e.liquidate(ctx, symbol); err != nil {
		return err
	}
	// the venue is flat now; a failed rebuild must not leave the old ladder tracked
	e.closeInstance(cause, now)
	e.grid.Deactivate()
	e.persist()

	if err := e.gw.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
		logger.Warnf("⚠️ [Grid] Failed to set leverage %dx on %s: %v", e.cfg.Leverage, symbol, err)
	}

	candles, err := e.prices.Candles(ctx, symbol, e.cfg.ATRTimeframe, e.cfg.ATRPeriod+50)
	if err != nil {
		return fmt.Errorf("failed to get %s candles of %s: %w", e.cfg.ATRTimeframe, symbol, err)
	}
	atr, err := market.ATR(candles, e.cfg.ATRPeriod)
	if err != nil {
		return err
	}
	price, err := e.prices.LastPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to get price of %s: %w", symbol, err)
	}

	multiplier, regime := e.cfg.ATRMultiplier, "fixed"
	if e.cfg.DynamicMultiplier {
		var r grid.Regime
		multiplier, r = grid.DynamicMultiplier(atr, price)
		regime = r.String()
	}

	var rules *types.MarketRules
	if err := e.retry.Do(ctx, "MarketRules "+symbol, func() error {
		var err error
		rules, err = e.gw.MarketRules(ctx, symbol)
		return err
	}); err != nil {
		return fmt.Errorf("failed to get market rules of %s: %w", symbol, err)
	}

	ladder, err := grid.Build(price, atr, multiplier, e.params, rules)
	if err != nil {
		return err
	}
	for _, s := range ladder.Skipped {
		logger.Debugf("[Grid] Level %d @ %.6g skipped: %s", s.Index, s.Price, s.Reason)
	}

	orders := make([]grid.Order, 0, len(ladder.Levels))
	for i, lvl := range ladder.Levels {
		if i > 0 && e.cfg.PlacementDelay > 0 {
			if err := e.sleep(ctx, e.cfg.PlacementDelay); err != nil {
				return err
			}
		}
		o, err := e.place(ctx, symbol, lvl.Side, lvl.Price, lvl.Quantity)
		if err != nil {
			e.apply(grid.Event{Kind: grid.EventPlacementFailed, Symbol: symbol, At: now, Side: lvl.Side,
				Price: lvl.Price, Quantity: lvl.Quantity, Detail: err.Error()})
			if errors.Is(err, types.ErrMarginInsufficient) {
				logger.Warnf("⚠️ [Grid] Margin exhausted after %d/%d levels, keeping placed orders", len(orders), len(ladder.Levels))
				break
			}
			continue
		}
		orders = append(orders, o)
		e.apply(grid.Event{Kind: grid.EventPlacement, Symbol: symbol, At: now, Side: o.Side,
			Price: o.Price, Quantity: o.Quantity, OrderID: o.ID})
	}

	e.grid.Activate(symbol, ladder, orders, now)
	e.openInstance(ladder, regime, now)

	e.apply(grid.Event{Kind: grid.EventInit, Symbol: symbol, At: now, Price: price, Detail: fmt.Sprintf(
		"%d/%d levels, %.6g - %.6g, step %.6g (ATR %.6g × %.2f, %s)",
		len(orders), e.cfg.GridCount, ladder.Lower, ladder.Upper, ladder.Step, atr, multiplier, regime)})
	e.persist()
	return nil
}

// place submits one ladder order
func (e *GridEngine) place(ctx context.Context, symbol string, side types.Side, price, qty float64) (grid.Order, error) {
	clientID := newClientOrderID()
	res, err := e.gw.PlaceOrder(ctx, &types.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeLimit,
		Price:    price,
		Quantity: qty,
		PostOnly: e.cfg.PostOnly,
		ClientID: clientID,
	})
	if err != nil {
		return grid.Order{}, err
	}
	return grid.Order{ID: res.OrderID, ClientID: clientID, Price: price, Quantity: qty, Side: side}, nil
}

// liquidate cancels every resting order and closes every position on symbol.
// Nothing to cancel or close is not an error.
func (e *GridEngine) liquidate(ctx context.Context, symbol string) error {
	if err := e.gw.CancelAllOrders(ctx, symbol); err != nil {
		return fmt.Errorf("failed to cancel orders on %s: %w", symbol, err)
	}

	var positions []types.Position
	if err := e.retry.Do(ctx, "ListPositions "+symbol, func() error {
		var err error
		positions, err = e.gw.ListPositions(ctx, symbol)
		return err
	}); err != nil {
		return fmt.Errorf("failed to get positions on %s: %w", symbol, err)
	}

	for _, p := range positions {
		if p.Symbol != symbol || p.Quantity <= 0 {
			continue
		}
		_, err := e.gw.PlaceOrder(ctx, &types.OrderRequest{
			Symbol:     symbol,
			Side:       p.Side.CloseSide(),
			Type:       types.OrderTypeMarket,
			Quantity:   p.Quantity,
			ReduceOnly: true,
			ClientID:   newClientOrderID(),
		})
		if err != nil {
			return fmt.Errorf("failed to close %s %s position: %w", symbol, p.Side, err)
		}
		logger.Infof("🔒 [Grid] Closed %s %s position %.6g @ ~%.6g", symbol, p.Side, p.Quantity, p.MarkPrice)
	}
	return nil
}

// checkRisk reads equity, evaluates the three stops and records a snapshot.
// A trip liquidates, notifies and returns an error wrapping ErrRiskLimitBreached.
func (e *GridEngine) checkRisk(ctx context.Context, now time.Time) error {
	var bal *types.Balance
	if err := e.retry.Do(ctx, "GetBalance", func() error {
		var err error
		bal, err = e.gw.GetBalance(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}

	if !e.risk.Started() {
		e.risk = risk.Start(bal.Total, now)
		logger.Infof("🛡️ [Risk] Tracking from entry equity %.2f", bal.Total)
	}
	next, v := risk.Evaluate(e.risk, bal.Total, now, e.limits)
	if v.RolledOver {
		logger.Infof("📅 [Risk] New trading day %s, daily loss reset", next.DailyLossDate)
	}
	e.risk = next
	e.recordEquity(now, bal.Total)
	e.dailyReport(now, bal.Total)

	if !v.Tripped() {
		return nil
	}

	logger.Errorf("🚨 [Risk] %s tripped: %s", v.Trip, v.Describe())
	if err := e.liquidate(ctx, e.symbol); err != nil {
		logger.Errorf("❌ [Risk] Liquidation of %s failed: %v", e.symbol, err)
	}
	ev := grid.Event{Kind: grid.EventRiskStop, Symbol: e.symbol, At: now, Detail: v.Trip.String() + ": " + v.Describe()}
	e.journalEvent(ev)
	logger.Errorf("%s", ev.Message())
	e.closeInstance(v.Trip.String(), now)
	e.grid.Deactivate()
	e.persist()
	if e.notifier != nil {
		if err := e.notifier.NotifySync(ctx, ev.Message()); err != nil {
			logger.Errorf("❌ [Risk] Stop alert not delivered: %v", err)
		}
	}
	return v.Err()
}

// dailyReport notifies equity versus entry once per calendar day
func (e *GridEngine) dailyReport(now time.Time, equity float64) {
	today := now.UTC().Format(time.DateOnly)
	if e.lastReportDay == today {
		return
	}
	first := e.lastReportDay == ""
	e.lastReportDay = today
	if first || !e.cfg.DailyReport {
		return
	}
	pnl := equity - e.risk.EntryEquity
	pct := 0.0
	if e.risk.EntryEquity > 0 {
		pct = pnl / e.risk.EntryEquity * 100
	}
	e.apply(grid.Event{Kind: grid.EventDailyReport, Symbol: e.symbol, At: now, Detail: fmt.Sprintf(
		"equity %.2f, pnl %+.2f (%+.2f%%), peak %.2f, open orders %d",
		equity, pnl, pct, e.risk.PeakEquity, len(e.grid.OpenOrders()))})
}

// checkRotation re-scores the pool on the rotation timer and switches symbol
// when the selector says so
func (e *GridEngine) checkRotation(ctx context.Context, now time.Time) (bool, error) {
	if e.selector == nil || !e.rotation.Enabled {
		return false, nil
	}
	if !grid.CooldownElapsed(e.grid.LastRotationCheckAt, now, e.rotation.Interval) {
		return false, nil
	}
	e.grid.LastRotationCheckAt = now

	d, err := e.selector.Evaluate(ctx, e.symbol, e.grid.LastRotationAt, now)
	if err != nil {
		logger.Warnf("⚠️ [Rotation] Check failed: %v", err)
		return false, nil
	}
	if !d.Rotate || d.To == "" || d.To == e.symbol {
		return false, nil
	}

	from := e.symbol
	if err := e.liquidate(ctx, from); err != nil {
		return true, err
	}
	e.apply(grid.Event{Kind: grid.EventRotation, Symbol: from, At: now, Detail: d.String()})
	e.closeInstance("rotation", now)
	e.grid.Deactivate()
	e.symbol = d.To
	e.grid.Symbol = d.To
	e.grid.LastRotationAt = now
	e.persist()
	return true, e.initialize(ctx, now, "rotation")
}

// reconcile detects fills and submits one replacement per fill while the
// position notional is under the cap
func (e *GridEngine) reconcile(ctx context.Context, now time.Time) error {
	symbol := e.symbol
	var open []types.OpenOrder
	if err := e.retry.Do(ctx, "ListOpenOrders "+symbol, func() error {
		var err error
		open, err = e.gw.ListOpenOrders(ctx, symbol)
		return err
	}); err != nil {
		return fmt.Errorf("failed to get open orders of %s: %w", symbol, err)
	}

	ids := types.OpenOrderIDs(open)
	if !e.grid.HasFills(ids) {
		return nil
	}

	// both reads succeed before any order is marked filled, so an aborted
	// cycle sees the same fills again
	exposure, err := e.exposure(ctx, symbol)
	if err != nil {
		return err
	}
	rules, err := e.gw.MarketRules(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to get market rules of %s: %w", symbol, err)
	}

	filled, events := e.grid.DetectFills(ids, now)
	e.apply(events...)
	defer e.grid.Prune()

	for _, f := range filled {
		r := grid.PlanRefill(f, e.grid.GridStep, exposure, e.params, rules)
		if r.Skip {
			e.apply(grid.Event{Kind: grid.EventRefillSkipped, Symbol: symbol, At: now, Side: r.Side, Price: r.Price, Detail: r.Reason})
			continue
		}
		o, err := e.place(ctx, symbol, r.Side, r.Price, r.Quantity)
		if err != nil {
			e.apply(grid.Event{Kind: grid.EventRefillFailed, Symbol: symbol, At: now, Side: r.Side, Price: r.Price, Detail: err.Error()})
			continue
		}
		e.grid.Track(o)
		e.apply(grid.Event{Kind: grid.EventRefill, Symbol: symbol, At: now, Side: o.Side, Price: o.Price,
			Quantity: o.Quantity, OrderID: o.ID, Detail: fmt.Sprintf("after %s @ %.6g", f.Side, f.Price)})
	}
	return nil
}

// exposure is the total absolute position notional on symbol
func (e *GridEngine) exposure(ctx context.Context, symbol string) (float64, error) {
	var positions []types.Position
	if err := e.retry.Do(ctx, "ListPositions "+symbol, func() error {
		var err error
		positions, err = e.gw.ListPositions(ctx, symbol)
		return err
	}); err != nil {
		return 0, fmt.Errorf("failed to get positions of %s: %w", symbol, err)
	}
	total := 0.0
	for _, p := range positions {
		total += math.Abs(p.Notional)
	}
	return total, nil
}

func (e *GridEngine) snapshot() GridSnapshot {
	return GridSnapshot{Grid: e.grid, Risk: e.risk, InstanceID: e.instanceID, LastReportDay: e.lastReportDay}
}

// persist writes the state file; failures are logged, trading continues
func (e *GridEngine) persist() {
	now := e.now()
	if err := e.stateFile.Save(e.snapshot(), now); err != nil {
		logger.Errorf("❌ [Grid] Failed to save state file %s: %v", e.stateFile.Path(), err)
		return
	}
	e.updatedAt = now
}

func newInstanceID() string {
	return uuid.NewString()
}
