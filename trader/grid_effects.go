package trader

import (
	"time"

	"github.com/mky2266/mats/grid"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/store"
)

// apply performs the side effects of engine events: log, journal, alert.
// Journal and alert failures never reach the trading path.
func (e *GridEngine) apply(events ...grid.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case grid.EventPlacementFailed, grid.EventRefillFailed, grid.EventRefillSkipped:
			logger.Warnf("%s", ev.Message())
		case grid.EventPlacement:
			logger.Debugf("%s", ev.Message())
		default:
			logger.Infof("%s", ev.Message())
		}

		if ev.Kind != grid.EventPlacement {
			e.journalEvent(ev)
		}
		if ev.Notify() && e.notifier != nil {
			e.notifier.Notify(ev.Message())
		}
	}
}

func (e *GridEngine) journalEvent(ev grid.Event) {
	if e.journal == nil {
		return
	}
	err := e.journal.SaveGridEvent(&store.GridEventModel{
		InstanceID: e.instanceID,
		Symbol:     ev.Symbol,
		EventType:  string(ev.Kind),
		EventTime:  ev.At,
		Side:       string(ev.Side),
		Price:      ev.Price,
		Quantity:   ev.Quantity,
		OrderID:    ev.OrderID,
		Message:    ev.Message(),
	})
	if err != nil {
		logger.Warnf("⚠️ [Grid] Failed to journal %s event: %v", ev.Kind, err)
	}
}

// openInstance starts a journal row for a freshly activated ladder
func (e *GridEngine) openInstance(l *grid.Ladder, regime string, now time.Time) {
	e.instanceID = newInstanceID()
	if e.journal == nil {
		return
	}
	err := e.journal.SaveGridInstance(&store.GridInstanceModel{
		ID:            e.instanceID,
		Symbol:        e.symbol,
		State:         "active",
		StartedAt:     now,
		UpperPrice:    l.Upper,
		LowerPrice:    l.Lower,
		GridStep:      l.Step,
		LevelCount:    len(l.Levels),
		ATR:           l.ATR,
		ATRMultiplier: l.Multiplier,
		Regime:        regime,
		Leverage:      e.cfg.Leverage,
		Investment:    e.cfg.Investment,
	})
	if err != nil {
		logger.Warnf("⚠️ [Grid] Failed to journal grid instance: %v", err)
	}
}

// closeInstance marks the current journal row stopped and forgets it
func (e *GridEngine) closeInstance(cause string, now time.Time) {
	id := e.instanceID
	e.instanceID = ""
	if e.journal == nil || id == "" {
		return
	}
	if err := e.journal.StopGridInstance(id, cause, now); err != nil {
		logger.Warnf("⚠️ [Grid] Failed to close grid instance %s: %v", id, err)
	}
}

func (e *GridEngine) recordEquity(now time.Time, equity float64) {
	if e.equity == nil {
		return
	}
	err := e.equity.Save(&store.EquitySnapshot{
		Bot:         "grid",
		Symbol:      e.symbol,
		Timestamp:   now,
		Equity:      equity,
		EntryEquity: e.risk.EntryEquity,
		PeakEquity:  e.risk.PeakEquity,
		DailyLoss:   e.risk.DailyLoss,
		OpenOrders:  len(e.grid.OpenOrders()),
	})
	if err != nil {
		logger.Warnf("⚠️ [Grid] Failed to save equity snapshot: %v", err)
	}
}
