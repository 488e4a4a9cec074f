package risk

import (
	"fmt"
	"time"

	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/trader/types"
)

// tolerance absorbs float noise at the exact limit (100 - 85 vs 100 × 0.15)
const tolerance = 1e-9

// Limits are the three stops expressed in quote currency via the investment
type Limits struct {
	Enabled            bool
	Investment         float64
	StopLossPercent    float64
	DailyLossLimit     float64
	MaxDrawdownPercent float64
}

// NewLimits binds the configured fractions to an investment
func NewLimits(cfg config.RiskConfig, investment float64) Limits {
	return Limits{
		Enabled:            cfg.Enabled,
		Investment:         investment,
		StopLossPercent:    cfg.StopLossPercent,
		DailyLossLimit:     cfg.DailyLossLimit,
		MaxDrawdownPercent: cfg.MaxDrawdownPercent,
	}
}

// State is the tracked equity window
type State struct {
	EntryEquity   float64 `json:"entry_equity"`
	PeakEquity    float64 `json:"peak_equity"`
	DailyLoss     float64 `json:"daily_loss"`
	DailyLossDate string  `json:"daily_loss_date"` // YYYY-MM-DD, UTC
}

// Start opens a tracking window at the given equity
func Start(equity float64, now time.Time) State {
	return State{
		EntryEquity:   equity,
		PeakEquity:    equity,
		DailyLossDate: day(now),
	}
}

// Started reports whether a window has been opened
func (s State) Started() bool {
	return s.EntryEquity > 0
}

// Trip identifies which stop fired
type Trip int

const (
	TripNone Trip = iota
	TripStopLoss
	TripDailyLoss
	TripDrawdown
)

func (t Trip) String() string {
	switch t {
	case TripStopLoss:
		return "stop_loss"
	case TripDailyLoss:
		return "daily_loss"
	case TripDrawdown:
		return "max_drawdown"
	default:
		return "none"
	}
}

// Verdict is the outcome of one evaluation
type Verdict struct {
	Trip       Trip
	Equity     float64
	Loss       float64 // entry - equity
	DailyLoss  float64
	Drawdown   float64 // peak - equity
	Limit      float64 // limit of the stop that fired
	RolledOver bool    // daily loss was reset by this evaluation
}

// Tripped reports whether trading must stop
func (v Verdict) Tripped() bool {
	return v.Trip != TripNone
}

// Err wraps ErrRiskLimitBreached for a tripped verdict, nil otherwise
func (v Verdict) Err() error {
	if !v.Tripped() {
		return nil
	}
	return fmt.Errorf("%w: %s", types.ErrRiskLimitBreached, v.Describe())
}

// Describe renders the verdict for logs and alerts
func (v Verdict) Describe() string {
	switch v.Trip {
	case TripStopLoss:
		return fmt.Sprintf("loss %.2f reached stop %.2f (equity %.2f)", v.Loss, v.Limit, v.Equity)
	case TripDailyLoss:
		return fmt.Sprintf("daily loss %.2f reached limit %.2f (equity %.2f)", v.DailyLoss, v.Limit, v.Equity)
	case TripDrawdown:
		return fmt.Sprintf("drawdown %.2f from peak reached limit %.2f (equity %.2f)", v.Drawdown, v.Limit, v.Equity)
	}
	return fmt.Sprintf("equity %.2f, loss %.2f, daily %.2f, drawdown %.2f", v.Equity, v.Loss, v.DailyLoss, v.Drawdown)
}

// Evaluate rolls the daily window, raises the peak and checks the three stops
// in order: single-episode loss, daily loss, drawdown from peak.
// It is pure: the returned State replaces the caller's.
func Evaluate(s State, equity float64, now time.Time, l Limits) (State, Verdict) {
	v := Verdict{Equity: equity}

	today := day(now)
	if s.DailyLossDate != today {
		s.DailyLoss = 0
		s.DailyLossDate = today
		v.RolledOver = true
	}
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}

	v.Loss = s.EntryEquity - equity
	v.Drawdown = s.PeakEquity - equity
	s.DailyLoss = max(s.DailyLoss, v.Loss)
	v.DailyLoss = s.DailyLoss

	if !l.Enabled {
		return s, v
	}

	if limit := l.Investment * l.StopLossPercent; v.Loss >= limit-tolerance {
		v.Trip, v.Limit = TripStopLoss, limit
		return s, v
	}
	if limit := l.Investment * l.DailyLossLimit; s.DailyLoss >= limit-tolerance {
		v.Trip, v.Limit = TripDailyLoss, limit
		return s, v
	}
	if limit := l.Investment * l.MaxDrawdownPercent; v.Drawdown >= limit-tolerance {
		v.Trip, v.Limit = TripDrawdown, limit
		return s, v
	}
	return s, v
}

func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
