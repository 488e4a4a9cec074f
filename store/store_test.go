package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSystemConfig(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetSystemConfig("last_scan")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetSystemConfig("last_scan", "a"))
	require.NoError(t, s.SetSystemConfig("last_scan", "b"))
	v, err = s.GetSystemConfig("last_scan")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestBacktestRunsAndAggregate(t *testing.T) {
	s := newTestStore(t)
	bt := s.Backtest()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	runs := []*BacktestRun{
		{Symbol: "DUSKUSDT", Timeframe: "1h", ATRMultiplier: 1.2, GridCount: 10, TotalPnLPct: 10, MaxDrawdownPct: 4, Score: 4.4, RunAt: at},
		{Symbol: "DUSKUSDT", Timeframe: "1h", ATRMultiplier: 0.8, GridCount: 5, TotalPnLPct: 20, MaxDrawdownPct: 8, Score: 8.8, RunAt: at.Add(time.Hour)},
		{Symbol: "ARUSDT", Timeframe: "1h", ATRMultiplier: 1, GridCount: 8, TotalPnLPct: -5, MaxDrawdownPct: 12, RunAt: at},
	}
	for _, r := range runs {
		require.NoError(t, bt.Save(r))
		assert.NotZero(t, r.ID)
	}
	assert.Equal(t, "GRID_ATR1.2_N10_1h", runs[0].Strategy)

	listed, err := bt.ListBySymbol("DUSKUSDT", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 0.8, listed[0].ATRMultiplier, "newest first")
	assert.True(t, listed[0].RunAt.Equal(at.Add(time.Hour)))

	agg, err := bt.Aggregate(context.Background(), "DUSKUSDT")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 2, agg.Runs)
	assert.InDelta(t, 15, agg.AvgPnLPct, 1e-9)
	assert.InDelta(t, 6, agg.AvgDrawdownPct, 1e-9)
	assert.InDelta(t, 8.8, agg.BestScore, 1e-9)

	none, err := bt.Aggregate(context.Background(), "NONEUSDT")
	require.NoError(t, err)
	assert.Nil(t, none)

	board, err := bt.Leaderboard(5)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "DUSKUSDT", board[0].Symbol)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Backtest().Save(&BacktestRun{Symbol: "X", Timeframe: "1h", GridCount: 5, ATRMultiplier: 1}))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Backtest().ListBySymbol("X", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestEquitySnapshots(t *testing.T) {
	s := newTestStore(t)
	eq := s.Equity()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, eq.Save(&EquitySnapshot{
			Bot: "grid", Symbol: "DUSKUSDT", Timestamp: base.Add(time.Duration(i) * time.Minute),
			Equity: 100 + float64(i), EntryEquity: 100, PeakEquity: 100 + float64(i),
		}))
	}
	require.NoError(t, eq.Save(&EquitySnapshot{Bot: "trend", Symbol: "BTCUSDT", Timestamp: base, Equity: 50}))

	latest, err := eq.GetLatest("grid", 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, 102.0, latest[0].Equity, "chronological order")
	assert.Equal(t, 104.0, latest[2].Equity)

	ranged, err := eq.GetByTimeRange("grid", base.Add(time.Minute), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, ranged, 2)
}

func TestGridJournal(t *testing.T) {
	s := newTestStore(t)
	g := s.Grid()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	inst := &GridInstanceModel{ID: "inst-1", Symbol: "DUSKUSDT", State: "active", StartedAt: at, UpperPrice: 105, LowerPrice: 95, GridStep: 1.2, LevelCount: 9}
	require.NoError(t, g.SaveGridInstance(inst))

	for i, kind := range []string{"init", "fill", "refill", "fill"} {
		require.NoError(t, g.SaveGridEvent(&GridEventModel{
			InstanceID: "inst-1", Symbol: "DUSKUSDT", EventType: kind,
			EventTime: at.Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := g.LoadRecentGridEvents("inst-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "fill", recent[0].EventType)
	assert.Equal(t, "refill", recent[1].EventType)

	fills, err := g.LoadGridEventsByType("inst-1", "fill", 0)
	require.NoError(t, err)
	assert.Len(t, fills, 2)

	counts, err := g.CountGridEvents("inst-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["fill"])
	assert.Equal(t, int64(1), counts["init"])

	require.NoError(t, g.StopGridInstance("inst-1", "breakout_reset", at.Add(time.Hour)))
	loaded, err := g.LoadGridInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, "stopped", loaded.State)
	assert.Equal(t, "breakout_reset", loaded.StopCause)
	require.NotNil(t, loaded.StoppedAt)

	list, err := g.ListGridInstances("DUSKUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
