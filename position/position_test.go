package position

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mky2266/mats/trader/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = Params{StopATR: 2, TakeProfitATR: 3, TrailStartATR: 1}

func TestOpenStops(t *testing.T) {
	long := Open("BTCUSDT", types.PositionLong, 100, 1, 2, params, time.Time{})
	assert.Equal(t, 96.0, long.StopLoss)
	assert.Equal(t, 106.0, long.TakeProfit)
	assert.Equal(t, StopFixed, long.Stop)

	short := Open("BTCUSDT", types.PositionShort, 100, 1, 2, params, time.Time{})
	assert.Equal(t, 104.0, short.StopLoss)
	assert.Equal(t, 94.0, short.TakeProfit)

	noTP := Open("BTCUSDT", types.PositionLong, 100, 1, 2, Params{StopATR: 2}, time.Time{})
	assert.Zero(t, noTP.TakeProfit)
}

func TestPnL(t *testing.T) {
	long := Open("X", types.PositionLong, 100, 2, 1, params, time.Time{})
	assert.Equal(t, 10.0, long.PnL(105))
	assert.Equal(t, 0.0, long.AdverseLoss(105))
	assert.Equal(t, 6.0, long.AdverseLoss(97))
	assert.InDelta(t, 5.0, long.PnLPercent(105), 1e-12)

	short := Open("X", types.PositionShort, 100, 2, 1, params, time.Time{})
	assert.Equal(t, -10.0, short.PnL(105))
	assert.Equal(t, 10.0, short.AdverseLoss(105))
	assert.InDelta(t, -5.0, short.PnLPercent(105), 1e-12)
	assert.Equal(t, 210.0, short.Notional(105))
}

func TestLongTrailingLifecycle(t *testing.T) {
	// no take-profit so the trail can run
	p := Params{StopATR: 2, TrailStartATR: 1}
	pos := Open("X", types.PositionLong, 100, 1, 2, p, time.Time{})

	u := pos.Mark(101, p)
	assert.Equal(t, ExitNone, u.Exit)
	assert.Equal(t, StopFixed, pos.Stop)

	// +1 ATR: breakeven and trailing
	u = pos.Mark(102, p)
	assert.True(t, u.TrailStarted)
	assert.Equal(t, StopTrailing, pos.Stop)
	assert.Equal(t, 100.0, pos.StopLoss)

	// new high 108: stop ratchets to 108 - 4
	u = pos.Mark(108, p)
	assert.True(t, u.StopMoved)
	assert.Equal(t, 104.0, pos.StopLoss)

	// pullback never lowers the stop
	u = pos.Mark(105, p)
	assert.False(t, u.StopMoved)
	assert.Equal(t, 104.0, pos.StopLoss)

	u = pos.Mark(103.9, p)
	assert.Equal(t, ExitStopLoss, u.Exit)
}

func TestShortTrailingAndTakeProfit(t *testing.T) {
	pos := Open("X", types.PositionShort, 100, 1, 2, params, time.Time{})

	u := pos.Mark(98, params)
	assert.True(t, u.TrailStarted)
	assert.Equal(t, 100.0, pos.StopLoss)

	u = pos.Mark(95, params)
	assert.True(t, u.StopMoved)
	assert.Equal(t, 99.0, pos.StopLoss)

	u = pos.Mark(94, params)
	assert.Equal(t, ExitTakeProfit, u.Exit)
}

func TestStopLossBeforeTrailing(t *testing.T) {
	pos := Open("X", types.PositionLong, 100, 1, 2, params, time.Time{})
	u := pos.Mark(96, params)
	assert.Equal(t, ExitStopLoss, u.Exit)
	assert.Equal(t, "stop_loss", u.Exit.String())
}

func TestStopStateJSON(t *testing.T) {
	pos := Open("X", types.PositionShort, 100, 1, 2, params, time.Time{})
	pos.Stop = StopTrailing
	data, err := json.Marshal(pos)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stop_state":"trailing"`)

	var back Position
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StopTrailing, back.Stop)

	assert.Error(t, json.Unmarshal([]byte(`{"stop_state":"sideways"}`), &back))
}
