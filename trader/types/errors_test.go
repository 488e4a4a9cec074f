package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatewayErrorClassification(t *testing.T) {
	cause := errors.New("Margin is insufficient.")
	err := NewGatewayError("PlaceOrder", ErrMarginInsufficient, -2019, cause)

	assert.True(t, errors.Is(err, ErrMarginInsufficient))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrGateway))
	assert.False(t, IsRetriable(err))
	assert.Contains(t, err.Error(), "code -2019")

	wrapped := fmt.Errorf("place ladder: %w", err)
	var gwErr *GatewayError
	assert.True(t, errors.As(wrapped, &gwErr))
	assert.Equal(t, "PlaceOrder", gwErr.Op)
}

func TestGatewayErrorDefaults(t *testing.T) {
	err := NewGatewayError("ListOpenOrders", nil, 0, nil)
	assert.True(t, errors.Is(err, ErrGateway))

	transient := NewGatewayError("LastPrice", ErrTransientNetwork, 0, errors.New("timeout"))
	assert.True(t, IsRetriable(transient))
	assert.True(t, IsRetriable(fmt.Errorf("wrapped: %w", transient)))
}

func TestInsufficientData(t *testing.T) {
	err := InsufficientData("need %d candles, got %d", 15, 3)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Contains(t, err.Error(), "need 15 candles")
}

func TestSideHelpers(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.Equal(t, SideSell, PositionLong.CloseSide())
	assert.Equal(t, SideBuy, PositionShort.CloseSide())

	s, err := ParseSide(" BUY ")
	assert.NoError(t, err)
	assert.Equal(t, SideBuy, s)
	_, err = ParseSide("hold")
	assert.Error(t, err)

	ids := OpenOrderIDs([]OpenOrder{{OrderID: "1"}, {OrderID: "2"}})
	assert.Len(t, ids, 2)
	_, ok := ids["2"]
	assert.True(t, ok)
}
