package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestATRUndefinedUntilWindowFull(t *testing.T) {
	atr := NewATR(3)

	atr.Update(10, 8, 9)
	atr.Update(11, 9, 10)
	_, ok := atr.Value()
	assert.False(t, ok, "two candles must not produce a value")

	atr.Update(12, 10, 11)
	v, ok := atr.Value()
	require.True(t, ok)
	// each candle has range 2 and no gap beyond it
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestATRUsesGapToPreviousClose(t *testing.T) {
	atr := NewATR(3)
	atr.Update(10, 8, 9)
	atr.Update(11, 9, 10)
	atr.Update(12, 10, 11)

	// gap up: true range is high minus previous close
	atr.Update(20, 18, 19)
	v, ok := atr.Value()
	require.True(t, ok)
	assert.InDelta(t, (2.0+2.0+9.0)/3, v, 1e-9)
}

func TestATRWindowSlides(t *testing.T) {
	atr := NewATR(2)
	atr.Update(10, 8, 9)  // tr 2
	atr.Update(13, 9, 10) // tr 4
	atr.Update(16, 10, 12) // tr 6

	v, ok := atr.Value()
	require.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-9)
}

func TestPositionSize(t *testing.T) {
	// 2% of a 50000 mid against a 100-point ATR
	assert.InDelta(t, 0.01, PositionSize(50000, 100, 0.02), 1e-12)
}

func TestPositionSizeInvalidInputs(t *testing.T) {
	assert.Zero(t, PositionSize(50000, 0, 0.02))
	assert.Zero(t, PositionSize(50000, -1, 0.02))
	assert.Zero(t, PositionSize(0, 100, 0.02))
	assert.Zero(t, PositionSize(50000, 100, 0))
}
