package strategy

import (
	"math"
	"testing"

	"futuresbot/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestMACDKnownSequence(t *testing.T) {
	prices := []float64{45000, 46000, 45500, 47000, 46500, 46000}

	m := NewMACD(12, 26, 9)
	var macd, signal float64
	for _, p := range prices {
		macd, signal = m.Update(p)
	}

	assert.InDelta(t, 307.064, macd, 1e-3)
	assert.InDelta(t, 156.763, signal, 1e-3)
	assert.Equal(t, len(prices), m.Count())
}

func TestMACDFirstCandleIsZero(t *testing.T) {
	m := NewMACD(12, 26, 9)
	macd, signal := m.Update(45000)
	assert.Zero(t, macd)
	assert.Zero(t, signal)

	fast, slow := m.EMAs()
	assert.Equal(t, 45000.0, fast)
	assert.Equal(t, 45000.0, slow)
}

// batchEMA is the textbook recursive EMA over the whole series.
func batchEMA(prices []float64, period int) float64 {
	alpha := smoothingFactor / (float64(period) + 1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = alpha*p + (1-alpha)*ema
	}
	return ema
}

func TestIncrementalEMAMatchesBatch(t *testing.T) {
	prices := make([]float64, 300)
	price := 50000.0
	for i := range prices {
		// deterministic pseudo-random walk
		price += math.Sin(float64(i)*0.7)*250 + math.Cos(float64(i)*0.31)*90
		prices[i] = price
	}

	m := NewMACD(12, 26, 9)
	for _, p := range prices {
		m.Update(p)
	}

	fast, slow := m.EMAs()
	assert.InDelta(t, batchEMA(prices, 12), fast, 1e-9)
	assert.InDelta(t, batchEMA(prices, 26), slow, 1e-9)
}

func TestSignalPolicyFiresOncePerCrossing(t *testing.T) {
	var p SignalPolicy

	assert.Equal(t, core.SignalBuy, p.Evaluate(10, 5))
	assert.Equal(t, core.SignalHold, p.Evaluate(12, 6))
	assert.Equal(t, core.SignalHold, p.Evaluate(15, 7))

	assert.Equal(t, core.SignalSell, p.Evaluate(4, 8))
	assert.Equal(t, core.SignalHold, p.Evaluate(3, 7))

	assert.Equal(t, core.SignalBuy, p.Evaluate(9, 6))
}

func TestSignalPolicyBuyOnFirstCrossing(t *testing.T) {
	prices := []float64{45000, 46000, 45500, 47000, 46500, 46000}

	m := NewMACD(12, 26, 9)
	var p SignalPolicy
	var signals []core.Signal
	for _, price := range prices {
		macd, signal := m.Update(price)
		signals = append(signals, p.Evaluate(macd, signal))
	}

	// the first candle is flat, the second crosses up, and the trend
	// never reverses over the remaining candles
	assert.Equal(t, []core.Signal{
		core.SignalHold, core.SignalBuy, core.SignalHold,
		core.SignalHold, core.SignalHold, core.SignalHold,
	}, signals)
}

func TestSignalPolicyEqualValuesHold(t *testing.T) {
	var p SignalPolicy
	assert.Equal(t, core.SignalHold, p.Evaluate(5, 5))
}
