// Package strategy implements the MACD crossover strategy worker.
package strategy

import "futuresbot/internal/core"

// smoothingFactor is the EMA smoothing constant: alpha = s / (period + 1).
const smoothingFactor = 2.0

// MACD computes the indicator incrementally, one closed candle at a
// time. Seeding matches the recursive EMA: the first price becomes both
// EMAs, so the first MACD and signal values are zero.
type MACD struct {
	alphaFast   float64
	alphaSlow   float64
	alphaSignal float64

	count   int
	emaFast float64
	emaSlow float64
	macd    float64
	signal  float64
}

// NewMACD creates an indicator with the given EMA periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		alphaFast:   smoothingFactor / (float64(fastPeriod) + 1),
		alphaSlow:   smoothingFactor / (float64(slowPeriod) + 1),
		alphaSignal: smoothingFactor / (float64(signalPeriod) + 1),
	}
}

// Update folds one close price into the indicator and returns the new
// MACD and signal line values.
func (m *MACD) Update(closePrice float64) (macd, signal float64) {
	if m.count == 0 {
		m.emaFast = closePrice
		m.emaSlow = closePrice
		m.macd = 0
		m.signal = 0
		m.count++
		return m.macd, m.signal
	}

	m.emaFast = m.alphaFast*closePrice + (1-m.alphaFast)*m.emaFast
	m.emaSlow = m.alphaSlow*closePrice + (1-m.alphaSlow)*m.emaSlow
	m.macd = m.emaFast - m.emaSlow
	m.signal = m.alphaSignal*m.macd + (1-m.alphaSignal)*m.signal
	m.count++
	return m.macd, m.signal
}

// Count returns how many candles have been folded in.
func (m *MACD) Count() int { return m.count }

// Values returns the current MACD and signal line.
func (m *MACD) Values() (macd, signal float64) { return m.macd, m.signal }

// EMAs returns the current fast and slow EMA values.
func (m *MACD) EMAs() (fast, slow float64) { return m.emaFast, m.emaSlow }

// SignalPolicy turns MACD/signal crossings into at-most-one signal per
// crossing. The same side never fires twice in a row.
type SignalPolicy struct {
	lastAction core.Signal
}

// Evaluate returns the trading signal for the current indicator state.
func (p *SignalPolicy) Evaluate(macd, signal float64) core.Signal {
	if macd > signal && p.lastAction != core.SignalBuy {
		p.lastAction = core.SignalBuy
		return core.SignalBuy
	}
	if macd < signal && p.lastAction != core.SignalSell {
		p.lastAction = core.SignalSell
		return core.SignalSell
	}
	return core.SignalHold
}

// LastAction returns the most recent non-hold signal.
func (p *SignalPolicy) LastAction() core.Signal { return p.lastAction }
