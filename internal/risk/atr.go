// Package risk sizes positions, manages take-profit / stop-loss
// brackets, and watches portfolio drawdown.
package risk

import "math"

// ATR is an incremental Average True Range over the last period closed
// candles. It is undefined until the window is full.
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool

	ranges []float64
	next   int
	count  int
}

// NewATR creates an ATR calculator for the given period.
func NewATR(period int) *ATR {
	return &ATR{
		period: period,
		ranges: make([]float64, period),
	}
}

// Update folds one closed candle into the window.
func (a *ATR) Update(high, low, close float64) {
	tr := high - low
	if a.hasPrev {
		tr = math.Max(tr, math.Abs(high-a.prevClose))
		tr = math.Max(tr, math.Abs(low-a.prevClose))
	}
	a.prevClose = close
	a.hasPrev = true

	a.ranges[a.next] = tr
	a.next = (a.next + 1) % a.period
	if a.count < a.period {
		a.count++
	}
}

// Value returns the mean true range, or false while the window is
// still filling.
func (a *ATR) Value() (float64, bool) {
	if a.count < a.period {
		return 0, false
	}
	sum := 0.0
	for _, tr := range a.ranges {
		sum += tr
	}
	return sum / float64(a.period), true
}

// Count returns how many candles have been applied, capped at period.
func (a *ATR) Count() int { return a.count }
