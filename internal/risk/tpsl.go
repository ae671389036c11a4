package risk

import "math"

// Tiers holds the bracket thresholds. Tier two locks in more profit
// than tier one; below both, the base bracket applies.
type Tiers struct {
	ATRMultiplier    float64
	TierOnePnlPct    float64
	TierOneRMultiple float64
	TierTwoPnlPct    float64
	TierTwoRMultiple float64
}

// BracketReport is the outcome of one management pass.
type BracketReport struct {
	Hit        bool
	StopLoss   float64
	TakeProfit float64
	RMultiple  float64
	PnlPct     float64
}

// Bracket tracks the working stop-loss / take-profit levels for one
// position. Hits are detected against the levels set on the previous
// pass; each pass then refreshes the levels from the current tier.
type Bracket struct {
	tiers Tiers

	armed      bool
	long       bool
	stopLoss   float64
	takeProfit float64
}

// NewBracket creates a bracket manager with the given tier thresholds.
func NewBracket(tiers Tiers) *Bracket {
	return &Bracket{tiers: tiers}
}

// Reset clears the working levels, e.g. after the position goes flat.
func (b *Bracket) Reset() {
	b.armed = false
}

// Manage evaluates the position against the working bracket and
// refreshes it. A flat position or an undefined ATR disarms the
// bracket and reports nothing.
func (b *Bracket) Manage(qty, entry, mid, unrealized, atr float64) BracketReport {
	if qty == 0 || entry <= 0 || mid <= 0 || atr <= 0 {
		b.Reset()
		return BracketReport{}
	}

	long := qty > 0
	if b.armed && b.long != long {
		b.Reset()
	}

	risk := atr * b.tiers.ATRMultiplier
	pnlPct := unrealized / math.Abs(qty*entry)
	rMultiple := (mid - entry) / risk
	if !long {
		rMultiple = -rMultiple
	}

	hit := false
	if b.armed {
		if long {
			hit = mid >= b.takeProfit || mid <= b.stopLoss
		} else {
			hit = mid <= b.takeProfit || mid >= b.stopLoss
		}
	}

	var sl, tp float64
	switch {
	case pnlPct >= b.tiers.TierTwoPnlPct && rMultiple >= b.tiers.TierTwoRMultiple:
		sl = entry + 0.5*risk
		tp = mid + 1.5*risk
		if !long {
			sl = entry - 0.5*risk
			tp = mid - 1.5*risk
		}
	case pnlPct >= b.tiers.TierOnePnlPct || rMultiple >= b.tiers.TierOneRMultiple:
		sl = entry + risk
		tp = mid + 2*risk
		if !long {
			sl = entry - risk
			tp = mid - 2*risk
		}
	default:
		sl = entry - risk
		tp = mid + 2*risk
		if !long {
			sl = entry + risk
			tp = mid - 2*risk
		}
	}

	b.armed = true
	b.long = long
	b.stopLoss = sl
	b.takeProfit = tp

	return BracketReport{
		Hit:        hit,
		StopLoss:   sl,
		TakeProfit: tp,
		RMultiple:  rMultiple,
		PnlPct:     pnlPct,
	}
}
