package risk

// contractScale converts the raw risk budget into venue contract units.
const contractScale = 1000

// PositionSize returns the contract quantity that risks maxRiskPct of
// the mid-price notional against one ATR of adverse movement. It
// returns 0 when the ATR is undefined or the mid price is unknown, so
// callers can treat an unsized signal as a no-op.
func PositionSize(midPrice, atr, maxRiskPct float64) float64 {
	if atr <= 0 || midPrice <= 0 || maxRiskPct <= 0 {
		return 0
	}
	return midPrice * maxRiskPct / atr / contractScale
}
