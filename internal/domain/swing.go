package domain

import "github.com/shopspring/decimal"

// Swing a confirmed recent price swing detected from candle history.
type Swing struct {
	// High upper extreme of the swing.
	High decimal.Decimal
	// Low lower extreme of the swing.
	Low decimal.Decimal
	// BarsAgo distance from the most recent bar to the fractal bar.
	BarsAgo int
	// Strength detection quality score in [0, 100]. Zero means the swing is
	// a widest-range fallback, not a confirmed fractal.
	Strength float64
	// ConfirmedByVolume true when the fractal bar's volume exceeded the local average.
	ConfirmedByVolume bool
}

// Range returns the swing height in price units.
func (s Swing) Range() decimal.Decimal {
	return s.High.Sub(s.Low)
}

// IsFallback reports whether the swing is the widest-range fallback produced
// when no fractal survived filtering. Callers should treat fallback swings
// with lower confidence.
func (s Swing) IsFallback() bool {
	return s.Strength == 0 && !s.ConfirmedByVolume
}
