package domain

import "time"

// RiskProfile composite per-asset risk assessment. Recomputed on a slow
// cadence so that position sizing does not thrash on tick noise.
type RiskProfile struct {
	VolatilityScore float64
	LiquidityScore  float64
	MarketCapScore  float64
	SpreadScore     float64
	// Composite normalized product of the sub-scores, clamped to [0.3, 1.5].
	// Higher composite = higher risk = smaller permitted position.
	Composite float64
	// MaxPositionPct ceiling on position notional as a fraction of equity.
	MaxPositionPct float64
	ComputedAt     time.Time
}

// Bounds of the composite score.
const (
	RiskCompositeMin = 0.3
	RiskCompositeMax = 1.5
)
