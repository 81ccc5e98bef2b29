package domain

import "time"

// Regime classification of overall market behavior governing risk parameters.
type Regime int

const (
	RegimeFlat Regime = iota
	RegimeTrendingUp
	RegimeTrendingDown
	RegimeChoppy
	RegimeCrisis
)

// String returns the string representation of the regime.
func (r Regime) String() string {
	switch r {
	case RegimeTrendingUp:
		return "trending_up"
	case RegimeTrendingDown:
		return "trending_down"
	case RegimeChoppy:
		return "choppy"
	case RegimeCrisis:
		return "crisis"
	default:
		return "flat"
	}
}

// RegimeParams static risk parameters carried by each regime.
type RegimeParams struct {
	// RiskPerTradePct fraction of equity risked per trade, e.g. 0.0075 = 0.75%.
	RiskPerTradePct float64
	// MaxDailyLossPct daily loss ceiling as a fraction of equity.
	MaxDailyLossPct float64
	// MinConfidence minimum signal confidence required to open a trade, 0-1.
	MinConfidence float64
}

// regimeParams is the single consolidated parameter table. The values used to
// be re-derived independently in several places; any tuning happens here only.
var regimeParams = map[Regime]RegimeParams{
	RegimeTrendingUp:   {RiskPerTradePct: 0.0075, MaxDailyLossPct: 0.03, MinConfidence: 0.70},
	RegimeTrendingDown: {RiskPerTradePct: 0.0050, MaxDailyLossPct: 0.025, MinConfidence: 0.75},
	RegimeChoppy:       {RiskPerTradePct: 0.0035, MaxDailyLossPct: 0.02, MinConfidence: 0.80},
	RegimeFlat:         {RiskPerTradePct: 0.0050, MaxDailyLossPct: 0.02, MinConfidence: 0.75},
	RegimeCrisis:       {RiskPerTradePct: 0.0025, MaxDailyLossPct: 0.01, MinConfidence: 0.90},
}

// Params returns the static risk parameters for the regime.
func (r Regime) Params() RegimeParams {
	if p, ok := regimeParams[r]; ok {
		return p
	}
	return regimeParams[RegimeFlat]
}

// RegimeSnapshot immutable view of the classifier output handed to callers.
// Readers never observe a half-updated regime: the owner task publishes whole
// snapshots and bumps Version on every refresh.
type RegimeSnapshot struct {
	Regime  Regime
	Params  RegimeParams
	Version uint64
	At      time.Time
}
