package domain

import "time"

// RiskLevel classification of an open position's current risk.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelModerate RiskLevel = "moderate"
	RiskLevelHigh     RiskLevel = "high"
)

// RecommendedAction what the monitor wants done with the position this cycle.
type RecommendedAction string

const (
	ActionHold        RecommendedAction = "hold"
	ActionTrailStop   RecommendedAction = "trail_stop"
	ActionTightenStop RecommendedAction = "tighten_stop"
	ActionClose       RecommendedAction = "close"
)

// RiskFactors the seven weighted factor scores, each 0-100 before weighting.
type RiskFactors struct {
	Reversal         float64 `json:"reversal"`
	VolumeAnomaly    float64 `json:"volume_anomaly"`
	RegimeDivergence float64 `json:"regime_divergence"`
	LevelBreak       float64 `json:"level_break"`
	TimeDecay        float64 `json:"time_decay"`
	Correlation      float64 `json:"correlation"`
	Drawdown         float64 `json:"drawdown"`
}

// RiskAssessment one monitoring cycle's verdict for one position. Ephemeral:
// recomputed fresh every cycle and never treated as authoritative state.
type RiskAssessment struct {
	PositionID string            `json:"position_id"`
	Pair       string            `json:"pair"`
	Score      float64           `json:"score"`
	Level      RiskLevel         `json:"level"`
	Factors    RiskFactors       `json:"factors"`
	Action     RecommendedAction `json:"action"`
	// SuggestedStop non-empty when the action is a trail or tighten.
	SuggestedStop string    `json:"suggested_stop,omitempty"`
	PnLPct        float64   `json:"pnl_pct"`
	At            time.Time `json:"at"`
}

// LevelForScore maps a composite 0-100 score to a risk level via the fixed
// thresholds: below 30 low, below 60 moderate, otherwise high.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score < 30:
		return RiskLevelLow
	case score < 60:
		return RiskLevelModerate
	default:
		return RiskLevelHigh
	}
}
