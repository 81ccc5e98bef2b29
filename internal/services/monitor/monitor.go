// Package monitor scores the live risk of open positions and recommends
// remediation: trail, tighten or close.
package monitor

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
	"github.com/quantforge/helm/pkg/indicators"
)

// Factor weights. They sum to 1.0; the composite score stays on the 0-100
// scale of the individual factors.
const (
	weightReversal    = 0.25
	weightVolume      = 0.15
	weightRegime      = 0.20
	weightLevelBreak  = 0.20
	weightTimeDecay   = 0.05
	weightCorrelation = 0.05
	weightDrawdown    = 0.10
)

const (
	// moderateCloseScore MODERATE positions losing money close above this score.
	moderateCloseScore = 50

	// trailTriggerPct unrealized profit that arms the trailing stop.
	trailTriggerPct = 2.0
	// trailLockGapPct profit points given back by the trailed stop: a +6%
	// position trails its stop to entry +5%.
	trailLockGapPct = 1.0

	volumeAvgWindow = 20
	structureWindow = 20
	atrPeriod       = 14

	// defaultMaxHold time in trade after which the decay factor saturates.
	defaultMaxHold = 48 * time.Hour
)

// Inputs one monitoring cycle's view of a position and its market.
type Inputs struct {
	Position *domain.Position
	// Candles recent primary-timeframe history, oldest first.
	Candles []domain.MarketCandle
	Price   decimal.Decimal
	Regime  domain.RegimeSnapshot
	// ReferenceReturnPct recent percent move of the market reference asset,
	// for the cross-asset correlation shock factor.
	ReferenceReturnPct float64
	Now                time.Time
}

// Monitor computes risk assessments. Stateless between cycles: the
// classification is memoryless, and the stop ratchet is enforced where the
// suggestion is applied, not here.
type Monitor struct {
	maxHold time.Duration
	logger  *zap.Logger
}

// NewMonitor creates a risk monitor.
func NewMonitor(maxHold time.Duration, logger *zap.Logger) *Monitor {
	if maxHold <= 0 {
		maxHold = defaultMaxHold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{maxHold: maxHold, logger: logger}
}

// Assess scores the seven risk factors and maps the weighted composite to a
// level and action. Same inputs always produce the same assessment.
//
// The HIGH verdict preempts everything: it closes the position regardless of
// PnL sign or any pending take-profit.
func (m *Monitor) Assess(in Inputs) (domain.RiskAssessment, error) {
	if in.Position == nil {
		return domain.RiskAssessment{}, errors.New("position is required")
	}
	if in.Price.LessThanOrEqual(decimal.Zero) {
		return domain.RiskAssessment{}, errors.New("price must be positive")
	}

	pos := in.Position
	pnl := pos.UnrealizedPnLPct(in.Price)

	factors := domain.RiskFactors{
		Reversal:         m.reversalScore(in),
		VolumeAnomaly:    m.volumeScore(in),
		RegimeDivergence: regimeScore(pos.Side, in.Regime.Regime),
		LevelBreak:       m.levelBreakScore(in),
		TimeDecay:        m.timeDecayScore(pos, in.Now),
		Correlation:      correlationScore(pos.Side, in.ReferenceReturnPct),
		Drawdown:         drawdownScore(pos.PeakPnLPct, pnl),
	}

	score := factors.Reversal*weightReversal +
		factors.VolumeAnomaly*weightVolume +
		factors.RegimeDivergence*weightRegime +
		factors.LevelBreak*weightLevelBreak +
		factors.TimeDecay*weightTimeDecay +
		factors.Correlation*weightCorrelation +
		factors.Drawdown*weightDrawdown

	level := domain.LevelForScore(score)

	assessment := domain.RiskAssessment{
		PositionID: pos.ID,
		Pair:       pos.Pair.String(),
		Score:      score,
		Level:      level,
		Factors:    factors,
		Action:     domain.ActionHold,
		PnLPct:     pnl,
		At:         in.Now,
	}

	switch level {
	case domain.RiskLevelHigh:
		assessment.Action = domain.ActionClose
	case domain.RiskLevelModerate:
		if pnl < 0 && score > moderateCloseScore {
			assessment.Action = domain.ActionClose
		} else if pnl > 0 {
			assessment.Action = domain.ActionTightenStop
			assessment.SuggestedStop = m.tightenedStop(in).String()
		}
	case domain.RiskLevelLow:
		if pnl >= trailTriggerPct {
			assessment.Action = domain.ActionTrailStop
			assessment.SuggestedStop = trailedStop(pos, pnl).String()
		}
	}

	return assessment, nil
}

// trailedStop locks in all but trailLockGapPct of the current profit.
func trailedStop(pos *domain.Position, pnlPct float64) decimal.Decimal {
	locked := decimal.NewFromFloat((pnlPct - trailLockGapPct) / 100)
	if pos.Side == domain.PositionSideShort {
		return pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(locked))
	}
	return pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(locked))
}

// tightenedStop pulls the stop to one ATR behind the market, tighter than
// the multi-ATR entry stop.
func (m *Monitor) tightenedStop(in Inputs) decimal.Decimal {
	atr, err := indicators.LatestATR(in.Candles, atrPeriod)
	if err != nil || !atr.IsPositive() {
		// thin history: fall back to one percent of price
		atr = in.Price.Div(decimal.NewFromInt(100))
	}
	if in.Position.Side == domain.PositionSideShort {
		return in.Price.Add(atr)
	}
	return in.Price.Sub(atr)
}

// reversalScore looks for candle patterns against the position: adverse
// engulfing bodies, long adverse wicks, and runs of adverse closes.
func (m *Monitor) reversalScore(in Inputs) float64 {
	n := len(in.Candles)
	if n < 3 {
		return 0
	}

	last := in.Candles[n-1]
	prev := in.Candles[n-2]
	adverse := adverseSign(in.Position.Side)

	score := 0.0

	// engulfing against the trade
	lastBody := last.Close.Sub(last.Open)
	prevBody := prev.Close.Sub(prev.Open)
	if signOf(lastBody) == adverse && lastBody.Abs().GreaterThan(prevBody.Abs()) && signOf(prevBody) != adverse {
		score += 50
	}

	// long wick rejecting the trade's direction
	bodyAbs := lastBody.Abs()
	if bodyAbs.IsPositive() {
		wick := last.High.Sub(maxDecimal(last.Open, last.Close))
		if in.Position.Side == domain.PositionSideShort {
			wick = minDecimal(last.Open, last.Close).Sub(last.Low)
		}
		if wick.GreaterThan(bodyAbs.Mul(decimal.NewFromInt(2))) {
			score += 30
		}
	}

	// three consecutive adverse closes
	run := 0
	for i := n - 1; i >= n-3; i-- {
		if signOf(in.Candles[i].Close.Sub(in.Candles[i].Open)) == adverse {
			run++
		}
	}
	if run == 3 {
		score += 20
	}

	return clampScore(score)
}

// volumeScore flags adverse moves on anomalous volume. A spike with the
// trade is fine; a spike against it is distribution.
func (m *Monitor) volumeScore(in Inputs) float64 {
	n := len(in.Candles)
	if n < 2 {
		return 0
	}

	window := in.Candles
	if n > volumeAvgWindow+1 {
		window = in.Candles[n-volumeAvgWindow-1:]
	}

	sum := decimal.Zero
	for _, c := range window[:len(window)-1] {
		sum = sum.Add(c.Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(window) - 1)))
	if !avg.IsPositive() {
		return 0
	}

	last := window[len(window)-1]
	ratio, _ := last.Volume.Div(avg).Float64()
	if ratio < 1.5 {
		return 0
	}

	adverse := signOf(last.Close.Sub(last.Open)) == adverseSign(in.Position.Side)
	switch {
	case adverse && ratio >= 3:
		return 100
	case adverse && ratio >= 2:
		return 70
	case adverse:
		return 40
	default:
		// heavy volume even in our favor deserves a nudge: climaxes reverse
		return 15
	}
}

// regimeScore scores how hostile the current regime is to the position side.
func regimeScore(side domain.PositionSide, regime domain.Regime) float64 {
	switch regime {
	case domain.RegimeCrisis:
		return 100
	case domain.RegimeChoppy:
		return 50
	case domain.RegimeFlat:
		return 20
	case domain.RegimeTrendingUp:
		if side == domain.PositionSideShort {
			return 80
		}
		return 0
	case domain.RegimeTrendingDown:
		if side == domain.PositionSideLong {
			return 80
		}
		return 0
	default:
		return 20
	}
}

// levelBreakScore detects structure breaks: price trading beyond the recent
// extreme on the adverse side.
func (m *Monitor) levelBreakScore(in Inputs) float64 {
	n := len(in.Candles)
	if n < 2 {
		return 0
	}

	window := in.Candles[:n-1]
	if len(window) > structureWindow {
		window = window[len(window)-structureWindow:]
	}

	if in.Position.Side == domain.PositionSideLong {
		support := window[0].Low
		for _, c := range window {
			if c.Low.LessThan(support) {
				support = c.Low
			}
		}
		if in.Price.LessThan(support) {
			return 100
		}
		if nearPct(in.Price, support, 0.3) {
			return 60
		}
		return 0
	}

	resistance := window[0].High
	for _, c := range window {
		if c.High.GreaterThan(resistance) {
			resistance = c.High
		}
	}
	if in.Price.GreaterThan(resistance) {
		return 100
	}
	if nearPct(in.Price, resistance, 0.3) {
		return 60
	}
	return 0
}

// timeDecayScore grows linearly with time in trade and saturates at maxHold.
func (m *Monitor) timeDecayScore(pos *domain.Position, now time.Time) float64 {
	if now.IsZero() || pos.OpenedAt.IsZero() {
		return 0
	}
	held := now.Sub(pos.OpenedAt)
	if held <= 0 {
		return 0
	}
	return clampScore(100 * float64(held) / float64(m.maxHold))
}

// correlationScore flags a sharp adverse move in the market reference asset.
func correlationScore(side domain.PositionSide, refReturnPct float64) float64 {
	adverse := refReturnPct
	if side == domain.PositionSideShort {
		adverse = -adverse
	}
	// adverse is negative when the reference moves against the position
	switch {
	case adverse <= -3:
		return 100
	case adverse <= -1.5:
		return 50
	default:
		return 0
	}
}

// drawdownScore measures how much of the peak unrealized profit was given back.
func drawdownScore(peakPnLPct, pnlPct float64) float64 {
	if peakPnLPct < 1 {
		return 0
	}
	giveback := (peakPnLPct - pnlPct) / peakPnLPct
	switch {
	case giveback >= 0.7:
		return 100
	case giveback >= 0.4:
		return 60
	case giveback >= 0.2:
		return 30
	default:
		return 0
	}
}

func adverseSign(side domain.PositionSide) int {
	return -side.Sign()
}

func signOf(d decimal.Decimal) int {
	switch {
	case d.IsPositive():
		return 1
	case d.IsNegative():
		return -1
	default:
		return 0
	}
}

func nearPct(price, level decimal.Decimal, pct float64) bool {
	if !level.IsPositive() {
		return false
	}
	dist, _ := price.Sub(level).Abs().Div(level).Mul(decimal.NewFromInt(100)).Float64()
	return dist <= pct
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
