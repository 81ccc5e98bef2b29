package monitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/helm/internal/domain"
)

func openedAt() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func openLong(t *testing.T) *domain.Position {
	t.Helper()
	levels := domain.LevelSet{
		StopLoss: decimal.NewFromInt(93),
		TakeProfits: [3]domain.TakeProfit{
			{Price: decimal.NewFromInt(105), ExitPercent: decimal.NewFromInt(40)},
			{Price: decimal.NewFromInt(110), ExitPercent: decimal.NewFromInt(30)},
			{Price: decimal.NewFromInt(120), ExitPercent: decimal.NewFromInt(30)},
		},
	}
	pos, err := domain.NewPosition("pos-1", domain.Pair{From: "BTC", To: "USDT"},
		domain.PositionSideLong, decimal.NewFromInt(100), decimal.NewFromInt(1000), levels, openedAt())
	require.NoError(t, err)
	return pos
}

// calmCandles is a benign tape for a long: green bodies, normal volume, lows
// well clear of the price.
func calmCandles(n int) []domain.MarketCandle {
	out := make([]domain.MarketCandle, n)
	for i := range out {
		out[i] = domain.MarketCandle{
			Open:   decimal.NewFromInt(100),
			High:   decimal.NewFromInt(101),
			Low:    decimal.NewFromInt(95),
			Close:  decimal.RequireFromString("100.5"),
			Volume: decimal.NewFromInt(100),
		}
	}
	return out
}

// distributionCandles ends with a red candle on 10x volume. Shaped so only
// the volume factor fires: no engulfing (previous candle also red), no wick,
// only two adverse closes, and lows far from the price.
func distributionCandles() []domain.MarketCandle {
	out := calmCandles(30)
	out[28] = domain.MarketCandle{
		Open:   decimal.RequireFromString("100.4"),
		High:   decimal.RequireFromString("100.4"),
		Low:    decimal.NewFromInt(95),
		Close:  decimal.RequireFromString("100.2"),
		Volume: decimal.NewFromInt(100),
	}
	out[29] = domain.MarketCandle{
		Open:   decimal.NewFromInt(100),
		High:   decimal.NewFromInt(100),
		Low:    decimal.NewFromInt(95),
		Close:  decimal.RequireFromString("99.5"),
		Volume: decimal.NewFromInt(1000),
	}
	return out
}

func snapshotOf(r domain.Regime) domain.RegimeSnapshot {
	return domain.RegimeSnapshot{Regime: r, Params: r.Params()}
}

func TestAssessValidatesInputs(t *testing.T) {
	m := NewMonitor(48*time.Hour, nil)

	_, err := m.Assess(Inputs{Price: decimal.NewFromInt(100)})
	require.Error(t, err)

	_, err = m.Assess(Inputs{Position: openLong(t), Price: decimal.Zero})
	require.Error(t, err)
}

func TestAssessIsDeterministic(t *testing.T) {
	m := NewMonitor(48*time.Hour, nil)
	in := Inputs{
		Position: openLong(t),
		Candles:  distributionCandles(),
		Price:    decimal.NewFromInt(102),
		Regime:   snapshotOf(domain.RegimeChoppy),
		Now:      openedAt().Add(6 * time.Hour),
	}

	first, err := m.Assess(in)
	require.NoError(t, err)
	second, err := m.Assess(in)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Factors, second.Factors)
	assert.Equal(t, first.Action, second.Action)
}

func TestAssessCalmPositionHolds(t *testing.T) {
	m := NewMonitor(48*time.Hour, nil)

	got, err := m.Assess(Inputs{
		Position: openLong(t),
		Candles:  calmCandles(30),
		Price:    decimal.NewFromInt(101),
		Regime:   snapshotOf(domain.RegimeTrendingUp),
		Now:      openedAt().Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RiskLevelLow, got.Level)
	assert.Equal(t, domain.ActionHold, got.Action)
	assert.Empty(t, got.SuggestedStop)
}

// A low-risk position that is up 4% trails its stop to lock in all but one
// point of the profit: entry 100 -> stop 103.
func TestAssessLowRiskProfitTrailsStop(t *testing.T) {
	m := NewMonitor(48*time.Hour, nil)

	got, err := m.Assess(Inputs{
		Position: openLong(t),
		Candles:  calmCandles(30),
		Price:    decimal.NewFromInt(104),
		Regime:   snapshotOf(domain.RegimeTrendingUp),
		Now:      openedAt().Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RiskLevelLow, got.Level)
	assert.Equal(t, domain.ActionTrailStop, got.Action)

	stop := decimal.RequireFromString(got.SuggestedStop)
	assert.True(t, stop.Equal(decimal.NewFromInt(103)), "stop %s", stop)
}

// HIGH closes the position even while it is profitable: crisis regime,
// engulfing reversal on 10x volume, stale hold, adverse reference move and a
// peak giveback stack up past the threshold.
func TestAssessHighRiskClosesProfitablePosition(t *testing.T) {
	m := NewMonitor(48*time.Hour, nil)

	candles := calmCandles(30)
	candles[29] = domain.MarketCandle{
		Open:   decimal.NewFromInt(101),
		High:   decimal.NewFromInt(101),
		Low:    decimal.NewFromInt(95),
		Close:  decimal.RequireFromString("99.5"),
		Volume: decimal.NewFromInt(1000),
	}

	pos := openLong(t)
	pos.PeakPnLPct = 10

	got, err := m.Assess(Inputs{
		Position:           pos,
		Candles:            candles,
		Price:              decimal.NewFromInt(105),
		Regime:             snapshotOf(domain.RegimeCrisis),
		ReferenceReturnPct: -5,
		Now:                openedAt().Add(60 * time.Hour),
	})
	require.NoError(t, err)

	assert.Greater(t, got.PnLPct, 0.0)
	assert.Equal(t, domain.RiskLevelHigh, got.Level)
	assert.Equal(t, domain.ActionClose, got.Action)
	assert.InDelta(t, 63.5, got.Score, 0.01)
}

func TestAssessModerateLosingPositionCloses(t *testing.T) {
	m := NewMonitor(48*time.Hour, nil)

	pos := openLong(t)
	pos.PeakPnLPct = 10

	got, err := m.Assess(Inputs{
		Position:           pos,
		Candles:            distributionCandles(),
		Price:              decimal.NewFromInt(98),
		Regime:             snapshotOf(domain.RegimeCrisis),
		ReferenceReturnPct: -3,
		Now:                openedAt().Add(48 * time.Hour),
	})
	require.NoError(t, err)

	assert.Less(t, got.PnLPct, 0.0)
	assert.Equal(t, domain.RiskLevelModerate, got.Level)
	assert.Equal(t, domain.ActionClose, got.Action)
	assert.InDelta(t, 55.0, got.Score, 0.01)
}

func TestAssessModerateProfitablePositionTightens(t *testing.T) {
	m := NewMonitor(48*time.Hour, nil)

	got, err := m.Assess(Inputs{
		Position: openLong(t),
		Candles:  distributionCandles(),
		Price:    decimal.NewFromInt(102),
		Regime:   snapshotOf(domain.RegimeCrisis),
		Now:      openedAt().Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RiskLevelModerate, got.Level)
	assert.Equal(t, domain.ActionTightenStop, got.Action)

	require.NotEmpty(t, got.SuggestedStop)
	stop := decimal.RequireFromString(got.SuggestedStop)
	assert.True(t, stop.IsPositive())
	assert.True(t, stop.LessThan(decimal.NewFromInt(102)), "tightened stop %s not below price", stop)
}

func TestRegimeScoreHostility(t *testing.T) {
	assert.Equal(t, 100.0, regimeScore(domain.PositionSideLong, domain.RegimeCrisis))
	assert.Equal(t, 0.0, regimeScore(domain.PositionSideLong, domain.RegimeTrendingUp))
	assert.Equal(t, 80.0, regimeScore(domain.PositionSideShort, domain.RegimeTrendingUp))
	assert.Equal(t, 80.0, regimeScore(domain.PositionSideLong, domain.RegimeTrendingDown))
	assert.Equal(t, 50.0, regimeScore(domain.PositionSideShort, domain.RegimeChoppy))
}

func TestCorrelationScoreIsSideAware(t *testing.T) {
	// a reference crash hurts longs and helps shorts
	assert.Equal(t, 100.0, correlationScore(domain.PositionSideLong, -3))
	assert.Equal(t, 50.0, correlationScore(domain.PositionSideLong, -2))
	assert.Equal(t, 0.0, correlationScore(domain.PositionSideLong, 2))
	assert.Equal(t, 100.0, correlationScore(domain.PositionSideShort, 3))
	assert.Equal(t, 0.0, correlationScore(domain.PositionSideShort, -3))
}

func TestDrawdownScoreGivebackTiers(t *testing.T) {
	// below 1% peak there is nothing worth protecting
	assert.Equal(t, 0.0, drawdownScore(0.5, -1))

	assert.Equal(t, 0.0, drawdownScore(10, 9))
	assert.Equal(t, 30.0, drawdownScore(10, 7.5))
	assert.Equal(t, 60.0, drawdownScore(10, 5))
	assert.Equal(t, 100.0, drawdownScore(10, 2))
}
