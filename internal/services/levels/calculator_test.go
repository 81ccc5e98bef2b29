package levels

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/helm/internal/domain"
)

func defaultAlloc() domain.AllocationPlan {
	return domain.AllocationPlan{
		TP1: decimal.NewFromInt(40),
		TP2: decimal.NewFromInt(30),
		TP3: decimal.NewFromInt(30),
	}
}

func TestATRMultiplierBuckets(t *testing.T) {
	tests := []struct {
		atrPct float64
		want   string
	}{
		{0.5, "2"},
		{1.49, "2"},
		{1.5, "2.5"},
		{2.99, "2.5"},
		{3.0, "3"},
		{4.99, "3"},
		{5.0, "3.5"},
		{12.0, "3.5"},
	}

	for _, tt := range tests {
		got := ATRMultiplier(tt.atrPct)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
			"atrPct=%v: got %s want %s", tt.atrPct, got, tt.want)
	}
}

// The reference long scenario: entry 100, swing 95-105, ATR 1 (1% of entry,
// lowest bucket, 2.0x). Stop 95-2=93, TPs at the 1.272/1.618/2.618
// extensions of the 10-point range above 105.
func TestCalculateLongReferenceScenario(t *testing.T) {
	calc := NewCalculator()
	sw := domain.Swing{
		High:     decimal.NewFromInt(105),
		Low:      decimal.NewFromInt(95),
		Strength: 70,
	}

	set, err := calc.Calculate(sw, decimal.NewFromInt(100), domain.PositionSideLong,
		decimal.NewFromInt(1), defaultAlloc())
	require.NoError(t, err)

	assert.True(t, set.StopLoss.Equal(decimal.NewFromInt(93)), "stop %s", set.StopLoss)
	assert.True(t, set.TakeProfits[0].Price.Equal(decimal.RequireFromString("107.72")), "tp1 %s", set.TakeProfits[0].Price)
	assert.True(t, set.TakeProfits[1].Price.Equal(decimal.RequireFromString("111.18")), "tp2 %s", set.TakeProfits[1].Price)
	assert.True(t, set.TakeProfits[2].Price.Equal(decimal.RequireFromString("121.18")), "tp3 %s", set.TakeProfits[2].Price)
	assert.True(t, set.ATRMultiplier.Equal(decimal.NewFromInt(2)))

	require.NoError(t, set.Validate(decimal.NewFromInt(100), domain.PositionSideLong))
}

func TestCalculateShortMirrors(t *testing.T) {
	calc := NewCalculator()
	sw := domain.Swing{
		High:     decimal.NewFromInt(105),
		Low:      decimal.NewFromInt(95),
		Strength: 70,
	}

	set, err := calc.Calculate(sw, decimal.NewFromInt(100), domain.PositionSideShort,
		decimal.NewFromInt(1), defaultAlloc())
	require.NoError(t, err)

	assert.True(t, set.StopLoss.Equal(decimal.NewFromInt(107)), "stop %s", set.StopLoss)
	assert.True(t, set.TakeProfits[0].Price.Equal(decimal.RequireFromString("92.28")), "tp1 %s", set.TakeProfits[0].Price)
	assert.True(t, set.TakeProfits[1].Price.Equal(decimal.RequireFromString("88.82")), "tp2 %s", set.TakeProfits[1].Price)
	assert.True(t, set.TakeProfits[2].Price.Equal(decimal.RequireFromString("78.82")), "tp3 %s", set.TakeProfits[2].Price)

	require.NoError(t, set.Validate(decimal.NewFromInt(100), domain.PositionSideShort))
}

func TestCalculateRejectsDegenerateInputs(t *testing.T) {
	calc := NewCalculator()
	goodSwing := domain.Swing{High: decimal.NewFromInt(105), Low: decimal.NewFromInt(95)}

	_, err := calc.Calculate(goodSwing, decimal.Zero, domain.PositionSideLong,
		decimal.NewFromInt(1), defaultAlloc())
	require.Error(t, err)

	_, err = calc.Calculate(goodSwing, decimal.NewFromInt(100), domain.PositionSideLong,
		decimal.Zero, defaultAlloc())
	require.Error(t, err)

	flat := domain.Swing{High: decimal.NewFromInt(100), Low: decimal.NewFromInt(100)}
	_, err = calc.Calculate(flat, decimal.NewFromInt(100), domain.PositionSideLong,
		decimal.NewFromInt(1), defaultAlloc())
	require.Error(t, err)
}

// A short against a swing whose range projects targets below zero must be
// rejected, not emitted with nonsense prices.
func TestCalculateShortRejectsNegativeProjection(t *testing.T) {
	calc := NewCalculator()
	sw := domain.Swing{High: decimal.NewFromInt(100), Low: decimal.NewFromInt(40)}

	_, err := calc.Calculate(sw, decimal.NewFromInt(50), domain.PositionSideShort,
		decimal.NewFromInt(1), defaultAlloc())
	require.Error(t, err)
}

func TestConfidenceFromSwingQuality(t *testing.T) {
	calc := NewCalculator()
	alloc := defaultAlloc()
	entry := decimal.NewFromInt(100)
	atr := decimal.NewFromInt(1)

	strong := domain.Swing{High: decimal.NewFromInt(105), Low: decimal.NewFromInt(95),
		Strength: 75, ConfirmedByVolume: true}
	set, err := calc.Calculate(strong, entry, domain.PositionSideLong, atr, alloc)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceHigh, set.Confidence)

	medium := domain.Swing{High: decimal.NewFromInt(105), Low: decimal.NewFromInt(95), Strength: 45}
	set, err = calc.Calculate(medium, entry, domain.PositionSideLong, atr, alloc)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceMedium, set.Confidence)

	fallback := domain.Swing{High: decimal.NewFromInt(105), Low: decimal.NewFromInt(95)}
	set, err = calc.Calculate(fallback, entry, domain.PositionSideLong, atr, alloc)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceLow, set.Confidence)
}
