package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelSetValidate(t *testing.T) {
	entry := decimal.NewFromInt(100)

	tests := []struct {
		name    string
		side    PositionSide
		mutate  func(*LevelSet)
		wantErr bool
		wrong   bool
	}{
		{
			name: "valid long",
			side: PositionSideLong,
		},
		{
			name:    "long stop above entry",
			side:    PositionSideLong,
			mutate:  func(l *LevelSet) { l.StopLoss = decimal.NewFromInt(101) },
			wantErr: true,
			wrong:   true,
		},
		{
			name:    "long stop equal to entry",
			side:    PositionSideLong,
			mutate:  func(l *LevelSet) { l.StopLoss = entry },
			wantErr: true,
			wrong:   true,
		},
		{
			name: "take-profits out of order",
			side: PositionSideLong,
			mutate: func(l *LevelSet) {
				l.TakeProfits[1].Price = l.TakeProfits[0].Price
			},
			wantErr: true,
		},
		{
			name: "exit percents do not sum to 100",
			side: PositionSideLong,
			mutate: func(l *LevelSet) {
				l.TakeProfits[0].ExitPercent = decimal.NewFromInt(50)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels := validLevels(entry)
			if tt.mutate != nil {
				tt.mutate(&levels)
			}

			err := levels.Validate(entry, tt.side)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wrong, errors.Is(err, ErrStopWrongSide))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLevelSetValidateShort(t *testing.T) {
	entry := decimal.NewFromInt(100)
	levels := LevelSet{
		StopLoss: decimal.NewFromInt(107),
		TakeProfits: [3]TakeProfit{
			{Price: decimal.NewFromInt(95), ExitPercent: decimal.NewFromInt(40)},
			{Price: decimal.NewFromInt(90), ExitPercent: decimal.NewFromInt(30)},
			{Price: decimal.NewFromInt(80), ExitPercent: decimal.NewFromInt(30)},
		},
	}
	require.NoError(t, levels.Validate(entry, PositionSideShort))

	levels.StopLoss = decimal.NewFromInt(99)
	err := levels.Validate(entry, PositionSideShort)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStopWrongSide))
}

func TestStopDistance(t *testing.T) {
	levels := validLevels(decimal.NewFromInt(100))
	assert.True(t, levels.StopDistance(decimal.NewFromInt(100)).Equal(decimal.NewFromInt(7)))
}
