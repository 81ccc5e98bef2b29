package allocation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantforge/helm/internal/domain"
)

func TestPlanBranches(t *testing.T) {
	p := NewPlanner()

	tests := []struct {
		name string
		in   Inputs
		tp1  int64
		tp2  int64
		tp3  int64
	}{
		{
			name: "base split in a flat market",
			in:   Inputs{Regime: domain.RegimeFlat, Momentum: 0.5},
			tp1:  40, tp2: 30, tp3: 30,
		},
		{
			name: "strong momentum in a trend lets winners run",
			in:   Inputs{Regime: domain.RegimeTrendingUp, Momentum: 0.8},
			tp1:  25, tp2: 30, tp3: 45,
		},
		{
			name: "weak momentum in a trend keeps the base split",
			in:   Inputs{Regime: domain.RegimeTrendingUp, Momentum: 0.4},
			tp1:  40, tp2: 30, tp3: 30,
		},
		{
			name: "choppy regime de-risks",
			in:   Inputs{Regime: domain.RegimeChoppy, Momentum: 0.9},
			tp1:  60, tp2: 25, tp3: 15,
		},
		{
			name: "losing streak de-risks even in a trend",
			in:   Inputs{Regime: domain.RegimeTrendingUp, Momentum: 0.9, ConsecutiveLosses: 2},
			tp1:  60, tp2: 25, tp3: 15,
		},
		{
			name: "high volatility pulls a slice forward",
			in:   Inputs{Regime: domain.RegimeFlat, Momentum: 0.5, HighVolatility: true},
			tp1:  45, tp2: 30, tp3: 25,
		},
		{
			name: "high volatility on top of momentum shift",
			in:   Inputs{Regime: domain.RegimeTrendingUp, Momentum: 0.8, HighVolatility: true},
			tp1:  30, tp2: 30, tp3: 40,
		},
		{
			name: "de-risk wins over volatility adjustment",
			in:   Inputs{Regime: domain.RegimeCrisis, Momentum: 0.9, HighVolatility: true},
			tp1:  60, tp2: 25, tp3: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := p.Plan(tt.in)
			assert.True(t, plan.TP1.Equal(decimal.NewFromInt(tt.tp1)), "tp1 %s", plan.TP1)
			assert.True(t, plan.TP2.Equal(decimal.NewFromInt(tt.tp2)), "tp2 %s", plan.TP2)
			assert.True(t, plan.TP3.Equal(decimal.NewFromInt(tt.tp3)), "tp3 %s", plan.TP3)
		})
	}
}

// Whatever the inputs, the exit percents must account for the whole position.
func TestPlanAlwaysSumsToHundred(t *testing.T) {
	p := NewPlanner()
	hundred := decimal.NewFromInt(100)

	regimes := []domain.Regime{
		domain.RegimeFlat, domain.RegimeTrendingUp, domain.RegimeTrendingDown,
		domain.RegimeChoppy, domain.RegimeCrisis,
	}
	for _, regime := range regimes {
		for _, momentum := range []float64{0, 0.3, 0.6, 0.9, 1} {
			for _, highVol := range []bool{false, true} {
				for _, losses := range []int{0, 1, 2, 5} {
					plan := p.Plan(Inputs{
						Momentum:          momentum,
						Regime:            regime,
						HighVolatility:    highVol,
						ConsecutiveLosses: losses,
					})
					sum := plan.TP1.Add(plan.TP2).Add(plan.TP3)
					assert.True(t, sum.Equal(hundred),
						"regime=%s momentum=%v highVol=%v losses=%d: sum %s",
						regime, momentum, highVol, losses, sum)
				}
			}
		}
	}
}
