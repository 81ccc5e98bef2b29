// Package allocation splits exit size across the three take-profit levels.
package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
)

const (
	// base split across TP1/TP2/TP3.
	baseTP1 = 40
	baseTP2 = 30
	baseTP3 = 30

	// strongMomentum threshold above which winners are given room to run.
	strongMomentum = 0.6
	// losingStreak consecutive losses that trigger early de-risking.
	losingStreak = 2
)

// Inputs the factors the planner weighs. Deliberately the simple coherent
// set: momentum, volatility, regime, recent performance.
type Inputs struct {
	// Momentum strength of the entry signal's momentum, 0-1.
	Momentum float64
	// Regime current market regime.
	Regime domain.Regime
	// HighVolatility true when ATR is elevated versus its average.
	HighVolatility bool
	// ConsecutiveLosses current losing streak length, 0 when the last trade won.
	ConsecutiveLosses int
}

// Planner computes take-profit allocations.
type Planner struct{}

// NewPlanner creates an allocation planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan starts from the 40/30/30 base split and shifts weight toward later
// levels when momentum is strong in a trending market, or toward TP1 when
// the regime is choppy, volatility is elevated, or a losing streak is
// active. The result always sums to exactly 100, and any ambiguity resolves
// toward the front-loaded (conservative) split.
func (p *Planner) Plan(in Inputs) domain.AllocationPlan {
	tp1, tp2, tp3 := baseTP1, baseTP2, baseTP3

	trending := in.Regime == domain.RegimeTrendingUp || in.Regime == domain.RegimeTrendingDown
	deRisk := in.Regime == domain.RegimeChoppy || in.Regime == domain.RegimeCrisis ||
		in.ConsecutiveLosses >= losingStreak

	switch {
	case deRisk:
		// take most of the trade off at the first target
		tp1, tp2, tp3 = 60, 25, 15
	case trending && in.Momentum >= strongMomentum:
		// let winners run: push weight to the later extensions
		tp1, tp2, tp3 = 25, 30, 45
	}

	if in.HighVolatility && !deRisk {
		// elevated volatility pulls one slice forward
		tp1 += 5
		tp3 -= 5
	}

	// remainder to TP1 keeps the invariant and the conservative bias
	tp1 += 100 - (tp1 + tp2 + tp3)

	return domain.AllocationPlan{
		TP1: decimal.NewFromInt(int64(tp1)),
		TP2: decimal.NewFromInt(int64(tp2)),
		TP3: decimal.NewFromInt(int64(tp3)),
	}
}
