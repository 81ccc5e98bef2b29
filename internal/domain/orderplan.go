package domain

import "github.com/shopspring/decimal"

// AllocationPlan split of the exit size across the three take-profit levels.
// The three percentages always sum to exactly 100.
type AllocationPlan struct {
	TP1 decimal.Decimal
	TP2 decimal.Decimal
	TP3 decimal.Decimal
}

// Total returns the sum of the three allocations.
func (a AllocationPlan) Total() decimal.Decimal {
	return a.TP1.Add(a.TP2).Add(a.TP3)
}

// OrderPlan everything needed to open one trade: size, protective levels and
// the take-profit allocation, plus any non-fatal warnings raised while sizing.
type OrderPlan struct {
	Pair     Pair
	Side     PositionSide
	SizeUSD  decimal.Decimal
	Quantity decimal.Decimal
	Levels   LevelSet
	Alloc    AllocationPlan
	Warnings []string
}

// Signal a trade idea emitted by a strategy producer. The engine only ever
// sees this shape; concrete strategies stay behind the SignalProducer interface.
type Signal struct {
	Pair Pair
	Side PositionSide
	// Confidence producer's conviction in [0, 1].
	Confidence float64
	Reason     string
}
