// Package levels turns a swing and a volatility measure into stop-loss and
// take-profit prices.
package levels

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
)

// Fibonacci extension factors for the three take-profit levels, applied to
// the swing range beyond the favorable swing extreme.
var fibExtensions = [3]decimal.Decimal{
	decimal.NewFromFloat(0.272), // 1.272 extension
	decimal.NewFromFloat(0.618), // 1.618 extension
	decimal.NewFromFloat(1.618), // 2.618 extension
}

// atrBucket maps an ATR-percent-of-price ceiling to a stop multiplier.
// Wider stops in higher volatility: the noisier the tape, the more room a
// move needs before it means anything.
type atrBucket struct {
	ceilingPct float64
	multiplier decimal.Decimal
}

var atrBuckets = []atrBucket{
	{ceilingPct: 1.5, multiplier: decimal.NewFromFloat(2.0)},
	{ceilingPct: 3.0, multiplier: decimal.NewFromFloat(2.5)},
	{ceilingPct: 5.0, multiplier: decimal.NewFromFloat(3.0)},
}

// multiplier above the last bucket ceiling.
var atrMultiplierExtreme = decimal.NewFromFloat(3.5)

// Calculator derives protective and profit-taking levels.
type Calculator struct{}

// NewCalculator creates a level calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// ATRMultiplier selects the stop multiplier for the ATR expressed as a
// percent of the entry price.
func ATRMultiplier(atrPct float64) decimal.Decimal {
	for _, b := range atrBuckets {
		if atrPct < b.ceilingPct {
			return b.multiplier
		}
	}
	return atrMultiplierExtreme
}

// Calculate builds a LevelSet for the given swing, entry price, side and ATR.
// The allocation plan supplies the per-level exit percentages. The returned
// set always satisfies LevelSet.Validate for the entry and side.
func (c *Calculator) Calculate(sw domain.Swing, entry decimal.Decimal, side domain.PositionSide, atr decimal.Decimal, alloc domain.AllocationPlan) (domain.LevelSet, error) {
	if entry.LessThanOrEqual(decimal.Zero) {
		return domain.LevelSet{}, errors.New("entry price must be positive")
	}
	if atr.LessThanOrEqual(decimal.Zero) {
		return domain.LevelSet{}, errors.New("ATR must be positive")
	}
	if !sw.High.GreaterThan(sw.Low) {
		return domain.LevelSet{}, errors.Errorf("degenerate swing: high %s low %s", sw.High, sw.Low)
	}

	atrPct, _ := atr.Div(entry).Mul(decimal.NewFromInt(100)).Float64()
	mult := ATRMultiplier(atrPct)
	offset := atr.Mul(mult)
	swingRange := sw.Range()

	set := domain.LevelSet{
		ATR:           atr,
		ATRMultiplier: mult,
		Confidence:    confidenceFor(sw),
	}

	if side == domain.PositionSideLong {
		set.StopLoss = sw.Low.Sub(offset)
		for i, fib := range fibExtensions {
			set.TakeProfits[i].Price = sw.High.Add(swingRange.Mul(fib))
		}
	} else {
		set.StopLoss = sw.High.Add(offset)
		for i, fib := range fibExtensions {
			set.TakeProfits[i].Price = sw.Low.Sub(swingRange.Mul(fib))
		}
		// a deep swing range can project short targets below zero;
		// that is a degenerate input, not a tradable plan
		if set.TakeProfits[2].Price.LessThanOrEqual(decimal.Zero) {
			return domain.LevelSet{}, errors.Errorf("short take-profit projection is not positive: %s", set.TakeProfits[2].Price)
		}
	}

	set.TakeProfits[0].ExitPercent = alloc.TP1
	set.TakeProfits[1].ExitPercent = alloc.TP2
	set.TakeProfits[2].ExitPercent = alloc.TP3

	if err := set.Validate(entry, side); err != nil {
		return domain.LevelSet{}, errors.Wrap(err, "calculated levels failed validation")
	}

	return set, nil
}

func confidenceFor(sw domain.Swing) domain.Confidence {
	switch {
	case sw.ConfirmedByVolume && sw.Strength >= 60:
		return domain.ConfidenceHigh
	case sw.Strength >= 30:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
