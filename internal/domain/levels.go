package domain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Confidence qualitative reliability of a calculated level set.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ErrStopWrongSide indicates a computed stop-loss on the profit side of entry.
// This is a logic defect, not a market condition: the position loop that
// observes it must halt loudly instead of trading through it.
var ErrStopWrongSide = errors.New("stop-loss is on the wrong side of entry")

// TakeProfit one profit-taking level with its share of the exit.
type TakeProfit struct {
	Price decimal.Decimal
	// ExitPercent share of the original position closed at this level, 0-100.
	ExitPercent decimal.Decimal
	// Filled set once the level has fired; a filled level never re-fires.
	Filled bool
}

// LevelSet protective and profit-taking prices for one position.
type LevelSet struct {
	StopLoss    decimal.Decimal
	TakeProfits [3]TakeProfit
	// ATR volatility measure the levels were derived from.
	ATR decimal.Decimal
	// ATRMultiplier stop offset multiplier selected by volatility bucket.
	ATRMultiplier decimal.Decimal
	Confidence    Confidence
}

// Validate checks the structural invariants of the level set against the
// entry price and side: the stop strictly on the loss side, take-profits
// strictly ordered in the trade's favor, exit percentages summing to 100.
func (l LevelSet) Validate(entry decimal.Decimal, side PositionSide) error {
	if entry.LessThanOrEqual(decimal.Zero) {
		return errors.New("entry price must be positive")
	}

	if side == PositionSideLong {
		if l.StopLoss.GreaterThanOrEqual(entry) {
			return errors.Wrapf(ErrStopWrongSide, "long stop %s >= entry %s", l.StopLoss, entry)
		}
		prev := entry
		for i, tp := range l.TakeProfits {
			if tp.Price.LessThanOrEqual(prev) {
				return errors.Errorf("long take-profit %d (%s) is not strictly above %s", i+1, tp.Price, prev)
			}
			prev = tp.Price
		}
	} else {
		if l.StopLoss.LessThanOrEqual(entry) {
			return errors.Wrapf(ErrStopWrongSide, "short stop %s <= entry %s", l.StopLoss, entry)
		}
		prev := entry
		for i, tp := range l.TakeProfits {
			if tp.Price.GreaterThanOrEqual(prev) {
				return errors.Errorf("short take-profit %d (%s) is not strictly below %s", i+1, tp.Price, prev)
			}
			prev = tp.Price
		}
	}

	sum := decimal.Zero
	for _, tp := range l.TakeProfits {
		sum = sum.Add(tp.ExitPercent)
	}
	if !sum.Equal(decimal.NewFromInt(100)) {
		return errors.Errorf("exit percentages must sum to 100, got %s", sum)
	}

	return nil
}

// StopDistance returns the absolute distance between entry and stop.
func (l LevelSet) StopDistance(entry decimal.Decimal) decimal.Decimal {
	return entry.Sub(l.StopLoss).Abs()
}
