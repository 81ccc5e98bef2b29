// Package sizing combines equity, regime, asset risk and stop distance into
// a trade size.
package sizing

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
)

// Result sized trade with any non-fatal warnings raised on the way.
type Result struct {
	// SizeUSD position notional in quote currency.
	SizeUSD decimal.Decimal
	// Quantity position size in base currency.
	Quantity decimal.Decimal
	// RiskUSD quote amount actually at risk between entry and stop.
	RiskUSD decimal.Decimal
	// Warnings non-fatal conditions, e.g. the exchange minimum forced the
	// size above the risk-derived one.
	Warnings []string
}

// Sizer derives position size from the risk budget.
type Sizer struct {
	// minNotional exchange minimum order size in quote currency.
	minNotional decimal.Decimal
}

// NewSizer creates a sizer with the exchange minimum order notional.
func NewSizer(minNotional decimal.Decimal) *Sizer {
	return &Sizer{minNotional: minNotional}
}

// Size computes the trade size: risk budget from the regime, divided by the
// asset's composite risk score, divided by the stop distance, then clamped to
// [exchange minimum, equity × max position share]. Raising to the exchange
// minimum is recoverable and reported as a warning, never a rejection.
func (s *Sizer) Size(equity decimal.Decimal, snap domain.RegimeSnapshot, profile domain.RiskProfile, entry, stopDistance decimal.Decimal) (Result, error) {
	if equity.LessThanOrEqual(decimal.Zero) {
		return Result{}, errors.New("equity must be positive")
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return Result{}, errors.New("entry price must be positive")
	}
	if stopDistance.LessThanOrEqual(decimal.Zero) {
		return Result{}, errors.New("stop distance must be positive")
	}
	if profile.Composite < domain.RiskCompositeMin || profile.Composite > domain.RiskCompositeMax {
		return Result{}, errors.Errorf("composite risk score %f outside [%f, %f]",
			profile.Composite, domain.RiskCompositeMin, domain.RiskCompositeMax)
	}

	baseRisk := equity.Mul(decimal.NewFromFloat(snap.Params.RiskPerTradePct))
	adjustedRisk := baseRisk.Div(decimal.NewFromFloat(profile.Composite))

	// risk per unit is the stop distance, so quantity = risk / distance
	quantity := adjustedRisk.Div(stopDistance)
	sizeUSD := quantity.Mul(entry)

	var warnings []string

	maxSize := equity.Mul(decimal.NewFromFloat(profile.MaxPositionPct))
	if sizeUSD.GreaterThan(maxSize) {
		sizeUSD = maxSize
		quantity = sizeUSD.Div(entry)
	}

	if sizeUSD.LessThan(s.minNotional) {
		warnings = append(warnings,
			"size raised to exchange minimum, risk/reward is degraded for this trade")
		sizeUSD = s.minNotional
		quantity = sizeUSD.Div(entry)
	}

	riskUSD := quantity.Mul(stopDistance)

	return Result{
		SizeUSD:  sizeUSD,
		Quantity: quantity,
		RiskUSD:  riskUSD,
		Warnings: warnings,
	}, nil
}
