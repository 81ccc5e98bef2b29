package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrCorruptPosition indicates position accounting went negative. This can
// only happen through a logic defect and must halt the position's loop.
var ErrCorruptPosition = errors.New("position remaining percent is corrupt")

// ErrDuplicatePosition is returned when a trade would open a second position
// for a (pair, side) that already has one.
var ErrDuplicatePosition = errors.New("position already open for pair and side")

// Position is the central mutable entity: one open trade with its protective
// levels and fill accounting. Mutation is serialized by the position manager
// (single writer per position).
type Position struct {
	ID         string          `json:"id"`
	Pair       Pair            `json:"pair"`
	Side       PositionSide    `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	// SizeUSD original position notional in quote currency.
	SizeUSD decimal.Decimal `json:"size_usd"`
	// Quantity original position size in base currency.
	Quantity decimal.Decimal `json:"quantity"`
	// RemainingPct share of the original size still open, 0-100.
	RemainingPct decimal.Decimal `json:"remaining_pct"`
	Levels       LevelSet        `json:"levels"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	FeesPaid     decimal.Decimal `json:"fees_paid"`
	// PeakPnLPct best unrealized PnL percent seen while open, for
	// drawdown-from-peak monitoring.
	PeakPnLPct float64    `json:"peak_pnl_pct"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// NewPosition constructs a validated open position.
func NewPosition(id string, pair Pair, side PositionSide, entry, sizeUSD decimal.Decimal, levels LevelSet, openedAt time.Time) (*Position, error) {
	if entry.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("entry price must be greater than zero")
	}
	if sizeUSD.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("position size must be greater than zero")
	}
	if err := levels.Validate(entry, side); err != nil {
		return nil, errors.Wrap(err, "invalid level set")
	}

	return &Position{
		ID:           id,
		Pair:         pair,
		Side:         side,
		EntryPrice:   entry,
		SizeUSD:      sizeUSD,
		Quantity:     sizeUSD.Div(entry),
		RemainingPct: decimal.NewFromInt(100),
		Levels:       levels,
		RealizedPnL:  decimal.Zero,
		FeesPaid:     decimal.Zero,
		OpenedAt:     openedAt,
	}, nil
}

// IsClosed reports whether nothing of the position remains open.
func (p *Position) IsClosed() bool {
	return p == nil || !p.RemainingPct.IsPositive()
}

// UnrealizedPnLPct returns the signed percent move from entry in the trade's
// favor at the given market price.
func (p *Position) UnrealizedPnLPct(price decimal.Decimal) float64 {
	if p == nil || p.EntryPrice.IsZero() {
		return 0
	}
	move, _ := price.Sub(p.EntryPrice).Div(p.EntryPrice).Float64()
	return move * 100 * float64(p.Side.Sign())
}

// UnrealizedPnL returns open PnL in quote currency for the still-open fraction.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	openQty := p.Quantity.Mul(p.RemainingPct).Div(decimal.NewFromInt(100))
	if p.Side == PositionSideShort {
		return p.EntryPrice.Sub(price).Mul(openQty)
	}
	return price.Sub(p.EntryPrice).Mul(openQty)
}

// Reduce decreases the remaining share by pct points and books the realized
// PnL and fee of the fill. A reduction that would take the remaining share
// negative returns ErrCorruptPosition without mutating anything.
func (p *Position) Reduce(pct, pnl, fee decimal.Decimal, at time.Time) error {
	if pct.LessThanOrEqual(decimal.Zero) {
		return errors.New("reduction percent must be positive")
	}
	left := p.RemainingPct.Sub(pct)
	if left.IsNegative() {
		return errors.Wrapf(ErrCorruptPosition, "reduce %s from remaining %s", pct, p.RemainingPct)
	}

	p.RemainingPct = left
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	p.FeesPaid = p.FeesPaid.Add(fee)
	if left.IsZero() {
		t := at
		p.ClosedAt = &t
	}
	return nil
}

// TightenStop moves the stop toward the market, never away. Returns true when
// the stop actually moved. A loosening request is ignored: trailing only
// ratchets in the protective direction.
func (p *Position) TightenStop(stop decimal.Decimal) bool {
	if p == nil || stop.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if p.Side == PositionSideLong {
		if stop.LessThanOrEqual(p.Levels.StopLoss) {
			return false
		}
	} else {
		if stop.GreaterThanOrEqual(p.Levels.StopLoss) {
			return false
		}
	}
	p.Levels.StopLoss = stop
	return true
}

// ObservePeak updates the best-seen unrealized PnL percent.
func (p *Position) ObservePeak(price decimal.Decimal) {
	if pnl := p.UnrealizedPnLPct(price); pnl > p.PeakPnLPct {
		p.PeakPnLPct = pnl
	}
}
