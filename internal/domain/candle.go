package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketCandle single OHLCV candlestick. Immutable once closed.
type MarketCandle struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// BookLevel one price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBook visible depth snapshot for one pair.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// DepthQuote returns total visible quote-denominated liquidity on the side
// an order of the given direction would consume (asks for buys, bids for sells).
func (b OrderBook) DepthQuote(side PositionSide) decimal.Decimal {
	levels := b.Asks
	if side == PositionSideShort {
		levels = b.Bids
	}

	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Price.Mul(lvl.Qty))
	}
	return total
}

// BestPrice returns the top-of-book price for the consuming side,
// or zero when that side is empty.
func (b OrderBook) BestPrice(side PositionSide) decimal.Decimal {
	levels := b.Asks
	if side == PositionSideShort {
		levels = b.Bids
	}
	if len(levels) == 0 {
		return decimal.Zero
	}
	return levels[0].Price
}

// Spread returns the ask-bid distance in price units, zero when either side is empty.
func (b OrderBook) Spread() decimal.Decimal {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price.Sub(b.Bids[0].Price)
}
