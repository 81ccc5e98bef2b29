// Package marketdata abstracts the exchange market-data feed consumed by the
// engine: candles, last price and visible order-book depth.
package marketdata

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
)

// ErrNoData marks transient feed failures. The monitoring loop skips the
// cycle on this error instead of treating it as a risk signal.
var ErrNoData = errors.New("no market data available")

// Feed supplies market data for one venue.
type Feed interface {
	// GetCandles returns up to limit candles for the interval, oldest first.
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
	// GetPrice returns the last traded price.
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	// GetOrderBook returns the visible depth snapshot.
	GetOrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error)
}
