package marketdata

import (
	"context"
	"fmt"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
)

// BybitFeed implements Feed for Bybit spot via the V5 market API.
type BybitFeed struct {
	client *bybit.Client
}

// NewBybitFeed creates a Bybit market-data feed.
func NewBybitFeed() *BybitFeed {
	return &BybitFeed{client: bybit.NewClient()}
}

// GetCandles fetches kline data from Bybit, oldest first.
func (f *BybitFeed) GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	bybitInterval, err := convertIntervalToBybit(interval)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", interval)
	}

	result, err := f.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Interval: bybit.Interval(bybitInterval),
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", pair.String())
	}
	if len(result.Result.List) == 0 {
		return nil, errors.Wrapf(ErrNoData, "Bybit returned no klines for %s", pair.String())
	}

	return convertBybitKlines(result.Result.List)
}

// GetPrice fetches the last spot price from Bybit.
func (f *BybitFeed) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	symbol := bybit.SymbolV5(pair.Symbol())

	result, err := f.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch tickers from Bybit for %s", pair.String())
	}

	if len(result.Result.Spot.List) == 0 {
		return decimal.Decimal{}, errors.Wrapf(ErrNoData, "Bybit returned empty prices for %s", pair.String())
	}

	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

// GetOrderBook fetches the visible depth snapshot from Bybit.
func (f *BybitFeed) GetOrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error) {
	limit := depthLimit
	result, err := f.client.V5().Market().GetOrderbook(bybit.V5GetOrderbookParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Limit:    &limit,
	})
	if err != nil {
		return domain.OrderBook{}, errors.Wrapf(err, "failed to fetch depth from Bybit for %s", pair.String())
	}

	return convertBybitBook(result.Result.Bids, result.Result.Asks)
}

// convertBybitKlines parses the V5 kline list into candles. Bybit returns
// klines newest first; the output is reversed to chronological order.
func convertBybitKlines(klines []bybit.V5GetKlineItem) ([]domain.MarketCandle, error) {
	candles := make([]domain.MarketCandle, len(klines))
	for i, k := range klines {
		openTime, err := parseBybitTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse open price at index %d", i)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse high price at index %d", i)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse low price at index %d", i)
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse volume at index %d", i)
		}

		// Bybit has no close-time field; the open time stands in
		candles[len(klines)-1-i] = domain.MarketCandle{
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: openTime,
		}
	}
	return candles, nil
}

func convertBybitBook(bids, asks bybit.V5GetOrderbookBidAsks) (domain.OrderBook, error) {
	book := domain.OrderBook{
		Bids: make([]domain.BookLevel, 0, len(bids)),
		Asks: make([]domain.BookLevel, 0, len(asks)),
	}

	for _, b := range bids {
		price, err := decimal.NewFromString(b.Price)
		if err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse bid price")
		}
		qty, err := decimal.NewFromString(b.Quantity)
		if err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse bid quantity")
		}
		book.Bids = append(book.Bids, domain.BookLevel{Price: price, Qty: qty})
	}
	for _, a := range asks {
		price, err := decimal.NewFromString(a.Price)
		if err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse ask price")
		}
		qty, err := decimal.NewFromString(a.Quantity)
		if err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse ask quantity")
		}
		book.Asks = append(book.Asks, domain.BookLevel{Price: price, Qty: qty})
	}

	return book, nil
}

// convertIntervalToBybit maps "1m"/"1h"/"4h"/"1d"/"1w" style intervals to the
// Bybit V5 interval codes ("1", "60", "240", "D", "W").
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", errors.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	numberPart := interval[:len(interval)-1]

	var n int64
	for _, r := range numberPart {
		if r < '0' || r > '9' {
			return "", errors.Errorf("invalid interval number: %s", interval)
		}
		n = n*10 + int64(r-'0')
	}
	if n == 0 {
		return "", errors.Errorf("invalid interval number: %s", interval)
	}

	switch unit {
	case 'm':
		return numberPart, nil
	case 'h':
		return fmt.Sprintf("%d", n*60), nil
	case 'd':
		return "D", nil
	case 'w':
		return "W", nil
	default:
		return "", errors.Errorf("unsupported interval unit: %c", unit)
	}
}

// parseBybitTimestamp converts a millisecond timestamp string to time.Time.
func parseBybitTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	var msec int64
	if _, err := fmt.Sscanf(ts, "%d", &msec); err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec), nil
}
