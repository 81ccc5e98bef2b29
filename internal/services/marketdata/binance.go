package marketdata

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
)

const depthLimit = 20

// BinanceFeed implements Feed for Binance.
type BinanceFeed struct {
	client *binance.Client
}

// NewBinanceFeed creates a Binance market-data feed. Market data endpoints
// work with empty credentials.
func NewBinanceFeed(apiKey, apiSecret string) *BinanceFeed {
	return &BinanceFeed{client: binance.NewClient(apiKey, apiSecret)}
}

// GetCandles fetches kline data from Binance.
func (f *BinanceFeed) GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	klines, err := f.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair.String())
	}

	result := make([]domain.MarketCandle, len(klines))
	for i, k := range klines {
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

		result[i] = domain.MarketCandle{
			OpenTime:  time.Unix(0, k.OpenTime*int64(time.Millisecond)),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.Unix(0, k.CloseTime*int64(time.Millisecond)),
		}
	}

	return result, nil
}

// GetPrice fetches the last price from Binance.
func (f *BinanceFeed) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	prices, err := f.client.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch price from Binance for %s", pair.String())
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Wrapf(ErrNoData, "Binance returned empty prices for %s", pair.String())
	}

	return decimal.NewFromString(prices[0].Price)
}

// GetOrderBook fetches the visible depth snapshot from Binance.
func (f *BinanceFeed) GetOrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error) {
	depth, err := f.client.NewDepthService().Symbol(pair.Symbol()).Limit(depthLimit).Do(ctx)
	if err != nil {
		return domain.OrderBook{}, errors.Wrapf(err, "failed to fetch depth from Binance for %s", pair.String())
	}

	book := domain.OrderBook{
		Bids: make([]domain.BookLevel, 0, len(depth.Bids)),
		Asks: make([]domain.BookLevel, 0, len(depth.Asks)),
	}

	for _, b := range depth.Bids {
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
	for _, a := range depth.Asks {
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
