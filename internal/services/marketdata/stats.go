package marketdata

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
	"github.com/quantforge/helm/internal/services/assetrisk"
)

const (
	statsInterval = "1h"
	statsWindow   = 72
	// barsPerDay scales hourly bar volatility to a daily figure.
	barsPerDay = 24
)

// StatsProvider derives asset risk statistics from the live feed. Market
// capitalization has no exchange endpoint and comes from a static table.
type StatsProvider struct {
	feed Feed
	// marketCaps per base currency symbol, in USD.
	marketCaps map[string]decimal.Decimal
}

// NewStatsProvider creates a stats provider over the given feed.
func NewStatsProvider(feed Feed, marketCaps map[string]decimal.Decimal) *StatsProvider {
	if marketCaps == nil {
		marketCaps = map[string]decimal.Decimal{}
	}
	return &StatsProvider{feed: feed, marketCaps: marketCaps}
}

// AssetStats gathers the raw inputs for the asset risk scorer.
func (p *StatsProvider) AssetStats(ctx context.Context, pair domain.Pair) (assetrisk.AssetStats, error) {
	candles, err := p.feed.GetCandles(ctx, pair, statsInterval, statsWindow)
	if err != nil {
		return assetrisk.AssetStats{}, errors.Wrap(err, "fetch candles for asset stats")
	}
	if len(candles) < 2 {
		return assetrisk.AssetStats{}, errors.Wrapf(ErrNoData, "only %d candles for %s", len(candles), pair.String())
	}

	book, err := p.feed.GetOrderBook(ctx, pair)
	if err != nil {
		return assetrisk.AssetStats{}, errors.Wrap(err, "fetch order book for asset stats")
	}

	price := candles[len(candles)-1].Close

	return assetrisk.AssetStats{
		RealizedVolPct: realizedVolPct(candles),
		AvgVolumeQuote: avgVolumeQuote(candles),
		MarketCapUSD:   p.marketCaps[pair.From],
		Spread:         book.Spread(),
		Price:          price,
	}, nil
}

// realizedVolPct is the standard deviation of bar returns scaled to a daily
// percent figure.
func realizedVolPct(candles []domain.MarketCandle) float64 {
	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, _ := candles[i-1].Close.Float64()
		cur, _ := candles[i].Close.Float64()
		if prev <= 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(barsPerDay) * 100
}

func avgVolumeQuote(candles []domain.MarketCandle) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Volume.Mul(c.Close))
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}
