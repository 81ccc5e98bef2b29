// Package regime labels the current market condition and owns the shared
// regime snapshot refreshed on a fixed cadence.
package regime

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
	"github.com/quantforge/helm/pkg/indicators"
)

const (
	adxPeriod    = 14
	atrPeriod    = 14
	fastEMA      = 20
	slowEMA      = 50
	atrAvgWindow = 50

	// classification thresholds
	crisisATRRatio   = 2.0
	choppyATRRatio   = 1.3
	trendingADX      = 25.0
	directionlessADX = 20.0

	minCandles      = 120
	defaultInterval = "1h"
	defaultCadence  = 5 * time.Minute
)

// CandleSource supplies candle history for the classification pair.
type CandleSource interface {
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
}

// Inputs indicator readings the classification rule operates on.
type Inputs struct {
	ADX      float64
	PlusDI   float64
	MinusDI  float64
	FastMA   decimal.Decimal
	SlowMA   decimal.Decimal
	ATRRatio float64
}

// Classify applies the priority rule: crisis beats trend beats chop.
func Classify(in Inputs) domain.Regime {
	switch {
	case in.ATRRatio > crisisATRRatio:
		return domain.RegimeCrisis
	case in.ADX > trendingADX && in.PlusDI > in.MinusDI && in.FastMA.GreaterThan(in.SlowMA):
		return domain.RegimeTrendingUp
	case in.ADX > trendingADX && in.MinusDI > in.PlusDI && in.FastMA.LessThan(in.SlowMA):
		return domain.RegimeTrendingDown
	case in.ADX < directionlessADX && in.ATRRatio > choppyATRRatio:
		return domain.RegimeChoppy
	default:
		return domain.RegimeFlat
	}
}

// Classifier owns the global regime state. A single Run loop refreshes it;
// readers take immutable snapshot copies and never block on the refresh.
type Classifier struct {
	mu       sync.RWMutex
	current  domain.RegimeSnapshot
	source   CandleSource
	pair     domain.Pair
	interval string
	cadence  time.Duration
	logger   *zap.Logger
}

// NewClassifier creates a classifier for the reference pair (regime is
// global, classified off one liquid instrument).
func NewClassifier(source CandleSource, pair domain.Pair, interval string, cadence time.Duration, logger *zap.Logger) *Classifier {
	if interval == "" {
		interval = defaultInterval
	}
	if cadence <= 0 {
		cadence = defaultCadence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		current: domain.RegimeSnapshot{
			Regime: domain.RegimeFlat,
			Params: domain.RegimeFlat.Params(),
			At:     time.Now(),
		},
		source:   source,
		pair:     pair,
		interval: interval,
		cadence:  cadence,
		logger:   logger.With(zap.String("pair", pair.String())),
	}
}

// Snapshot returns an immutable copy of the current regime.
func (c *Classifier) Snapshot() domain.RegimeSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Refresh recomputes the regime from fresh candle data and publishes a new
// snapshot. A failed fetch leaves the previous snapshot in place.
func (c *Classifier) Refresh(ctx context.Context) error {
	candles, err := c.source.GetCandles(ctx, c.pair, c.interval, minCandles)
	if err != nil {
		return errors.Wrap(err, "fetch candles for regime classification")
	}
	if len(candles) < slowEMA+1 {
		return errors.Errorf("not enough candles for regime classification: %d", len(candles))
	}

	in, err := inputsFromCandles(candles)
	if err != nil {
		return errors.Wrap(err, "compute regime inputs")
	}

	regime := Classify(in)

	c.mu.Lock()
	prev := c.current.Regime
	c.current = domain.RegimeSnapshot{
		Regime:  regime,
		Params:  regime.Params(),
		Version: c.current.Version + 1,
		At:      time.Now(),
	}
	c.mu.Unlock()

	if regime != prev {
		c.logger.Info("market regime changed",
			zap.String("from", prev.String()),
			zap.String("to", regime.String()),
			zap.Float64("adx", in.ADX),
			zap.Float64("atr_ratio", in.ATRRatio))
	}
	return nil
}

// Run refreshes the regime on the configured cadence until ctx is cancelled.
func (c *Classifier) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial regime refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(c.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("regime refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

func inputsFromCandles(candles []domain.MarketCandle) (Inputs, error) {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	adx, plusDI, minusDI, err := indicators.CalculateADX(candles, adxPeriod)
	if err != nil {
		return Inputs{}, err
	}

	fast, err := indicators.CalculateEMA(closes, fastEMA)
	if err != nil {
		return Inputs{}, err
	}
	slow, err := indicators.CalculateEMA(closes, slowEMA)
	if err != nil {
		return Inputs{}, err
	}

	atrSeries, err := indicators.CalculateATR(candles, atrPeriod)
	if err != nil {
		return Inputs{}, err
	}

	ratio := atrRatio(atrSeries)

	return Inputs{
		ADX:      adx,
		PlusDI:   plusDI,
		MinusDI:  minusDI,
		FastMA:   fast[len(fast)-1],
		SlowMA:   slow[len(slow)-1],
		ATRRatio: ratio,
	}, nil
}

// atrRatio compares the latest ATR against its own trailing average.
func atrRatio(series []decimal.Decimal) float64 {
	if len(series) == 0 {
		return 1
	}

	window := series
	if len(window) > atrAvgWindow {
		window = window[len(window)-atrAvgWindow:]
	}
	sum := decimal.Zero
	for _, v := range window {
		sum = sum.Add(v)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(window))))
	if !avg.IsPositive() {
		return 1
	}

	ratio, _ := series[len(series)-1].Div(avg).Float64()
	return ratio
}
