// Package strategy holds concrete signal producers. The engine consumes them
// through its SignalProducer interface only.
package strategy

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
	"github.com/quantforge/helm/pkg/indicators"
)

const (
	fastPeriod = 20
	slowPeriod = 50
	rsiPeriod  = 14

	candleWindow = 120

	// rsiOverbought / rsiOversold gate entries against exhausted moves.
	rsiOverbought = 70.0
	rsiOversold   = 30.0

	baseConfidence = 0.6
)

type candleSource interface {
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
}

// MomentumProducer emits signals on EMA crossovers confirmed by MACD and
// filtered by RSI. Confidence grows with the strength of the alignment.
type MomentumProducer struct {
	source   candleSource
	interval string
	logger   *zap.Logger
}

// NewMomentumProducer creates a momentum signal producer.
func NewMomentumProducer(source candleSource, interval string, logger *zap.Logger) *MomentumProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MomentumProducer{source: source, interval: interval, logger: logger}
}

// GenerateSignal returns a trade idea for the pair, or nil when the
// indicators do not align.
func (p *MomentumProducer) GenerateSignal(ctx context.Context, pair domain.Pair, snap domain.RegimeSnapshot) (*domain.Signal, error) {
	candles, err := p.source.GetCandles(ctx, pair, p.interval, candleWindow)
	if err != nil {
		return nil, errors.Wrap(err, "fetch candles for signal")
	}
	if len(candles) < slowPeriod+1 {
		return nil, errors.Errorf("need at least %d candles, got %d", slowPeriod+1, len(candles))
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast, err := indicators.CalculateEMA(closes, fastPeriod)
	if err != nil {
		return nil, errors.Wrap(err, "fast EMA")
	}
	slow, err := indicators.CalculateEMA(closes, slowPeriod)
	if err != nil {
		return nil, errors.Wrap(err, "slow EMA")
	}
	macd, err := indicators.CalculateMACD(closes)
	if err != nil {
		return nil, errors.Wrap(err, "MACD")
	}
	rsi, err := indicators.CalculateRSI(closes, rsiPeriod)
	if err != nil {
		return nil, errors.Wrap(err, "RSI")
	}
	if len(fast) == 0 || len(slow) == 0 || len(macd) == 0 || len(rsi) == 0 {
		return nil, errors.New("indicator series came back empty")
	}

	lastFast := fast[len(fast)-1]
	lastSlow := slow[len(slow)-1]
	lastMACD := macd[len(macd)-1]
	lastRSI, _ := rsi[len(rsi)-1].Float64()

	var side domain.PositionSide
	switch {
	case lastFast.GreaterThan(lastSlow) && lastMACD.IsPositive():
		if lastRSI >= rsiOverbought {
			return nil, nil
		}
		side = domain.PositionSideLong
	case lastFast.LessThan(lastSlow) && lastMACD.IsNegative():
		if lastRSI <= rsiOversold {
			return nil, nil
		}
		side = domain.PositionSideShort
	default:
		return nil, nil
	}

	confidence := baseConfidence + alignmentBoost(lastFast, lastSlow)

	p.logger.Debug("momentum signal",
		zap.String("pair", pair.String()),
		zap.String("side", side.String()),
		zap.Float64("confidence", confidence),
		zap.Float64("rsi", lastRSI),
		zap.String("regime", snap.Regime.String()))

	return &domain.Signal{
		Pair:       pair,
		Side:       side,
		Confidence: confidence,
		Reason: fmt.Sprintf("ema%d/%d crossover, macd %s, rsi %.1f",
			fastPeriod, slowPeriod, lastMACD.StringFixed(4), lastRSI),
	}, nil
}

// alignmentBoost adds up to 0.35 confidence proportional to the EMA spread,
// saturating at a 2% gap.
func alignmentBoost(fast, slow decimal.Decimal) float64 {
	if !slow.IsPositive() {
		return 0
	}
	gap, _ := fast.Sub(slow).Abs().Div(slow).Float64()
	boost := gap / 0.02 * 0.35
	if boost > 0.35 {
		boost = 0.35
	}
	return boost
}
