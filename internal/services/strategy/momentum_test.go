package strategy

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/helm/internal/domain"
)

type stubCandleSource struct {
	candles []domain.MarketCandle
	err     error
}

func (s *stubCandleSource) GetCandles(context.Context, domain.Pair, string, int) ([]domain.MarketCandle, error) {
	return s.candles, s.err
}

func candlesFromCloses(closes []float64) []domain.MarketCandle {
	out := make([]domain.MarketCandle, len(closes))
	for i, c := range closes {
		cl := decimal.NewFromFloat(c)
		out[i] = domain.MarketCandle{
			Open:   cl,
			High:   cl.Add(decimal.NewFromInt(1)),
			Low:    cl.Sub(decimal.NewFromInt(1)),
			Close:  cl,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return out
}

// zigzagTrend climbs (or falls) two steps forward, one step back, so the
// trend is clear but the RSI never saturates.
func zigzagTrend(n int, up bool) []domain.MarketCandle {
	closes := make([]float64, n)
	price := 1000.0
	for i := range closes {
		step := 2.0
		if i%2 == 0 {
			step = -1.0
		}
		if !up {
			step = -step
		}
		price += step
		closes[i] = price
	}
	return candlesFromCloses(closes)
}

func monotonic(n int, up bool) []domain.MarketCandle {
	closes := make([]float64, n)
	price := 1000.0
	for i := range closes {
		if up {
			price += 2
		} else {
			price -= 2
		}
		closes[i] = price
	}
	return candlesFromCloses(closes)
}

func testPair() domain.Pair {
	return domain.Pair{From: "BTC", To: "USDT"}
}

func testSnapshot() domain.RegimeSnapshot {
	return domain.RegimeSnapshot{
		Regime: domain.RegimeTrendingUp,
		Params: domain.RegimeTrendingUp.Params(),
	}
}

func TestGenerateSignalLongOnAlignedUptrend(t *testing.T) {
	p := NewMomentumProducer(&stubCandleSource{candles: zigzagTrend(120, true)}, "1h", nil)

	signal, err := p.GenerateSignal(context.Background(), testPair(), testSnapshot())
	require.NoError(t, err)
	require.NotNil(t, signal)

	assert.Equal(t, domain.PositionSideLong, signal.Side)
	assert.GreaterOrEqual(t, signal.Confidence, 0.6)
	assert.LessOrEqual(t, signal.Confidence, 0.95)
	assert.Contains(t, signal.Reason, "ema20/50")
}

func TestGenerateSignalShortOnAlignedDowntrend(t *testing.T) {
	p := NewMomentumProducer(&stubCandleSource{candles: zigzagTrend(120, false)}, "1h", nil)

	signal, err := p.GenerateSignal(context.Background(), testPair(), testSnapshot())
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, domain.PositionSideShort, signal.Side)
}

// A move that never pulls back saturates the RSI; the gate sits out the chase.
func TestGenerateSignalSkipsOverboughtMove(t *testing.T) {
	p := NewMomentumProducer(&stubCandleSource{candles: monotonic(120, true)}, "1h", nil)

	signal, err := p.GenerateSignal(context.Background(), testPair(), testSnapshot())
	require.NoError(t, err)
	assert.Nil(t, signal)
}

func TestGenerateSignalSkipsOversoldMove(t *testing.T) {
	p := NewMomentumProducer(&stubCandleSource{candles: monotonic(120, false)}, "1h", nil)

	signal, err := p.GenerateSignal(context.Background(), testPair(), testSnapshot())
	require.NoError(t, err)
	assert.Nil(t, signal)
}

func TestGenerateSignalNoSignalWithoutAlignment(t *testing.T) {
	flat := make([]float64, 120)
	for i := range flat {
		flat[i] = 1000
	}
	p := NewMomentumProducer(&stubCandleSource{candles: candlesFromCloses(flat)}, "1h", nil)

	signal, err := p.GenerateSignal(context.Background(), testPair(), testSnapshot())
	require.NoError(t, err)
	assert.Nil(t, signal)
}

func TestGenerateSignalErrors(t *testing.T) {
	p := NewMomentumProducer(&stubCandleSource{err: errors.New("exchange down")}, "1h", nil)
	_, err := p.GenerateSignal(context.Background(), testPair(), testSnapshot())
	require.Error(t, err)

	p = NewMomentumProducer(&stubCandleSource{candles: zigzagTrend(20, true)}, "1h", nil)
	_, err = p.GenerateSignal(context.Background(), testPair(), testSnapshot())
	require.Error(t, err)
}
