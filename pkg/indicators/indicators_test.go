package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/helm/internal/domain"
)

func constantCloses(n int, value int64) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.NewFromInt(value)
	}
	return out
}

func risingCloses(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.NewFromInt(100 + int64(i))
	}
	return out
}

// risingCandles climbs one point per bar with a constant 2-point true range.
func risingCandles(n int) []domain.MarketCandle {
	out := make([]domain.MarketCandle, n)
	for i := range out {
		cl := decimal.NewFromInt(100 + int64(i))
		out[i] = domain.MarketCandle{
			Open:   cl.Sub(decimal.NewFromInt(1)),
			High:   cl.Add(decimal.RequireFromString("0.5")),
			Low:    cl.Sub(decimal.RequireFromString("1.5")),
			Close:  cl,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return out
}

func flatCandles(n int) []domain.MarketCandle {
	out := make([]domain.MarketCandle, n)
	for i := range out {
		out[i] = domain.MarketCandle{
			Open:   decimal.NewFromInt(100),
			High:   decimal.NewFromInt(101),
			Low:    decimal.NewFromInt(99),
			Close:  decimal.NewFromInt(100),
			Volume: decimal.NewFromInt(1000),
		}
	}
	return out
}

func TestCalculateEMAConstantSeries(t *testing.T) {
	ema, err := CalculateEMA(constantCloses(30, 100), 20)
	require.NoError(t, err)
	require.NotEmpty(t, ema)

	last, _ := ema[len(ema)-1].Float64()
	assert.InDelta(t, 100, last, 1e-9)
}

func TestCalculateEMARejectsShortInput(t *testing.T) {
	_, err := CalculateEMA(constantCloses(10, 100), 20)
	require.Error(t, err)
}

func TestCalculateSMAConstantSeries(t *testing.T) {
	sma, err := CalculateSMA(constantCloses(30, 100), 20)
	require.NoError(t, err)
	require.NotEmpty(t, sma)

	last, _ := sma[len(sma)-1].Float64()
	assert.InDelta(t, 100, last, 1e-9)
}

func TestCalculateMACDTracksTrendSign(t *testing.T) {
	macd, err := CalculateMACD(risingCloses(60))
	require.NoError(t, err)
	require.NotEmpty(t, macd)
	assert.True(t, macd[len(macd)-1].IsPositive(), "macd %s in an uptrend", macd[len(macd)-1])

	_, err = CalculateMACD(risingCloses(20))
	require.Error(t, err)
}

func TestCalculateRSIBounds(t *testing.T) {
	rsi, err := CalculateRSI(risingCloses(40), 14)
	require.NoError(t, err)
	require.NotEmpty(t, rsi)

	last, _ := rsi[len(rsi)-1].Float64()
	assert.Greater(t, last, 50.0, "rsi of a pure uptrend")
	assert.LessOrEqual(t, last, 100.0)

	_, err = CalculateRSI(risingCloses(10), 14)
	require.Error(t, err)
}

func TestATRConstantTrueRange(t *testing.T) {
	atr, err := LatestATR(flatCandles(30), 14)
	require.NoError(t, err)

	v, _ := atr.Float64()
	assert.InDelta(t, 2.0, v, 1e-9)

	series, err := CalculateATR(flatCandles(30), 14)
	require.NoError(t, err)
	for _, s := range series {
		assert.True(t, s.IsPositive())
	}

	_, err = CalculateATR(flatCandles(10), 14)
	require.Error(t, err)
}

func TestCalculateADXDirectionalTrend(t *testing.T) {
	adx, plusDI, minusDI, err := CalculateADX(risingCandles(60), 14)
	require.NoError(t, err)

	assert.Greater(t, adx, 25.0, "adx %v for a monotonic uptrend", adx)
	assert.Greater(t, plusDI, minusDI)
	assert.InDelta(t, 0, minusDI, 1e-9)
}

func TestCalculateADXRejectsShortInput(t *testing.T) {
	_, _, _, err := CalculateADX(risingCandles(20), 14)
	require.Error(t, err)
}
