// Package swing finds confirmed recent price swings from OHLCV candles.
package swing

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
)

const (
	// fractalWing bars required on each side of a fractal extreme.
	fractalWing = 2
	// volumeAvgWindow bars used for the local average volume.
	volumeAvgWindow = 20

	defaultLookback    = 50
	defaultMinSwingPct = 0.02
)

// ErrInsufficientHistory is returned when there are not even enough bars for
// the fallback swing. With a short-but-usable window the detector degrades to
// the fallback instead of failing.
var ErrInsufficientHistory = errors.New("not enough candles for swing detection")

// Detector scans candle history for 5-bar fractal swings.
type Detector struct {
	lookback    int
	minSwingPct decimal.Decimal
	logger      *zap.Logger
}

// NewDetector creates a detector. Zero arguments select the defaults
// (50-bar lookback, 2% minimum swing).
func NewDetector(lookback int, minSwingPct float64, logger *zap.Logger) *Detector {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if minSwingPct <= 0 {
		minSwingPct = defaultMinSwingPct
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		lookback:    lookback,
		minSwingPct: decimal.NewFromFloat(minSwingPct),
		logger:      logger,
	}
}

type fractal struct {
	idx    int
	isHigh bool
	price  decimal.Decimal
}

// Detect returns the single highest-scoring swing in the lookback window.
// When no fractal survives the minimum-swing filter it returns the
// widest-range fallback swing with zero strength; callers must check
// Strength and ConfirmedByVolume before trusting the result.
func (d *Detector) Detect(candles []domain.MarketCandle) (domain.Swing, error) {
	if len(candles) < fractalWing*2+1 {
		return domain.Swing{}, errors.Wrapf(ErrInsufficientHistory, "got %d candles", len(candles))
	}

	window := candles
	if len(window) > d.lookback {
		window = window[len(window)-d.lookback:]
	}

	best := domain.Swing{}
	bestScore := -1.0

	for _, f := range d.findFractals(window) {
		sw, ok := d.swingForFractal(window, f)
		if !ok {
			continue
		}
		if score := d.score(window, f, sw); score > bestScore {
			sw.Strength = score
			best = sw
			bestScore = score
		}
	}

	if bestScore < 0 {
		d.logger.Debug("no fractal survived the swing filter, using widest-range fallback",
			zap.Int("bars", len(window)))
		return d.fallback(window), nil
	}

	return best, nil
}

// findFractals collects 5-bar fractal extremes, skipping the unconfirmed
// trailing bars that lack a full right wing.
func (d *Detector) findFractals(window []domain.MarketCandle) []fractal {
	var out []fractal
	for i := len(window) - 1 - fractalWing; i >= fractalWing; i-- {
		c := window[i]

		isHigh := true
		isLow := true
		for off := 1; off <= fractalWing; off++ {
			if !c.High.GreaterThan(window[i-off].High) || !c.High.GreaterThan(window[i+off].High) {
				isHigh = false
			}
			if !c.Low.LessThan(window[i-off].Low) || !c.Low.LessThan(window[i+off].Low) {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			out = append(out, fractal{idx: i, isHigh: true, price: c.High})
		}
		if isLow {
			out = append(out, fractal{idx: i, isHigh: false, price: c.Low})
		}
	}
	return out
}

// swingForFractal pairs the fractal with the nearest opposite extreme between
// the fractal bar and now, and applies the minimum-swing (ZigZag) filter.
func (d *Detector) swingForFractal(window []domain.MarketCandle, f fractal) (domain.Swing, bool) {
	opp := window[f.idx].Low
	if !f.isHigh {
		opp = window[f.idx].High
	}
	for i := f.idx; i < len(window); i++ {
		if f.isHigh {
			if window[i].Low.LessThan(opp) {
				opp = window[i].Low
			}
		} else {
			if window[i].High.GreaterThan(opp) {
				opp = window[i].High
			}
		}
	}

	high, low := f.price, opp
	if !f.isHigh {
		high, low = opp, f.price
	}
	if low.LessThanOrEqual(decimal.Zero) || !high.GreaterThan(low) {
		return domain.Swing{}, false
	}

	excursion := high.Sub(low).Div(low)
	if excursion.LessThan(d.minSwingPct) {
		return domain.Swing{}, false
	}

	return domain.Swing{
		High:              high,
		Low:               low,
		BarsAgo:           len(window) - 1 - f.idx,
		ConfirmedByVolume: d.volumeConfirmed(window, f.idx),
	}, true
}

// score combines recency, swing size and volume confirmation into 0-100.
// More recent fractals and wider excursions rank higher.
func (d *Detector) score(window []domain.MarketCandle, f fractal, sw domain.Swing) float64 {
	barsAgo := float64(sw.BarsAgo)
	recency := 50 * (1 - barsAgo/float64(len(window)))
	if recency < 0 {
		recency = 0
	}

	excursion, _ := sw.Range().Div(sw.Low).Float64()
	minSwing, _ := d.minSwingPct.Float64()
	size := 30 * (excursion / (minSwing * 5))
	if size > 30 {
		size = 30
	}

	volume := 0.0
	if sw.ConfirmedByVolume {
		volume = 20
	}

	return recency + size + volume
}

// volumeConfirmed reports whether the fractal bar's volume exceeds the
// average volume of the bars preceding it.
func (d *Detector) volumeConfirmed(window []domain.MarketCandle, idx int) bool {
	start := idx - volumeAvgWindow
	if start < 0 {
		start = 0
	}
	if idx == start {
		return false
	}

	sum := decimal.Zero
	for i := start; i < idx; i++ {
		sum = sum.Add(window[i].Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(idx - start)))

	return avg.IsPositive() && window[idx].Volume.GreaterThan(avg)
}

// fallback returns the widest-range swing over the window: highest high to
// lowest low, strength zero. BarsAgo measures the more recent of the two
// extremes, so the staleness signal never overstates.
func (d *Detector) fallback(window []domain.MarketCandle) domain.Swing {
	high := window[0].High
	low := window[0].Low
	highIdx, lowIdx := 0, 0

	for i, c := range window {
		if c.High.GreaterThan(high) {
			high = c.High
			highIdx = i
		}
		if c.Low.LessThan(low) {
			low = c.Low
			lowIdx = i
		}
	}

	recentIdx := highIdx
	if lowIdx > recentIdx {
		recentIdx = lowIdx
	}

	return domain.Swing{
		High:    high,
		Low:     low,
		BarsAgo: len(window) - 1 - recentIdx,
	}
}
