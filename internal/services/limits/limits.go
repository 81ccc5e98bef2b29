// Package limits derives dynamic session and daily loss ceilings from recent
// PnL volatility. The moving ceiling replaces the earlier fixed-dollar
// limit, which broke as soon as account size or volatility drifted.
package limits

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantforge/helm/internal/domain"
)

const (
	// sessionFraction session window share of the daily ceiling.
	sessionFraction = 0.6
	// variance ceiling is 2 standard deviations of the rolling PnL.
	varianceSigmas = 2.0

	// clamp bounds as fractions of equity.
	floorPct   = 0.01
	ceilingPct = 0.05

	defaultWindow = 30
)

// Calculator produces loss ceilings from a rolling window of realized PnL
// observations and tracks the day's running total and losing streak.
// Safe for concurrent use.
type Calculator struct {
	mu      sync.RWMutex
	window  int
	pnls    []decimal.Decimal
	day     time.Time
	dayPnL  decimal.Decimal
	lossRun int
	nowFunc func() time.Time
}

// NewCalculator creates a calculator with the given rolling window size.
func NewCalculator(window int) *Calculator {
	if window <= 0 {
		window = defaultWindow
	}
	return &Calculator{window: window, nowFunc: time.Now}
}

// RecordPnL appends a realized PnL observation to the rolling window and the
// daily ledger, and maintains the losing streak counter.
func (c *Calculator) RecordPnL(pnl decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pnls = append(c.pnls, pnl)
	if len(c.pnls) > c.window {
		c.pnls = c.pnls[len(c.pnls)-c.window:]
	}

	c.rolloverLocked()
	c.dayPnL = c.dayPnL.Add(pnl)
	if pnl.IsNegative() {
		c.lossRun++
	} else {
		c.lossRun = 0
	}
}

// DailyPnL returns the realized PnL accumulated so far today.
func (c *Calculator) DailyPnL() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.dayPnL
}

// ConsecutiveLosses returns the current losing streak length.
func (c *Calculator) ConsecutiveLosses() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lossRun
}

func (c *Calculator) rolloverLocked() {
	today := c.nowFunc().Truncate(24 * time.Hour)
	if !today.Equal(c.day) {
		c.day = today
		c.dayPnL = decimal.Zero
	}
}

// Limits loss ceilings in quote currency.
type Limits struct {
	// Session ceiling for the current trading session.
	Session decimal.Decimal
	// Daily ceiling for the whole day.
	Daily decimal.Decimal
}

// Compute derives the ceilings: min(2×stddev of rolling PnL, equity×regime
// daily cap), session-scaled, clamped to [1%, 5%] of equity. The clamp holds
// for arbitrarily extreme PnL volatility inputs.
func (c *Calculator) Compute(equity decimal.Decimal, snap domain.RegimeSnapshot) Limits {
	if equity.LessThanOrEqual(decimal.Zero) {
		return Limits{Session: decimal.Zero, Daily: decimal.Zero}
	}

	varianceLimit := decimal.NewFromFloat(varianceSigmas * c.pnlStdDev())
	regimeLimit := equity.Mul(decimal.NewFromFloat(snap.Params.MaxDailyLossPct))

	daily := regimeLimit
	// no PnL history yet means no variance signal; fall back to the regime cap
	if varianceLimit.IsPositive() && varianceLimit.LessThan(daily) {
		daily = varianceLimit
	}

	floor := equity.Mul(decimal.NewFromFloat(floorPct))
	ceiling := equity.Mul(decimal.NewFromFloat(ceilingPct))

	// session scaling applies to the raw ceiling; the clamp comes last
	session := clampDecimal(daily.Mul(decimal.NewFromFloat(sessionFraction)), floor, ceiling)
	daily = clampDecimal(daily, floor, ceiling)

	return Limits{Session: session, Daily: daily}
}

func (c *Calculator) pnlStdDev() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.pnls)
	if n < 2 {
		return 0
	}

	mean := 0.0
	for _, p := range c.pnls {
		f, _ := p.Float64()
		mean += f
	}
	mean /= float64(n)

	variance := 0.0
	for _, p := range c.pnls {
		f, _ := p.Float64()
		variance += (f - mean) * (f - mean)
	}
	variance /= float64(n - 1)

	return math.Sqrt(variance)
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
