// Package assetrisk computes a composite risk multiplier per traded instrument.
package assetrisk

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
)

// reference values the sub-scores are measured against.
const (
	// volReferencePct realized volatility treated as score 1.0.
	volReferencePct = 5.0
	// compositeDivisor normalizes the product of sub-scores.
	compositeDivisor = 1.0

	defaultTTL = 15 * time.Minute
)

// AssetStats raw inputs for one asset's risk profile.
type AssetStats struct {
	// RealizedVolPct recent realized volatility in percent.
	RealizedVolPct float64
	// AvgVolumeQuote average traded volume in quote currency.
	AvgVolumeQuote decimal.Decimal
	// MarketCapUSD instrument market capitalization.
	MarketCapUSD decimal.Decimal
	// Spread current bid-ask spread in price units.
	Spread decimal.Decimal
	// Price current price, used to express the spread in basis points.
	Price decimal.Decimal
}

// StatsProvider supplies the raw statistics for an asset.
type StatsProvider interface {
	AssetStats(ctx context.Context, pair domain.Pair) (AssetStats, error)
}

// Scorer computes and caches per-asset risk profiles. Profiles are stale by
// design (TTL cadence) so position sizing does not thrash on tick noise.
type Scorer struct {
	mu       sync.RWMutex
	profiles map[string]domain.RiskProfile
	provider StatsProvider
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewScorer creates a scorer backed by the given stats provider.
func NewScorer(provider StatsProvider, ttl time.Duration, logger *zap.Logger) *Scorer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		profiles: make(map[string]domain.RiskProfile),
		provider: provider,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Profile returns the asset's risk profile, recomputing it when the cached
// copy has expired. Callers receive a value copy and never block a refresh.
func (s *Scorer) Profile(ctx context.Context, pair domain.Pair) (domain.RiskProfile, error) {
	key := pair.String()

	s.mu.RLock()
	cached, ok := s.profiles[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.ComputedAt) < s.ttl {
		return cached, nil
	}

	stats, err := s.provider.AssetStats(ctx, pair)
	if err != nil {
		if ok {
			// stale beats missing: keep sizing off the last good profile
			s.logger.Warn("asset stats refresh failed, serving stale profile",
				zap.String("pair", key), zap.Error(err))
			return cached, nil
		}
		return domain.RiskProfile{}, errors.Wrapf(err, "no risk profile available for %s", key)
	}

	profile := Score(stats)

	s.mu.Lock()
	s.profiles[key] = profile
	s.mu.Unlock()

	s.logger.Debug("asset risk profile refreshed",
		zap.String("pair", key),
		zap.Float64("composite", profile.Composite))

	return profile, nil
}

// Score maps raw asset statistics to a risk profile. Pure function: the
// threshold tables live here and nowhere else.
func Score(stats AssetStats) domain.RiskProfile {
	vol := clamp(stats.RealizedVolPct/volReferencePct, 0.5, 2.0)
	liq := liquidityScore(stats.AvgVolumeQuote)
	mcap := marketCapScore(stats.MarketCapUSD)
	spr := spreadScore(stats.Spread, stats.Price)

	composite := clamp(vol*liq*mcap*spr/compositeDivisor, domain.RiskCompositeMin, domain.RiskCompositeMax)

	return domain.RiskProfile{
		VolatilityScore: vol,
		LiquidityScore:  liq,
		MarketCapScore:  mcap,
		SpreadScore:     spr,
		Composite:       composite,
		MaxPositionPct:  clamp(0.20/composite, 0.05, 0.25),
		ComputedAt:      time.Now(),
	}
}

func liquidityScore(avgVolumeQuote decimal.Decimal) float64 {
	switch {
	case avgVolumeQuote.GreaterThanOrEqual(decimal.NewFromInt(100_000_000)):
		return 0.8
	case avgVolumeQuote.GreaterThanOrEqual(decimal.NewFromInt(10_000_000)):
		return 1.0
	case avgVolumeQuote.GreaterThanOrEqual(decimal.NewFromInt(1_000_000)):
		return 1.2
	default:
		return 1.5
	}
}

func marketCapScore(capUSD decimal.Decimal) float64 {
	switch {
	case capUSD.GreaterThanOrEqual(decimal.NewFromInt(10_000_000_000)):
		return 0.8
	case capUSD.GreaterThanOrEqual(decimal.NewFromInt(1_000_000_000)):
		return 1.0
	case capUSD.GreaterThanOrEqual(decimal.NewFromInt(100_000_000)):
		return 1.25
	default:
		return 1.5
	}
}

func spreadScore(spread, price decimal.Decimal) float64 {
	if price.LessThanOrEqual(decimal.Zero) || spread.IsNegative() {
		return 1.4
	}
	bps, _ := spread.Div(price).Mul(decimal.NewFromInt(10_000)).Float64()
	switch {
	case bps < 5:
		return 0.9
	case bps < 20:
		return 1.0
	case bps < 50:
		return 1.2
	default:
		return 1.4
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
