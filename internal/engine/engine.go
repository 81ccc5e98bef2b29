// Package engine turns trade signals into sized, protected orders and hands
// opened positions to the position manager.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
	"github.com/quantforge/helm/internal/services/allocation"
	"github.com/quantforge/helm/internal/services/limits"
	"github.com/quantforge/helm/internal/services/sizing"
	"github.com/quantforge/helm/internal/storage/trades"
	"github.com/quantforge/helm/pkg/indicators"
)

const (
	atrPeriod    = 14
	candleWindow = 120
	// atrElevatedRatio latest ATR over its window average above which
	// volatility is considered elevated for allocation purposes.
	atrElevatedRatio = 1.3
)

// ErrLowConfidence is returned when a signal's confidence is below the
// current regime's minimum.
var ErrLowConfidence = errors.New("signal confidence below regime minimum")

// ErrLossLimitBreached is returned when the realized daily loss has reached
// the current loss ceiling and new trades are blocked.
var ErrLossLimitBreached = errors.New("daily loss limit breached, new trades blocked")

// SignalProducer generates trade ideas for a pair under the current regime.
// The engine only ever sees this interface; concrete strategies stay behind it.
type SignalProducer interface {
	GenerateSignal(ctx context.Context, pair domain.Pair, snap domain.RegimeSnapshot) (*domain.Signal, error)
}

type feed interface {
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	GetOrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error)
}

type swingDetector interface {
	Detect(candles []domain.MarketCandle) (domain.Swing, error)
}

type levelCalculator interface {
	Calculate(sw domain.Swing, entry decimal.Decimal, side domain.PositionSide, atr decimal.Decimal, alloc domain.AllocationPlan) (domain.LevelSet, error)
}

type riskScorer interface {
	Profile(ctx context.Context, pair domain.Pair) (domain.RiskProfile, error)
}

type positionSizer interface {
	Size(equity decimal.Decimal, snap domain.RegimeSnapshot, profile domain.RiskProfile, entry, stopDistance decimal.Decimal) (sizing.Result, error)
}

type limitCalculator interface {
	Compute(equity decimal.Decimal, snap domain.RegimeSnapshot) limits.Limits
	DailyPnL() decimal.Decimal
	ConsecutiveLosses() int
}

type allocationPlanner interface {
	Plan(in allocation.Inputs) domain.AllocationPlan
}

type regimeSource interface {
	Snapshot() domain.RegimeSnapshot
}

type entryFiller interface {
	FillEntry(ctx context.Context, plan domain.OrderPlan, price decimal.Decimal, book domain.OrderBook) (decimal.Decimal, decimal.Decimal, error)
}

type positionManager interface {
	Watch(ctx context.Context, pos *domain.Position) error
	HasOpen(pair domain.Pair, side domain.PositionSide) bool
}

type tradeStore interface {
	Save(event trades.Event, pos domain.Position) error
}

type equitySource interface {
	Equity(ctx context.Context) (decimal.Decimal, error)
}

// StaticEquity is an equitySource with a fixed paper-trading balance.
type StaticEquity decimal.Decimal

// Equity returns the fixed balance.
func (e StaticEquity) Equity(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(e), nil
}

// Engine owns the open-trade pipeline: gate, detect, protect, size, allocate,
// fill, hand off.
type Engine struct {
	feed     feed
	swings   swingDetector
	levels   levelCalculator
	scorer   riskScorer
	sizer    positionSizer
	limits   limitCalculator
	planner  allocationPlanner
	regimes  regimeSource
	filler   entryFiller
	manager  positionManager
	trades   tradeStore
	equities equitySource
	logger   *zap.Logger

	interval string
	nowFunc  func() time.Time
}

// NewEngine wires the trade pipeline.
func NewEngine(f feed, swings swingDetector, lvls levelCalculator, scorer riskScorer, sizer positionSizer, lims limitCalculator, planner allocationPlanner, regimes regimeSource, filler entryFiller, mgr positionManager, tradeStore tradeStore, equities equitySource, interval string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval == "" {
		interval = "1h"
	}
	return &Engine{
		feed:     f,
		swings:   swings,
		levels:   lvls,
		scorer:   scorer,
		sizer:    sizer,
		limits:   lims,
		planner:  planner,
		regimes:  regimes,
		filler:   filler,
		manager:  mgr,
		trades:   tradeStore,
		equities: equities,
		logger:   logger,
		interval: interval,
		nowFunc:  time.Now,
	}
}

// ProposeTrade runs the gates and the sizing pipeline for a signal and
// returns a complete order plan. Rejections come back as errors; warnings
// that do not block the trade travel inside the plan.
func (e *Engine) ProposeTrade(ctx context.Context, signal domain.Signal) (domain.OrderPlan, error) {
	logger := e.logger.With(
		zap.String("pair", signal.Pair.String()),
		zap.String("side", signal.Side.String()))

	snap := e.regimes.Snapshot()

	if signal.Confidence < snap.Params.MinConfidence {
		return domain.OrderPlan{}, errors.Wrapf(ErrLowConfidence,
			"confidence %.2f < %.2f required in %s regime",
			signal.Confidence, snap.Params.MinConfidence, snap.Regime.String())
	}

	if e.manager.HasOpen(signal.Pair, signal.Side) {
		return domain.OrderPlan{}, errors.Wrapf(domain.ErrDuplicatePosition,
			"%s %s", signal.Pair.String(), signal.Side.String())
	}

	equity, err := e.equities.Equity(ctx)
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "fetch equity")
	}

	lims := e.limits.Compute(equity, snap)
	if dayPnL := e.limits.DailyPnL(); dayPnL.Neg().GreaterThanOrEqual(lims.Daily) {
		return domain.OrderPlan{}, errors.Wrapf(ErrLossLimitBreached,
			"daily pnl %s against ceiling %s", dayPnL.String(), lims.Daily.String())
	}

	candles, err := e.feed.GetCandles(ctx, signal.Pair, e.interval, candleWindow)
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "fetch candles")
	}

	price, err := e.feed.GetPrice(ctx, signal.Pair)
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "fetch price")
	}

	sw, err := e.swings.Detect(candles)
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "detect swing")
	}

	atr, err := indicators.LatestATR(candles, atrPeriod)
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "compute ATR")
	}

	alloc := e.planner.Plan(allocation.Inputs{
		Momentum:          signal.Confidence,
		Regime:            snap.Regime,
		HighVolatility:    atrElevated(candles, atr),
		ConsecutiveLosses: e.limits.ConsecutiveLosses(),
	})

	levelSet, err := e.levels.Calculate(sw, price, signal.Side, atr, alloc)
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "calculate levels")
	}

	profile, err := e.scorer.Profile(ctx, signal.Pair)
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "asset risk profile")
	}

	sized, err := e.sizer.Size(equity, snap, profile, price, levelSet.StopDistance(price))
	if err != nil {
		return domain.OrderPlan{}, errors.Wrap(err, "size position")
	}

	warnings := sized.Warnings
	if sw.IsFallback() {
		warnings = append(warnings, "no confirmed swing in lookback, levels derived from widest range")
	}

	logger.Info("trade proposed",
		zap.String("regime", snap.Regime.String()),
		zap.Float64("confidence", signal.Confidence),
		zap.Float64("composite_risk", profile.Composite),
		zap.String("size_usd", sized.SizeUSD.String()),
		zap.String("stop", levelSet.StopLoss.String()),
		zap.Int("warnings", len(warnings)))

	return domain.OrderPlan{
		Pair:     signal.Pair,
		Side:     signal.Side,
		SizeUSD:  sized.SizeUSD,
		Quantity: sized.Quantity,
		Levels:   levelSet,
		Alloc:    alloc,
		Warnings: warnings,
	}, nil
}

// OpenPosition fills the plan's entry, persists the opened position and
// starts its monitoring loop.
func (e *Engine) OpenPosition(ctx context.Context, plan domain.OrderPlan) (*domain.Position, error) {
	price, err := e.feed.GetPrice(ctx, plan.Pair)
	if err != nil {
		return nil, errors.Wrap(err, "fetch price for entry")
	}
	book, err := e.feed.GetOrderBook(ctx, plan.Pair)
	if err != nil {
		return nil, errors.Wrap(err, "fetch order book for entry")
	}

	fillPrice, fee, err := e.filler.FillEntry(ctx, plan, price, book)
	if err != nil {
		return nil, errors.Wrap(err, "fill entry")
	}

	pos, err := domain.NewPosition(
		uuid.NewString(),
		plan.Pair,
		plan.Side,
		fillPrice,
		fillPrice.Mul(plan.Quantity),
		plan.Levels,
		e.nowFunc(),
	)
	if err != nil {
		// entry slippage can push the fill through a tight stop; the trade
		// is abandoned rather than opened already broken
		return nil, errors.Wrap(err, "construct position")
	}
	pos.FeesPaid = fee

	if e.trades != nil {
		if err := e.trades.Save(trades.EventOpen, *pos); err != nil {
			e.logger.Warn("failed to persist opened position", zap.Error(err))
		}
	}

	if err := e.manager.Watch(ctx, pos); err != nil {
		return nil, errors.Wrap(err, "start position monitoring")
	}

	e.logger.Info("position opened",
		zap.String("position", pos.ID),
		zap.String("pair", pos.Pair.String()),
		zap.String("side", pos.Side.String()),
		zap.String("entry", pos.EntryPrice.String()),
		zap.String("size_usd", pos.SizeUSD.String()))

	return pos, nil
}

// Run polls the producer for each pair on the cadence until the context is
// done. Rejected signals are logged and dropped; only context cancellation
// stops the loop.
func (e *Engine) Run(ctx context.Context, producer SignalProducer, pairs []domain.Pair, cadence time.Duration) error {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := e.regimes.Snapshot()
			for _, pair := range pairs {
				e.evaluatePair(ctx, producer, pair, snap)
			}
		}
	}
}

func (e *Engine) evaluatePair(ctx context.Context, producer SignalProducer, pair domain.Pair, snap domain.RegimeSnapshot) {
	signal, err := producer.GenerateSignal(ctx, pair, snap)
	if err != nil {
		e.logger.Warn("signal generation failed",
			zap.String("pair", pair.String()),
			zap.Error(err))
		return
	}
	if signal == nil {
		return
	}

	plan, err := e.ProposeTrade(ctx, *signal)
	if err != nil {
		if errors.Is(err, ErrLowConfidence) ||
			errors.Is(err, ErrLossLimitBreached) ||
			errors.Is(err, domain.ErrDuplicatePosition) {
			e.logger.Info("signal rejected",
				zap.String("pair", signal.Pair.String()),
				zap.String("reason", err.Error()))
			return
		}
		e.logger.Error("trade proposal failed",
			zap.String("pair", signal.Pair.String()),
			zap.Error(err))
		return
	}

	if _, err := e.OpenPosition(ctx, plan); err != nil {
		e.logger.Error("failed to open position",
			zap.String("pair", signal.Pair.String()),
			zap.Error(err))
	}
}

// atrElevated compares the latest ATR against its average over the window.
func atrElevated(candles []domain.MarketCandle, latest decimal.Decimal) bool {
	series, err := indicators.CalculateATR(candles, atrPeriod)
	if err != nil || len(series) == 0 {
		return false
	}

	sum := decimal.Zero
	for _, v := range series {
		sum = sum.Add(v)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(series))))
	if !avg.IsPositive() {
		return false
	}

	ratio, _ := latest.Div(avg).Float64()
	return ratio >= atrElevatedRatio
}
