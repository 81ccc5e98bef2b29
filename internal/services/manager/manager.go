// Package manager runs the per-position control loop: poll market data,
// assess risk, execute trailing/tightening/closing actions.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
	"github.com/quantforge/helm/internal/services/execution"
	"github.com/quantforge/helm/internal/services/monitor"
	"github.com/quantforge/helm/internal/storage/trades"
	"github.com/quantforge/helm/pkg/retrier"
)

const (
	defaultInterval     = 45 * time.Second
	defaultFetchTimeout = 10 * time.Second

	candleInterval = "1h"
	candleLimit    = 60
	// refReturnBars bars over which the reference asset return is measured.
	refReturnBars = 4
)

type feed interface {
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	GetOrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error)
}

type assessor interface {
	Assess(in monitor.Inputs) (domain.RiskAssessment, error)
}

type simulator interface {
	CheckExits(ctx context.Context, pos *domain.Position, price decimal.Decimal, book domain.OrderBook) ([]execution.Fill, error)
	ForceClose(ctx context.Context, pos *domain.Position, price decimal.Decimal, book domain.OrderBook) (execution.Fill, error)
}

type regimeSource interface {
	Snapshot() domain.RegimeSnapshot
}

type tradeStore interface {
	Save(event trades.Event, pos domain.Position) error
}

type riskStore interface {
	Save(assessment domain.RiskAssessment) error
}

type pnlRecorder interface {
	RecordPnL(pnl decimal.Decimal)
}

// Manager supervises one monitoring goroutine per open position. Mutation of
// a position happens only inside its loop or with the loop already stopped,
// so there is a single writer per position by construction.
type Manager struct {
	feed    feed
	monitor assessor
	sim     simulator
	regimes regimeSource
	trades  tradeStore
	risks   riskStore
	pnls    pnlRecorder
	retry   *retrier.Retrier
	logger  *zap.Logger

	interval     time.Duration
	fetchTimeout time.Duration
	refPair      domain.Pair

	mu      sync.Mutex
	watches map[string]*watch
	wg      sync.WaitGroup
}

type watch struct {
	pos  *domain.Position
	stop chan struct{}
	done chan struct{}
	// stopOnce guards against double-close from racing exit paths.
	stopOnce sync.Once

	mu   sync.Mutex
	last *domain.RiskAssessment
}

func (w *watch) setAssessment(a domain.RiskAssessment) {
	w.mu.Lock()
	w.last = &a
	w.mu.Unlock()
}

func (w *watch) lastAssessment() (domain.RiskAssessment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return domain.RiskAssessment{}, false
	}
	return *w.last, true
}

func (w *watch) requestStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Option configures the manager.
type Option func(*Manager)

// WithInterval sets the monitoring cycle interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.interval = d
	}
}

// WithFetchTimeout sets the per-cycle market data fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.fetchTimeout = d
	}
}

// NewManager creates a position manager.
func NewManager(f feed, mon assessor, sim simulator, regimes regimeSource, tradeStore tradeStore, riskStore riskStore, pnls pnlRecorder, refPair domain.Pair, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		feed:         f,
		monitor:      mon,
		sim:          sim,
		regimes:      regimes,
		trades:       tradeStore,
		risks:        riskStore,
		pnls:         pnls,
		retry:        retrier.New(retrier.WithMaxRetries(2)),
		logger:       logger,
		interval:     defaultInterval,
		fetchTimeout: defaultFetchTimeout,
		refPair:      refPair,
		watches:      make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func key(pair domain.Pair, side domain.PositionSide) string {
	return pair.String() + ":" + side.String()
}

// HasOpen reports whether a position is currently watched for (pair, side).
func (m *Manager) HasOpen(pair domain.Pair, side domain.PositionSide) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[key(pair, side)]
	return ok
}

// Watch registers the position and starts its monitoring loop. A second
// position for the same (pair, side) is rejected with ErrDuplicatePosition.
func (m *Manager) Watch(ctx context.Context, pos *domain.Position) error {
	if pos == nil || pos.IsClosed() {
		return errors.New("cannot watch a closed position")
	}

	k := key(pos.Pair, pos.Side)

	m.mu.Lock()
	if _, ok := m.watches[k]; ok {
		m.mu.Unlock()
		return errors.Wrapf(domain.ErrDuplicatePosition, "%s", k)
	}
	w := &watch{
		pos:  pos,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.watches[k] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, k, w)

	return nil
}

// Close force-closes the position for (pair, side) at market. The monitoring
// loop is stopped synchronously first so a stale cycle can never re-evaluate
// the closed position.
func (m *Manager) Close(ctx context.Context, pair domain.Pair, side domain.PositionSide) error {
	m.mu.Lock()
	w, ok := m.watches[key(pair, side)]
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("no open position for %s %s", pair.String(), side.String())
	}

	w.requestStop()
	<-w.done

	if w.pos.IsClosed() {
		// the loop closed it before stopping
		return nil
	}

	price, book, err := m.fetchQuote(ctx, pair)
	if err != nil {
		return errors.Wrap(err, "fetch quote for manual close")
	}

	fill, err := m.sim.ForceClose(ctx, w.pos, price, book)
	if err != nil {
		return errors.Wrap(err, "manual close")
	}
	m.finalize(w.pos, fill)

	m.mu.Lock()
	delete(m.watches, key(pair, side))
	m.mu.Unlock()

	return nil
}

// Wait blocks until all monitoring loops have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// PositionUpdates returns the latest risk assessment of every watched
// position, for dashboards and monitoring consumers.
func (m *Manager) PositionUpdates() []domain.RiskAssessment {
	m.mu.Lock()
	watches := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	updates := make([]domain.RiskAssessment, 0, len(watches))
	for _, w := range watches {
		if a, ok := w.lastAssessment(); ok {
			updates = append(updates, a)
		}
	}
	return updates
}

// run is the monitoring loop for one position.
func (m *Manager) run(ctx context.Context, k string, w *watch) {
	logger := m.logger.With(zap.String("position", w.pos.ID), zap.String("key", k))
	defer func() {
		// an open position keeps its watch entry so HasOpen stays true until
		// Close actually fills the exit; only a closed position frees the slot
		m.mu.Lock()
		if w.pos.IsClosed() {
			delete(m.watches, k)
		}
		m.mu.Unlock()
		close(w.done)
		m.wg.Done()
	}()

	logger.Info("monitoring loop started",
		zap.Duration("interval", m.interval),
		zap.String("entry", w.pos.EntryPrice.String()))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("context done, stopping monitoring loop")
			return
		case <-w.stop:
			logger.Info("stop requested, monitoring loop exiting")
			return
		case <-ticker.C:
			done, err := m.cycle(ctx, w, logger)
			if err != nil {
				if errors.Is(err, domain.ErrCorruptPosition) || errors.Is(err, domain.ErrStopWrongSide) {
					// logic defect: halt this loop loudly, do not trade through it
					logger.Error("FATAL position state defect, halting monitoring loop", zap.Error(err))
					return
				}
				// transient: skip the cycle, retry next interval
				logger.Warn("monitoring cycle skipped", zap.Error(err))
				continue
			}
			if done {
				logger.Info("position fully closed, monitoring loop exiting",
					zap.String("realized_pnl", w.pos.RealizedPnL.String()),
					zap.String("fees", w.pos.FeesPaid.String()))
				return
			}
		}
	}
}

// cycle executes one monitoring pass. Returns done=true when the position
// fully closed. A data fetch failure is returned as an error and skipped by
// the caller; it is never escalated into a trading decision.
func (m *Manager) cycle(ctx context.Context, w *watch, logger *zap.Logger) (bool, error) {
	pos := w.pos

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	candles, err := retrier.DoWithData(m.retry, fetchCtx, func(ctx context.Context) ([]domain.MarketCandle, error) {
		return m.feed.GetCandles(ctx, pos.Pair, candleInterval, candleLimit)
	})
	if err != nil {
		return false, errors.Wrap(err, "fetch candles")
	}

	price, book, err := m.fetchQuote(fetchCtx, pos.Pair)
	if err != nil {
		return false, err
	}

	pos.ObservePeak(price)

	// passive exits first: TP/SL fills against the fresh quote
	fills, err := m.sim.CheckExits(ctx, pos, price, book)
	if err != nil {
		return false, errors.Wrap(err, "check exits")
	}
	for _, fill := range fills {
		m.persistFill(pos, fill)
	}
	if pos.IsClosed() {
		m.recordClose(pos)
		return true, nil
	}

	assessment, err := m.monitor.Assess(monitor.Inputs{
		Position:           pos,
		Candles:            candles,
		Price:              price,
		Regime:             m.regimes.Snapshot(),
		ReferenceReturnPct: m.referenceReturn(fetchCtx, pos.Pair),
		Now:                time.Now(),
	})
	if err != nil {
		return false, errors.Wrap(err, "risk assessment")
	}
	w.setAssessment(assessment)

	if m.risks != nil {
		if err := m.risks.Save(assessment); err != nil {
			logger.Warn("failed to persist risk assessment", zap.Error(err))
		}
	}

	return m.apply(ctx, pos, assessment, price, book, logger)
}

// apply executes the monitor's recommended action. A HIGH close preempts any
// pending passive exit.
func (m *Manager) apply(ctx context.Context, pos *domain.Position, assessment domain.RiskAssessment, price decimal.Decimal, book domain.OrderBook, logger *zap.Logger) (bool, error) {
	switch assessment.Action {
	case domain.ActionClose:
		logger.Warn("risk monitor ordered close",
			zap.Float64("score", assessment.Score),
			zap.String("level", string(assessment.Level)),
			zap.Float64("pnl_pct", assessment.PnLPct))

		fill, err := m.sim.ForceClose(ctx, pos, price, book)
		if err != nil {
			return false, errors.Wrap(err, "forced close")
		}
		m.finalize(pos, fill)
		return true, nil

	case domain.ActionTrailStop, domain.ActionTightenStop:
		suggested, err := decimal.NewFromString(assessment.SuggestedStop)
		if err != nil {
			return false, errors.Wrap(err, "parse suggested stop")
		}
		// the ratchet lives in TightenStop: a suggestion that loosens the
		// stop is dropped here
		if pos.TightenStop(suggested) {
			logger.Info("stop moved",
				zap.String("action", string(assessment.Action)),
				zap.String("stop", suggested.String()))
			if m.trades != nil {
				if err := m.trades.Save(trades.EventFill, *pos); err != nil {
					logger.Warn("failed to persist stop update", zap.Error(err))
				}
			}
		}
		return false, nil

	default:
		return false, nil
	}
}

func (m *Manager) fetchQuote(ctx context.Context, pair domain.Pair) (decimal.Decimal, domain.OrderBook, error) {
	price, err := retrier.DoWithData(m.retry, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return m.feed.GetPrice(ctx, pair)
	})
	if err != nil {
		return decimal.Zero, domain.OrderBook{}, errors.Wrap(err, "fetch price")
	}

	book, err := m.feed.GetOrderBook(ctx, pair)
	if err != nil {
		return decimal.Zero, domain.OrderBook{}, errors.Wrap(err, "fetch order book")
	}

	return price, book, nil
}

// referenceReturn measures the recent move of the reference asset for the
// correlation factor. Failures degrade to zero: a missing reference is not
// a risk signal.
func (m *Manager) referenceReturn(ctx context.Context, pair domain.Pair) float64 {
	if m.refPair.From == "" || m.refPair.Symbol() == pair.Symbol() {
		return 0
	}

	candles, err := m.feed.GetCandles(ctx, m.refPair, candleInterval, refReturnBars+1)
	if err != nil || len(candles) < 2 {
		return 0
	}

	first, _ := candles[0].Close.Float64()
	last, _ := candles[len(candles)-1].Close.Float64()
	if first <= 0 {
		return 0
	}
	return (last - first) / first * 100
}

func (m *Manager) persistFill(pos *domain.Position, fill execution.Fill) {
	if m.trades == nil {
		return
	}
	event := trades.EventFill
	if pos.IsClosed() {
		event = trades.EventClose
	}
	if err := m.trades.Save(event, *pos); err != nil {
		m.logger.Warn("failed to persist fill",
			zap.String("position", pos.ID),
			zap.String("level", fill.Level),
			zap.Error(err))
	}
}

func (m *Manager) finalize(pos *domain.Position, fill execution.Fill) {
	m.persistFill(pos, fill)
	m.recordClose(pos)
}

func (m *Manager) recordClose(pos *domain.Position) {
	if m.pnls != nil {
		m.pnls.RecordPnL(pos.RealizedPnL)
	}
}
