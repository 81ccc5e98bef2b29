// Package execution simulates realistic order fills: slippage against
// visible depth, taker fees, latency, and multi-level partial exits.
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/helm/internal/domain"
)

// OrderRouter places real orders in live mode. Paper mode never touches it.
type OrderRouter interface {
	PlaceOrder(ctx context.Context, pair domain.Pair, side domain.PositionSide, quantity decimal.Decimal, orderType string) (decimal.Decimal, error)
}

// Config tunes the fill model.
type Config struct {
	// TakerFeePct fee applied to every simulated fill, e.g. 0.001 = 10 bps.
	TakerFeePct decimal.Decimal
	// SlippageCeilingPct upper bound on simulated slippage in percent.
	SlippageCeilingPct float64
	// ImpactFactor scales order-size-over-depth into slippage percent.
	ImpactFactor float64
	// Latency simulated delay before a fill is acknowledged.
	Latency time.Duration
	// Live routes orders through the OrderRouter instead of simulating.
	Live bool
}

// DefaultConfig returns the paper-trading fill model defaults.
func DefaultConfig() Config {
	return Config{
		TakerFeePct:        decimal.NewFromFloat(0.001),
		SlippageCeilingPct: 0.5,
		ImpactFactor:       10,
		Latency:            150 * time.Millisecond,
	}
}

// Fill one executed (partial) exit or entry.
type Fill struct {
	OrderID string
	// Level which trigger produced the fill: "entry", "tp1".."tp3", "sl", "close".
	Level string
	Price decimal.Decimal
	// Pct share of the original position size, 0-100.
	Pct decimal.Decimal
	PnL decimal.Decimal
	Fee decimal.Decimal
	At  time.Time
}

// Simulator applies the fill model. Position mutation happens through the
// position's own methods so the accounting invariants hold in one place.
type Simulator struct {
	cfg    Config
	router OrderRouter
	logger *zap.Logger
	now    func() time.Time
}

// NewSimulator creates a simulator. The router may be nil in paper mode.
func NewSimulator(cfg Config, router OrderRouter, logger *zap.Logger) (*Simulator, error) {
	if cfg.Live && router == nil {
		return nil, errors.New("live mode requires an order router")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{cfg: cfg, router: router, logger: logger, now: time.Now}, nil
}

// FillEntry simulates the entry fill for an order plan at the given market
// price and book, returning the effective entry price and the entry fee.
func (s *Simulator) FillEntry(ctx context.Context, plan domain.OrderPlan, price decimal.Decimal, book domain.OrderBook) (decimal.Decimal, decimal.Decimal, error) {
	fillPrice, err := s.execute(ctx, plan.Pair, plan.Side, plan.Quantity, price, book, false)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	fee := fillPrice.Mul(plan.Quantity).Mul(s.cfg.TakerFeePct)
	return fillPrice, fee, nil
}

// CheckExits evaluates the stop-loss and the unfilled take-profit levels
// against the current price and fills whatever triggered. The stop is checked
// first: on a bar that gaps through both, the conservative outcome wins.
// A filled level never re-fires and RemainingPct never goes negative.
func (s *Simulator) CheckExits(ctx context.Context, pos *domain.Position, price decimal.Decimal, book domain.OrderBook) ([]Fill, error) {
	if pos.IsClosed() {
		return nil, nil
	}

	if s.stopTriggered(pos, price) {
		fill, err := s.exitFill(ctx, pos, pos.Levels.StopLoss, pos.RemainingPct, "sl", book)
		if err != nil {
			return nil, err
		}
		return []Fill{fill}, nil
	}

	var fills []Fill
	for i := range pos.Levels.TakeProfits {
		tp := &pos.Levels.TakeProfits[i]
		if tp.Filled || !s.tpTriggered(pos, tp.Price, price) {
			continue
		}

		pct := tp.ExitPercent
		if pct.GreaterThan(pos.RemainingPct) {
			pct = pos.RemainingPct
		}
		if !pct.IsPositive() {
			tp.Filled = true
			continue
		}

		fill, err := s.exitFill(ctx, pos, tp.Price, pct, tpName(i), book)
		if err != nil {
			return fills, err
		}
		tp.Filled = true
		fills = append(fills, fill)

		if pos.IsClosed() {
			break
		}
	}

	return fills, nil
}

// ForceClose exits the whole remaining position at market, used for
// HIGH-risk verdicts and manual closes.
func (s *Simulator) ForceClose(ctx context.Context, pos *domain.Position, price decimal.Decimal, book domain.OrderBook) (Fill, error) {
	if pos.IsClosed() {
		return Fill{}, errors.New("position is already closed")
	}
	return s.exitFill(ctx, pos, price, pos.RemainingPct, "close", book)
}

func (s *Simulator) stopTriggered(pos *domain.Position, price decimal.Decimal) bool {
	if pos.Side == domain.PositionSideLong {
		return price.LessThanOrEqual(pos.Levels.StopLoss)
	}
	return price.GreaterThanOrEqual(pos.Levels.StopLoss)
}

func (s *Simulator) tpTriggered(pos *domain.Position, target, price decimal.Decimal) bool {
	if pos.Side == domain.PositionSideLong {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

// exitFill executes one partial exit and books it on the position.
func (s *Simulator) exitFill(ctx context.Context, pos *domain.Position, target, pct decimal.Decimal, level string, book domain.OrderBook) (Fill, error) {
	quantity := pos.Quantity.Mul(pct).Div(decimal.NewFromInt(100))

	// exits consume the opposite book side
	exitSide := domain.PositionSideShort
	if pos.Side == domain.PositionSideShort {
		exitSide = domain.PositionSideLong
	}

	fillPrice, err := s.execute(ctx, pos.Pair, exitSide, quantity, target, book, true)
	if err != nil {
		return Fill{}, err
	}

	pnl := fillPrice.Sub(pos.EntryPrice).Mul(quantity)
	if pos.Side == domain.PositionSideShort {
		pnl = pos.EntryPrice.Sub(fillPrice).Mul(quantity)
	}
	fee := fillPrice.Mul(quantity).Mul(s.cfg.TakerFeePct)

	at := s.now()
	if err := pos.Reduce(pct, pnl.Sub(fee), fee, at); err != nil {
		return Fill{}, errors.Wrapf(err, "book %s fill", level)
	}

	fill := Fill{
		OrderID: uuid.NewString(),
		Level:   level,
		Price:   fillPrice,
		Pct:     pct,
		PnL:     pnl.Sub(fee),
		Fee:     fee,
		At:      at,
	}

	s.logger.Info("simulated fill",
		zap.String("position", pos.ID),
		zap.String("level", level),
		zap.String("price", fillPrice.String()),
		zap.String("pct", pct.String()),
		zap.String("pnl", fill.PnL.String()))

	return fill, nil
}

// execute produces a fill price: routed in live mode, modeled otherwise.
// isExit flips the adverse slippage direction.
func (s *Simulator) execute(ctx context.Context, pair domain.Pair, side domain.PositionSide, quantity, target decimal.Decimal, book domain.OrderBook, isExit bool) (decimal.Decimal, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.New("fill quantity must be positive")
	}
	if target.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.New("fill target price must be positive")
	}

	if s.cfg.Live {
		return s.router.PlaceOrder(ctx, pair, side, quantity, "market")
	}

	if s.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(s.cfg.Latency):
		}
	}

	slip := s.slippagePct(quantity.Mul(target), book, side)
	adj := decimal.NewFromFloat(slip / 100)

	// slippage always moves the fill against the order: buys fill higher,
	// sells fill lower
	if side == domain.PositionSideLong {
		return target.Mul(decimal.NewFromInt(1).Add(adj)), nil
	}
	return target.Mul(decimal.NewFromInt(1).Sub(adj)), nil
}

// slippagePct scales order notional over visible depth, bounded by the ceiling.
func (s *Simulator) slippagePct(notional decimal.Decimal, book domain.OrderBook, side domain.PositionSide) float64 {
	depth := book.DepthQuote(side)
	if !depth.IsPositive() {
		// empty book: assume the worst allowed
		return s.cfg.SlippageCeilingPct
	}

	ratio, _ := notional.Div(depth).Float64()
	slip := ratio * s.cfg.ImpactFactor
	if slip > s.cfg.SlippageCeilingPct {
		return s.cfg.SlippageCeilingPct
	}
	if slip < 0 {
		return 0
	}
	return slip
}

func tpName(i int) string {
	switch i {
	case 0:
		return "tp1"
	case 1:
		return "tp2"
	default:
		return "tp3"
	}
}
