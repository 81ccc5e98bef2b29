package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/helm/internal/domain"
)

// frictionless fills: no fee, no slippage, no latency.
func frictionlessConfig() Config {
	return Config{TakerFeePct: decimal.Zero}
}

func newTestSimulator(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg, nil, nil)
	require.NoError(t, err)
	return sim
}

// ladderPosition opens a long: entry 100, notional 1000 (quantity 10),
// stop 93, take-profits 105/110/120 at 40/30/30.
func ladderPosition(t *testing.T) *domain.Position {
	t.Helper()
	levels := domain.LevelSet{
		StopLoss: decimal.NewFromInt(93),
		TakeProfits: [3]domain.TakeProfit{
			{Price: decimal.NewFromInt(105), ExitPercent: decimal.NewFromInt(40)},
			{Price: decimal.NewFromInt(110), ExitPercent: decimal.NewFromInt(30)},
			{Price: decimal.NewFromInt(120), ExitPercent: decimal.NewFromInt(30)},
		},
	}
	pos, err := domain.NewPosition("pos-1", domain.Pair{From: "BTC", To: "USDT"},
		domain.PositionSideLong, decimal.NewFromInt(100), decimal.NewFromInt(1000),
		levels, time.Now())
	require.NoError(t, err)
	return pos
}

func TestCheckExitsTakeProfitLadder(t *testing.T) {
	sim := newTestSimulator(t, frictionlessConfig())
	pos := ladderPosition(t)
	ctx := context.Background()

	fills, err := sim.CheckExits(ctx, pos, decimal.NewFromInt(105), domain.OrderBook{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "tp1", fills[0].Level)
	assert.True(t, fills[0].Pct.Equal(decimal.NewFromInt(40)))
	assert.True(t, fills[0].PnL.Equal(decimal.NewFromInt(20)), "pnl %s", fills[0].PnL)
	assert.True(t, pos.RemainingPct.Equal(decimal.NewFromInt(60)))

	// a filled level never re-fires
	fills, err = sim.CheckExits(ctx, pos, decimal.NewFromInt(105), domain.OrderBook{})
	require.NoError(t, err)
	assert.Empty(t, fills)

	// one bar through both remaining targets fills both
	fills, err = sim.CheckExits(ctx, pos, decimal.NewFromInt(120), domain.OrderBook{})
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "tp2", fills[0].Level)
	assert.Equal(t, "tp3", fills[1].Level)

	assert.True(t, pos.IsClosed())
	require.NotNil(t, pos.ClosedAt)
	// 40% out at +5, 30% at +10, 30% at +20
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(110)), "realized %s", pos.RealizedPnL)
}

// When a trailed stop sits above TP1 and one bar satisfies both triggers,
// the stop wins and takes the whole remainder.
func TestCheckExitsStopBeatsTakeProfit(t *testing.T) {
	sim := newTestSimulator(t, frictionlessConfig())
	pos := ladderPosition(t)

	require.True(t, pos.TightenStop(decimal.NewFromInt(106)))

	fills, err := sim.CheckExits(context.Background(), pos, decimal.RequireFromString("105.5"), domain.OrderBook{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "sl", fills[0].Level)
	assert.True(t, fills[0].Pct.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.IsClosed())
}

func TestCheckExitsStopLoss(t *testing.T) {
	sim := newTestSimulator(t, frictionlessConfig())
	pos := ladderPosition(t)

	fills, err := sim.CheckExits(context.Background(), pos, decimal.NewFromInt(92), domain.OrderBook{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "sl", fills[0].Level)
	// full exit at the stop: 10 units, -7 each
	assert.True(t, fills[0].PnL.Equal(decimal.NewFromInt(-70)), "pnl %s", fills[0].PnL)
	assert.True(t, pos.IsClosed())
}

// An exit percent larger than what remains is capped, never over-filled.
func TestCheckExitsCapsToRemaining(t *testing.T) {
	sim := newTestSimulator(t, frictionlessConfig())
	pos := ladderPosition(t)

	require.NoError(t, pos.Reduce(decimal.NewFromInt(70), decimal.Zero, decimal.Zero, time.Now()))

	fills, err := sim.CheckExits(context.Background(), pos, decimal.NewFromInt(105), domain.OrderBook{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Pct.Equal(decimal.NewFromInt(30)), "pct %s", fills[0].Pct)
	assert.True(t, pos.IsClosed())
	assert.True(t, pos.RemainingPct.IsZero())
}

func TestCheckExitsClosedPositionIsANoop(t *testing.T) {
	sim := newTestSimulator(t, frictionlessConfig())
	pos := ladderPosition(t)
	require.NoError(t, pos.Reduce(decimal.NewFromInt(100), decimal.Zero, decimal.Zero, time.Now()))

	fills, err := sim.CheckExits(context.Background(), pos, decimal.NewFromInt(120), domain.OrderBook{})
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestForceClose(t *testing.T) {
	sim := newTestSimulator(t, frictionlessConfig())
	pos := ladderPosition(t)

	fill, err := sim.ForceClose(context.Background(), pos, decimal.NewFromInt(102), domain.OrderBook{})
	require.NoError(t, err)
	assert.Equal(t, "close", fill.Level)
	assert.True(t, fill.Pct.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.IsClosed())

	_, err = sim.ForceClose(context.Background(), pos, decimal.NewFromInt(102), domain.OrderBook{})
	require.Error(t, err)
}

func TestFillEntrySlippage(t *testing.T) {
	cfg := Config{
		TakerFeePct:        decimal.NewFromFloat(0.001),
		SlippageCeilingPct: 0.5,
		ImpactFactor:       10,
	}
	sim := newTestSimulator(t, cfg)

	plan := domain.OrderPlan{
		Pair:     domain.Pair{From: "BTC", To: "USDT"},
		Side:     domain.PositionSideLong,
		Quantity: decimal.NewFromInt(10),
	}
	price := decimal.NewFromInt(100)

	// empty book assumes the worst allowed slippage
	fillPrice, fee, err := sim.FillEntry(context.Background(), plan, price, domain.OrderBook{})
	require.NoError(t, err)
	assert.True(t, fillPrice.Equal(decimal.RequireFromString("100.5")), "fill %s", fillPrice)
	assert.True(t, fee.Equal(decimal.RequireFromString("1.005")), "fee %s", fee)

	// a deep book barely moves the fill
	deep := domain.OrderBook{
		Asks: []domain.BookLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(10_000)}},
	}
	deepFill, _, err := sim.FillEntry(context.Background(), plan, price, deep)
	require.NoError(t, err)
	assert.True(t, deepFill.GreaterThan(price), "buys always fill above the target")
	assert.True(t, deepFill.LessThan(fillPrice), "deep book fill %s not tighter than %s", deepFill, fillPrice)
}

// Exits consume the opposite book side, so a long's exit slips downward.
func TestExitSlippageIsAdverse(t *testing.T) {
	cfg := Config{
		TakerFeePct:        decimal.Zero,
		SlippageCeilingPct: 0.5,
		ImpactFactor:       10,
	}
	sim := newTestSimulator(t, cfg)
	pos := ladderPosition(t)

	fill, err := sim.ForceClose(context.Background(), pos, decimal.NewFromInt(102), domain.OrderBook{})
	require.NoError(t, err)
	assert.True(t, fill.Price.LessThan(decimal.NewFromInt(102)), "exit fill %s", fill.Price)
	assert.True(t, fill.Price.Equal(decimal.RequireFromString("101.49")), "exit fill %s", fill.Price)
}

func TestFeesComeOutOfPnL(t *testing.T) {
	cfg := Config{TakerFeePct: decimal.NewFromFloat(0.001)}
	sim := newTestSimulator(t, cfg)
	pos := ladderPosition(t)

	fills, err := sim.CheckExits(context.Background(), pos, decimal.NewFromInt(105), domain.OrderBook{})
	require.NoError(t, err)
	require.Len(t, fills, 1)

	// 4 units at 105: gross 20, fee 0.42
	assert.True(t, fills[0].Fee.Equal(decimal.RequireFromString("0.42")), "fee %s", fills[0].Fee)
	assert.True(t, fills[0].PnL.Equal(decimal.RequireFromString("19.58")), "pnl %s", fills[0].PnL)
	assert.True(t, pos.FeesPaid.Equal(decimal.RequireFromString("0.42")))
}

func TestLiveModeRequiresRouter(t *testing.T) {
	_, err := NewSimulator(Config{Live: true}, nil, nil)
	require.Error(t, err)
}
