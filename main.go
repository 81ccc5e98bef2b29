package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantforge/helm/config"
	"github.com/quantforge/helm/dashboard"
	"github.com/quantforge/helm/internal/engine"
	"github.com/quantforge/helm/internal/services/allocation"
	"github.com/quantforge/helm/internal/services/assetrisk"
	"github.com/quantforge/helm/internal/services/execution"
	"github.com/quantforge/helm/internal/services/levels"
	"github.com/quantforge/helm/internal/services/limits"
	"github.com/quantforge/helm/internal/services/manager"
	"github.com/quantforge/helm/internal/services/marketdata"
	"github.com/quantforge/helm/internal/services/monitor"
	"github.com/quantforge/helm/internal/services/regime"
	"github.com/quantforge/helm/internal/services/sizing"
	"github.com/quantforge/helm/internal/services/strategy"
	"github.com/quantforge/helm/internal/services/swing"
	"github.com/quantforge/helm/internal/setup"
	"github.com/quantforge/helm/internal/storage/riskevents"
	"github.com/quantforge/helm/internal/storage/trades"
)

const (
	swingLookback   = 50
	minSwingPct     = 0.02
	pnlWindow       = 30
	riskProfileTTL  = 15 * time.Minute
	signalCadence   = 1 * time.Minute
	generatedConfig = "config.gen.yaml"
)

// marketCaps is a static table; exchanges expose no market cap endpoint.
var marketCaps = map[string]decimal.Decimal{
	"BTC": decimal.NewFromInt(1_200_000_000_000),
	"ETH": decimal.NewFromInt(400_000_000_000),
	"SOL": decimal.NewFromInt(80_000_000_000),
	"BNB": decimal.NewFromInt(85_000_000_000),
	"XRP": decimal.NewFromInt(120_000_000_000),
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	feed, err := buildFeed(cfg.Platform)
	if err != nil {
		logger.Fatal("failed to build market data feed", zap.Error(err))
	}

	tradeStore, err := trades.NewWALStore(cfg.TradesWALDir)
	if err != nil {
		logger.Fatal("failed to init trade store", zap.Error(err))
	}
	defer tradeStore.Close()

	riskStore, err := riskevents.NewWALStore(cfg.RiskWALDir)
	if err != nil {
		logger.Fatal("failed to init risk event store", zap.Error(err))
	}
	defer riskStore.Close()

	classifier := regime.NewClassifier(feed, cfg.ReferencePair, cfg.Interval, cfg.RegimeCadence, logger)

	statsProvider := marketdata.NewStatsProvider(feed, marketCaps)
	scorer := assetrisk.NewScorer(statsProvider, riskProfileTTL, logger)

	limitsCalc := limits.NewCalculator(pnlWindow)

	sim, err := execution.NewSimulator(execution.DefaultConfig(), nil, logger)
	if err != nil {
		logger.Fatal("failed to init execution simulator", zap.Error(err))
	}

	riskMonitor := monitor.NewMonitor(cfg.MaxHold, logger)

	mgr := manager.NewManager(
		feed, riskMonitor, sim, classifier,
		tradeStore, riskStore, limitsCalc,
		cfg.ReferencePair, logger,
		manager.WithInterval(cfg.MonitorInterval),
	)

	eng := engine.NewEngine(
		feed,
		swing.NewDetector(swingLookback, minSwingPct, logger),
		levels.NewCalculator(),
		scorer,
		sizing.NewSizer(cfg.MinNotional),
		limitsCalc,
		allocation.NewPlanner(),
		classifier,
		sim,
		mgr,
		tradeStore,
		engine.StaticEquity(cfg.Equity),
		cfg.Interval,
		logger,
	)

	// resume monitoring for positions that survived a restart
	openPositions, err := tradeStore.OpenPositions()
	if err != nil {
		logger.Warn("failed to query open positions", zap.Error(err))
	}
	for i := range openPositions {
		pos := openPositions[i]
		if err := mgr.Watch(ctx, &pos); err != nil {
			logger.Error("failed to resume position", zap.String("position", pos.ID), zap.Error(err))
			continue
		}
		logger.Info("resumed position", zap.String("position", pos.ID), zap.String("pair", pos.Pair.String()))
	}

	producer := strategy.NewMomentumProducer(feed, cfg.Interval, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		classifier.Run(gctx)
		return nil
	})

	g.Go(func() error {
		err := eng.Run(gctx, producer, cfg.Pairs, signalCadence)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.DashboardAddr != "" {
		srv := dashboard.NewServer(cfg.DashboardAddr, tradeStore, riskStore)
		g.Go(func() error {
			logger.Info("dashboard listening", zap.String("addr", cfg.DashboardAddr))
			if cfg.DashboardDomain != "" {
				return srv.StartWithAutoTLS(gctx, []string{cfg.DashboardDomain}, "")
			}
			return srv.Start(gctx)
		})
	}

	logger.Info("engine started",
		zap.String("platform", cfg.Platform),
		zap.Int("pairs", len(cfg.Pairs)),
		zap.String("interval", cfg.Interval),
		zap.String("equity", cfg.Equity.String()))

	if err := g.Wait(); err != nil {
		logger.Error("engine stopped with error", zap.Error(err))
	}

	mgr.Wait()
	logger.Info("shutdown complete")
}

func loadConfig() (config.Config, error) {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.RunTUI(); err != nil {
			return config.Config{}, err
		}
		return config.Load(generatedConfig)
	}
	return config.Get()
}

func buildFeed(platform string) (marketdata.Feed, error) {
	switch platform {
	case "bybit":
		return marketdata.NewBybitFeed(), nil
	default:
		return marketdata.NewBinanceFeed(os.Getenv("APIKEY"), os.Getenv("SECRETKEY")), nil
	}
}
