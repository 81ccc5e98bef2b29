// Package config loads engine configuration from a yaml file or CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/quantforge/helm/internal/domain"
)

const (
	defaultInterval        = "1h"
	defaultEquity          = "10000"
	defaultMinNotional     = "10"
	defaultMonitorInterval = 45 * time.Second
	defaultRegimeCadence   = 5 * time.Minute
	defaultMaxHold         = 48 * time.Hour
	defaultReferencePair   = "BTC_USDT"
	defaultTradesWALDir    = "./wal/trades"
	defaultRiskWALDir      = "./wal/risk"
)

// Config is one engine instance: a set of pairs traded against shared equity
// on one platform.
type Config struct {
	Platform string
	Pairs    []domain.Pair
	// Interval candle interval used for detection and monitoring, e.g. "1h".
	Interval string
	// Equity paper-trading balance in quote currency.
	Equity decimal.Decimal
	// MinNotional exchange minimum order size in quote currency.
	MinNotional decimal.Decimal
	// ReferencePair asset used for the correlation risk factor.
	ReferencePair   domain.Pair
	MonitorInterval time.Duration
	RegimeCadence   time.Duration
	// MaxHold time-decay horizon after which stale positions score maximum.
	MaxHold time.Duration
	// TradesWALDir and RiskWALDir are the persistence directories.
	TradesWALDir string
	RiskWALDir   string
	// DashboardAddr enables the SSE dashboard when non-empty, e.g. ":8080".
	DashboardAddr string
	// DashboardDomain enables autocert TLS for the dashboard when non-empty.
	DashboardDomain string
}

type ConfigTmp struct {
	Platform        string        `yaml:"platform"`
	Pairs           []string      `yaml:"pairs"`
	Interval        string        `yaml:"interval,omitempty"`
	Equity          string        `yaml:"equity,omitempty"`
	MinNotional     string        `yaml:"min_notional,omitempty"`
	ReferencePair   string        `yaml:"reference_pair,omitempty"`
	MonitorInterval time.Duration `yaml:"monitor_interval,omitempty"`
	RegimeCadence   time.Duration `yaml:"regime_cadence,omitempty"`
	MaxHold         time.Duration `yaml:"max_hold,omitempty"`
	TradesWALDir    string        `yaml:"trades_wal_dir,omitempty"`
	RiskWALDir      string        `yaml:"risk_wal_dir,omitempty"`
	DashboardAddr   string        `yaml:"dashboard_addr,omitempty"`
	DashboardDomain string        `yaml:"dashboard_domain,omitempty"`
}

// Get loads configuration from --config yaml if provided, otherwise from
// individual CLI flags.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	platform := flag.String("platform", "binance", "market data platform: binance or bybit")
	pairsFlag := flag.String("pairs", "BTC_USDT", "comma-separated trade pairs, example: BTC_USDT,ETH_USDT")
	interval := flag.String("interval", defaultInterval, "candle interval, example: 1h")
	equityFlag := flag.String("equity", defaultEquity, "paper trading equity in quote currency")
	minNotionalFlag := flag.String("minnotional", defaultMinNotional, "exchange minimum order notional")
	monitorInterval := flag.Duration("monitorinterval", defaultMonitorInterval, "position monitoring cycle interval")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	equity, err := decimal.NewFromString(*equityFlag)
	if err != nil || !equity.IsPositive() {
		return Config{}, fmt.Errorf("invalid --equity provided, --equity=%s", *equityFlag)
	}
	minNotional, err := decimal.NewFromString(*minNotionalFlag)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --minnotional provided, --minnotional=%s", *minNotionalFlag)
	}

	pairs, err := parsePairs(strings.Split(*pairsFlag, ","))
	if err != nil {
		return Config{}, err
	}

	refPair, _ := pairFromString(defaultReferencePair)

	return Config{
		Platform:        *platform,
		Pairs:           pairs,
		Interval:        *interval,
		Equity:          equity,
		MinNotional:     minNotional,
		ReferencePair:   refPair,
		MonitorInterval: *monitorInterval,
		RegimeCadence:   defaultRegimeCadence,
		MaxHold:         defaultMaxHold,
		TradesWALDir:    defaultTradesWALDir,
		RiskWALDir:      defaultRiskWALDir,
	}, nil
}

// Load reads configuration from a yaml file, bypassing flag parsing. Used
// after the setup wizard has written config.gen.yaml.
func Load(path string) (Config, error) {
	return getYaml(path)
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	if tmp.Platform == "" {
		tmp.Platform = "binance"
	}

	pairs, err := parsePairs(tmp.Pairs)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'pairs' param in yaml config: %w", err)
	}

	cfg := Config{
		Platform:        tmp.Platform,
		Pairs:           pairs,
		Interval:        tmp.Interval,
		MonitorInterval: tmp.MonitorInterval,
		RegimeCadence:   tmp.RegimeCadence,
		MaxHold:         tmp.MaxHold,
		TradesWALDir:    tmp.TradesWALDir,
		RiskWALDir:      tmp.RiskWALDir,
		DashboardAddr:   tmp.DashboardAddr,
		DashboardDomain: tmp.DashboardDomain,
	}

	if cfg.Interval == "" {
		cfg.Interval = defaultInterval
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = defaultMonitorInterval
	}
	if cfg.RegimeCadence == 0 {
		cfg.RegimeCadence = defaultRegimeCadence
	}
	if cfg.MaxHold == 0 {
		cfg.MaxHold = defaultMaxHold
	}
	if cfg.TradesWALDir == "" {
		cfg.TradesWALDir = defaultTradesWALDir
	}
	if cfg.RiskWALDir == "" {
		cfg.RiskWALDir = defaultRiskWALDir
	}

	if tmp.Equity == "" {
		tmp.Equity = defaultEquity
	}
	cfg.Equity, err = decimal.NewFromString(tmp.Equity)
	if err != nil || !cfg.Equity.IsPositive() {
		return Config{}, fmt.Errorf("incorrect 'equity' param in yaml config: %s", tmp.Equity)
	}

	if tmp.MinNotional == "" {
		tmp.MinNotional = defaultMinNotional
	}
	cfg.MinNotional, err = decimal.NewFromString(tmp.MinNotional)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'min_notional' param in yaml config: %s", tmp.MinNotional)
	}

	if tmp.ReferencePair == "" {
		tmp.ReferencePair = defaultReferencePair
	}
	cfg.ReferencePair, err = pairFromString(tmp.ReferencePair)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'reference_pair' param in yaml config: %s", tmp.ReferencePair)
	}

	return cfg, nil
}

func parsePairs(raw []string) ([]domain.Pair, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one pair is required")
	}

	pairs := make([]domain.Pair, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		pair, err := pairFromString(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one pair is required")
	}
	return pairs, nil
}

func pairFromString(s string) (domain.Pair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return domain.Pair{}, fmt.Errorf("invalid pair %q, expected format BTC_USDT", s)
	}
	return domain.Pair{From: parts[0], To: parts[1]}, nil
}
