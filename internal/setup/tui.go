package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/quantforge/helm/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard and writes
// config.gen.yaml on confirmation.
func RunTUI() error {
	var (
		platform        string
		pairsStr        string
		interval        string
		equityStr       string
		minNotionalStr  string
		monitorStr      string
		dashboardAddr   string
		dashboardDomain string
		confirm         bool
	)

	// defaults
	interval = "1h"
	equityStr = "10000"
	minNotionalStr = "10"
	monitorStr = "45s"

	// step 1: welcome
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("HELM CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Risk-adaptive order engine setup.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PLATFORM"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Market Data Platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&platform),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("HELM CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: ASSETS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pairs").
				Description("Comma separated, BASE_QUOTE format (e.g. BTC_USDT,ETH_USDT)").
				Value(&pairsStr).
				Validate(validatePairs),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("HELM CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: TIMING"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Candle Interval").
				Description("Exchange interval (e.g. 15m, 1h, 4h)").
				Value(&interval).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("interval cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Monitoring Cycle").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&monitorStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("HELM CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: CAPITAL"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Paper Equity").
				Description("Simulated balance in quote currency (e.g. 10000)").
				Value(&equityStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Exchange Min Notional").
				Description("Minimum order size in quote currency (e.g. 10)").
				Value(&minNotionalStr).
				Validate(validatePositiveDecimal),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("HELM CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 5: DASHBOARD"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Dashboard Address").
				Description("Listen address (e.g. :8080), empty to disable").
				Value(&dashboardAddr),
			huh.NewInput().
				Title("Dashboard Domain").
				Description("Domain for automatic TLS, empty for plain HTTP").
				Value(&dashboardDomain),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("HELM CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Platform: %s\nPairs: %s\nInterval: %s\nEquity: %s\nMonitoring: %s\n",
		platform, pairsStr, interval, equityStr, monitorStr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	monitorInterval, _ := time.ParseDuration(monitorStr)

	cfgTmp := config.ConfigTmp{
		Platform:        platform,
		Pairs:           splitPairs(pairsStr),
		Interval:        interval,
		Equity:          equityStr,
		MinNotional:     minNotionalStr,
		MonitorInterval: monitorInterval,
		DashboardAddr:   dashboardAddr,
		DashboardDomain: dashboardDomain,
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting engine...", filename)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

func validatePairs(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("at least one pair is required")
	}
	for _, p := range splitPairs(s) {
		if !strings.Contains(p, "_") {
			return fmt.Errorf("invalid format %q: must be BASE_QUOTE (e.g. BTC_USDT)", p)
		}
	}
	return nil
}

func splitPairs(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validatePositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}
