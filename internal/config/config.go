// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TaxBracket is one rung of a progressive capital-gains schedule. Gains up to
// UpperLimit (cumulative, not per-band) are taxed at Rate.
type TaxBracket struct {
	UpperLimit float64 `yaml:"upper_limit"`
	Rate       float64 `yaml:"rate"`
}

// TaxConfig holds the progressive bracket schedule and the tax-loss
// harvesting parameters.
type TaxConfig struct {
	Brackets []TaxBracket `yaml:"brackets"`

	HarvestEnabled      bool    `yaml:"harvest_enabled"`
	HarvestMonths       []int   `yaml:"harvest_months"`
	MinLossThreshold    float64 `yaml:"min_loss_threshold"`
	WashSaleWaitingDays int     `yaml:"wash_sale_waiting_days"`
	MaxHarvestPerYear   float64 `yaml:"max_harvest_per_year"`
}

// DefaultTaxConfig returns the Danish capital-gains defaults: 27% on the
// first €10,000 of gains, 42% above, with Nov-Dec harvesting.
func DefaultTaxConfig() TaxConfig {
	return TaxConfig{
		Brackets: []TaxBracket{
			{UpperLimit: 10_000, Rate: 0.27},
			{UpperLimit: math.Inf(1), Rate: 0.42},
		},
		HarvestEnabled:      true,
		HarvestMonths:       []int{11, 12},
		MinLossThreshold:    50.0,
		WashSaleWaitingDays: 30,
		MaxHarvestPerYear:   math.Inf(1),
	}
}

// Validate checks the bracket schedule: strictly increasing upper limits with
// an unbounded top bracket. Violations are caller configuration errors, not
// runtime conditions to recover from.
func (c TaxConfig) Validate() error {
	if len(c.Brackets) == 0 {
		return fmt.Errorf("tax config: at least one bracket required")
	}
	if !sort.SliceIsSorted(c.Brackets, func(i, j int) bool {
		return c.Brackets[i].UpperLimit < c.Brackets[j].UpperLimit
	}) {
		return fmt.Errorf("tax config: bracket upper limits must be strictly increasing")
	}
	for i := 1; i < len(c.Brackets); i++ {
		if c.Brackets[i].UpperLimit == c.Brackets[i-1].UpperLimit {
			return fmt.Errorf("tax config: duplicate bracket upper limit %v", c.Brackets[i].UpperLimit)
		}
	}
	if !math.IsInf(c.Brackets[len(c.Brackets)-1].UpperLimit, 1) {
		return fmt.Errorf("tax config: last bracket must be unbounded (+Inf upper limit)")
	}
	return nil
}

// TradingCostConfig models per-trade execution cost: a percentage of trade
// value floored at a fixed minimum.
type TradingCostConfig struct {
	PctCost float64 `yaml:"pct_cost"`
	MinCost float64 `yaml:"min_cost"`
}

// DefaultTradingCostConfig returns 0.1% with a €1 floor.
func DefaultTradingCostConfig() TradingCostConfig {
	return TradingCostConfig{PctCost: 0.001, MinCost: 1.0}
}

// MarginConfig holds the leverage facility parameters.
type MarginConfig struct {
	Enabled             bool    `yaml:"enabled"`
	MaxLeverage         float64 `yaml:"max_leverage"`
	AnnualRate          float64 `yaml:"annual_rate"`
	ConvictionThreshold float64 `yaml:"conviction_threshold"`
	ExpectedHoldDays    int     `yaml:"expected_hold_days"`
}

// DefaultMarginConfig returns a disabled 1.2× facility at 5% annual interest.
func DefaultMarginConfig() MarginConfig {
	return MarginConfig{
		Enabled:             false,
		MaxLeverage:         1.2,
		AnnualRate:          0.05,
		ConvictionThreshold: 0.8,
		ExpectedHoldDays:    90,
	}
}

// Validate checks the leverage facility parameters.
func (c MarginConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxLeverage <= 1 {
		return fmt.Errorf("margin config: max_leverage must be > 1, got %v", c.MaxLeverage)
	}
	if c.ConvictionThreshold < 0 || c.ConvictionThreshold > 1 {
		return fmt.Errorf("margin config: conviction_threshold must be in [0,1], got %v", c.ConvictionThreshold)
	}
	return nil
}

// BacktestConfig is the top-level simulation configuration.
type BacktestConfig struct {
	Start        string `yaml:"start"`
	LookbackDays int    `yaml:"lookback_days"`

	Regions  []string `yaml:"regions"`
	CapTiers []string `yaml:"cap_tiers"`
	MinADV   float64  `yaml:"min_adv"`

	MinR2 float64 `yaml:"min_r2"`

	TargetWeights map[string]float64 `yaml:"target_weights"`

	RebalanceFrequency string  `yaml:"rebalance_frequency"`
	InitialCash        float64 `yaml:"initial_cash"`

	Tax         TaxConfig         `yaml:"tax"`
	TradingCost TradingCostConfig `yaml:"trading_cost"`
	Margin      MarginConfig      `yaml:"margin"`
}

// DefaultBacktestConfig mirrors the default research setup: a monthly
// rebalanced Value/Momentum tilt over mega and large caps.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		Start:              "2020-01-01",
		LookbackDays:       252,
		Regions:            []string{"US", "Europe", "Asia-Pacific"},
		CapTiers:           []string{"mega", "large"},
		MinADV:             1e8,
		MinR2:              0.3,
		TargetWeights:      map[string]float64{"Value": 0.6, "Momentum": 0.4},
		RebalanceFrequency: "M",
		InitialCash:        20_000,
		Tax:                DefaultTaxConfig(),
		TradingCost:        DefaultTradingCostConfig(),
		Margin:             DefaultMarginConfig(),
	}
}

// Validate checks all sub-configurations.
func (c BacktestConfig) Validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("backtest config: initial_cash must be positive")
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("backtest config: lookback_days must be positive")
	}
	if err := c.Tax.Validate(); err != nil {
		return err
	}
	return c.Margin.Validate()
}

// Load reads configuration from the environment, then overlays the YAML file
// named by FACTORSIM_CONFIG (if any). Environment variables win for the
// operational knobs; the YAML file owns the strategy parameters.
func Load() (*BacktestConfig, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := DefaultBacktestConfig()

	if path := getEnv("FACTORSIM_CONFIG", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Start = getEnv("FACTORSIM_START", cfg.Start)
	cfg.InitialCash = getEnvAsFloat("FACTORSIM_INITIAL_CASH", cfg.InitialCash)
	cfg.LookbackDays = getEnvAsInt("FACTORSIM_LOOKBACK_DAYS", cfg.LookbackDays)
	cfg.Margin.Enabled = getEnvAsBool("FACTORSIM_MARGIN_ENABLED", cfg.Margin.Enabled)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
