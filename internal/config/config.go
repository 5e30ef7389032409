// Package config loads and validates the application configuration from a
// JSON file, with environment variable overrides for deployment-specific
// paths. The loaded configuration is treated as immutable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/divcap/internal/domain"
	"github.com/aristath/divcap/internal/strategy"
)

const dateLayout = "2006-01-02"

// Backtest holds the simulation window and starting capital.
type Backtest struct {
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	InitialCapital float64 `json:"initial_capital"`
}

// Execution holds the trade cost model.
type Execution struct {
	Slippage        float64 `json:"slippage"`
	SlippageExDate  float64 `json:"slippage_ex_date"`
	CommissionRate  float64 `json:"commission_rate"`
	MinCommission   float64 `json:"min_commission"`
	MaxCommission   float64 `json:"max_commission"`
	DividendTaxRate float64 `json:"dividend_tax_rate"`
}

// Dividend holds the payment timing policy.
type Dividend struct {
	PaymentPolicy     domain.DividendPaymentPolicy `json:"payment_policy"`
	PaymentOffsetDays int                          `json:"payment_offset_days"`
}

// Data holds storage locations.
type Data struct {
	HistoryDBPath string `json:"history_db_path"`
	ResultsDBPath string `json:"results_db_path"`
	CachePath     string `json:"cache_path"`
	OutputDir     string `json:"output_dir"`
}

// Logging holds log output settings.
type Logging struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Server holds the optional results API settings.
type Server struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	RerunSchedule  string   `json:"rerun_schedule"` // cron spec, empty disables
	AllowedOrigins []string `json:"allowed_origins"`
}

// Config is the complete application configuration.
type Config struct {
	Backtest  Backtest        `json:"backtest"`
	Strategy  strategy.Config `json:"strategy"`
	Execution Execution       `json:"execution"`
	Dividend  Dividend        `json:"dividend"`
	Universe  []string        `json:"universe"`
	Data      Data            `json:"data"`
	Logging   Logging         `json:"logging"`
	Server    Server          `json:"server"`
}

// Load reads the JSON file at path, applies defaults and environment
// overrides, and validates the result. Unknown JSON fields are rejected so a
// typo in a key fails loudly instead of silently falling back to a default.
func Load(path string) (*Config, error) {
	// Missing .env is fine; environment may be set by the shell
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := defaults()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Backtest: Backtest{
			InitialCapital: 10_000_000,
		},
		Strategy: strategy.Config{
			Entry: strategy.EntryConfig{
				DaysBeforeRecord: 3,
				PositionSize:     1_000_000,
				MaxPositions:     5,
			},
			Addition: strategy.AdditionConfig{
				Enabled:    true,
				Ratio:      0.5,
				OnDropOnly: true,
			},
			Exit: strategy.ExitConfig{
				MaxHoldingDays: 10,
				StopLossPct:    0.05,
				OnWindowFill:   true,
			},
		},
		Execution: Execution{
			Slippage:        0.001,
			SlippageExDate:  0.002,
			CommissionRate:  0.0005,
			MinCommission:   100,
			MaxCommission:   1000,
			DividendTaxRate: 0.20315,
		},
		Dividend: Dividend{
			PaymentPolicy:     domain.PayRecordOffset,
			PaymentOffsetDays: 1,
		},
		Data: Data{
			HistoryDBPath: "data/history.db",
			ResultsDBPath: "data/results.db",
			CachePath:     "data/cache/history.msgpack",
			OutputDir:     "output",
		},
		Logging: Logging{
			Level:  "info",
			Pretty: false,
		},
		Server: Server{
			Port: 8080,
		},
	}
}

// applyEnv overrides path and server settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("DIVCAP_HISTORY_DB"); v != "" {
		c.Data.HistoryDBPath = v
	}
	if v := os.Getenv("DIVCAP_RESULTS_DB"); v != "" {
		c.Data.ResultsDBPath = v
	}
	if v := os.Getenv("DIVCAP_CACHE_PATH"); v != "" {
		c.Data.CachePath = v
	}
	if v := os.Getenv("DIVCAP_OUTPUT_DIR"); v != "" {
		c.Data.OutputDir = v
	}
	if v := os.Getenv("DIVCAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DIVCAP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	start, err := time.Parse(dateLayout, c.Backtest.StartDate)
	if err != nil {
		return fmt.Errorf("backtest.start_date must be YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse(dateLayout, c.Backtest.EndDate)
	if err != nil {
		return fmt.Errorf("backtest.end_date must be YYYY-MM-DD: %w", err)
	}
	if !end.After(start) {
		return fmt.Errorf("backtest.end_date %s must be after start_date %s", c.Backtest.EndDate, c.Backtest.StartDate)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive, got %v", c.Backtest.InitialCapital)
	}

	if len(c.Universe) == 0 {
		return fmt.Errorf("universe must list at least one instrument")
	}

	if c.Strategy.Entry.DaysBeforeRecord < 1 {
		return fmt.Errorf("strategy.entry.days_before_record must be at least 1, got %d", c.Strategy.Entry.DaysBeforeRecord)
	}
	if c.Strategy.Entry.PositionSize <= 0 {
		return fmt.Errorf("strategy.entry.position_size must be positive, got %v", c.Strategy.Entry.PositionSize)
	}
	if c.Strategy.Entry.MaxPositions < 1 {
		return fmt.Errorf("strategy.entry.max_positions must be at least 1, got %d", c.Strategy.Entry.MaxPositions)
	}
	if c.Strategy.Addition.Ratio < 0 {
		return fmt.Errorf("strategy.addition.ratio must not be negative, got %v", c.Strategy.Addition.Ratio)
	}
	if c.Strategy.Exit.MaxHoldingDays < 1 {
		return fmt.Errorf("strategy.exit.max_holding_days must be at least 1, got %d", c.Strategy.Exit.MaxHoldingDays)
	}
	if c.Strategy.Exit.StopLossPct < 0 || c.Strategy.Exit.StopLossPct >= 1 {
		return fmt.Errorf("strategy.exit.stop_loss_pct must be in [0, 1), got %v", c.Strategy.Exit.StopLossPct)
	}

	if c.Execution.Slippage < 0 || c.Execution.SlippageExDate < 0 {
		return fmt.Errorf("execution slippage values must not be negative")
	}
	if c.Execution.CommissionRate < 0 {
		return fmt.Errorf("execution.commission_rate must not be negative, got %v", c.Execution.CommissionRate)
	}
	if c.Execution.MaxCommission < c.Execution.MinCommission {
		return fmt.Errorf("execution.max_commission %v is below min_commission %v",
			c.Execution.MaxCommission, c.Execution.MinCommission)
	}
	if c.Execution.DividendTaxRate < 0 || c.Execution.DividendTaxRate >= 1 {
		return fmt.Errorf("execution.dividend_tax_rate must be in [0, 1), got %v", c.Execution.DividendTaxRate)
	}

	switch c.Dividend.PaymentPolicy {
	case domain.PayRecordOffset, domain.PayOnExDate:
	default:
		return fmt.Errorf("dividend.payment_policy must be %q or %q, got %q",
			domain.PayRecordOffset, domain.PayOnExDate, c.Dividend.PaymentPolicy)
	}
	if c.Dividend.PaymentOffsetDays < 0 {
		return fmt.Errorf("dividend.payment_offset_days must not be negative, got %d", c.Dividend.PaymentOffsetDays)
	}

	return nil
}

// StartDate returns the parsed simulation start. Validate must have passed.
func (c *Config) StartDate() time.Time {
	t, _ := time.Parse(dateLayout, c.Backtest.StartDate)
	return t
}

// EndDate returns the parsed simulation end. Validate must have passed.
func (c *Config) EndDate() time.Time {
	t, _ := time.Parse(dateLayout, c.Backtest.EndDate)
	return t
}
