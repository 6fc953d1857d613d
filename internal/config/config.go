// Package config handles configuration management with validation,
// following the teacher's pattern: hand-rolled Validate()/ValidationError,
// os.Expand environment-variable expansion, yaml.Unmarshal, and a
// String() that masks secrets. StrategyConfig bounds validation stays
// hand-rolled rather than reaching for go-playground/validator — the
// teacher's own `validate:` struct tags were decorative and no validator
// package was ever imported, so dcabot does not add one either.
package config

import (
	"fmt"
	"os"
	"strings"

	"dcabot/internal/core"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// BootstrapConfig is the process-level configuration read from a YAML
// file plus environment variables at startup: exchange credentials,
// store location, notifier URL, and telemetry/timing knobs. Strategy
// parameters are NOT here — spec §6 requires those to live in the
// persistent store, loaded via ConfigStore.
type BootstrapConfig struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Store     StoreConfig     `yaml:"store"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	System    SystemConfig    `yaml:"system"`
	Timing    TimingConfig    `yaml:"timing"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// InitialCapitalUSDT seeds StrategyConfig.InitialCapitalUSDT on first
	// run only (spec §6: "INITIAL_CAPITAL_USDT numeric, required").
	InitialCapitalUSDT decimal.Decimal `yaml:"-"`
}

// ExchangeConfig holds Binance spot credentials and symbol selection.
type ExchangeConfig struct {
	APIKey    Secret `yaml:"api_key" validate:"required"`
	SecretKey Secret `yaml:"secret_key" validate:"required"`
	BaseURL   string `yaml:"base_url"`
	Symbol    string `yaml:"symbol" validate:"required"`
	Timeframe string `yaml:"timeframe" validate:"required"`
}

// StoreConfig points at the SQLite database file.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// NotifierConfig configures the optional webhook alert channel.
type NotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// SystemConfig contains system-level settings.
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=debug info warn error"`
}

// TimingConfig contains reconnect/backoff/retry knobs.
type TimingConfig struct {
	WebsocketReconnectMinDelaySeconds int `yaml:"websocket_reconnect_min_delay_seconds" validate:"min=1,max=300"`
	WebsocketReconnectMaxDelaySeconds int `yaml:"websocket_reconnect_max_delay_seconds" validate:"min=1,max=3600"`
	OrderRetryMaxAttempts             int `yaml:"order_retry_max_attempts" validate:"min=1,max=10"`
	RulesRefreshIntervalSeconds       int `yaml:"rules_refresh_interval_seconds" validate:"min=60,max=86400"`
	PauseErrorWindowSeconds           int `yaml:"pause_error_window_seconds" validate:"min=1,max=3600"`
}

// TelemetryConfig contains OTel/Prometheus export settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadBootstrapConfig loads the YAML bootstrap file with environment
// variable expansion, then overlays INITIAL_CAPITAL_USDT from the
// environment per spec §6.
func LoadBootstrapConfig(filename string) (*BootstrapConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg BootstrapConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	capital := os.Getenv("INITIAL_CAPITAL_USDT")
	if capital == "" {
		return nil, ValidationError{Field: "INITIAL_CAPITAL_USDT", Message: "required environment variable is not set"}
	}
	capitalDec, err := decimal.NewFromString(capital)
	if err != nil || capitalDec.Sign() <= 0 {
		return nil, ValidationError{Field: "INITIAL_CAPITAL_USDT", Value: capital, Message: "must be a positive decimal"}
	}
	cfg.InitialCapitalUSDT = capitalDec

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate performs bounds/required-field checks on the bootstrap config.
func (c *BootstrapConfig) Validate() error {
	var errs []string

	if c.Exchange.APIKey == "" {
		errs = append(errs, ValidationError{Field: "exchange.api_key", Message: "required"}.Error())
	}
	if c.Exchange.SecretKey == "" {
		errs = append(errs, ValidationError{Field: "exchange.secret_key", Message: "required"}.Error())
	}
	if c.Exchange.Symbol == "" {
		errs = append(errs, ValidationError{Field: "exchange.symbol", Message: "required"}.Error())
	}
	if c.Exchange.Timeframe == "" {
		errs = append(errs, ValidationError{Field: "exchange.timeframe", Message: "required"}.Error())
	}
	if c.Store.Path == "" {
		errs = append(errs, ValidationError{Field: "store.path", Message: "required"}.Error())
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.System.LogLevel)) {
		errs = append(errs, ValidationError{
			Field: "system.log_level", Value: c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// String returns a YAML representation with secrets masked.
func (c *BootstrapConfig) String() string {
	cp := *c
	cp.Exchange.APIKey = Secret(cp.Exchange.APIKey.String())
	cp.Exchange.SecretKey = Secret(cp.Exchange.SecretKey.String())
	data, _ := yaml.Marshal(cp)
	return string(data)
}

// ValidateStrategy checks the §3 bounds on a core.StrategyConfig.
// Reused by ConfigStore implementations and by the default-seeding path
// in §4.4.
func ValidateStrategy(cfg core.StrategyConfig) error {
	var errs []string

	if cfg.Timeframe == "" {
		errs = append(errs, ValidationError{Field: "timeframe", Message: "non-empty required"}.Error())
	}
	checkRange(&errs, "drop_pct", cfg.DropPct, "0.02", "0.08")
	checkRange(&errs, "rise_pct", cfg.RisePct, "0.02", "0.08")
	if cfg.MaxPurchases < 1 || cfg.MaxPurchases > 30 {
		errs = append(errs, ValidationError{Field: "max_purchases", Value: cfg.MaxPurchases, Message: "must be in [1, 30]"}.Error())
	}
	if cfg.MinBuyUSDT.LessThan(decimal.RequireFromString("10.00")) {
		errs = append(errs, ValidationError{Field: "min_buy_usdt", Value: cfg.MinBuyUSDT.String(), Message: "must be >= 10.00"}.Error())
	}
	if cfg.InitialCapitalUSDT.Sign() <= 0 {
		errs = append(errs, ValidationError{Field: "initial_capital_usdt", Value: cfg.InitialCapitalUSDT.String(), Message: "must be > 0"}.Error())
	}
	checkRange(&errs, "slippage_buy_pct", cfg.SlippageBuyPct, "0", "0.1")
	checkRange(&errs, "slippage_sell_pct", cfg.SlippageSellPct, "0", "0.1")

	if len(errs) > 0 {
		return fmt.Errorf("strategy config validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func checkRange(errs *[]string, field string, v decimal.Decimal, lo, hi string) {
	loD, hiD := decimal.RequireFromString(lo), decimal.RequireFromString(hi)
	if v.LessThan(loD) || v.GreaterThan(hiD) {
		*errs = append(*errs, ValidationError{Field: field, Value: v.String(), Message: fmt.Sprintf("must be in [%s, %s]", lo, hi)}.Error())
	}
}

// DefaultStrategyConfig returns the is_active=false default written by
// §4.4 when no active config row exists yet. Operators must flip
// is_active after reviewing the seeded row.
func DefaultStrategyConfig(timeframe string, initialCapital decimal.Decimal) core.StrategyConfig {
	return core.StrategyConfig{
		Timeframe:          timeframe,
		DropPct:            decimal.RequireFromString("0.05"),
		RisePct:            decimal.RequireFromString("0.05"),
		MaxPurchases:       10,
		MinBuyUSDT:         decimal.RequireFromString("10.00"),
		InitialCapitalUSDT: initialCapital,
		SlippageBuyPct:     decimal.RequireFromString("0.003"),
		SlippageSellPct:    decimal.RequireFromString("0.003"),
		IsActive:           false,
	}
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
