// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Redis     RedisConfig     `yaml:"redis"`
	Trading   TradingConfig   `yaml:"trading"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name         string `yaml:"name"`
	DatabasePath string `yaml:"database_path"`
	AdminPort    int    `yaml:"admin_port"`
}

// ExchangeConfig contains venue credentials and endpoints
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
	BaseURL   string `yaml:"base_url"`   // Optional REST override
	StreamURL string `yaml:"stream_url"` // Optional websocket override
}

// RedisConfig contains message bus connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// Addr returns the host:port dial address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TradingConfig contains trading parameters
type TradingConfig struct {
	Symbol        string `yaml:"symbol"`
	KlineInterval string `yaml:"kline_interval"`
	HistoryLimit  int    `yaml:"history_limit"`
}

// StrategyConfig contains MACD strategy parameters
type StrategyConfig struct {
	FastPeriod   int `yaml:"fast_period"`
	SlowPeriod   int `yaml:"slow_period"`
	SignalPeriod int `yaml:"signal_period"`
}

// RiskConfig contains position sizing, drawdown limits, and the
// tiered take-profit / stop-loss thresholds. The tier-two thresholds
// tighten the stop harder than tier one; tier one trails, the base
// tier sets the initial bracket.
type RiskConfig struct {
	MaxRiskPerTradePct  float64 `yaml:"max_risk_per_trade_pct"`
	MaxExposurePct      float64 `yaml:"max_exposure_pct"`
	MaxRelativeDrawdown float64 `yaml:"max_relative_drawdown"`
	MaxAbsoluteDrawdown float64 `yaml:"max_absolute_drawdown"`
	ATRPeriod           int     `yaml:"atr_period"`
	ATRMultiplier       float64 `yaml:"atr_multiplier"`
	TierOnePnlPct       float64 `yaml:"tier_one_pnl_pct"`
	TierOneRMultiple    float64 `yaml:"tier_one_r_multiple"`
	TierTwoPnlPct       float64 `yaml:"tier_two_pnl_pct"`
	TierTwoRMultiple    float64 `yaml:"tier_two_r_multiple"`
}

// BreakerConfig contains the shared circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	ResetTimeoutSec  int `yaml:"reset_timeout_sec"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion, applies the environment overlay, and validates the result.
// A .env file in the working directory is loaded first when present.
func LoadConfig(filename string) (*Config, error) {
	_ = godotenv.Load()

	config := DefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.Expand(string(data), os.Getenv)
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides lets well-known environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	setString(&c.Exchange.APIKey, "BINANCE_API_KEY")
	setString(&c.Exchange.SecretKey, "BINANCE_SECRET_KEY")
	setBool(&c.Exchange.Testnet, "BINANCE_TESTNET")
	setString(&c.Redis.Host, "REDIS_HOST")
	setInt(&c.Redis.Port, "REDIS_PORT")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.Prefix, "REDIS_PREFIX")
	setString(&c.Trading.Symbol, "SYMBOL")
	setFloat(&c.Risk.MaxRiskPerTradePct, "MAX_RISK_PER_TRADE_PCT")
	setFloat(&c.Risk.MaxExposurePct, "MAX_EXPOSURE_PCT")
	setFloat(&c.Risk.MaxRelativeDrawdown, "MAX_RELATIVE_DRAWDOWN")
	setFloat(&c.Risk.MaxAbsoluteDrawdown, "MAX_ABSOLUTE_DRAWDOWN")
	setString(&c.App.DatabasePath, "DATABASE_PATH")
	setString(&c.System.LogLevel, "LOG_LEVEL")
	setInt(&c.Telemetry.MetricsPort, "METRICS_PORT")
	setInt(&c.App.AdminPort, "ADMIN_PORT")
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateExchange(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTrading(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategy(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateBreaker(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.APIKey == "" {
		return ValidationError{Field: "exchange.api_key", Message: "API key is required"}
	}
	if c.Exchange.SecretKey == "" {
		return ValidationError{Field: "exchange.secret_key", Message: "secret key is required"}
	}
	return nil
}

func (c *Config) validateTrading() error {
	if c.Trading.Symbol == "" {
		return ValidationError{Field: "trading.symbol", Message: "trading symbol is required"}
	}
	if c.Trading.HistoryLimit < 0 || c.Trading.HistoryLimit > 1500 {
		return ValidationError{
			Field:   "trading.history_limit",
			Value:   c.Trading.HistoryLimit,
			Message: "must be between 0 and 1500",
		}
	}
	return nil
}

func (c *Config) validateStrategy() error {
	if c.Strategy.FastPeriod <= 0 || c.Strategy.SlowPeriod <= 0 || c.Strategy.SignalPeriod <= 0 {
		return ValidationError{Field: "strategy", Message: "MACD periods must be positive"}
	}
	if c.Strategy.FastPeriod >= c.Strategy.SlowPeriod {
		return ValidationError{
			Field:   "strategy.fast_period",
			Value:   c.Strategy.FastPeriod,
			Message: "fast period must be shorter than slow period",
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.MaxRiskPerTradePct <= 0 || c.Risk.MaxRiskPerTradePct > 1 {
		return ValidationError{
			Field:   "risk.max_risk_per_trade_pct",
			Value:   c.Risk.MaxRiskPerTradePct,
			Message: "must be in (0, 1]",
		}
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1 {
		return ValidationError{
			Field:   "risk.max_exposure_pct",
			Value:   c.Risk.MaxExposurePct,
			Message: "must be in (0, 1]",
		}
	}
	if c.Risk.MaxRelativeDrawdown <= 0 || c.Risk.MaxRelativeDrawdown >= 1 {
		return ValidationError{
			Field:   "risk.max_relative_drawdown",
			Value:   c.Risk.MaxRelativeDrawdown,
			Message: "must be in (0, 1)",
		}
	}
	if c.Risk.MaxAbsoluteDrawdown <= 0 || c.Risk.MaxAbsoluteDrawdown >= 1 {
		return ValidationError{
			Field:   "risk.max_absolute_drawdown",
			Value:   c.Risk.MaxAbsoluteDrawdown,
			Message: "must be in (0, 1)",
		}
	}
	if c.Risk.ATRPeriod < 2 {
		return ValidationError{
			Field:   "risk.atr_period",
			Value:   c.Risk.ATRPeriod,
			Message: "must be at least 2",
		}
	}
	if c.Risk.ATRMultiplier <= 0 {
		return ValidationError{
			Field:   "risk.atr_multiplier",
			Value:   c.Risk.ATRMultiplier,
			Message: "must be positive",
		}
	}
	if c.Risk.TierOnePnlPct <= 0 || c.Risk.TierOneRMultiple <= 0 {
		return ValidationError{
			Field:   "risk.tier_one",
			Message: "tier one thresholds must be positive",
		}
	}
	if c.Risk.TierTwoPnlPct <= c.Risk.TierOnePnlPct || c.Risk.TierTwoRMultiple <= c.Risk.TierOneRMultiple {
		return ValidationError{
			Field:   "risk.tier_two",
			Message: "tier two thresholds must exceed tier one",
		}
	}
	return nil
}

func (c *Config) validateBreaker() error {
	if c.Breaker.FailureThreshold <= 0 {
		return ValidationError{
			Field:   "circuit_breaker.failure_threshold",
			Value:   c.Breaker.FailureThreshold,
			Message: "must be positive",
		}
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return ValidationError{
			Field:   "circuit_breaker.success_threshold",
			Value:   c.Breaker.SuccessThreshold,
			Message: "must be positive",
		}
	}
	if c.Breaker.ResetTimeoutSec <= 0 {
		return ValidationError{
			Field:   "circuit_breaker.reset_timeout_sec",
			Value:   c.Breaker.ResetTimeoutSec,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = maskString(configCopy.Exchange.APIKey)
	configCopy.Exchange.SecretKey = maskString(configCopy.Exchange.SecretKey)
	configCopy.Redis.Password = maskString(configCopy.Redis.Password)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the baseline configuration; file and environment
// values are overlaid on top of it.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:         "futuresbot",
			DatabasePath: "futuresbot.db",
			AdminPort:    8080,
		},
		Exchange: ExchangeConfig{
			Testnet: false,
		},
		Redis: RedisConfig{
			Host:   "localhost",
			Port:   6379,
			DB:     0,
			Prefix: "futuresbot",
		},
		Trading: TradingConfig{
			Symbol:        "BTCUSDT",
			KlineInterval: "1m",
			HistoryLimit:  200,
		},
		Strategy: StrategyConfig{
			FastPeriod:   12,
			SlowPeriod:   26,
			SignalPeriod: 9,
		},
		Risk: RiskConfig{
			MaxRiskPerTradePct:  0.02,
			MaxExposurePct:      0.5,
			MaxRelativeDrawdown: 0.05,
			MaxAbsoluteDrawdown: 0.10,
			ATRPeriod:           14,
			ATRMultiplier:       1.0,
			TierOnePnlPct:       0.01,
			TierOneRMultiple:    1.5,
			TierTwoPnlPct:       0.02,
			TierTwoRMultiple:    2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 10,
			SuccessThreshold: 3,
			ResetTimeoutSec:  60,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
