// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Trading   TradingConfig   `yaml:"trading"`
	Timing    TimingConfig    `yaml:"timing"`
	Storage   StorageConfig   `yaml:"storage"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name string `yaml:"name"`
	// ResumeOpenPosition restores a trailing BUY from the trade log on startup.
	ResumeOpenPosition bool `yaml:"resume_open_position"`
}

// ExchangeConfig contains exchange connection settings
type ExchangeConfig struct {
	Name                  string  `yaml:"name"`
	APIKey                Secret  `yaml:"api_key"`
	SecretKey             Secret  `yaml:"secret_key"`
	BaseURL               string  `yaml:"base_url"` // Optional override for API URL
	Testnet               bool    `yaml:"testnet"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	ReadRetries           int     `yaml:"read_retries"`
	OrderRateLimit        float64 `yaml:"order_rate_limit"` // orders per second
}

// TradingConfig contains strategy parameters
type TradingConfig struct {
	Symbol        string `yaml:"symbol"`
	Interval      string `yaml:"interval"`
	CandleLimit   int    `yaml:"candle_limit"`
	EMAFastPeriod int    `yaml:"ema_fast_period"`
	EMASlowPeriod int    `yaml:"ema_slow_period"`
	RSIPeriod     int    `yaml:"rsi_period"`
	// Entry requires RSILower < RSI < RSIUpper.
	// Ratios and amounts decode straight into decimals so no value passes through float64.
	RSILower          decimal.Decimal `yaml:"rsi_lower"`
	RSIUpper          decimal.Decimal `yaml:"rsi_upper"`
	StopLossPercent   decimal.Decimal `yaml:"stop_loss_percent"`
	TakeProfitPercent decimal.Decimal `yaml:"take_profit_percent"`
	ReservedQuote     decimal.Decimal `yaml:"reserved_quote"`
}

// TimingConfig contains loop timing
type TimingConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	ErrorDelaySeconds   int `yaml:"error_delay_seconds"`
}

// StorageConfig selects the trade log backend
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
}

// AlertsConfig configures notification channels. A channel without
// credentials is disabled.
type AlertsConfig struct {
	PoolSize   int            `yaml:"pool_size"`
	PoolBuffer int            `yaml:"pool_buffer"`
	Telegram   TelegramConfig `yaml:"telegram"`
	Slack      SlackConfig    `yaml:"slack"`
}

type TelegramConfig struct {
	BotToken Secret `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type SlackConfig struct {
	WebhookURL Secret `yaml:"webhook_url"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

var (
	validIntervals = []string{
		"1s", "1m", "3m", "5m", "15m", "30m",
		"1h", "2h", "4h", "6h", "8h", "12h",
		"1d", "3d", "1w", "1M",
	}
	validLevels    = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	validDrivers   = []string{"sqlite3", "mysql"}
	validExchanges = []string{"binance_spot"}
)

// MaxCandleLimit is the largest kline page the exchange serves.
const MaxCandleLimit = 1000

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// Values absent from the file keep their DefaultConfig value.
func LoadConfig(filename string) (*Config, error) {
	return load(filename, (*Config).Validate)
}

// LoadStorageConfig reads the same file but only checks the storage section,
// for read-only tools that never talk to the exchange.
func LoadStorageConfig(filename string) (*Config, error) {
	return load(filename, (*Config).ValidateStorage)
}

func load(filename string, validate func(*Config) error) (*Config, error) {
	if err := loadDotEnv(".", filepath.Dir(filename)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func loadDotEnv(dirs ...string) error {
	seen := make(map[string]bool)
	for _, dir := range dirs {
		path, err := filepath.Abs(filepath.Join(dir, ".env"))
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true

		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var problems []ValidationError
	problems = append(problems, c.validateExchange()...)
	problems = append(problems, c.validateTrading()...)
	problems = append(problems, c.validateTiming()...)
	problems = append(problems, c.validateStorage()...)
	problems = append(problems, c.validateSystem()...)
	return joinProblems(problems)
}

// ValidateStorage checks only the trade log settings.
func (c *Config) ValidateStorage() error {
	return joinProblems(c.validateStorage())
}

func joinProblems(problems []ValidationError) error {
	if len(problems) == 0 {
		return nil
	}

	lines := make([]string, len(problems))
	for i, p := range problems {
		lines[i] = p.Error()
	}
	return fmt.Errorf("configuration validation failed:\n%s", strings.Join(lines, "\n"))
}

func (c *Config) validateExchange() []ValidationError {
	var errs []ValidationError
	ex := c.Exchange

	if !contains(validExchanges, ex.Name) {
		errs = append(errs, ValidationError{
			Field:   "exchange.name",
			Value:   ex.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		})
	}
	if !ex.APIKey.IsSet() {
		errs = append(errs, ValidationError{Field: "exchange.api_key", Message: "API key is required"})
	}
	if !ex.SecretKey.IsSet() {
		errs = append(errs, ValidationError{Field: "exchange.secret_key", Message: "secret key is required"})
	}
	if ex.RequestTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "exchange.request_timeout_seconds",
			Value:   ex.RequestTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if ex.ReadRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "exchange.read_retries",
			Value:   ex.ReadRetries,
			Message: "must not be negative",
		})
	}
	if ex.OrderRateLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "exchange.order_rate_limit",
			Value:   ex.OrderRateLimit,
			Message: "must be positive",
		})
	}
	return errs
}

func (c *Config) validateTrading() []ValidationError {
	var errs []ValidationError
	t := c.Trading

	if t.Symbol == "" {
		errs = append(errs, ValidationError{Field: "trading.symbol", Message: "trading symbol is required"})
	}
	if !contains(validIntervals, t.Interval) {
		errs = append(errs, ValidationError{
			Field:   "trading.interval",
			Value:   t.Interval,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validIntervals, ", ")),
		})
	}

	periods := []struct {
		field string
		value int
	}{
		{"trading.ema_fast_period", t.EMAFastPeriod},
		{"trading.ema_slow_period", t.EMASlowPeriod},
		{"trading.rsi_period", t.RSIPeriod},
	}
	for _, p := range periods {
		if p.value < 1 {
			errs = append(errs, ValidationError{Field: p.field, Value: p.value, Message: "must be at least 1"})
		}
	}
	if t.EMAFastPeriod >= 1 && t.EMAFastPeriod >= t.EMASlowPeriod {
		errs = append(errs, ValidationError{
			Field:   "trading.ema_fast_period",
			Value:   t.EMAFastPeriod,
			Message: fmt.Sprintf("must be below ema_slow_period (%d)", t.EMASlowPeriod),
		})
	}

	if t.CandleLimit < t.RSIPeriod+1 || t.CandleLimit > MaxCandleLimit {
		errs = append(errs, ValidationError{
			Field:   "trading.candle_limit",
			Value:   t.CandleLimit,
			Message: fmt.Sprintf("must be between rsi_period+1 (%d) and %d", t.RSIPeriod+1, MaxCandleLimit),
		})
	}

	hundred := decimal.NewFromInt(100)
	if t.RSILower.IsNegative() || t.RSIUpper.GreaterThan(hundred) || !t.RSILower.LessThan(t.RSIUpper) {
		errs = append(errs, ValidationError{
			Field:   "trading.rsi_lower",
			Value:   fmt.Sprintf("%v..%v", t.RSILower, t.RSIUpper),
			Message: "need 0 <= rsi_lower < rsi_upper <= 100",
		})
	}
	if !t.StopLossPercent.IsPositive() || !t.StopLossPercent.LessThan(decimal.NewFromInt(1)) {
		errs = append(errs, ValidationError{
			Field:   "trading.stop_loss_percent",
			Value:   t.StopLossPercent,
			Message: "must be in (0, 1)",
		})
	}
	if !t.TakeProfitPercent.IsPositive() {
		errs = append(errs, ValidationError{
			Field:   "trading.take_profit_percent",
			Value:   t.TakeProfitPercent,
			Message: "must be positive",
		})
	}
	if t.ReservedQuote.IsNegative() {
		errs = append(errs, ValidationError{
			Field:   "trading.reserved_quote",
			Value:   t.ReservedQuote,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateTiming() []ValidationError {
	var errs []ValidationError
	if c.Timing.TickIntervalSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "timing.tick_interval_seconds",
			Value:   c.Timing.TickIntervalSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Timing.ErrorDelaySeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "timing.error_delay_seconds",
			Value:   c.Timing.ErrorDelaySeconds,
			Message: "must be at least 1",
		})
	}
	return errs
}

func (c *Config) validateStorage() []ValidationError {
	var errs []ValidationError
	if !contains(validDrivers, c.Storage.Driver) {
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Value:   c.Storage.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validDrivers, ", ")),
		})
	}
	if c.Storage.DSN == "" {
		errs = append(errs, ValidationError{Field: "storage.dsn", Message: "dsn is required"})
	}
	return errs
}

func (c *Config) validateSystem() []ValidationError {
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return []ValidationError{{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}}
	}
	return nil
}

// TickInterval is the pause between successful ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Timing.TickIntervalSeconds) * time.Second
}

// ErrorDelay is the pause after a failed tick.
func (c *Config) ErrorDelay() time.Duration {
	return time.Duration(c.Timing.ErrorDelaySeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Exchange.RequestTimeoutSeconds) * time.Second
}

// String returns a YAML rendering with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

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

// DefaultConfig returns the stock strategy settings. Credentials are left empty.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "spot_trader",
		},
		Exchange: ExchangeConfig{
			Name:                  "binance_spot",
			RequestTimeoutSeconds: 10,
			ReadRetries:           2,
			OrderRateLimit:        5,
		},
		Trading: TradingConfig{
			Symbol:            "DOGEUSDT",
			Interval:          "1m",
			CandleLimit:       100,
			EMAFastPeriod:     9,
			EMASlowPeriod:     21,
			RSIPeriod:         14,
			RSILower:          decimal.NewFromInt(30),
			RSIUpper:          decimal.NewFromInt(70),
			StopLossPercent:   decimal.RequireFromString("0.01"),
			TakeProfitPercent: decimal.RequireFromString("0.02"),
			ReservedQuote:     decimal.NewFromInt(20),
		},
		Timing: TimingConfig{
			TickIntervalSeconds: 10,
			ErrorDelaySeconds:   10,
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DSN:    "trades.db",
		},
		System: SystemConfig{
			LogLevel: "INFO",
			LogFile:  "trading_bot.log",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Alerts: AlertsConfig{
			PoolSize:   2,
			PoolBuffer: 64,
		},
	}
}
