package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"spot_trader/internal/config"
	"spot_trader/internal/engine/spot"
	"spot_trader/internal/trading/indicator"
	"spot_trader/internal/trading/position"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// LoadStoreConfig loads a configuration that is only used to open the trade log.
// Exchange credentials are not required.
func LoadStoreConfig(path string) (*Config, error) {
	cfg, err := config.LoadStorageConfig(path)
	if err != nil {
		return nil, err
	}
	if err := checkStoragePath(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if err := checkStoragePath(cfg); err != nil {
		return err
	}
	if cfg.System.LogFile != "" {
		if err := dirExists(cfg.System.LogFile); err != nil {
			return fmt.Errorf("system.log_file: %w", err)
		}
	}
	return nil
}

func checkStoragePath(cfg *Config) error {
	if cfg.Storage.Driver != spot.DriverSQLite {
		return nil
	}
	if err := dirExists(cfg.Storage.DSN); err != nil {
		return fmt.Errorf("storage.dsn: %w", err)
	}
	return nil
}

func dirExists(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// EngineConfig maps the file configuration onto the engine parameters.
func EngineConfig(cfg *Config) spot.Config {
	t := cfg.Trading
	return spot.Config{
		Symbol:      t.Symbol,
		Interval:    t.Interval,
		CandleLimit: t.CandleLimit,
		Indicators: indicator.Params{
			FastPeriod: t.EMAFastPeriod,
			SlowPeriod: t.EMASlowPeriod,
			RSIPeriod:  t.RSIPeriod,
		},
		Rules: position.Rules{
			Symbol:            t.Symbol,
			RSILower:          t.RSILower,
			RSIUpper:          t.RSIUpper,
			StopLossPercent:   t.StopLossPercent,
			TakeProfitPercent: t.TakeProfitPercent,
		},
		ReservedQuote:      t.ReservedQuote,
		ResumeOpenPosition: cfg.App.ResumeOpenPosition,
	}
}

// OpenStore opens the configured trade log
func OpenStore(cfg *Config) (*spot.SQLStore, error) {
	store, err := spot.NewSQLStore(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("trade store: %w", err)
	}
	return store, nil
}
