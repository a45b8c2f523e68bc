package bootstrap

import (
	"spot_trader/pkg/logging"
)

// InitLogger builds the process logger from configuration.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel, logging.Options{File: cfg.System.LogFile})
	if err != nil {
		return nil, err
	}
	return logger, nil
}
