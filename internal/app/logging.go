package app

import (
	"go.uber.org/zap"
)

// LoggingConfig configures logging wiring.
type LoggingConfig struct {
	Logger *zap.Logger
}

// Logging bundles the application logger.
type Logging struct {
	Logger *zap.Logger
}

// NewLogging constructs logging dependencies.
func NewLogging(cfg LoggingConfig) Logging {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return Logging{Logger: logger.Named("app")}
}

// NewLogger returns the logger from a Logging bundle.
func NewLogger(logging Logging) *zap.Logger {
	return logging.Logger
}
