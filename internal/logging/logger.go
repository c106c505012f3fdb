// Package logging provides zap logger helpers and the shared global logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the global logger, set by InitLogger. It defaults to a no-op logger
// so packages can log safely before initialization.
var L = zap.NewNop()

// InitLogger builds the global logger once at startup. Development mode is
// selected with the LEXARC_DEV environment variable.
func InitLogger() {
	development := os.Getenv("LEXARC_DEV") != ""
	logger, err := New(development)
	if err != nil {
		// Nothing sensible to do without a logger.
		panic(fmt.Sprintf("initialize logger: %v", err))
	}
	L = logger
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
