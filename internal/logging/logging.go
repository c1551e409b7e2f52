// Package logging builds the zap.Logger shared by every component in the
// cache engine. Production deployments get JSON output at the configured
// level; local/dev runs get the console-friendly development config.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Environment is "production", "staging", or "development".
	Environment string
	// Level is one of "debug", "info", "warn", "error".
	Level string
}

// New builds a *zap.Logger for the given environment/level. An empty
// Config yields a development logger at info level.
func New(cfg Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Environment == "production" || cfg.Environment == "staging" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := levelFor(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging.New: build zap logger: %w", err)
	}
	return logger, nil
}

func levelFor(level string) (zapcore.Level, error) {
	switch level {
	case "", "info":
		return zap.InfoLevel, nil
	case "debug":
		return zap.DebugLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("logging.New: unknown level %q", level)
	}
}

// Nop returns a logger that discards everything, for tests and components
// constructed without an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
