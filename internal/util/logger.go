package util

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerOptions selects how the process logger is built
type LoggerOptions struct {
	// Env "production" writes JSON at info; anything else writes colored console output at debug
	Env     string
	Service string
	// Level overrides the env default when set (debug, info, warn, error)
	Level string
}

var (
	logger       atomic.Pointer[zap.Logger]
	fallbackOnce sync.Once
)

func loggerConfig(opts LoggerOptions) (zap.Config, error) {
	var config zap.Config
	if opts.Env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return config, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		config.Level = level
	}
	if opts.Service != "" {
		config.InitialFields = map[string]interface{}{"service": opts.Service}
	}
	return config, nil
}

// InitLogger builds the process logger and installs it as the zap global
func InitLogger(opts LoggerOptions) error {
	config, err := loggerConfig(opts)
	if err != nil {
		return err
	}

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	logger.Store(built)
	zap.ReplaceGlobals(built)
	return nil
}

// GetLogger returns the process logger. Before InitLogger runs it returns a
// development logger created once.
func GetLogger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	fallbackOnce.Do(func() {
		l, err := zap.NewDevelopment()
		if err != nil {
			l = zap.NewNop()
		}
		logger.CompareAndSwap(nil, l)
	})
	return logger.Load()
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if l := logger.Load(); l != nil {
		_ = l.Sync()
	}
}
