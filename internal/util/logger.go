package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger builds the process logger: JSON in production, coloured console
// otherwise. level overrides the default (info in production, debug elsewhere).
func InitLogger(env, level string) error {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := config.Build(zap.Fields(
		zap.String("service", "sales-service"),
		zap.String("env", env),
	))
	if err != nil {
		return err
	}

	SetLogger(l)
	return nil
}

// GetLogger returns the process logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// SetLogger replaces the process logger. Components capture the logger when
// constructed, so tests observing output call this first.
func SetLogger(l *zap.Logger) {
	logger = l
	zap.ReplaceGlobals(l)
}
