// Package logger wraps zap with the fields the service logs everywhere.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
}

type Config struct {
	Level       string // debug, info, warn, error
	Development bool
	OutputPaths []string
}

func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if cfg.Development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		config.OutputPaths = cfg.OutputPaths
	}

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zapLogger.Sugar()}, nil
}

// Nop discards everything. Tests and optional dependencies use it.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{l.SugaredLogger.With(keysAndValues...)}
}

func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l.SugaredLogger.With("component", name)}
}

// OrNop lets constructors accept a nil *Logger.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}
