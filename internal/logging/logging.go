// Package logging builds the zap logger subhub runs on and adapts it
// to registry.Logger, grounded on the sibling example's
// internal/logging.NewLogger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hevyhomie/subhub/internal/config"
	"github.com/hevyhomie/subhub/pkg/registry"
)

// New builds a zap logger from cfg.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: cfg.Development,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// RegistryLogger adapts a *zap.SugaredLogger to registry.Logger, so
// every per-topic Registry logs through the same structured sink the
// rest of the process uses.
type RegistryLogger struct {
	sugar *zap.SugaredLogger
}

func NewRegistryLogger(base *zap.Logger) *RegistryLogger {
	return &RegistryLogger{sugar: base.Sugar()}
}

func (l *RegistryLogger) ShouldLog(level registry.LogLevel) bool {
	switch level {
	case registry.LevelDebug:
		return l.sugar.Desugar().Core().Enabled(zapcore.DebugLevel)
	case registry.LevelWarn:
		return l.sugar.Desugar().Core().Enabled(zapcore.WarnLevel)
	case registry.LevelError:
		return l.sugar.Desugar().Core().Enabled(zapcore.ErrorLevel)
	default:
		return true
	}
}

func (l *RegistryLogger) Log(level registry.LogLevel, msg string, fields ...any) {
	switch level {
	case registry.LevelDebug:
		l.sugar.Debugw(msg, fields...)
	case registry.LevelWarn:
		l.sugar.Warnw(msg, fields...)
	case registry.LevelError:
		l.sugar.Errorw(msg, fields...)
	default:
		l.sugar.Infow(msg, fields...)
	}
}
