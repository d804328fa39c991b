// Package telemetry provides the process-wide structured logger and
// Prometheus collectors shared by the coordinator, document authorities,
// and client sessions.
package telemetry

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// InitLogging initializes the global logger for the given level
// ("debug", "info", "warn", "error"). Safe to call multiple times; only
// the first call takes effect.
func InitLogging(level string) {
	once.Do(func() {
		var cfg zap.Config
		if os.Getenv("ENVIRONMENT") == "production" {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "ts"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}

		var err error
		logger, err = cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			logger = zap.NewNop()
		}
	})
}

// L returns the global structured logger, initializing it with default
// settings if InitLogging has not yet been called.
func L() *zap.Logger {
	if logger == nil {
		InitLogging("info")
	}
	return logger
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// WithDocument returns a logger scoped to a document, the grouping used
// throughout internal/authority and internal/coordinator.
func WithDocument(documentID string) *zap.Logger {
	return L().With(zap.String("documentId", documentID))
}

// WithClient returns a logger scoped to a client.
func WithClient(clientID string) *zap.Logger {
	return L().With(zap.String("clientId", clientID))
}
