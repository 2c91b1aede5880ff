// Package logger provides the module's single structured-logging entry
// point, following the pack's backend-go logging package: a lazily
// initialized global *zap.Logger plus helper functions that attach
// call-control-specific fields.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Init sets up the global logger. Safe to call multiple times; only the
// first call takes effect. development=true switches to a human-readable
// console encoder instead of JSON.
func Init(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// Get returns the global logger, falling back to a new zap development
// logger (debug level, console output to stderr) if Init was never called
// (e.g. in tests).
func Get() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// ForCall returns a child logger scoped to one call/room, attaching the
// fields every CallController log line should carry.
func ForCall(roomID string, joinAttemptSerial uint64) *zap.Logger {
	return Get().With(
		zap.String("room_id", roomID),
		zap.Uint64("join_attempt", joinAttemptSerial),
	)
}
