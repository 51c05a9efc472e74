// Package log builds and defaults the zap loggers handed to lanes,
// contexts and the persistence manager
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production logger writing JSON to stderr at
// the named level (debug, info, warn, error, ...)
func New(level string) (*zap.Logger, error) {
	var l zapcore.Level

	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(l)

	return config.Build()
}

// OrDefault returns logger unless it is nil, in which
// case it returns the global zap logger.
func OrDefault(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.L()
	}

	return logger
}
