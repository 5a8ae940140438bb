// Package logging builds the zap loggers used by the command line tool and
// the server.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LevelInfo sets the log level to info
	LevelInfo = "info"

	// LevelDebug sets the log level to debug
	LevelDebug = "debug"

	// LevelNone disables logging
	LevelNone = "none"
)

// GetLogger returns a production zap logger with the specified level.
// An empty level means info.
func GetLogger(level string) (*zap.Logger, error) {
	if level == LevelNone {
		return zap.NewNop(), nil
	}
	if level == "" {
		level = LevelInfo
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.DisableStacktrace = lvl > zapcore.DebugLevel
	return zapConfig.Build()
}

// MustGetLogger returns a zap logger with the specified level or panics
func MustGetLogger(level string) *zap.Logger {
	l, err := GetLogger(level)
	if err != nil {
		panic(err)
	}
	return l
}
