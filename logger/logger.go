// Package logger holds the process-wide zap logger.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger        = zap.NewNop()
	Sugar *zap.SugaredLogger = Log.Sugar()
)

// Init initializes the global logger configuration.
// Without verbose only warnings and errors are written, to stderr, so the
// terminal session stays readable.
func Init(verbose bool) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	InitLevel(level)
}

// InitLevel is Init with an explicit level.
func InitLevel(level zapcore.Level) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewJSONEncoder(encoderConfig)
	writer := zapcore.AddSync(os.Stderr)

	core := zapcore.NewCore(encoder, writer, level)

	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()
}

// ParseLevel maps a textual level ("debug", "info", ...) to a zap level,
// falling back to info for unknown values.
func ParseLevel(s string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}
