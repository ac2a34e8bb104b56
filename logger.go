package siridb

import (
	"os"

	"github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// defaultLogger is a no-op logger; no code in this module logs through
// it (configured loggers come from NewLogger).
var defaultLogger = zap.NewNop()

// NewLogger builds the process-wide logger: logfmt-encoded, written to
// stderr, at the given level. The teacher's daemons build one *zap.Logger
// at startup and pass it down explicitly rather than reaching for a
// global, so NewLogger's result is meant to be threaded through Engine/
// Database construction, not stashed in a package variable.
func NewLogger(level zapcore.Level) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zaplogfmt.NewEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller()), nil
}

// ParseLogLevel maps the SIRIDB_LOG_LEVEL-equivalent config string to a
// zapcore.Level, defaulting to info on an empty or unrecognized value.
func ParseLogLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
