package siridb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, ParseLogLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLogLevel("bogus"))
	assert.Equal(t, zapcore.DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLogLevel("warn"))
}

func TestNewLoggerBuildsWithoutError(t *testing.T) {
	logger, err := NewLogger(zapcore.InfoLevel)
	assert.NoError(t, err)
	assert.NotNil(t, logger)
	logger.Info("boot", zapLevelField(zapcore.InfoLevel))
}

func zapLevelField(lvl zapcore.Level) zapcore.Field {
	return zapcore.Field{Key: "level", Type: zapcore.StringType, String: lvl.String()}
}
