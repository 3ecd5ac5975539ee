package database

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ortelius/pdvd-depscan/util"
)

// InitLogger sets up the Zap Logger to log to the console in a human readable format.
// LOG_LEVEL (debug, info, warn, error) overrides the default info level.
func InitLogger() *zap.Logger {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if level, err := zapcore.ParseLevel(util.GetEnvDefault("LOG_LEVEL", "info")); err == nil {
		prodConfig.Level = zap.NewAtomicLevelAt(level)
	}
	logger, _ := prodConfig.Build()
	return logger
}
