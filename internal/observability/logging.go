package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the process logger. Development environments get the
// console encoder; everything else logs JSON without sampling so contention
// bursts are not silently thinned out.
func InitLogger(dev bool, level string) (*zap.SugaredLogger, error) {
	logConfig := zap.NewProductionConfig()
	if dev {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Sampling = nil
	logConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	logConfig.DisableStacktrace = true
	logConfig.Level = zap.NewAtomicLevelAt(DetermineLogLevel(level, dev))

	logger, err := logConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func DetermineLogLevel(level string, dev bool) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	}
	if dev {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}
