package observability

import "go.uber.org/zap"

// CronLogger adapts a zap logger to the logger interface robfig/cron
// expects, so scheduler panics and skips land in the same stream.
type CronLogger struct {
	L *zap.SugaredLogger
}

func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.L.Debugw("cron: "+msg, keysAndValues...)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.L.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
