package scheduler

import (
	"github.com/robfig/cron/v3"

	"github.com/bryan-buckman/aurora/internal/logger"
)

// cronLogger routes robfig/cron's own logging into the service logger.
// Its Info output (wake-ups, skipped overlaps) is demoted to debug.
type cronLogger struct {
	log logger.Interface
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
