package tasks

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger routes robfig/cron logging to slog. Routine scheduling chatter
// goes to debug.
type cronLogger struct{}

var _ cron.Logger = cronLogger{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
