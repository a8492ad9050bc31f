package messaging

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's printf-style logger into slog.
type slogAdapter struct {
	log *slog.Logger
}

func newWALogger(log *slog.Logger, module string) waLog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return slogAdapter{log: log.With("module", "whatsmeow/"+module)}
}

func (a slogAdapter) Errorf(msg string, args ...interface{}) {
	a.emit(slog.LevelError, msg, args)
}

func (a slogAdapter) Warnf(msg string, args ...interface{}) {
	a.emit(slog.LevelWarn, msg, args)
}

func (a slogAdapter) Infof(msg string, args ...interface{}) {
	a.emit(slog.LevelInfo, msg, args)
}

// Debugf is noisy at the protocol level; it only reaches slog's debug level.
func (a slogAdapter) Debugf(msg string, args ...interface{}) {
	a.emit(slog.LevelDebug, msg, args)
}

func (a slogAdapter) Sub(module string) waLog.Logger {
	return slogAdapter{log: a.log.With("sub", module)}
}

func (a slogAdapter) emit(level slog.Level, msg string, args []interface{}) {
	ctx := context.Background()
	if !a.log.Enabled(ctx, level) {
		return
	}
	a.log.Log(ctx, level, "messaging.whatsmeow", "msg", fmt.Sprintf(msg, args...))
}
