package main

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// logrusHandler is a slog.Handler that forwards records into a logrus
// logger, so the engine's structured slog.Logger and this binary's own
// logrus-configured output share one sink and one level (spec A.1).
type logrusHandler struct {
	entry *logrus.Entry
}

func newLogrusHandler(log *logrus.Logger) *logrusHandler {
	return &logrusHandler{entry: logrus.NewEntry(log)}
}

func (h *logrusHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.entry.Logger.IsLevelEnabled(slogToLogrusLevel(level))
}

func (h *logrusHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make(logrus.Fields, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	h.entry.WithFields(fields).Log(slogToLogrusLevel(record.Level), record.Message)
	return nil
}

func (h *logrusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make(logrus.Fields, len(attrs))
	for _, a := range attrs {
		fields[a.Key] = a.Value.Any()
	}
	return &logrusHandler{entry: h.entry.WithFields(fields)}
}

func (h *logrusHandler) WithGroup(name string) slog.Handler {
	// Groups have no logrus analogue; fold the group name into the entry
	// as a field prefix hint instead of nesting.
	return &logrusHandler{entry: h.entry.WithField("group", name)}
}

func slogToLogrusLevel(level slog.Level) logrus.Level {
	switch {
	case level >= slog.LevelError:
		return logrus.ErrorLevel
	case level >= slog.LevelWarn:
		return logrus.WarnLevel
	case level >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
