//go:build singleslot_debug

package singleslot

import (
	"log/slog"
	"os"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})).
	With("pkg", "singleslot")

// SetLogger replaces the logger used for debug events.
func SetLogger(l *slog.Logger) {
	defaultLogger = l
}

func debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}
