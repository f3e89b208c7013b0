//go:build !singleslot_debug

package singleslot

import "log/slog"

// SetLogger sets the logger used for debug events.
// Without the singleslot_debug build tag it does nothing; the signature is
// kept so callers compile in both modes.
func SetLogger(l *slog.Logger) {}

// debug is a no-op in release builds and is inlined away.
func debug(msg string, args ...any) {}
