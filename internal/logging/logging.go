// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
)

// New builds a text-format slog logger writing to w. Debug enables
// debug-level records and source locations.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	}))
}
