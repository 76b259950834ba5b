package logging

import (
	"log/slog"
	"os"
)

// NewLogger creates a structured logger in the requested format, "json" or
// "text". Anything unrecognized falls back to JSON.
func NewLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
