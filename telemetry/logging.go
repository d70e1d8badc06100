package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. level is debug|info|warn|error (default info),
// format is text|json (default text). The second return is false when level was not recognized.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, bool) {
	lvl := slog.LevelInfo
	known := true
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		known = false
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(handler), known
}
