package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger configures the global slog default logger from the logging section of
// the configuration and writes to stdout.
//
// format: "json" selects the JSON handler; anything else selects the text handler.
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
func SetupLogger(format, level string) {
	logger := NewLogger(os.Stdout, format, level)
	slog.SetDefault(logger)
	slog.Info("logger initialised", "format", format, "level", parseLevel(level).String())
}

// NewLogger builds a logger over w without installing it as the default.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaskEmail keeps the first character of the local part and the full domain,
// so log lines can be correlated without recording the address itself.
//
//	MaskEmail("ana@example.com") == "a***@example.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
