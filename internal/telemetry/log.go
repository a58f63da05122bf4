package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. Level comes from DEALLINE_LOG_LEVEL
// (debug, info, warn, error), defaulting to info.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromEnv(),
	}))
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("DEALLINE_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
