// Package obslog configures the process-wide slog logger the same way
// libs/go/core/logging does for the rest of the fleet: JSON or text handler
// selected by an env var, level selected by another, both read once at
// startup.
package obslog

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures and installs the default slog logger for service, and
// returns it for callers that want to hold their own reference instead of
// going through slog.Default().
func Init(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("AISCHED_JSON_LOG"))
	jsonMode := mode == "1" || mode == "true" || mode == "json"

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	if jsonMode {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", jsonMode)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("AISCHED_LOG_LEVEL")) {
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
