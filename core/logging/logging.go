package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger on stdout. JSON if BINSCAN_JSON_LOG=1/true/json else text.
func Init(service string) *slog.Logger {
	return InitWriter(service, os.Stdout)
}

// InitWriter is Init with an explicit destination. The CLI logs to stderr so
// that reports written to stdout stay parseable.
func InitWriter(service string, w io.Writer) *slog.Logger {
	json := jsonFromEnv()
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Debug("logging initialized", "json", json)
	return logger
}

func jsonFromEnv() bool {
	mode := strings.ToLower(os.Getenv("BINSCAN_JSON_LOG"))
	return mode == "1" || mode == "true" || mode == "json"
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("BINSCAN_LOG_LEVEL")) {
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
