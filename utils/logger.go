package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// GetLogger returns the process-wide structured logger. The level is taken
// from LOG_LEVEL (debug, info, warn, error) and defaults to info.
func GetLogger() *slog.Logger {
	loggerOnce.Do(func() {
		opts := &slog.HandlerOptions{Level: levelFromString(GetEnv("LOG_LEVEL", "info"))}
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	})
	return logger
}

func levelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
