// Package logger configures the process-wide structured logger. Output is
// JSON on stdout; the level comes from LOG_LEVEL.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var programLevel = new(slog.LevelVar)

// New builds the slog logger and installs it as the default. Call once at
// process start.
func New(service string) *slog.Logger {
	level, err := ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = slog.LevelInfo
	}
	programLevel.Set(level)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel})
	log := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(log)
	return log
}

// SetLevel changes the level of the running logger.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// ParseLevel maps a level name to a slog.Level. The empty string means INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
