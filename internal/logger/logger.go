// Package logger builds the structured logger shared by the server and the
// worker.  Components receive it through their constructors.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger in production and a text logger everywhere
// else.  LOG_LEVEL (debug, info, warn, error) overrides the default info
// level.
func New(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level(os.Getenv("LOG_LEVEL"))}
	var h slog.Handler
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// Resolve returns l, or the process default when l is nil.
func Resolve(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func level(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
