package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger to keep construction (level/format/output
// parsing) in one place instead of scattered across cmd/posehostd.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration, read from the host's logging section.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"
	Output string // "stdout", "file"
	File   string // path to log file, when Output is "file"
	// Service is attached to every record as a "service" field, so logs
	// from posehostd can be told apart from any other process writing to
	// the same aggregator.
	Service string
}

// New builds a Logger from Config. A file Output that fails to open falls
// back to stdout rather than losing logs.
func New(config Config) *Logger {
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	writer := os.Stdout
	if config.Output == "file" && config.File != "" {
		if f, err := os.OpenFile(config.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			writer = f
		}
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	base := slog.New(handler)
	if config.Service != "" {
		base = base.With("service", config.Service)
	}

	return &Logger{Logger: base}
}
