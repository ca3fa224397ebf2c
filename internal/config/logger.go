package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL. WARNING is accepted alongside WARN.
func ParseLogLevel(raw string) (slog.Level, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "WARNING" {
		value = "WARN"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
	return level, nil
}

// NewLogger builds the process logger: JSON in production, text elsewhere.
// An empty or unparsable level falls back to INFO in production and DEBUG
// otherwise.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: env == "development",
		Level:     slog.LevelDebug,
	}
	if env == "production" {
		opts.Level = slog.LevelInfo
	}
	if level != "" {
		if parsed, err := ParseLogLevel(level); err == nil {
			opts.Level = parsed
		}
	}

	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
