package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a JSON logger writing to writer (stdout when nil) at the given level.
func New(level string, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = os.Stdout
	}

	opts := slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	return slog.New(slog.NewJSONHandler(writer, &opts))
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
