// Package logging provides structured logging for dot, with a colorized
// handler for terminal use and a Cloud Logging JSON handler for Cloud Run.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// Level represents a structured log level used by dot.
type Level slog.Level

const (
	// LevelDebug represents the debug logging level.
	LevelDebug Level = Level(slog.LevelDebug)
	// LevelInfo represents the informational logging level.
	LevelInfo Level = Level(slog.LevelInfo)
	// LevelWarn represents the warning logging level.
	LevelWarn Level = Level(slog.LevelWarn)
	// LevelError represents the error logging level.
	LevelError Level = Level(slog.LevelError)
)

// ParseLevel converts a textual log level into a Level value.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the handler wire format.
type Format string

const (
	// FormatText renders colorized terminal output via tint.
	FormatText Format = "text"
	// FormatCloud renders one JSON object per line in the shape Cloud
	// Logging ingests from Cloud Run stdout.
	FormatCloud Format = "cloud"
)

// ParseFormat converts a textual format name into a Format value.
func ParseFormat(value string) Format {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "cloud", "json":
		return FormatCloud
	default:
		return FormatText
	}
}

// NewLogger constructs a slog.Logger with the given format and level.
func NewLogger(w io.Writer, format Format, level Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	if format == FormatCloud {
		return slog.New(NewCloudHandler(w, slog.Level(level)))
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level: slog.Level(level),
	})

	return slog.New(handler)
}
