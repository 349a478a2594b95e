// Package logging builds the slog logger used across the service.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a slog logger backed by a charmbracelet/log handler writing
// to w at the given level (debug, info, warn, error). Unknown levels fall
// back to info.
func New(w io.Writer, level string) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		Level:           ParseLevel(level),
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})
	return slog.New(handler)
}

// NewJSON is New with JSON output, for environments that ship logs to a
// collector such as CloudWatch.
func NewJSON(w io.Writer, level string) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		Level:           ParseLevel(level),
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		Formatter:       log.JSONFormatter,
	})
	return slog.New(handler)
}

// ParseLevel maps a level name to a charmbracelet/log level.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
