package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Output formats accepted by New.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json, pretty
	Writer io.Writer
}

// New builds a logger whose handler is wrapped in a CorrelationHandler.
// Empty fields default to info level, text format and stderr.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var inner slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		inner = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case FormatJSON:
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatPretty:
		inner = charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           charmlog.Level(level),
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(NewCorrelationHandler(inner)), nil
}

// ParseLevel maps a level name to a slog.Level. "" means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
