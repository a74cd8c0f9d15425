// Package logging builds the process slog handler: tint for terminals, JSON
// otherwise, always behind secret redaction.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Formats accepted by New
const (
	FormatAuto   = "auto"
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// New creates a redacting handler writing to w. FormatAuto picks pretty
// output when w is a terminal.
func New(format string, level slog.Level, w io.Writer) (slog.Handler, error) {
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", FormatAuto:
		if isTerminal(w) {
			h = pretty(w, level)
		} else {
			h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
		}
	case FormatPretty:
		h = pretty(w, level)
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return NewRedactHandler(h), nil
}

func pretty(w io.Writer, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
