// Package logx builds the process logger. Logs go to stderr so stdout stays
// reserved for rendered envelopes.
package logx

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a zerolog logger writing to w at level. Unknown levels fall
// back to info; an empty format means console.
func New(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var sink io.Writer = w
	if strings.ToLower(strings.TrimSpace(format)) != FormatJSON {
		sink = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	}
	return zerolog.New(sink).Level(lvl).With().Timestamp().Str("service", "relay").Logger()
}

// Nop discards everything; components default to it when no logger is set.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
