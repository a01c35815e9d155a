// Package logging builds the zerolog loggers used across the manager.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New returns a human readable logger writing to w. Debug output is
// enabled or disabled globally with SetDebugEnabled.
func New(w io.Writer, debug bool) zerolog.Logger {
	SetDebugEnabled(debug)

	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetDebugEnabled switches debug level output on or off
func SetDebugEnabled(enabled bool) {
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
