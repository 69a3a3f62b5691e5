package ralph

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the structured logger EventLoop writes one line to per
// iteration. Output defaults to os.Stderr in console-writer form; pass a
// different writer (e.g. a file, or io.Discard in tests) via w.
func NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// DiscardLogger returns a logger that writes nowhere, used as the
// EventLoop default when no logger option is supplied.
func DiscardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
