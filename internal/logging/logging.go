package logging

import (
	"io"
	"log"
	"os"
)

const prefix = "mosprobe "

// New returns the process logger. Reports go to stdout, so log lines go to
// w (stderr when nil).
func New(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.New(w, prefix, log.LstdFlags|log.LUTC)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
