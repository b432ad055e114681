// Package logging gives every long-lived worker in codplayer a small,
// injectable logger instead of a global. The shape follows the same
// Mode+Logger pair used by the cgo disc-reading layer: pick a
// destination once at construction, never reach for a package-level
// logger from inside a worker loop.
package logging

import (
	"io"
	"log"
	"os"
)

// Mode selects where a Logger's output goes.
type Mode int

const (
	// Silent discards all log output.
	Silent Mode = iota
	// Stderr writes to os.Stderr with a timestamp prefix.
	Stderr
	// Custom uses the *log.Logger passed to New.
	Custom
)

// Logger is a minimal leveled logger: an info line and a debug line,
// matching the player.py convention of a "log" call for
// operator-visible events and a "debug" call for everything else.
type Logger struct {
	mode   Mode
	logger *log.Logger
	debug  bool
}

// New creates a Logger writing according to mode. custom is only
// consulted when mode == Custom. debug enables the Debugf output.
func New(mode Mode, custom *log.Logger, debug bool) *Logger {
	l := &Logger{mode: mode, debug: debug}
	switch mode {
	case Stderr:
		l.logger = log.New(os.Stderr, "", log.LstdFlags)
	case Custom:
		if custom == nil {
			custom = log.New(io.Discard, "", 0)
		}
		l.logger = custom
	default:
		l.logger = log.New(io.Discard, "", 0)
	}
	return l
}

// Printf logs an operator-visible line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.mode == Silent {
		return
	}
	l.logger.Printf(format, args...)
}

// Debugf logs a line only when debug output was enabled at construction.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug || l.mode == Silent {
		return
	}
	l.logger.Printf("debug: "+format, args...)
}
