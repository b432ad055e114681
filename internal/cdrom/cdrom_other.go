//go:build !linux

package cdrom

import (
	"fmt"
	"log"
)

// LogMode is kept for API parity with the Linux build; it has no
// effect here since there is no underlying driver to log from.
type LogMode int

const (
	LogSilent LogMode = iota
	LogStderr
	LogCustom
)

// Reader is a non-Linux stub: libcdparanoia is Linux-only, so there is
// no real drive to read on this platform, mirroring
// cbindings_nonlinux.go's "no hardware here" split.
type Reader struct {
	Device  string
	LogMode LogMode
	Logger  *log.Logger
}

func (r *Reader) Open() error { return fmt.Errorf("cdrom: not supported on this platform") }

func (r *Reader) ReadTOC() (BasicTOC, error) {
	return BasicTOC{}, fmt.Errorf("cdrom: not supported on this platform")
}

func (r *Reader) Close() error { return nil }

// Version reports that no driver is available.
func Version() string { return "unavailable (non-linux build)" }
