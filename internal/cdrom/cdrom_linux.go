//go:build linux

package cdrom

// #cgo LDFLAGS: -lcdda_interface -lcdda_paranoia
// #include <stdint.h>
// #include <stdlib.h>
// #include <cdda_interface.h>
// #include <cdda_paranoia.h>
import "C"

import (
	"log"
	"strings"
	"unsafe"
)

// LogMode directs where libcdparanoia's diagnostic output goes,
// mirroring software/audiocd/audiocd.go's LogMode field.
type LogMode int

const (
	LogSilent LogMode = iota
	LogStderr
	LogCustom
)

// Reader reads the basic table of contents from the cd drive. The
// zero value is ready to use; set Device to target a specific block
// device instead of the first one found.
type Reader struct {
	Device  string
	LogMode LogMode
	Logger  *log.Logger

	drive unsafe.Pointer // *C.cdrom_drive
}

// Open locates and opens the drive, spinning up paranoia just enough
// to read disc_toc; no sample-reading state is initialized.
func (r *Reader) Open() error {
	logLevel, logFlush := prepareLogs(r.LogMode, r.Logger)
	var p *C.char
	defer logFlush(unsafe.Pointer(p))

	var drive *C.cdrom_drive
	if r.Device == "" {
		drive = C.cdda_find_a_cdrom(logLevel, &p)
	} else {
		cstr := C.CString(r.Device)
		defer C.free(unsafe.Pointer(cstr))
		drive = C.cdda_identify(cstr, logLevel, &p)
	}
	if drive == nil {
		return ErrNoDrive
	}

	if rc := C.cdda_open(drive); rc != 0 {
		return parseError(rc)
	}
	r.drive = unsafe.Pointer(drive)
	return nil
}

// ReadTOC returns the disc's basic table of contents.
func (r *Reader) ReadTOC() (BasicTOC, error) {
	if r.drive == nil {
		return BasicTOC{}, ErrNotOpen
	}
	drive := (*C.cdrom_drive)(r.drive)
	ctoc := drive.disc_toc
	n := int(drive.tracks)

	entries := make([]TrackEntry, n+1)
	for i := range entries {
		entries[i] = TrackEntry{
			Flags:       Flag(ctoc[i].bFlags),
			TrackNum:    uint8(ctoc[i].bTrack),
			StartSector: int32(ctoc[i].dwStartSector),
		}
	}
	for i := 0; i < n; i++ {
		entries[i].LengthSectors = entries[i+1].StartSector - entries[i].StartSector
	}

	return BasicTOC{
		DriveModel:    C.GoString(drive.drive_model),
		Tracks:        entries[:n],
		LeadoutSector: entries[n].StartSector,
	}, nil
}

// Close releases the drive handle.
func (r *Reader) Close() error {
	if r.drive == nil {
		return nil
	}
	C.cdda_close((*C.cdrom_drive)(r.drive))
	r.drive = nil
	return nil
}

// Version returns the libcdparanoia version string.
func Version() string {
	return C.GoString(C.paranoia_version())
}

func parseError(rc C.int) error {
	i := int(rc)
	if i < 0 {
		i = -i
	}
	return Error(i)
}

func prepareLogs(lm LogMode, logger *log.Logger) (C.int, func(unsafe.Pointer)) {
	noop := func(unsafe.Pointer) {}
	switch lm {
	case LogStderr:
		return C.int(LogStderr), noop
	case LogCustom:
		if logger != nil {
			return C.int(LogCustom), func(p unsafe.Pointer) {
				if p == nil {
					return
				}
				str := C.GoString((*C.char)(p))
				for line := range strings.Lines(str) {
					logger.Print(line)
				}
				C.free(p)
			}
		}
	}
	return C.int(LogSilent), noop
}
