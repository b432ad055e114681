// Package cdrom reads the basic table of contents from a CD-DA disc in
// the drive at insertion time, enough to compute a disc identifier
// before the ripper runs. It is a trimmed-down cgo binding to
// libcdparanoia, grounded on software/audiocd/audiocd.go: the open/TOC
// plumbing is kept, the sample Read/Seek machinery is not, since
// sample extraction happens out-of-process (internal/rip) rather than
// through this binding.
package cdrom

import (
	"fmt"
	"io/fs"

	"github.com/codplayer/codplayer/internal/discid"
)

// ErrNoDrive is returned when no usable cd drive was found.
var ErrNoDrive = fs.ErrNotExist

// Error wraps a libcdparanoia error code, matching
// software/audiocd/errors.go's AudioCDError enum.
type Error int

const (
	ErrSetReadAudioMode      Error = 1
	ErrReadTOCLeadOut        Error = 2
	ErrIllegalNumberOfTracks Error = 3
	ErrReadTOCHeader         Error = 4
	ErrReadTOCEntry          Error = 5
	ErrNoData                Error = 6
	ErrUnknownReadError      Error = 7
	ErrUnableToIdentifyModel Error = 8
	ErrIllegalTOC            Error = 9
	ErrInterfaceNotSupported Error = 100
	ErrPermissionDenied      Error = 102
	ErrKernelMemory          Error = 300
	ErrNotOpen               Error = 400
	ErrNoAudioTracks         Error = 403
	ErrNoMediumPresent       Error = 404
)

func (e Error) Error() string {
	return fmt.Sprintf("cdrom: %s", e.name())
}

func (e Error) name() string {
	switch e {
	case ErrSetReadAudioMode:
		return "unable to set CDROM to read audio mode"
	case ErrReadTOCLeadOut:
		return "unable to read table of contents lead-out"
	case ErrIllegalNumberOfTracks:
		return "cdrom reporting illegal number of tracks"
	case ErrReadTOCHeader:
		return "unable to read table of contents header"
	case ErrReadTOCEntry:
		return "unable to read table of contents entry"
	case ErrNoData:
		return "could not read any data from drive"
	case ErrUnknownReadError:
		return "unknown, unrecoverable error reading data"
	case ErrUnableToIdentifyModel:
		return "unable to identify CDROM model"
	case ErrIllegalTOC:
		return "cdrom reporting illegal table of contents"
	case ErrInterfaceNotSupported:
		return "interface not supported"
	case ErrPermissionDenied:
		return "permission denied on cdrom device"
	case ErrKernelMemory:
		return "kernel memory error"
	case ErrNotOpen:
		return "device not open"
	case ErrNoAudioTracks:
		return "no audio tracks on disc"
	case ErrNoMediumPresent:
		return "no medium present"
	default:
		return fmt.Sprintf("unknown error code: %d", int(e))
	}
}

// Flag holds the raw per-track TOC flag byte. Bit 2 (0x04) marks a
// data track on a mixed-mode disc.
type Flag uint8

// TrackEntry is one table-of-contents entry as read from the drive,
// positioned and sized in CD sectors (2352 bytes each, 75 per second,
// internal/model.FramesPerSecond's unit; one sector holds 588 audio
// frames).
type TrackEntry struct {
	Flags         Flag
	TrackNum      uint8
	StartSector   int32
	LengthSectors int32
}

// IsAudio reports whether this entry is an audio track, as opposed to
// a data track on a mixed-mode disc.
func (t TrackEntry) IsAudio() bool {
	return uint8(t.Flags)&0x04 == 0
}

// BasicTOC is the information needed to compute a disc identifier and
// show a provisional track list before ripping: the drive model and
// the basic track offsets, with no subchannel/pregap detail (that
// comes later from internal/rip's cdrdao pass, merged in by
// internal/reconcile).
type BasicTOC struct {
	DriveModel string
	Tracks     []TrackEntry
	// LeadoutSector is the first sector past the last audio track,
	// i.e. the disc's total length in sectors.
	LeadoutSector int32
}

// DiscID converts the drive-reported TOC into discid.BasicTOC's shape
// for identifier computation.
func (t BasicTOC) DiscID() discid.BasicTOC {
	offsets := make([]int, len(t.Tracks))
	for i, tr := range t.Tracks {
		offsets[i] = int(tr.StartSector)
	}
	return discid.BasicTOC{
		TrackOffsets:  offsets,
		LeadoutOffset: int(t.LeadoutSector),
	}
}
