// Package source implements the Source Streamer: a lazy sequence of
// model.Packet values read from a disc's archive audio file,
// respecting track skip/pause_after edits and index boundaries.
//
// Grounded on original_source/src/codplayer/sources/pcmdisc.py
// (PCMDiscSource.iter_packets, PCMDiscAudioPacket.iterate and
// read_data_into_packet): the packet-splitting arithmetic is kept
// exactly, reworked from a Python generator into a Go pull-style
// Streamer.Next method, and from blocking time.sleep retries into a
// small retry loop with a context-aware caller.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/codplayer/codplayer/internal/model"
)

// ErrStalled is returned by Next when the audio file for a disc still
// being ripped does not yet contain the requested track: the caller
// should retry shortly rather than treat this as a hard error.
var ErrStalled = errors.New("source: waiting for ripper to catch up")

// PacketsPerSecond controls the maximum packet size, matching
// player.py's Transport.PACKETS_PER_SECOND.
const PacketsPerSecond = 10

// IsRipping reports whether a rip process might still be writing to
// the disc's audio file; Streamer uses it to decide whether a short
// read is a stall to retry or a genuine error.
type IsRipping func() bool

// Streamer produces packets for one disc, starting at trackIndex
// (0-based into disc.Tracks, which must already have skipped tracks
// filtered out by the caller, matching player.py's play_disc).
type Streamer struct {
	disc       *model.Disc
	path       string
	isRipping  IsRipping

	file *os.File

	trackIndex int
	startPos   int // -1 means start at the track's own PregapOffset
	track      *model.Track
	pos        int // abs pos within current track, frames
	prevPacket *model.Packet
}

// New creates a Streamer for disc, reading audio data from path
// (the archive's data file), starting at the beginning of
// disc.Tracks[trackIndex].
func New(disc *model.Disc, path string, trackIndex int, isRipping IsRipping) *Streamer {
	return NewAt(disc, path, trackIndex, -1, isRipping)
}

// NewAt creates a Streamer starting partway into disc.Tracks[trackIndex],
// startFrames after the track's index 1 (its PregapOffset), used to
// implement a seek command. A negative startFrames starts at index 1,
// same as New.
func NewAt(disc *model.Disc, path string, trackIndex, startFrames int, isRipping IsRipping) *Streamer {
	return &Streamer{
		disc:       disc,
		path:       path,
		isRipping:  isRipping,
		trackIndex: trackIndex,
		startPos:   startFrames,
	}
}

// Close releases the underlying file handle, if open.
func (s *Streamer) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Streamer) openFile() error {
	if s.file != nil {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && s.isRipping != nil && s.isRipping() {
			return ErrStalled
		}
		return fmt.Errorf("source: opening %s: %w", s.path, err)
	}
	s.file = f
	return nil
}

// Next returns the next packet in the stream. It returns io.EOF once
// the last track's last packet has been returned, or ErrStalled if
// the audio file is not ready yet (the caller should pause briefly
// and retry).
func (s *Streamer) Next() (*model.Packet, error) {
	if err := s.openFile(); err != nil {
		return nil, err
	}

	if s.track == nil {
		if s.trackIndex >= len(s.disc.Tracks) {
			return nil, io.EOF
		}
		s.track = s.disc.Tracks[s.trackIndex]
		if s.startPos >= 0 {
			s.pos = s.track.PregapOffset + s.startPos
			s.startPos = -1
		} else {
			s.pos = s.track.PregapOffset
		}
		s.prevPacket = nil
	}

	packetFrames := model.SampleRate / PacketsPerSecond

	for {
		var length int
		if s.pos < s.track.PregapOffset {
			length = min(s.track.PregapOffset-s.pos, packetFrames)
		} else {
			length = min(s.track.Length-s.pos, packetFrames)
		}

		if length == 0 {
			// Track exhausted, advance to the next one.
			s.trackIndex++
			if s.trackIndex >= len(s.disc.Tracks) {
				return nil, io.EOF
			}
			s.track = s.disc.Tracks[s.trackIndex]
			s.pos = 0
			s.prevPacket = nil
			continue
		}

		pkt, err := s.buildPacket(s.track, s.trackIndex, s.pos, length)
		if err != nil {
			return nil, err
		}
		if err := s.fillData(pkt); err != nil {
			return nil, err
		}

		s.pos += length
		s.prevPacket = pkt
		return pkt, nil
	}
}

func (s *Streamer) buildPacket(track *model.Track, trackIndex, absPos, length int) (*model.Packet, error) {
	index := track.IndexAt(absPos)

	var fileOffset int
	if absPos < track.PregapSilenceFrames() {
		fileOffset = -1 // pure silence, never in the file
	} else {
		fileOffset = track.FileOffset + absPos - track.PregapSilenceFrames()
	}

	var flags model.PacketFlag
	lastInTrack := absPos+length == track.Length
	if lastInTrack {
		flags |= model.LastInTrack
		if track.PauseAfter && trackIndex+1 < len(s.disc.Tracks) {
			flags |= model.PauseAfter
		}
		if trackIndex+1 >= len(s.disc.Tracks) {
			flags |= model.LastInStream
		}
	}
	if s.prevPacket == nil && trackIndex > 0 {
		prevTrack := s.disc.Tracks[trackIndex-1]
		if prevTrack.PauseAfter {
			flags |= model.PauseBefore
		}
	}

	return &model.Packet{
		DiscID:     s.disc.DiscID,
		Track:      track.Number,
		Index:      index,
		FileOffset: fileOffset,
		AbsPos:     absPos,
		RelPos:     absPos - track.PregapOffset,
		Length:     length,
		Flags:      flags,
	}, nil
}

// fillData reads the packet's PCM bytes from the archive file,
// retrying briefly if a concurrent ripper hasn't written them yet.
func (s *Streamer) fillData(p *model.Packet) error {
	length := p.Length * model.BytesPerFrame

	if p.FileOffset < 0 {
		p.Data = make([]byte, length)
		return nil
	}

	filePos := int64(p.FileOffset) * model.BytesPerFrame
	data := make([]byte, length)
	got := 0

	for {
		n, err := s.file.ReadAt(data[got:], filePos+int64(got))
		got += n
		if got >= length {
			p.Data = data
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("source: reading %s: %w", s.path, err)
		}
		if s.isRipping == nil || !s.isRipping() {
			return fmt.Errorf("source: unexpected end of file, expected at least %d more bytes", length-got)
		}
		time.Sleep(time.Second)
	}
}
