// Package model holds codplayer's disc/track/packet/state data types.
//
// Internal fields use frame units throughout (a frame is one sample
// per channel, i.e. 4 bytes at the fixed CD format); the external JSON
// views used by the archive's disc-info file and the wire surface use
// second units instead. Ext* types and the To/From conversions on Disc
// and Track are the Go equivalent of the original's declarative
// DbDisc/ExtDisc split.
package model

import "encoding/json"

// PCM format constants. codplayer supports exactly one audio format:
// 16-bit signed linear PCM, 2 channels, 44.1kHz, disc-native big-endian.
const (
	SampleRate     = 44100
	Channels       = 2
	BytesPerSample = 2
	BytesPerFrame  = Channels * BytesPerSample
	FramesPerSecond = 75 // CD frame (sector), not audio frame
)

// FramesToSeconds converts a frame count (audio frames, at SampleRate)
// to whole seconds, rounding toward zero as the wire format requires.
func FramesToSeconds(frames int) int {
	return frames / SampleRate
}

// SecondsToFrames converts whole seconds to a frame count.
func SecondsToFrames(seconds int) int {
	return seconds * SampleRate
}

// Disc is the internal, frame-based representation of one physical
// disc's metadata, as stored in the archive.
type Disc struct {
	DiscID   string // 28-char URL-safe base64 SHA-1, see internal/discid
	Catalog  string
	Barcode  string
	Date     string
	Artist   string
	Title    string
	Tracks   []*Track

	// LinkedDiscID, if set, means this disc is an alias: playing it
	// plays the disc it points to instead.
	LinkedDiscID string

	// Rip/TOC are true once the corresponding ripper phase has
	// written complete data for this disc.
	Rip bool
	TOC bool
}

// SourceDiscID returns the id that should actually be streamed: the
// linked disc if this one is an alias, else the disc's own id.
func (d *Disc) SourceDiscID() string {
	if d.LinkedDiscID != "" {
		return d.LinkedDiscID
	}
	return d.DiscID
}

// DataFileSizeFrames returns the total number of PCM frames the
// archive's audio file is expected to hold once fully ripped: the end
// of the last track.
func (d *Disc) DataFileSizeFrames() int {
	if len(d.Tracks) == 0 {
		return 0
	}
	last := d.Tracks[len(d.Tracks)-1]
	return last.FileOffset + (last.Length - last.PregapSilenceFrames())
}

// Track is the internal, frame-based representation of one track.
//
// Number 0 is reserved for a "hidden" pregap track preceding the
// nominal first track; normal tracks are numbered 1..N.
type Track struct {
	Number int

	// FileOffset is the frame offset in the PCM file where the
	// track's captured audio begins. Length is the track's full length
	// in frames, including any pregap silence that the ripper never
	// captured and so is not in the file (see PregapSilenceFrames).
	FileOffset int
	Length     int

	// PregapOffset is the frame offset, relative to the start of the
	// track, where index 1 begins. 0 means no pregap.
	PregapOffset int

	// Index holds further index offsets (relative to track start,
	// ascending) after index 1.
	Index []int

	ISRC   string
	Artist string
	Title  string

	Skip       bool
	PauseAfter bool
}

// PregapSilenceFrames returns how many of the leading PregapOffset
// frames are pure silence not present in the audio file (only
// possible for the hidden track 0, whose pregap may start before the
// archive's audio file does). Normal tracks return 0: their full
// pregap was captured by the ripper.
func (t *Track) PregapSilenceFrames() int {
	if t.Number == 0 {
		return t.PregapOffset
	}
	return 0
}

// IndexAt returns the 0-based index number containing absolute
// position pos (frames from the start of the track, i.e. possibly
// inside the pregap).
func (t *Track) IndexAt(pos int) int {
	if pos < t.PregapOffset {
		return 0
	}
	idx := 1
	for _, ipos := range t.Index {
		if pos < ipos {
			break
		}
		idx++
	}
	return idx
}

// RipPhase enumerates the Ripper's coarse state.
type RipPhase string

const (
	RipInactive RipPhase = "INACTIVE"
	RipAudio    RipPhase = "AUDIO"
	RipTOC      RipPhase = "TOC"
)

// RipState is published whenever the Ripper's phase or progress
// changes.
type RipState struct {
	DiscID    string
	Phase     RipPhase
	Progress  int  // 0..100, meaningless unless ProgressKnown
	ProgressKnown bool
	LastError string
}

// ExtRipState is the second-accurate, JSON-tagged wire view of RipState.
type ExtRipState struct {
	State    string `json:"state"`
	DiscID   string `json:"disc_id"`
	Progress *int   `json:"progress"`
	Error    *string `json:"error"`
}

// ToExt converts RipState to its wire JSON view.
func (r RipState) ToExt() ExtRipState {
	e := ExtRipState{State: string(r.Phase), DiscID: r.DiscID}
	if r.ProgressKnown {
		p := r.Progress
		e.Progress = &p
	}
	if r.LastError != "" {
		err := r.LastError
		e.Error = &err
	}
	return e
}

// MarshalJSON implements json.Marshaler via ToExt.
func (r RipState) MarshalJSON() ([]byte, error) { return json.Marshal(r.ToExt()) }

// PlayerPhase enumerates the Player Supervisor's coarse state machine.
type PlayerPhase string

const (
	PhaseOff     PlayerPhase = "OFF"
	PhaseNoDisc  PlayerPhase = "NO_DISC"
	PhaseWorking PlayerPhase = "WORKING"
	PhasePlay    PlayerPhase = "PLAY"
	PhasePause   PlayerPhase = "PAUSE"
	PhaseStop    PlayerPhase = "STOP"
)

// State is the player's published state. Position/Length are in
// whole seconds, measured from track index 1 (negative during pregap).
type State struct {
	DiscID       string
	SourceDiscID string
	Phase        PlayerPhase
	Track        int
	Index        int
	Position     int
	Length       int
	NoTracks     int
	Error        string
}

// ExtState is the JSON wire view of State, per §6 of the wire surface.
type ExtState struct {
	State        string  `json:"state"`
	DiscID       *string `json:"disc_id"`
	SourceDiscID *string `json:"source_disc_id"`
	Track        int     `json:"track"`
	NoTracks     int     `json:"no_tracks"`
	Index        int     `json:"index"`
	Position     int     `json:"position"`
	Length       int     `json:"length"`
	Error        *string `json:"error"`
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ToExt converts State to its wire JSON view.
func (s State) ToExt() ExtState {
	return ExtState{
		State:        string(s.Phase),
		DiscID:       strPtrOrNil(s.DiscID),
		SourceDiscID: strPtrOrNil(s.SourceDiscID),
		Track:        s.Track,
		NoTracks:     s.NoTracks,
		Index:        s.Index,
		Position:     s.Position,
		Length:       s.Length,
		Error:        strPtrOrNil(s.Error),
	}
}

// MarshalJSON implements json.Marshaler via ToExt.
func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.ToExt()) }

// ExtTrack is the second-based, JSON-tagged wire/disc-info view of a
// Track, grounded on the original's DbTrack/ExtTrack split.
type ExtTrack struct {
	Number     int    `json:"number"`
	Length     int    `json:"length"` // seconds
	Pregap     int    `json:"pregap"` // seconds
	ISRC       string `json:"isrc,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Title      string `json:"title,omitempty"`
	Skip       bool   `json:"skip,omitempty"`
	PauseAfter bool   `json:"pause_after,omitempty"`
}

// ToExt converts a Track to its second-based wire view. FileOffset and
// Index are internal-only (the wire view does not need byte-exact
// offsets) and are intentionally dropped.
func (t *Track) ToExt() ExtTrack {
	return ExtTrack{
		Number:     t.Number,
		Length:     FramesToSeconds(t.Length),
		Pregap:     FramesToSeconds(t.PregapOffset),
		ISRC:       t.ISRC,
		Artist:     t.Artist,
		Title:      t.Title,
		Skip:       t.Skip,
		PauseAfter: t.PauseAfter,
	}
}

// ExtDisc is the JSON disc-info / wire view of a Disc.
type ExtDisc struct {
	DiscID       string     `json:"disc_id"`
	LinkedDiscID string     `json:"link,omitempty"`
	Catalog      string     `json:"catalog,omitempty"`
	Barcode      string     `json:"barcode,omitempty"`
	Date         string     `json:"date,omitempty"`
	Artist       string     `json:"artist,omitempty"`
	Title        string     `json:"title,omitempty"`
	Tracks       []ExtTrack `json:"tracks"`
}

// ToExt converts a Disc to its JSON view.
func (d *Disc) ToExt() ExtDisc {
	e := ExtDisc{
		DiscID:       d.DiscID,
		LinkedDiscID: d.LinkedDiscID,
		Catalog:      d.Catalog,
		Barcode:      d.Barcode,
		Date:         d.Date,
		Artist:       d.Artist,
		Title:        d.Title,
		Tracks:       make([]ExtTrack, len(d.Tracks)),
	}
	for i, t := range d.Tracks {
		e.Tracks[i] = t.ToExt()
	}
	return e
}

// MarshalJSON implements json.Marshaler via ToExt.
func (d *Disc) MarshalJSON() ([]byte, error) { return json.Marshal(d.ToExt()) }

// FromExt applies user-editable fields from an ExtDisc onto a Disc,
// without touching fields the administration interface never owns
// (Rip/TOC flags, FileOffset, etc). Track count must already match.
func (d *Disc) FromExt(e ExtDisc) {
	d.Catalog = e.Catalog
	d.Barcode = e.Barcode
	d.Date = e.Date
	d.Artist = e.Artist
	d.Title = e.Title
	d.LinkedDiscID = e.LinkedDiscID
	for i, et := range e.Tracks {
		if i >= len(d.Tracks) {
			break
		}
		t := d.Tracks[i]
		t.ISRC = et.ISRC
		t.Artist = et.Artist
		t.Title = et.Title
		t.Skip = et.Skip
		t.PauseAfter = et.PauseAfter
	}
}
