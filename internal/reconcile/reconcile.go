// Package reconcile implements the Disc Reconciler: parsing the
// subchannel TOC the Ripper's TOC-reader child produces, and merging
// it into an already-archived Disc without discarding user edits.
//
// Grounded on original_source/src/codplayer/toc.py (parse_toc,
// merge_basic_toc, merge_full_toc): the parser covers the subset of
// cdrdao's TOC grammar the reader actually emits (CATALOG, TRACK
// AUDIO, FILE/SILENCE/START/INDEX/ISRC); CD_TEXT blocks are skipped
// rather than parsed for artist/title, since that metadata is always
// available from MusicBrainz lookup by the time a TOC is read (see
// DESIGN.md).
package reconcile

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/codplayer/codplayer/internal/model"
)

// Reconciler adapts the package-level MergeFullTOC to the
// internal/rip.Reconciler interface, which deals in file paths rather
// than already-read bytes.
type Reconciler struct{}

// New creates a Reconciler.
func New() *Reconciler { return &Reconciler{} }

// MergeFullTOC reads tocPath and merges it into disc.
func (*Reconciler) MergeFullTOC(disc *model.Disc, tocPath string) (*model.Disc, error) {
	data, err := os.ReadFile(tocPath)
	if err != nil {
		return nil, fmt.Errorf("reconcile: reading %s: %w", tocPath, err)
	}
	return MergeFullTOC(disc, data)
}

// errNoAudioTracks is returned by ParseTOC when the TOC contains no
// TRACK AUDIO entries.
var errNoAudioTracks = fmt.Errorf("reconcile: no audio tracks in TOC")

// parsedTrack mirrors the fields ParseTOC can recover from a single
// TRACK block, in the original cdrdao TOC's own units (audio frames,
// already converted from MSF).
type parsedTrack struct {
	fileOffset   int
	fileLength   int
	length       int
	pregapOffset int
	pregapSilence int
	index        []int
	isrc         string
}

type parsedTOC struct {
	catalog string
	tracks  []parsedTrack
}

// ParseTOC parses the textual TOC a cdrdao-equivalent reader wrote.
func ParseTOC(data []byte) (*parsedTOC, error) {
	toc := &parsedTOC{}
	var cur *parsedTrack
	sawDataFile := ""

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	// TOC files are small (tens of KB); raise the default 64KiB cap a
	// little for safety on discs with many CD_TEXT blocks.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inCDText := 0

	for scanner.Scan() {
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if inCDText > 0 {
			inCDText += strings.Count(line, "{")
			inCDText -= strings.Count(line, "}")
			continue
		}

		switch {
		case line == "CD_DA" || line == "CD_ROM" || line == "CD_ROM_XA":
			// disc-level flags, not needed

		case strings.HasPrefix(line, "CATALOG "):
			toc.catalog = tocString(line)

		case strings.HasPrefix(line, "TRACK "):
			if cur != nil {
				toc.tracks = append(toc.tracks, *cur)
			}
			if line == "TRACK AUDIO" {
				cur = &parsedTrack{}
			} else {
				cur = nil // skip non-audio tracks
			}

		case line == "TWO_CHANNEL_AUDIO" || line == "COPY" || line == "NO COPY" ||
			line == "PRE_EMPHASIS" || line == "NO PRE_EMPHASIS":
			// track flags that don't matter here

		case strings.HasPrefix(line, "CD_TEXT "):
			inCDText = strings.Count(line, "{") - strings.Count(line, "}")

		case strings.HasPrefix(line, "FILE "):
			if cur == nil {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 4 {
				return nil, fmt.Errorf("reconcile: missing offsets in FILE line: %s", line)
			}
			name := tocString(line)
			if sawDataFile == "" {
				sawDataFile = name
			} else if sawDataFile != name {
				return nil, fmt.Errorf("reconcile: expected filename %q, got %q", sawDataFile, name)
			}

			offsetStr, lengthStr := fields[len(fields)-2], fields[len(fields)-1]
			offset, err := msfToFrames(offsetStr)
			if err != nil {
				return nil, fmt.Errorf("reconcile: bad offset in FILE line %q: %w", line, err)
			}
			length, err := msfToFrames(lengthStr)
			if err != nil {
				return nil, fmt.Errorf("reconcile: bad length in FILE line %q: %w", line, err)
			}
			cur.fileOffset = offset
			cur.fileLength = length
			cur.length = length + cur.pregapSilence

		case strings.HasPrefix(line, "SILENCE "):
			if cur == nil {
				continue
			}
			v, err := tocMSFArg(line)
			if err != nil {
				return nil, err
			}
			cur.pregapSilence = v

		case strings.HasPrefix(line, "START "):
			if cur == nil {
				continue
			}
			v, err := tocMSFArg(line)
			if err != nil {
				return nil, err
			}
			cur.pregapOffset = v

		case strings.HasPrefix(line, "INDEX "):
			if cur == nil {
				continue
			}
			v, err := tocMSFArg(line)
			if err != nil {
				return nil, err
			}
			cur.index = append(cur.index, v+cur.pregapOffset)

		case strings.HasPrefix(line, "ISRC "):
			if cur == nil {
				continue
			}
			cur.isrc = tocString(line)

		case strings.HasPrefix(line, "DATAFILE "):
			// not used

		default:
			return nil, fmt.Errorf("reconcile: unexpected TOC line: %s", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: scanning TOC: %w", err)
	}
	if cur != nil {
		toc.tracks = append(toc.tracks, *cur)
	}
	if len(toc.tracks) == 0 {
		return nil, errNoAudioTracks
	}
	return toc, nil
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i != -1 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func tocString(line string) string {
	s := strings.Index(line, `"`)
	if s == -1 {
		return ""
	}
	e := strings.Index(line[s+1:], `"`)
	if e == -1 {
		return ""
	}
	return line[s+1 : s+1+e]
}

func tocMSFArg(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, fmt.Errorf("reconcile: expected a single MSF argument in line: %s", line)
	}
	return msfToFrames(fields[1])
}

// msfToFrames converts a cdrdao MM:SS:FF timestamp (or the literal
// "0") into a PCM audio-frame count.
func msfToFrames(msf string) (int, error) {
	if msf == "0" {
		return 0, nil
	}
	parts := strings.Split(msf, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid MSF %q", msf)
	}
	m, err1 := strconv.Atoi(parts[0])
	s, err2 := strconv.Atoi(parts[1])
	f, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("invalid MSF %q", msf)
	}
	sectors := (m*60+s)*model.FramesPerSecond + f
	return sectors * (model.SampleRate / model.FramesPerSecond), nil
}

// MergeFullTOC merges a freshly-read TOC file into disc, which must
// already have the same number of tracks from its basic TOC. It
// returns disc (mutated in place) for convenience.
//
// Like the original, this also detects a "hidden" track recorded
// before track 1: if the basic TOC placed more than two seconds of
// audio before what the subchannel TOC calls track 1's index 1, that
// audio is split off into a new track 0.
func MergeFullTOC(disc *model.Disc, tocData []byte) (*model.Disc, error) {
	toc, err := ParseTOC(tocData)
	if err != nil {
		return nil, err
	}
	if len(toc.tracks) != len(disc.Tracks) {
		return nil, fmt.Errorf("reconcile: track count mismatch: basic TOC has %d, subchannel TOC has %d",
			len(disc.Tracks), len(toc.tracks))
	}

	disc.Catalog = firstNonEmpty(disc.Catalog, toc.catalog)

	var hidden *model.Track
	first := disc.Tracks[0]
	firstTOC := &toc.tracks[0]
	if first.FileOffset > 2*model.SampleRate {
		hidden = &model.Track{
			Number:     0,
			FileOffset: 0,
			Length:     first.FileOffset,
		}
		firstTOC.pregapSilence = 0
		firstTOC.pregapOffset = 0
		firstTOC.length = firstTOC.fileLength
	}

	for i, t := range disc.Tracks {
		pt := toc.tracks[i]
		t.PregapOffset = pt.pregapOffset
		t.FileOffset -= pt.pregapOffset
		t.Length = pt.length
		t.Index = append([]int(nil), pt.index...)
		t.ISRC = firstNonEmpty(t.ISRC, pt.isrc)
	}

	if hidden != nil {
		disc.Tracks = append([]*model.Track{hidden}, disc.Tracks...)
	}

	return disc, nil
}

// MergeBasicTOC resets disc's track offsets/lengths back to a fresh
// basic TOC read, used when re-ripping a disc that was only ever
// ripped with the old TOC-only method. User-editable fields are left
// untouched.
func MergeBasicTOC(disc *model.Disc, basic *model.Disc) error {
	if len(disc.Tracks) != len(basic.Tracks) {
		return fmt.Errorf("reconcile: track count mismatch: %d vs %d", len(disc.Tracks), len(basic.Tracks))
	}
	for i, t := range disc.Tracks {
		b := basic.Tracks[i]
		t.FileOffset = b.FileOffset
		t.Length = b.Length
		t.PregapOffset = 0
		t.Index = nil
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
