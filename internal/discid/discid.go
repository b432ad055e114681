// Package discid computes codplayer's 28-character disc identifier
// from a disc's basic table of contents. The computation must be
// bit-exact with the MusicBrainz disc ID convention (per §9 of the
// design notes, "part of the data model's compatibility contract; do
// not invent a new one"), grounded on
// original_source/src/codplayer/model.py's from_musicbrainz_disc.
//
// It also implements the archive's disc-id <-> directory-name mapping
// (grounded on original_source/src/codplayer/db.py's disc_to_db_id):
// the identifier's URL-safe alphabet ('.', '_', '-' substituted for
// '+', '/', '=') is translated back to standard base64, base64-decoded
// to the raw 20-byte SHA1 digest, and that digest is re-encoded as a
// 40-character lowercase hex string -- the actual directory name.
// Bucketing is one level deep by that hex string's first character
// ("first four bits of the disc ID", db.py's own doc comment).
package discid

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// BasicTOC is the minimal table-of-contents data needed to compute a
// disc identifier: the sector offset of every track's start (including
// a trailing lead-out entry), as reported by the drive at insertion
// time, before any subchannel read has happened.
//
// Offsets are in CD sectors (75 per second) counted from the start of
// the disc, matching what a drive's basic TOC read reports (and what
// [github.com/rabidaudio/cdz-nuts]'s audiocd.TOC returns as
// StartSector), which already includes the 150-sector (2 second)
// lead-in convention MusicBrainz's algorithm expects.
type BasicTOC struct {
	// TrackOffsets holds one entry per track, sector offset of each
	// track's start, in track order (index 0 == track 1).
	TrackOffsets []int
	// LeadoutOffset is the sector offset of the end of the last
	// track, i.e. the disc's total sector length.
	LeadoutOffset int
}

// maxTracks is the number of track-offset slots the MusicBrainz
// algorithm always includes in its hashed string, whether or not the
// disc has that many tracks.
const maxTracks = 99

// Compute returns the 28-character disc identifier for toc.
func Compute(toc BasicTOC) (string, error) {
	n := len(toc.TrackOffsets)
	if n < 1 || n > maxTracks {
		return "", fmt.Errorf("discid: invalid track count %d", n)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%02X%02X", 1, n)
	fmt.Fprintf(&sb, "%08X", toc.LeadoutOffset)
	for i := 0; i < maxTracks; i++ {
		offset := 0
		if i < n {
			offset = toc.TrackOffsets[i]
		}
		fmt.Fprintf(&sb, "%08X", offset)
	}

	sum := sha1.Sum([]byte(sb.String()))
	return encode(sum[:]), nil
}

// encode implements the MusicBrainz/codplayer URL-safe base64
// alphabet: standard base64 with '+' -> '.', '/' -> '_', '=' -> '-'.
func encode(b []byte) string {
	const stdAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	var out strings.Builder
	for i := 0; i < len(b); i += 3 {
		var chunk [3]byte
		n := copy(chunk[:], b[i:min(i+3, len(b))])

		v := uint32(chunk[0])<<16 | uint32(chunk[1])<<8 | uint32(chunk[2])
		idx := [4]byte{
			byte(v >> 18 & 0x3F),
			byte(v >> 12 & 0x3F),
			byte(v >> 6 & 0x3F),
			byte(v & 0x3F),
		}

		switch n {
		case 1:
			out.WriteByte(stdAlphabet[idx[0]])
			out.WriteByte(stdAlphabet[idx[1]])
			out.WriteByte('-')
			out.WriteByte('-')
		case 2:
			out.WriteByte(stdAlphabet[idx[0]])
			out.WriteByte(stdAlphabet[idx[1]])
			out.WriteByte(stdAlphabet[idx[2]])
			out.WriteByte('-')
		default:
			out.WriteByte(stdAlphabet[idx[0]])
			out.WriteByte(stdAlphabet[idx[1]])
			out.WriteByte(stdAlphabet[idx[2]])
			out.WriteByte(stdAlphabet[idx[3]])
		}
	}
	return strings.NewReplacer("+", ".", "/", "_").Replace(out.String())
}

// DirName maps a disc identifier to its archive directory name: the
// db.py-format hex re-encoding of the identifier's raw SHA1 digest,
// matching disc_to_db_id exactly. It falls back to the identifier
// itself if id isn't validly encoded (only possible for a hand-typed
// id on the command line, never one produced by Compute).
func DirName(id string) string {
	dbID, err := toDBID(id)
	if err != nil {
		return id
	}
	return dbID
}

// Bucket returns the single-character bucket a disc id's directory is
// stored under: the first character of its db.py-format hex id, i.e.
// the first four bits of the disc's raw SHA1 digest.
func Bucket(id string) string {
	dbID, err := toDBID(id)
	if err != nil || dbID == "" {
		return "_"
	}
	return dbID[:1]
}

// toDBID implements db.py's disc_to_db_id: translate the identifier's
// URL-safe alphabet back to standard base64, decode it to the raw
// digest, and re-encode that digest as lowercase hex.
func toDBID(id string) (string, error) {
	std := strings.NewReplacer(".", "+", "_", "/", "-", "=").Replace(id)
	raw, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return "", fmt.Errorf("discid: decoding %q: %w", id, err)
	}
	return hex.EncodeToString(raw), nil
}
