// Package archive implements the on-disk disc database: a directory
// tree of ripped discs, each holding the PCM audio data, the raw
// basic and subchannel TOCs, and a JSON file with everything the
// Source Streamer and Player Supervisor need to play the disc again
// without re-ripping.
//
// Grounded on original_source/src/codplayer/db.py's Database class:
// one directory per disc id, bucketed one level deep to keep the top
// directory small, with files updated by writing to a sibling temp
// file and renaming over the target so a reader never observes a
// partial write.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codplayer/codplayer/internal/discid"
	"github.com/codplayer/codplayer/internal/model"
)

const (
	discsDir     = "discs"
	audioFile    = "audio.pcm"
	basicTOCFile = "basic_toc.txt"
	fullTOCFile  = "full_toc.txt"
	discInfoFile = "disc.json"
)

// ErrNotFound is returned by GetDisc when no disc.json exists for the
// given id.
var ErrNotFound = errors.New("archive: disc not found")

// Archive gives access to the on-disk disc database rooted at a
// single directory.
type Archive struct {
	root string
}

// New creates an Archive rooted at root. The directory tree is
// created lazily as discs are added.
func New(root string) *Archive {
	return &Archive{root: root}
}

// DiscDir returns the directory a disc's files live in.
func (a *Archive) DiscDir(discID string) string {
	return filepath.Join(a.root, discsDir, discid.Bucket(discID), discid.DirName(discID))
}

// AudioPath returns the path to a disc's headerless PCM data file.
func (a *Archive) AudioPath(discID string) string {
	return filepath.Join(a.DiscDir(discID), audioFile)
}

// TOCPath returns the path the Ripper's subchannel TOC reader should
// write its output to.
func (a *Archive) TOCPath(discID string) string {
	return filepath.Join(a.DiscDir(discID), fullTOCFile)
}

// BasicTOCPath returns the path of the raw basic TOC text file
// recorded when the disc was first seen.
func (a *Archive) BasicTOCPath(discID string) string {
	return filepath.Join(a.DiscDir(discID), basicTOCFile)
}

func (a *Archive) discInfoPath(discID string) string {
	return filepath.Join(a.DiscDir(discID), discInfoFile)
}

// Exists reports whether a disc is already present in the archive.
func (a *Archive) Exists(discID string) bool {
	_, err := os.Stat(a.discInfoPath(discID))
	return err == nil
}

// GetDisc loads a disc's full record, including the internal fields
// (file offsets, indices, rip/toc flags) the wire-facing ExtDisc view
// never carries.
func (a *Archive) GetDisc(discID string) (*model.Disc, error) {
	data, err := os.ReadFile(a.discInfoPath(discID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: reading disc info for %s: %w", discID, err)
	}

	var dd diskDisc
	if err := json.Unmarshal(data, &dd); err != nil {
		return nil, fmt.Errorf("archive: parsing disc info for %s: %w", discID, err)
	}
	return dd.toModel(), nil
}

// CreateDisc records a brand-new disc, writing its basic TOC text and
// initial disc info. basicTOC is the raw text to preserve for
// reference; it is not re-parsed.
func (a *Archive) CreateDisc(disc *model.Disc, basicTOC string) error {
	dir := a.DiscDir(disc.DiscID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", dir, err)
	}
	if err := writeAtomic(a.BasicTOCPath(disc.DiscID), []byte(basicTOC)); err != nil {
		return fmt.Errorf("archive: writing basic TOC for %s: %w", disc.DiscID, err)
	}
	return a.SaveDiscInfo(disc)
}

// SaveDiscInfo persists disc's full record, atomically replacing any
// previous disc.json.
func (a *Archive) SaveDiscInfo(disc *model.Disc) error {
	dir := a.DiscDir(disc.DiscID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(fromModel(disc), "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encoding disc info for %s: %w", disc.DiscID, err)
	}
	if err := writeAtomic(a.discInfoPath(disc.DiscID), data); err != nil {
		return fmt.Errorf("archive: writing disc info for %s: %w", disc.DiscID, err)
	}
	return nil
}

// writeAtomic writes data to a temp file beside path and renames it
// into place, so a concurrent reader (the Source Streamer) only ever
// sees a complete previous or next version of the file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// diskDisc/diskTrack are the archive's full on-disk representation,
// distinct from model.ExtDisc/ExtTrack: the wire view intentionally
// drops FileOffset/Index (ToExt's doc comment), but the archive must
// round-trip them exactly so playback can resume after a restart
// without re-ripping.
type diskDisc struct {
	DiscID       string      `json:"disc_id"`
	LinkedDiscID string      `json:"link,omitempty"`
	Catalog      string      `json:"catalog,omitempty"`
	Barcode      string      `json:"barcode,omitempty"`
	Date         string      `json:"date,omitempty"`
	Artist       string      `json:"artist,omitempty"`
	Title        string      `json:"title,omitempty"`
	Rip          bool        `json:"rip"`
	TOC          bool        `json:"toc"`
	Tracks       []diskTrack `json:"tracks"`
}

type diskTrack struct {
	Number       int    `json:"number"`
	FileOffset   int    `json:"file_offset"`
	Length       int    `json:"length"`
	PregapOffset int    `json:"pregap_offset"`
	Index        []int  `json:"index,omitempty"`
	ISRC         string `json:"isrc,omitempty"`
	Artist       string `json:"artist,omitempty"`
	Title        string `json:"title,omitempty"`
	Skip         bool   `json:"skip,omitempty"`
	PauseAfter   bool   `json:"pause_after,omitempty"`
}

func fromModel(d *model.Disc) diskDisc {
	dd := diskDisc{
		DiscID:       d.DiscID,
		LinkedDiscID: d.LinkedDiscID,
		Catalog:      d.Catalog,
		Barcode:      d.Barcode,
		Date:         d.Date,
		Artist:       d.Artist,
		Title:        d.Title,
		Rip:          d.Rip,
		TOC:          d.TOC,
		Tracks:       make([]diskTrack, len(d.Tracks)),
	}
	for i, t := range d.Tracks {
		dd.Tracks[i] = diskTrack{
			Number:       t.Number,
			FileOffset:   t.FileOffset,
			Length:       t.Length,
			PregapOffset: t.PregapOffset,
			Index:        t.Index,
			ISRC:         t.ISRC,
			Artist:       t.Artist,
			Title:        t.Title,
			Skip:         t.Skip,
			PauseAfter:   t.PauseAfter,
		}
	}
	return dd
}

func (dd diskDisc) toModel() *model.Disc {
	d := &model.Disc{
		DiscID:       dd.DiscID,
		LinkedDiscID: dd.LinkedDiscID,
		Catalog:      dd.Catalog,
		Barcode:      dd.Barcode,
		Date:         dd.Date,
		Artist:       dd.Artist,
		Title:        dd.Title,
		Rip:          dd.Rip,
		TOC:          dd.TOC,
		Tracks:       make([]*model.Track, len(dd.Tracks)),
	}
	for i, t := range dd.Tracks {
		d.Tracks[i] = &model.Track{
			Number:       t.Number,
			FileOffset:   t.FileOffset,
			Length:       t.Length,
			PregapOffset: t.PregapOffset,
			Index:        t.Index,
			ISRC:         t.ISRC,
			Artist:       t.Artist,
			Title:        t.Title,
			Skip:         t.Skip,
			PauseAfter:   t.PauseAfter,
		}
	}
	return d
}
