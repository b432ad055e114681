// Package player implements the Player Supervisor: it owns the
// Transport and the Ripper, identifies and archives physical discs on
// insertion, resolves disc alias links, and translates every external
// command into a call against one of those two workers, converting
// their errors into the closed errs.CommandError/errs taxonomy.
//
// Grounded on original_source/src/codplayer/player.py's Player class
// (cmd_disc, cmd_stop/play/pause/play_pause/next/prev, cmd_eject,
// cmd_ejected, cmd_quit, cmd_state/rip_state/source/version,
// resolve_alias_links, play_disc, eject_disc) and state.py's State
// class (the valid_commands tables are enforced by internal/transport
// itself, which already rejects a command invalid for its current
// phase, so Player does not duplicate that table). cmd_radio and
// RadioStreamSource are out of scope: codplayer's disc archive has no
// network-streaming source.
package player

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/codplayer/codplayer/internal/archive"
	"github.com/codplayer/codplayer/internal/cdrom"
	"github.com/codplayer/codplayer/internal/discid"
	"github.com/codplayer/codplayer/internal/errs"
	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
	"github.com/codplayer/codplayer/internal/rip"
	"github.com/codplayer/codplayer/internal/source"
	"github.com/codplayer/codplayer/internal/transport"
)

// DiscReader is the subset of *cdrom.Reader the Player depends on,
// narrowed to an interface so tests can simulate disc insertion
// without real hardware.
type DiscReader interface {
	Open() error
	ReadTOC() (cdrom.BasicTOC, error)
	Close() error
}

// Config holds the options cmd_disc/cmd_eject need beyond what the
// Ripper and Transport already take, grounded on player.py's
// cfg.cdrom_device/cfg.eject_command and full_version().
type Config struct {
	CdromDevice  string
	EjectCommand string
	Version      string
}

// Player wires together the Transport, the Ripper and the disc
// archive behind the small set of commands the wire surface exposes.
type Player struct {
	cfg       Config
	archive   *archive.Archive
	ripper    *rip.Ripper
	transport *transport.Transport
	newReader func(device string) DiscReader
	log       *logging.Logger

	mu      sync.Mutex
	lastRip model.RipState
}

// New creates a Player. sink is the audio device the Transport drives;
// newReader builds a fresh DiscReader for each physical-disc read
// (cdrom.Reader itself is one-shot: open, read TOC, close).
// onState/onDisc/onRipState are called (outside any lock) whenever
// the corresponding published value changes.
func New(
	cfg Config,
	arch *archive.Archive,
	ripCfg rip.Config,
	reconciler rip.Reconciler,
	sink transport.PacketSink,
	newReader func(device string) DiscReader,
	onState func(model.State),
	onDisc func(*model.Disc),
	onRipState func(model.RipState),
	log *logging.Logger,
) *Player {
	p := &Player{
		cfg:       cfg,
		archive:   arch,
		newReader: newReader,
		log:       log,
	}
	p.transport = transport.New(sink, onState, onDisc, log)
	p.ripper = rip.New(ripCfg, arch, reconciler, func(s model.RipState) {
		p.mu.Lock()
		p.lastRip = s
		p.mu.Unlock()
		if onRipState != nil {
			onRipState(s)
		}
	}, log)
	return p
}

// Disc loads and plays a disc: by id if discID is non-empty, otherwise
// the physical disc currently in the drive, ripping it first if the
// archive doesn't already have it (or doesn't have it completely).
// Alias links are only followed for the physical-disc path, matching
// the original: asking for a disc by id means the caller really wants
// that one.
func (p *Player) Disc(discID string) (model.State, error) {
	if discID != "" {
		disc, err := p.archive.GetDisc(discID)
		if err != nil {
			return model.State{}, errs.NewCommandError("invalid disc id: %s", discID)
		}
		return p.playDisc(disc, "", 0)
	}

	if p.ripper.Busy() {
		return model.State{}, errs.NewCommandError("already ripping a disc, can't rip another one yet")
	}

	disc, err := p.loadPhysicalDisc()
	if err != nil {
		var ce *errs.CommandError
		if errors.As(err, &ce) {
			return model.State{}, err
		}
		return model.State{}, errs.NewCommandError("rip failed: %v", err)
	}

	resolved, triggeringID := p.resolveAliasLinks(disc)
	return p.playDisc(resolved, triggeringID, 0)
}

// loadPhysicalDisc reads the TOC of the disc in the drive, identifies
// it, and makes sure the archive has (or is getting) complete data for
// it, returning the archived record.
func (p *Player) loadPhysicalDisc() (*model.Disc, error) {
	reader := p.newReader(p.cfg.CdromDevice)
	if err := reader.Open(); err != nil {
		return nil, &errs.DiscIDError{Err: err}
	}
	defer reader.Close()

	toc, err := reader.ReadTOC()
	if err != nil {
		return nil, &errs.DiscIDError{Err: err}
	}

	id, err := discid.Compute(toc.DiscID())
	if err != nil {
		return nil, &errs.DiscIDError{Err: err}
	}

	basic := discFromBasicTOC(id, toc)

	var tasks []model.RipPhase
	if !p.archive.Exists(id) {
		if err := p.archive.CreateDisc(basic, basicTOCText(toc)); err != nil {
			return nil, fmt.Errorf("player: creating archive entry for %s: %w", id, err)
		}
		tasks = []model.RipPhase{model.RipAudio, model.RipTOC}
	} else {
		existing, err := p.archive.GetDisc(id)
		if err != nil {
			return nil, fmt.Errorf("player: loading archived disc %s: %w", id, err)
		}
		switch {
		case !existing.Rip:
			tasks = []model.RipPhase{model.RipAudio, model.RipTOC}
		case !existing.TOC:
			tasks = []model.RipPhase{model.RipTOC}
		}
	}

	if len(tasks) > 0 {
		p.ripper.Start(basic, tasks)
	}

	disc, err := p.archive.GetDisc(id)
	if err != nil {
		return nil, fmt.Errorf("player: loading archived disc %s: %w", id, err)
	}
	return disc, nil
}

// resolveAliasLinks follows disc.LinkedDiscID until it reaches a disc
// that isn't itself an alias, guarding against a circular chain.
// triggeringID is the original disc's id, or "" if disc wasn't an
// alias at all.
func (p *Player) resolveAliasLinks(disc *model.Disc) (resolved *model.Disc, triggeringID string) {
	cur := disc
	visited := map[string]bool{disc.DiscID: true}

	for cur.LinkedDiscID != "" {
		linked, err := p.archive.GetDisc(cur.LinkedDiscID)
		if err != nil {
			p.log.Printf("player: missing alias link from %s to %s: %v", cur.DiscID, cur.LinkedDiscID, err)
			break
		}
		if visited[linked.DiscID] {
			p.log.Printf("player: alias link circle reaching %s again from %s", linked.DiscID, cur.DiscID)
			break
		}
		visited[linked.DiscID] = true
		p.log.Debugf("player: following alias link from %s to %s", cur.DiscID, linked.DiscID)
		cur = linked
		triggeringID = disc.DiscID
	}
	return cur, triggeringID
}

// playDisc switches the Transport to resolved, publishing triggeringID
// as the state's source disc id (empty unless an alias link was
// followed to reach resolved).
func (p *Player) playDisc(resolved *model.Disc, triggeringID string, trackIndex int) (model.State, error) {
	playable := &model.Disc{
		DiscID:       resolved.DiscID,
		LinkedDiscID: triggeringID,
		Catalog:      resolved.Catalog,
		Artist:       resolved.Artist,
		Title:        resolved.Title,
		Tracks:       filterSkipped(resolved.Tracks),
	}

	audioPath := p.archive.AudioPath(resolved.DiscID)
	isRipping := p.ripper.Busy

	newStreamer := func(idx, startFrames int) *source.Streamer {
		return source.NewAt(playable, audioPath, idx, startFrames, isRipping)
	}

	s, err := p.transport.NewSource(playable, trackIndex, newStreamer)
	if err != nil {
		return s, errs.NewCommandError("%v", err)
	}
	return s, nil
}

func filterSkipped(tracks []*model.Track) []*model.Track {
	out := make([]*model.Track, 0, len(tracks))
	for _, t := range tracks {
		if !t.Skip {
			out = append(out, t)
		}
	}
	return out
}

// framesPerSector converts a CD sector offset (75/second) into audio
// PCM frames (model.SampleRate/second).
const framesPerSector = model.SampleRate / model.FramesPerSecond

// discFromBasicTOC builds a provisional Disc from a drive's basic TOC,
// good enough to start ripping and show a track list before the
// subchannel TOC read fills in pregaps and indices.
func discFromBasicTOC(discID string, toc cdrom.BasicTOC) *model.Disc {
	tracks := make([]*model.Track, 0, len(toc.Tracks))
	num := 1
	for _, tr := range toc.Tracks {
		if !tr.IsAudio() {
			continue
		}
		tracks = append(tracks, &model.Track{
			Number:     num,
			FileOffset: int(tr.StartSector) * framesPerSector,
			Length:     int(tr.LengthSectors) * framesPerSector,
		})
		num++
	}
	return &model.Disc{DiscID: discID, Tracks: tracks}
}

// basicTOCText renders toc as plain text, preserved in the archive for
// reference but never re-parsed (the subchannel TOC read later
// supplies the authoritative offsets).
func basicTOCText(toc cdrom.BasicTOC) string {
	s := fmt.Sprintf("drive: %s\n", toc.DriveModel)
	for _, tr := range toc.Tracks {
		s += fmt.Sprintf("track %d: sector %d length %d audio=%v\n", tr.TrackNum, tr.StartSector, tr.LengthSectors, tr.IsAudio())
	}
	s += fmt.Sprintf("leadout: %d\n", toc.LeadoutSector)
	return s
}

// Stop halts playback, keeping the disc loaded.
func (p *Player) Stop() (model.State, error) {
	s, err := p.transport.Stop()
	return s, asCommandError("stop", err)
}

// Play resumes playback from STOP or PAUSE.
func (p *Player) Play() (model.State, error) {
	s, err := p.transport.Play()
	return s, asCommandError("play", err)
}

// Pause pauses playback.
func (p *Player) Pause() (model.State, error) {
	s, err := p.transport.Pause()
	return s, asCommandError("pause", err)
}

// PlayPause toggles between playing and pausing.
func (p *Player) PlayPause() (model.State, error) {
	s, err := p.transport.PlayPause()
	return s, asCommandError("play_pause", err)
}

// Next restarts playback at the next track.
func (p *Player) Next() (model.State, error) {
	s, err := p.transport.Next()
	return s, asCommandError("next", err)
}

// Prev restarts playback at the previous track.
func (p *Player) Prev() (model.State, error) {
	s, err := p.transport.Prev()
	return s, asCommandError("prev", err)
}

// PlayTrack restarts playback at the given track number.
func (p *Player) PlayTrack(trackNum int) (model.State, error) {
	s, err := p.transport.PlayTrack(trackNum)
	return s, asCommandError("play_track", err)
}

// Seek restarts playback within the current track at the given
// position, in seconds after the track's index 1.
func (p *Player) Seek(seconds int) (model.State, error) {
	s, err := p.transport.Seek(seconds)
	return s, asCommandError("seek", err)
}

// Eject stops any running rip, releases the disc, and runs the
// configured eject command to physically open the tray.
func (p *Player) Eject() model.State {
	if p.ripper.Busy() {
		p.ripper.Stop()
	}
	s := p.transport.Eject()
	p.runEjectCommand()
	return s
}

// Ejected notifies the Player that the disc was physically removed
// already (e.g. detected by polling the drive), so unlike Eject it
// does not also run the eject command.
func (p *Player) Ejected() model.State {
	if p.ripper.Busy() {
		p.ripper.Stop()
	}
	return p.transport.Eject()
}

func (p *Player) runEjectCommand() {
	if p.cfg.EjectCommand == "" {
		return
	}
	cmd := exec.Command(p.cfg.EjectCommand, p.cfg.CdromDevice)
	if err := cmd.Start(); err != nil {
		p.log.Printf("player: eject command failed: %v", err)
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			p.log.Printf("player: eject command exited with error: %v", err)
		}
	}()
}

// Quit stops playback permanently. If a rip is in progress, it is
// logged but left to finish; the caller (the daemon's main loop) is
// responsible for waiting on Ripping() before exiting the process.
func (p *Player) Quit() model.State {
	if p.ripper.Busy() {
		p.log.Printf("player: quitting, letting the running rip finish first")
	}
	return p.transport.Shutdown()
}

// Ripping reports whether a rip is currently in progress.
func (p *Player) Ripping() bool {
	return p.ripper.Busy()
}

// State returns the current playback state.
func (p *Player) State() model.State {
	return p.transport.GetState()
}

// RipState returns the most recently published rip state, or an
// inactive state if nothing has ever been ripped this run.
func (p *Player) RipState() model.RipState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRip.Phase == "" {
		return model.RipState{Phase: model.RipInactive}
	}
	return p.lastRip
}

// Source returns the disc currently loaded in the Transport, or nil.
func (p *Player) Source() *model.Disc {
	return p.transport.GetSourceDisc()
}

// Version returns the running daemon's version string.
func (p *Player) Version() string {
	return p.cfg.Version
}

func asCommandError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.NewCommandError("%s: %v", op, err)
}
