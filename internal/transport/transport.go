// Package transport implements the Transport: it pumps packets from a
// Source Streamer into a PCM Sink and keeps the player's published
// State in sync with what is actually playing.
//
// Grounded on original_source/src/codplayer/player.py's Transport
// class. The original runs a source thread (pulling packets, pushing
// them onto a bounded queue) and a sink thread (draining the queue
// into the audio sink, updating state from each packet). Here the
// sink's own worker goroutine (internal/sink) already plays the role
// of that second thread — PacketSink.AddPacket blocks with the same
// tripwire semantics the queue provided — so Transport needs only one
// goroutine per context, cancelled via context.Context instead of the
// original's context-counter + threading.Event pair.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
	"github.com/codplayer/codplayer/internal/source"
)

// stallRetryInterval matches pcmdisc.py's retry sleep when the ripper
// hasn't caught up to the requested audio yet.
const stallRetryInterval = time.Second

// ErrInvalidState is returned by a command that does not apply to the
// transport's current state, matching player.py's CommandError for
// the same cases.
var ErrInvalidState = errors.New("transport: command not valid in current state")

// PacketSink is the subset of *sink.Sink that Transport depends on.
type PacketSink interface {
	Start() error
	AddPacket(packet *model.Packet, data []byte) (stored int, playing *model.Packet, err error)
	Drain() (playing *model.Packet, err error, ok bool)
	Pause() error
	Resume() error
	Stop() error
}

// Transport owns the play/pause/stop state machine and drives one
// Source Streamer into one PacketSink at a time.
type Transport struct {
	sink PacketSink
	log  *logging.Logger

	onState func(model.State)
	onDisc  func(*model.Disc)

	mu            sync.Mutex
	state         model.State
	disc          *model.Disc
	newStreamer   func(trackIndex, startFrames int) *source.Streamer
	currentIndex  int
	currentOffset int
	pausedByUser  bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a Transport. onState/onDisc are called (outside the
// transport's lock) whenever published state changes, matching
// player.py's publish_state/publish_disc hooks.
func New(sink PacketSink, onState func(model.State), onDisc func(*model.Disc), log *logging.Logger) *Transport {
	t := &Transport{
		sink:    sink,
		log:     log,
		onState: onState,
		onDisc:  onDisc,
		state:   model.State{Phase: model.PhaseNoDisc},
	}
	return t
}

// GetState returns a copy of the current state.
func (t *Transport) GetState() model.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// GetSourceDisc returns the disc currently loaded, or nil.
func (t *Transport) GetSourceDisc() *model.Disc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disc
}

// NewSource switches to disc, streamed by whatever newStreamer builds
// each time playback (re)starts (e.g. a STOP -> PLAY transition, or a
// next/prev/play_track/seek command), starting at trackIndex (0-based
// into disc.Tracks). This matches how the original's source thread
// restarts source.iter_packets() from scratch on a fresh context. It
// is invalid while WORKING.
func (t *Transport) NewSource(disc *model.Disc, trackIndex int, newStreamer func(trackIndex, startFrames int) *source.Streamer) (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase == model.PhaseWorking {
		return t.state, errors.New("transport: ignoring new source while WORKING")
	}

	if t.state.Phase == model.PhasePlay || t.state.Phase == model.PhasePause {
		_ = t.sink.Stop()
	}

	t.disc = disc
	t.newStreamer = newStreamer
	t.currentIndex = trackIndex
	t.currentOffset = 0
	t.newContextLocked()
	t.publishDiscLocked()
	t.setWorkingLocked(disc)
	return t.state, nil
}

// Eject stops playback and clears the loaded disc.
func (t *Transport) Eject() model.State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase == model.PhaseNoDisc {
		return t.state
	}
	_ = t.sink.Stop()
	t.stopContextLocked()
	t.disc = nil
	t.publishDiscLocked()
	t.updateStateLocked(model.State{Phase: model.PhaseNoDisc})
	return t.state
}

// Play resumes from STOP or PAUSE. In PLAY or WORKING it changes
// nothing and returns the current state.
func (t *Transport) Play() (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Phase {
	case model.PhaseStop:
		t.currentIndex = 0
		t.currentOffset = 0
		t.newContextLocked()
		t.setWorkingLocked(t.disc)
	case model.PhasePause:
		t.doResumeLocked()
	case model.PhasePlay, model.PhaseWorking:
	default:
		return t.state, ErrInvalidState
	}
	return t.state, nil
}

// Pause pauses playback; only valid from PLAY.
func (t *Transport) Pause() (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase != model.PhasePlay {
		return t.state, ErrInvalidState
	}
	t.doPauseLocked()
	return t.state, nil
}

// PlayPause toggles between playing and pausing, or restarts from STOP.
func (t *Transport) PlayPause() (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Phase {
	case model.PhaseStop:
		t.currentIndex = 0
		t.currentOffset = 0
		t.newContextLocked()
		t.setWorkingLocked(t.disc)
	case model.PhasePlay:
		t.doPauseLocked()
	case model.PhasePause:
		t.doResumeLocked()
	default:
		return t.state, ErrInvalidState
	}
	return t.state, nil
}

// Next restarts the streamer at the next track, preserving whether
// playback was PLAY or PAUSE.
func (t *Transport) Next() (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restartAtLocked(t.currentTrackIndexLocked()+1, 0)
}

// Prev restarts the streamer at the previous track, preserving
// whether playback was PLAY or PAUSE.
func (t *Transport) Prev() (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restartAtLocked(t.currentTrackIndexLocked()-1, 0)
}

// PlayTrack restarts the streamer at the track with the given number
// (model.Track.Number, not a slice index).
func (t *Transport) PlayTrack(trackNum int) (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.trackIndexForNumberLocked(trackNum)
	if idx < 0 {
		return t.state, fmt.Errorf("transport: no such track %d", trackNum)
	}
	return t.restartAtLocked(idx, 0)
}

// Seek restarts the streamer within the current track at the given
// position in seconds after the track's index 1 (its PregapOffset).
// A negative position is treated as 0.
func (t *Transport) Seek(seconds int) (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.currentTrackIndexLocked()
	if idx < 0 {
		return t.state, ErrInvalidState
	}
	if seconds < 0 {
		seconds = 0
	}
	return t.restartAtLocked(idx, seconds*model.SampleRate)
}

// restartAtLocked rebuilds the streamer context at track slice index
// idx, startFrames into that track, valid only from PLAY/PAUSE. A
// PAUSE is re-entered immediately after the fresh context starts, so
// the sink backpressure keeps the new packets from actually playing.
func (t *Transport) restartAtLocked(idx, startFrames int) (model.State, error) {
	if t.state.Phase != model.PhasePlay && t.state.Phase != model.PhasePause {
		return t.state, ErrInvalidState
	}
	if t.disc == nil || idx < 0 || idx >= len(t.disc.Tracks) {
		return t.state, ErrInvalidState
	}
	wasPaused := t.state.Phase == model.PhasePause

	t.currentIndex = idx
	t.currentOffset = startFrames
	_ = t.sink.Stop()
	t.newContextLocked()
	t.setWorkingLocked(t.disc)
	s := t.state
	s.Track = t.disc.Tracks[idx].Number
	s.Position = model.FramesToSeconds(startFrames)
	s.Length = t.trackLengthSecondsLocked(s.Track)
	t.updateStateLocked(s)
	if wasPaused {
		t.doPauseLocked()
	}
	return t.state, nil
}

// trackIndexForNumberLocked finds a track's slice index by its
// Number, or -1 if not present (e.g. it was skipped or is unknown).
func (t *Transport) trackIndexForNumberLocked(num int) int {
	if t.disc == nil {
		return -1
	}
	for i, tr := range t.disc.Tracks {
		if tr.Number == num {
			return i
		}
	}
	return -1
}

func (t *Transport) currentTrackIndexLocked() int {
	return t.trackIndexForNumberLocked(t.state.Track)
}

// Stop halts playback, valid only from PLAY/PAUSE.
func (t *Transport) Stop() (model.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase != model.PhasePlay && t.state.Phase != model.PhasePause {
		return t.state, ErrInvalidState
	}
	_ = t.sink.Stop()
	t.stopContextLocked()
	t.setStopLocked()
	return t.state, nil
}

// Shutdown stops playback permanently.
func (t *Transport) Shutdown() model.State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase == model.PhaseOff {
		return t.state
	}
	_ = t.sink.Stop()
	t.stopContextLocked()
	t.disc = nil
	t.publishDiscLocked()
	t.updateStateLocked(model.State{Phase: model.PhaseOff})
	return t.state
}

func (t *Transport) doPauseLocked() {
	if err := t.sink.Pause(); err != nil {
		t.log.Printf("transport: sink pause failed: %v", err)
	}
	t.pausedByUser = true
	s := t.state
	s.Phase = model.PhasePause
	t.updateStateLocked(s)
}

func (t *Transport) doResumeLocked() {
	if t.pausedByUser {
		_ = t.sink.Resume()
		s := t.state
		s.Phase = model.PhasePlay
		t.updateStateLocked(s)
		return
	}
	// Paused automatically between tracks (PauseAfter): the sink has
	// already been stopped, so resuming means starting a fresh context.
	t.newContextLocked()
	t.setWorkingLocked(t.disc)
}

func (t *Transport) setWorkingLocked(disc *model.Disc) {
	noTracks := 0
	if disc != nil {
		noTracks = len(disc.Tracks)
	}
	t.updateStateLocked(model.State{
		Phase:        model.PhaseWorking,
		DiscID:       discID(disc),
		SourceDiscID: sourceDiscID(disc),
		NoTracks:     noTracks,
	})
}

func (t *Transport) setStopLocked() {
	s := t.state
	s.Phase = model.PhaseStop
	s.Track = 0
	s.Index = 0
	s.Position = 0
	s.Length = 0
	t.updateStateLocked(s)
}

func discID(d *model.Disc) string {
	if d == nil {
		return ""
	}
	return d.DiscID
}

func sourceDiscID(d *model.Disc) string {
	if d == nil {
		return ""
	}
	return d.SourceDiscID()
}

func (t *Transport) updateStateLocked(s model.State) {
	t.state = s
	if t.onState != nil {
		go t.onState(s)
	}
}

func (t *Transport) publishDiscLocked() {
	if t.onDisc != nil {
		go t.onDisc(t.disc)
	}
}

// stopContextLocked cancels the running packet-pump goroutine, if any,
// and waits for it to exit so the sink is guaranteed idle before the
// caller proceeds.
func (t *Transport) stopContextLocked() {
	if t.cancel != nil {
		t.cancel()
		done := t.done
		t.mu.Unlock()
		<-done
		t.mu.Lock()
		t.cancel = nil
		t.done = nil
	}
}

// newContextLocked cancels any running pump and starts a fresh one
// built from t.newStreamer, starting playback at track slice index
// t.currentIndex, t.currentOffset frames into that track.
func (t *Transport) newContextLocked() {
	t.stopContextLocked()
	if t.newStreamer == nil {
		return
	}
	streamer := t.newStreamer(t.currentIndex, t.currentOffset)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.pump(ctx, streamer, done)
}

// pump reads packets from streamer and feeds them to the sink until
// ctx is cancelled or the stream ends.
func (t *Transport) pump(ctx context.Context, streamer *source.Streamer, done chan struct{}) {
	defer close(done)
	defer streamer.Close()

	if err := t.sink.Start(); err != nil {
		t.log.Printf("transport: sink start failed: %v", err)
	}

	firstPacket := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, err := streamer.Next()
		if err == io.EOF {
			t.finishStream(ctx)
			return
		}
		if errors.Is(err, source.ErrStalled) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(stallRetryInterval):
			}
			continue
		}
		if err != nil {
			t.sourceError(err)
			return
		}

		if firstPacket {
			firstPacket = false
			t.onPlaybackStarted(pkt)
		}

		offset := 0
		for offset < len(pkt.Data) {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, playing, sinkErr := t.sink.AddPacket(pkt, pkt.Data[offset:])
			offset += n
			t.maybeUpdateFromPacket(playing, sinkErr)
		}

		if pkt.Flags.Has(model.LastInTrack) && pkt.Flags.Has(model.PauseAfter) {
			t.drainAndPause(ctx)
			return
		}
	}
}

func (t *Transport) onPlaybackStarted(pkt *model.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Phase != model.PhaseWorking {
		return
	}
	s := t.state
	s.Phase = model.PhasePlay
	s.Track = pkt.Track
	s.Index = pkt.Index
	s.Position = pkt.PositionSeconds()
	s.Length = t.trackLengthSecondsLocked(pkt.Track)
	t.updateStateLocked(s)
}

func (t *Transport) maybeUpdateFromPacket(pkt *model.Packet, sinkErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	s := t.state
	if sinkErr != nil {
		msg := "audio sink error: " + sinkErr.Error()
		if s.Error != msg {
			s.Error = msg
			changed = true
		}
	}
	if pkt != nil && (s.Track != pkt.Track || s.Index != pkt.Index || s.Position != pkt.PositionSeconds()) {
		s.Track = pkt.Track
		s.Index = pkt.Index
		s.Position = pkt.PositionSeconds()
		s.Length = t.trackLengthSecondsLocked(pkt.Track)
		changed = true
	}
	if changed {
		t.updateStateLocked(s)
	}
}

func (t *Transport) trackLengthSecondsLocked(trackNum int) int {
	if t.disc == nil {
		return 0
	}
	for _, tr := range t.disc.Tracks {
		if tr.Number == trackNum {
			return model.FramesToSeconds(tr.Length - tr.PregapOffset)
		}
	}
	return 0
}

func (t *Transport) drainAndPause(ctx context.Context) {
	playing, err, ok := t.sink.Drain()
	if !ok {
		return
	}
	t.maybeUpdateFromPacket(playing, err)

	select {
	case <-ctx.Done():
		return
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if idx := t.trackIndexForNumberLocked(t.state.Track); idx >= 0 {
		t.currentIndex = idx + 1
		t.currentOffset = 0
	}
	s := t.state
	s.Phase = model.PhasePause
	t.pausedByUser = false
	t.updateStateLocked(s)
}

func (t *Transport) finishStream(ctx context.Context) {
	_, err, ok := t.sink.Drain()
	if ok {
		t.maybeUpdateFromPacket(nil, err)
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStopLocked()
}

func (t *Transport) sourceError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	s.Error = err.Error()
	t.updateStateLocked(s)
	_ = t.sink.Stop()
	t.setStopLocked()
}
