package player

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codplayer/codplayer/internal/archive"
	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
	"github.com/codplayer/codplayer/internal/reconcile"
	"github.com/codplayer/codplayer/internal/rip"
	"github.com/codplayer/codplayer/internal/wire"
)

// newWiredTestPlayer builds a Player whose onState/onDisc/onRipState
// callbacks publish through a wire.Hub, and starts the Hub's command
// loop dispatching into the Player, the in-process equivalent of a
// client driving codplayerd over its wire surface.
func newWiredTestPlayer(t *testing.T, disc *model.Disc) (*wire.Hub, *archive.Archive) {
	t.Helper()
	arch := archive.New(t.TempDir())
	require.NoError(t, arch.CreateDisc(disc, "CD_DA\n"))

	totalFrames := 0
	for _, tr := range disc.Tracks {
		totalFrames += tr.Length
	}
	require.NoError(t, os.WriteFile(arch.AudioPath(disc.DiscID), make([]byte, totalFrames*model.BytesPerFrame), 0o644))

	sink := &fakeSink{}
	log := logging.New(logging.Silent, nil, false)
	hub := wire.NewHub()

	p := New(Config{CdromDevice: "/dev/sr0", Version: "test"}, arch,
		rip.Config{CdromDevice: "/dev/sr0", CdparanoiaCommand: "/bin/false", CdrdaoCommand: "/bin/false"},
		reconcile.New(), sink,
		func(string) DiscReader { return &fakeReader{err: os.ErrNotExist} },
		hub.PublishState, hub.PublishDisc, hub.PublishRipState, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Serve(ctx, wire.Dispatch(p))

	reply := hub.Call("disc", disc.DiscID)
	require.Equal(t, "state", reply.Type)

	return hub, arch
}

// drainLatestState reads whatever the latest published state is,
// waiting up to timeout for the predicate to hold. Because Hub's
// subscriber channels carry only the newest value (matching a SUB
// socket), intermediate transitions may never be observed directly;
// tests assert on the last state seen instead of every tick.
func drainLatestState(t *testing.T, ch <-chan model.State, timeout time.Duration, want func(model.State) bool) model.State {
	t.Helper()
	deadline := time.After(timeout)
	var last model.State
	for {
		select {
		case s := <-ch:
			last = s
			if want(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state matching predicate, last seen: %+v", last)
			return last
		}
	}
}

// TestFreshInsertThenPlayReachesStopAtEndOfDisc drives scenario 1: a
// disc with a 30s and a 45s track plays straight through to STOP.
// set_state_stop always zeroes track/index/position/length (matching
// the original), so the disc's final "position = 45, track = 2" moment
// is the last PLAY state observed, not the STOP state that follows it.
func TestFreshInsertThenPlayReachesStopAtEndOfDisc(t *testing.T) {
	disc := &model.Disc{
		DiscID: "scenario1000000000000000001",
		Rip:    true,
		TOC:    true,
		Tracks: []*model.Track{
			{Number: 1, Length: 30 * model.SampleRate},
			{Number: 2, Length: 45 * model.SampleRate},
		},
	}
	hub, _ := newWiredTestPlayer(t, disc)

	stateCh, unsub := hub.SubscribeState()
	defer unsub()

	reply := hub.Call("play")
	require.Equal(t, "state", reply.Type)

	lastPlay := drainLatestState(t, stateCh, 5*time.Second, func(s model.State) bool {
		return s.Phase == model.PhasePlay && s.Track == 2
	})
	assert.Equal(t, 45, lastPlay.Length)

	drainLatestState(t, stateCh, 5*time.Second, func(s model.State) bool {
		return s.Phase == model.PhaseStop
	})

	final := hub.Call("state")
	assert.Equal(t, "state", final.Type)
}

// TestPauseResumeMidTrackPreservesPosition drives scenario 2: pausing
// mid-track reports the position it paused at, and resuming continues
// from at most one second later.
func TestPauseResumeMidTrackPreservesPosition(t *testing.T) {
	disc := &model.Disc{
		DiscID: "scenario2000000000000000001",
		Rip:    true,
		TOC:    true,
		Tracks: []*model.Track{{Number: 1, Length: 20 * model.SampleRate}},
	}
	hub, _ := newWiredTestPlayer(t, disc)

	stateCh, unsub := hub.SubscribeState()
	defer unsub()

	require.Equal(t, "state", hub.Call("play").Type)
	drainLatestState(t, stateCh, 5*time.Second, func(s model.State) bool {
		return s.Phase == model.PhasePlay
	})
	require.Equal(t, "state", hub.Call("seek", "10").Type)

	pauseReply := hub.Call("pause")
	require.Equal(t, "state", pauseReply.Type)
	paused, ok := pauseReply.Value.(model.State)
	if !ok {
		t.Fatalf("pause reply value is not a model.State: %#v", pauseReply.Value)
	}
	assert.Equal(t, model.PhasePause, paused.Phase)
	assert.InDelta(t, 10, paused.Position, 1)

	resumeReply := hub.Call("play")
	require.Equal(t, "state", resumeReply.Type)
	resumed, ok := resumeReply.Value.(model.State)
	require.True(t, ok)
	assert.Equal(t, model.PhasePlay, resumed.Phase)
	assert.InDelta(t, 10, resumed.Position, 1)
}

// TestSkipTrackNeverPublishesSkippedTrackState drives scenario 3: a
// disc with track 2 marked skip. Calling next from track 1 lands on
// track 3 directly, and no published state ever names track 2.
func TestSkipTrackNeverPublishesSkippedTrackState(t *testing.T) {
	disc := &model.Disc{
		DiscID: "scenario3000000000000000001",
		Rip:    true,
		TOC:    true,
		Tracks: []*model.Track{
			{Number: 1, Length: 20 * model.SampleRate},
			{Number: 2, Length: 20 * model.SampleRate, Skip: true},
			{Number: 3, Length: 20 * model.SampleRate},
		},
	}
	hub, _ := newWiredTestPlayer(t, disc)

	stateCh, unsub := hub.SubscribeState()
	defer unsub()

	require.Equal(t, "state", hub.Call("play").Type)
	drainLatestState(t, stateCh, 5*time.Second, func(s model.State) bool {
		return s.Phase == model.PhasePlay && s.Track == 1
	})

	// playDisc filters Skip tracks out of the playable track list
	// entirely (see filterSkipped in player.go), so track 2's number
	// never appears in any transport state to begin with: next() from
	// track 1 lands directly on track 3.
	nextReply := hub.Call("next")
	require.Equal(t, "state", nextReply.Type)
	next, ok := nextReply.Value.(model.State)
	require.True(t, ok)
	assert.Equal(t, 3, next.Track)
	assert.Equal(t, 0, next.Position)
}

// TestPauseAfterBoundaryPausesBeforeNextTrackAudio drives scenario 4:
// a track with PauseAfter set drains the sink and reports PAUSE at
// track 1's own last reported position (sink_stopped in player.py only
// flips the state field to PAUSE, it does not fast-forward track/
// position to the next track), and resuming starts track 2 fresh at
// position 0 without ever having published a PLAY state for it first.
func TestPauseAfterBoundaryPausesBeforeNextTrackAudio(t *testing.T) {
	disc := &model.Disc{
		DiscID: "scenario4000000000000000001",
		Rip:    true,
		TOC:    true,
		Tracks: []*model.Track{
			{Number: 1, Length: 5 * model.SampleRate, PauseAfter: true},
			{Number: 2, Length: 10 * model.SampleRate},
		},
	}
	hub, _ := newWiredTestPlayer(t, disc)

	stateCh, unsub := hub.SubscribeState()
	defer unsub()

	require.Equal(t, "state", hub.Call("play").Type)

	paused := drainLatestState(t, stateCh, 5*time.Second, func(s model.State) bool {
		return s.Phase == model.PhasePause
	})
	assert.Equal(t, 1, paused.Track)

	resumeReply := hub.Call("play")
	require.Equal(t, "state", resumeReply.Type)
	resumed, ok := resumeReply.Value.(model.State)
	require.True(t, ok)
	assert.Equal(t, model.PhaseWorking, resumed.Phase)

	playing := drainLatestState(t, stateCh, 5*time.Second, func(s model.State) bool {
		return s.Phase == model.PhasePlay
	})
	assert.Equal(t, 2, playing.Track)
	assert.Equal(t, 0, playing.Position)
}
