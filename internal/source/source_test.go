package source

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codplayer/codplayer/internal/model"
)

func writeTestFile(t *testing.T, frames int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.pcm")
	data := make([]byte, frames*model.BytesPerFrame)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestStreamerDeliversAllFramesOfSingleTrack(t *testing.T) {
	path := writeTestFile(t, model.SampleRate) // 1 second of audio

	disc := &model.Disc{
		DiscID: "abc",
		Tracks: []*model.Track{
			{Number: 1, FileOffset: 0, Length: model.SampleRate},
		},
	}

	s := New(disc, path, 0, nil)
	defer s.Close()

	total := 0
	for {
		pkt, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += pkt.Length
		assert.Equal(t, 1, pkt.Track)
	}
	assert.Equal(t, model.SampleRate, total)
}

func TestStreamerMarksLastInStreamAndPauseAfter(t *testing.T) {
	path := writeTestFile(t, 2*model.SampleRate)

	disc := &model.Disc{
		DiscID: "xyz",
		Tracks: []*model.Track{
			{Number: 1, FileOffset: 0, Length: model.SampleRate, PauseAfter: true},
			{Number: 2, FileOffset: model.SampleRate, Length: model.SampleRate},
		},
	}

	s := New(disc, path, 0, nil)
	defer s.Close()

	var lastOfTrack1 *model.Packet
	var firstOfTrack2 *model.Packet
	var lastOverall *model.Packet

	for {
		pkt, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if pkt.Track == 1 && pkt.Flags.Has(model.LastInTrack) {
			lastOfTrack1 = pkt
		}
		if pkt.Track == 2 && firstOfTrack2 == nil {
			firstOfTrack2 = pkt
		}
		lastOverall = pkt
	}

	require.NotNil(t, lastOfTrack1)
	assert.True(t, lastOfTrack1.Flags.Has(model.PauseAfter))

	require.NotNil(t, firstOfTrack2)
	assert.True(t, firstOfTrack2.Flags.Has(model.PauseBefore))

	require.NotNil(t, lastOverall)
	assert.True(t, lastOverall.Flags.Has(model.LastInStream))
}

func TestStreamerHandlesPregapSilence(t *testing.T) {
	// The started track's own pregap is skipped (playback jumps straight
	// to index 1), but a later track's pregap is streamed as silence
	// when it precedes audio the ripper never captured.
	path := writeTestFile(t, 200)

	disc := &model.Disc{
		DiscID: "pregap",
		Tracks: []*model.Track{
			{Number: 1, FileOffset: 0, Length: 50},
			{Number: 0, FileOffset: 0, Length: 200, PregapOffset: 150},
		},
	}

	s := New(disc, path, 0, nil)
	defer s.Close()

	var firstOfHiddenTrack *model.Packet
	for {
		pkt, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if pkt.Track == 0 && firstOfHiddenTrack == nil {
			firstOfHiddenTrack = pkt
		}
	}

	require.NotNil(t, firstOfHiddenTrack)
	assert.Equal(t, -1, firstOfHiddenTrack.FileOffset)
	for _, b := range firstOfHiddenTrack.Data {
		assert.Equal(t, byte(0), b)
	}
}

func TestStreamerReturnsStalledWhenFileMissingDuringRip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.pcm")

	disc := &model.Disc{
		DiscID: "rip",
		Tracks: []*model.Track{{Number: 1, Length: model.SampleRate}},
	}

	s := New(disc, path, 0, func() bool { return true })
	defer s.Close()

	_, err := s.Next()
	assert.ErrorIs(t, err, ErrStalled)
}
