package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codplayer/codplayer/internal/model"
)

const sampleTOC = `
CD_DA

CATALOG "0123456789012"

// Track 1
TRACK AUDIO
NO COPY
ISRC "ABCDE1234567"
FILE "data.cdr" 0 03:00:00

TRACK AUDIO
NO COPY
SILENCE 00:02:00
START 00:01:00
FILE "data.cdr" 03:00:00 03:30:00
INDEX 00:01:30
`

func TestParseTOCReadsTracksAndOffsets(t *testing.T) {
	toc, err := ParseTOC([]byte(sampleTOC))
	require.NoError(t, err)
	require.Len(t, toc.tracks, 2)

	assert.Equal(t, "0123456789012", toc.catalog)
	assert.Equal(t, "ABCDE1234567", toc.tracks[0].isrc)
	assert.Equal(t, 0, toc.tracks[0].fileOffset)
	assert.Equal(t, (3*60)*model.FramesPerSecond*(model.SampleRate/model.FramesPerSecond), toc.tracks[0].fileLength)

	assert.Equal(t, 2*model.FramesPerSecond*(model.SampleRate/model.FramesPerSecond), toc.tracks[1].pregapSilence)
	assert.Equal(t, 1*model.FramesPerSecond*(model.SampleRate/model.FramesPerSecond), toc.tracks[1].pregapOffset)
	require.Len(t, toc.tracks[1].index, 1)
}

func TestParseTOCRejectsEmptyTOC(t *testing.T) {
	_, err := ParseTOC([]byte("CD_DA\n"))
	assert.Error(t, err)
}

func TestMergeFullTOCReplacesOffsetsAndKeepsUserEdits(t *testing.T) {
	disc := &model.Disc{
		DiscID: "disc1",
		Tracks: []*model.Track{
			{Number: 1, FileOffset: 1000, Length: 1000, Artist: "user-set artist"},
			{Number: 2, FileOffset: 2000, Length: 1000},
		},
	}

	toc := `
TRACK AUDIO
FILE "data.cdr" 0 03:00:00

TRACK AUDIO
START 00:01:00
FILE "data.cdr" 03:00:00 03:00:00
`
	merged, err := MergeFullTOC(disc, []byte(toc))
	require.NoError(t, err)
	require.Len(t, merged.Tracks, 2)

	assert.Equal(t, "user-set artist", merged.Tracks[0].Artist)
	assert.NotZero(t, merged.Tracks[1].PregapOffset)
}

func TestMergeFullTOCRejectsTrackCountMismatch(t *testing.T) {
	disc := &model.Disc{
		DiscID: "disc1",
		Tracks: []*model.Track{{Number: 1, Length: 1000}},
	}
	toc := `
TRACK AUDIO
FILE "data.cdr" 0 01:00:00
TRACK AUDIO
FILE "data.cdr" 01:00:00 01:00:00
`
	_, err := MergeFullTOC(disc, []byte(toc))
	assert.Error(t, err)
}

func TestMergeFullTOCDetectsHiddenTrack(t *testing.T) {
	disc := &model.Disc{
		DiscID: "disc1",
		Tracks: []*model.Track{
			{Number: 1, FileOffset: 4 * model.SampleRate, Length: 1000},
		},
	}
	toc := `
TRACK AUDIO
FILE "data.cdr" 0 03:00:00
`
	merged, err := MergeFullTOC(disc, []byte(toc))
	require.NoError(t, err)
	require.Len(t, merged.Tracks, 2)
	assert.Equal(t, 0, merged.Tracks[0].Number)
	assert.Equal(t, 4*model.SampleRate, merged.Tracks[0].Length)
	assert.Equal(t, 1, merged.Tracks[1].Number)
}
