package discid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIsStableAndCorrectLength(t *testing.T) {
	toc := BasicTOC{
		TrackOffsets:  []int{150, 21440, 41762},
		LeadoutOffset: 59253,
	}

	id1, err := Compute(toc)
	require.NoError(t, err)
	assert.Len(t, id1, 28)

	id2, err := Compute(toc)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same TOC must yield the same identifier across runs")
}

func TestComputeIsURLSafe(t *testing.T) {
	toc := BasicTOC{TrackOffsets: []int{150}, LeadoutOffset: 1000}
	id, err := Compute(toc)
	require.NoError(t, err)

	for _, c := range id {
		assert.False(t, c == '+' || c == '/' || c == '=', "identifier must not contain raw base64 padding/symbol characters")
	}
}

func TestComputeDifferentTOCsDiffer(t *testing.T) {
	a, err := Compute(BasicTOC{TrackOffsets: []int{150, 20000}, LeadoutOffset: 40000})
	require.NoError(t, err)

	b, err := Compute(BasicTOC{TrackOffsets: []int{150, 25000}, LeadoutOffset: 40000})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestComputeRejectsBadTrackCount(t *testing.T) {
	_, err := Compute(BasicTOC{TrackOffsets: nil, LeadoutOffset: 100})
	assert.Error(t, err)
}

func TestDirNameIsHexReencodingOfTheRawDigest(t *testing.T) {
	id, err := Compute(BasicTOC{TrackOffsets: []int{150, 21440}, LeadoutOffset: 41762})
	require.NoError(t, err)

	dir := DirName(id)
	assert.Len(t, dir, 40, "a 20-byte SHA1 digest hex-encodes to 40 characters")
	for _, c := range dir {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'), "DirName must be lowercase hex, got %q", dir)
	}
}

func TestBucketIsDirNamesFirstHexCharacter(t *testing.T) {
	id, err := Compute(BasicTOC{TrackOffsets: []int{150, 21440}, LeadoutOffset: 41762})
	require.NoError(t, err)

	assert.Equal(t, DirName(id)[:1], Bucket(id))
	assert.Equal(t, "_", Bucket(""))
}
