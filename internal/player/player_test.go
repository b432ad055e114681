package player

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codplayer/codplayer/internal/archive"
	"github.com/codplayer/codplayer/internal/cdrom"
	"github.com/codplayer/codplayer/internal/discid"
	"github.com/codplayer/codplayer/internal/errs"
	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
	"github.com/codplayer/codplayer/internal/reconcile"
	"github.com/codplayer/codplayer/internal/rip"
)

type fakeSink struct {
	mu      sync.Mutex
	started bool
	bytes   int
}

func (f *fakeSink) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSink) AddPacket(packet *model.Packet, data []byte) (int, *model.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bytes += len(data)
	return len(data), packet, nil
}

func (f *fakeSink) Drain() (*model.Packet, error, bool) { return nil, nil, true }
func (f *fakeSink) Pause() error                        { return nil }
func (f *fakeSink) Resume() error                       { return nil }
func (f *fakeSink) Stop() error                         { return nil }

type fakeReader struct {
	toc cdrom.BasicTOC
	err error
}

func (r *fakeReader) Open() error                      { return nil }
func (r *fakeReader) ReadTOC() (cdrom.BasicTOC, error) { return r.toc, r.err }
func (r *fakeReader) Close() error                     { return nil }

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/bash\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestPlayer(t *testing.T, reader DiscReader, cdparanoia, cdrdao string) (*Player, *archive.Archive, *fakeSink) {
	t.Helper()
	arch := archive.New(t.TempDir())
	sink := &fakeSink{}
	log := logging.New(logging.Silent, nil, false)

	ripCfg := rip.Config{CdromDevice: "/dev/sr0", CdparanoiaCommand: cdparanoia, CdrdaoCommand: cdrdao}
	p := New(Config{CdromDevice: "/dev/sr0", Version: "test"}, arch, ripCfg, reconcile.New(), sink,
		func(string) DiscReader { return reader },
		func(model.State) {}, func(*model.Disc) {}, func(model.RipState) {}, log)
	return p, arch, sink
}

// singleTrackTOC describes a disc with one audio track spanning
// sectorCount CD sectors, good enough for both the basic TOC
// discFromBasicTOC derives and the matching subchannel TOC a fake
// cdrdao script can emit.
func singleTrackTOC(sectorCount int32) cdrom.BasicTOC {
	return cdrom.BasicTOC{
		Tracks:        []cdrom.TrackEntry{{TrackNum: 1, StartSector: 0, LengthSectors: sectorCount}},
		LeadoutSector: sectorCount,
	}
}

func TestDiscRipsNewPhysicalDiscThenPlaysToStop(t *testing.T) {
	const sectors = 10
	const frames = sectors * (model.SampleRate / model.FramesPerSecond)
	const bytes = frames * model.BytesPerFrame

	binDir := t.TempDir()
	cdparanoia := writeScript(t, binDir, "cdparanoia", fmt.Sprintf(`
out="${@: -1}"
head -c %d /dev/zero > "$out"
`, bytes))
	cdrdao := writeScript(t, binDir, "cdrdao", fmt.Sprintf(`
out="${@: -1}"
cat > "$out" <<EOF
CD_DA

TRACK AUDIO
FILE "data.pcm" 0 00:00:%02d
EOF
`, sectors))

	reader := &fakeReader{toc: singleTrackTOC(sectors)}
	p, arch, sink := newTestPlayer(t, reader, cdparanoia, cdrdao)

	state, err := p.Disc("")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseWorking, state.Phase)
	discID := state.DiscID
	require.NotEmpty(t, discID)

	assert.Eventually(t, func() bool {
		return p.State().Phase == model.PhaseStop
	}, 5*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	assert.True(t, sink.started)
	assert.Greater(t, sink.bytes, 0)
	sink.mu.Unlock()

	disc, err := arch.GetDisc(discID)
	require.NoError(t, err)
	assert.True(t, disc.Rip)
	assert.True(t, disc.TOC)
}

func TestDiscByIDPlaysAlreadyArchivedDiscWithoutRipping(t *testing.T) {
	const frames = 500
	reader := &fakeReader{err: errors.New("should not be called")}
	p, arch, sink := newTestPlayer(t, reader, "/bin/false", "/bin/false")

	disc := &model.Disc{
		DiscID: "archived0000000000000000001",
		Rip:    true,
		TOC:    true,
		Tracks: []*model.Track{{Number: 1, Length: frames}},
	}
	require.NoError(t, arch.CreateDisc(disc, "CD_DA\n"))
	require.NoError(t, os.WriteFile(arch.AudioPath(disc.DiscID), make([]byte, frames*model.BytesPerFrame), 0o644))

	state, err := p.Disc(disc.DiscID)
	require.NoError(t, err)
	assert.Equal(t, disc.DiscID, state.DiscID)

	assert.Eventually(t, func() bool {
		return p.State().Phase == model.PhaseStop
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.started)
}

func TestDiscRejectsUnknownID(t *testing.T) {
	p, _, _ := newTestPlayer(t, &fakeReader{}, "/bin/false", "/bin/false")

	_, err := p.Disc("doesnotexist")
	var ce *errs.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "invalid disc id")
}

func TestDiscFollowsAliasLinkAndReportsTriggeringID(t *testing.T) {
	// Alias resolution only applies on the physical-disc path: the
	// disc actually in the drive identifies as an alias record already
	// in the archive, which links onward to the disc it should play.
	const sectors = 1
	const frames = sectors * (model.SampleRate / model.FramesPerSecond)
	toc := singleTrackTOC(sectors)
	id, err := discid.Compute(toc.DiscID())
	require.NoError(t, err)

	reader := &fakeReader{toc: toc}
	p, arch, _ := newTestPlayer(t, reader, "/bin/false", "/bin/false")

	target := &model.Disc{
		DiscID: "targetdisc0000000000000001",
		Rip:    true,
		TOC:    true,
		Tracks: []*model.Track{{Number: 1, Length: frames}},
	}
	require.NoError(t, arch.CreateDisc(target, "CD_DA\n"))
	require.NoError(t, os.WriteFile(arch.AudioPath(target.DiscID), make([]byte, frames*model.BytesPerFrame), 0o644))

	alias := &model.Disc{
		DiscID:       id,
		LinkedDiscID: target.DiscID,
		Rip:          true,
		TOC:          true,
		Tracks:       []*model.Track{{Number: 1, Length: frames}},
	}
	require.NoError(t, arch.CreateDisc(alias, "CD_DA\n"))

	state, err := p.Disc("")
	require.NoError(t, err)
	assert.Equal(t, target.DiscID, state.DiscID)
	assert.Equal(t, id, state.SourceDiscID)
}

func TestEjectDuringRipStopsRipperAndTransport(t *testing.T) {
	binDir := t.TempDir()
	cdparanoia := writeScript(t, binDir, "cdparanoia", "sleep 30")

	reader := &fakeReader{toc: singleTrackTOC(10)}
	p, _, _ := newTestPlayer(t, reader, cdparanoia, "/bin/false")

	_, err := p.Disc("")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Ripping()
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Eject()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Eject did not return in time")
	}

	assert.False(t, p.Ripping())
	assert.Equal(t, model.PhaseNoDisc, p.State().Phase)
}

func TestQuitShutsDownTransport(t *testing.T) {
	p, _, _ := newTestPlayer(t, &fakeReader{}, "/bin/false", "/bin/false")

	s := p.Quit()
	assert.Equal(t, model.PhaseOff, s.Phase)
}

func TestPauseRejectedWithNoDiscLoaded(t *testing.T) {
	p, _, _ := newTestPlayer(t, &fakeReader{}, "/bin/false", "/bin/false")

	_, err := p.Pause()
	var ce *errs.CommandError
	assert.True(t, errors.As(err, &ce))
}

func TestRipStateReportsInactiveBeforeAnyRip(t *testing.T) {
	p, _, _ := newTestPlayer(t, &fakeReader{}, "/bin/false", "/bin/false")
	assert.Equal(t, model.RipInactive, p.RipState().Phase)
}
