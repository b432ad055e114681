// Package rip implements the Ripper: it supervises two external child
// processes per disc, an audio ripper and a subchannel/TOC reader, and
// reports their progress as model.RipState.
//
// Grounded on original_source/src/codplayer/rip.py's Ripper class. The
// original structures each phase as a generator driven by a tick()
// method polled from the main loop; here each phase runs to
// completion inside its own goroutine, the two phases chained
// sequentially, and cancelled via context.Context instead of a
// generator abandoned mid-iteration.
package rip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/codplayer/codplayer/internal/errs"
	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
)

// Config holds the external commands and options the Ripper invokes,
// grounded on rip.py's use of player.cfg.cdparanoia_command,
// cdrdao_command, cdrom_device and cdrom_read_speed.
type Config struct {
	CdromDevice       string
	CdparanoiaCommand string
	CdrdaoCommand     string
	ReadSpeed         int // 0 means no --force-read-speed cap

	AudioTimeout time.Duration // 0 means no timeout
	TOCTimeout   time.Duration
}

// Archive is the subset of internal/archive that the Ripper depends
// on: locating a disc's directory and audio/TOC files, and persisting
// disc metadata once a phase completes.
type Archive interface {
	DiscDir(discID string) string
	AudioPath(discID string) string
	TOCPath(discID string) string
	GetDisc(discID string) (*model.Disc, error)
	SaveDiscInfo(disc *model.Disc) error
}

// Reconciler is the subset of internal/reconcile the Ripper depends
// on, invoked once the TOC phase produces a full subchannel TOC.
type Reconciler interface {
	MergeFullTOC(disc *model.Disc, tocPath string) (*model.Disc, error)
}

// Ripper drives the audio-then-TOC rip pipeline for one disc at a
// time. It is safe to call Start/Stop from any goroutine.
type Ripper struct {
	cfg        Config
	archive    Archive
	reconciler Reconciler
	log        *logging.Logger
	onState    func(model.RipState)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Ripper. onState is called (outside any lock) whenever
// the published RipState changes, matching rip.py's update_state
// fanning out to player.publishers.
func New(cfg Config, archive Archive, reconciler Reconciler, onState func(model.RipState), log *logging.Logger) *Ripper {
	return &Ripper{
		cfg:        cfg,
		archive:    archive,
		reconciler: reconciler,
		onState:    onState,
		log:        log,
	}
}

// Start begins (or resumes) ripping disc. tasks lists which phases
// still need to run, e.g. both for a brand-new disc or just the TOC
// phase if audio was already ripped on a prior insertion. It is a
// no-op if a rip is already in progress.
func (r *Ripper) Start(disc *model.Disc, tasks []model.RipPhase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go r.run(ctx, disc, tasks, done)
}

// Stop kills any in-progress child process and waits for the rip
// goroutine to exit, matching rip.py's stop() draining tick() after
// terminating current_process.
func (r *Ripper) Stop() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()
}

// Busy reports whether a rip is currently in progress.
func (r *Ripper) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Ripper) run(ctx context.Context, disc *model.Disc, tasks []model.RipPhase, done chan struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		if r.done == done {
			r.cancel = nil
			r.done = nil
		}
		r.mu.Unlock()
	}()
	defer r.publish(model.RipState{Phase: model.RipInactive})

	for _, phase := range tasks {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var err error
		switch phase {
		case model.RipAudio:
			err = r.ripAudio(ctx, disc)
		case model.RipTOC:
			err = r.ripTOC(ctx, disc)
		default:
			continue
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			var rerr *errs.ReconcileError
			if errors.As(err, &rerr) {
				// Non-fatal: the disc was already saved with Rip=true
				// during the audio phase and stays playable with its
				// basic TOC; don't surface this as a rip failure.
				r.log.Printf("rip: %v (disc stays playable with basic TOC)", err)
				r.publish(model.RipState{DiscID: disc.DiscID, Phase: model.RipInactive})
				return
			}

			r.log.Printf("rip: %v", err)
			r.publish(model.RipState{DiscID: disc.DiscID, Phase: model.RipInactive, LastError: err.Error()})
			return
		}
	}
}

func (r *Ripper) publish(s model.RipState) {
	if r.onState != nil {
		r.onState(s)
	}
}

// ripAudio runs the audio ripper, polling the output file's size to
// report progress against the expected fully-ripped size.
func (r *Ripper) ripAudio(ctx context.Context, disc *model.Disc) error {
	r.log.Printf("rip: ripping audio for disc %s", disc.DiscID)

	audioPath := r.archive.AudioPath(disc.DiscID)

	// A span of -NUM_TRACKS forces the ripper to read everything,
	// including any hidden track before the first proper track.
	span := fmt.Sprintf("-%d", len(disc.Tracks))

	args := []string{
		"--force-cdrom-device", r.cfg.CdromDevice,
		"--output-raw-big-endian",
	}
	if r.cfg.ReadSpeed > 0 {
		args = append(args, "--force-read-speed", strconv.Itoa(r.cfg.ReadSpeed))
	}
	args = append(args, "--", span, audioPath)

	proc, err := r.startProcess(ctx, r.cfg.CdparanoiaCommand, args, disc.DiscID, "rip_audio.log", r.cfg.AudioTimeout)
	if err != nil {
		return &errs.RipError{Phase: "audio", Err: err}
	}

	expectedSize := int64(disc.DataFileSizeFrames()) * model.BytesPerFrame
	if expectedSize <= 0 {
		expectedSize = 1
	}

	r.publish(model.RipState{DiscID: disc.DiscID, Phase: model.RipAudio, ProgressKnown: true})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastProgress := -1
loop:
	for {
		select {
		case <-ctx.Done():
			_ = proc.Kill()
			<-proc.Wait()
			return context.Canceled
		case <-proc.Done():
			break loop
		case <-ticker.C:
			stat, err := os.Stat(audioPath)
			progress := 0
			if err == nil {
				progress = int(100 * float64(stat.Size()) / float64(expectedSize))
				if progress > 100 {
					progress = 100
				}
			}
			if progress != lastProgress {
				lastProgress = progress
				r.publish(model.RipState{DiscID: disc.DiscID, Phase: model.RipAudio, Progress: progress, ProgressKnown: true})
			}
		}
	}

	rc := <-proc.Wait()
	r.log.Debugf("rip: audio ripping process finished with status %v", rc)
	if rc != nil {
		return &errs.RipError{Phase: "audio", Err: fmt.Errorf("ripping failed: %w", rc)}
	}

	disc, err = r.archive.GetDisc(disc.DiscID)
	if err != nil {
		return &errs.RipError{Phase: "audio", Err: err}
	}
	disc.Rip = true
	if err := r.archive.SaveDiscInfo(disc); err != nil {
		return &errs.RipError{Phase: "audio", Err: err}
	}
	return nil
}

var tocProgressRe = regexp.MustCompile(`(\d{1,3})\s*%`)

// ripTOC runs the subchannel/TOC reader, parsing percentage progress
// out of its stderr output where available.
func (r *Ripper) ripTOC(ctx context.Context, disc *model.Disc) error {
	r.log.Printf("rip: reading full TOC for disc %s", disc.DiscID)

	tocPath := r.archive.TOCPath(disc.DiscID)

	// cdrdao refuses to overwrite an existing TOC file.
	_ = os.Remove(tocPath)

	args := []string{
		"read-toc",
		"--device", r.cfg.CdromDevice,
		"--datafile", r.archive.AudioPath(disc.DiscID),
		tocPath,
	}

	r.publish(model.RipState{DiscID: disc.DiscID, Phase: model.RipTOC})

	progressCh := make(chan int, 8)
	proc, err := r.startProcessWithProgress(ctx, r.cfg.CdrdaoCommand, args, disc.DiscID, "rip_toc.log", r.cfg.TOCTimeout, progressCh)
	if err != nil {
		return &errs.RipError{Phase: "toc", Err: err}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			_ = proc.Kill()
			<-proc.Wait()
			return context.Canceled
		case p, ok := <-progressCh:
			if ok {
				r.publish(model.RipState{DiscID: disc.DiscID, Phase: model.RipTOC, Progress: p, ProgressKnown: true})
			}
		case <-proc.Done():
			break loop
		}
	}

	rc := <-proc.Wait()
	r.log.Debugf("rip: TOC reading process finished with status %v", rc)
	if rc != nil {
		return &errs.RipError{Phase: "toc", Err: fmt.Errorf("toc ripping failed: %w", rc)}
	}

	disc, err = r.archive.GetDisc(disc.DiscID)
	if err != nil {
		return &errs.RipError{Phase: "toc", Err: err}
	}

	merged, err := r.reconciler.MergeFullTOC(disc, tocPath)
	if err != nil {
		// Per §4.6/§4.5: a TOC that fails to merge leaves the disc
		// playable with only the basic TOC it already has, rather than
		// failing the rip outright -- distinct from the RipError cases
		// above, which mean the disc has no usable audio/TOC at all.
		return &errs.ReconcileError{DiscID: disc.DiscID, Err: err}
	}
	merged.TOC = true
	if err := r.archive.SaveDiscInfo(merged); err != nil {
		return &errs.RipError{Phase: "toc", Err: err}
	}
	return nil
}

// childProcess wraps a running child for the polling loop above.
type childProcess struct {
	cmd  *exec.Cmd
	wait chan error
	done chan struct{}
}

func (c *childProcess) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *childProcess) Wait() <-chan error { return c.wait }
func (c *childProcess) Done() <-chan struct{} { return c.done }

// startProcess launches args under name, redirecting combined
// stdout/stderr to logFileName inside the disc's archive directory,
// matching rip.py's run_process.
func (r *Ripper) startProcess(ctx context.Context, name string, args []string, discID, logFileName string, timeout time.Duration) (*childProcess, error) {
	return r.startProcessWithProgress(ctx, name, args, discID, logFileName, timeout, nil)
}

func (r *Ripper) startProcessWithProgress(ctx context.Context, name string, args []string, discID, logFileName string, timeout time.Duration, progressCh chan<- int) (*childProcess, error) {
	dir := r.archive.DiscDir(discID)
	logPath := filepath.Join(dir, logFileName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	runCtx := ctx
	var timeoutCancel context.CancelFunc
	if timeout > 0 {
		runCtx, timeoutCancel = context.WithTimeout(ctx, timeout)
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir

	var stderrReader *io.PipeReader
	if progressCh != nil {
		var stderrWriter *io.PipeWriter
		stderrReader, stderrWriter = io.Pipe()
		cmd.Stdout = logFile
		cmd.Stderr = io.MultiWriter(logFile, stderrWriter)
	} else {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	r.log.Debugf("rip: executing %s in %s: %v", name, dir, args)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	if stderrReader != nil {
		go scanProgress(stderrReader, progressCh)
	}

	done := make(chan struct{})
	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		if timeoutCancel != nil {
			timeoutCancel()
		}
		logFile.Close()
		if stderrReader != nil {
			stderrReader.Close()
		}
		waitCh <- err
		close(done)
	}()

	return &childProcess{cmd: cmd, wait: waitCh, done: done}, nil
}

func scanProgress(r io.Reader, ch chan<- int) {
	defer close(ch)
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		m := tocProgressRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if pct, err := strconv.Atoi(m[1]); err == nil {
			select {
			case ch <- pct:
			default:
			}
		}
	}
}
