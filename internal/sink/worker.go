package sink

import (
	"errors"
	"time"

	"github.com/codplayer/codplayer/internal/model"
)

// run is the worker goroutine's main loop, implementing §4.2's
// worker-thread algorithm. It owns the Device handle exclusively; no
// other goroutine touches it.
func (s *Sink) run() {
	defer close(s.closed)
	s.setRealtimePriority()

	for {
		state := s.waitForWork()
		if state == Shutdown {
			s.closeDevice()
			return
		}

		switch {
		case state == Starting:
			s.openDevice()
		case state == Pausing:
			s.doPause()
		case state == Resume:
			s.doResume()
		case state.HasBuffer() && s.dev == nil:
			// PLAYING/DRAINING lost its handle (device error, or a
			// resume that had to reopen); (re)open it exactly as
			// STARTING does.
			s.openDevice()
		case state.HasBuffer() && s.dev != nil:
			s.pumpOnce(state)
		case state == Closing:
			s.doClose(false)
		}
	}
}

// waitForWork blocks until the state machine has something for the
// worker to do: it is not idle-spinning in CLOSED/PAUSED.
func (s *Sink) waitForWork() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state == Closed || s.state == Paused {
		s.cond.Wait()
	}
	return s.state
}

func (s *Sink) openDevice() {
	dev := s.newDevice()
	params, err := dev.Open(model.SampleRate, model.Channels, true)
	if err != nil {
		s.setErr(err)
		s.log.Printf("sink: device open failed: %v", err)
		time.Sleep(deviceOpenBackoff)
		// stay in STARTING; the outer loop retries, unless stop/shutdown
		// was requested meanwhile.
		s.mu.Lock()
		if s.state == Starting {
			// no-op: still starting, loop will call openDevice again
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.dev = dev
	s.swapBytes = !params.BigEndian
	s.err = nil
	if s.state == Starting {
		s.setState(Playing)
	}
	s.mu.Unlock()
	s.log.Debugf("sink: device opened, period=%d frames, periods=%d, swap=%v",
		params.PeriodFrames, params.Periods, s.swapBytes)
}

// pumpOnce handles one iteration of PLAYING/DRAINING with an open
// device: take one period off the buffer and write it.
func (s *Sink) pumpOnce(state State) {
	data, tag, closed := s.buf.TakePeriod()
	if closed {
		return
	}

	err := s.dev.WritePeriod(data)
	if err != nil {
		var derr *DeviceError
		if errors.As(err, &derr) && derr.Code == ErrTransient {
			s.log.Debugf("sink: transient device error, retrying: %v", err)
			return // retry the same period next iteration
		}

		s.setErr(err)
		s.log.Printf("sink: device write failed, closing: %v", err)
		s.closeDevice()
		s.mu.Lock()
		if s.state != Closing && s.state != Shutdown {
			s.setState(Starting) // main loop will retry opening
		}
		s.mu.Unlock()
		return
	}

	s.buf.AdvancePlay()
	s.setPlaying(tag)

	s.mu.Lock()
	cur := s.state
	drained := cur == Draining && s.buf.DataSize() == 0
	s.mu.Unlock()

	if drained {
		s.doClose(true)
	}
}

// doPause mirrors c_alsa_sink.c's thread_pause: the handle is paused
// in place, not closed, unless the device itself refuses to
// cooperate. Either way the logical state advances to PAUSED, since
// the music stops at this point regardless.
func (s *Sink) doPause() {
	if s.dev != nil {
		if err := s.dev.Pause(); err != nil {
			s.log.Debugf("sink: device pause failed, closing: %v", err)
			s.closeDevice()
		}
	}
	s.mu.Lock()
	s.setState(Paused)
	s.mu.Unlock()
}

// doResume mirrors thread_resume: resume the still-open handle in
// place and restore whichever buffered state PAUSING was entered
// from (PLAYING or DRAINING), rather than assuming PLAYING. If the
// handle is gone, either because doPause had to close it or because
// resuming it failed here, the next loop iteration finds that target
// state with s.dev == nil and reopens it the same way a device error
// during playback would.
func (s *Sink) doResume() {
	if s.dev != nil {
		if err := s.dev.Resume(); err != nil {
			s.log.Debugf("sink: device resume failed, closing: %v", err)
			s.closeDevice()
		}
	}
	s.mu.Lock()
	s.setState(s.pausedFrom)
	s.mu.Unlock()
}

// doClose implements CLOSING/SHUTDOWN handling: drain (if draining) or
// drop, close the handle, reset ring buffer positions, and return to
// CLOSED (or exit, handled by the caller for SHUTDOWN).
func (s *Sink) doClose(wasDraining bool) {
	if s.dev != nil {
		if wasDraining {
			_ = s.dev.Drain()
		} else {
			_ = s.dev.Drop()
		}
	}
	s.closeDevice()
	s.buf.Reset()

	s.mu.Lock()
	if s.state != Shutdown {
		s.setState(Closed)
	}
	s.mu.Unlock()
}

func (s *Sink) closeDevice() {
	if s.dev != nil {
		_ = s.dev.Close()
		s.dev = nil
	}
}
