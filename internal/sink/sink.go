package sink

import (
	"sync"
	"time"

	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
	"github.com/codplayer/codplayer/internal/ringbuf"
)

// State is the sink's lifecycle token. Per §9's design note, PLAYING,
// PAUSING, PAUSED, RESUME, and DRAINING all carry a "buffer is active"
// bit; CLOSED, STARTING, CLOSING, and SHUTDOWN do not. HasBuffer
// implements that bit as a method instead of duplicating it as a
// second field.
type State int

const (
	Closed State = iota
	Starting
	Playing
	Pausing
	Paused
	Resume
	Draining
	Closing
	Shutdown
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Starting:
		return "STARTING"
	case Playing:
		return "PLAYING"
	case Pausing:
		return "PAUSING"
	case Paused:
		return "PAUSED"
	case Resume:
		return "RESUME"
	case Draining:
		return "DRAINING"
	case Closing:
		return "CLOSING"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// HasBuffer reports whether this state belongs to the "buffer is
// active" arm of the state machine (PLAYING/PAUSING/PAUSED/RESUME/DRAINING).
func (s State) HasBuffer() bool {
	switch s {
	case Playing, Pausing, Paused, Resume, Draining:
		return true
	default:
		return false
	}
}

// deviceOpenBackoff is the fixed retry delay after a failed device
// open, per §4.2's worker algorithm step 1.
const deviceOpenBackoff = 3 * time.Second

// NewDeviceFunc constructs a fresh Device handle. Sink calls it every
// time the worker needs to (re)open the device.
type NewDeviceFunc func() Device

// Sink is the PCM Sink: it owns a ring buffer and a background worker
// goroutine that drains it into a Device.
type Sink struct {
	newDevice NewDeviceFunc
	buf       *ringbuf.Buffer
	log       *logging.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	state      State
	pausedFrom State // buffered state PAUSING was entered from (PLAYING/DRAINING), restored by Resume
	err        error

	// playingPacket/err/generation back the tripwire semantics of
	// AddPacket/Drain: callers wait for one of these to change.
	playingPacket *model.Packet
	generation    int64

	dev       Device
	swapBytes bool

	closed chan struct{}
}

// New creates a Sink over buf, backed by devices constructed by
// newDevice. It starts in CLOSED and does not launch the worker until
// Start is called.
func New(buf *ringbuf.Buffer, newDevice NewDeviceFunc, log *logging.Logger) *Sink {
	s := &Sink{
		newDevice: newDevice,
		buf:       buf,
		log:       log,
		state:     Closed,
		closed:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Start transitions CLOSED -> STARTING, launching device negotiation.
// It is only valid in CLOSED.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Closed {
		return errInvalidState(s.state, "start")
	}
	s.buf.Reopen()
	s.setState(Starting)
	return nil
}

// AddPacket blocks until one of {some bytes stored, playing packet
// changed, device error changed, sink closed}, per §4.2's tripwire
// contract. It appends data tagged with packet to the ring buffer.
func (s *Sink) AddPacket(packet *model.Packet, data []byte) (stored int, playing *model.Packet, err error) {
	s.mu.Lock()
	startGen := s.generation
	startPlaying := s.playingPacket
	startErr := s.err
	s.mu.Unlock()

	stored, appendErr := s.buf.Append(packet, data, s.swapBytesSnapshot())
	if appendErr != nil {
		return 0, s.currentPlaying(), appendErr
	}
	if stored != 0 {
		return stored, s.currentPlaying(), s.currentErr()
	}

	// stored == 0 (an empty data slice: Append itself blocks while the
	// buffer is full) -- wait for a tripwire change instead of
	// busy-looping.
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.generation == startGen && s.playingPacket == startPlaying && errorsEqual(s.err, startErr) && s.state != Closed {
		s.cond.Wait()
	}
	return 0, s.playingPacket, s.err
}

func (s *Sink) swapBytesSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swapBytes
}

func (s *Sink) currentPlaying() *model.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playingPacket
}

func (s *Sink) currentErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func errorsEqual(a, b error) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Error() == b.Error()
}

// Drain switches to DRAINING, zero-pads a partial tail, then blocks
// with the same tripwire semantics as AddPacket until the buffer
// empties and the device finishes.
func (s *Sink) Drain() (playing *model.Packet, err error, ok bool) {
	s.mu.Lock()
	if !s.state.HasBuffer() {
		s.mu.Unlock()
		return nil, nil, false
	}
	s.setState(Draining)
	startGen := s.generation
	s.mu.Unlock()

	s.buf.DrainPad()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.generation == startGen && s.state != Closed {
		s.cond.Wait()
	}
	return s.playingPacket, s.err, true
}

// Pause is valid only from PLAYING/DRAINING; the logical state always
// advances to PAUSED even if the device fails to cooperate.
func (s *Sink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Playing && s.state != Draining {
		return nil // idempotent per §8: pause() in a non-playing state is a no-op
	}
	s.pausedFrom = s.state
	s.setState(Pausing)
	return nil
}

// Resume is valid only from PAUSED.
func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Paused {
		return nil
	}
	s.setState(Resume)
	return nil
}

// Stop forces CLOSING from any state except CLOSED/SHUTDOWN, causing a
// hardware drop (not drain) and device close.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed || s.state == Shutdown {
		return nil
	}
	s.setState(Closing)
	return nil
}

// Shutdown stops the worker goroutine permanently. The Sink is unusable afterward.
func (s *Sink) Shutdown() {
	s.mu.Lock()
	s.setState(Shutdown)
	s.mu.Unlock()
	<-s.closed
}

// CurrentState returns the sink's current lifecycle state.
func (s *Sink) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sink) setState(next State) {
	s.state = next
	s.generation++
	s.cond.Broadcast()
}

func (s *Sink) setPlaying(p *model.Packet) {
	s.mu.Lock()
	if s.playingPacket != p {
		s.playingPacket = p
		s.generation++
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Sink) setErr(err error) {
	s.mu.Lock()
	if !errorsEqual(s.err, err) {
		s.err = err
		s.generation++
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func errInvalidState(cur State, op string) error {
	return &DeviceError{Code: ErrFatal, Err: invalidStateErr{cur, op}}
}

type invalidStateErr struct {
	state State
	op    string
}

func (e invalidStateErr) Error() string {
	return "sink: " + e.op + " invalid in state " + e.state.String()
}
