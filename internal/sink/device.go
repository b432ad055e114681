// Package sink implements the PCM Sink: a realtime-priority worker
// that drains periods from a ring buffer and writes them to an audio
// device, with the CLOSED..SHUTDOWN lifecycle from §4.2.
//
// Grounded on original_source/src/codplayer/c_alsa_sink.c for the
// state machine, parameter negotiation, and device-error recovery, and
// on software/audiocd/audiocd.go's cgo structuring and
// cbindings_linux.go/cbindings_nonlinux.go platform split for how the
// actual device handle is wrapped in Go.
package sink

import "errors"

// DeviceErrorCode classifies a write/open failure the way
// c_alsa_sink.c's recover_alsa_error switches on ALSA return codes.
type DeviceErrorCode int

const (
	// ErrTransient covers EINTR/EPIPE(xrun)/ESTRPIPE(suspend): the
	// worker attempts one recovery and retries the write.
	ErrTransient DeviceErrorCode = iota
	// ErrFatal covers anything else: the device is closed and the
	// main loop retries opening after a backoff.
	ErrFatal
)

// DeviceError is returned by Device methods; Code determines whether
// the sink worker retries in place or reopens the device.
type DeviceError struct {
	Code DeviceErrorCode
	Err  error
}

func (e *DeviceError) Error() string { return e.Err.Error() }
func (e *DeviceError) Unwrap() error { return e.Err }

// ErrOpenNoDevice is returned by Device.Open when the underlying
// device node does not exist, matching scenario 6 of §8
// ("start_without_device").
var ErrOpenNoDevice = errors.New("no such file or directory")

// Params describes the negotiated hardware parameters, filled in by
// Device.Open.
type Params struct {
	PeriodFrames int
	Periods      int
	BigEndian    bool // true if the device accepts disc-native byte order
}

// Device abstracts one physical or virtual audio sink. Implementations
// are platform-specific (internal/sink/device_linux.go for real ALSA
// hardware, device_other.go for a beep-backed fallback elsewhere) and
// are exclusively owned by exactly one Sink's worker goroutine; no
// other goroutine may call a Device method concurrently with it.
type Device interface {
	// Open negotiates the requested format and returns the actual
	// parameters chosen. rate and channels mismatches are fatal;
	// endianness and period size may differ from what was requested.
	Open(rate, channels int, wantBigEndian bool) (Params, error)

	// WritePeriod blocks until exactly one period has been written
	// to the device, or returns a *DeviceError.
	WritePeriod(data []byte) error

	// Pause/Resume issue a device-level pause without closing the
	// handle. Implementations may no-op if the device does not
	// support hardware pause; the caller's logical state advances
	// regardless.
	Pause() error
	Resume() error

	// Drain blocks until all data already written has been played,
	// then leaves the device open.
	Drain() error

	// Drop discards any buffered-but-unplayed audio immediately.
	Drop() error

	// Close releases the device handle. Safe to call multiple times.
	Close() error
}
