//go:build !linux

package sink

import (
	"fmt"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// BeepDevice is the non-Linux Device implementation, mirroring the
// cbindings_nonlinux.go split: a usable fallback built on a portable
// library rather than a platform cgo binding.
type BeepDevice struct {
	periodFrames int
	sr           beep.SampleRate
	streamer     *periodStreamer
	opened       bool
}

// NewBeepDevice returns a NewDeviceFunc for the portable fallback
// backend.
func NewBeepDevice() NewDeviceFunc {
	return func() Device { return &BeepDevice{} }
}

func (d *BeepDevice) Open(rate, channels int, wantBigEndian bool) (Params, error) {
	if channels != 2 {
		return Params{}, &DeviceError{Code: ErrFatal, Err: fmt.Errorf("beep device: only stereo supported, got %d channels", channels)}
	}

	d.periodFrames = 4096
	d.sr = beep.SampleRate(rate)
	d.streamer = newPeriodStreamer()

	bufferSize := d.sr.N(time.Second / 20)
	if err := speaker.Init(d.sr, bufferSize); err != nil {
		return Params{}, &DeviceError{Code: ErrFatal, Err: fmt.Errorf("beep device: init: %w", err)}
	}
	speaker.Play(d.streamer)
	d.opened = true

	// periodStreamer.feed decodes little-endian samples, so this
	// backend always reports little-endian and the sink swaps the
	// disc-native big-endian bytes before WritePeriod.
	return Params{PeriodFrames: d.periodFrames, Periods: 4, BigEndian: false}, nil
}

func (d *BeepDevice) WritePeriod(data []byte) error {
	if !d.opened {
		return &DeviceError{Code: ErrFatal, Err: fmt.Errorf("beep device: not open")}
	}
	d.streamer.feed(data)
	return nil
}

func (d *BeepDevice) Pause() error {
	speaker.Lock()
	d.streamer.paused = true
	speaker.Unlock()
	return nil
}

func (d *BeepDevice) Resume() error {
	speaker.Lock()
	d.streamer.paused = false
	speaker.Unlock()
	return nil
}

func (d *BeepDevice) Drain() error {
	d.streamer.waitDrained()
	return nil
}

func (d *BeepDevice) Drop() error {
	d.streamer.drop()
	return nil
}

func (d *BeepDevice) Close() error {
	if !d.opened {
		return nil
	}
	speaker.Clear()
	speaker.Close()
	d.opened = false
	return nil
}
