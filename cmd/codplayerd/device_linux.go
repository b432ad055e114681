//go:build linux

package main

import "github.com/codplayer/codplayer/internal/sink"

// newAudioDevice picks the platform's PCM output, mirroring the
// teacher's cbindings_linux.go/cbindings_nonlinux.go split: ALSA on
// Linux, the portable faiface/beep device everywhere else.
func newAudioDevice(name string) sink.NewDeviceFunc {
	return sink.NewAlsaDevice(name)
}
