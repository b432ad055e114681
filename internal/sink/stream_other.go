//go:build !linux

package sink

import "sync"

// periodStreamer adapts push-style WritePeriod calls to beep's pull-style
// beep.Streamer interface, buffering decoded stereo samples in a plain
// slice queue guarded by mu. The paused flag is written under
// speaker.Lock, which beep's mixer goroutine holds while calling
// Stream.
type periodStreamer struct {
	mu     sync.Mutex
	queue  [][2]float64
	paused bool
	drained chan struct{}
}

func newPeriodStreamer() *periodStreamer {
	return &periodStreamer{drained: make(chan struct{})}
}

// feed decodes signed 16-bit little-endian stereo PCM (the sink
// worker always presents bytes already swapped into host order before
// calling WritePeriod) and appends it to the playback queue.
func (p *periodStreamer) feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i+3 < len(data); i += 4 {
		l := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		r := int16(uint16(data[i+2]) | uint16(data[i+3])<<8)
		p.queue = append(p.queue, [2]float64{
			float64(l) / 32768.0,
			float64(r) / 32768.0,
		})
	}
}

func (p *periodStreamer) drop() {
	p.mu.Lock()
	p.queue = p.queue[:0]
	p.mu.Unlock()
}

func (p *periodStreamer) waitDrained() {
	for {
		p.mu.Lock()
		empty := len(p.queue) == 0
		p.mu.Unlock()
		if empty {
			return
		}
	}
}

// Stream implements beep.Streamer.
func (p *periodStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		for i := range samples {
			samples[i] = [2]float64{0, 0}
		}
		return len(samples), true
	}

	n = copy(samples, p.queue)
	p.queue = p.queue[n:]
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{0, 0}
	}
	return len(samples), true
}

func (p *periodStreamer) Err() error { return nil }
