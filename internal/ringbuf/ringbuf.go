// Package ringbuf implements the bounded, period-partitioned circular
// byte buffer that sits between the Transport (producer) and the PCM
// Sink (consumer).
//
// Grounded on original_source/src/codplayer/c_alsa_sink.c's ring
// buffer section (the period/data_size/play_pos/data_end fields and
// their locking discipline) and generalized with the mutex+condvar
// idiom software/prebuf.go uses for its own producer/consumer buffer.
package ringbuf

import (
	"sync"

	"github.com/codplayer/codplayer/internal/model"
)

// PeriodBytes returns the byte size of one period given a frame count.
func PeriodBytes(periodFrames int) int { return periodFrames * model.BytesPerFrame }

// Buffer is a fixed-size, period-partitioned circular byte buffer. All
// operations are safe for concurrent use by exactly one producer and
// one consumer goroutine.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data       []byte
	periodSize int // bytes
	periods    int

	playPos int // byte offset, producer/consumer boundary
	dataEnd int // byte offset, one past the last valid byte
	dataSize int // dataEnd - playPos, accounting for wraparound

	// tags holds one packet reference per period slot, indexed by
	// playPos/periodSize (mod periods). A period holds at most one
	// tag; when a period is overwritten the previous tag is dropped.
	tags []*model.Packet

	// closing causes a blocked Append to return immediately instead
	// of waiting for room.
	closing bool
}

// New allocates a Buffer sized to hold roughly targetSeconds of audio
// at periodFrames frames per period, rounded down to a whole number of
// periods, with at most maxPeriodsPerSecond periods per second.
//
// This mirrors §4.1's sizing rule: "the buffer spans five seconds of
// audio, rounded down to a whole number of periods, with an upper
// bound of forty periods per second."
func New(periodFrames, targetSeconds, maxPeriodsPerSecond int) *Buffer {
	periodSize := PeriodBytes(periodFrames)
	periodsPerSecond := model.SampleRate / periodFrames
	if periodsPerSecond > maxPeriodsPerSecond {
		periodsPerSecond = maxPeriodsPerSecond
	}
	periods := periodsPerSecond * targetSeconds
	if periods < 1 {
		periods = 1
	}

	b := &Buffer{
		data:       make([]byte, periods*periodSize),
		periodSize: periodSize,
		periods:    periods,
		tags:       make([]*model.Packet, periods),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Cap returns the buffer's total capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// PeriodSize returns the configured period size in bytes.
func (b *Buffer) PeriodSize() int { return b.periodSize }

func (b *Buffer) periodIndex(pos int) int { return pos / b.periodSize }

// Append copies as many bytes from p as fit without wrapping past the
// buffer's physical end, tagging every period touched with packet.
// swapBytes, if set, byte-swaps each 16-bit sample during the copy
// (used when the device only accepts the opposite endianness of the
// disc-native format).
//
// It blocks waiting for room if the buffer is full, unless Close has
// been called, in which case it returns immediately with stored = -1.
// It always writes at least one tag, even for a zero-length p, so a
// caller can use Append to publish position updates for silence-only
// packets.
func (b *Buffer) Append(packet *model.Packet, p []byte, swapBytes bool) (stored int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.dataSize >= len(b.data) && !b.closing {
		b.cond.Wait()
	}
	if b.closing {
		return -1, nil
	}

	free := len(b.data) - b.dataSize
	// never write past the physical end of the array in one call;
	// the caller loops if more remains
	tillEnd := len(b.data) - b.dataEnd
	n := min(len(p), free, tillEnd)

	if swapBytes {
		swapCopy(b.data[b.dataEnd:b.dataEnd+n], p[:n])
	} else {
		copy(b.data[b.dataEnd:b.dataEnd+n], p[:n])
	}

	firstPeriod := b.periodIndex(b.dataEnd)
	lastPeriod := b.periodIndex((b.dataEnd + max(n, 1) - 1) % len(b.data))
	b.tagRange(firstPeriod, lastPeriod, packet)

	b.dataEnd = (b.dataEnd + n) % len(b.data)
	b.dataSize += n

	b.cond.Broadcast()
	return n, nil
}

func (b *Buffer) tagRange(first, last int, packet *model.Packet) {
	i := first
	for {
		b.tags[i] = packet
		if i == last {
			break
		}
		i = (i + 1) % b.periods
	}
}

// TakePeriod blocks until at least one full period is available, then
// returns a copy of exactly one period's bytes starting at the current
// play position, along with the packet tag for that period. The
// returned slice is a copy, not an alias into the buffer's backing
// array, so the caller may safely retain it across a blocking device
// call without racing a concurrent Reset.
func (b *Buffer) TakePeriod() (data []byte, tag *model.Packet, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.dataSize < b.periodSize && !b.closing {
		b.cond.Wait()
	}
	if b.closing && b.dataSize < b.periodSize {
		return nil, nil, true
	}

	out := make([]byte, b.periodSize)
	tillEnd := len(b.data) - b.playPos
	if tillEnd >= b.periodSize {
		copy(out, b.data[b.playPos:b.playPos+b.periodSize])
	} else {
		copy(out, b.data[b.playPos:])
		copy(out[tillEnd:], b.data[:b.periodSize-tillEnd])
	}

	tag = b.tags[b.periodIndex(b.playPos)]
	return out, tag, false
}

// AdvancePlay is called by the consumer after a successful device
// write of exactly one period. It advances the play position and
// wakes any producer blocked on room.
func (b *Buffer) AdvancePlay() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tags[b.periodIndex(b.playPos)] = nil
	b.playPos = (b.playPos + b.periodSize) % len(b.data)
	b.dataSize -= b.periodSize
	if b.dataSize < 0 {
		b.dataSize = 0
	}
	b.cond.Broadcast()
}

// DrainPad zero-pads any partial final period so the consumer always
// reads whole periods; used at end-of-stream.
func (b *Buffer) DrainPad() {
	b.mu.Lock()
	defer b.mu.Unlock()

	rem := b.dataSize % b.periodSize
	if rem == 0 {
		return
	}
	pad := b.periodSize - rem
	tillEnd := len(b.data) - b.dataEnd
	n := min(pad, tillEnd)
	clear(b.data[b.dataEnd : b.dataEnd+n])
	if n < pad {
		clear(b.data[:pad-n])
	}
	b.dataEnd = (b.dataEnd + pad) % len(b.data)
	b.dataSize += pad
	b.cond.Broadcast()
}

// Reset clears positions and drops packet tags. Safe to call
// concurrently with an in-flight TakePeriod/AdvancePlay: TakePeriod
// never retains a slice into the backing array past its own critical
// section (it copies out under the same mutex Reset takes), so Reset
// only ever mutates state the consumer has already finished reading.
// See DESIGN.md's resolution of the ring-buffer-reset open question.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.playPos = 0
	b.dataEnd = 0
	b.dataSize = 0
	for i := range b.tags {
		b.tags[i] = nil
	}
	b.cond.Broadcast()
}

// Close causes any blocked or future Append/TakePeriod call to return
// immediately. Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing = true
	b.cond.Broadcast()
}

// Reopen clears the closing flag, allowing the buffer to be reused
// after a Close+Reset cycle (the PCM Sink does this on STARTING).
func (b *Buffer) Reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing = false
}

// DataSize reports the number of bytes currently buffered.
func (b *Buffer) DataSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataSize
}

func swapCopy(dst, src []byte) {
	n := len(src) &^ 1 // even bytes only, matches 16-bit samples
	for i := 0; i+1 < n; i += 2 {
		dst[i] = src[i+1]
		dst[i+1] = src[i]
	}
	if len(src) > n {
		dst[n] = src[n]
	}
}
