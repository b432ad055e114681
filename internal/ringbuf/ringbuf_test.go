package ringbuf

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codplayer/codplayer/internal/model"
)

func TestAppendTakeRoundTrip(t *testing.T) {
	b := New(10, 1, 100) // 100 periods/sec cap, 1 second => 100 periods of 10 frames
	period := b.PeriodSize()

	pkt := &model.Packet{Track: 1}
	src := make([]byte, period)
	for i := range src {
		src[i] = byte(i)
	}

	n, err := b.Append(pkt, src, false)
	require.NoError(t, err)
	assert.Equal(t, period, n)

	data, tag, closed := b.TakePeriod()
	assert.False(t, closed)
	assert.Equal(t, src, data)
	assert.Same(t, pkt, tag)
}

func TestAppendByteSwap(t *testing.T) {
	b := New(1, 1, 100)
	pkt := &model.Packet{}

	src := []byte{0x01, 0x02, 0x03, 0x04} // one 4-byte period
	_, err := b.Append(pkt, src, true)
	require.NoError(t, err)

	data, _, _ := b.TakePeriod()
	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, data)
}

func TestTakePeriodBlocksUntilData(t *testing.T) {
	b := New(1, 1, 100)
	pkt := &model.Packet{}

	done := make(chan struct{})
	go func() {
		data, tag, closed := b.TakePeriod()
		assert.False(t, closed)
		assert.NotNil(t, tag)
		assert.Len(t, data, b.PeriodSize())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("TakePeriod returned before any data was appended")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := b.Append(pkt, make([]byte, b.PeriodSize()), false)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TakePeriod never returned after data arrived")
	}
}

func TestCloseUnblocksAppendAndTakePeriod(t *testing.T) {
	periodFrames := 1
	b := New(periodFrames, 1, 100)
	// fill the buffer completely so a further Append would block
	for b.DataSize() < b.Cap() {
		_, err := b.Append(&model.Packet{}, make([]byte, b.PeriodSize()), false)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var appendResult, takeClosed bool
	go func() {
		defer wg.Done()
		n, err := b.Append(&model.Packet{}, make([]byte, b.PeriodSize()), false)
		require.NoError(t, err)
		appendResult = n == -1
	}()

	// a second, empty buffer so TakePeriod also blocks; draining b
	// instead would make room for the blocked Append above
	empty := New(periodFrames, 1, 100)

	go func() {
		defer wg.Done()
		_, _, closed := empty.TakePeriod()
		takeClosed = closed
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()
	empty.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Append/TakePeriod")
	}

	assert.True(t, appendResult, "blocked Append must return stored=-1 on close")
	assert.True(t, takeClosed)
}

func TestDrainPadZeroFillsPartialPeriod(t *testing.T) {
	b := New(4, 1, 100) // period = 16 bytes
	half := make([]byte, 8)
	for i := range half {
		half[i] = 0xFF
	}
	_, err := b.Append(&model.Packet{}, half, false)
	require.NoError(t, err)
	assert.Equal(t, 8, b.DataSize())

	b.DrainPad()
	assert.Equal(t, b.PeriodSize(), b.DataSize())

	data, _, _ := b.TakePeriod()
	assert.Equal(t, half, data[:8])
	for _, v := range data[8:] {
		assert.Equal(t, byte(0), v)
	}
}

func TestResetClearsPositionsAndTags(t *testing.T) {
	b := New(4, 1, 100)
	pkt := &model.Packet{}
	_, err := b.Append(pkt, make([]byte, b.PeriodSize()), false)
	require.NoError(t, err)
	require.Equal(t, b.PeriodSize(), b.DataSize())

	b.Reset()
	assert.Equal(t, 0, b.DataSize())

	// after reset, a fresh append/take pair still works correctly
	_, err = b.Append(pkt, make([]byte, b.PeriodSize()), false)
	require.NoError(t, err)
	_, tag, closed := b.TakePeriod()
	assert.False(t, closed)
	assert.Same(t, pkt, tag)
}

func TestConcurrentProducerConsumerDeliversAllBytes(t *testing.T) {
	b := New(4, 1, 100)
	period := b.PeriodSize()
	const periods = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < periods; i++ {
			buf := make([]byte, period)
			for j := range buf {
				buf[j] = byte(i)
			}
			for off := 0; off < len(buf); {
				n, err := b.Append(&model.Packet{Track: i}, buf[off:], false)
				require.NoError(t, err)
				off += n
			}
		}
	}()

	for i := 0; i < periods; i++ {
		data, tag, closed := b.TakePeriod()
		require.False(t, closed)
		require.NotNil(t, tag)
		for _, v := range data {
			assert.Equal(t, byte(i), v)
		}
		b.AdvancePlay()
	}

	wg.Wait()
}
