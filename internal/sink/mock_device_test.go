package sink

import "sync"

// mockDevice is an in-memory Device used by this package's own tests,
// grounded on the same tripwire-observable style as ringbuf's tests:
// it counts written periods and flags pause/drain/drop/close calls so
// assertions can inspect what happened.
type mockDevice struct {
	mu sync.Mutex

	openErr    error
	writeErr   error
	periods    int
	paused     bool
	draining   bool
	dropped    bool
	closed     bool
	params     Params
}

func newMockDevice(params Params) *mockDevice {
	return &mockDevice{params: params}
}

func (d *mockDevice) Open(rate, channels int, wantBigEndian bool) (Params, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return Params{}, d.openErr
	}
	d.closed = false
	return d.params, nil
}

func (d *mockDevice) WritePeriod(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	d.periods++
	return nil
}

func (d *mockDevice) Pause() error {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	return nil
}

func (d *mockDevice) Resume() error {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	return nil
}

func (d *mockDevice) Drain() error {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()
	return nil
}

func (d *mockDevice) Drop() error {
	d.mu.Lock()
	d.dropped = true
	d.mu.Unlock()
	return nil
}

func (d *mockDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *mockDevice) periodCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.periods
}

func (d *mockDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *mockDevice) isDraining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}
