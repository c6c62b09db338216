package overlay

import (
	"sync"
	"time"
)

// deferredTask runs at most one pending callback after a delay. Scheduling
// again replaces the pending callback; Flush runs it immediately.
type deferredTask struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	fn    func()
}

func (d *deferredTask) Schedule(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.fn = fn
	gen := d.gen
	d.timer = time.AfterFunc(delay, func() { d.fire(gen) })
}

func (d *deferredTask) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.fn == nil {
		d.mu.Unlock()
		return
	}
	fn := d.take()
	d.mu.Unlock()
	fn()
}

// Flush runs the pending callback on the calling goroutine. It reports
// whether anything ran.
func (d *deferredTask) Flush() bool {
	d.mu.Lock()
	fn := d.take()
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Cancel drops the pending callback without running it.
func (d *deferredTask) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.take() != nil
}

func (d *deferredTask) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

// take must be called with mu held.
func (d *deferredTask) take() func() {
	fn := d.fn
	d.fn = nil
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return fn
}
