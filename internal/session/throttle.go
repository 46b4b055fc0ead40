package session

import (
	"sync"
	"time"
)

const (
	DefaultThrottleInterval = 100 * time.Millisecond
	DefaultThrottleQuiet    = 30 * time.Millisecond
)

// Throttle rate-limits snapshot emission. Notify emits at once when at least
// interval has passed since the previous emission; otherwise it (re)arms a
// quiet-period timer so a burst is coalesced into one emission.
//
// emit is always called with the throttle's lock held, so emissions never
// overlap and keep their order.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	quiet    time.Duration
	emit     func()
	now      func() time.Time

	last    time.Time
	timer   *time.Timer
	pending bool
	stopped bool
}

// NewThrottle returns a throttle calling emit. Zero durations take the defaults.
func NewThrottle(interval, quiet time.Duration, emit func()) *Throttle {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	if quiet <= 0 {
		quiet = DefaultThrottleQuiet
	}
	return &Throttle{interval: interval, quiet: quiet, emit: emit, now: time.Now}
}

// Notify records that new data is available.
func (t *Throttle) Notify() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.last.IsZero() || t.now().Sub(t.last) >= t.interval {
		t.fireLocked()
		return
	}
	t.pending = true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.quiet, t.onTimer)
	} else {
		t.timer.Reset(t.quiet)
	}
}

// Stop disarms the timer; no emission happens after Stop returns. Pending
// data is left for the caller's final emission.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *Throttle) onTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || !t.pending {
		return
	}
	t.fireLocked()
}

func (t *Throttle) fireLocked() {
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
	}
	t.last = t.now()
	t.emit()
}
