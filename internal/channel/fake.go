package channel

import (
	"sync"
	"time"
)

// FakeClock records AfterFunc calls; timers fire only when the test says so.
// Safe for concurrent use.
type FakeClock struct {
	mu     sync.Mutex
	timers []*FakeTimer
}

// NewFakeClock creates a FakeClock with no timers.
func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

// AfterFunc records f without scheduling it.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &FakeTimer{Delay: d, fn: f}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// Created returns how many timers were ever created.
func (c *FakeClock) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Pending returns the timers that have neither fired nor been stopped.
func (c *FakeClock) Pending() []*FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*FakeTimer
	for _, t := range c.timers {
		if t.pending() {
			out = append(out, t)
		}
	}
	return out
}

// FireAll fires every pending timer and returns how many fired.
func (c *FakeClock) FireAll() int {
	n := 0
	for _, t := range c.Pending() {
		if t.Fire() {
			n++
		}
	}
	return n
}

// FakeTimer is a timer created by FakeClock.
type FakeTimer struct {
	Delay time.Duration

	mu      sync.Mutex
	fn      func()
	fired   bool
	stopped bool
}

// Fire runs the callback if the timer is still pending. The callback runs
// on the caller's goroutine.
func (t *FakeTimer) Fire() bool {
	t.mu.Lock()
	if t.fired || t.stopped {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
	return true
}

// Stop prevents the timer from firing. Reports whether it was pending.
func (t *FakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Stopped reports whether Stop was called before the timer fired.
func (t *FakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *FakeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.fired && !t.stopped
}
