// Package timeutil provides the clock the engine reads every timestamp
// from, with a manually driven implementation for tests and replays.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the engine's time source.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(period time.Duration) Ticker
}

// Ticker delivers the time once per period until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(period time.Duration) Ticker {
	return systemTicker{time.NewTicker(period)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// MockClock only moves when Set or Advance is called, and its tickers fire
// only then. Replays drive the engine with it from captured timestamps.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a MockClock reading start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance is Set(Now()+d).
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(c.now.Add(d))
}

// Set moves the clock to t. Each live ticker that is due receives one tick
// stamped t and is rescheduled a period after t, however far the clock
// jumped. Moving backwards fires nothing.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t)
}

func (c *MockClock) setLocked(t time.Time) {
	c.now = t
	live := c.tickers[:0]
	for _, tk := range c.tickers {
		if tk.stopped {
			continue
		}
		live = append(live, tk)
		if t.Before(tk.due) {
			continue
		}
		tk.send(t)
		tk.due = t.Add(tk.period)
	}
	clear(c.tickers[len(live):])
	c.tickers = live
}

// NewTicker returns a ticker first due one period from now.
func (c *MockClock) NewTicker(period time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &MockTicker{
		clock:  c,
		ch:     make(chan time.Time, 1),
		period: period,
		due:    c.now.Add(period),
	}
	c.tickers = append(c.tickers, tk)
	return tk
}

// Tickers returns how many tickers are running.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tk := range c.tickers {
		if !tk.stopped {
			n++
		}
	}
	return n
}

// MockTicker is a ticker of a MockClock. Its schedule is guarded by the
// clock's lock. A tick that finds the channel full is dropped, as with
// time.Ticker.
type MockTicker struct {
	clock   *MockClock
	ch      chan time.Time
	period  time.Duration
	due     time.Time
	stopped bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}

// Trigger delivers a tick stamped at now off schedule.
func (t *MockTicker) Trigger(now time.Time) { t.send(now) }

func (t *MockTicker) send(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}
