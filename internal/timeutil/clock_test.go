package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 10, 19, 5, 30, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	t.Parallel()

	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, clock.Since(now.Add(-time.Second)), time.Second)

	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_NowSetAdvance(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(epoch)
	assert.Equal(t, epoch, clock.Now())

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), clock.Now())
	assert.Equal(t, 1500*time.Millisecond, clock.Since(epoch))

	clock.Set(epoch.Add(time.Hour))
	assert.Equal(t, time.Hour, clock.Since(epoch))
}

func drain(tk Ticker) (time.Time, bool) {
	select {
	case at := <-tk.C():
		return at, true
	default:
		return time.Time{}, false
	}
}

func TestMockTicker_FiresOnSchedule(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(epoch)
	tk := clock.NewTicker(250 * time.Millisecond)

	clock.Advance(200 * time.Millisecond)
	_, ok := drain(tk)
	assert.False(t, ok, "not due yet")

	clock.Advance(50 * time.Millisecond)
	at, ok := drain(tk)
	assert.True(t, ok)
	assert.Equal(t, epoch.Add(250*time.Millisecond), at)

	// A long jump delivers a single tick and reschedules from the jump.
	clock.Advance(2 * time.Second)
	_, ok = drain(tk)
	assert.True(t, ok)
	_, ok = drain(tk)
	assert.False(t, ok)
	clock.Advance(249 * time.Millisecond)
	_, ok = drain(tk)
	assert.False(t, ok)
	clock.Advance(time.Millisecond)
	_, ok = drain(tk)
	assert.True(t, ok)

	clock.Set(epoch)
	_, ok = drain(tk)
	assert.False(t, ok, "moving backwards fires nothing")
}

func TestMockTicker_StopAndTrigger(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(epoch)
	a := clock.NewTicker(time.Second)
	b := clock.NewTicker(2 * time.Second)
	assert.Equal(t, 2, clock.Tickers())

	a.Stop()
	assert.Equal(t, 1, clock.Tickers())
	clock.Advance(2 * time.Second)
	_, ok := drain(a)
	assert.False(t, ok, "stopped tickers stay silent")
	_, ok = drain(b)
	assert.True(t, ok)

	mt := b.(*MockTicker)
	mt.Trigger(epoch)
	mt.Trigger(epoch.Add(time.Second))
	at, ok := drain(b)
	assert.True(t, ok)
	assert.Equal(t, epoch, at, "a full channel drops the extra tick")

	b.Stop()
	clock.Advance(time.Minute)
	assert.Zero(t, clock.Tickers())
}
