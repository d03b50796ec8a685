package amc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collar.amc/internal/correction"
	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/testutil"
	"github.com/banshee-data/collar.amc/internal/timeutil"
	"github.com/banshee-data/collar.amc/internal/zone"
)

var t0 = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

type memPastures struct {
	mu        sync.Mutex
	byVersion map[uint32]*fence.Pasture
}

func (s *memPastures) put(p *fence.Pasture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byVersion == nil {
		s.byVersion = make(map[uint32]*fence.Pasture)
	}
	s.byVersion[p.Version] = p
}

func (s *memPastures) LoadPasture(_ context.Context, version uint32) (*fence.Pasture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byVersion[version]
	if !ok {
		return nil, errors.New("not downloaded")
	}
	return p, nil
}

type fakeSettings struct{ keep bool }

func (f *fakeSettings) KeepMode(context.Context) (bool, error) { return f.keep, nil }

type countingObserver struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (o *countingObserver) ObserveTask(kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = make(map[string]int)
	}
	o.kinds[kind]++
}

type harness struct {
	ctx   context.Context
	clock *timeutil.MockClock
	rec   *events.Recorder
	src   *memPastures
	mon   *Monitor
}

func newHarness(t *testing.T, mc MonitorConfig) *harness {
	t.Helper()
	h := &harness{
		ctx:   context.Background(),
		clock: timeutil.NewMockClock(t0),
		rec:   &events.Recorder{},
		src:   &memPastures{},
	}
	if mc.Config == (Config{}) {
		mc.Config = DefaultConfig()
	}
	mc.Clock = h.clock
	mc.Sink = h.rec
	mc.Pastures = h.src
	h.mon = NewMonitor(mc)
	return h
}

func (h *harness) install(t *testing.T, p *fence.Pasture) {
	t.Helper()
	h.src.put(p)
	h.mon.PostNewFence(p.Version)
	h.mon.RunPending(h.ctx)
}

func (h *harness) fixAt(t *testing.T, x, y int16) {
	t.Helper()
	h.clock.Advance(250 * time.Millisecond)
	require.NoError(t, h.mon.PostFix(h.ctx, testutil.AcceptedFix(x, y, h.clock.Now())))
	h.mon.RunPending(h.ctx)
}

func (h *harness) positions() []int16 {
	var out []int16
	for _, e := range h.rec.Events() {
		if p, ok := e.(events.Position); ok {
			out = append(out, p.Distance)
		}
	}
	return out
}

func lastOf[T events.Event](evs []events.Event) (T, bool) {
	var zero T
	for i := len(evs) - 1; i >= 0; i-- {
		if e, ok := evs[i].(T); ok {
			return e, true
		}
	}
	return zero, false
}

// ----------------------------------------------------------------------------
// Fix pipeline
// ----------------------------------------------------------------------------

func TestMonitor_SquareWithHole(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(1))
	h.rec.Reset()

	for _, y := range []int16{0, 10, 14, 16, 20, 25} {
		h.fixAt(t, 0, y)
	}
	assert.Equal(t, []int16{10, 0, -4, -4, 0, 5}, h.positions())

	snap := h.mon.Snapshot()
	assert.True(t, snap.HasDistance)
	assert.Equal(t, int16(5), snap.Distance)
	assert.Equal(t, zone.Warn, snap.Zone)
	assert.Equal(t, gnssfix.AcceptedFix, snap.Tier)
}

func TestMonitor_InstallFence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(4))

	snap := h.mon.Snapshot()
	assert.True(t, snap.HasPasture)
	assert.Equal(t, uint32(4), snap.PastureVersion)
	assert.Equal(t, states.ModeTeach, snap.Status.Mode)
	assert.Equal(t, states.FenceNotStarted, snap.Status.Fence)

	assert.Equal(t, 1, h.rec.Count("force_fix"))
	v, ok := lastOf[events.FenceVersion](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, uint32(4), v.Version)
	mode, ok := lastOf[events.ModeChanged](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, states.ModeTeach, mode.To)
}

func TestMonitor_KeepModeOnNewFence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{Settings: &fakeSettings{keep: true}})
	h.mon.PostMode(states.ModeFence)
	h.install(t, testutil.SquareWithHole(1))
	assert.Equal(t, states.ModeFence, h.mon.Snapshot().Status.Mode)
}

func TestMonitor_ChecksumRejectionKeepsPasture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(1))

	bad := testutil.BigSquare(2, 500)
	bad.Checksum++
	h.install(t, bad)

	snap := h.mon.Snapshot()
	assert.Equal(t, uint32(1), snap.PastureVersion)
	assert.Equal(t, states.FenceInvalid, snap.Status.Fence)

	errEv, ok := lastOf[events.Error](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, events.ErrChecksumMismatch, errEv.ErrKind)
	assert.ErrorIs(t, errEv.Err, fence.ErrChecksumMismatch)

	// Distances still come from the previous pasture.
	h.rec.Reset()
	h.fixAt(t, 0, 25)
	assert.Equal(t, []int16{5}, h.positions())
	assert.Equal(t, states.FenceInvalid, h.mon.Snapshot().Status.Fence)
}

func TestMonitor_MissingPastureIsInvalid(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.mon.PostNewFence(9)
	h.mon.RunPending(h.ctx)

	assert.False(t, h.mon.Snapshot().HasPasture)
	assert.Equal(t, states.FenceInvalid, h.mon.Snapshot().Status.Fence)
	errEv, ok := lastOf[events.Error](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, events.ErrInvalidPasture, errEv.ErrKind)
}

func TestMonitor_VersionMismatchIsInvalid(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.src.put(testutil.SquareWithHole(3))
	h.src.byVersion[5] = h.src.byVersion[3]
	h.mon.PostNewFence(5)
	h.mon.RunPending(h.ctx)

	snap := h.mon.Snapshot()
	assert.True(t, snap.HasPasture)
	assert.Equal(t, uint32(3), snap.PastureVersion)
	assert.Equal(t, states.FenceInvalid, snap.Status.Fence)
}

func TestMonitor_FenceSwapRetriedOnTick(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.PastureCacheTimeout = 10 * time.Millisecond
	h := newHarness(t, MonitorConfig{Config: cfg})
	h.src.put(testutil.BigSquare(3, 500))

	require.True(t, h.mon.pasture.sem.TryAcquire(1))
	h.mon.PostNewFence(3)
	h.mon.RunPending(h.ctx)

	assert.False(t, h.mon.Snapshot().HasPasture)
	errEv, ok := lastOf[events.Error](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, events.ErrCacheTimeout, errEv.ErrKind)

	h.fixAt(t, 0, 400)
	assert.Empty(t, h.positions(), "fixes wait for the fence")

	h.mon.pasture.sem.Release(1)
	h.mon.PostTick()
	h.mon.RunPending(h.ctx)

	snap := h.mon.Snapshot()
	assert.True(t, snap.HasPasture)
	assert.Equal(t, uint32(3), snap.PastureVersion)

	h.fixAt(t, 0, 400)
	assert.Equal(t, []int16{-100}, h.positions())
}

func TestMonitor_PendingFenceSkipsFix(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(1))
	h.rec.Reset()

	require.NoError(t, h.mon.PostFix(h.ctx, testutil.AcceptedFix(0, 25, t0)))
	h.mon.PostNewFence(1)
	h.mon.RunPending(h.ctx)

	assert.Empty(t, h.positions())
	assert.Equal(t, zone.NoZone, h.mon.Snapshot().Zone)
}

func TestMonitor_NoPastureNoZone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.fixAt(t, 0, 25)

	assert.Empty(t, h.positions())
	snap := h.mon.Snapshot()
	assert.Equal(t, zone.NoZone, snap.Zone)
	assert.False(t, snap.HasDistance)
	assert.Equal(t, gnssfix.AcceptedFix, snap.Tier)
}

func TestMonitor_OverflowNoZone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(1))
	h.fixAt(t, 0, 25)
	require.Equal(t, zone.Warn, h.mon.Snapshot().Zone)

	f := testutil.AcceptedFix(0, 25, h.clock.Now())
	f.Overflow = true
	require.NoError(t, h.mon.PostFix(h.ctx, f))
	h.mon.RunPending(h.ctx)
	assert.Equal(t, zone.NoZone, h.mon.Snapshot().Zone)
}

func TestMonitor_FixTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(1))
	h.fixAt(t, 0, 25)
	require.Equal(t, zone.Warn, h.mon.Snapshot().Zone)

	require.NoError(t, h.mon.PostFixTimeout(h.ctx))
	h.mon.RunPending(h.ctx)

	snap := h.mon.Snapshot()
	assert.Equal(t, zone.NoZone, snap.Zone)
	assert.Equal(t, gnssfix.NoFix, snap.Tier)
	zc, ok := lastOf[events.ZoneChanged](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, zone.Warn, zc.From)
	assert.Equal(t, zone.NoZone, zc.To)
}

func TestMonitor_TickExpiresTiers(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	h := newHarness(t, MonitorConfig{Config: cfg})
	h.install(t, testutil.SquareWithHole(1))
	h.fixAt(t, 0, 25)

	h.clock.Advance(cfg.Fix.AcceptedFixTimeout)
	h.mon.PostTick()
	h.mon.RunPending(h.ctx)
	assert.Equal(t, gnssfix.EasyFix, h.mon.Snapshot().Tier)
	assert.Equal(t, zone.Warn, h.mon.Snapshot().Zone)

	h.clock.Advance(cfg.Fix.FixTimeout)
	h.mon.PostTick()
	h.mon.RunPending(h.ctx)
	assert.Equal(t, gnssfix.NoFix, h.mon.Snapshot().Tier)
	assert.Equal(t, zone.NoZone, h.mon.Snapshot().Zone)
}

func TestMonitor_BeaconScanOnApproach(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.BigSquare(1, 500))

	h.fixAt(t, 0, 300) // -200, PSM
	assert.Zero(t, h.rec.Count("start_beacon_scan"))

	h.fixAt(t, 0, 460) // -40, Prewarn
	assert.Equal(t, 1, h.rec.Count("start_beacon_scan"))

	h.fixAt(t, 0, 470) // still Prewarn
	assert.Equal(t, 1, h.rec.Count("start_beacon_scan"))
}

func TestMonitor_PSMDwellResetsTrend(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.BigSquare(1, 500))
	h.fixAt(t, 0, 0) // PSM
	h.fixAt(t, 0, 505)

	snap := h.mon.Snapshot()
	assert.Equal(t, zone.PSM, snap.Zone)
	assert.False(t, snap.Trend.Ready)
	errEv, ok := lastOf[events.Error](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, events.ErrZoneTooSoon, errEv.ErrKind)
}

// ----------------------------------------------------------------------------
// States and corrections
// ----------------------------------------------------------------------------

func TestMonitor_WarningEndToEnd(t *testing.T) {
	t.Parallel()

	store := &memCounters{}
	h := newHarness(t, MonitorConfig{Counters: store})
	h.install(t, testutil.BigSquare(1, 500))
	h.mon.PostMode(states.ModeFence)
	h.mon.PostMovement(states.MovementNormal)

	h.fixAt(t, 0, 400) // Caution
	require.Equal(t, states.FenceNormal, h.mon.Snapshot().Status.Fence)

	for i := 0; i < 60 && h.rec.Count("correction_started") == 0; i++ {
		h.fixAt(t, 0, 502)
	}
	require.Equal(t, 1, h.rec.Count("correction_started"))

	snap := h.mon.Snapshot()
	assert.Equal(t, zone.Warn, snap.Zone)
	assert.Equal(t, correction.Active, snap.Correction)
	assert.Equal(t, uint32(1), snap.Counters.WarnCount)
	assert.Equal(t, gnssfix.Max, snap.Status.Receiver)
	assert.NotEmpty(t, store.saved)

	recv, ok := lastOf[events.SetReceiverMode](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, gnssfix.Max, recv.Mode)
	assert.Equal(t, 1, h.rec.Count("tone_on"))

	// Walking back inside pauses, then ends the warning.
	for i := 0; i < 40 && h.rec.Count("correction_ended") == 0; i++ {
		h.fixAt(t, 0, 380)
	}
	assert.Equal(t, 1, h.rec.Count("correction_ended"))
	assert.Equal(t, correction.Idle, h.mon.Snapshot().Correction)
}

func TestMonitor_PositionJumpDelaysWarning(t *testing.T) {
	t.Parallel()

	// Prewarn cycles keep refreshing the pause time; take it out of play.
	cfg := DefaultConfig()
	cfg.Correction.PauseMinTime = 0
	h := newHarness(t, MonitorConfig{Config: cfg})
	h.install(t, testutil.BigSquare(1, 500))
	h.mon.PostMode(states.ModeFence)
	h.mon.PostMovement(states.MovementNormal)

	h.fixAt(t, 0, 400)
	for i := 0; i < 12; i++ {
		h.fixAt(t, 0, 498) // -2
	}
	require.Equal(t, zone.Prewarn, h.mon.Snapshot().Zone)
	require.Equal(t, states.FenceNormal, h.mon.Snapshot().Status.Fence)

	// 62 dm out in one sample: Warn at once, but the trend is not steady.
	h.fixAt(t, 0, 560)
	snap := h.mon.Snapshot()
	require.Equal(t, zone.Warn, snap.Zone)
	assert.False(t, snap.Trend.Steady(cfg.Trend.Fence))
	assert.Zero(t, h.rec.Count("correction_started"))

	// The warning starts once the ring has mostly refilled at the new spot
	// and the slope has fallen below the jump slope.
	n := 1
	for ; n < 20 && h.rec.Count("correction_started") == 0; n++ {
		h.fixAt(t, 0, 560)
	}
	require.Equal(t, 1, h.rec.Count("correction_started"))
	assert.Equal(t, 8, n)
}

func TestMonitor_TurnOffFence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(1))
	h.mon.PostTurnOffFence()
	h.mon.RunPending(h.ctx)

	assert.Equal(t, states.FenceTurnedOff, h.mon.Snapshot().Status.Fence)
	fs, ok := lastOf[events.FenceStatusChanged](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, states.FenceTurnedOff, fs.To)
}

func TestMonitor_CollarStatusAndReceiver(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.mon.PostMovement(states.MovementSleep)
	h.mon.RunPending(h.ctx)

	snap := h.mon.Snapshot()
	assert.Equal(t, states.CollarSleep, snap.Status.Collar)
	assert.Equal(t, gnssfix.Inactive, snap.Status.Receiver)
	recv, ok := lastOf[events.SetReceiverMode](h.rec.Events())
	require.True(t, ok)
	assert.Equal(t, gnssfix.Inactive, recv.Mode)

	// The receiver confirming the request does not trigger a new one.
	h.rec.Reset()
	h.mon.PostReceiverMode(gnssfix.Inactive)
	h.mon.RunPending(h.ctx)
	assert.Zero(t, h.rec.Count("set_receiver_mode"))
	assert.Equal(t, gnssfix.Inactive, h.mon.Snapshot().ReceiverMode)

	// A receiver in another mode is asked again.
	h.mon.PostReceiverMode(gnssfix.Max)
	h.mon.RunPending(h.ctx)
	assert.Equal(t, 1, h.rec.Count("set_receiver_mode"))

	h.mon.PostPower(states.PowerCritical)
	h.mon.RunPending(h.ctx)
	assert.Equal(t, states.CollarPowerOff, h.mon.Snapshot().Status.Collar)
}

func TestMonitor_BeaconContact(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.install(t, testutil.SquareWithHole(1))
	h.mon.PostBeacon(states.BeaconNear)
	h.mon.RunPending(h.ctx)
	assert.Equal(t, states.FenceBeaconContact, h.mon.Snapshot().Status.Fence)
}

func TestMonitor_SoundStatusReachesCorrection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.mon.PostSoundStatus(states.SoundWarn)
	h.mon.RunPending(h.ctx)
	assert.Equal(t, states.SoundWarn, h.mon.corr.Sound())
}

func TestMonitor_RestoreCountersAndObserver(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	h := newHarness(t, MonitorConfig{Observer: obs, Settings: (*fakeSettings)(nil)})
	h.mon.RestoreCounters(correction.Counters{WarnCount: 12, ZapCount: 3})
	assert.Equal(t, uint32(12), h.mon.Snapshot().Counters.WarnCount)

	h.install(t, testutil.SquareWithHole(1))
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.kinds["new_fence"])
	assert.Equal(t, 1, obs.kinds["states"])
	assert.Equal(t, 1, obs.kinds["corrections"])
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, MonitorConfig{})
	h.src.put(testutil.SquareWithHole(1))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.mon.Run(ctx) }()

	h.mon.PostNewFence(1)
	require.Eventually(t, func() bool { return h.mon.Snapshot().HasPasture }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

type memCounters struct {
	mu    sync.Mutex
	saved []correction.Counters
}

func (m *memCounters) SaveCounters(c correction.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, c)
	return nil
}
