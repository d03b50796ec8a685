package amc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/collar.amc/internal/correction"
	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/trend"
	"github.com/banshee-data/collar.amc/internal/zone"
)

// followUp queues the states and corrections recomputation that every
// position change triggers, in that order.
func (m *Monitor) followUp() {
	m.post(taskStates, nil)
	m.post(taskCorrections, nil)
}

func (m *Monitor) handleFix(ctx context.Context) {
	if m.queue.isPending(taskNewFence) || m.fenceRetry {
		tracef("fix skipped: new fence pending")
		return
	}

	cached, err := m.fixes.Load(ctx)
	if err != nil {
		m.reportCacheTimeout(err)
		return
	}
	now := m.clock.Now()

	if cached.TimedOut {
		m.fixClass.Timeout()
		m.lostPosition(now)
		m.followUp()
		return
	}
	if !cached.OK {
		return
	}

	f := cached.Fix
	tier := m.fixClass.Update(f, now)
	if tier == gnssfix.NoFix || f.Overflow {
		if f.Overflow {
			diagf("position overflows the pasture frame")
		}
		m.lostPosition(now)
		m.followUp()
		return
	}

	var (
		res  fence.Result
		have bool
	)
	err = m.pasture.View(ctx, func(p *fence.Pasture) error {
		if p == nil {
			return nil
		}
		r, err := fence.Distance(fence.Coordinate{X: f.X, Y: f.Y}, p)
		if err != nil {
			return err
		}
		res, have = r, true
		return nil
	})
	if errors.Is(err, ErrCacheTimeout) {
		m.reportCacheTimeout(err)
		return
	}
	if err != nil {
		opsf("distance: %v", err)
	}
	if !have {
		m.lostPosition(now)
		m.followUp()
		return
	}

	m.dist, m.hasDist = res.Distance, true
	if tier == gnssfix.AcceptedFix {
		m.trend.Push(res.Distance, int16(f.HAccDM), f.Height)
	} else {
		m.trend.Reset()
	}
	m.refreshTrend()
	tracef("pos=(%d,%d) dist=%d fence=%d edge=%d tier=%s mean=%d slope=%d",
		f.X, f.Y, res.Distance, res.FenceIndex, res.EdgeIndex, tier, m.meanDist, m.slope)

	m.updateZone(res.Distance, now)
	m.sink.Publish(events.Position{X: f.X, Y: f.Y, Distance: res.Distance, Zone: m.zones.Zone()})
	m.followUp()
}

// refreshTrend takes a new trend snapshot. The mean is kept from the last
// ready snapshot; the slope is zeroed while the rings refill.
func (m *Monitor) refreshTrend() {
	m.snap = m.trend.Snapshot()
	if m.snap.Ready {
		m.meanDist = m.snap.MeanDist
		m.slope = m.snap.DistSlope
		return
	}
	m.slope = 0
}

func (m *Monitor) resetTrend() {
	m.trend.Reset()
	m.snap = trend.Snapshot{}
	m.slope = 0
}

func (m *Monitor) lostPosition(now time.Time) {
	m.hasDist = false
	m.resetTrend()
	m.setZone(zone.NoZone, now)
}

func (m *Monitor) setZone(z zone.Zone, now time.Time) {
	prev := m.zones.Zone()
	if err := m.zones.Set(z, now); err != nil {
		opsf("set zone %s: %v", z, err)
		return
	}
	if prev != z {
		diagf("zone %s -> %s", prev, z)
		m.sink.Publish(events.ZoneChanged{From: prev, To: z, Distance: m.dist, At: now})
	}
}

func (m *Monitor) updateZone(dist int16, now time.Time) {
	prev := m.zones.Zone()
	z, err := m.zones.Update(dist, now)
	if errors.Is(err, zone.ErrTooSoon) {
		diagf("zone %s held at %ddm: %v", prev, dist, err)
		m.resetTrend()
		m.sink.Publish(events.Error{ErrKind: events.ErrZoneTooSoon, Err: err})
		return
	}
	if z == prev {
		return
	}
	diagf("zone %s -> %s at %ddm", prev, z, dist)
	m.sink.Publish(events.ZoneChanged{From: prev, To: z, Distance: dist, At: now})
	if (z == zone.Prewarn || z == zone.Warn) && prev < z {
		m.sink.Publish(events.StartBeaconScan{})
	}
}

// onTierLost runs inside Expire or Timeout on the queue goroutine.
func (m *Monitor) onTierLost(lost gnssfix.Tier) {
	now := m.clock.Now()
	switch lost {
	case gnssfix.AcceptedFix:
		m.resetTrend()
	case gnssfix.PlainFix:
		m.lostPosition(now)
	}
	m.followUp()
}

func (m *Monitor) handleTick() {
	if m.fenceRetry {
		diagf("retrying fence version %d", m.pendingVersion.Load())
		m.post(taskNewFence, nil)
	}
	m.fixClass.Expire(m.clock.Now())
	m.followUp()
}

func (m *Monitor) handleNewFence(ctx context.Context) {
	version := m.pendingVersion.Load()
	now := m.clock.Now()
	opsf("installing fence version %d", version)
	m.fenceRetry = false

	m.hasDist = false
	m.resetTrend()
	m.setZone(zone.NoZone, now)
	defer m.followUp()

	if isNilInterface(m.pastures) {
		m.rejectPasture(version, fmt.Errorf("no pasture source: %w", fence.ErrInvalidPasture), now)
		return
	}
	p, err := m.pastures.LoadPasture(ctx, version)
	if err == nil && p == nil {
		err = fmt.Errorf("pasture %d not found: %w", version, fence.ErrInvalidPasture)
	}
	if err == nil {
		err = p.VerifyChecksum()
	}
	if err != nil {
		m.rejectPasture(version, err, now)
		return
	}

	if _, err := m.pasture.Swap(ctx, p); err != nil {
		m.reportCacheTimeout(err)
		m.fenceRetry = errors.Is(err, ErrCacheTimeout)
		return
	}
	m.pastureVersion, m.hasPasture = p.Version, true
	m.sink.Publish(events.ForceFix{})

	keep := false
	if m.settings != nil {
		if keep, err = m.settings.KeepMode(ctx); err != nil {
			opsf("read keep-mode setting: %v", err)
			keep = false
		}
	}
	if !keep {
		m.tracker.SetMode(states.ModeTeach, m.corr.Counters().WarnCount)
	}

	status := states.FenceNotStarted
	if p.Version != version {
		opsf("fence version mismatch: want %d, got %d", version, p.Version)
		status = states.FenceInvalid
	}
	m.tracker.SetFenceStatus(status, now)
	opsf("fence version %d installed (%d rings, keep mode %t)", p.Version, len(p.Fences), keep)
	m.sink.Publish(events.FenceVersion{Version: p.Version})
}

// rejectPasture keeps the previous pasture and marks the fence invalid.
func (m *Monitor) rejectPasture(version uint32, err error, now time.Time) {
	kind := events.ErrInvalidPasture
	if errors.Is(err, fence.ErrChecksumMismatch) {
		kind = events.ErrChecksumMismatch
	}
	opsf("fence version %d rejected: %v", version, err)
	m.tracker.SetFenceStatus(states.FenceInvalid, now)
	m.sink.Publish(events.Error{ErrKind: kind, Err: err})
}

func (m *Monitor) reportCacheTimeout(err error) {
	opsf("%v", err)
	m.sink.Publish(events.Error{ErrKind: events.ErrCacheTimeout, Err: err})
}

func (m *Monitor) handleStates() {
	prev := m.status
	counters := m.corr.Counters()
	st := m.tracker.Update(states.Inputs{
		Zone:       m.zones.Zone(),
		Sound:      m.corr.Sound(),
		WarnCount:  counters.WarnCount,
		ZapPain:    counters.ZapPain,
		HasEasyFix: m.fixClass.HasEasyFix(),
		Now:        m.clock.Now(),
	})

	if st.Mode != prev.Mode {
		m.sink.Publish(events.ModeChanged{From: prev.Mode, To: st.Mode})
	}
	if st.Fence != prev.Fence {
		m.sink.Publish(events.FenceStatusChanged{From: prev.Fence, To: st.Fence})
	}
	if st.Collar != prev.Collar {
		m.sink.Publish(events.CollarStatusChanged{From: prev.Collar, To: st.Collar})
	}
	if st.Receiver != gnssfix.NoMode && st.Receiver != m.receiverWanted {
		diagf("receiver mode %s requested", st.Receiver)
		m.receiverWanted = st.Receiver
		m.sink.Publish(events.SetReceiverMode{Mode: st.Receiver})
	}
	m.status = st
}

func (m *Monitor) handleCorrections() {
	st := m.tracker.Status()
	before := m.corr.Counters()
	steady := m.snap.Steady(m.cfg.Trend.LimitsFor(st.Mode == states.ModeTeach))

	m.corr.Process(correction.Input{
		Mode:        st.Mode,
		Zone:        m.zones.Zone(),
		Fence:       st.Fence,
		WarnFix:     m.fixClass.HasWarnFix() && steady,
		AcceptedFix: m.fixClass.HasAcceptedFix(),
		Asleep:      st.Collar == states.CollarSleep || st.Collar == states.CollarOffAnimal,
		MeanDist:    m.meanDist,
		Slope:       m.slope,
	})

	after := m.corr.Counters()
	if after.WarnCount != before.WarnCount || after.ZapPain != before.ZapPain {
		m.post(taskStates, nil)
	}
}

func (m *Monitor) handleSetting(t task) {
	now := m.clock.Now()
	switch t.kind {
	case taskBeacon:
		b, _ := t.payload.(states.Beacon)
		m.tracker.SetBeacon(b)
	case taskPower:
		p, _ := t.payload.(states.Power)
		m.tracker.SetPower(p)
	case taskMovement:
		mv, _ := t.payload.(states.Movement)
		m.tracker.SetMovement(mv)
	case taskSound:
		s, _ := t.payload.(states.Sound)
		m.corr.SetSoundStatus(s)
	case taskMode:
		mode, _ := t.payload.(states.Mode)
		m.tracker.SetMode(mode, m.corr.Counters().WarnCount)
		m.post(taskCorrections, nil)
	case taskReceiverMode:
		r, _ := t.payload.(gnssfix.ReceiverMode)
		diagf("receiver reports mode %s", r)
		m.receiverActual = r
		if r != m.receiverWanted {
			m.receiverWanted = gnssfix.NoMode
		}
	case taskTurnOff:
		opsf("fence turned off")
		m.tracker.SetFenceStatus(states.FenceTurnedOff, now)
		m.post(taskCorrections, nil)
	default:
		opsf("unknown task %s", t.kind)
		return
	}
	m.post(taskStates, nil)
}
