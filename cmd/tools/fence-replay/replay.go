package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/collar.amc/internal/amc"
	"github.com/banshee-data/collar.amc/internal/correction"
	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/serialmux"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/timeutil"
	"github.com/banshee-data/collar.amc/internal/zone"
)

// Sample is the engine state after one positioned fix.
type Sample struct {
	Offset     time.Duration
	Distance   int16
	Zone       zone.Zone
	ToneHz     int
	Correction correction.State
}

// Result collects what a replay produced.
type Result struct {
	Samples []Sample
	Zaps    []time.Duration
	Kinds   map[string]int
	Final   amc.Snapshot
	Lines   int
	Skipped int
}

// Options configure a replay.
type Options struct {
	Config  amc.Config
	Pasture *fence.Pasture // Optional: pastures may also arrive as capture lines
	Mode    states.Mode    // Optional: applied after the pasture is installed
	Start   time.Time
	// Interval spaces fixes that carry no timestamp.
	Interval time.Duration
}

// memStore keeps pastures for the length of one replay.
type memStore struct {
	mu        sync.Mutex
	byVersion map[uint32]*fence.Pasture
}

func (s *memStore) SavePasture(_ context.Context, p *fence.Pasture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byVersion == nil {
		s.byVersion = make(map[uint32]*fence.Pasture)
	}
	s.byVersion[p.Version] = p
	return nil
}

func (s *memStore) LoadPasture(_ context.Context, version uint32) (*fence.Pasture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byVersion[version]
	if !ok {
		return nil, fmt.Errorf("pasture %d not in capture: %w", version, fence.ErrInvalidPasture)
	}
	return p, nil
}

// Replay feeds captured bridge lines through a Monitor on a mock clock.
// Fix timestamps drive the clock; ticks are posted every TickInterval in
// between so tiers expire and the tone steps as they would live.
func Replay(ctx context.Context, lines []string, opts Options) (*Result, error) {
	start := opts.Start
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	tick := opts.Config.TickInterval
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}

	clock := timeutil.NewMockClock(start)
	res := &Result{Kinds: make(map[string]int), Lines: len(lines)}
	sink := events.SinkFunc(func(e events.Event) {
		res.Kinds[e.Kind()]++
		switch ev := e.(type) {
		case events.Position:
			res.Samples = append(res.Samples, Sample{
				Offset:   clock.Since(start),
				Distance: ev.Distance,
				Zone:     ev.Zone,
			})
		case events.Zapped:
			res.Zaps = append(res.Zaps, clock.Since(start))
		}
	})

	store := &memStore{}
	m := amc.NewMonitor(amc.MonitorConfig{
		Config:   opts.Config,
		Clock:    clock,
		Sink:     sink,
		Pastures: store,
	})
	feed := &serialmux.Handler{Target: m, Pastures: store, Now: clock.Now}

	// run drains the queue and stamps the samples it produced with the
	// correction state that followed them.
	run := func() {
		n := len(res.Samples)
		m.RunPending(ctx)
		snap := m.Snapshot()
		for i := n; i < len(res.Samples); i++ {
			res.Samples[i].ToneHz = snap.ToneHz
			res.Samples[i].Correction = snap.Correction
		}
	}
	advance := func(to time.Time) {
		for step := clock.Now().Add(tick); !step.After(to); step = step.Add(tick) {
			clock.Set(step)
			m.PostTick()
			run()
		}
		if to.After(clock.Now()) {
			clock.Set(to)
		}
	}

	if opts.Pasture != nil {
		if err := store.SavePasture(ctx, opts.Pasture); err != nil {
			return nil, err
		}
		m.PostNewFence(opts.Pasture.Version)
		run()
	}
	if opts.Mode != states.ModeUnknown {
		m.PostMode(opts.Mode)
		run()
	}

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if serialmux.ClassifyPayload(line) == serialmux.EventTypeFix {
			if l, err := serialmux.ParseLine(line); err == nil {
				at := l.Fix.UpdatedAt
				if at.IsZero() {
					at = clock.Now().Add(interval)
				}
				advance(at)
			}
		}
		if err := feed.HandleEvent(ctx, line); err != nil {
			res.Skipped++
			continue
		}
		run()
	}

	res.Final = m.Snapshot()
	return res, nil
}
