package correction

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/collar.amc/internal/config"
	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/timeutil"
	"github.com/banshee-data/collar.amc/internal/zone"
)

// Config holds the warning tuning. Distances are decimeters, slopes are
// decimeters per trend window.
type Config struct {
	ToneInitHz       int
	ToneMaxHz        int
	ToneStepHz       int
	ToneStepInterval time.Duration
	MaxToneHold      time.Duration
	ZapCooldown      time.Duration
	PauseMinTime     time.Duration

	LastDistAddDM  int
	BadFixOffsetDM int
	ZapOffsetDM    int
	WarnFloorDM    int

	FencePauseDistDM  int
	TeachPauseDistDM  int
	TeachRetreatSlope int

	FenceToneIncSlope int
	FenceToneDecSlope int
	TeachToneIncSlope int
	TeachToneDecSlope int
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		ToneInitHz:        cfg.GetToneInitHz(),
		ToneMaxHz:         cfg.GetToneMaxHz(),
		ToneStepHz:        cfg.GetToneStepHz(),
		ToneStepInterval:  cfg.GetToneStepInterval(),
		MaxToneHold:       cfg.GetMaxToneHold(),
		ZapCooldown:       cfg.GetZapCooldown(),
		PauseMinTime:      cfg.GetPauseMinTime(),
		LastDistAddDM:     cfg.GetLastDistAddDM(),
		BadFixOffsetDM:    cfg.GetBadFixOffsetDM(),
		ZapOffsetDM:       cfg.GetZapOffsetDM(),
		WarnFloorDM:       cfg.GetWarnFloorDM(),
		FencePauseDistDM:  cfg.GetFencePauseDistDM(),
		TeachPauseDistDM:  cfg.GetTeachPauseDistDM(),
		TeachRetreatSlope: cfg.GetTeachRetreatSlope(),
		FenceToneIncSlope: cfg.GetFenceToneIncSlope(),
		FenceToneDecSlope: cfg.GetFenceToneDecSlope(),
		TeachToneIncSlope: cfg.GetTeachToneIncSlope(),
		TeachToneDecSlope: cfg.GetTeachToneDecSlope(),
	}
}

// Input is the per-cycle view of the rest of the engine.
type Input struct {
	Mode        states.Mode
	Zone        zone.Zone
	Fence       states.FenceStatus
	WarnFix     bool
	AcceptedFix bool
	Asleep      bool
	MeanDist    int16
	Slope       int16
}

// Counters are the persisted warning statistics.
type Counters struct {
	WarnCount   uint32 `json:"warn_count"`
	ZapCount    uint32 `json:"zap_count"`
	ZapCountDay uint32 `json:"zap_count_day"`
	ZapDay      string `json:"zap_day"`
	ZapPain     int    `json:"zap_pain"`
}

// CounterStore persists Counters. Saves are best effort.
type CounterStore interface {
	SaveCounters(Counters) error
}

// Engine is the correction state machine. It is driven from the calculation
// queue and is not safe for concurrent use.
type Engine struct {
	cfg   Config
	clock timeutil.Clock
	sink  events.Sink
	store CounterStore

	state        State
	reason       Reason
	episode      string
	toneHz       int
	lastWarnDist int
	pausedAt     time.Time
	lastStepAt   time.Time
	holdSince    time.Time
	zapping      bool
	zapAt        time.Time
	sound        states.Sound
	soundLost    bool

	counters Counters
}

// NewEngine returns an idle engine. store may be nil.
func NewEngine(cfg Config, clock timeutil.Clock, sink events.Sink, store CounterStore) *Engine {
	if sink == nil {
		sink = events.Discard
	}
	return &Engine{
		cfg:          cfg,
		clock:        clock,
		sink:         sink,
		store:        store,
		toneHz:       cfg.ToneInitHz,
		lastWarnDist: cfg.WarnFloorDM,
	}
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Status returns 0 when idle, 1 when paused and 2 while the warning sounds.
func (e *Engine) Status() int { return int(e.state) }

// Reason returns the last pause or stop reason, zero if none yet.
func (e *Engine) Reason() Reason { return e.reason }

// Episode returns the id of the current or last correction episode.
func (e *Engine) Episode() string { return e.episode }

// ToneHz returns the current warning frequency.
func (e *Engine) ToneHz() int { return e.toneHz }

// LastWarnDist returns the distance reference used by pause and resume.
func (e *Engine) LastWarnDist() int { return e.lastWarnDist }

// Zapping reports whether a pulse cooldown is running.
func (e *Engine) Zapping() bool { return e.zapping }

// ZapPain returns the number of pulses in the current episode.
func (e *Engine) ZapPain() int { return e.counters.ZapPain }

// Counters returns a copy of the counters.
func (e *Engine) Counters() Counters { return e.counters }

// RestoreCounters loads persisted counters, typically at boot.
func (e *Engine) RestoreCounters(c Counters) {
	e.counters = c
}

// SetSoundStatus records the buzzer state reported by the sound
// collaborator.
func (e *Engine) SetSoundStatus(s states.Sound) {
	e.sound = s
	if s == states.SoundOff && e.state == Active {
		e.soundLost = true
	}
}

// Sound returns the last reported buzzer state.
func (e *Engine) Sound() states.Sound { return e.sound }

// Process runs one correction cycle.
func (e *Engine) Process(in Input) {
	now := e.clock.Now()
	tracef("state=%s mode=%s zone=%s fence=%s mean=%d slope=%d last=%d tone=%d",
		e.state, in.Mode, in.Zone, in.Fence, in.MeanDist, in.Slope, e.lastWarnDist, e.toneHz)

	if e.state < Active && e.canStart(in, now) {
		e.start(in, now)
	}

	e.update(in, now)

	mean := int(in.MeanDist)
	if r, halted := haltReason(in); halted {
		e.pause(r, mean, now)
	}
	switch {
	case e.state == Active && in.Mode == states.ModeFence:
		if mean-e.lastWarnDist <= e.cfg.FencePauseDistDM {
			e.pause(ReasonNoDist, mean, now)
		}
	case e.state == Active && in.Mode == states.ModeTeach:
		if mean-e.lastWarnDist <= e.cfg.TeachPauseDistDM {
			e.pause(ReasonNoDist, mean, now)
		}
		if int(in.Slope) <= e.cfg.TeachRetreatSlope {
			e.pause(ReasonMoveBack, mean, now)
		}
	}

	if e.state < Active && in.Zone != zone.Warn {
		e.pause(ReasonInside, mean, now)
	}
}

// haltReason returns the reason a running warning must pause or stop this
// cycle regardless of distance.
func haltReason(in Input) (Reason, bool) {
	switch {
	case !in.Mode.Correcting() || in.Zone == zone.NoZone:
		return ReasonMode, true
	case in.Fence == states.FenceEscaped:
		return ReasonEscaped, true
	case !in.AcceptedFix:
		return ReasonBadFix, true
	}
	return 0, false
}

func (e *Engine) canStart(in Input, now time.Time) bool {
	switch {
	case !in.Mode.Correcting():
		return false
	case in.Zone != zone.Warn:
		return false
	case in.Fence != states.FenceNormal && in.Fence != states.FenceMaybeOut:
		return false
	case !in.WarnFix || in.Asleep:
		return false
	case e.zapping && now.Sub(e.zapAt) < e.cfg.ZapCooldown:
		return false
	case !e.pausedAt.IsZero() && now.Sub(e.pausedAt) <= e.cfg.PauseMinTime:
		return false
	case e.state == Paused && int(in.MeanDist) <= e.lastWarnDist:
		return false
	}
	return true
}

func (e *Engine) start(in Input, now time.Time) {
	resumed := e.state == Paused
	if !resumed {
		e.episode = uuid.NewString()
	}
	e.state = Active
	e.soundLost = false
	e.toneHz = e.cfg.ToneInitHz
	e.lastWarnDist = int(in.MeanDist)
	e.lastStepAt = now
	e.holdSince = now

	e.counters.WarnCount++
	e.persist()

	if resumed {
		diagf("correction resumed at %ddm (episode %s, warn %d)", in.MeanDist, e.episode, e.counters.WarnCount)
	} else {
		opsf("correction started at %ddm (episode %s, warn %d)", in.MeanDist, e.episode, e.counters.WarnCount)
	}
	e.sink.Publish(events.SetToneFrequency{Hz: uint16(e.toneHz)})
	e.sink.Publish(events.ToneOn{})
	e.sink.Publish(events.CorrectionStarted{
		Episode:   e.episode,
		Resumed:   resumed,
		MeanDist:  in.MeanDist,
		WarnCount: e.counters.WarnCount,
	})
}

func (e *Engine) update(in Input, now time.Time) {
	if e.zapping {
		if now.Sub(e.zapAt) < e.cfg.ZapCooldown {
			return
		}
		diagf("zap cooldown over")
		e.zapping = false
	}

	switch e.state {
	case Active:
		// A cycle that pauses or stops never steps the tone or pulses.
		if _, halted := haltReason(in); !halted {
			e.stepTone(in, now)
		}
	case Paused:
		if ref := int(in.MeanDist) + e.cfg.offset(e.reason); ref < e.lastWarnDist {
			e.lastWarnDist = ref
		}
	}
}

func (e *Engine) stepTone(in Input, now time.Time) {
	if now.Sub(e.lastStepAt) >= e.cfg.ToneStepInterval {
		e.lastStepAt = now
		inc, dec := e.cfg.FenceToneIncSlope, e.cfg.FenceToneDecSlope
		if in.Mode == states.ModeTeach {
			inc, dec = e.cfg.TeachToneIncSlope, e.cfg.TeachToneDecSlope
		}
		hz := e.toneHz
		switch slope := int(in.Slope); {
		case slope > inc:
			hz += e.cfg.ToneStepHz
		case slope < dec:
			hz -= e.cfg.ToneStepHz
		}
		hz = max(e.cfg.ToneInitHz, min(hz, e.cfg.ToneMaxHz))
		if hz != e.toneHz {
			e.toneHz = hz
			e.sink.Publish(events.SetToneFrequency{Hz: uint16(hz)})
		}
		if e.soundLost {
			e.soundLost = false
			e.sink.Publish(events.ToneOn{})
		}
	}

	if e.toneHz < e.cfg.ToneMaxHz {
		e.holdSince = now
		return
	}
	if now.Sub(e.holdSince) > e.cfg.MaxToneHold {
		e.zap(in, now)
	}
}

func (e *Engine) zap(in Input, now time.Time) {
	e.pause(ReasonZap, int(in.MeanDist), now)

	day := now.Format(time.DateOnly)
	if day != e.counters.ZapDay {
		e.counters.ZapDay = day
		e.counters.ZapCountDay = 0
	}
	e.counters.ZapCount++
	e.counters.ZapCountDay++
	e.counters.ZapPain++
	e.persist()

	e.zapping = true
	e.zapAt = now
	e.holdSince = now

	opsf("zap at %ddm (episode %s, pain %d, today %d)", in.MeanDist, e.episode, e.counters.ZapPain, e.counters.ZapCountDay)
	e.sink.Publish(events.ZapNow{Episode: e.episode})
	e.sink.Publish(events.Zapped{
		Episode: e.episode,
		Total:   e.counters.ZapCount,
		Today:   e.counters.ZapCountDay,
		Pain:    e.counters.ZapPain,
	})
}

// pause silences the warning. Stop reasons also end the episode. Calling it
// again in the same state only refreshes the distance reference.
func (e *Engine) pause(r Reason, mean int, now time.Time) {
	wasActive := e.state == Active
	wasStarted := e.state != Idle

	if off := e.cfg.offset(r); off > 0 {
		e.toneHz = e.cfg.ToneInitHz
		e.lastWarnDist = max(mean+off, e.cfg.WarnFloorDM)
	}
	e.pausedAt = now
	e.reason = r
	e.soundLost = false
	if wasActive {
		e.sink.Publish(events.ToneOff{})
	}

	if !r.IsStop() {
		if wasActive {
			e.state = Paused
			diagf("correction paused: %s at %ddm", r, mean)
			e.sink.Publish(events.CorrectionPaused{Episode: e.episode, Reason: r.String(), MeanDist: int16(mean)})
		}
		return
	}

	e.lastWarnDist = e.cfg.WarnFloorDM
	e.state = Idle
	if wasStarted {
		if e.counters.ZapPain != 0 {
			e.counters.ZapPain = 0
			e.persist()
		}
		diagf("correction ended: %s at %ddm", r, mean)
		e.sink.Publish(events.CorrectionEnded{Episode: e.episode, Reason: r.String()})
	}
}

func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveCounters(e.counters); err != nil {
		opsf("failed to persist counters: %v", err)
		e.sink.Publish(events.Error{ErrKind: events.ErrPersistFailed, Err: err})
	}
}
